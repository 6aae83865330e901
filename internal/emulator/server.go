package emulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

// Options configures a Server.
type Options struct {
	// Listen is the command socket address, e.g. "0.0.0.0:8889".
	Listen string
	// StateTarget receives telemetry. When empty, telemetry goes to the
	// sender of the SDK command on StatePort.
	StateTarget string
	StatePort   int
	Interval    time.Duration
	Model       string
	Battery     int
	Logger      *slog.Logger
}

// Server is an emulated vehicle.
type Server struct {
	opts Options
	log  *slog.Logger

	mu            sync.Mutex
	v             *vehicle
	conn          *net.UDPConn
	target        *net.UDPAddr
	silent        bool
	dropResponses bool
	delay         time.Duration
	reject        map[string]bool
	ignore        map[string]bool
	received      []string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an unstarted emulator.
func New(opts Options) *Server {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.Battery <= 0 {
		opts.Battery = 100
	}
	if opts.StatePort == 0 {
		opts.StatePort = 8890
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		log:    opts.Logger.With("component", "emulator"),
		v:      newVehicle(opts.Model, opts.Battery),
		reject: make(map[string]bool),
		ignore: make(map[string]bool),
	}
}

// Start binds the command socket and begins serving.
func (s *Server) Start() error {
	addr, err := net.ResolveUDPAddr("udp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("resolve listen: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	var target *net.UDPAddr
	if s.opts.StateTarget != "" {
		if target, err = net.ResolveUDPAddr("udp", s.opts.StateTarget); err != nil {
			conn.Close()
			return fmt.Errorf("resolve state target: %w", err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(2)
	go s.serve(ctx, conn, target)
	go s.stream(ctx, conn)
	s.log.Info("emulator listening", "addr", conn.LocalAddr().String())
	return nil
}

// Run starts the emulator and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}

// Addr returns the bound command address.
func (s *Server) Addr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Port returns the bound command port.
func (s *Server) Port() int {
	if a := s.Addr(); a != nil {
		return a.Port
	}
	return 0
}

// Close stops the emulator and waits for its goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	conn, cancel := s.conn, s.cancel
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	cancel()
	err := conn.Close()
	s.wg.Wait()
	return err
}

func (s *Server) serve(ctx context.Context, conn *net.UDPConn, fixed *net.UDPAddr) {
	defer s.wg.Done()
	buf := make([]byte, 1024)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		cmd := string(buf[:n])

		s.mu.Lock()
		s.received = append(s.received, cmd)
		if s.target == nil && firstWord(cmd) == "command" {
			if fixed != nil {
				s.target = fixed
			} else {
				s.target = &net.UDPAddr{IP: from.IP, Port: s.opts.StatePort}
			}
		}
		reply := s.v.handle(cmd)
		if s.reject[firstWord(cmd)] {
			reply = "error"
		}
		drop, delay := s.dropResponses || s.ignore[firstWord(cmd)], s.delay
		s.mu.Unlock()

		s.log.Debug("emulator command", "cmd", cmd, "reply", reply)
		if drop {
			continue
		}
		if delay > 0 {
			s.wg.Add(1)
			go func(to *net.UDPAddr, msg string) {
				defer s.wg.Done()
				select {
				case <-time.After(delay):
					_, _ = conn.WriteToUDP([]byte(msg), to)
				case <-ctx.Done():
				}
			}(from, reply)
			continue
		}
		_, _ = conn.WriteToUDP([]byte(reply), from)
	}
}

func (s *Server) stream(ctx context.Context, conn *net.UDPConn) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			s.v.advance(now.Sub(last))
			last = now
			target, silent := s.target, s.silent
			line := s.v.line()
			s.mu.Unlock()
			if target == nil || silent {
				continue
			}
			_, _ = conn.WriteToUDP([]byte(line), target)
		}
	}
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\r' || r == '\n' {
			return s[:i]
		}
	}
	return s
}

// SetSilent stops or resumes the telemetry stream.
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	s.silent = silent
	s.mu.Unlock()
}

// SetDropResponses makes the emulator swallow every command reply.
func (s *Server) SetDropResponses(drop bool) {
	s.mu.Lock()
	s.dropResponses = drop
	s.mu.Unlock()
}

// SetResponseDelay delays every reply by d.
func (s *Server) SetResponseDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Reject makes the named command answer "error".
func (s *Server) Reject(name string) {
	s.mu.Lock()
	s.reject[name] = true
	s.mu.Unlock()
}

// Ignore makes the emulator swallow replies to the named command only.
func (s *Server) Ignore(name string) {
	s.mu.Lock()
	s.ignore[name] = true
	s.mu.Unlock()
}

// SetBattery overrides the simulated battery level.
func (s *Server) SetBattery(pct int) {
	s.mu.Lock()
	s.v.battery = float64(pct)
	s.mu.Unlock()
}

// SetHeight overrides the simulated altitude.
func (s *Server) SetHeight(cm int) {
	s.mu.Lock()
	s.v.heightCM = cm
	s.mu.Unlock()
}

// Flying reports whether the simulated vehicle is airborne.
func (s *Server) Flying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.flying
}

// Inject sends raw as a telemetry datagram, e.g. to test malformed input.
func (s *Server) Inject(raw string) error {
	s.mu.Lock()
	conn, target := s.conn, s.target
	s.mu.Unlock()
	if conn == nil || target == nil {
		return errors.New("emulator: no telemetry target yet")
	}
	_, err := conn.WriteToUDP([]byte(raw), target)
	return err
}

// Received returns every command datagram seen so far.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Count returns how many received datagrams equal cmd.
func (s *Server) Count(cmd string) int {
	n := 0
	for _, r := range s.Received() {
		if r == cmd {
			n++
		}
	}
	return n
}

// StateTarget returns where telemetry is being sent.
func (s *Server) StateTarget() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return ""
	}
	return net.JoinHostPort(s.target.IP.String(), strconv.Itoa(s.target.Port))
}
