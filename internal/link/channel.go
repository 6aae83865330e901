// Package link owns the UDP transport to the vehicle: one socket for
// command/response traffic and one for the telemetry stream.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"droneops-ctl/internal/config"
	"droneops-ctl/internal/flight"
	"droneops-ctl/internal/notify"
	"droneops-ctl/internal/protocol"
	"droneops-ctl/internal/telemetry"
)

const (
	maxDatagram   = 2048
	probeInterval = time.Second
)

// Event is a link-up or link-down edge.
type Event struct {
	Up     bool      `json:"up"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

// Status summarises the channel for presentation.
type Status struct {
	Connected     bool      `json:"connected"`
	LinkUp        bool      `json:"link_up"`
	Malformed     uint64    `json:"malformed"`
	LastTelemetry time.Time `json:"last_telemetry,omitempty"`
	InFlight      string    `json:"in_flight,omitempty"`
	Priority      int       `json:"priority_pending"`
	Dropped       uint64    `json:"dropped"`
}

type result struct {
	resp protocol.Response
	err  error
}

type pending struct {
	cmd  protocol.Command
	done chan result
}

func (p *pending) deliver(r result) {
	select {
	case p.done <- r:
	default:
	}
}

// Channel is the vehicle link. It is safe for concurrent use.
type Channel struct {
	cfg            config.LinkSettings
	defaultTimeout time.Duration
	log            *slog.Logger
	flight         *flight.Store
	telemetry      *notify.Dispatcher[telemetry.Record]
	events         *notify.Dispatcher[Event]
	malformed      atomic.Uint64

	mu            sync.Mutex
	connected     bool
	linkUp        bool
	lastTelemetry time.Time
	inFlight      *pending
	priority      []*pending
	cmdConn       *net.UDPConn
	stateConn     *net.UDPConn
	vehicle       *net.UDPAddr
	cancel        context.CancelFunc
	firstOnce     *sync.Once
	first         chan struct{}
	wg            sync.WaitGroup
}

// New creates a disconnected channel. The channel owns the flight state store.
func New(cfg config.Settings, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		cfg:            cfg.Link,
		defaultTimeout: cfg.Commands.Default,
		log:            log.With("component", "link"),
		flight:         flight.NewStore(cfg.ObserverQueue),
		telemetry:      notify.NewDispatcher[telemetry.Record](cfg.ObserverQueue),
		events:         notify.NewDispatcher[Event](cfg.ObserverQueue),
	}
}

// Flight returns the flight state owned by this channel.
func (c *Channel) Flight() *flight.Store { return c.flight }

// Connect binds both sockets, starts the background loops and waits for the
// first valid telemetry sample. On failure nothing is left running.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	vehicle, err := net.ResolveUDPAddr("udp", net.JoinHostPort(c.cfg.VehicleIP, strconv.Itoa(c.cfg.CommandPort)))
	if err != nil {
		return fmt.Errorf("%w: resolve vehicle: %v", protocol.ErrNotConnected, err)
	}
	cmdAddr, err := net.ResolveUDPAddr("udp", c.cfg.CommandListen)
	if err != nil {
		return fmt.Errorf("%w: resolve command listen: %v", protocol.ErrNotConnected, err)
	}
	stateAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(c.cfg.StateListen, strconv.Itoa(c.cfg.StatePort)))
	if err != nil {
		return fmt.Errorf("%w: resolve state listen: %v", protocol.ErrNotConnected, err)
	}
	cmdConn, err := net.ListenUDP("udp", cmdAddr)
	if err != nil {
		return fmt.Errorf("%w: bind command socket: %v", protocol.ErrNotConnected, err)
	}
	stateConn, err := net.ListenUDP("udp", stateAddr)
	if err != nil {
		cmdConn.Close()
		return fmt.Errorf("%w: bind telemetry socket: %v", protocol.ErrNotConnected, err)
	}

	c.flight.Reset()
	sessionCtx, cancel := context.WithCancel(context.Background())
	first := make(chan struct{})

	c.mu.Lock()
	c.connected = true
	c.linkUp = false
	c.lastTelemetry = time.Time{}
	c.cmdConn = cmdConn
	c.stateConn = stateConn
	c.vehicle = vehicle
	c.cancel = cancel
	c.first = first
	c.firstOnce = &sync.Once{}
	c.wg.Add(3)
	c.mu.Unlock()

	go c.readResponses(sessionCtx, cmdConn)
	go c.ingest(sessionCtx, stateConn)
	go c.watchdog(sessionCtx)

	c.log.Info("link sockets bound", "command", cmdConn.LocalAddr().String(), "telemetry", stateConn.LocalAddr().String(), "vehicle", vehicle.String())

	timeout := time.NewTimer(c.cfg.ConnectionTimeout)
	defer timeout.Stop()
	probe := time.NewTicker(probeInterval)
	defer probe.Stop()
	c.wake(cmdConn, vehicle)
	for {
		select {
		case <-first:
			c.log.Info("link connected")
			return nil
		case <-probe.C:
			c.wake(cmdConn, vehicle)
		case <-timeout.C:
			_ = c.Disconnect()
			return fmt.Errorf("%w: no telemetry within %s", protocol.ErrNotConnected, c.cfg.ConnectionTimeout)
		case <-ctx.Done():
			_ = c.Disconnect()
			return fmt.Errorf("%w: %v", protocol.ErrNotConnected, ctx.Err())
		}
	}
}

// wake sends the SDK entry command without waiting; the vehicle only
// streams telemetry after it has seen one.
func (c *Channel) wake(conn *net.UDPConn, addr *net.UDPAddr) {
	if !c.cfg.WakeProbe {
		return
	}
	if _, err := conn.WriteToUDP([]byte(protocol.CmdSDK), addr); err != nil {
		c.log.Debug("wake probe failed", "err", err)
	}
}

// StateAddr returns the bound telemetry address, or nil when disconnected.
func (c *Channel) StateAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stateConn == nil {
		return nil
	}
	return c.stateConn.LocalAddr()
}

// CommandAddr returns the bound command socket address, or nil when disconnected.
func (c *Channel) CommandAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmdConn == nil {
		return nil
	}
	return c.cmdConn.LocalAddr()
}

// SendCommand transmits cmd and waits for its response. Only one command may
// await a response at a time; a concurrent call fails with ErrBusy without
// transmitting. The wait ends on response, timeout, ctx, a link-down edge or
// Disconnect.
func (c *Channel) SendCommand(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	p, conn, addr, err := c.claim(cmd)
	if err != nil {
		return protocol.Response{}, protocol.Wrap(cmd.Name, err)
	}
	if err := c.transmit(conn, addr, p.cmd); err != nil {
		c.release(p)
		return protocol.Response{}, protocol.Wrap(cmd.Name, err)
	}

	timer := time.NewTimer(p.cmd.Timeout)
	defer timer.Stop()
	select {
	case r := <-p.done:
		return r.resp, protocol.Wrap(cmd.Name, r.err)
	case <-timer.C:
		c.release(p)
		return protocol.Response{}, protocol.Wrap(cmd.Name, protocol.ErrTimeout)
	case <-ctx.Done():
		c.release(p)
		return protocol.Response{}, protocol.Wrap(cmd.Name, ctx.Err())
	}
}

// SendCommandAsync transmits cmd and returns once it is on the wire.
// A normal command keeps the in-flight slot until its response or timeout.
// A Priority command bypasses the slot entirely.
func (c *Channel) SendCommandAsync(cmd protocol.Command) error {
	if cmd.Priority {
		return protocol.Wrap(cmd.Name, c.sendPriority(cmd))
	}

	p, conn, addr, err := c.claim(cmd)
	if err != nil {
		return protocol.Wrap(cmd.Name, err)
	}
	if err := c.transmit(conn, addr, p.cmd); err != nil {
		c.release(p)
		return protocol.Wrap(cmd.Name, err)
	}
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(p.cmd.Timeout)
		defer timer.Stop()
		select {
		case r := <-p.done:
			if r.err != nil {
				c.log.Warn("async command failed", "cmd", p.cmd.String(), "err", r.err)
				return
			}
			c.log.Debug("async command acknowledged", "cmd", p.cmd.String(), "resp", r.resp.Raw)
		case <-timer.C:
			c.release(p)
			c.log.Warn("async command timed out", "cmd", p.cmd.String(), "timeout", p.cmd.Timeout)
		}
	}()
	return nil
}

// sendPriority transmits cmd ahead of the in-flight slot. A command still
// awaiting its reply is failed with ErrSuperseded, and replies are matched
// to outstanding priority commands first, oldest first.
func (c *Channel) sendPriority(cmd protocol.Command) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return protocol.ErrNotConnected
	}
	if cmd.Timeout <= 0 {
		cmd.Timeout = c.defaultTimeout
	}
	cmd.IssuedAt = time.Now()
	p := &pending{cmd: cmd, done: make(chan result, 1)}
	superseded := c.inFlight
	c.inFlight = nil
	c.priority = append(c.priority, p)
	conn, addr := c.cmdConn, c.vehicle
	c.wg.Add(1)
	c.mu.Unlock()

	if superseded != nil {
		c.log.Warn("pending command superseded", "cmd", superseded.cmd.String(), "by", cmd.String())
		superseded.deliver(result{err: protocol.ErrSuperseded})
	}
	if err := c.transmit(conn, addr, cmd); err != nil {
		c.dropPriority(p)
		c.wg.Done()
		return err
	}
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(cmd.Timeout)
		defer timer.Stop()
		select {
		case r := <-p.done:
			if r.err != nil {
				c.log.Warn("priority command failed", "cmd", cmd.String(), "err", r.err)
				return
			}
			c.log.Debug("priority command acknowledged", "cmd", cmd.String(), "resp", r.resp.Raw)
		case <-timer.C:
			c.dropPriority(p)
			c.log.Warn("priority command timed out", "cmd", cmd.String(), "timeout", cmd.Timeout)
		}
	}()
	return nil
}

func (c *Channel) dropPriority(p *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.priority {
		if q == p {
			c.priority = append(c.priority[:i], c.priority[i+1:]...)
			return
		}
	}
}

// nextWaiter pops the record owed the next reply: the oldest priority
// command, else the in-flight one.
func (c *Channel) nextWaiter() *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.priority) > 0 {
		p := c.priority[0]
		c.priority = c.priority[1:]
		return p
	}
	p := c.inFlight
	c.inFlight = nil
	return p
}

func (c *Channel) claim(cmd protocol.Command) (*pending, *net.UDPConn, *net.UDPAddr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, nil, nil, protocol.ErrNotConnected
	}
	if c.inFlight != nil {
		return nil, nil, nil, protocol.ErrBusy
	}
	if cmd.Timeout <= 0 {
		cmd.Timeout = c.defaultTimeout
	}
	cmd.IssuedAt = time.Now()
	p := &pending{cmd: cmd, done: make(chan result, 1)}
	c.inFlight = p
	return p, c.cmdConn, c.vehicle, nil
}

// release frees the slot if p still holds it.
func (c *Channel) release(p *pending) {
	c.mu.Lock()
	if c.inFlight == p {
		c.inFlight = nil
	}
	c.mu.Unlock()
}

func (c *Channel) transmit(conn *net.UDPConn, addr *net.UDPAddr, cmd protocol.Command) error {
	if _, err := conn.WriteToUDP([]byte(cmd.String()), addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return protocol.ErrLinkDown
		}
		return fmt.Errorf("send: %w", err)
	}
	c.log.Debug("command sent", "cmd", cmd.String(), "timeout", cmd.Timeout, "priority", cmd.Priority)
	return nil
}

// failPending releases every waiting command with err.
func (c *Channel) failPending(err error) {
	c.mu.Lock()
	waiting := c.priority
	c.priority = nil
	if c.inFlight != nil {
		waiting = append(waiting, c.inFlight)
		c.inFlight = nil
	}
	c.mu.Unlock()
	for _, p := range waiting {
		p.deliver(result{err: err})
	}
}

// Disconnect closes both sockets, releases any waiting command with
// ErrLinkDown and returns after every background loop has exited.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	wasUp := c.linkUp
	c.linkUp = false
	cancel := c.cancel
	cmdConn, stateConn := c.cmdConn, c.stateConn
	c.mu.Unlock()

	cancel()
	c.failPending(protocol.ErrLinkDown)
	err := errors.Join(cmdConn.Close(), stateConn.Close())
	c.wg.Wait()

	c.mu.Lock()
	c.cmdConn, c.stateConn = nil, nil
	c.mu.Unlock()

	c.flight.SetLinkUp(false)
	if wasUp {
		c.events.Publish(Event{Up: false, At: time.Now(), Reason: "disconnect"})
	}
	c.log.Info("link disconnected")
	return err
}

// Close disconnects and stops every observer. The channel cannot be reused.
func (c *Channel) Close() error {
	err := c.Disconnect()
	c.telemetry.Close()
	c.events.Close()
	c.flight.Close()
	return err
}

// SubscribeTelemetry registers fn for every valid telemetry record in arrival order.
func (c *Channel) SubscribeTelemetry(fn func(telemetry.Record)) (cancel func()) {
	return c.telemetry.Subscribe(fn)
}

// SubscribeLink registers fn for link-up and link-down edges.
func (c *Channel) SubscribeLink(fn func(Event)) (cancel func()) {
	return c.events.Subscribe(fn)
}

// MalformedCount returns how many telemetry datagrams failed to parse.
func (c *Channel) MalformedCount() uint64 { return c.malformed.Load() }

// Status returns a snapshot of the channel state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Connected:     c.connected,
		LinkUp:        c.linkUp,
		Malformed:     c.malformed.Load(),
		LastTelemetry: c.lastTelemetry,
		Priority:      len(c.priority),
		Dropped:       c.telemetry.Dropped(),
	}
	if c.inFlight != nil {
		st.InFlight = c.inFlight.cmd.String()
	}
	return st
}
