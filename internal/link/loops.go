package link

import (
	"context"
	"errors"
	"net"
	"time"

	"droneops-ctl/internal/protocol"
	"droneops-ctl/internal/telemetry"
)

// readResponses matches datagrams on the command socket to outstanding
// priority commands first, then to the command in flight.
func (c *Channel) readResponses(ctx context.Context, conn *net.UDPConn) {
	defer c.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Warn("command socket read failed", "err", err)
			continue
		}
		raw := append([]byte(nil), buf[:n]...)

		p := c.nextWaiter()
		if p == nil {
			c.log.Debug("discarding unsolicited response", "resp", string(raw))
			continue
		}

		resp, err := protocol.ParseResponse(raw)
		switch {
		case err != nil:
			p.deliver(result{resp: resp, err: err})
		case resp.Kind == protocol.ResponseError:
			p.deliver(result{resp: resp, err: protocol.ErrRejected})
		default:
			p.deliver(result{resp: resp})
		}
		c.log.Debug("response received", "cmd", p.cmd.String(), "resp", resp.Raw, "latency", time.Since(p.cmd.IssuedAt))
	}
}

// ingest parses telemetry datagrams. A bad datagram is counted and skipped.
func (c *Channel) ingest(ctx context.Context, conn *net.UDPConn) {
	defer c.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Warn("telemetry socket read failed", "err", err)
			continue
		}
		now := time.Now()
		rec, err := telemetry.ParseAt(string(buf[:n]), now)
		if err != nil {
			total := c.malformed.Add(1)
			c.log.Debug("malformed telemetry", "err", err, "total", total)
			continue
		}

		c.flight.ApplyTelemetry(rec)

		c.mu.Lock()
		if !c.connected {
			c.mu.Unlock()
			return
		}
		c.lastTelemetry = now
		cameUp := !c.linkUp
		c.linkUp = true
		once, first := c.firstOnce, c.first
		c.mu.Unlock()

		once.Do(func() { close(first) })
		if cameUp {
			c.flight.SetLinkUp(true)
			c.events.Publish(Event{Up: true, At: now, Reason: "telemetry"})
			c.log.Info("link up")
		}
		c.telemetry.Publish(rec)
	}
}

// watchdog marks the link down once when telemetry stops for the grace window.
func (c *Channel) watchdog(ctx context.Context) {
	defer c.wg.Done()
	grace := c.cfg.HeartbeatGrace
	interval := grace / 10
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.mu.Lock()
			down := c.connected && c.linkUp && now.Sub(c.lastTelemetry) > grace
			if down {
				c.linkUp = false
			}
			silent := now.Sub(c.lastTelemetry)
			c.mu.Unlock()
			if !down {
				continue
			}
			c.failPending(protocol.ErrLinkDown)
			c.flight.SetLinkUp(false)
			c.events.Publish(Event{Up: false, At: now, Reason: "heartbeat lost"})
			c.log.Warn("link down", "silent_for", silent.Round(time.Millisecond), "grace", grace)
		}
	}
}
