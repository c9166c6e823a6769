// Package setup implements the common SV2 connection lifecycle every
// accepted TCP connection goes through before it becomes a role-specific
// mining or mint-quote connection: the Noise_NX handshake, the
// SetupConnection negotiation, and a registry that lets other components
// (the quote-extension notifier) address an open channel by id without
// knowing which physical connection currently serves it.
package setup

import (
	"context"

	"github.com/bardlex/hashpool/internal/sv2/frame"
	"github.com/bardlex/hashpool/internal/sv2/noise"
	"github.com/bardlex/hashpool/pkg/errors"
	"github.com/bardlex/hashpool/pkg/log"
)

// OutboundBufferSize bounds a connection's outbound frame queue. Jobs and
// quote notifications are dropped, not blocked on, once a connection falls
// this far behind: Send refuses the new frame, whereas the pool→mint
// dispatch queue evicts its oldest entry instead.
const OutboundBufferSize = 256

// Connection is one handshaken, setup-negotiated mining connection (a
// direct SV2 miner or the translator's single aggregating link). It owns
// the transport's write side through a buffered channel so pushing a job
// or a quote notification never blocks on a slow or stuck peer; the
// role-specific read loop (internal/pool's connection handler) owns the
// read side directly via Transport.
type Connection struct {
	ID        string
	Transport *noise.Transport
	logger    *log.Logger

	outbound chan frame.Frame
	done     chan struct{}
}

func newConnection(id string, t *noise.Transport, logger *log.Logger) *Connection {
	return &Connection{
		ID:        id,
		Transport: t,
		logger:    logger,
		outbound:  make(chan frame.Frame, OutboundBufferSize),
		done:      make(chan struct{}),
	}
}

// NewConnection wraps an already-negotiated transport in a Connection,
// for callers that drive their own handshake/SetupConnection exchange
// outside of Listener.handle — notably an initiator like the translator's
// upstream link, which wants the same buffered-outbound-queue shape a
// Listener-accepted connection gets. Callers must run WriteLoop in its own
// goroutine before sending.
func NewConnection(id string, t *noise.Transport, logger *log.Logger) *Connection {
	return newConnection(id, t, logger)
}

// WriteLoop drains the outbound queue onto the transport until ctx is
// cancelled or the connection is closed. Listener.handle starts this
// itself for accepted connections; callers using NewConnection directly
// must start it themselves.
func (c *Connection) WriteLoop(ctx context.Context) {
	c.writeLoop(ctx)
}

// Send enqueues a frame for the write loop. Returns an error without
// blocking if the connection is closed or its outbound buffer is full.
func (c *Connection) Send(f frame.Frame) error {
	select {
	case <-c.done:
		return errors.New(errors.ErrorTypeNetwork, "send", "connection closed").WithContext("connection_id", c.ID)
	default:
	}
	select {
	case c.outbound <- f:
		return nil
	case <-c.done:
		return errors.New(errors.ErrorTypeNetwork, "send", "connection closed").WithContext("connection_id", c.ID)
	default:
		return errors.New(errors.ErrorTypeNetwork, "send", "outbound buffer full").WithContext("connection_id", c.ID)
	}
}

// writeLoop drains the outbound queue onto the transport until the
// connection is closed or a write fails.
func (c *Connection) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case f := <-c.outbound:
			if err := c.Transport.WriteFrame(f); err != nil {
				c.logger.WithError(err).Error("failed to write frame")
				c.Close()
				return
			}
		}
	}
}

// Close marks the connection closed, unblocking writeLoop and any pending
// Send calls. Idempotent.
func (c *Connection) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Done returns a channel closed once the connection is shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}
