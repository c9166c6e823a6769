// Package mintclient implements the mint's side of the pool-mint quote
// extension connection: dial the pool, perform the Noise_NX initiator
// handshake, then serve MintQuoteRequest frames by invoking an external
// Cashu minting engine and replying with MintQuoteResponse or
// MintQuoteError.
//
// Grounded on internal/bitcoin/zmq.go's connect/listen/reconnect shape
// (a persistent outbound connection that is redialed on failure, with a
// handler invoked per inbound message) and internal/bitcoin/rpc.go's
// circuit-breaker-plus-retry wrapping of every remote call.
package mintclient

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/bardlex/hashpool/internal/sv2/frame"
	"github.com/bardlex/hashpool/internal/sv2/mintquote"
	"github.com/bardlex/hashpool/internal/sv2/noise"
	"github.com/bardlex/hashpool/pkg/errors"
	"github.com/bardlex/hashpool/pkg/log"
	"github.com/bardlex/hashpool/pkg/retry"
)

// Engine is the external Cashu minting engine the mint service wraps.
// QuoteHash asks it to open a quote for a HASH-denominated amount backed
// by headerHash, locked to lockingKey; this package treats it as opaque,
// the way the translator's wallet collaborator is treated as opaque on the
// redemption side.
type Engine interface {
	QuoteHash(ctx context.Context, amount uint64, headerHash [32]byte, lockingKey [33]byte) (quoteID string, status string, expiry uint32, err error)
}

// Client maintains the mint's outbound connection to a pool's mint-quote
// listener and services MintQuoteRequest frames against engine.
type Client struct {
	addr   string
	engine Engine
	logger *log.Logger
	retry  *retry.Config
}

// New creates a client that will dial addr (the pool's mint-quote
// listener) and serve requests with engine.
func New(addr string, engine Engine, logger *log.Logger) *Client {
	return &Client{addr: addr, engine: engine, logger: logger, retry: retry.NetworkConfig()}
}

// Run dials, handshakes, and serves until ctx is cancelled, redialing after
// a fixed pause of the retry config's BaseDelay whenever the connection
// drops. It only returns once ctx is done.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.connectAndServe(ctx); err != nil {
			c.logger.Error("mint connection to pool dropped", "addr", c.addr, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retry.BaseDelay):
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "dial_pool", "failed to dial pool mint-quote listener")
	}
	defer conn.Close()
	return c.serveOn(ctx, conn, conn)
}

// serveOn runs the handshake-then-serve loop over an already-established
// connection, split out from connectAndServe so it can be exercised
// directly against a net.Pipe() in tests without a real dial.
func (c *Client) serveOn(ctx context.Context, r io.Reader, w io.Writer) error {
	transport, err := noise.NewInitiatorTransport(r, w)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNoise, "handshake", "Noise handshake with pool failed")
	}
	c.logger.Info("connected to pool mint-quote listener", "addr", c.addr)

	for {
		f, err := transport.ReadFrame()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeNetwork, "read_frame", "failed to read frame from pool")
		}

		if f.MsgType != mintquote.MsgMintQuoteRequest {
			c.logger.Warn("ignoring unexpected message type from pool", "msg_type", f.MsgType)
			continue
		}

		reply := c.handleRequest(ctx, f.Payload)
		if err := transport.WriteFrame(reply); err != nil {
			return errors.Wrap(err, errors.ErrorTypeNetwork, "write_frame", "failed to write reply to pool")
		}
	}
}

func (c *Client) handleRequest(ctx context.Context, payload []byte) frame.Frame {
	req, err := mintquote.DecodeMintQuoteRequest(payload)
	if err != nil {
		return c.errorFrame(mintquote.ErrorInvalidLockingKey)
	}

	quoteID, status, expiry, err := c.engine.QuoteHash(ctx, req.Amount, req.HeaderHash, req.LockingKey)
	if err != nil {
		c.logger.Error("mint engine rejected quote request", "error", err)
		return c.errorFrame(mintquote.ErrorMintUnavailable)
	}

	resp := mintquote.MintQuoteResponse{QuoteID: quoteID, Status: status, Expiry: expiry}
	body, err := resp.Encode()
	if err != nil {
		return c.errorFrame(mintquote.ErrorMintUnavailable)
	}
	return frame.Frame{ExtensionType: frame.CoreExtensionType, MsgType: mintquote.MsgMintQuoteResponse, Payload: body}
}

func (c *Client) errorFrame(code string) frame.Frame {
	body, _ := mintquote.MintQuoteError{ErrorCode: code}.Encode()
	return frame.Frame{ExtensionType: frame.CoreExtensionType, MsgType: mintquote.MsgMintQuoteError, Payload: body}
}
