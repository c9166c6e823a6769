package setup

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/bardlex/hashpool/internal/sv2/common"
	"github.com/bardlex/hashpool/internal/sv2/frame"
	"github.com/bardlex/hashpool/internal/sv2/noise"
	"github.com/bardlex/hashpool/pkg/log"
)

// HandshakeTimeout bounds the Noise handshake and the first
// SetupConnection exchange; a peer that stalls past this is dropped.
const HandshakeTimeout = 10 * time.Second

// SupportedVersion is the only SV2 protocol version this pool negotiates.
const SupportedVersion uint16 = 2

// MiningHandler takes over a negotiated mining connection — a direct miner
// or the translator's aggregating link — and runs until the connection
// closes. It owns the read side of conn.Transport directly.
type MiningHandler func(ctx context.Context, conn *Connection, setupMsg common.SetupConnection)

// MintQuoteHandler takes over a negotiated mint-quote connection. Unlike
// MiningHandler it receives the raw Transport, not a Connection: the mint
// exchange is a strict request/response ping-pong (internal/quotehub's
// Dispatcher owns both the write and the read side directly), so the
// buffered outbound queue Connection provides for fire-and-forget pushes
// would only add a second, conflicting writer.
type MintQuoteHandler func(ctx context.Context, id string, transport *noise.Transport, setupMsg common.SetupConnection)

// Listener accepts SV2 connections, performs the Noise responder
// handshake and SetupConnection negotiation, and dispatches to the
// handler matching the negotiated protocol.
type Listener struct {
	addr   string
	logger *log.Logger

	OnMining    MiningHandler
	OnMintQuote MintQuoteHandler

	nextID atomic.Uint64
}

// NewListener creates a listener bound to addr; callers set OnMining and/or
// OnMintQuote before calling Serve.
func NewListener(addr string, logger *log.Logger) *Listener {
	return &Listener{addr: addr, logger: logger}
}

// Serve accepts connections until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("setup: listen on %s: %w", l.addr, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("setup: accept: %w", err)
			}
		}
		id := fmt.Sprintf("conn-%d", l.nextID.Add(1))
		go l.handle(ctx, id, raw)
	}
}

func (l *Listener) handle(ctx context.Context, id string, raw net.Conn) {
	logger := l.logger.WithFields("connection_id", id, "remote_addr", raw.RemoteAddr().String())
	defer raw.Close()

	if err := raw.SetDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		logger.WithError(err).Error("failed to set handshake deadline")
		return
	}

	transport, err := noise.NewResponderTransport(raw, raw)
	if err != nil {
		logger.LogNoiseHandshake("responder", raw.RemoteAddr().String(), false, err)
		return
	}
	logger.LogNoiseHandshake("responder", raw.RemoteAddr().String(), true, nil)

	f, err := transport.ReadFrame()
	if err != nil {
		logger.WithError(err).Error("failed to read setup_connection")
		return
	}
	if f.MsgType != common.MsgSetupConnection {
		logger.Error("first frame was not setup_connection", "msg_type", f.MsgType)
		return
	}
	setupMsg, err := common.DecodeSetupConnection(f.Payload)
	if err != nil {
		logger.WithError(err).Error("malformed setup_connection")
		return
	}

	if setupMsg.MinVersion > SupportedVersion || setupMsg.MaxVersion < SupportedVersion {
		l.reject(transport, logger, common.ErrorProtocolVersionMismatch)
		return
	}

	var protocolName string
	switch setupMsg.Protocol {
	case common.ProtocolMining:
		protocolName = "mining"
	case common.ProtocolMintQuote:
		protocolName = "mint-quote"
	default:
		l.reject(transport, logger, common.ErrorUnsupportedProtocol)
		return
	}

	success := common.SetupConnectionSuccess{UsedVersion: SupportedVersion, Flags: 0}
	payload, err := success.Encode()
	if err != nil {
		logger.WithError(err).Error("failed to encode setup_connection_success")
		return
	}
	if err := transport.WriteFrame(frame.Frame{MsgType: common.MsgSetupConnectionSuccess, Payload: payload}); err != nil {
		logger.WithError(err).Error("failed to write setup_connection_success")
		return
	}

	if err := raw.SetDeadline(time.Time{}); err != nil {
		logger.WithError(err).Error("failed to clear handshake deadline")
		return
	}
	logger.Info("connection negotiated", "protocol", protocolName, "vendor", setupMsg.VendorName, "flags", setupMsg.Flags)

	switch setupMsg.Protocol {
	case common.ProtocolMining:
		if l.OnMining == nil {
			return
		}
		conn := newConnection(id, transport, logger)
		go conn.writeLoop(ctx)
		l.OnMining(ctx, conn, setupMsg)
		conn.Close()
	case common.ProtocolMintQuote:
		if l.OnMintQuote == nil {
			return
		}
		l.OnMintQuote(ctx, id, transport, setupMsg)
	}
}

func (l *Listener) reject(transport *noise.Transport, logger *log.Logger, code string) {
	msg := common.SetupConnectionError{Flags: 0, ErrorCode: code}
	payload, err := msg.Encode()
	if err != nil {
		logger.WithError(err).Error("failed to encode setup_connection_error")
		return
	}
	if err := transport.WriteFrame(frame.Frame{MsgType: common.MsgSetupConnectionError, Payload: payload}); err != nil {
		logger.WithError(err).Error("failed to write setup_connection_error")
	}
	logger.Error("rejected setup_connection", "error_code", code)
}
