package pool

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/hashpool/internal/setup"
	"github.com/bardlex/hashpool/internal/sv2/common"
	"github.com/bardlex/hashpool/internal/sv2/frame"
	"github.com/bardlex/hashpool/internal/sv2/mining"
	"github.com/bardlex/hashpool/pkg/log"
)

// VardiffTickInterval is how often an open connection's channels are
// checked for a pending retarget; Channel.EvaluateVardiff itself no-ops
// until its own window has elapsed, so this only needs to be frequent
// enough relative to that window.
const VardiffTickInterval = 10 * time.Second

// Server drives one negotiated mining connection's message loop against the
// shared Engine: it decodes incoming channel-open, submit-shares, and
// update-channel frames, dispatches them, and pushes replies and vardiff
// retargets back out through the connection's outbound queue. It also
// registers every channel it opens with a Registry, so internal/quotehub's
// notifier can later address the channel without knowing which connection
// serves it.
type Server struct {
	engine   *Engine
	registry *setup.Registry
	logger   *log.Logger

	nextExtranonce atomic.Uint32

	// OnBlockSolution, if set, is called whenever a share also solves the
	// current network target. The block-template watcher wires this to its
	// own job/template bookkeeping since the channel engine keeps no record
	// of a job's originating transaction set.
	OnBlockSolution func(channelID uint32, res SubmitResult)

	// OnShareResult, if set, is called for every submitted share (accepted
	// or rejected) once validated, ahead of OnBlockSolution. Wired to an
	// audit log; unlike OnBlockSolution it never blocks the caller waiting
	// for storage.
	OnShareResult func(channelID, sequenceNumber uint32, res SubmitResult)
}

// NewServer creates a Server sharing engine and registry across every
// connection a pool process accepts; exactly one Server should be wired as
// a Listener's OnMining handler per process.
func NewServer(engine *Engine, registry *setup.Registry, logger *log.Logger) *Server {
	return &Server{engine: engine, registry: registry, logger: logger}
}

// connState tracks the channel ids opened on one connection. The read loop
// (this goroutine) and the vardiff ticker goroutine both touch it, so
// access is mutex-guarded.
type connState struct {
	mu         sync.Mutex
	channelIDs []uint32
}

func (s *connState) add(id uint32) {
	s.mu.Lock()
	s.channelIDs = append(s.channelIDs, id)
	s.mu.Unlock()
}

func (s *connState) remove(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.channelIDs {
		if cur == id {
			s.channelIDs = append(s.channelIDs[:i], s.channelIDs[i+1:]...)
			return
		}
	}
}

func (s *connState) snapshot() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.channelIDs...)
}

// Handle is a setup.MiningHandler: it owns conn's decode/dispatch side
// until the connection closes or a fatal read error occurs, at which point
// every channel it opened is closed and unbound.
func (s *Server) Handle(ctx context.Context, conn *setup.Connection, setupMsg common.SetupConnection) {
	logger := s.logger.WithFields("connection_id", conn.ID)
	state := &connState{}
	defer func() {
		for _, id := range state.snapshot() {
			s.registry.Unbind(id)
			s.engine.Close(id)
		}
	}()

	go s.runVardiffTicker(ctx, conn, state, logger)

	for {
		f, err := conn.Transport.ReadFrame()
		if err != nil {
			logger.WithError(err).Info("mining connection read loop exiting")
			return
		}
		s.dispatch(conn, state, f, logger)
	}
}

func (s *Server) runVardiffTicker(ctx context.Context, conn *setup.Connection, state *connState, logger *log.Logger) {
	ticker := time.NewTicker(VardiffTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case now := <-ticker.C:
			for _, id := range state.snapshot() {
				s.evaluateVardiff(conn, id, now, logger)
			}
		}
	}
}

func (s *Server) evaluateVardiff(conn *setup.Connection, channelID uint32, now time.Time, logger *log.Logger) {
	ch, ok := s.engine.Channel(channelID)
	if !ok {
		return
	}
	res := ch.EvaluateVardiff(now)
	if !res.Adjusted {
		return
	}
	logger.Info("vardiff retarget", "channel_id", channelID, "old_hashrate", res.OldHashrate, "new_hashrate", res.NewHashrate)
	s.send(conn, mining.MsgSetTarget, mining.SetTarget{ChannelID: channelID, MaxTarget: ch.Target()}, logger)
}

func (s *Server) dispatch(conn *setup.Connection, state *connState, f frame.Frame, logger *log.Logger) {
	switch f.MsgType {
	case mining.MsgOpenStandardMiningChannel:
		s.handleOpenStandard(conn, state, f, logger)
	case mining.MsgOpenExtendedMiningChannel:
		s.handleOpenExtended(conn, state, f, logger)
	case mining.MsgSubmitSharesStandard:
		s.handleSubmitStandard(conn, f, logger)
	case mining.MsgSubmitSharesExtended:
		s.handleSubmitExtended(conn, f, logger)
	case mining.MsgUpdateChannel:
		s.handleUpdateChannel(conn, f, logger)
	default:
		logger.Info("unhandled mining frame", "msg_type", f.MsgType)
	}
}

func (s *Server) handleOpenStandard(conn *setup.Connection, state *connState, f frame.Frame, logger *log.Logger) {
	req, err := mining.DecodeOpenStandardMiningChannel(f.Payload)
	if err != nil {
		logger.WithError(err).Error("malformed open_standard_mining_channel")
		return
	}
	ch, resp, err := s.engine.OpenStandard(req, time.Now())
	if err != nil {
		s.sendOpenError(conn, req.RequestID, err, logger)
		return
	}
	state.add(ch.ID)
	s.registry.Bind(ch.ID, conn)
	logger.WithFields("channel_id", ch.ID, "user_identity", ch.UserIdentity).Info("opened standard channel")
	s.send(conn, mining.MsgOpenStandardMiningChannelSuccess, resp, logger)
}

func (s *Server) handleOpenExtended(conn *setup.Connection, state *connState, f frame.Frame, logger *log.Logger) {
	req, err := mining.DecodeOpenExtendedMiningChannel(f.Payload)
	if err != nil {
		logger.WithError(err).Error("malformed open_extended_mining_channel")
		return
	}
	ch, resp, err := s.engine.OpenExtended(req, s.allocateExtranoncePrefix(), time.Now())
	if err != nil {
		s.sendOpenError(conn, req.RequestID, err, logger)
		return
	}
	state.add(ch.ID)
	s.registry.Bind(ch.ID, conn)
	logger.WithFields("channel_id", ch.ID, "user_identity", ch.UserIdentity).Info("opened extended channel")
	s.send(conn, mining.MsgOpenExtendedMiningChannelSuccess, resp, logger)
}

// allocateExtranoncePrefix hands out a process-unique 4-byte prefix per
// extended channel, leaving the rest of the ExtraNonceSize space for the
// initiator's own extranonce2.
func (s *Server) allocateExtranoncePrefix() []byte {
	n := s.nextExtranonce.Add(1)
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, n)
	return prefix
}

func (s *Server) sendOpenError(conn *setup.Connection, requestID uint32, err error, logger *log.Logger) {
	logger.WithError(err).Error("failed to open channel")
	s.send(conn, mining.MsgOpenMiningChannelError, mining.OpenMiningChannelError{
		RequestID: requestID,
		ErrorCode: "internal-error",
	}, logger)
}

func (s *Server) handleSubmitStandard(conn *setup.Connection, f frame.Frame, logger *log.Logger) {
	msg, err := mining.DecodeSubmitSharesStandard(f.Payload)
	if err != nil {
		logger.WithError(err).Error("malformed submit_shares_standard")
		return
	}
	res, err := s.engine.SubmitStandard(msg)
	if err != nil {
		logger.WithError(err).Error("submit_shares_standard failed")
	}
	s.reportShareResult(conn, msg.ChannelID, msg.SequenceNumber, res, logger)
}

func (s *Server) handleSubmitExtended(conn *setup.Connection, f frame.Frame, logger *log.Logger) {
	msg, err := mining.DecodeSubmitSharesExtended(f.Payload)
	if err != nil {
		logger.WithError(err).Error("malformed submit_shares_extended")
		return
	}
	res, err := s.engine.SubmitExtended(msg)
	if err != nil {
		logger.WithError(err).Error("submit_shares_extended failed")
	}
	s.reportShareResult(conn, msg.ChannelID, msg.SequenceNumber, res, logger)
}

func (s *Server) reportShareResult(conn *setup.Connection, channelID, sequenceNumber uint32, res SubmitResult, logger *log.Logger) {
	if s.OnShareResult != nil {
		s.OnShareResult(channelID, sequenceNumber, res)
	}
	if res.Reject != RejectNone {
		s.send(conn, mining.MsgSubmitSharesError, mining.SubmitSharesError{
			ChannelID:      channelID,
			SequenceNumber: sequenceNumber,
			ErrorCode:      res.Reject.ErrorCode(),
		}, logger)
		return
	}
	if res.IsBlockSolution {
		logger.Info("block solution found", "channel_id", channelID, "header_hash", res.HeaderHash)
		if s.OnBlockSolution != nil {
			s.OnBlockSolution(channelID, res)
		}
	}
	if res.ShouldAck {
		s.send(conn, mining.MsgSubmitSharesSuccess, res.Ack, logger)
	}
}

func (s *Server) handleUpdateChannel(conn *setup.Connection, f frame.Frame, logger *log.Logger) {
	msg, err := mining.DecodeUpdateChannel(f.Payload)
	if err != nil {
		logger.WithError(err).Error("malformed update_channel")
		return
	}
	resp, err := s.engine.UpdateChannel(msg)
	if err != nil {
		logger.WithError(err).Error("update_channel failed")
		return
	}
	s.send(conn, mining.MsgSetTarget, resp, logger)
}

type encodable interface {
	Encode() ([]byte, error)
}

func (s *Server) send(conn *setup.Connection, msgType uint8, msg encodable, logger *log.Logger) {
	payload, err := msg.Encode()
	if err != nil {
		logger.WithError(err).Error("failed to encode outbound frame", "msg_type", msgType)
		return
	}
	if err := conn.Send(frame.Frame{MsgType: msgType, Payload: payload}); err != nil {
		logger.WithError(err).Error("failed to queue outbound frame", "msg_type", msgType)
	}
}
