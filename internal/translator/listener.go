package translator

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"sync/atomic"
	"time"

	"github.com/bardlex/hashpool/internal/pool/target"
	"github.com/bardlex/hashpool/internal/stratum"
	"github.com/bardlex/hashpool/pkg/log"
)

// ReadTimeout and WriteTimeout bound how long a downstream SV1 connection
// may go idle before a read stalls or a queued notification fails to
// flush; mirrors internal/setup.HandshakeTimeout's role on the SV2 side,
// scaled up since SV1 miners are not expected to poll as tightly.
const (
	ReadTimeout  = 5 * time.Minute
	WriteTimeout = 30 * time.Second
)

// VardiffTickInterval is how often a downstream session's share rate is
// checked against its vardiff window.
const VardiffTickInterval = 10 * time.Second

// Listener accepts plain-TCP SV1 connections and hands each one to a
// Translator as a stratum.Session, the SV1 mirror of
// internal/setup.Listener's role on the SV2 side.
type Listener struct {
	addr       string
	translator *Translator
	logger     *log.Logger

	nextID atomic.Uint64
}

func NewListener(addr string, t *Translator, logger *log.Logger) *Listener {
	return &Listener{addr: addr, translator: t, logger: logger}
}

// Serve accepts connections until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("translator: listen on %s: %w", l.addr, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("translator: accept: %w", err)
			}
		}
		id := fmt.Sprintf("sv1-%d", l.nextID.Add(1))
		go l.handle(ctx, id, conn)
	}
}

func (l *Listener) handle(ctx context.Context, id string, conn net.Conn) {
	logger := l.logger.WithFields("session_id", id, "remote_addr", conn.RemoteAddr().String())

	session := stratum.NewSession(id, conn, logger, ReadTimeout, WriteTimeout,
		l.translator.cfg.Vardiff, l.translator.cfg.InitialHashrate, time.Now())
	session.SetCurrentTarget(target.ToLE(target.HashRateToTarget(l.translator.cfg.InitialHashrate, l.translator.cfg.Vardiff.SharesPerMinute)))

	l.translator.AddSession(session)
	defer l.translator.RemoveSession(session)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.runVardiffTicker(sessionCtx, session, logger)

	if err := session.Start(ctx, l.translator); err != nil {
		logger.WithError(err).Info("downstream session closed")
	}
}

func (l *Listener) runVardiffTicker(ctx context.Context, session *stratum.Session, logger *log.Logger) {
	ticker := time.NewTicker(VardiffTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			res := session.EvaluateVardiff(now)
			if !res.Adjusted {
				continue
			}
			newTarget := target.ToLE(target.HashRateToTarget(res.NewHashrate, l.translator.cfg.Vardiff.SharesPerMinute))
			session.SetCurrentTarget(newTarget)
			diff := targetToDifficulty(newTarget)
			logger.Info("downstream vardiff retarget", "old_hashrate", res.OldHashrate, "new_hashrate", res.NewHashrate, "difficulty", diff)
			if err := session.SendNotification("mining.set_difficulty", []any{diff}); err != nil {
				logger.WithError(err).Error("failed to send set_difficulty")
			}
		}
	}
}

// targetToDifficulty converts a little-endian wire target into the classic
// Stratum difficulty unit (maximum target over current target) as a float,
// the form mining.set_difficulty expects.
func targetToDifficulty(targetLE [32]byte) float64 {
	cur := target.FromLE(targetLE)
	if cur.Sign() <= 0 {
		return 1
	}
	maxT := target.FromLE(target.MaximumTarget())
	ratio := new(big.Float).Quo(new(big.Float).SetInt(maxT), new(big.Float).SetInt(cur))
	diff, _ := ratio.Float64()
	if diff < 1 {
		return 1
	}
	return diff
}
