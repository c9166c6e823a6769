// Package translator implements the SV1-to-SV2 proxy: it speaks classic
// Stratum to downstream miners and aggregates their work onto a single
// extended mining channel opened against a pool's internal/setup.Listener.
//
// The translator runs in aggregated mode only: every downstream SV1
// session shares the one upstream extended channel, matching the
// real-world SV2 translator proxy architecture rather than opening one
// upstream channel per downstream miner. A session is told apart from its
// siblings purely by a slice of the channel's granted extranonce space, so
// opening downstream connections costs nothing upstream beyond that
// slicing.
//
// Grounded on internal/stratum/session.go (downstream connection
// lifecycle, reused directly) and internal/mintclient/client.go (the
// dial-handshake-serve-redial shape, mirrored here for the upstream link
// instead of the mint-quote link).
package translator

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/hashpool/internal/pool"
	"github.com/bardlex/hashpool/internal/pool/target"
	"github.com/bardlex/hashpool/internal/pool/vardiff"
	"github.com/bardlex/hashpool/internal/stratum"
	"github.com/bardlex/hashpool/internal/sv2/mining"
	"github.com/bardlex/hashpool/pkg/log"
)

// Config bundles the translator's tunable parameters.
type Config struct {
	UpstreamAddr string
	ListenAddr   string
	UserIdentity string
	LockingKey   [33]byte
	HasLockingKey bool

	// SessionPrefixBytes is how many bytes of the channel's granted
	// extranonce space are reserved to tell downstream sessions apart; the
	// remainder is handed to each SV1 miner as its own extranonce2.
	SessionPrefixBytes uint16

	Vardiff         vardiff.Config
	InitialHashrate float64

	// SubmitTTL bounds how long a forwarded share waits for the upstream
	// SubmitSharesSuccess/Error it's correlated against before the
	// downstream request is failed outright, guarding against a connection
	// that drops mid-flight without ever answering.
	SubmitTTL time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.SessionPrefixBytes == 0 {
		out.SessionPrefixBytes = 2
	}
	if out.SubmitTTL <= 0 {
		out.SubmitTTL = 60 * time.Second
	}
	if out.InitialHashrate <= 0 {
		out.InitialHashrate = 1_000_000_000_000 // 1 TH/s, a conservative seed before any share data exists
	}
	if out.Vardiff.SharesPerMinute <= 0 {
		out.Vardiff.SharesPerMinute = 15
	}
	return out
}

// Wallet is the opaque collaborator that turns a settled quote into
// redeemable ecash for the miner that earned it; the translator treats it
// purely as a notification sink.
type Wallet interface {
	ReceiveQuote(channelID uint32, quoteID string, amount uint64)
	ReceiveQuoteFailure(channelID uint32, sequenceNumber uint32, reason string)
}

type pendingSubmit struct {
	session   *stratum.Session
	requestID any
	expiresAt time.Time
}

// Translator owns every downstream SV1 session and the single upstream
// aggregated channel they share.
type Translator struct {
	cfg    Config
	logger *log.Logger
	wallet Wallet

	upstream *Upstream

	sessionsMu sync.RWMutex
	sessions   map[string]*stratum.Session

	jobs *pool.JobStore

	nextSessionPrefix atomic.Uint32
	nextSequence      atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]pendingSubmit

	stateMu          sync.RWMutex
	channelID        uint32
	channelOpen      bool
	extranoncePrefix []byte // pool-assigned prefix for the shared channel
	extranonceSize   uint16 // total space granted beyond extranoncePrefix
	currentJobID     uint32
	currentMinNTime  uint32
}

// New creates a translator; Run must be called to connect upstream and
// start serving.
func New(cfg Config, wallet Wallet, logger *log.Logger) *Translator {
	cfg = cfg.withDefaults()
	t := &Translator{
		cfg:      cfg,
		logger:   logger,
		wallet:   wallet,
		sessions: make(map[string]*stratum.Session),
		jobs:     pool.NewJobStore(),
		pending:  make(map[uint32]pendingSubmit),
	}
	t.upstream = NewUpstream(cfg.UpstreamAddr, t, logger)
	return t
}

// Run connects upstream (redialing after a fixed pause on failure) and sweeps
// expired pending submits until ctx is cancelled.
func (t *Translator) Run(ctx context.Context) {
	go t.sweepPending(ctx)
	t.upstream.Run(ctx)
}

func (t *Translator) sweepPending(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.expirePending(now)
		}
	}
}

func (t *Translator) expirePending(now time.Time) {
	var expired []pendingSubmit
	t.pendingMu.Lock()
	for seq, p := range t.pending {
		if now.After(p.expiresAt) {
			expired = append(expired, p)
			delete(t.pending, seq)
		}
	}
	t.pendingMu.Unlock()

	for _, p := range expired {
		_ = p.session.SendError(p.requestID, stratum.ErrorOther, "upstream did not respond in time")
	}
}

// AddSession registers a newly accepted downstream connection and assigns
// it the next slice of the shared channel's extranonce space.
func (t *Translator) AddSession(s *stratum.Session) {
	prefix := t.nextSessionPrefix.Add(1)
	buf := make([]byte, t.cfg.SessionPrefixBytes)
	putUintBE(buf, uint64(prefix))
	s.SetExtraNonce1(hex.EncodeToString(buf))

	t.sessionsMu.Lock()
	t.sessions[s.ID()] = s
	t.sessionsMu.Unlock()
}

// RemoveSession drops a session once its connection closes.
func (t *Translator) RemoveSession(s *stratum.Session) {
	t.sessionsMu.Lock()
	delete(t.sessions, s.ID())
	t.sessionsMu.Unlock()
}

func putUintBE(dst []byte, v uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}

// onChannelOpen records the shared channel's identity once the upstream
// OpenExtendedMiningChannelSuccess arrives.
func (t *Translator) onChannelOpen(channelID uint32, extranoncePrefix []byte, extranonceSize uint16) {
	t.stateMu.Lock()
	t.channelID = channelID
	t.extranoncePrefix = extranoncePrefix
	t.extranonceSize = extranonceSize
	t.channelOpen = true
	t.stateMu.Unlock()
	t.logger.Info("upstream channel open", "channel_id", channelID, "extranonce_size", extranonceSize)
}

func (t *Translator) onChannelClosed() {
	t.stateMu.Lock()
	t.channelOpen = false
	t.stateMu.Unlock()
}

func (t *Translator) sessionExtranonce2Size() int {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	size := int(t.extranonceSize) - int(t.cfg.SessionPrefixBytes)
	if size < 0 {
		return 0
	}
	return size
}

func (t *Translator) sharedExtranoncePrefix() []byte {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return append([]byte(nil), t.extranoncePrefix...)
}

// onNewJob stores a future job distributed by the upstream channel; it is
// not yet eligible for mining.notify until onSetPrevHash activates it.
func (t *Translator) onNewJob(msg mining.NewExtendedMiningJob) {
	t.jobs.Add(pool.Job{
		JobID:                 msg.JobID,
		FutureJob:             msg.FutureJob,
		Version:               msg.Version,
		VersionRollingAllowed: msg.VersionRollingAllowed,
		MerklePath:            msg.MerklePath,
		CoinbasePrefix:        msg.CoinbasePrefix,
		CoinbaseSuffix:        msg.CoinbaseSuffix,
	})
}

// onSetPrevHash activates a previously distributed job and broadcasts it
// to every downstream session as mining.notify with clean_jobs set, since
// a new prev-hash always starts a fresh round.
func (t *Translator) onSetPrevHash(msg mining.SetNewPrevHash) {
	if !t.jobs.SetPrevHash(msg.JobID, msg.PrevHash, msg.MinNTime, msg.NBits) {
		t.logger.Warn("set_new_prev_hash for unknown job", "job_id", msg.JobID)
		return
	}
	t.jobs.Prune(msg.JobID)
	job, ok := t.jobs.Get(msg.JobID)
	if !ok {
		return
	}

	t.stateMu.Lock()
	t.currentJobID = msg.JobID
	t.currentMinNTime = msg.MinNTime
	t.stateMu.Unlock()

	notify := t.buildNotify(job, true)
	t.broadcastNotify(notify)
}

// buildNotify translates a pool.Job into mining.notify parameters. The
// coinbase split point includes the shared channel's own extranonce prefix
// so the SV1 miner's extranonce2 lands exactly where the upstream channel
// expects its own extranonce bytes to begin.
func (t *Translator) buildNotify(job pool.Job, cleanJobs bool) stratum.NotifyParams {
	prefix := append(append([]byte(nil), job.CoinbasePrefix...), t.sharedExtranoncePrefix()...)
	branch := make([]string, len(job.MerklePath))
	for i, h := range job.MerklePath {
		branch[i] = hex.EncodeToString(h[:])
	}
	return stratum.NotifyParams{
		JobID:        fmt.Sprintf("%d", job.JobID),
		PrevHash:     hex.EncodeToString(job.PrevHash[:]),
		Coinb1:       hex.EncodeToString(prefix),
		Coinb2:       hex.EncodeToString(job.CoinbaseSuffix),
		MerkleBranch: branch,
		Version:      fmt.Sprintf("%08x", job.Version),
		NBits:        fmt.Sprintf("%08x", job.NBits),
		NTime:        fmt.Sprintf("%08x", job.MinNTime),
		CleanJobs:    cleanJobs,
	}
}

func (t *Translator) broadcastNotify(notify stratum.NotifyParams) {
	params := []any{
		notify.JobID, notify.PrevHash, notify.Coinb1, notify.Coinb2,
		notify.MerkleBranch, notify.Version, notify.NBits, notify.NTime, notify.CleanJobs,
	}
	t.sessionsMu.RLock()
	defer t.sessionsMu.RUnlock()
	for _, s := range t.sessions {
		if !s.IsSubscribed() {
			continue
		}
		if err := s.SendNotification("mining.notify", params); err != nil {
			t.logger.WithError(err).Error("failed to notify session", "session_id", s.ID())
		}
	}
}

// onSubmitSuccess resolves a pending share as accepted, acking the
// downstream SV1 request.
func (t *Translator) onSubmitSuccess(msg mining.SubmitSharesSuccess) {
	t.resolvePending(msg.LastSequenceNumber, func(p pendingSubmit) {
		if err := p.session.SendResponse(p.requestID, true); err != nil {
			t.logger.WithError(err).Error("failed to ack submit", "session_id", p.session.ID())
		}
		p.session.RecordShare()
	})
}

// onSubmitError resolves a pending share as rejected, mapping the SV2
// rejection code onto the SV1 error the downstream miner expects.
func (t *Translator) onSubmitError(msg mining.SubmitSharesError) {
	t.resolvePending(msg.SequenceNumber, func(p pendingSubmit) {
		sv1Err := stratum.ShareRejectionError(msg.ErrorCode)
		if err := p.session.SendError(p.requestID, sv1Err.Code, sv1Err.Message); err != nil {
			t.logger.WithError(err).Error("failed to reject submit", "session_id", p.session.ID())
		}
	})
}

func (t *Translator) resolvePending(sequenceNumber uint32, fn func(pendingSubmit)) {
	t.pendingMu.Lock()
	p, ok := t.pending[sequenceNumber]
	if ok {
		delete(t.pending, sequenceNumber)
	}
	t.pendingMu.Unlock()
	if !ok {
		return
	}
	fn(p)
}

func (t *Translator) onQuoteNotification(msg mining.MintQuoteNotification) {
	if t.wallet != nil {
		t.wallet.ReceiveQuote(msg.ChannelID, msg.QuoteID, msg.Amount)
	}
}

func (t *Translator) onQuoteFailure(msg mining.MintQuoteFailure) {
	if t.wallet != nil {
		t.wallet.ReceiveQuoteFailure(msg.ChannelID, msg.SequenceNumber, msg.Reason)
	}
}

// HandleMessage implements stratum.MessageHandler.
func (t *Translator) HandleMessage(ctx context.Context, session *stratum.Session, msg *stratum.Message) error {
	switch msg.Method {
	case "mining.subscribe":
		return t.handleSubscribe(session, msg)
	case "mining.authorize":
		return t.handleAuthorize(session, msg)
	case "mining.submit":
		return t.handleSubmit(session, msg)
	case "mining.configure":
		return t.handleConfigure(session, msg)
	default:
		return session.SendError(msg.ID, stratum.ErrorMethodNotFound, "method not found")
	}
}

func (t *Translator) handleSubscribe(session *stratum.Session, msg *stratum.Message) error {
	if _, err := stratum.ParseSubscribeRequest(msg.Params); err != nil {
		return session.SendError(msg.ID, stratum.ErrorInvalidParams, err.Error())
	}
	session.SetSubscribed(true)
	extranonce2Size := t.sessionExtranonce2Size()
	session.SetExtraNonce2Size(extranonce2Size)

	resp := stratum.SubscribeResponse{
		Subscriptions:   [][]string{{"mining.notify", session.ID()}},
		ExtraNonce1:     session.ExtraNonce1(),
		ExtraNonce2Size: extranonce2Size,
	}
	if err := session.SendResponse(msg.ID, resp); err != nil {
		return err
	}

	t.stateMu.RLock()
	jobID, open := t.currentJobID, t.channelOpen
	t.stateMu.RUnlock()
	if open {
		if job, ok := t.jobs.Get(jobID); ok && job.PrevHashSet {
			return session.SendNotification("mining.notify", notifyParamsToSlice(t.buildNotify(job, true)))
		}
	}
	return nil
}

func notifyParamsToSlice(n stratum.NotifyParams) []any {
	return []any{n.JobID, n.PrevHash, n.Coinb1, n.Coinb2, n.MerkleBranch, n.Version, n.NBits, n.NTime, n.CleanJobs}
}

func (t *Translator) handleAuthorize(session *stratum.Session, msg *stratum.Message) error {
	req, err := stratum.ParseAuthorizeRequest(msg.Params)
	if err != nil {
		return session.SendError(msg.ID, stratum.ErrorInvalidParams, err.Error())
	}
	session.SetAuthorized(true)
	session.SetUsername(req.Username)
	session.AuthorizeWorker(req.Username)
	return session.SendResponse(msg.ID, true)
}

func (t *Translator) handleConfigure(session *stratum.Session, msg *stratum.Message) error {
	req, err := stratum.ParseConfigureRequest(msg.Params)
	if err != nil {
		return session.SendError(msg.ID, stratum.ErrorInvalidParams, err.Error())
	}
	resp := stratum.ConfigureResponse{MinimumDifficulty: req.HasMinimumDiff}
	return session.SendResponse(msg.ID, resp)
}

func (t *Translator) handleSubmit(session *stratum.Session, msg *stratum.Message) error {
	if !session.IsSubscribed() {
		return session.SendError(msg.ID, stratum.ErrorNotSubscribed, "not subscribed")
	}
	if !session.IsAuthorized() {
		return session.SendError(msg.ID, stratum.ErrorUnauthorized, "not authorized")
	}

	t.stateMu.RLock()
	open := t.channelOpen
	t.stateMu.RUnlock()
	if !open {
		return session.SendError(msg.ID, stratum.ErrorOther, "upstream unavailable")
	}

	req, err := stratum.ParseSubmitRequest(msg.Params)
	if err != nil {
		return session.SendError(msg.ID, stratum.ErrorInvalidParams, err.Error())
	}
	if !session.IsWorkerAuthorized(req.Username) {
		return session.SendError(msg.ID, stratum.ErrorUnauthorized, "unauthorized worker")
	}

	var jobID uint32
	if _, err := fmt.Sscanf(req.JobID, "%d", &jobID); err != nil {
		return session.SendError(msg.ID, stratum.ErrorJobNotFound, "malformed job id")
	}
	job, ok := t.jobs.Get(jobID)
	if !ok || !job.PrevHashSet {
		return session.SendError(msg.ID, stratum.ErrorJobNotFound, "job not found")
	}

	extranonce2, err := hex.DecodeString(req.ExtraNonce2)
	if err != nil {
		return session.SendError(msg.ID, stratum.ErrorInvalidParams, "malformed extranonce2")
	}
	sessionPrefix, err := hex.DecodeString(session.ExtraNonce1())
	if err != nil {
		return session.SendError(msg.ID, stratum.ErrorInvalidParams, "malformed session state")
	}

	var nTime, nonce, version uint32
	if _, err := fmt.Sscanf(req.NTime, "%x", &nTime); err != nil {
		return session.SendError(msg.ID, stratum.ErrorInvalidParams, "malformed ntime")
	}
	if _, err := fmt.Sscanf(req.Nonce, "%x", &nonce); err != nil {
		return session.SendError(msg.ID, stratum.ErrorInvalidParams, "malformed nonce")
	}
	version = job.Version

	extranonce := append(append([]byte(nil), sessionPrefix...), extranonce2...)
	in := pool.ShareInput{JobID: jobID, Nonce: nonce, NTime: nTime, Version: version, Extranonce: append(append([]byte(nil), t.sharedExtranoncePrefix()...), extranonce...)}

	header, err := pool.BuildHeader(job, in)
	if err != nil {
		return session.SendError(msg.ID, stratum.ErrorOther, "failed to reconstruct header")
	}
	hash := pool.HeaderHash(header)
	if !target.HashMeetsTarget(hash, session.CurrentTarget()) {
		return session.SendError(msg.ID, stratum.ErrorLowDifficulty, "low difficulty share")
	}

	seq := t.nextSequence.Add(1)
	t.pendingMu.Lock()
	t.pending[seq] = pendingSubmit{session: session, requestID: msg.ID, expiresAt: time.Now().Add(t.cfg.SubmitTTL)}
	t.pendingMu.Unlock()

	t.stateMu.RLock()
	channelID := t.channelID
	t.stateMu.RUnlock()

	err = t.upstream.Send(mining.MsgSubmitSharesExtended, mining.SubmitSharesExtended{
		ChannelID:      channelID,
		SequenceNumber: seq,
		JobID:          jobID,
		Nonce:          nonce,
		NTime:          nTime,
		Version:        version,
		Extranonce:     extranonce,
	})
	if err != nil {
		t.pendingMu.Lock()
		delete(t.pending, seq)
		t.pendingMu.Unlock()
		return session.SendError(msg.ID, stratum.ErrorOther, "upstream unavailable")
	}
	return nil
}
