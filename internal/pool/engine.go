package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/hashpool/internal/sv2/mining"
	"github.com/bardlex/hashpool/pkg/errors"
)

// QuoteRequest is what the engine hands to a dispatcher (internal/quotehub)
// whenever an accepted share is eligible for an ecash quote: the channel
// that produced it, its sequence number, the locking key the channel
// registered at open time, the share's implied amount, and the header hash
// it solved against, per the pool-mint quote extension's ShareQuoteRequest.
type QuoteRequest struct {
	ChannelID      uint32
	SequenceNumber uint32
	LockingKey     [33]byte
	Amount         uint64
	HeaderHash     [32]byte
}

// AmountFunc computes the ecash amount a share is worth, typically the
// channel's current difficulty scaled by some per-pool unit; supplied by
// the caller so the engine itself stays agnostic of pricing policy.
type AmountFunc func(channelID uint32, target [32]byte) uint64

// Engine owns the set of open mining channels and the shared configuration
// (vardiff tuning, network target) every channel is created against. A pool
// process shares a single Engine across every accepted connection so that
// channel ids stay globally unique — the connection registry that routes
// MintQuoteNotification back to a channel's owning connection depends on
// that uniqueness.
type Engine struct {
	cfg           Config
	networkTarget atomic.Value // [32]byte

	mu       sync.RWMutex
	channels map[uint32]*Channel
	nextID   uint32

	AmountPerShare AmountFunc
	DispatchQuote  func(QuoteRequest)

	// OnChannelClosed, if set, is called whenever a channel is removed, so
	// a caller can drop any state it's cached for that channel id.
	OnChannelClosed func(channelID uint32)
}

// NewEngine creates an engine with the given per-channel vardiff defaults.
// The initial network target is all zeros, which only an all-zero hash
// meets, so no share counts as a block solution until the caller calls
// SetNetworkTarget with a live value from the template provider.
func NewEngine(cfg Config) *Engine {
	e := &Engine{cfg: cfg, channels: make(map[uint32]*Channel)}
	e.networkTarget.Store([32]byte{})
	return e
}

// SetNetworkTarget updates the target block-solution submissions are judged
// against, called whenever the template provider delivers a new block
// template.
func (e *Engine) SetNetworkTarget(t [32]byte) {
	e.networkTarget.Store(t)
}

func (e *Engine) networkTargetValue() [32]byte {
	return e.networkTarget.Load().([32]byte)
}

// OpenStandard allocates a new standard channel and returns the success
// message to send back to the initiator.
func (e *Engine) OpenStandard(req mining.OpenStandardMiningChannel, now time.Time) (*Channel, mining.OpenStandardMiningChannelSuccess, error) {
	id := atomic.AddUint32(&e.nextID, 1)
	ch := NewChannel(id, KindStandard, req.UserIdentity, req.NominalHashrate, e.cfg, now)
	ch.HasLockingKey = req.HasLockingKey
	ch.LockingKey = req.LockingKey
	ch.AcknowledgeEveryShare = req.AcknowledgeEveryShare

	e.mu.Lock()
	e.channels[id] = ch
	e.mu.Unlock()

	resp := mining.OpenStandardMiningChannelSuccess{
		RequestID:        req.RequestID,
		ChannelID:        id,
		Target:           ch.Target(),
		ExtranoncePrefix: []byte{},
		GroupChannelID:   0,
	}
	return ch, resp, nil
}

// OpenExtended allocates a new extended channel. extranoncePrefix is
// assigned by the caller (the pool's extranonce allocator) since it must be
// unique across every channel the pool currently has open.
func (e *Engine) OpenExtended(req mining.OpenExtendedMiningChannel, extranoncePrefix []byte, now time.Time) (*Channel, mining.OpenExtendedMiningChannelSuccess, error) {
	id := atomic.AddUint32(&e.nextID, 1)
	ch := NewChannel(id, KindExtended, req.UserIdentity, req.NominalHashrate, e.cfg, now)
	ch.ExtranoncePrefix = extranoncePrefix
	ch.HasLockingKey = req.HasLockingKey
	ch.LockingKey = req.LockingKey
	ch.AcknowledgeEveryShare = req.AcknowledgeEveryShare

	e.mu.Lock()
	e.channels[id] = ch
	e.mu.Unlock()

	extranonceSize := uint16(mining.ExtraNonceSize) - uint16(len(extranoncePrefix))
	if req.MinExtranonceSize > extranonceSize {
		extranonceSize = req.MinExtranonceSize
	}

	resp := mining.OpenExtendedMiningChannelSuccess{
		RequestID:        req.RequestID,
		ChannelID:        id,
		Target:           ch.Target(),
		ExtranoncePrefix: extranoncePrefix,
		ExtranonceSize:   extranonceSize,
	}
	return ch, resp, nil
}

// UpdateChannel applies an initiator-reported nominal hash rate change and
// returns the SetTarget reply to send back.
func (e *Engine) UpdateChannel(msg mining.UpdateChannel) (mining.SetTarget, error) {
	ch, ok := e.Channel(msg.ChannelID)
	if !ok {
		return mining.SetTarget{}, errors.New(errors.ErrorTypeShare, "update_channel", "unknown channel id").
			WithContext("channel_id", msg.ChannelID)
	}
	t := ch.UpdateHashrate(msg.NominalHashrate)
	return mining.SetTarget{ChannelID: ch.ID, MaxTarget: t}, nil
}

// Channel returns the open channel for id, if any.
func (e *Engine) Channel(id uint32) (*Channel, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ch, ok := e.channels[id]
	return ch, ok
}

// Close removes a channel, e.g. on CloseChannel or disconnect.
func (e *Engine) Close(id uint32) {
	e.mu.Lock()
	delete(e.channels, id)
	e.mu.Unlock()
	if e.OnChannelClosed != nil {
		e.OnChannelClosed(id)
	}
}

// DistributeJob stores a new job on every open channel and returns its
// NewExtendedMiningJob for the caller to broadcast.
func (e *Engine) DistributeJob(j Job) []mining.NewExtendedMiningJob {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]mining.NewExtendedMiningJob, 0, len(e.channels))
	for id, ch := range e.channels {
		ch.Jobs.Add(j)
		out = append(out, NewExtendedMiningJobFrom(id, j))
	}
	return out
}

// SetPrevHash activates jobID on every channel that knows it and resets
// each channel's duplicate-share window, since a new prev-hash starts a
// fresh round. Returns the per-channel SetNewPrevHash messages to
// broadcast, one for every channel that had jobID outstanding.
func (e *Engine) SetPrevHash(jobID uint32, prevHash [32]byte, minNTime, nbits uint32) []mining.SetNewPrevHash {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]mining.SetNewPrevHash, 0, len(e.channels))
	for id, ch := range e.channels {
		if ch.Jobs.SetPrevHash(jobID, prevHash, minNTime, nbits) {
			ch.Jobs.Prune(jobID)
			ch.ResetDuplicateWindow()
			out = append(out, mining.SetNewPrevHash{
				ChannelID: id,
				JobID:     jobID,
				PrevHash:  prevHash,
				MinNTime:  minNTime,
				NBits:     nbits,
			})
		}
	}
	return out
}

// SubmitStandard validates a SubmitSharesStandard message against its
// channel and, on acceptance, dispatches a quote request if the engine has
// a DispatchQuote hook and the channel registered a locking key.
func (e *Engine) SubmitStandard(msg mining.SubmitSharesStandard) (SubmitResult, error) {
	ch, ok := e.Channel(msg.ChannelID)
	if !ok {
		return SubmitResult{Reject: RejectUnknownChannel}, errors.New(errors.ErrorTypeShare, "submit_standard", "unknown channel id")
	}
	in := ShareInput{
		JobID:      msg.JobID,
		Nonce:      msg.Nonce,
		NTime:      msg.NTime,
		Version:    msg.Version,
		Extranonce: ch.ExtranoncePrefix,
	}
	res, err := ch.Submit(in, e.networkTargetValue())
	if err != nil {
		return res, err
	}
	e.maybeDispatchQuote(ch, msg.SequenceNumber, res)
	e.maybeAck(ch, msg.SequenceNumber, &res)
	return res, nil
}

// SubmitExtended validates a SubmitSharesExtended message, using the
// miner-supplied extranonce2 appended to the channel's prefix.
func (e *Engine) SubmitExtended(msg mining.SubmitSharesExtended) (SubmitResult, error) {
	ch, ok := e.Channel(msg.ChannelID)
	if !ok {
		return SubmitResult{Reject: RejectUnknownChannel}, errors.New(errors.ErrorTypeShare, "submit_extended", "unknown channel id")
	}
	extranonce := make([]byte, 0, len(ch.ExtranoncePrefix)+len(msg.Extranonce))
	extranonce = append(extranonce, ch.ExtranoncePrefix...)
	extranonce = append(extranonce, msg.Extranonce...)

	in := ShareInput{
		JobID:      msg.JobID,
		Nonce:      msg.Nonce,
		NTime:      msg.NTime,
		Version:    msg.Version,
		Extranonce: extranonce,
	}
	res, err := ch.Submit(in, e.networkTargetValue())
	if err != nil {
		return res, err
	}
	e.maybeDispatchQuote(ch, msg.SequenceNumber, res)
	e.maybeAck(ch, msg.SequenceNumber, &res)
	return res, nil
}

// maybeAck records acceptance against the channel's cumulative counters and,
// if the channel's AcknowledgeEveryShare/ShareBatchSize settings say a
// SubmitSharesSuccess is due now, fills it into res.
func (e *Engine) maybeAck(ch *Channel, sequenceNumber uint32, res *SubmitResult) {
	if res.Reject != RejectNone {
		return
	}
	res.Ack, res.ShouldAck = ch.RecordAccepted(sequenceNumber)
}

func (e *Engine) maybeDispatchQuote(ch *Channel, sequenceNumber uint32, res SubmitResult) {
	if res.Reject != RejectNone {
		return
	}
	if e.DispatchQuote == nil || !ch.HasLockingKey {
		return
	}
	amount := uint64(1)
	if e.AmountPerShare != nil {
		amount = e.AmountPerShare(ch.ID, ch.Target())
	}
	e.DispatchQuote(QuoteRequest{
		ChannelID:      ch.ID,
		SequenceNumber: sequenceNumber,
		LockingKey:     ch.LockingKey,
		Amount:         amount,
		HeaderHash:     res.HeaderHash,
	})
}
