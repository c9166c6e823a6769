package pool

import (
	"math/big"
	"sync"
	"time"

	"github.com/bardlex/hashpool/internal/pool/target"
	"github.com/bardlex/hashpool/internal/pool/vardiff"
	"github.com/bardlex/hashpool/internal/sv2/mining"
)

// Kind distinguishes a standard channel (pool fully owns the job/nonce
// space) from an extended channel (the initiator supplies its own
// extranonce2, typically the translator aggregating many downstream
// miners).
type Kind int

const (
	KindStandard Kind = iota
	KindExtended
)

// Channel is one open mining channel: its job store, current target, and
// vardiff state. A Channel is owned by the connection task that opened it
// and must not be accessed concurrently from more than one goroutine,
// except via the thread-safe JobStore it embeds.
type Channel struct {
	ID   uint32
	Kind Kind

	UserIdentity          string
	ExtranoncePrefix      []byte
	LockingKey            [33]byte
	HasLockingKey         bool
	AcknowledgeEveryShare bool
	ShareBatchSize        uint32

	Jobs *JobStore

	mu                     sync.Mutex
	target                 [32]byte
	vardiff                *vardiff.State
	sharesPerMinute        float64
	minShareDifficultyBits uint32
	lastSequence           uint32
	seenShares             map[shareKey]struct{} // duplicate detection within the current job window

	acceptedSinceAck uint32
	sharesSumSinceAck uint64
	totalAccepted     uint32
	totalSharesSum    uint64
}

// Config bundles per-channel vardiff parameters; mirrors vardiff.Config.
type Config struct {
	SharesPerMinute       float64
	MinIndividualHashrate float64
	MaxHashrate           float64

	// MinimumShareDifficultyBits is the pool-wide ehash admission filter: a
	// share that meets the channel's (possibly weak) target is still
	// rejected if its hash has fewer than this many leading zero bits. Zero
	// disables the filter. This is independent of channel vardiff state —
	// see the pitfall in the design notes about never deriving a hash-rate
	// floor from this value.
	MinimumShareDifficultyBits uint32

	// ShareBatchSize bounds how many accepted shares a SubmitSharesSuccess
	// may coalesce when AcknowledgeEveryShare is set; zero means ack
	// immediately on every accepted share (no coalescing).
	ShareBatchSize uint32
}

// NewChannel creates a channel and seeds its initial target from the
// requested nominal hash rate.
func NewChannel(id uint32, kind Kind, userIdentity string, nominalHashrate float64, cfg Config, now time.Time) *Channel {
	t := target.HashRateToTarget(nominalHashrate, cfg.SharesPerMinute)
	c := &Channel{
		ID:                     id,
		Kind:                   kind,
		UserIdentity:           userIdentity,
		Jobs:                   NewJobStore(),
		target:                 target.ToLE(t),
		sharesPerMinute:        cfg.SharesPerMinute,
		minShareDifficultyBits: cfg.MinimumShareDifficultyBits,
		ShareBatchSize:         cfg.ShareBatchSize,
		seenShares:             make(map[shareKey]struct{}),
	}
	c.vardiff = vardiff.New(vardiff.Config{
		SharesPerMinute:       cfg.SharesPerMinute,
		MinIndividualHashrate: cfg.MinIndividualHashrate,
		MaxHashrate:           cfg.MaxHashrate,
	}, nominalHashrate, now)
	return c
}

// Target returns the channel's current little-endian wire target.
func (c *Channel) Target() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// RejectReason enumerates why SubmitShares{Standard,Extended} was rejected,
// mapped onto mining.Error* codes by the caller.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectUnknownJob
	RejectStaleJob
	RejectDuplicateShare
	RejectLowDifficulty
	RejectShareDifficultyTooLow
	RejectUnknownChannel
)

// ErrorCode maps a RejectReason onto the Str0255 code a SubmitSharesError
// carries, per the share-rejection code list.
func (r RejectReason) ErrorCode() string {
	switch r {
	case RejectUnknownChannel:
		return "unknown-channel"
	case RejectUnknownJob:
		return mining.ErrorInvalidJobID
	case RejectStaleJob:
		return mining.ErrorStaleShare
	case RejectDuplicateShare:
		return mining.ErrorDuplicateShare
	case RejectLowDifficulty:
		return mining.ErrorDifficultyTooLow
	case RejectShareDifficultyTooLow:
		return mining.ErrorShareDifficultyTooLow
	default:
		return ""
	}
}

// SubmitResult is the outcome of validating one share. JobID, Extranonce,
// Nonce, NTime and Version are only meaningful when IsBlockSolution is
// set: together with the job's CoinbasePrefix/CoinbaseSuffix they are what
// a caller needs to reconstruct the full block header for submission to
// Bitcoin Core.
type SubmitResult struct {
	Reject          RejectReason
	IsBlockSolution bool
	HeaderHash      [32]byte
	JobID           uint32
	Extranonce      []byte
	Nonce           uint32
	NTime           uint32
	Version         uint32

	// Ack and ShouldAck report whether an accepted share triggered a
	// SubmitSharesSuccess, per the channel's AcknowledgeEveryShare/
	// ShareBatchSize settings. Unset (ShouldAck false) for a rejected share.
	Ack       mining.SubmitSharesSuccess
	ShouldAck bool
}

// Submit validates a share against the channel's job store and current
// target. Accepted shares update the duplicate-detection window and feed
// the vardiff share counter; callers are responsible for quote dispatch and
// for calling EvaluateVardiff on their own schedule.
func (c *Channel) Submit(in ShareInput, networkTarget [32]byte) (SubmitResult, error) {
	job, ok := c.Jobs.Get(in.JobID)
	if !ok {
		return SubmitResult{Reject: RejectUnknownJob}, nil
	}
	if !job.PrevHashSet {
		return SubmitResult{Reject: RejectStaleJob}, nil
	}

	key := shareKey{
		jobID:      in.JobID,
		nonce:      in.Nonce,
		ntime:      in.NTime,
		version:    in.Version,
		extranonce: string(in.Extranonce),
	}
	c.mu.Lock()
	if _, dup := c.seenShares[key]; dup {
		c.mu.Unlock()
		return SubmitResult{Reject: RejectDuplicateShare}, nil
	}
	c.seenShares[key] = struct{}{}
	curTarget := c.target
	c.mu.Unlock()

	header, err := BuildHeader(job, in)
	if err != nil {
		return SubmitResult{}, err
	}
	hash := HeaderHash(header)

	if !target.HashMeetsTarget(hash, curTarget) {
		return SubmitResult{Reject: RejectLowDifficulty}, nil
	}

	if c.minShareDifficultyBits > 0 && uint32(target.LeadingZeroBits(hash)) < c.minShareDifficultyBits {
		return SubmitResult{Reject: RejectShareDifficultyTooLow}, nil
	}

	c.mu.Lock()
	c.vardiff.RecordShare()
	c.mu.Unlock()

	isBlock := target.HashMeetsTarget(hash, networkTarget)
	if !isBlock {
		return SubmitResult{HeaderHash: hash}, nil
	}
	return SubmitResult{
		IsBlockSolution: true,
		HeaderHash:      hash,
		JobID:           in.JobID,
		Extranonce:      in.Extranonce,
		Nonce:           in.Nonce,
		NTime:           in.NTime,
		Version:         in.Version,
	}, nil
}

// RecordAccepted updates the channel's cumulative accepted-share counters
// after Submit has reported acceptance, and reports whether a
// SubmitSharesSuccess is due now: never while AcknowledgeEveryShare is
// unset (the share is counted silently); otherwise immediately if
// ShareBatchSize is zero (batch size of one), or once the pending batch
// reaches ShareBatchSize shares. The ack's NewSharesSum is the number of accepted
// shares weighted by the channel's difficulty (maximum target over current
// target) at acceptance time, matching classic Stratum difficulty units.
func (c *Channel) RecordAccepted(sequenceNumber uint32) (mining.SubmitSharesSuccess, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	weight := shareDifficultyWeight(c.target)
	c.acceptedSinceAck++
	c.sharesSumSinceAck += weight
	c.totalAccepted++
	c.totalSharesSum += weight
	c.lastSequence = sequenceNumber

	if !c.AcknowledgeEveryShare {
		return mining.SubmitSharesSuccess{}, false
	}

	batch := c.ShareBatchSize
	if batch == 0 {
		batch = 1
	}
	if c.acceptedSinceAck < batch {
		return mining.SubmitSharesSuccess{}, false
	}

	ack := mining.SubmitSharesSuccess{
		ChannelID:               c.ID,
		LastSequenceNumber:      c.lastSequence,
		NewSubmitsAcceptedCount: c.acceptedSinceAck,
		NewSharesSum:            c.sharesSumSinceAck,
	}
	c.acceptedSinceAck = 0
	c.sharesSumSinceAck = 0
	return ack, true
}

// shareDifficultyWeight converts a little-endian wire target into the
// classic Stratum difficulty unit, maximum target over current target,
// clamped to fit a uint64.
func shareDifficultyWeight(targetLE [32]byte) uint64 {
	cur := target.FromLE(targetLE)
	if cur.Sign() <= 0 {
		return 1
	}
	maxT := target.FromLE(target.MaximumTarget())
	diff := new(big.Int).Quo(maxT, cur)
	if diff.Sign() <= 0 {
		return 1
	}
	if diff.IsUint64() {
		return diff.Uint64()
	}
	return ^uint64(0)
}

// EvaluateVardiff runs the retarget algorithm and, if it adjusted, recomputes
// and applies the channel's wire target to match the new hash rate. Returns
// the vardiff result so the caller can decide whether to emit a SetTarget
// message with the channel's (now updated) Target().
func (c *Channel) EvaluateVardiff(now time.Time) vardiff.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := c.vardiff.Evaluate(now)
	if res.Adjusted {
		t := target.HashRateToTarget(res.NewHashrate, c.sharesPerMinute)
		c.target = target.ToLE(t)
	}
	return res
}

// UpdateHashrate applies an initiator-reported nominal hash rate directly
// (UpdateChannel), bypassing the windowed vardiff algorithm, and returns the
// newly computed wire target.
func (c *Channel) UpdateHashrate(hashrate float64) [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vardiff.SetHashrate(hashrate)
	t := target.HashRateToTarget(hashrate, c.sharesPerMinute)
	c.target = target.ToLE(t)
	return c.target
}

// ResetDuplicateWindow clears the duplicate-share set, called whenever the
// job store is pruned for a new prev-hash.
func (c *Channel) ResetDuplicateWindow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seenShares = make(map[shareKey]struct{})
}

// shareKey identifies a share for duplicate detection by the full tuple a
// resubmission must match exactly: channel_id is implicit (one map per
// channel), but job_id, nonce, extranonce, ntime, and version all vary
// independently under version-rolling and extranonce2 rotation, so all five
// go in the key.
type shareKey struct {
	jobID      uint32
	nonce      uint32
	ntime      uint32
	version    uint32
	extranonce string
}

// NewExtendedMiningJobFrom converts a stored Job back into the wire message
// used to (re)distribute it, e.g. on channel open when a job is already
// active.
func NewExtendedMiningJobFrom(channelID uint32, j Job) mining.NewExtendedMiningJob {
	return mining.NewExtendedMiningJob{
		ChannelID:             channelID,
		JobID:                 j.JobID,
		FutureJob:             j.FutureJob,
		Version:               j.Version,
		VersionRollingAllowed: j.VersionRollingAllowed,
		MerklePath:            j.MerklePath,
		CoinbasePrefix:        j.CoinbasePrefix,
		CoinbaseSuffix:        j.CoinbaseSuffix,
	}
}
