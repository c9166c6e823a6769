// Package mining implements the SV2 mining subprotocol messages: channel
// lifecycle (Open*MiningChannel, UpdateChannel), job distribution
// (NewExtendedMiningJob, SetNewPrevHash, SetTarget), and share submission
// (SubmitShares{Standard,Extended}{,Success,Error}).
//
// Grounded on Distortions81-M45-goPool's stratum_v2_codec.go, which
// implements the SubmitShares* wire layouts this package generalizes to the
// rest of the mining message set, and sv2_conn.go's per-channel dispatch.
package mining

import (
	"math"

	"github.com/bardlex/hashpool/internal/sv2/codec"
)

// Mining subprotocol message type bytes.
const (
	MsgOpenStandardMiningChannel        uint8 = 0x10
	MsgOpenStandardMiningChannelSuccess uint8 = 0x11
	MsgOpenMiningChannelError           uint8 = 0x12
	MsgOpenExtendedMiningChannel        uint8 = 0x13
	MsgOpenExtendedMiningChannelSuccess uint8 = 0x14
	MsgCloseChannel                     uint8 = 0x18
	MsgSetExtranoncePrefix              uint8 = 0x19
	MsgSubmitSharesStandard             uint8 = 0x1a
	MsgSubmitSharesExtended             uint8 = 0x1b
	MsgSubmitSharesSuccess              uint8 = 0x1c
	MsgSubmitSharesError                uint8 = 0x1d
	MsgUpdateChannel                    uint8 = 0x16
	MsgUpdateChannelError               uint8 = 0x17
	MsgNewExtendedMiningJob             uint8 = 0x1f
	MsgSetNewPrevHash                   uint8 = 0x20
	MsgSetTarget                        uint8 = 0x21
	MsgReconnect                        uint8 = 0x26
	MsgSetGroupChannel                  uint8 = 0x27
)

// ExtraNonceSize is the SV2 extranonce field's maximum byte width.
const ExtraNonceSize = 32

// OpenStandardMiningChannel is the initiator's channel-open request.
// LockingKey is the miner's compressed secp256k1 pubkey, bound to the
// channel so accepted shares can be tokenized into ehash; a channel opened
// without one can still submit shares, just never earns a quote dispatch.
// AcknowledgeEveryShare selects the share-acknowledgement mode: true asks
// the pool to reply SubmitSharesSuccess per accepted share (or batch),
// false asks for silent acceptance.
type OpenStandardMiningChannel struct {
	RequestID             uint32
	UserIdentity          string
	NominalHashrate       float64 // sent on the wire as a 4-byte IEEE-754 float
	MaxTarget             [32]byte
	LockingKey            [33]byte
	HasLockingKey         bool
	AcknowledgeEveryShare bool
}

func (m OpenStandardMiningChannel) Encode() ([]byte, error) {
	w := codec.NewWriter(48)
	w.PutU32(m.RequestID)
	if err := w.PutStr0255(m.UserIdentity); err != nil {
		return nil, err
	}
	w.PutU32(float32Bits(m.NominalHashrate))
	w.PutU256(m.MaxTarget)
	w.PutOptionPresent(m.HasLockingKey)
	if m.HasLockingKey {
		w.PutFixed(m.LockingKey[:])
	}
	w.PutBool(m.AcknowledgeEveryShare)
	return w.Bytes(), nil
}

func DecodeOpenStandardMiningChannel(b []byte) (OpenStandardMiningChannel, error) {
	r := codec.NewReader(b)
	var m OpenStandardMiningChannel
	var err error
	if m.RequestID, err = r.U32("request_id"); err != nil {
		return m, err
	}
	if m.UserIdentity, err = r.Str0255("user_identity"); err != nil {
		return m, err
	}
	bits, err := r.U32("nominal_hash_rate")
	if err != nil {
		return m, err
	}
	m.NominalHashrate = float32FromBits(bits)
	if m.MaxTarget, err = r.U256("max_target"); err != nil {
		return m, err
	}
	if m.HasLockingKey, err = r.OptionPresent("locking_key"); err != nil {
		return m, err
	}
	if m.HasLockingKey {
		key, err := r.Fixed("locking_key", 33)
		if err != nil {
			return m, err
		}
		copy(m.LockingKey[:], key)
	}
	if m.AcknowledgeEveryShare, err = r.Bool("acknowledge_every_share"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "open_standard_mining_channel"}
	}
	return m, nil
}

// OpenStandardMiningChannelSuccess is the responder's channel-open reply.
type OpenStandardMiningChannelSuccess struct {
	RequestID       uint32
	ChannelID       uint32
	Target          [32]byte
	ExtranoncePrefix []byte
	GroupChannelID  uint32
}

func (m OpenStandardMiningChannelSuccess) Encode() ([]byte, error) {
	w := codec.NewWriter(64)
	w.PutU32(m.RequestID)
	w.PutU32(m.ChannelID)
	w.PutU256(m.Target)
	if err := w.PutB0_32(m.ExtranoncePrefix); err != nil {
		return nil, err
	}
	w.PutU32(m.GroupChannelID)
	return w.Bytes(), nil
}

func DecodeOpenStandardMiningChannelSuccess(b []byte) (OpenStandardMiningChannelSuccess, error) {
	r := codec.NewReader(b)
	var m OpenStandardMiningChannelSuccess
	var err error
	if m.RequestID, err = r.U32("request_id"); err != nil {
		return m, err
	}
	if m.ChannelID, err = r.U32("channel_id"); err != nil {
		return m, err
	}
	if m.Target, err = r.U256("target"); err != nil {
		return m, err
	}
	if m.ExtranoncePrefix, err = r.B0_32("extranonce_prefix"); err != nil {
		return m, err
	}
	if m.GroupChannelID, err = r.U32("group_channel_id"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "open_standard_mining_channel_success"}
	}
	return m, nil
}

// OpenMiningChannelError is shared by both standard and extended open
// failures.
type OpenMiningChannelError struct {
	RequestID uint32
	ErrorCode string
}

func (m OpenMiningChannelError) Encode() ([]byte, error) {
	w := codec.NewWriter(8 + len(m.ErrorCode))
	w.PutU32(m.RequestID)
	if err := w.PutStr0255(m.ErrorCode); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeOpenMiningChannelError(b []byte) (OpenMiningChannelError, error) {
	r := codec.NewReader(b)
	var m OpenMiningChannelError
	var err error
	if m.RequestID, err = r.U32("request_id"); err != nil {
		return m, err
	}
	if m.ErrorCode, err = r.Str0255("error_code"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "open_mining_channel_error"}
	}
	return m, nil
}

// OpenExtendedMiningChannel requests a channel with extranonce control
// delegated to the initiator (the translator, on behalf of its downstreams).
type OpenExtendedMiningChannel struct {
	RequestID             uint32
	UserIdentity          string
	NominalHashrate       float64
	MaxTarget             [32]byte
	MinExtranonceSize     uint16
	LockingKey            [33]byte
	HasLockingKey         bool
	AcknowledgeEveryShare bool
}

func (m OpenExtendedMiningChannel) Encode() ([]byte, error) {
	w := codec.NewWriter(56)
	w.PutU32(m.RequestID)
	if err := w.PutStr0255(m.UserIdentity); err != nil {
		return nil, err
	}
	w.PutU32(float32Bits(m.NominalHashrate))
	w.PutU256(m.MaxTarget)
	w.PutU16(m.MinExtranonceSize)
	w.PutOptionPresent(m.HasLockingKey)
	if m.HasLockingKey {
		w.PutFixed(m.LockingKey[:])
	}
	w.PutBool(m.AcknowledgeEveryShare)
	return w.Bytes(), nil
}

func DecodeOpenExtendedMiningChannel(b []byte) (OpenExtendedMiningChannel, error) {
	r := codec.NewReader(b)
	var m OpenExtendedMiningChannel
	var err error
	if m.RequestID, err = r.U32("request_id"); err != nil {
		return m, err
	}
	if m.UserIdentity, err = r.Str0255("user_identity"); err != nil {
		return m, err
	}
	bits, err := r.U32("nominal_hash_rate")
	if err != nil {
		return m, err
	}
	m.NominalHashrate = float32FromBits(bits)
	if m.MaxTarget, err = r.U256("max_target"); err != nil {
		return m, err
	}
	if m.MinExtranonceSize, err = r.U16("min_extranonce_size"); err != nil {
		return m, err
	}
	if m.HasLockingKey, err = r.OptionPresent("locking_key"); err != nil {
		return m, err
	}
	if m.HasLockingKey {
		key, err := r.Fixed("locking_key", 33)
		if err != nil {
			return m, err
		}
		copy(m.LockingKey[:], key)
	}
	if m.AcknowledgeEveryShare, err = r.Bool("acknowledge_every_share"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "open_extended_mining_channel"}
	}
	return m, nil
}

// OpenExtendedMiningChannelSuccess grants extranonce space to the initiator.
type OpenExtendedMiningChannelSuccess struct {
	RequestID        uint32
	ChannelID        uint32
	Target           [32]byte
	ExtranoncePrefix []byte
	ExtranonceSize   uint16
}

func (m OpenExtendedMiningChannelSuccess) Encode() ([]byte, error) {
	w := codec.NewWriter(64)
	w.PutU32(m.RequestID)
	w.PutU32(m.ChannelID)
	w.PutU256(m.Target)
	if err := w.PutB0_32(m.ExtranoncePrefix); err != nil {
		return nil, err
	}
	w.PutU16(m.ExtranonceSize)
	return w.Bytes(), nil
}

func DecodeOpenExtendedMiningChannelSuccess(b []byte) (OpenExtendedMiningChannelSuccess, error) {
	r := codec.NewReader(b)
	var m OpenExtendedMiningChannelSuccess
	var err error
	if m.RequestID, err = r.U32("request_id"); err != nil {
		return m, err
	}
	if m.ChannelID, err = r.U32("channel_id"); err != nil {
		return m, err
	}
	if m.Target, err = r.U256("target"); err != nil {
		return m, err
	}
	if m.ExtranoncePrefix, err = r.B0_32("extranonce_prefix"); err != nil {
		return m, err
	}
	if m.ExtranonceSize, err = r.U16("extranonce_size"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "open_extended_mining_channel_success"}
	}
	return m, nil
}

// UpdateChannel lets the initiator report a revised hash rate estimate so
// the responder can retarget without waiting for the pool's own vardiff
// window.
type UpdateChannel struct {
	ChannelID       uint32
	NominalHashrate float64
	MaximumTarget   [32]byte
}

func (m UpdateChannel) Encode() ([]byte, error) {
	w := codec.NewWriter(40)
	w.PutU32(m.ChannelID)
	w.PutU32(float32Bits(m.NominalHashrate))
	w.PutU256(m.MaximumTarget)
	return w.Bytes(), nil
}

func DecodeUpdateChannel(b []byte) (UpdateChannel, error) {
	r := codec.NewReader(b)
	var m UpdateChannel
	var err error
	if m.ChannelID, err = r.U32("channel_id"); err != nil {
		return m, err
	}
	bits, err := r.U32("nominal_hash_rate")
	if err != nil {
		return m, err
	}
	m.NominalHashrate = float32FromBits(bits)
	if m.MaximumTarget, err = r.U256("maximum_target"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "update_channel"}
	}
	return m, nil
}

// SetTarget updates a channel's target outside the normal job cadence, used
// by the channel engine's vardiff retargeting.
type SetTarget struct {
	ChannelID uint32
	MaxTarget [32]byte
}

func (m SetTarget) Encode() ([]byte, error) {
	w := codec.NewWriter(36)
	w.PutU32(m.ChannelID)
	w.PutU256(m.MaxTarget)
	return w.Bytes(), nil
}

func DecodeSetTarget(b []byte) (SetTarget, error) {
	r := codec.NewReader(b)
	var m SetTarget
	var err error
	if m.ChannelID, err = r.U32("channel_id"); err != nil {
		return m, err
	}
	if m.MaxTarget, err = r.U256("max_target"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "set_target"}
	}
	return m, nil
}

// SetNewPrevHash announces a new block template's previous-hash/ntime/nbits
// for a job already distributed via NewExtendedMiningJob.
type SetNewPrevHash struct {
	ChannelID        uint32
	JobID            uint32
	PrevHash         [32]byte
	MinNTime         uint32
	NBits            uint32
}

func (m SetNewPrevHash) Encode() ([]byte, error) {
	w := codec.NewWriter(48)
	w.PutU32(m.ChannelID)
	w.PutU32(m.JobID)
	w.PutU256(m.PrevHash)
	w.PutU32(m.MinNTime)
	w.PutU32(m.NBits)
	return w.Bytes(), nil
}

func DecodeSetNewPrevHash(b []byte) (SetNewPrevHash, error) {
	r := codec.NewReader(b)
	var m SetNewPrevHash
	var err error
	if m.ChannelID, err = r.U32("channel_id"); err != nil {
		return m, err
	}
	if m.JobID, err = r.U32("job_id"); err != nil {
		return m, err
	}
	if m.PrevHash, err = r.U256("prev_hash"); err != nil {
		return m, err
	}
	if m.MinNTime, err = r.U32("min_ntime"); err != nil {
		return m, err
	}
	if m.NBits, err = r.U32("nbits"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "set_new_prev_hash"}
	}
	return m, nil
}

// NewExtendedMiningJob distributes a job to an extended (or group) channel,
// leaving coinbase extranonce space and merkle path for the receiver to
// fill in itself.
type NewExtendedMiningJob struct {
	ChannelID        uint32
	JobID            uint32
	FutureJob        bool
	Version          uint32
	VersionRollingAllowed bool
	MerklePath       [][32]byte
	CoinbasePrefix   []byte
	CoinbaseSuffix   []byte
}

func (m NewExtendedMiningJob) Encode() ([]byte, error) {
	w := codec.NewWriter(128)
	w.PutU32(m.ChannelID)
	w.PutU32(m.JobID)
	w.PutBool(m.FutureJob)
	w.PutU32(m.Version)
	w.PutBool(m.VersionRollingAllowed)
	if err := w.PutSeqCount(len(m.MerklePath)); err != nil {
		return nil, err
	}
	for _, h := range m.MerklePath {
		w.PutU256(h)
	}
	if err := w.PutB0_64k(m.CoinbasePrefix); err != nil {
		return nil, err
	}
	if err := w.PutB0_64k(m.CoinbaseSuffix); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeNewExtendedMiningJob(b []byte) (NewExtendedMiningJob, error) {
	r := codec.NewReader(b)
	var m NewExtendedMiningJob
	var err error
	if m.ChannelID, err = r.U32("channel_id"); err != nil {
		return m, err
	}
	if m.JobID, err = r.U32("job_id"); err != nil {
		return m, err
	}
	if m.FutureJob, err = r.Bool("future_job"); err != nil {
		return m, err
	}
	if m.Version, err = r.U32("version"); err != nil {
		return m, err
	}
	if m.VersionRollingAllowed, err = r.Bool("version_rolling_allowed"); err != nil {
		return m, err
	}
	m.MerklePath, err = codec.DecodeSeq(r, "merkle_path", func(rr *codec.Reader) ([32]byte, error) {
		return rr.U256("merkle_path[]")
	})
	if err != nil {
		return m, err
	}
	if m.CoinbasePrefix, err = r.B0_64k("coinbase_prefix"); err != nil {
		return m, err
	}
	if m.CoinbaseSuffix, err = r.B0_64k("coinbase_suffix"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "new_extended_mining_job"}
	}
	return m, nil
}

// SubmitSharesStandard is a standard-channel share submission.
type SubmitSharesStandard struct {
	ChannelID      uint32
	SequenceNumber uint32
	JobID          uint32
	Nonce          uint32
	NTime          uint32
	Version        uint32
}

func (m SubmitSharesStandard) Encode() ([]byte, error) {
	w := codec.NewWriter(24)
	w.PutU32(m.ChannelID)
	w.PutU32(m.SequenceNumber)
	w.PutU32(m.JobID)
	w.PutU32(m.Nonce)
	w.PutU32(m.NTime)
	w.PutU32(m.Version)
	return w.Bytes(), nil
}

func DecodeSubmitSharesStandard(b []byte) (SubmitSharesStandard, error) {
	r := codec.NewReader(b)
	var m SubmitSharesStandard
	var err error
	if m.ChannelID, err = r.U32("channel_id"); err != nil {
		return m, err
	}
	if m.SequenceNumber, err = r.U32("sequence_number"); err != nil {
		return m, err
	}
	if m.JobID, err = r.U32("job_id"); err != nil {
		return m, err
	}
	if m.Nonce, err = r.U32("nonce"); err != nil {
		return m, err
	}
	if m.NTime, err = r.U32("ntime"); err != nil {
		return m, err
	}
	if m.Version, err = r.U32("version"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "submit_shares_standard"}
	}
	return m, nil
}

// SubmitSharesExtended is an extended-channel share submission, carrying
// the extranonce2 the translator (or a direct SV2 miner) chose.
type SubmitSharesExtended struct {
	ChannelID      uint32
	SequenceNumber uint32
	JobID          uint32
	Nonce          uint32
	NTime          uint32
	Version        uint32
	Extranonce     []byte
}

func (m SubmitSharesExtended) Encode() ([]byte, error) {
	w := codec.NewWriter(24 + 1 + len(m.Extranonce))
	w.PutU32(m.ChannelID)
	w.PutU32(m.SequenceNumber)
	w.PutU32(m.JobID)
	w.PutU32(m.Nonce)
	w.PutU32(m.NTime)
	w.PutU32(m.Version)
	if err := w.PutB0_32(m.Extranonce); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeSubmitSharesExtended(b []byte) (SubmitSharesExtended, error) {
	r := codec.NewReader(b)
	var m SubmitSharesExtended
	var err error
	if m.ChannelID, err = r.U32("channel_id"); err != nil {
		return m, err
	}
	if m.SequenceNumber, err = r.U32("sequence_number"); err != nil {
		return m, err
	}
	if m.JobID, err = r.U32("job_id"); err != nil {
		return m, err
	}
	if m.Nonce, err = r.U32("nonce"); err != nil {
		return m, err
	}
	if m.NTime, err = r.U32("ntime"); err != nil {
		return m, err
	}
	if m.Version, err = r.U32("version"); err != nil {
		return m, err
	}
	if m.Extranonce, err = r.B0_32("extranonce"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "submit_shares_extended"}
	}
	return m, nil
}

// SubmitSharesSuccess acknowledges a run of accepted shares up to
// LastSequenceNumber.
type SubmitSharesSuccess struct {
	ChannelID               uint32
	LastSequenceNumber      uint32
	NewSubmitsAcceptedCount uint32
	NewSharesSum            uint64
}

func (m SubmitSharesSuccess) Encode() ([]byte, error) {
	w := codec.NewWriter(20)
	w.PutU32(m.ChannelID)
	w.PutU32(m.LastSequenceNumber)
	w.PutU32(m.NewSubmitsAcceptedCount)
	w.PutU64(m.NewSharesSum)
	return w.Bytes(), nil
}

func DecodeSubmitSharesSuccess(b []byte) (SubmitSharesSuccess, error) {
	r := codec.NewReader(b)
	var m SubmitSharesSuccess
	var err error
	if m.ChannelID, err = r.U32("channel_id"); err != nil {
		return m, err
	}
	if m.LastSequenceNumber, err = r.U32("last_sequence_number"); err != nil {
		return m, err
	}
	if m.NewSubmitsAcceptedCount, err = r.U32("new_submits_accepted_count"); err != nil {
		return m, err
	}
	if m.NewSharesSum, err = r.U64("new_shares_sum"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "submit_shares_success"}
	}
	return m, nil
}

// SubmitSharesError rejects one submission by sequence number.
type SubmitSharesError struct {
	ChannelID      uint32
	SequenceNumber uint32
	ErrorCode      string
}

func (m SubmitSharesError) Encode() ([]byte, error) {
	w := codec.NewWriter(9 + len(m.ErrorCode))
	w.PutU32(m.ChannelID)
	w.PutU32(m.SequenceNumber)
	if err := w.PutStr0255(m.ErrorCode); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeSubmitSharesError(b []byte) (SubmitSharesError, error) {
	r := codec.NewReader(b)
	var m SubmitSharesError
	var err error
	if m.ChannelID, err = r.U32("channel_id"); err != nil {
		return m, err
	}
	if m.SequenceNumber, err = r.U32("sequence_number"); err != nil {
		return m, err
	}
	if m.ErrorCode, err = r.Str0255("error_code"); err != nil {
		return m, err
	}
	if !r.Done() {
		return m, &codec.Error{Kind: codec.KindTrailingBytes, Field: "submit_shares_error"}
	}
	return m, nil
}

// Known share-rejection error codes.
const (
	ErrorDifficultyTooLow      = "difficulty-too-low"
	ErrorShareDifficultyTooLow = "share-difficulty-too-low"
	ErrorInvalidJobID          = "invalid-job-id"
	ErrorStaleShare            = "stale-share"
	ErrorDuplicateShare        = "duplicate-share"
	ErrorInvalidChannelID      = "invalid-channel-id"
	ErrorUnknownChannel        = "unknown-channel"
)

func float32Bits(f float64) uint32 {
	return math.Float32bits(float32(f))
}

func float32FromBits(bits uint32) float64 {
	return float64(math.Float32frombits(bits))
}
