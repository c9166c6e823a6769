package messaging

import "time"

// ShareEvent is the TopicShares payload describing one SV2 submission the
// pool validator finished processing, successful or not. It is the internal
// stats/audit fan-out, not a wire message.
type ShareEvent struct {
	ChannelID      uint32    `json:"channel_id"`
	SequenceNumber uint32    `json:"sequence_number"`
	JobID          uint32    `json:"job_id"`
	Nonce          uint32    `json:"nonce"`
	NTime          uint32    `json:"ntime"`
	Version        uint32    `json:"version"`
	HashHex        string    `json:"hash_hex"`
	Accepted       bool      `json:"accepted"`
	ErrorCode      string    `json:"error_code,omitempty"`
	IsBlockSolution bool     `json:"is_block_solution"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// BlockCandidateEvent is the TopicBlockCandidates payload describing a
// submitted share whose hash also meets the network target.
type BlockCandidateEvent struct {
	ChannelID   uint32    `json:"channel_id"`
	JobID       uint32    `json:"job_id"`
	BlockHeight int64     `json:"block_height"`
	HashHex     string    `json:"hash_hex"`
	HeaderHex   string    `json:"header_hex"`
	FoundAt     time.Time `json:"found_at"`
}

// QuoteDispatchEvent is the TopicQuotes payload describing the quote hub
// dispatcher enqueueing, or failing to enqueue, a MintQuoteRequest.
type QuoteDispatchEvent struct {
	ChannelID      uint32    `json:"channel_id"`
	SequenceNumber uint32    `json:"sequence_number"`
	Amount         uint64    `json:"amount"`
	Status         string    `json:"status"` // "dispatched", "missing_locking_key", "invalid_locking_key", "dispatcher_unavailable", "failed"
	Detail         string    `json:"detail,omitempty"`
	DispatchedAt   time.Time `json:"dispatched_at"`
}

// QuoteNotificationEvent is the TopicQuoteNotifications payload describing
// the notifier delivering (or dropping) a MintQuoteNotification to a channel.
type QuoteNotificationEvent struct {
	ChannelID  uint32    `json:"channel_id"`
	QuoteID    string    `json:"quote_id"`
	Amount     uint64    `json:"amount"`
	Delivered  bool      `json:"delivered"`
	DroppedWhy string    `json:"dropped_why,omitempty"`
	NotifiedAt time.Time `json:"notified_at"`
}
