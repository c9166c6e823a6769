package postgres

import (
	"time"
)

// ShareRecord is one audited submit_shares outcome, accepted or rejected.
// HeaderHash is hex-encoded, since Postgres has no fixed-width byte-array
// column matching SV2's wire types directly.
type ShareRecord struct {
	ID             int64     `db:"id"`
	ChannelID      int64     `db:"channel_id"`
	SequenceNumber int64     `db:"sequence_number"`
	JobID          int64     `db:"job_id"`
	HeaderHash     string    `db:"header_hash"`
	Accepted       bool      `db:"accepted"`
	RejectReason   string    `db:"reject_reason"`
	SubmittedAt    time.Time `db:"submitted_at"`
}

// BlockSolutionRecord is a share whose header hash also met the network
// target, from discovery through the watcher's submitblock call.
type BlockSolutionRecord struct {
	ID          int64      `db:"id"`
	ChannelID   int64      `db:"channel_id"`
	JobID       int64      `db:"job_id"`
	HeaderHash  string     `db:"header_hash"`
	Nonce       int64      `db:"nonce"`
	NTime       int64      `db:"ntime"`
	Version     int64      `db:"version"`
	FoundAt     time.Time  `db:"found_at"`
	Accepted    bool       `db:"accepted"`
	BlockHash   string     `db:"block_hash"`
	SubmittedAt *time.Time `db:"submitted_at"`
}

// QuoteRecord is one pool-mint ecash quote, from the moment an accepted
// share makes it eligible through settlement or failure. LockingKey is
// hex-encoded; empty means the quote was opened without one.
type QuoteRecord struct {
	ID             int64      `db:"id"`
	ChannelID      int64      `db:"channel_id"`
	SequenceNumber int64      `db:"sequence_number"`
	QuoteID        string     `db:"quote_id"`
	LockingKey     string     `db:"locking_key"`
	AmountSat      int64      `db:"amount_sat"`
	Status         string     `db:"status"` // pending, settled, failed
	FailureReason  string     `db:"failure_reason"`
	CreatedAt      time.Time  `db:"created_at"`
	SettledAt      *time.Time `db:"settled_at"`
}

// Quote status values recorded in QuoteRecord.Status.
const (
	QuoteStatusPending = "pending"
	QuoteStatusSettled = "settled"
	QuoteStatusFailed  = "failed"
)
