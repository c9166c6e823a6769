// Package auditlog wires the pool's Postgres-backed ehash/quote audit log
// into the channel engine and watcher: every submit_shares outcome, block
// solution, and pool-mint quote lifecycle event is recorded here, guarded
// by a circuit breaker so a struggling database degrades audit coverage
// rather than the mining path itself.
package auditlog

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/bardlex/hashpool/internal/database/postgres"
	"github.com/bardlex/hashpool/pkg/circuit"
	"github.com/bardlex/hashpool/pkg/log"
	"github.com/bardlex/hashpool/pkg/retry"
)

// Log records audit events against a Postgres-backed store. Every method
// is fire-and-forget from the caller's perspective: failures are logged,
// never returned, since the mining and quote paths must not block or fail
// on audit-log unavailability.
type Log struct {
	client *postgres.Client
	shares *postgres.ShareRepository
	blocks *postgres.BlockSolutionRepository
	quotes *postgres.QuoteRepository

	breaker *circuit.Breaker
	retry   *retry.Config
	logger  *log.Logger
}

// New creates a Log against an already-connected Postgres client, running
// its migration on construction.
func New(client *postgres.Client, logger *log.Logger) (*Log, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Migrate(ctx); err != nil {
		return nil, err
	}

	return &Log{
		client: client,
		shares: postgres.NewShareRepository(client.DB()),
		blocks: postgres.NewBlockSolutionRepository(client.DB()),
		quotes: postgres.NewQuoteRepository(client.DB()),
		breaker: circuit.New(&circuit.Config{
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         30 * time.Second,
			ResetTimeout:    60 * time.Second,
		}),
		retry:  retry.DatabaseConfig(),
		logger: logger,
	}, nil
}

// RecordShare logs a validated submit_shares outcome, accepted or rejected.
func (l *Log) RecordShare(channelID, sequenceNumber, jobID uint32, headerHash [32]byte, accepted bool, rejectReason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &postgres.ShareRecord{
		ChannelID:      int64(channelID),
		SequenceNumber: int64(sequenceNumber),
		JobID:          int64(jobID),
		HeaderHash:     hex.EncodeToString(headerHash[:]),
		Accepted:       accepted,
		RejectReason:   rejectReason,
		SubmittedAt:    time.Now(),
	}
	l.run(ctx, "record_share", func() error { return l.shares.CreateShare(ctx, rec) })
}

// RecordBlockSolution logs a newly discovered block solution and returns
// its audit log ID, so the caller can later call MarkBlockSubmitted with the
// outcome of submitblock. ok is false if the audit log could not record it
// (the caller should still proceed with submission).
func (l *Log) RecordBlockSolution(channelID, jobID, nonce, ntime, version uint32, headerHash [32]byte) (id int64, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &postgres.BlockSolutionRecord{
		ChannelID:  int64(channelID),
		JobID:      int64(jobID),
		HeaderHash: hex.EncodeToString(headerHash[:]),
		Nonce:      int64(nonce),
		NTime:      int64(ntime),
		Version:    int64(version),
		FoundAt:    time.Now(),
	}
	if !l.run(ctx, "record_block_solution", func() error { return l.blocks.CreateBlockSolution(ctx, rec) }) {
		return 0, false
	}
	return rec.ID, true
}

// MarkBlockSubmitted records the outcome of submitting a previously logged
// block solution to Bitcoin Core. A zero id (from a failed RecordBlockSolution)
// is a no-op.
func (l *Log) MarkBlockSubmitted(id int64, accepted bool, blockHash string) {
	if id == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.run(ctx, "mark_block_submitted", func() error { return l.blocks.MarkSubmitted(ctx, id, accepted, blockHash) })
}

// RecordQuote logs a newly requested pool-mint quote in pending status.
func (l *Log) RecordQuote(channelID, sequenceNumber uint32, quoteID string, lockingKey [33]byte, hasLockingKey bool, amountSat uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := ""
	if hasLockingKey {
		key = hex.EncodeToString(lockingKey[:])
	}
	rec := &postgres.QuoteRecord{
		ChannelID:      int64(channelID),
		SequenceNumber: int64(sequenceNumber),
		QuoteID:        quoteID,
		LockingKey:     key,
		AmountSat:      int64(amountSat),
		Status:         postgres.QuoteStatusPending,
		CreatedAt:      time.Now(),
	}
	l.run(ctx, "record_quote", func() error { return l.quotes.CreateQuote(ctx, rec) })
}

// MarkQuoteSettled records that a quote was redeemed by the mint.
func (l *Log) MarkQuoteSettled(quoteID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.run(ctx, "mark_quote_settled", func() error { return l.quotes.MarkSettled(ctx, quoteID) })
}

// MarkQuoteFailed records that a quote's mint exchange failed.
func (l *Log) MarkQuoteFailed(quoteID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.run(ctx, "mark_quote_failed", func() error { return l.quotes.MarkFailed(ctx, quoteID, reason) })
}

// Close closes the underlying Postgres connection.
func (l *Log) Close() error {
	return l.client.Close()
}

func (l *Log) run(ctx context.Context, op string, f func() error) bool {
	err := l.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, l.retry, f)
	})
	if err != nil {
		l.logger.WithError(err).Warn("audit log write failed", "op", op)
		return false
	}
	return true
}
