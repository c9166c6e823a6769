package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ShareRepository persists submit_shares outcomes for audit.
type ShareRepository struct {
	db *sql.DB
}

// NewShareRepository creates a new share repository.
func NewShareRepository(db *sql.DB) *ShareRepository {
	return &ShareRepository{db: db}
}

// CreateShare inserts a new audited share record.
func (r *ShareRepository) CreateShare(ctx context.Context, s *ShareRecord) error {
	query := `
		INSERT INTO shares (channel_id, sequence_number, job_id, header_hash, accepted, reject_reason, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		s.ChannelID, s.SequenceNumber, s.JobID, s.HeaderHash, s.Accepted, s.RejectReason, s.SubmittedAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to create share record: %w", err)
	}
	return nil
}

// GetSharesByChannel retrieves recent share records for a channel.
func (r *ShareRepository) GetSharesByChannel(ctx context.Context, channelID int64, limit int) ([]*ShareRecord, error) {
	query := `
		SELECT id, channel_id, sequence_number, job_id, header_hash, accepted, reject_reason, submitted_at
		FROM shares
		WHERE channel_id = $1
		ORDER BY submitted_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	defer rows.Close()

	var shares []*ShareRecord
	for rows.Next() {
		s := &ShareRecord{}
		if err := rows.Scan(&s.ID, &s.ChannelID, &s.SequenceNumber, &s.JobID, &s.HeaderHash, &s.Accepted, &s.RejectReason, &s.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

// BlockSolutionRepository persists block solutions found by channels, from
// discovery through their eventual submitblock outcome.
type BlockSolutionRepository struct {
	db *sql.DB
}

// NewBlockSolutionRepository creates a new block solution repository.
func NewBlockSolutionRepository(db *sql.DB) *BlockSolutionRepository {
	return &BlockSolutionRepository{db: db}
}

// CreateBlockSolution inserts a newly discovered block solution, ahead of
// it being submitted to Bitcoin Core.
func (r *BlockSolutionRepository) CreateBlockSolution(ctx context.Context, b *BlockSolutionRecord) error {
	query := `
		INSERT INTO block_solutions (channel_id, job_id, header_hash, nonce, ntime, version, found_at, accepted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		b.ChannelID, b.JobID, b.HeaderHash, b.Nonce, b.NTime, b.Version, b.FoundAt, b.Accepted,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("failed to create block solution record: %w", err)
	}
	return nil
}

// MarkSubmitted records the outcome of submitting a block solution to
// Bitcoin Core: accepted and the resulting block hash, or rejected.
func (r *BlockSolutionRepository) MarkSubmitted(ctx context.Context, id int64, accepted bool, blockHash string) error {
	query := `
		UPDATE block_solutions
		SET accepted = $1, block_hash = $2, submitted_at = $3
		WHERE id = $4`

	_, err := r.db.ExecContext(ctx, query, accepted, blockHash, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark block solution submitted: %w", err)
	}
	return nil
}

// GetRecentBlockSolutions retrieves the most recent block solutions.
func (r *BlockSolutionRepository) GetRecentBlockSolutions(ctx context.Context, limit int) ([]*BlockSolutionRecord, error) {
	query := `
		SELECT id, channel_id, job_id, header_hash, nonce, ntime, version, found_at, accepted, block_hash, submitted_at
		FROM block_solutions
		ORDER BY found_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query block solutions: %w", err)
	}
	defer rows.Close()

	var blocks []*BlockSolutionRecord
	for rows.Next() {
		b := &BlockSolutionRecord{}
		if err := rows.Scan(&b.ID, &b.ChannelID, &b.JobID, &b.HeaderHash, &b.Nonce, &b.NTime, &b.Version, &b.FoundAt, &b.Accepted, &b.BlockHash, &b.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan block solution: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// QuoteRepository persists pool-mint ecash quotes, from request through
// settlement or failure.
type QuoteRepository struct {
	db *sql.DB
}

// NewQuoteRepository creates a new quote repository.
func NewQuoteRepository(db *sql.DB) *QuoteRepository {
	return &QuoteRepository{db: db}
}

// CreateQuote inserts a newly requested quote in pending status.
func (r *QuoteRepository) CreateQuote(ctx context.Context, q *QuoteRecord) error {
	query := `
		INSERT INTO quotes (channel_id, sequence_number, quote_id, locking_key, amount_sat, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		q.ChannelID, q.SequenceNumber, q.QuoteID, q.LockingKey, q.AmountSat, q.Status, q.CreatedAt,
	).Scan(&q.ID)
	if err != nil {
		return fmt.Errorf("failed to create quote record: %w", err)
	}
	return nil
}

// MarkSettled records that a quote was redeemed by the mint.
func (r *QuoteRepository) MarkSettled(ctx context.Context, quoteID string) error {
	query := `
		UPDATE quotes
		SET status = $1, settled_at = $2
		WHERE quote_id = $3`

	_, err := r.db.ExecContext(ctx, query, QuoteStatusSettled, time.Now(), quoteID)
	if err != nil {
		return fmt.Errorf("failed to mark quote settled: %w", err)
	}
	return nil
}

// MarkFailed records that a quote's mint exchange failed.
func (r *QuoteRepository) MarkFailed(ctx context.Context, quoteID, reason string) error {
	query := `
		UPDATE quotes
		SET status = $1, failure_reason = $2
		WHERE quote_id = $3`

	_, err := r.db.ExecContext(ctx, query, QuoteStatusFailed, reason, quoteID)
	if err != nil {
		return fmt.Errorf("failed to mark quote failed: %w", err)
	}
	return nil
}

// GetQuotesByChannel retrieves recent quotes for a channel.
func (r *QuoteRepository) GetQuotesByChannel(ctx context.Context, channelID int64, limit int) ([]*QuoteRecord, error) {
	query := `
		SELECT id, channel_id, sequence_number, quote_id, locking_key, amount_sat, status, failure_reason, created_at, settled_at
		FROM quotes
		WHERE channel_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes: %w", err)
	}
	defer rows.Close()

	var quotes []*QuoteRecord
	for rows.Next() {
		q := &QuoteRecord{}
		if err := rows.Scan(&q.ID, &q.ChannelID, &q.SequenceNumber, &q.QuoteID, &q.LockingKey, &q.AmountSat, &q.Status, &q.FailureReason, &q.CreatedAt, &q.SettledAt); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}
