// Package quotehub implements the pool-mint quote extension pipeline: a
// dispatcher that turns accepted shares into MintQuoteRequests, a poller
// that watches the mint for paid quotes, and a notifier that delivers
// MintQuoteNotification back to the channel that earned it.
//
// Grounded on the teacher's internal/messaging/kafka.go connection-pool
// pattern (map + RWMutex, circuit breaker and retry wrapping every remote
// call) applied to an HTTP poller instead of a Kafka reader/writer, and on
// the teacher's Redis client's TTL-keyed map operations (now adapted as
// internal/poolstate) for the table's two-phase keying. The table itself
// is in-memory only and is not persisted.
package quotehub

import (
	"sync"
	"time"
)

// Status mirrors the mint's quote lifecycle.
type Status string

const (
	StatusPending  Status = "pending" // dispatched to the mint, quote_id not yet known
	StatusUnpaid   Status = "unpaid"  // quote_id known, mint has not observed payment
	StatusPaid     Status = "paid"    // mint confirms payment; ready to notify
	StatusNotified Status = "notified"
)

// PendingQuote is one in-flight pool-mint quote: `{quote_id, channel_id,
// sequence_number, locking_key, amount, created_at}` per the quote
// extension's pending-quote record, plus the status this table tracks
// locally.
type PendingQuote struct {
	QuoteID        string // empty until the mint responds with one
	ChannelID      uint32
	SequenceNumber uint32
	LockingKey     [33]byte
	Amount         uint64
	HeaderHash     [32]byte
	Status         Status
	CreatedAt      time.Time
}

func interimKey(channelID, sequenceNumber uint32) string {
	return "interim:" + itoa(channelID) + ":" + itoa(sequenceNumber)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	buf := [10]byte{}
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Table holds the hot-path in-memory view of pending quotes, keyed either
// by the interim (channel_id, sequence_number) pair before the mint has
// assigned a quote_id, or by quote_id afterward. A Table is safe for
// concurrent use.
type Table struct {
	mu      sync.RWMutex
	byKey   map[string]*PendingQuote // interim key -> quote, before quote_id assignment
	byQuote map[string]*PendingQuote // quote_id -> quote, after assignment
}

// NewTable creates an empty pending-quote table.
func NewTable() *Table {
	return &Table{
		byKey:   make(map[string]*PendingQuote),
		byQuote: make(map[string]*PendingQuote),
	}
}

// Insert records a newly dispatched quote under its interim key.
func (t *Table) Insert(q PendingQuote) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := q
	t.byKey[interimKey(q.ChannelID, q.SequenceNumber)] = &cp
}

// AssignQuoteID moves a pending quote from its interim key to quote_id
// indexing once the mint responds. Returns false if the interim record is
// gone (e.g. already resolved or evicted).
func (t *Table) AssignQuoteID(channelID, sequenceNumber uint32, quoteID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := interimKey(channelID, sequenceNumber)
	q, ok := t.byKey[key]
	if !ok {
		return false
	}
	delete(t.byKey, key)
	q.QuoteID = quoteID
	q.Status = StatusUnpaid
	t.byQuote[quoteID] = q
	return true
}

// MarkPaid flags a quote as paid, making it visible to the notifier.
// Returns false if quoteID is unknown.
func (t *Table) MarkPaid(quoteID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.byQuote[quoteID]
	if !ok {
		return false
	}
	q.Status = StatusPaid
	return true
}

// TakePaid removes and returns every quote currently marked paid, for the
// notifier to deliver. Quotes are removed on take, not on delivery, so a
// notify failure does not redeliver — the notifier logs and drops per the
// pipeline's non-fatal error policy.
func (t *Table) TakePaid() []PendingQuote {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PendingQuote
	for id, q := range t.byQuote {
		if q.Status == StatusPaid {
			out = append(out, *q)
			delete(t.byQuote, id)
		}
	}
	return out
}

// Get returns a copy of the quote for quoteID, if tracked.
func (t *Table) Get(quoteID string) (PendingQuote, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.byQuote[quoteID]
	if !ok {
		return PendingQuote{}, false
	}
	return *q, true
}

// Len reports the total number of tracked quotes, interim and assigned.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byKey) + len(t.byQuote)
}
