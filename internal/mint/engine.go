// Package mint is a stand-in for the external Cashu minting engine
// internal/mintclient.Client talks to through its Engine interface. It
// mints no real blinded signatures and verifies no real payment — the
// mint's actual ecash cryptography is explicitly treated as opaque and
// out of scope here, the same way internal/mintclient's doc comment
// describes it. What this package provides is the surface cmd/mint needs
// to be a runnable process: quote bookkeeping and a settlement policy the
// HTTP status endpoint can report against.
package mint

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/bardlex/hashpool/internal/sv2/mintquote"
)

// SettleDelay is how long a quote sits unpaid before this stand-in marks
// it paid on its own, simulating the external engine's own payment rail
// without requiring one to exist in this module.
const SettleDelay = 2 * time.Second

type quoteRecord struct {
	amount     uint64
	headerHash [32]byte
	lockingKey [33]byte
	status     string
	createdAt  time.Time
}

// Engine implements internal/mintclient.Engine.
type Engine struct {
	mu     sync.Mutex
	quotes map[string]*quoteRecord
}

// NewEngine creates an engine with no outstanding quotes.
func NewEngine() *Engine {
	return &Engine{quotes: make(map[string]*quoteRecord)}
}

// QuoteHash records a new quote for amount backed by headerHash, locked to
// lockingKey, and schedules it to settle paid after SettleDelay.
func (e *Engine) QuoteHash(_ context.Context, amount uint64, headerHash [32]byte, lockingKey [33]byte) (string, string, uint32, error) {
	id, err := newQuoteID()
	if err != nil {
		return "", "", 0, err
	}
	now := time.Now()
	e.mu.Lock()
	e.quotes[id] = &quoteRecord{
		amount:     amount,
		headerHash: headerHash,
		lockingKey: lockingKey,
		status:     mintquote.StatusUnpaid,
		createdAt:  now,
	}
	e.mu.Unlock()

	go e.settleAfter(id, SettleDelay)

	return id, mintquote.StatusUnpaid, uint32(now.Add(time.Hour).Unix()), nil
}

func (e *Engine) settleAfter(id string, delay time.Duration) {
	time.Sleep(delay)
	e.mu.Lock()
	defer e.mu.Unlock()
	if q, ok := e.quotes[id]; ok {
		q.status = mintquote.StatusPaid
	}
}

// PaidQuoteIDs returns the ids of every quote currently settled paid, for
// the status endpoint the pool's quotehub.Poller scrapes. Reporting the
// same id on successive calls is harmless: the pool side only cares about
// the first time it observes a given quote_id paid.
func (e *Engine) PaidQuoteIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for id, q := range e.quotes {
		if q.status == mintquote.StatusPaid {
			out = append(out, id)
		}
	}
	return out
}

func newQuoteID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
