package quotehub

import (
	"context"
	"sync/atomic"

	"github.com/bardlex/hashpool/internal/pool"
	"github.com/bardlex/hashpool/pkg/log"
)

// QueueCapacity bounds the pool→mint dispatch channel. A share that solves
// while the mint is slow or briefly disconnected must never stall share
// validation waiting on a quote round-trip, so Engine.DispatchQuote is
// wired to Enqueue, never to Dispatcher.Dispatch directly.
const QueueCapacity = 100

// Queue decouples accepted-share quote requests from the mint exchange
// itself: Enqueue is called synchronously from the channel engine's
// submit path and never blocks, while Run drains the queue against
// whatever Dispatcher currently holds the live mint connection. On
// overflow the oldest queued request is dropped in favor of the new one,
// since an ecash quote for a long-stale share is worth less than one for
// the share that just solved.
type Queue struct {
	logger     *log.Logger
	ch         chan pool.QuoteRequest
	dispatcher atomic.Pointer[Dispatcher]
}

// NewQueue creates an empty queue; SetDispatcher must be called once the
// mint connects before Run can make progress, and may be called again on
// every reconnect.
func NewQueue(logger *log.Logger) *Queue {
	return &Queue{logger: logger, ch: make(chan pool.QuoteRequest, QueueCapacity)}
}

// SetDispatcher swaps the dispatcher Run sends against. Passing nil (e.g.
// once the mint connection drops) makes Run log and drop until a new one
// is set.
func (q *Queue) SetDispatcher(d *Dispatcher) {
	q.dispatcher.Store(d)
}

// Enqueue records a quote request for asynchronous dispatch. Never blocks:
// a full queue drops its oldest entry to make room for req.
func (q *Queue) Enqueue(req pool.QuoteRequest) {
	select {
	case q.ch <- req:
		return
	default:
	}
	select {
	case old := <-q.ch:
		q.logger.Warn("pool-mint dispatch queue full, dropping oldest pending quote request",
			"channel_id", old.ChannelID, "sequence_number", old.SequenceNumber)
	default:
	}
	select {
	case q.ch <- req:
	default:
		q.logger.Warn("pool-mint dispatch queue full after eviction, dropping quote request", "channel_id", req.ChannelID)
	}
}

// Run drains the queue until ctx is cancelled, dispatching each request
// against the current Dispatcher. A dispatch failure is already logged by
// the Dispatcher itself (it is always non-fatal) so Run only needs to keep
// draining.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-q.ch:
			d := q.dispatcher.Load()
			if d == nil {
				q.logger.Warn("dropping quote request: no mint connection", "channel_id", req.ChannelID)
				continue
			}
			_ = d.Dispatch(ctx, req)
		}
	}
}
