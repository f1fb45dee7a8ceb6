package anchor

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegisway/tollguard/internal/policy"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Queue is the C11 component: accumulates VDF links into size/time-bounded
// batches, and drains completed batches to the ledger on a single
// background worker with retry/backoff, per spec.md §4.5.
type Queue struct {
	store  Store
	ledger LedgerClient
	policy *policy.Store
	logger *zap.Logger
	clock  func() time.Time

	mu        sync.Mutex
	pending   []LinkRef
	backlog   []*Anchor
	lastFlush time.Time

	overflowWarnings atomic.Int64
	wake             chan struct{}
}

// NewQueue wires a Queue. Its clock is always time.Now.
func NewQueue(store Store, ledger LedgerClient, pol *policy.Store, logger *zap.Logger) *Queue {
	return &Queue{
		store:  store,
		ledger: ledger,
		policy: pol,
		logger: logger,
		clock:  time.Now,
		wake:   make(chan struct{}, 1),
	}
}

// Add enqueues one VDF link for batching. Never blocks: batch-size flushing
// happens synchronously here (it's O(1) bookkeeping, not I/O); ledger
// submission happens only on the background worker.
func (q *Queue) Add(ctx context.Context, link LinkRef) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.lastFlush = q.clock()
	}
	q.pending = append(q.pending, link)
	shouldFlush := len(q.pending) >= q.policy.Get().AnchorBatchSize
	q.mu.Unlock()

	if shouldFlush {
		q.flush(ctx)
	}
}

// TickMaxDelay flushes a partial batch if policy.anchor_max_delay has
// elapsed since the first unflushed link arrived. Called by Run's ticker.
func (q *Queue) TickMaxDelay(ctx context.Context) {
	q.mu.Lock()
	stale := len(q.pending) > 0 && q.clock().Sub(q.lastFlush) >= q.policy.Get().AnchorMaxDelay
	q.mu.Unlock()
	if stale {
		q.flush(ctx)
	}
}

// flush builds an Anchor from the currently pending links and hands it to
// the backlog for the worker to submit.
func (q *Queue) flush(ctx context.Context) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	batch := q.pending
	q.pending = nil

	root := merkleRoot(batch)
	a := &Anchor{
		ID:        uuid.NewString(),
		SeqFrom:   batch[0].Seq,
		SeqTo:     batch[len(batch)-1].Seq,
		RootHash:  root,
		Status:    StatusPending,
		CreatedAt: q.clock(),
	}
	q.backlog = append(q.backlog, a)

	depth := len(q.backlog)
	max := q.policy.Get().AnchorQueueMax
	q.mu.Unlock()

	if err := q.store.Put(ctx, a); err != nil {
		q.logger.Error("anchor persist failed", zap.String("anchor_id", a.ID), zap.Error(err))
	}

	if depth > max {
		n := q.overflowWarnings.Add(1)
		q.logger.Warn("anchor queue depth exceeds anchor_queue_max, continuing without dropping events",
			zap.Int("depth", depth),
			zap.Int("max", max),
			zap.Int64("overflow_warnings_total", n),
		)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// OverflowWarnings reports how many times the backlog has exceeded
// policy.anchor_queue_max since startup, for telemetry.
func (q *Queue) OverflowWarnings() int64 {
	return q.overflowWarnings.Load()
}

// ListPending returns anchors still awaiting submission or retry, for the
// admin surface's list_pending_anchors().
func (q *Queue) ListPending(ctx context.Context) ([]*Anchor, error) {
	return q.store.ListPending(ctx)
}

// RetryAnchor resets a FAILED anchor to PENDING and wakes the worker, for
// the admin surface's retry_anchor(id).
func (q *Queue) RetryAnchor(ctx context.Context, id string) error {
	a, err := q.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("anchor.RetryAnchor: %w", err)
	}
	a.Status = StatusPending
	if err := q.store.Put(ctx, a); err != nil {
		return fmt.Errorf("anchor.RetryAnchor: %w", err)
	}

	q.mu.Lock()
	q.backlog = append(q.backlog, a)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func clientReference(rootHash []byte) string {
	return hex.EncodeToString(rootHash)
}
