package anchor

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Run drives the single background anchor worker: it wakes on Add's signal
// or on maxDelayInterval, drains the backlog FIFO, and submits each anchor
// to the ledger with exponential-plus-full-jitter backoff on transient
// failure, per spec.md §4.5. It never blocks ingest — Add/flush only touch
// in-memory state; only this goroutine calls the ledger.
func (q *Queue) Run(ctx context.Context, maxDelayInterval time.Duration) {
	ticker := time.NewTicker(maxDelayInterval)
	defer ticker.Stop()

	q.logger.Info("anchor worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.TickMaxDelay(ctx)
			q.drainOnce(ctx)
		case <-q.wake:
			q.drainOnce(ctx)
		}
	}
}

// drainOnce submits every anchor currently in the backlog, in order. A
// transient failure is retried in place before the next anchor is tried, so
// later anchors are never submitted ahead of a retrying one; a permanently
// FAILED anchor is dropped from the backlog and draining continues. It
// stops early only when ctx is canceled during a retry wait.
func (q *Queue) drainOnce(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.backlog) == 0 {
			q.mu.Unlock()
			return
		}
		a := q.backlog[0]
		q.mu.Unlock()

		if !q.submitWithBackoff(ctx, a) {
			return
		}

		q.mu.Lock()
		q.backlog = q.backlog[1:]
		q.mu.Unlock()
	}
}

// submitWithBackoff attempts one anchor until it either succeeds, is
// marked permanently FAILED, or ctx is canceled. Returns true if the
// worker should move on to the next backlog entry.
func (q *Queue) submitWithBackoff(ctx context.Context, a *Anchor) bool {
	pol := q.policy.Get()
	backoff := pol.AnchorBackoffBase

	for {
		receipt, err := q.ledger.Submit(ctx, clientReference(a.RootHash), a.RootHash, a.SeqFrom, a.SeqTo)
		a.Attempts++
		a.LastAttempt = q.clock()

		if err == nil {
			a.Status = StatusSent
			a.LedgerReceipt = receipt
			q.persist(ctx, a)
			q.logger.Info("anchor submitted", zap.String("anchor_id", a.ID), zap.Int64("seq_from", a.SeqFrom), zap.Int64("seq_to", a.SeqTo))
			return true
		}

		var transient *TransientError
		if !errors.As(err, &transient) {
			a.Status = StatusFailed
			q.persist(ctx, a)
			q.logger.Error("anchor submission permanently failed",
				zap.String("anchor_id", a.ID),
				zap.Error(err),
			)
			return true
		}

		q.persist(ctx, a)
		q.logger.Warn("anchor submission transient failure, retrying",
			zap.String("anchor_id", a.ID),
			zap.Int("attempt", a.Attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(fullJitter(backoff)):
		}

		backoff *= 2
		if backoff > pol.AnchorBackoffCap {
			backoff = pol.AnchorBackoffCap
		}
	}
}

func (q *Queue) persist(ctx context.Context, a *Anchor) {
	if err := q.store.Put(ctx, a); err != nil {
		q.logger.Error("anchor persist failed", zap.String("anchor_id", a.ID), zap.Error(err))
	}
}

// fullJitter implements the AWS-architecture-blog "full jitter" backoff:
// sleep for a uniformly random duration in [0, cap).
func fullJitter(cap time.Duration) time.Duration {
	if cap <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(cap)))
}
