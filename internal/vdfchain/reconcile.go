package vdfchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aegisway/tollguard/internal/decisionlog"
	"go.uber.org/zap"
)

// Reconcile scans every DecisionRecord for one missing its VdfLink and
// appends it, restoring spec.md §5's recovery guarantee — "every accepted
// DecisionRecord must eventually produce exactly one VdfLink" — after an
// asynchronous append (policy.response_awaits_vdf = false) is lost to a
// worker error. It rescans the full decision log rather than tracking a
// high-water mark: DecisionRecord.Timestamp is the toll event's own
// timestamp, not insertion order, so a cursor advanced past a late-arriving
// but early-timestamped record would permanently skip it. Safe to call
// concurrently with Append and with itself.
func (c *Chain) Reconcile(ctx context.Context, decisions decisionlog.Store) (int, error) {
	records, err := decisions.ListSince(ctx, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("vdfchain.Reconcile: %w", err)
	}

	filled := 0
	for _, r := range records {
		if _, err := c.store.GetByEventID(ctx, r.EventID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return filled, fmt.Errorf("vdfchain.Reconcile: %w", err)
		}

		if _, err := c.Append(ctx, r.EventID, r.ReaderID, r.Timestamp); err != nil {
			return filled, fmt.Errorf("vdfchain.Reconcile: %w", err)
		}
		filled++
		c.logger.Warn("reconciled decision record missing its vdf link",
			zap.String("event_id", r.EventID),
			zap.String("reader_id", r.ReaderID),
		)
	}
	return filled, nil
}
