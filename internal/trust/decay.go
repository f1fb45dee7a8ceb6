package trust

import (
	"context"
	"fmt"
	"math"

	"github.com/aegisway/tollguard/internal/registry"
	"go.uber.org/zap"
)

// ReviewQuarantine applies the same logarithmic recovery formula to a
// QUARANTINED reader's score, without any accompanying violation, and
// promotes it to PROBATION once the score crosses policy.probation_entry_floor.
// This is the periodic sweep spec.md §4.2's self-healing lifecycle depends
// on ("QUARANTINED → (decay recovery past probation_entry_floor) →
// PROBATION"); ApplyPenalty's own decay step is a no-op for quarantined
// readers by design, so recovery only ever happens here.
func (e *Engine) ReviewQuarantine(ctx context.Context, readerID string) error {
	unlock := e.registry.Lock(readerID)
	defer unlock()

	r, err := e.registry.Get(ctx, readerID)
	if err != nil {
		return fmt.Errorf("trust.ReviewQuarantine: %w", err)
	}
	if r.Status != registry.StatusQuarantined {
		return nil
	}

	pol := e.policy.Get()
	now := e.clock.Now()
	lastUpdate := r.LastTrustUpdateAt
	if lastUpdate.IsZero() {
		lastUpdate = r.LastViolationAt
	}
	if lastUpdate.IsZero() {
		return nil
	}
	hours := now.Sub(lastUpdate).Hours()
	if hours <= 0 {
		return nil
	}

	recovery := pol.RecoveryRate * math.Log(1+hours)
	if recovery > pol.RecoveryCap {
		recovery = pol.RecoveryCap
	}
	newScore := clampScore(r.TrustScore + recovery)
	if newScore < pol.ProbationEntryFloor {
		return nil
	}

	r.TrustScore = newScore
	r.LastTrustUpdateAt = now
	r.Status = registry.StatusProbation
	if err := e.registry.Put(ctx, r); err != nil {
		return fmt.Errorf("trust.ReviewQuarantine: %w", err)
	}

	if err := e.issueProbationChallenges(ctx, r); err != nil {
		e.logger.Warn("failed to issue probation challenges",
			zap.String("reader_id", readerID), zap.Error(err))
	}
	return nil
}

// ReviewAllQuarantined runs ReviewQuarantine over every currently
// quarantined reader, for use by a periodic background sweep.
func (e *Engine) ReviewAllQuarantined(ctx context.Context) (int, error) {
	readers, err := e.registry.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("trust.ReviewAllQuarantined: %w", err)
	}
	promoted := 0
	for _, r := range readers {
		if r.Status != registry.StatusQuarantined {
			continue
		}
		before := r.Status
		if err := e.ReviewQuarantine(ctx, r.ReaderID); err != nil {
			e.logger.Warn("quarantine review failed", zap.String("reader_id", r.ReaderID), zap.Error(err))
			continue
		}
		after, err := e.registry.Get(ctx, r.ReaderID)
		if err == nil && before != after.Status {
			promoted++
		}
	}
	return promoted, nil
}
