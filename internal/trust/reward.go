package trust

import (
	"context"
	"fmt"

	"github.com/aegisway/tollguard/internal/registry"
)

// RecordSuccess increments a reader's consecutive-success counter after an
// ALLOW fraud decision, and grants a small reward once every
// policy.reward_streak clean transactions, per spec.md §4.3.
func (e *Engine) RecordSuccess(ctx context.Context, readerID string) (*registry.Reader, error) {
	unlock := e.registry.Lock(readerID)
	defer unlock()

	r, err := e.registry.Get(ctx, readerID)
	if err != nil {
		return nil, fmt.Errorf("trust.RecordSuccess: %w", err)
	}
	pol := e.policy.Get()

	r.ConsecutiveSuccesses++
	if pol.RewardStreak > 0 && r.ConsecutiveSuccesses%pol.RewardStreak == 0 {
		r.TrustScore = clampScore(r.TrustScore + pol.RewardPoints)
		r.LastTrustUpdateAt = e.clock.Now()
		if r.Status != registry.StatusQuarantined && r.Status != registry.StatusProbation {
			r.Status = statusFromScore(r.TrustScore, pol)
		}
	}

	if err := e.registry.Put(ctx, r); err != nil {
		return nil, fmt.Errorf("trust.RecordSuccess: %w", err)
	}
	return r.Clone(), nil
}
