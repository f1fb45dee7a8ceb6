package trust

import (
	"context"
	"fmt"

	"github.com/aegisway/tollguard/internal/registry"
)

// AttemptRestoration orchestrates the full restoration pipeline for a
// PROBATION reader: all challenges passed, then peer consensus reached and
// approved, then the reader is restored to ACTIVE at policy.restore_score.
// Failure at the peer-consensus stage returns the reader to QUARANTINED at
// incremented severity, per spec.md §4.2.
func (e *Engine) AttemptRestoration(ctx context.Context, readerID string) (RestorationResult, error) {
	unlock := e.registry.Lock(readerID)
	defer unlock()

	q := e.currentQuarantine(readerID)
	if q == nil || q.Status != QuarantineProbation {
		return RestorationResult{Stage: "NO_ACTIVE_PROBATION"}, nil
	}

	if !e.allChallengesPassed(q.ID) {
		return RestorationResult{Stage: "PROBATION_CHALLENGES"}, nil
	}

	consensus := e.EvaluateConsensus(q.ID)
	if !consensus.Reached {
		return RestorationResult{Stage: "PEER_CONSENSUS", Consensus: consensus}, nil
	}
	if !consensus.Approved {
		if err := e.returnToQuarantineLocked(ctx, readerID, "PEER_CONSENSUS_REJECTED"); err != nil {
			return RestorationResult{}, err
		}
		return RestorationResult{Stage: "PEER_CONSENSUS_REJECTED", Consensus: consensus}, nil
	}

	r, err := e.registry.Get(ctx, readerID)
	if err != nil {
		return RestorationResult{}, fmt.Errorf("trust.AttemptRestoration: %w", err)
	}
	pol := e.policy.Get()
	r.TrustScore = pol.RestoreScore
	r.Status = registry.StatusActive
	r.LastTrustUpdateAt = e.clock.Now()
	if err := e.registry.Put(ctx, r); err != nil {
		return RestorationResult{}, fmt.Errorf("trust.AttemptRestoration: %w", err)
	}

	e.mu.Lock()
	q.Status = QuarantineReleased
	q.ReleasedAt = e.clock.Now()
	e.mu.Unlock()

	e.clearTagSuspicionsFrom(readerID)

	return RestorationResult{Stage: "RESTORED", Success: true, NewTrustScore: r.TrustScore, Consensus: consensus}, nil
}
