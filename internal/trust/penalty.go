package trust

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aegisway/tollguard/internal/policy"
	"github.com/aegisway/tollguard/internal/registry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// criticalViolations single-occurrence-quarantines regardless of score,
// per spec.md §4.2.
var criticalViolations = map[string]bool{
	policy.ViolationReplay:             true,
	policy.ViolationBadSignature:       true,
	policy.ViolationBalanceManipulation: true,
}

// RecordViolation implements ingest.ViolationRecorder: an ordinary ingest
// rejection, always applied at full confidence. The caller (ingest.Verify)
// already holds readerID's registry lock for the duration of its check
// sequence, so this must go through applyPenaltyLocked rather than
// ApplyPenalty — re-acquiring the same non-reentrant mutex here would
// deadlock the calling goroutine and wedge every future request for that
// reader.
func (e *Engine) RecordViolation(ctx context.Context, readerID, violationClass string) (*registry.Reader, error) {
	return e.applyPenaltyLocked(ctx, readerID, violationClass, 1.0)
}

// ApplyPenalty applies one weighted violation penalty to readerID, per
// spec.md §4.2's decay-then-penalize formula, and performs any resulting
// status transition. confidence is clamped to [0.5, 1.0] before weighting.
func (e *Engine) ApplyPenalty(ctx context.Context, readerID, violationClass string, confidence float64) (*registry.Reader, error) {
	unlock := e.registry.Lock(readerID)
	defer unlock()
	return e.applyPenaltyLocked(ctx, readerID, violationClass, confidence)
}

// applyPenaltyLocked assumes the caller already holds readerID's registry
// lock (used by probation-failure and restoration-rejection paths that
// must not re-enter registry.Lock).
func (e *Engine) applyPenaltyLocked(ctx context.Context, readerID, violationClass string, confidence float64) (*registry.Reader, error) {
	r, err := e.registry.Get(ctx, readerID)
	if err != nil {
		return nil, fmt.Errorf("trust.ApplyPenalty: %w", err)
	}
	pol := e.policy.Get()
	now := e.clock.Now()

	decayed := applyDecay(r, now, pol)
	c := clampConfidence(confidence)
	weighted := -(pol.BasePenalty[violationClass] * pol.Weight[violationClass] * c)
	newScore := clampScore(decayed + weighted)

	r.TrustScore = newScore
	r.LastViolationAt = now
	r.LastTrustUpdateAt = now
	switch violationClass {
	case policy.ViolationReplay:
		r.ReplayAttempts++
	case policy.ViolationBadSignature, policy.ViolationUnknownReader, policy.ViolationBadKeyVersion:
		r.AuthFailures++
	}
	r.ConsecutiveSuccesses = 0

	wasQuarantined := r.Status == registry.StatusQuarantined || r.Status == registry.StatusProbation
	if !wasQuarantined {
		classify(r, pol, violationClass)
	}

	if err := e.registry.Put(ctx, r); err != nil {
		return nil, fmt.Errorf("trust.ApplyPenalty: %w", err)
	}

	if !wasQuarantined && r.Status == registry.StatusQuarantined {
		e.enterQuarantine(r, violationClass, pol)
	}

	return r.Clone(), nil
}

// applyDecay implements spec.md §4.2's decay rule. Quarantined and
// probationary readers never decay through this path — their score only
// moves via the dedicated quarantine-review sweep (see decay.go).
func applyDecay(r *registry.Reader, now time.Time, pol *policy.Policy) float64 {
	if r.Status == registry.StatusQuarantined || r.Status == registry.StatusProbation {
		return r.TrustScore
	}
	if r.LastViolationAt.IsZero() || now.Sub(r.LastViolationAt) < pol.RecoveryMinGap {
		return r.TrustScore
	}
	lastUpdate := r.LastTrustUpdateAt
	if lastUpdate.IsZero() {
		lastUpdate = r.LastViolationAt
	}
	hours := now.Sub(lastUpdate).Hours()
	if hours <= 0 {
		return r.TrustScore
	}
	recovery := pol.RecoveryRate * math.Log(1+hours)
	if recovery > pol.RecoveryCap {
		recovery = pol.RecoveryCap
	}
	return clampScore(r.TrustScore + recovery)
}

// classify sets r.Status from its (already-updated) TrustScore, per
// spec.md §4.2's status table, moving a reader into QUARANTINED instead
// when the violation is critical or the score has fallen below the
// quarantine floor.
func classify(r *registry.Reader, pol *policy.Policy, violationClass string) {
	if criticalViolations[violationClass] || r.TrustScore < pol.QuarantineFloor {
		r.Status = registry.StatusQuarantined
		return
	}
	r.Status = statusFromScore(r.TrustScore, pol)
}

// statusFromScore applies spec.md §4.2's status table with no quarantine
// consideration, used by paths that only ever raise a reader's score
// (reward, admin reset).
func statusFromScore(score float64, pol *policy.Policy) registry.Status {
	switch {
	case score >= pol.TrustedFloor:
		return registry.StatusActive
	case score >= pol.DegradedFloor:
		return registry.StatusDegraded
	default:
		return registry.StatusSuspended
	}
}

func (e *Engine) enterQuarantine(r *registry.Reader, violationClass string, pol *policy.Policy) {
	severity := pol.Severity[violationClass]
	if severity <= 0 {
		severity = 1
	}
	if severity > 3 {
		severity = 3
	}

	q := &Quarantine{
		ID:                uuid.NewString(),
		ReaderID:          r.ReaderID,
		Reason:            violationClass,
		SeverityLevel:     severity,
		Status:            QuarantineActive,
		TrustScoreAtEntry: r.TrustScore,
		EnteredAt:         e.clock.Now(),
	}
	e.mu.Lock()
	e.quarantines[r.ReaderID] = q
	e.mu.Unlock()

	e.propagateTagSuspicion(r.ReaderID, pol)

	e.logger.Warn("reader entered quarantine",
		zap.String("reader_id", r.ReaderID),
		zap.String("reason", violationClass),
		zap.Int("severity", severity),
		zap.Float64("trust_score", r.TrustScore),
	)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampConfidence(c float64) float64 {
	if c < 0.5 {
		return 0.5
	}
	if c > 1.0 {
		return 1.0
	}
	return c
}
