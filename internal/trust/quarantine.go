package trust

import (
	"context"
	"fmt"

	"github.com/aegisway/tollguard/internal/registry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// returnToQuarantine re-enters QUARANTINED at incremented severity
// (capped at 3), used when probation or peer consensus fails.
func (e *Engine) returnToQuarantine(ctx context.Context, readerID, reason string) error {
	unlock := e.registry.Lock(readerID)
	defer unlock()
	return e.returnToQuarantineLocked(ctx, readerID, reason)
}

// returnToQuarantineLocked assumes the caller already holds readerID's lock.
func (e *Engine) returnToQuarantineLocked(ctx context.Context, readerID, reason string) error {
	r, err := e.registry.Get(ctx, readerID)
	if err != nil {
		return fmt.Errorf("trust.returnToQuarantine: %w", err)
	}
	pol := e.policy.Get()

	prevSeverity := 1
	if q := e.currentQuarantine(readerID); q != nil {
		prevSeverity = q.SeverityLevel
	}
	severity := prevSeverity + 1
	if severity > 3 {
		severity = 3
	}

	r.Status = registry.StatusQuarantined
	if err := e.registry.Put(ctx, r); err != nil {
		return fmt.Errorf("trust.returnToQuarantine: %w", err)
	}

	q := &Quarantine{
		ID:                uuid.NewString(),
		ReaderID:          readerID,
		Reason:            reason,
		SeverityLevel:     severity,
		Status:            QuarantineActive,
		TrustScoreAtEntry: r.TrustScore,
		EnteredAt:         e.clock.Now(),
	}
	e.mu.Lock()
	e.quarantines[readerID] = q
	e.mu.Unlock()

	e.propagateTagSuspicion(readerID, pol)
	e.logger.Warn("reader returned to quarantine",
		zap.String("reader_id", readerID),
		zap.String("reason", reason),
		zap.Int("severity", severity),
	)
	return nil
}

// ForceQuarantine is the admin surface's force_quarantine(reader_id, reason)
// operation (C12): quarantines a reader regardless of its current score.
func (e *Engine) ForceQuarantine(ctx context.Context, readerID, reason string) error {
	unlock := e.registry.Lock(readerID)
	defer unlock()

	r, err := e.registry.Get(ctx, readerID)
	if err != nil {
		return fmt.Errorf("trust.ForceQuarantine: %w", err)
	}
	if r.Status == registry.StatusQuarantined {
		return nil
	}
	r.Status = registry.StatusQuarantined
	if err := e.registry.Put(ctx, r); err != nil {
		return fmt.Errorf("trust.ForceQuarantine: %w", err)
	}
	e.enterQuarantine(r, reason, e.policy.Get())
	return nil
}

// ResetTrust is the admin surface's reset_trust(reader_id, score) operation.
func (e *Engine) ResetTrust(ctx context.Context, readerID string, score float64) error {
	unlock := e.registry.Lock(readerID)
	defer unlock()

	r, err := e.registry.Get(ctx, readerID)
	if err != nil {
		return fmt.Errorf("trust.ResetTrust: %w", err)
	}
	pol := e.policy.Get()
	r.TrustScore = clampScore(score)
	r.LastTrustUpdateAt = e.clock.Now()
	if r.Status != registry.StatusQuarantined && r.Status != registry.StatusProbation {
		r.Status = statusFromScore(r.TrustScore, pol)
	}
	if err := e.registry.Put(ctx, r); err != nil {
		return fmt.Errorf("trust.ResetTrust: %w", err)
	}
	return nil
}
