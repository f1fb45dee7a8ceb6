package fraud

import (
	"context"
	"sync"
	"time"

	"github.com/aegisway/tollguard/internal/policy"
	"github.com/aegisway/tollguard/internal/registry"
	"github.com/aegisway/tollguard/internal/statsnap"
	"github.com/aegisway/tollguard/internal/trust"
	"go.uber.org/zap"
)

// SuccessRecorder is the subset of *trust.Engine the detector needs to
// close the feedback loop, kept as an interface so tests can substitute a
// double without wiring a full Engine.
type SuccessRecorder interface {
	ApplyPenalty(ctx context.Context, readerID, violationClass string, confidence float64) (*registry.Reader, error)
	RecordSuccess(ctx context.Context, readerID string) (*registry.Reader, error)
	// TagSuspicionLevel returns the current suspicion multiplier for a
	// tag_hash (1.0 if none), raised whenever the reader that last saw it
	// enters QUARANTINED, per spec.md §4.2's tag-suspicion propagation.
	TagSuspicionLevel(tagHash string) float64
}

var _ SuccessRecorder = (*trust.Engine)(nil)

// Detector is the C8 component: rule layer + ML layer + cross-reader
// outlier check, fused into a single decision, feeding its outcome back
// into the trust engine per spec.md §4.3's closing paragraph.
type Detector struct {
	policy *policy.Store
	mlA    Scorer
	mlB    Scorer
	iso    IsolationScorer
	stats  *statsnap.Store
	trust  SuccessRecorder
	logger *zap.Logger

	dupMu    sync.Mutex
	lastSeen map[string]time.Time
}

// NewDetector wires a Detector. mlA, mlB, and iso may be nil, in which case
// they always contribute as unavailable/neutral.
func NewDetector(pol *policy.Store, mlA, mlB Scorer, iso IsolationScorer, stats *statsnap.Store, trustEngine SuccessRecorder, logger *zap.Logger) *Detector {
	return &Detector{
		policy:   pol,
		mlA:      mlA,
		mlB:      mlB,
		iso:      iso,
		stats:    stats,
		trust:    trustEngine,
		logger:   logger,
		lastSeen: make(map[string]time.Time),
	}
}

// Evaluate runs the full fraud pipeline for an accepted event and applies
// the resulting trust-engine feedback. readerStatus is the reader's status
// as of acceptance (needed for the DEGRADED fusion rule).
func (d *Detector) Evaluate(ctx context.Context, ev Event, readerStatus registry.Status) (Decision, error) {
	pol := d.policy.Get()

	isDuplicate := d.checkAndRecordDuplicate(ev.TagHash, ev.Timestamp, pol.DuplicateWindow)
	flags := evaluateRules(ev, pol, isDuplicate)

	if snap := d.stats.Load(); snap.IsOutlier(ev.ReaderID, pol.CrossMultiplier) {
		flags = append(flags, FlagCrossOutlier)
	}

	mlCtx, cancel := context.WithTimeout(ctx, pol.MLTimeout)
	defer cancel()
	mlA := d.scoreOrNil(mlCtx, d.mlA, ev)
	mlB := d.scoreOrNil(mlCtx, d.mlB, ev)
	iso := d.isoOrNil(mlCtx, ev)

	suspicion := 1.0
	if d.trust != nil {
		suspicion = d.trust.TagSuspicionLevel(ev.TagHash)
	}
	decision := fuse(readerStatus, flags, mlA, mlB, iso, pol, suspicion)

	d.applyFeedback(ctx, ev.ReaderID, decision)

	d.logger.Debug("fraud decision",
		zap.String("event_id", ev.EventID),
		zap.String("reader_id", ev.ReaderID),
		zap.Bool("blocked", decision.Blocked),
		zap.Strings("reason_codes", decision.ReasonCodes),
		zap.String("ml_a", formatMLScore(mlA)),
		zap.String("ml_b", formatMLScore(mlB)),
	)

	return decision, nil
}

func (d *Detector) scoreOrNil(ctx context.Context, s Scorer, ev Event) *float64 {
	if s == nil {
		return nil
	}
	v, err := s.Score(ctx, ev)
	if err != nil {
		d.logger.Warn("ml scorer unavailable", zap.Error(err))
		return nil
	}
	return v
}

func (d *Detector) isoOrNil(ctx context.Context, ev Event) *int {
	if d.iso == nil {
		return nil
	}
	v, err := d.iso.Flag(ctx, ev)
	if err != nil {
		d.logger.Warn("isolation scorer unavailable", zap.Error(err))
		return nil
	}
	return v
}

// checkAndRecordDuplicate reports whether tagHash was last seen within
// window, then records the new sighting regardless.
func (d *Detector) checkAndRecordDuplicate(tagHash string, at time.Time, window time.Duration) bool {
	d.dupMu.Lock()
	defer d.dupMu.Unlock()

	dup := false
	if prev, ok := d.lastSeen[tagHash]; ok && at.Sub(prev) < window {
		dup = true
	}
	d.lastSeen[tagHash] = at

	if len(d.lastSeen) > 100_000 {
		cutoff := at.Add(-window)
		for tag, seen := range d.lastSeen {
			if seen.Before(cutoff) {
				delete(d.lastSeen, tag)
			}
		}
	}
	return dup
}

func (d *Detector) applyFeedback(ctx context.Context, readerID string, decision Decision) {
	if d.trust == nil {
		return
	}
	var err error
	if decision.Blocked {
		_, err = d.trust.ApplyPenalty(ctx, readerID, violationClass(decision), 1.0)
	} else {
		_, err = d.trust.RecordSuccess(ctx, readerID)
	}
	if err != nil {
		d.logger.Warn("fraud feedback into trust engine failed",
			zap.String("reader_id", readerID),
			zap.Error(err),
		)
	}
}
