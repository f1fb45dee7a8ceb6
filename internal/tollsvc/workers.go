package tollsvc

import (
	"context"
	"time"

	"github.com/aegisway/tollguard/internal/anchor"
	"github.com/aegisway/tollguard/internal/vdfchain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// vdfAppendJob is one event awaiting a VDF chain append on the bounded
// worker pool, per spec.md §5's "one bounded worker pool for VDF appends".
type vdfAppendJob struct {
	eventID  string
	readerID string
	ts       time.Time
}

func anchorRef(l *vdfchain.Link) anchor.LinkRef {
	return anchor.LinkRef{Seq: l.Seq, VDFOutput: l.Output}
}

// Run starts every background worker under one errgroup, following the
// teacher's single-lifecycle-per-process shape generalized from one gRPC
// server goroutine to several cooperating loops sharing ctx's cancellation.
// It blocks until ctx is canceled or a worker returns an error.
func (s *Service) Run(ctx context.Context, cfg Config) error {
	g, ctx := errgroup.WithContext(ctx)

	workerCount := cfg.VDFWorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			s.runVDFWorker(ctx)
			return nil
		})
	}

	g.Go(func() error {
		s.Anchors.Run(ctx, tickOrDefault(cfg.AnchorTickEvery))
		return nil
	})

	g.Go(func() error {
		s.runNonceSweeper(ctx)
		return nil
	})

	g.Go(func() error {
		s.Stats.Run(ctx, s.StatsRec, s.Clock, s.Policy.Get().CrossStatsInterval, s.Policy.Get().CrossWindow, s.logger)
		return nil
	})

	return g.Wait()
}

func tickOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return d
}

// runVDFWorker drains vdfQueue, appending each event's link to the chain and
// handing the result to the anchor queue, until ctx is canceled.
func (s *Service) runVDFWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.vdfQueue:
			link, err := s.Chain.Append(ctx, job.eventID, job.readerID, job.ts)
			if err != nil {
				s.logger.Error("vdf append failed", zap.String("event_id", job.eventID), zap.Error(err))
				continue
			}
			s.Anchors.Add(ctx, anchorRef(link))
		}
	}
}

// runNonceSweeper periodically garbage-collects nonces older than
// policy.nonce_retention_multiplier * max_drift_seconds, reviews every
// quarantined reader for time-based recovery per spec.md §4.2's decay
// rule, and runs the VDF chain's reconciliation pass so a DecisionRecord
// that lost its asynchronous append (runVDFWorker logs and drops on
// error) still eventually gets its link, per spec.md §5's recovery
// guarantee. It's the teacher's single ticker-driven-loop shape reused
// for three unrelated sweeps to avoid a goroutine per sweep for what is,
// per event, O(1) bookkeeping.
func (s *Service) runNonceSweeper(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pol := s.Policy.Get()
			retention := time.Duration(pol.NonceRetentionX) * time.Duration(pol.MaxDriftSeconds) * time.Second
			cleared := s.Nonces.GC(s.Clock.Now(), retention)
			if cleared > 0 {
				s.logger.Debug("nonce sweep", zap.Int("cleared", cleared))
			}
			if n, err := s.Trust.ReviewAllQuarantined(ctx); err != nil {
				s.logger.Warn("quarantine review failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Debug("quarantine review", zap.Int("reviewed", n))
			}
			if n, err := s.Chain.Reconcile(ctx, s.Decisions); err != nil {
				s.logger.Warn("vdf reconciliation failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Warn("vdf reconciliation filled gaps", zap.Int("links_appended", n))
			}
		}
	}
}
