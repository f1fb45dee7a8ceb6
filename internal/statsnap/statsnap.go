// Package statsnap maintains the cross-reader transaction-count snapshot
// used by the fraud detector's CROSS_OUTLIER check. spec.md §5 requires
// this stat be "recomputed periodically... into an immutable snapshot read
// by C8 without locking" — modeled here on
// original_source/backend/cross_reader.py's peer-average comparison, but
// precomputed on a ticker instead of queried per-event.
package statsnap

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegisway/tollguard/internal/clockservice"
	"go.uber.org/zap"
)

// Snapshot is an immutable view of trailing-window transaction counts per
// reader, plus their mean, as of ComputedAt.
type Snapshot struct {
	Counts     map[string]int64
	Mean       float64
	ComputedAt time.Time
}

// IsOutlier reports whether readerID's own count exceeds the peer mean by
// more than multiplier, per spec.md §4.3's CROSS_OUTLIER rule. The peer
// mean is taken over every other reader in Counts. A mean of zero (no peer
// traffic yet) never flags an outlier.
func (s *Snapshot) IsOutlier(readerID string, multiplier float64) bool {
	if s == nil || s.Mean <= 0 {
		return false
	}
	var peerTotal int64
	peers := 0
	for id, n := range s.Counts {
		if id == readerID {
			continue
		}
		peerTotal += n
		peers++
	}
	if peers == 0 || peerTotal == 0 {
		return false
	}
	peerMean := float64(peerTotal) / float64(peers)
	return float64(s.Counts[readerID]) > peerMean*multiplier
}

// Recorder tracks recent event timestamps per reader so a Snapshot can be
// computed from them without touching the decision log or the database.
type Recorder struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{events: make(map[string][]time.Time)}
}

// Record notes one accepted event for readerID at t. Called from the
// ingest/fraud pipeline on every processed event, never blocking on the
// snapshot's atomic pointer.
func (r *Recorder) Record(readerID string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[readerID] = append(r.events[readerID], t)
}

// compute prunes events older than window and returns a fresh Snapshot.
func (r *Recorder) compute(now time.Time, window time.Duration) *Snapshot {
	cutoff := now.Add(-window)
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[string]int64, len(r.events))
	var total int64
	activeReaders := 0
	for readerID, ts := range r.events {
		kept := ts[:0]
		for _, t := range ts {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(r.events, readerID)
			continue
		}
		r.events[readerID] = kept
		counts[readerID] = int64(len(kept))
		total += int64(len(kept))
		activeReaders++
	}

	mean := 0.0
	if activeReaders > 0 {
		mean = float64(total) / float64(activeReaders)
	}
	return &Snapshot{Counts: counts, Mean: mean, ComputedAt: now}
}

// Store holds the currently published Snapshot behind an atomic pointer,
// the same swap idiom internal/policy uses for its live policy document.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// Load returns the most recently published snapshot, or an empty one if
// Refresh has never run.
func (s *Store) Load() *Snapshot {
	snap := s.current.Load()
	if snap == nil {
		return &Snapshot{Counts: map[string]int64{}}
	}
	return snap
}

// Refresh recomputes and publishes a new snapshot from rec.
func (s *Store) Refresh(rec *Recorder, now time.Time, window time.Duration) {
	s.current.Store(rec.compute(now, window))
}

// Run recomputes the snapshot every interval until ctx is canceled,
// following the same ticker-driven background-loop shape used by the
// decision log's async batch writer.
func (s *Store) Run(ctx context.Context, rec *Recorder, clock clockservice.Clock, interval, window time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Refresh(rec, clock.Now(), window)
	logger.Info("cross-reader stats snapshot started", zap.Duration("interval", interval), zap.Duration("window", window))

	for {
		select {
		case <-ticker.C:
			s.Refresh(rec, clock.Now(), window)
		case <-ctx.Done():
			return
		}
	}
}
