package trust

import (
	"sync"
	"time"

	"github.com/aegisway/tollguard/internal/clockservice"
	"github.com/aegisway/tollguard/internal/policy"
	"github.com/aegisway/tollguard/internal/registry"
	"go.uber.org/zap"
)

// recentTag is one tag_hash observed from a reader, kept just long enough
// to support suspicion propagation on that reader's next quarantine entry.
type recentTag struct {
	tagHash string
	seenAt  time.Time
}

// Engine is the C7 component. All mutation of Quarantine, Challenge, and
// Vote state happens under Engine.mu; mutation of Reader state happens
// under the registry's per-reader lock, acquired by every exported method
// that touches a reader.
type Engine struct {
	registry  *registry.Registry
	policy    *policy.Store
	clock     clockservice.Clock
	knownTags KnownTagSource
	logger    *zap.Logger

	mu          sync.Mutex
	suspicions  map[string][]*TagSuspicion
	quarantines map[string]*Quarantine // reader_id -> current episode
	challenges  map[string][]*Challenge // quarantine_id -> issued challenges
	votes       map[string][]*Vote      // quarantine_id -> cast votes
	recentTags  map[string][]recentTag  // reader_id -> recently seen tags
}

// TagSuspicion is a cross-reader fraud-sensitivity flag on a tag_hash,
// raised whenever the reader that last saw it is quarantined.
type TagSuspicion struct {
	TagHash        string
	SourceReaderID string
	Multiplier     float64
	ExpiresAt      time.Time
}

// NewEngine wires the trust engine from its collaborators.
func NewEngine(reg *registry.Registry, pol *policy.Store, clock clockservice.Clock, knownTags KnownTagSource, logger *zap.Logger) *Engine {
	return &Engine{
		registry:    reg,
		policy:      pol,
		clock:       clock,
		knownTags:   knownTags,
		logger:      logger,
		suspicions:  make(map[string][]*TagSuspicion),
		quarantines: make(map[string]*Quarantine),
		challenges:  make(map[string][]*Challenge),
		votes:       make(map[string][]*Vote),
		recentTags:  make(map[string][]recentTag),
	}
}

// RecordTagSeen notes that readerID observed tagHash at t, feeding
// propagateTagSuspicion should this reader later be quarantined. Called by
// the ingest/anchor pipeline for every accepted event.
func (e *Engine) RecordTagSeen(readerID, tagHash string, t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentTags[readerID] = append(e.recentTags[readerID], recentTag{tagHash: tagHash, seenAt: t})
}

func (e *Engine) currentQuarantine(readerID string) *Quarantine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quarantines[readerID]
}

func (e *Engine) currentQuarantineByID(id string) *Quarantine {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, q := range e.quarantines {
		if q.ID == id {
			return q
		}
	}
	return nil
}

// ReaderIDForQuarantine returns the reader_id owning quarantineID, for
// callers (the /peer_vote transport) that only have the quarantine id from
// RequestPeerConsensus's caller and need to drive AttemptRestoration
// afterward. Returns "" if no active quarantine has that id.
func (e *Engine) ReaderIDForQuarantine(quarantineID string) string {
	q := e.currentQuarantineByID(quarantineID)
	if q == nil {
		return ""
	}
	return q.ReaderID
}

// TagSuspicionLevel returns the current suspicion multiplier for tagHash
// (1.0 if no active suspicion), used by internal/fraud to scale sensitivity.
func (e *Engine) TagSuspicionLevel(tagHash string) float64 {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	max := 1.0
	for _, s := range e.suspicions[tagHash] {
		if s.ExpiresAt.After(now) && s.Multiplier > max {
			max = s.Multiplier
		}
	}
	return max
}

// CleanupExpiredSuspicions removes every TagSuspicion past its expiry, per
// the periodic sweep original_source/backend/self_healing_trust.py runs as
// cleanup_expired_suspicions.
func (e *Engine) CleanupExpiredSuspicions(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for tag, list := range e.suspicions {
		kept := list[:0]
		for _, s := range list {
			if s.ExpiresAt.After(now) {
				kept = append(kept, s)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(e.suspicions, tag)
		} else {
			e.suspicions[tag] = kept
		}
	}
	return removed
}

func (e *Engine) propagateTagSuspicion(readerID string, pol *policy.Policy) {
	now := e.clock.Now()
	cutoff := now.Add(-pol.SuspicionWindow)
	expiresAt := now.Add(pol.SuspicionTTL)

	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool)
	for _, rt := range e.recentTags[readerID] {
		if rt.seenAt.Before(cutoff) || seen[rt.tagHash] {
			continue
		}
		seen[rt.tagHash] = true

		list := e.suspicions[rt.tagHash]
		replaced := false
		for _, s := range list {
			if s.SourceReaderID == readerID {
				s.Multiplier = pol.SuspicionMultiplier
				s.ExpiresAt = expiresAt
				replaced = true
				break
			}
		}
		if !replaced {
			e.suspicions[rt.tagHash] = append(list, &TagSuspicion{
				TagHash:        rt.tagHash,
				SourceReaderID: readerID,
				Multiplier:     pol.SuspicionMultiplier,
				ExpiresAt:      expiresAt,
			})
		}
	}
}

func (e *Engine) clearTagSuspicionsFrom(readerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for tag, list := range e.suspicions {
		kept := list[:0]
		for _, s := range list {
			if s.SourceReaderID != readerID {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(e.suspicions, tag)
		} else {
			e.suspicions[tag] = kept
		}
	}
}
