package nonceledger

import (
	"context"
	"testing"
	"time"
)

func TestSeenAndInsert(t *testing.T) {
	l := New()
	now := time.Now()

	if l.Seen("R1", "n1") {
		t.Fatalf("expected fresh nonce to be unseen")
	}
	l.Insert("R1", "n1", now)
	if !l.Seen("R1", "n1") {
		t.Fatalf("expected inserted nonce to be seen")
	}
	if l.Seen("R2", "n1") {
		t.Fatalf("expected nonce uniqueness to be scoped per reader")
	}
}

func TestGCRemovesOldRecords(t *testing.T) {
	l := New()
	base := time.Unix(1_700_000_000, 0)
	l.Insert("R1", "old", base.Add(-time.Hour))
	l.Insert("R1", "new", base)

	removed := l.GC(base, 10*time.Minute)
	if removed != 1 {
		t.Fatalf("expected 1 record removed, got %d", removed)
	}
	if l.Seen("R1", "old") {
		t.Fatalf("expected old record to be gone")
	}
	if !l.Seen("R1", "new") {
		t.Fatalf("expected new record to survive GC")
	}
}

func TestClearBefore(t *testing.T) {
	l := New()
	base := time.Unix(1_700_000_000, 0)
	l.Insert("R1", "n1", base.Add(-time.Minute))
	l.Insert("R1", "n2", base.Add(time.Minute))

	removed := l.ClearBefore(context.Background(), base)
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 remaining record, got %d", l.Len())
	}
}
