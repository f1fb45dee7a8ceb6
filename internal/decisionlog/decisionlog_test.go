package decisionlog

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreAppendAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	rec := &Record{EventID: "e1", ReaderID: "R1", TagHash: "h1", Timestamp: time.Now(), Decision: "allow"}

	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := store.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ReaderID != "R1" || got.Decision != "allow" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestMemoryStoreGetMissingReturnsErrNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListSinceFiltersByTimestamp(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	if err := store.Append(ctx, &Record{EventID: "old", Timestamp: base}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, &Record{EventID: "new", Timestamp: base.Add(time.Hour)}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	out, err := store.ListSince(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(out) != 1 || out[0].EventID != "new" {
		t.Fatalf("expected only the newer record, got %+v", out)
	}
}
