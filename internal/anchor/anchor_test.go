package anchor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aegisway/tollguard/internal/policy"
	"go.uber.org/zap"
)

type fakeLedger struct {
	mu         sync.Mutex
	failNTimes int
	calls      int
	submitted  []string
}

func (f *fakeLedger) Submit(_ context.Context, clientRef string, _ []byte, _, _ int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failNTimes {
		return "", &TransientError{Err: errors.New("ledger unavailable")}
	}
	f.submitted = append(f.submitted, clientRef)
	return "receipt-" + clientRef[:8], nil
}

func newTestQueue(t *testing.T, ledger LedgerClient) (*Queue, Store) {
	t.Helper()
	pol := policy.Default()
	pol.AnchorBatchSize = 2
	pol.AnchorBackoffBase = time.Millisecond
	pol.AnchorBackoffCap = 5 * time.Millisecond
	store := NewMemoryStore()
	q := NewQueue(store, ledger, policy.NewStore(pol), zap.NewNop())
	return q, store
}

func TestAddFlushesAtBatchSize(t *testing.T) {
	ledger := &fakeLedger{}
	q, store := newTestQueue(t, ledger)
	ctx := context.Background()

	q.Add(ctx, LinkRef{Seq: 1, VDFOutput: []byte("a")})
	q.Add(ctx, LinkRef{Seq: 2, VDFOutput: []byte("b")})

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one anchor batch persisted at batch size, got %d", len(pending))
	}
	if pending[0].SeqFrom != 1 || pending[0].SeqTo != 2 {
		t.Fatalf("expected batch covering seq 1-2, got %d-%d", pending[0].SeqFrom, pending[0].SeqTo)
	}
}

func TestWorkerSubmitsAndMarksSent(t *testing.T) {
	ledger := &fakeLedger{}
	q, store := newTestQueue(t, ledger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go q.Run(ctx, 10*time.Millisecond)

	q.Add(ctx, LinkRef{Seq: 1, VDFOutput: []byte("a")})
	q.Add(ctx, LinkRef{Seq: 2, VDFOutput: []byte("b")})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		pending, _ := store.ListPending(ctx)
		if len(pending) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected anchor to leave PENDING once submitted, still pending: %+v", pending)
	}
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	ledger := &fakeLedger{failNTimes: 2}
	q, store := newTestQueue(t, ledger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go q.Run(ctx, 10*time.Millisecond)
	q.Add(ctx, LinkRef{Seq: 1, VDFOutput: []byte("a")})
	q.Add(ctx, LinkRef{Seq: 2, VDFOutput: []byte("b")})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pending, _ := store.ListPending(ctx)
		if len(pending) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	all, _ := store.ListPending(ctx)
	if len(all) != 0 {
		t.Fatalf("expected anchor eventually submitted after retries, still pending: %+v", all)
	}
	if ledger.calls < 3 {
		t.Fatalf("expected at least 3 submit attempts (2 failures + 1 success), got %d", ledger.calls)
	}
}

func TestMerkleRootStableAndSensitiveToOrder(t *testing.T) {
	a := []LinkRef{{Seq: 1, VDFOutput: []byte("x")}, {Seq: 2, VDFOutput: []byte("y")}}
	b := []LinkRef{{Seq: 2, VDFOutput: []byte("y")}, {Seq: 1, VDFOutput: []byte("x")}}

	r1 := merkleRoot(a)
	r2 := merkleRoot(a)
	if string(r1) != string(r2) {
		t.Fatalf("expected merkleRoot to be deterministic")
	}
	r3 := merkleRoot(b)
	if string(r1) == string(r3) {
		t.Fatalf("expected merkleRoot to depend on link order")
	}
}
