package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/aegisway/tollguard/internal/cardledger"
	"github.com/aegisway/tollguard/internal/cryptoprim"
	"github.com/aegisway/tollguard/internal/nonceledger"
	"github.com/aegisway/tollguard/internal/policy"
	"github.com/aegisway/tollguard/internal/registry"
	"github.com/aegisway/tollguard/internal/trust"
	"go.uber.org/zap"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func newTestVerifier(t *testing.T, secret []byte) (*Verifier, *registry.Registry, fixedClock) {
	t.Helper()
	store := registry.NewMemoryStore()
	reg := registry.New(store, nil, zap.NewNop())
	clock := fixedClock{t: time.Unix(1_700_000_000, 0)}

	r := &registry.Reader{
		ReaderID:   "R1",
		Secret:     secret,
		KeyVersion: 1,
		TrustScore: 100,
		Status:     registry.StatusActive,
	}
	if err := reg.Put(context.Background(), r); err != nil {
		t.Fatalf("seed reader: %v", err)
	}

	pol := policy.NewStore(policy.Default())
	v := NewVerifier(reg, nonceledger.New(), pol, clock, nil, zap.NewNop())
	return v, reg, clock
}

func signEvent(t *testing.T, secret []byte, tagHash, readerID string, ts int64, nonce string) string {
	t.Helper()
	msg := cryptoprim.CanonicalMessage(tagHash, readerID, ts, nonce)
	sig, err := cryptoprim.Sign(secret, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return sig
}

func TestVerifyAcceptsValidEvent(t *testing.T) {
	secret := []byte("reader-secret")
	v, _, clock := newTestVerifier(t, secret)

	ts := clock.Now().Unix()
	ev := TollEvent{
		TagHash: "tag1", ReaderID: "R1", Timestamp: ts, Nonce: "n1", KeyVersion: 1,
	}
	ev.Signature = signEvent(t, secret, ev.TagHash, ev.ReaderID, ev.Timestamp, ev.Nonce)

	dec, err := v.Verify(context.Background(), ev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !dec.Accepted {
		t.Fatalf("expected acceptance, got code %s", dec.Code)
	}
}

func TestVerifyRejectsUnknownReader(t *testing.T) {
	secret := []byte("reader-secret")
	v, _, clock := newTestVerifier(t, secret)

	ev := TollEvent{TagHash: "tag1", ReaderID: "GHOST", Timestamp: clock.Now().Unix(), Nonce: "n1", KeyVersion: 1}
	ev.Signature = signEvent(t, secret, ev.TagHash, ev.ReaderID, ev.Timestamp, ev.Nonce)

	dec, err := v.Verify(context.Background(), ev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if dec.Accepted || dec.Code != CodeUnknownReader {
		t.Fatalf("expected UNKNOWN_READER, got accepted=%v code=%s", dec.Accepted, dec.Code)
	}
}

func TestVerifyRejectsBadKeyVersion(t *testing.T) {
	secret := []byte("reader-secret")
	v, _, clock := newTestVerifier(t, secret)

	ev := TollEvent{TagHash: "tag1", ReaderID: "R1", Timestamp: clock.Now().Unix(), Nonce: "n1", KeyVersion: 0}
	ev.Signature = signEvent(t, secret, ev.TagHash, ev.ReaderID, ev.Timestamp, ev.Nonce)

	dec, err := v.Verify(context.Background(), ev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if dec.Accepted || dec.Code != CodeBadKeyVersion {
		t.Fatalf("expected BAD_KEY_VERSION, got accepted=%v code=%s", dec.Accepted, dec.Code)
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	secret := []byte("reader-secret")
	v, _, clock := newTestVerifier(t, secret)

	ev := TollEvent{
		TagHash: "tag1", ReaderID: "R1", Timestamp: clock.Now().Unix(), Nonce: "n1",
		KeyVersion: 1, Signature: "deadbeef",
	}

	dec, err := v.Verify(context.Background(), ev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if dec.Accepted || dec.Code != CodeBadSignature {
		t.Fatalf("expected BAD_SIGNATURE, got accepted=%v code=%s", dec.Accepted, dec.Code)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	secret := []byte("reader-secret")
	v, _, clock := newTestVerifier(t, secret)

	ts := clock.Now().Unix() - 10_000
	ev := TollEvent{TagHash: "tag1", ReaderID: "R1", Timestamp: ts, Nonce: "n1", KeyVersion: 1}
	ev.Signature = signEvent(t, secret, ev.TagHash, ev.ReaderID, ev.Timestamp, ev.Nonce)

	dec, err := v.Verify(context.Background(), ev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if dec.Accepted || dec.Code != CodeStaleTimestamp {
		t.Fatalf("expected STALE_TIMESTAMP, got accepted=%v code=%s", dec.Accepted, dec.Code)
	}
}

func TestVerifyRejectsReplayedNonce(t *testing.T) {
	secret := []byte("reader-secret")
	v, _, clock := newTestVerifier(t, secret)

	ev := TollEvent{TagHash: "tag1", ReaderID: "R1", Timestamp: clock.Now().Unix(), Nonce: "dup", KeyVersion: 1}
	ev.Signature = signEvent(t, secret, ev.TagHash, ev.ReaderID, ev.Timestamp, ev.Nonce)

	if dec, err := v.Verify(context.Background(), ev); err != nil || !dec.Accepted {
		t.Fatalf("expected first submission accepted, got %+v err=%v", dec, err)
	}
	dec, err := v.Verify(context.Background(), ev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if dec.Accepted || dec.Code != CodeReplay {
		t.Fatalf("expected REPLAY on resubmission, got accepted=%v code=%s", dec.Accepted, dec.Code)
	}
}

func TestVerifyRejectsSuspendedReader(t *testing.T) {
	secret := []byte("reader-secret")
	v, reg, clock := newTestVerifier(t, secret)

	r, err := reg.Get(context.Background(), "R1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	r.Status = registry.StatusSuspended
	if err := reg.Put(context.Background(), r); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ev := TollEvent{TagHash: "tag1", ReaderID: "R1", Timestamp: clock.Now().Unix(), Nonce: "n1", KeyVersion: 1}
	ev.Signature = signEvent(t, secret, ev.TagHash, ev.ReaderID, ev.Timestamp, ev.Nonce)

	dec, err := v.Verify(context.Background(), ev)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if dec.Accepted || dec.Code != CodeReaderSuspended {
		t.Fatalf("expected READER_SUSPENDED, got accepted=%v code=%s", dec.Accepted, dec.Code)
	}
}

func TestVerifyRateLimitsExcessRequests(t *testing.T) {
	secret := []byte("reader-secret")
	v, _, clock := newTestVerifier(t, secret)
	pol := v.policy.Get()
	rejected := false
	for i := 0; i < pol.RateLimitBurst+5; i++ {
		nonce := "n" + string(rune('a'+i))
		ev := TollEvent{TagHash: "tag1", ReaderID: "R1", Timestamp: clock.Now().Unix(), Nonce: nonce, KeyVersion: 1}
		ev.Signature = signEvent(t, secret, ev.TagHash, ev.ReaderID, ev.Timestamp, ev.Nonce)
		dec, err := v.Verify(context.Background(), ev)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if !dec.Accepted && dec.Code == CodeRateLimited {
			rejected = true
			break
		}
	}
	if !rejected {
		t.Fatalf("expected rate limiting to eventually reject a burst of requests")
	}
}

// TestVerifyRejectionDoesNotDeadlockWithRealTrustEngine wires a real
// trust.Engine as the ViolationRecorder, sharing the same *registry.Registry
// the Verifier locks per reader. Verify must call RecordViolation without
// re-acquiring that lock (RecordViolation goes through applyPenaltyLocked,
// not ApplyPenalty) or a rejection path here hangs forever.
func TestVerifyRejectionDoesNotDeadlockWithRealTrustEngine(t *testing.T) {
	secret := []byte("reader-secret")
	store := registry.NewMemoryStore()
	reg := registry.New(store, nil, zap.NewNop())
	clock := fixedClock{t: time.Unix(1_700_000_000, 0)}

	r := &registry.Reader{
		ReaderID:   "R1",
		Secret:     secret,
		KeyVersion: 1,
		TrustScore: 100,
		Status:     registry.StatusActive,
	}
	if err := reg.Put(context.Background(), r); err != nil {
		t.Fatalf("seed reader: %v", err)
	}

	pol := policy.NewStore(policy.Default())
	cards := cardledger.New()
	trustEngine := trust.NewEngine(reg, pol, clock, cards, zap.NewNop())
	v := NewVerifier(reg, nonceledger.New(), pol, clock, trustEngine, zap.NewNop())

	ev := TollEvent{
		TagHash: "tag1", ReaderID: "R1", Timestamp: clock.Now().Unix(), Nonce: "n1",
		KeyVersion: 1, Signature: "deadbeef",
	}

	done := make(chan struct{})
	var dec Decision
	var err error
	go func() {
		dec, err = v.Verify(context.Background(), ev)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Verify deadlocked: rejection path re-acquired the reader's registry lock")
	}

	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if dec.Accepted || dec.Code != CodeBadSignature {
		t.Fatalf("expected BAD_SIGNATURE, got accepted=%v code=%s", dec.Accepted, dec.Code)
	}

	// The registry lock must be released: a following call for the same
	// reader must complete promptly too.
	ev2 := TollEvent{TagHash: "tag1", ReaderID: "R1", Timestamp: clock.Now().Unix(), Nonce: "n2", KeyVersion: 1}
	ev2.Signature = signEvent(t, secret, ev2.TagHash, ev2.ReaderID, ev2.Timestamp, ev2.Nonce)

	done2 := make(chan struct{})
	go func() {
		dec, err = v.Verify(context.Background(), ev2)
		close(done2)
	}()
	select {
	case <-done2:
	case <-time.After(2 * time.Second):
		t.Fatal("Verify deadlocked on a subsequent call: reader lock was never released")
	}
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	// BAD_SIGNATURE is a critical violation, so the first call quarantined
	// the reader and this one is turned away at the status gate.
	if dec.Accepted || dec.Code != CodeReaderSuspended {
		t.Fatalf("expected READER_SUSPENDED after the critical penalty, got accepted=%v code=%s", dec.Accepted, dec.Code)
	}
}
