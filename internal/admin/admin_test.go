package admin

import (
	"context"
	"testing"
	"time"

	"github.com/aegisway/tollguard/internal/anchor"
	"github.com/aegisway/tollguard/internal/cardledger"
	"github.com/aegisway/tollguard/internal/nonceledger"
	"github.com/aegisway/tollguard/internal/policy"
	"github.com/aegisway/tollguard/internal/registry"
	"github.com/aegisway/tollguard/internal/trust"
	"github.com/aegisway/tollguard/internal/vdfchain"
	"go.uber.org/zap"
)

type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time { return c.t }

type fakeLedger struct{}

func (fakeLedger) Submit(_ context.Context, _ string, _ []byte, _, _ int64) (string, error) {
	return "receipt", nil
}

func newTestSurface(t *testing.T) *Surface {
	t.Helper()
	ctx := context.Background()

	regStore := registry.NewMemoryStore()
	reg := registry.New(regStore, nil, zap.NewNop())
	if err := reg.Put(ctx, &registry.Reader{ReaderID: "R1", KeyVersion: 1, TrustScore: 100, Status: registry.StatusActive, CreatedAt: time.Unix(1_700_000_000, 0)}); err != nil {
		t.Fatalf("seed reader: %v", err)
	}

	pol := policy.NewStore(policy.Default())
	cards := cardledger.New()
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	trustEngine := trust.NewEngine(reg, pol, clock, cards, zap.NewNop())

	nonces := nonceledger.New()

	chain, err := vdfchain.New(ctx, vdfchain.NewMemoryStore(), pol, clock, zap.NewNop())
	if err != nil {
		t.Fatalf("vdfchain.New: %v", err)
	}

	anchorQueue := anchor.NewQueue(anchor.NewMemoryStore(), fakeLedger{}, pol, zap.NewNop())

	s, err := New("s3cret-admin-key", reg, trustEngine, nonces, chain, anchorQueue, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestAuthenticateAcceptsCorrectKeyRejectsWrong(t *testing.T) {
	s := newTestSurface(t)
	if err := s.Authenticate("s3cret-admin-key"); err != nil {
		t.Fatalf("expected correct key to authenticate, got %v", err)
	}
	if err := s.Authenticate("wrong-key"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for wrong key, got %v", err)
	}
}

func TestRotateReaderSecretIncrementsVersion(t *testing.T) {
	s := newTestSurface(t)
	v, err := s.RotateReaderSecret(context.Background(), "R1")
	if err != nil {
		t.Fatalf("RotateReaderSecret: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected key version 2 after rotation, got %d", v)
	}
}

func TestResetTrustAndForceQuarantine(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	if err := s.ResetTrust(ctx, "R1", 42); err != nil {
		t.Fatalf("ResetTrust: %v", err)
	}
	if err := s.ForceQuarantine(ctx, "R1", "manual review"); err != nil {
		t.Fatalf("ForceQuarantine: %v", err)
	}
}

func TestClearNoncesReturnsCount(t *testing.T) {
	s := newTestSurface(t)
	n := s.ClearNonces(context.Background(), time.Now())
	if n != 0 {
		t.Fatalf("expected zero nonces cleared from an empty ledger, got %d", n)
	}
}

func TestReseedVDFGenesisOnEmptyChainSucceeds(t *testing.T) {
	s := newTestSurface(t)
	if err := s.ReseedVDFGenesis(context.Background(), "new-seed"); err != nil {
		t.Fatalf("ReseedVDFGenesis: %v", err)
	}
}

func TestListPendingAnchorsEmptyInitially(t *testing.T) {
	s := newTestSurface(t)
	pending, err := s.ListPendingAnchors(context.Background())
	if err != nil {
		t.Fatalf("ListPendingAnchors: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending anchors initially, got %d", len(pending))
	}
}

func TestRetryAnchorMissingReturnsError(t *testing.T) {
	s := newTestSurface(t)
	if err := s.RetryAnchor(context.Background(), "does-not-exist"); err == nil {
		t.Fatalf("expected error retrying an unknown anchor id")
	}
}
