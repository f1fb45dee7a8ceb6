package trust

import (
	"context"
	"testing"
	"time"

	"github.com/aegisway/tollguard/internal/cardledger"
	"github.com/aegisway/tollguard/internal/policy"
	"github.com/aegisway/tollguard/internal/registry"
	"go.uber.org/zap"
)

type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(t *testing.T) (*Engine, *registry.Registry, *manualClock) {
	t.Helper()
	store := registry.NewMemoryStore()
	reg := registry.New(store, nil, zap.NewNop())
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	pol := policy.NewStore(policy.Default())
	cards := cardledger.New()
	cards.Seed(cardledger.Card{TagHash: "tagKnown", BalanceCents: 1000})
	eng := NewEngine(reg, pol, clock, cards, zap.NewNop())

	r := &registry.Reader{ReaderID: "R1", KeyVersion: 1, TrustScore: 100, Status: registry.StatusActive, CreatedAt: clock.Now()}
	if err := reg.Put(context.Background(), r); err != nil {
		t.Fatalf("seed reader: %v", err)
	}
	return eng, reg, clock
}

func TestApplyPenaltyDegradesReader(t *testing.T) {
	eng, reg, _ := newTestEngine(t)
	r, err := eng.ApplyPenalty(context.Background(), "R1", policy.ViolationStaleTimestamp, 1.0)
	if err != nil {
		t.Fatalf("ApplyPenalty: %v", err)
	}
	if r.TrustScore != 95 {
		t.Fatalf("expected score 95 (100 - base_penalty[5]*weight[1]), got %f", r.TrustScore)
	}
	stored, _ := reg.Get(context.Background(), "R1")
	if stored.TrustScore != r.TrustScore {
		t.Fatalf("expected persisted score to match returned score")
	}
}

func TestCriticalViolationTriggersQuarantine(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	r, err := eng.ApplyPenalty(context.Background(), "R1", policy.ViolationBadSignature, 1.0)
	if err != nil {
		t.Fatalf("ApplyPenalty: %v", err)
	}
	if r.Status != registry.StatusQuarantined {
		t.Fatalf("expected critical violation to quarantine reader, got status %s", r.Status)
	}
	if eng.currentQuarantine("R1") == nil {
		t.Fatalf("expected a Quarantine record to exist")
	}
}

func TestScoreBelowQuarantineFloorTriggersQuarantine(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	var r *registry.Reader
	var err error
	for i := 0; i < 20 && (r == nil || r.Status != registry.StatusQuarantined); i++ {
		r, err = eng.ApplyPenalty(ctx, "R1", policy.ViolationRateLimited, 1.0)
		if err != nil {
			t.Fatalf("ApplyPenalty: %v", err)
		}
	}
	if r.Status != registry.StatusQuarantined {
		t.Fatalf("expected reader quarantined once below floor, got %s (score %f)", r.Status, r.TrustScore)
	}
}

func TestQuarantinedReaderDoesNotDecayThroughApplyPenalty(t *testing.T) {
	eng, reg, clock := newTestEngine(t)
	ctx := context.Background()
	if _, err := eng.ApplyPenalty(ctx, "R1", policy.ViolationBadSignature, 1.0); err != nil {
		t.Fatalf("ApplyPenalty: %v", err)
	}
	before, _ := reg.Get(ctx, "R1")

	clock.Advance(48 * time.Hour)
	if _, err := eng.ApplyPenalty(ctx, "R1", policy.ViolationStaleTimestamp, 1.0); err != nil {
		t.Fatalf("ApplyPenalty: %v", err)
	}
	after, _ := reg.Get(ctx, "R1")
	if after.TrustScore >= before.TrustScore {
		t.Fatalf("expected quarantined reader's score to only fall further, before=%f after=%f", before.TrustScore, after.TrustScore)
	}
}

func TestReviewQuarantinePromotesToProbationAndIssuesChallenges(t *testing.T) {
	eng, reg, clock := newTestEngine(t)
	ctx := context.Background()
	if _, err := eng.ApplyPenalty(ctx, "R1", policy.ViolationBadSignature, 1.0); err != nil {
		t.Fatalf("ApplyPenalty: %v", err)
	}

	clock.Advance(200 * time.Hour)
	if err := eng.ReviewQuarantine(ctx, "R1"); err != nil {
		t.Fatalf("ReviewQuarantine: %v", err)
	}

	r, err := reg.Get(ctx, "R1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Status != registry.StatusProbation {
		t.Fatalf("expected reader promoted to PROBATION, got %s (score %f)", r.Status, r.TrustScore)
	}

	q := eng.currentQuarantine("R1")
	if q == nil || q.Status != QuarantineProbation {
		t.Fatalf("expected quarantine record to be in PROBATION status")
	}
	challenges := eng.challenges[q.ID]
	if len(challenges) != 3*q.SeverityLevel {
		t.Fatalf("expected 3 challenges per severity level (severity %d), got %d", q.SeverityLevel, len(challenges))
	}
}

func TestFullSelfHealingRoundTrip(t *testing.T) {
	eng, reg, clock := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.ApplyPenalty(ctx, "R1", policy.ViolationBadSignature, 1.0); err != nil {
		t.Fatalf("ApplyPenalty: %v", err)
	}
	clock.Advance(200 * time.Hour)
	if err := eng.ReviewQuarantine(ctx, "R1"); err != nil {
		t.Fatalf("ReviewQuarantine: %v", err)
	}

	q := eng.currentQuarantine("R1")
	if q == nil {
		t.Fatalf("expected active quarantine")
	}
	for _, ch := range eng.challenges[q.ID] {
		var resp ChallengeResponse
		switch ch.Kind {
		case ChallengeKnownTag:
			resp.TagHash = ch.ExpectedTagHash
		case ChallengeTiming:
			resp.Nonce = ch.Nonce
			resp.ResponseTimeMS = 100
		case ChallengeHashVerify:
			resp.Hash = ch.ExpectedHash
		}
		result, err := eng.ValidateProbationResponse(ctx, "R1", ch.ID, resp)
		if err != nil {
			t.Fatalf("ValidateProbationResponse: %v", err)
		}
		if result != "PASS" {
			t.Fatalf("expected challenge %s to pass, got %s", ch.Kind, result)
		}
	}

	seedPeers(t, reg, "P1", "P2", "P3", "P4", "P5")
	for i, peer := range []string{"P1", "P2", "P3", "P4"} {
		if err := eng.CastPeerVote(ctx, q.ID, peer, "APPROVE", "looks fine"); err != nil {
			t.Fatalf("CastPeerVote %d: %v", i, err)
		}
	}
	if err := eng.CastPeerVote(ctx, q.ID, "P5", "REJECT", "not convinced"); err != nil {
		t.Fatalf("CastPeerVote P5: %v", err)
	}

	result, err := eng.AttemptRestoration(ctx, "R1")
	if err != nil {
		t.Fatalf("AttemptRestoration: %v", err)
	}
	if !result.Success || result.Stage != "RESTORED" {
		t.Fatalf("expected successful restoration, got %+v", result)
	}
	r, _ := reg.Get(ctx, "R1")
	if r.Status != registry.StatusActive {
		t.Fatalf("expected reader ACTIVE after restoration, got %s", r.Status)
	}
	if r.TrustScore != policy.Default().RestoreScore {
		t.Fatalf("expected restore score %f, got %f", policy.Default().RestoreScore, r.TrustScore)
	}
}

func TestSelfVoteRejected(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()
	if _, err := eng.ApplyPenalty(ctx, "R1", policy.ViolationBadSignature, 1.0); err != nil {
		t.Fatalf("ApplyPenalty: %v", err)
	}
	q := eng.currentQuarantine("R1")
	if err := eng.CastPeerVote(ctx, q.ID, "R1", "APPROVE", ""); err != ErrSelfVote {
		t.Fatalf("expected ErrSelfVote, got %v", err)
	}
}

func TestDuplicateVoteOverwritesPreviousVote(t *testing.T) {
	eng, reg, _ := newTestEngine(t)
	ctx := context.Background()
	if _, err := eng.ApplyPenalty(ctx, "R1", policy.ViolationBadSignature, 1.0); err != nil {
		t.Fatalf("ApplyPenalty: %v", err)
	}
	q := eng.currentQuarantine("R1")
	seedPeers(t, reg, "P1")

	if err := eng.CastPeerVote(ctx, q.ID, "P1", "REJECT", "first thought"); err != nil {
		t.Fatalf("CastPeerVote: %v", err)
	}
	if err := eng.CastPeerVote(ctx, q.ID, "P1", "APPROVE", "changed my mind"); err != nil {
		t.Fatalf("CastPeerVote: %v", err)
	}
	result := eng.EvaluateConsensus(q.ID)
	if result.ApproveCount != 1 || result.RejectCount != 0 {
		t.Fatalf("expected latest vote to win, got approve=%d reject=%d", result.ApproveCount, result.RejectCount)
	}
}

func TestTagSuspicionPropagatesOnQuarantine(t *testing.T) {
	eng, _, clock := newTestEngine(t)
	ctx := context.Background()
	eng.RecordTagSeen("R1", "tagA", clock.Now())

	if _, err := eng.ApplyPenalty(ctx, "R1", policy.ViolationBadSignature, 1.0); err != nil {
		t.Fatalf("ApplyPenalty: %v", err)
	}
	if lvl := eng.TagSuspicionLevel("tagA"); lvl <= 1.0 {
		t.Fatalf("expected elevated suspicion for tagA, got %f", lvl)
	}
	if lvl := eng.TagSuspicionLevel("tagUnseen"); lvl != 1.0 {
		t.Fatalf("expected baseline suspicion for an unrelated tag, got %f", lvl)
	}
}

func seedPeers(t *testing.T, reg *registry.Registry, ids ...string) {
	t.Helper()
	for _, id := range ids {
		r := &registry.Reader{ReaderID: id, KeyVersion: 1, TrustScore: 100, Status: registry.StatusActive}
		if err := reg.Put(context.Background(), r); err != nil {
			t.Fatalf("seed peer %s: %v", id, err)
		}
	}
}
