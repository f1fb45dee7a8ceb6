package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/aegisway/tollguard/internal/clockservice"
	"github.com/aegisway/tollguard/internal/cryptoprim"
	"github.com/aegisway/tollguard/internal/nonceledger"
	"github.com/aegisway/tollguard/internal/policy"
	"github.com/aegisway/tollguard/internal/registry"
	"go.uber.org/zap"
)

// ViolationRecorder is the trust engine's inbound face, as seen from
// ingest. Verify calls it under the reader's registry lock so the penalty
// and any resulting status transition are applied atomically with respect
// to the rest of the ingest sequence for that reader.
type ViolationRecorder interface {
	RecordViolation(ctx context.Context, readerID, violationClass string) (*registry.Reader, error)
}

// Verifier is the C6 component. It runs the eight-step authentication
// sequence from spec.md §4.1 against one TollEvent, in strict order, and
// short-circuits on the first failure.
type Verifier struct {
	registry   *registry.Registry
	nonces     *nonceledger.Ledger
	policy     *policy.Store
	clock      clockservice.Clock
	limiter    *RateLimiter
	violations ViolationRecorder
	logger     *zap.Logger
}

// NewVerifier wires the C6 verifier from its C1-C5 dependencies plus the
// trust engine's violation-recording face.
func NewVerifier(reg *registry.Registry, nonces *nonceledger.Ledger, pol *policy.Store, clock clockservice.Clock, violations ViolationRecorder, logger *zap.Logger) *Verifier {
	return &Verifier{
		registry:   reg,
		nonces:     nonces,
		policy:     pol,
		clock:      clock,
		limiter:    NewRateLimiter(),
		violations: violations,
		logger:     logger,
	}
}

// Verify authenticates one event under the reader's logical lock. It never
// returns a non-nil error for an ordinary rejection; err is reserved for
// unexpected registry/storage failures.
func (v *Verifier) Verify(ctx context.Context, ev TollEvent) (Decision, error) {
	unlock := v.registry.Lock(ev.ReaderID)
	defer unlock()

	reader, err := v.registry.Get(ctx, ev.ReaderID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return Decision{Accepted: false, Code: CodeUnknownReader}, nil
		}
		return Decision{}, fmt.Errorf("ingest.Verify: %w", err)
	}

	pol := v.policy.Get()

	// Step 2: a stale key version is rejected outright; a key version ahead
	// of the reader's current generation falls through to the signature
	// check instead (spec.md §4.1 step 2).
	if ev.KeyVersion < reader.KeyVersion {
		reader = v.penalize(ctx, ev.ReaderID, policy.ViolationBadKeyVersion, reader)
		return Decision{Accepted: false, Code: CodeBadKeyVersion, Reader: reader}, nil
	}

	// Step 3: HMAC signature over the canonical message.
	msg := cryptoprim.CanonicalMessage(ev.TagHash, ev.ReaderID, ev.Timestamp, ev.Nonce)
	ok, err := cryptoprim.Verify(reader.Secret, msg, ev.Signature)
	if err != nil {
		return Decision{}, fmt.Errorf("ingest.Verify: %w", err)
	}
	if !ok {
		reader = v.penalize(ctx, ev.ReaderID, policy.ViolationBadSignature, reader)
		return Decision{Accepted: false, Code: CodeBadSignature, Reader: reader}, nil
	}

	// Step 4: timestamp drift bound.
	if clockservice.Drift(v.clock, ev.Timestamp) > pol.MaxDriftSeconds {
		reader = v.penalize(ctx, ev.ReaderID, policy.ViolationStaleTimestamp, reader)
		return Decision{Accepted: false, Code: CodeStaleTimestamp, Reader: reader}, nil
	}

	// Step 5: replay check against the nonce ledger.
	if v.nonces.Seen(ev.ReaderID, ev.Nonce) {
		reader = v.penalize(ctx, ev.ReaderID, policy.ViolationReplay, reader)
		return Decision{Accepted: false, Code: CodeReplay, Reader: reader}, nil
	}

	// Step 6: token-bucket rate limit.
	if !v.limiter.Allow(ev.ReaderID, pol.RateLimitPerSec, pol.RateLimitBurst, v.clock.Now()) {
		reader = v.penalize(ctx, ev.ReaderID, policy.ViolationRateLimited, reader)
		return Decision{Accepted: false, Code: CodeRateLimited, Reader: reader}, nil
	}

	// Step 7: status gate. A suspended or quarantined reader is rejected
	// without an additional penalty — the status itself already reflects
	// accumulated violations.
	if !reader.Status.IsServing() {
		return Decision{Accepted: false, Code: CodeReaderSuspended, Reader: reader}, nil
	}

	// Step 8: commit the nonce. Everything above this line must succeed
	// before the nonce is considered spent.
	v.nonces.Insert(ev.ReaderID, ev.Nonce, v.clock.Now())

	return Decision{Accepted: true, Code: CodeNone, Reader: reader}, nil
}

func (v *Verifier) penalize(ctx context.Context, readerID, class string, fallback *registry.Reader) *registry.Reader {
	if v.violations == nil {
		return fallback
	}
	updated, err := v.violations.RecordViolation(ctx, readerID, class)
	if err != nil {
		v.logger.Warn("failed to record violation",
			zap.String("reader_id", readerID),
			zap.String("class", class),
			zap.Error(err),
		)
		return fallback
	}
	return updated
}
