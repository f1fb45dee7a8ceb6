package trust

import (
	"context"
	"fmt"
	"strings"

	"github.com/aegisway/tollguard/internal/cryptoprim"
	"github.com/aegisway/tollguard/internal/policy"
	"github.com/aegisway/tollguard/internal/registry"
	"github.com/google/uuid"
)

var probationKinds = []ChallengeKind{ChallengeKnownTag, ChallengeTiming, ChallengeHashVerify}

// issueProbationChallenges creates one KNOWN_TAG, one TIMING, and one
// HASH_VERIFY challenge per severity level of r's active quarantine, per
// spec.md §4.2's challenge semantics. Caller must hold r's registry lock.
func (e *Engine) issueProbationChallenges(ctx context.Context, r *registry.Reader) error {
	q := e.currentQuarantine(r.ReaderID)
	if q == nil {
		return ErrQuarantineNotFound
	}
	pol := e.policy.Get()
	now := e.clock.Now()

	var issued []*Challenge
	for level := 0; level < q.SeverityLevel; level++ {
		for _, kind := range probationKinds {
			ch := &Challenge{
				ID:           uuid.NewString(),
				ReaderID:     r.ReaderID,
				QuarantineID: q.ID,
				Kind:         kind,
				MaxAttempts:  pol.ChallengeMaxAttempts,
				IssuedAt:     now,
				ExpiresAt:    now.Add(pol.ChallengeTTL),
			}
			switch kind {
			case ChallengeKnownTag:
				if e.knownTags != nil {
					if tag, err := e.knownTags.RandomTagHash(ctx); err == nil {
						ch.ExpectedTagHash = tag
					}
				}
			case ChallengeTiming:
				nonce, err := cryptoprim.RandomNonce(16)
				if err != nil {
					return fmt.Errorf("trust.issueProbationChallenges: %w", err)
				}
				ch.Nonce = nonce
				ch.MaxResponseMS = pol.TimingWindowMs
			case ChallengeHashVerify:
				nonce, err := cryptoprim.RandomNonce(16)
				if err != nil {
					return fmt.Errorf("trust.issueProbationChallenges: %w", err)
				}
				ch.Nonce = nonce
				ch.ExpectedHash = cryptoprim.DigestHex([]byte(nonce))
			}
			issued = append(issued, ch)
		}
	}

	e.mu.Lock()
	e.challenges[q.ID] = issued
	q.Status = QuarantineProbation
	q.ProbationStartedAt = now
	e.mu.Unlock()
	return nil
}

// ValidateProbationResponse checks one reader's attempt at one issued
// challenge. Passing a challenge is idempotent once already PASS; running
// out of attempts or expiring the challenge fails it and returns the
// reader to QUARANTINED at incremented severity, per spec.md §4.2.
func (e *Engine) ValidateProbationResponse(ctx context.Context, readerID, challengeID string, resp ChallengeResponse) (string, error) {
	unlock := e.registry.Lock(readerID)
	defer unlock()

	ch := e.findChallenge(readerID, challengeID)
	if ch == nil {
		return "", ErrChallengeNotFound
	}
	if ch.Result == "PASS" {
		return "PASS", nil
	}

	now := e.clock.Now()
	if now.After(ch.ExpiresAt) {
		return e.failChallenge(ctx, readerID, ch)
	}

	e.mu.Lock()
	ch.AttemptCount++
	attemptCount, maxAttempts := ch.AttemptCount, ch.MaxAttempts
	e.mu.Unlock()

	if attemptCount > maxAttempts {
		return e.failChallenge(ctx, readerID, ch)
	}

	passed := evaluateChallenge(ch, resp)
	e.mu.Lock()
	if passed {
		ch.Result = "PASS"
	}
	e.mu.Unlock()
	if passed {
		return "PASS", nil
	}

	if attemptCount >= maxAttempts {
		return e.failChallenge(ctx, readerID, ch)
	}
	return "RETRY", nil
}

func evaluateChallenge(ch *Challenge, resp ChallengeResponse) bool {
	switch ch.Kind {
	case ChallengeKnownTag:
		return ch.ExpectedTagHash != "" && strings.EqualFold(resp.TagHash, ch.ExpectedTagHash)
	case ChallengeTiming:
		return resp.Nonce == ch.Nonce && resp.ResponseTimeMS <= ch.MaxResponseMS
	case ChallengeHashVerify:
		return strings.EqualFold(resp.Hash, ch.ExpectedHash)
	default:
		return false
	}
}

func (e *Engine) failChallenge(ctx context.Context, readerID string, ch *Challenge) (string, error) {
	e.mu.Lock()
	ch.Result = "FAIL"
	e.mu.Unlock()

	if _, err := e.applyPenaltyLocked(ctx, readerID, policy.ViolationProbationFailure, 1.0); err != nil {
		return "", fmt.Errorf("trust.failChallenge: %w", err)
	}
	if err := e.returnToQuarantineLocked(ctx, readerID, policy.ViolationProbationFailure); err != nil {
		return "", fmt.Errorf("trust.failChallenge: %w", err)
	}
	return "FAIL", nil
}

func (e *Engine) findChallenge(readerID, challengeID string) *Challenge {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, list := range e.challenges {
		for _, c := range list {
			if c.ID == challengeID && c.ReaderID == readerID {
				return c
			}
		}
	}
	return nil
}

func (e *Engine) allChallengesPassed(quarantineID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.challenges[quarantineID]
	if len(list) == 0 {
		return false
	}
	for _, c := range list {
		if c.Result != "PASS" {
			return false
		}
	}
	return true
}
