// Package trust implements the C7 self-healing reader trust engine:
// weighted penalty application with logarithmic decay, autonomous
// quarantine with cross-reader tag suspicion propagation, graduated
// probation challenges, and peer-consensus-gated restoration. It operates
// under the same per-reader logical lock ingest uses (spec.md §5), so a
// penalty and a nonce commit for the same reader never interleave.
package trust

import (
	"context"
	"errors"
	"time"
)

var (
	ErrChallengeNotFound  = errors.New("trust: challenge not found")
	ErrQuarantineNotFound = errors.New("trust: quarantine record not found")
	ErrNoActiveProbation  = errors.New("trust: reader has no active probation")
	ErrSelfVote           = errors.New("trust: a reader cannot vote on its own quarantine")
	ErrIneligibleVoter    = errors.New("trust: voter is not an eligible active reader")
	ErrInvalidVote        = errors.New("trust: vote must be APPROVE or REJECT")
)

// QuarantineStatus tracks a Quarantine record's own lifecycle, distinct
// from the reader's Status field.
type QuarantineStatus string

const (
	QuarantineActive    QuarantineStatus = "ACTIVE"
	QuarantineProbation QuarantineStatus = "PROBATION"
	QuarantineReleased  QuarantineStatus = "RELEASED"
)

// Quarantine is one autonomous-enforcement episode for a reader.
type Quarantine struct {
	ID                 string
	ReaderID           string
	Reason             string
	SeverityLevel      int
	Status             QuarantineStatus
	TrustScoreAtEntry  float64
	EnteredAt          time.Time
	ProbationStartedAt time.Time
	ReleasedAt         time.Time
}

// ChallengeKind enumerates the graduated probation challenge types named
// in spec.md §4.2.
type ChallengeKind string

const (
	ChallengeKnownTag  ChallengeKind = "KNOWN_TAG"
	ChallengeTiming    ChallengeKind = "TIMING"
	ChallengeHashVerify ChallengeKind = "HASH_VERIFY"
)

// Challenge is one issued probation challenge.
type Challenge struct {
	ID              string
	ReaderID        string
	QuarantineID    string
	Kind            ChallengeKind
	ExpectedTagHash string // KNOWN_TAG
	Nonce           string // TIMING / HASH_VERIFY, the server-issued challenge material
	ExpectedHash    string // HASH_VERIFY, SHA-256 hex of Nonce
	MaxResponseMS   int64  // TIMING
	AttemptCount    int
	MaxAttempts     int
	Result          string // "", "PASS", "FAIL"
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

// ChallengeResponse is a reader's attempt at one issued Challenge.
type ChallengeResponse struct {
	TagHash        string
	Nonce          string
	ResponseTimeMS int64
	Hash           string
}

// Vote is one peer's APPROVE/REJECT decision on a quarantine's restoration.
type Vote struct {
	QuarantineID   string
	VoterReaderID  string
	Decision       string
	Reason         string
	CastAt         time.Time
}

// ConsensusResult is the outcome of evaluating a quarantine's peer votes.
type ConsensusResult struct {
	Reached      bool
	Approved     bool
	ApproveCount int
	RejectCount  int
	Ratio        float64
}

// RestorationResult is the outcome of one AttemptRestoration call.
type RestorationResult struct {
	Stage         string
	Success       bool
	NewTrustScore float64
	Consensus     ConsensusResult
}

// KnownTagSource supplies admin-whitelisted tag hashes for KNOWN_TAG
// probation challenges. Satisfied by internal/cardledger.
type KnownTagSource interface {
	RandomTagHash(ctx context.Context) (string, error)
}
