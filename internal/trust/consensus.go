package trust

import (
	"context"
	"fmt"

	"github.com/aegisway/tollguard/internal/registry"
)

// RequestPeerConsensus returns the reader_ids eligible to vote on
// readerID's restoration: every other ACTIVE reader.
func (e *Engine) RequestPeerConsensus(ctx context.Context, readerID string) ([]string, error) {
	q := e.currentQuarantine(readerID)
	if q == nil || q.Status != QuarantineProbation {
		return nil, ErrNoActiveProbation
	}
	readers, err := e.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("trust.RequestPeerConsensus: %w", err)
	}
	var eligible []string
	for _, r := range readers {
		if r.ReaderID == readerID {
			continue
		}
		if r.Status == registry.StatusActive {
			eligible = append(eligible, r.ReaderID)
		}
	}
	return eligible, nil
}

// CastPeerVote records one peer's APPROVE/REJECT vote. Self-votes are
// rejected; a voter's later vote replaces its earlier one (last write
// wins within the voting window), per spec.md §4.2.
func (e *Engine) CastPeerVote(ctx context.Context, quarantineID, voterReaderID, decision, reason string) error {
	if decision != "APPROVE" && decision != "REJECT" {
		return ErrInvalidVote
	}
	q := e.currentQuarantineByID(quarantineID)
	if q == nil {
		return ErrQuarantineNotFound
	}
	if voterReaderID == q.ReaderID {
		return ErrSelfVote
	}
	voter, err := e.registry.Get(ctx, voterReaderID)
	if err != nil {
		return fmt.Errorf("trust.CastPeerVote: %w", err)
	}
	if voter.Status != registry.StatusActive {
		return ErrIneligibleVoter
	}

	vote := &Vote{QuarantineID: quarantineID, VoterReaderID: voterReaderID, Decision: decision, Reason: reason, CastAt: e.clock.Now()}

	e.mu.Lock()
	defer e.mu.Unlock()
	votes := e.votes[quarantineID]
	for i, v := range votes {
		if v.VoterReaderID == voterReaderID {
			votes[i] = vote
			return nil
		}
	}
	e.votes[quarantineID] = append(votes, vote)
	return nil
}

// EvaluateConsensus tallies the votes cast so far on quarantineID against
// policy.consensus_min_voters and policy.consensus_approval_ratio.
func (e *Engine) EvaluateConsensus(quarantineID string) ConsensusResult {
	pol := e.policy.Get()

	e.mu.Lock()
	votes := append([]*Vote(nil), e.votes[quarantineID]...)
	e.mu.Unlock()

	approve, reject := 0, 0
	for _, v := range votes {
		if v.Decision == "APPROVE" {
			approve++
		} else {
			reject++
		}
	}
	total := approve + reject
	if total < pol.ConsensusMinVoters {
		return ConsensusResult{Reached: false, ApproveCount: approve, RejectCount: reject}
	}
	ratio := float64(approve) / float64(total)
	return ConsensusResult{
		Reached:      true,
		Approved:     ratio >= pol.ConsensusApprovalRatio,
		ApproveCount: approve,
		RejectCount:  reject,
		Ratio:        ratio,
	}
}
