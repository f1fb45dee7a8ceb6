package tollsvc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aegisway/tollguard/internal/cardledger"
	"github.com/aegisway/tollguard/internal/decisionlog"
	"github.com/aegisway/tollguard/internal/fraud"
	"github.com/aegisway/tollguard/internal/ingest"
	"github.com/aegisway/tollguard/internal/policy"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IngestResult is the composed outcome of one toll event flowing through
// verification, pricing, fraud fusion, decision persistence, and (if
// policy.response_awaits_vdf) VDF append.
type IngestResult struct {
	Accepted    bool
	RejectCode  ingest.RejectCode
	EventID     string
	Decision    string
	ReasonCodes []string
	TrustScore  float64
	VDFSeq      *int64
}

// ProcessEvent runs one inbound TollEvent through the full pipeline in the
// order spec.md §5 requires: crypto/replay/rate-limit verification first
// (Verify never writes the nonce until every earlier check has passed), then
// card pricing, then fraud fusion, then persistence, then (synchronously,
// when policy.response_awaits_vdf) the VDF append.
func (s *Service) ProcessEvent(ctx context.Context, ev ingest.TollEvent) (IngestResult, error) {
	decision, err := s.Verifier.Verify(ctx, ev)
	if err != nil {
		return IngestResult{}, fmt.Errorf("tollsvc.ProcessEvent: %w", err)
	}
	if !decision.Accepted {
		return IngestResult{Accepted: false, RejectCode: decision.Code}, nil
	}

	pol := s.Policy.Get()
	eventID := uuid.NewString()

	card, err := s.Cards.Get(ctx, ev.TagHash)
	if err != nil {
		return IngestResult{}, fmt.Errorf("tollsvc.ProcessEvent: %w", err)
	}
	amount, err := s.Cards.PriceFor(ctx, card.TariffClass)
	if err != nil {
		return IngestResult{}, fmt.Errorf("tollsvc.ProcessEvent: %w", err)
	}

	fraudEvent := fraud.Event{
		EventID:     eventID,
		ReaderID:    ev.ReaderID,
		TagHash:     ev.TagHash,
		Timestamp:   time.Unix(ev.Timestamp, 0),
		AmountCents: amount,
		VehicleType: card.VehicleType,
		TariffClass: card.TariffClass,
	}
	fd, err := s.Detector.Evaluate(ctx, fraudEvent, decision.Reader.Status)
	if err != nil {
		return IngestResult{}, fmt.Errorf("tollsvc.ProcessEvent: %w", err)
	}

	verdict := "allow"
	if fd.Blocked {
		verdict = "block"
	} else {
		if _, err = s.Cards.Deduct(ctx, ev.TagHash, amount); err != nil {
			if err == cardledger.ErrInsufficientBalance {
				if _, penErr := s.Trust.ApplyPenalty(ctx, ev.ReaderID, policy.ViolationBalanceManipulation, 1.0); penErr != nil {
					s.logger.Warn("failed to record balance-manipulation penalty", zap.Error(penErr))
				}
				verdict = "block"
				fd.ReasonCodes = append(fd.ReasonCodes, "INSUFFICIENT_BALANCE")
			} else {
				return IngestResult{}, fmt.Errorf("tollsvc.ProcessEvent: %w", err)
			}
		}
	}

	s.StatsRec.Record(ev.ReaderID, time.Unix(ev.Timestamp, 0))

	record := &decisionlog.Record{
		EventID:       eventID,
		ReaderID:      ev.ReaderID,
		TagHash:       ev.TagHash,
		Timestamp:     time.Unix(ev.Timestamp, 0),
		AmountCents:   amount,
		MLA:           fd.MLA,
		MLB:           fd.MLB,
		IsoFlag:       fd.IsoFlag,
		RuleFlags:     flagStrings(fd.RuleFlags),
		TrustSnapshot: decision.Reader.TrustScore,
		Decision:      verdict,
		ReasonCodes:   fd.ReasonCodes,
	}
	if err := s.Decisions.Append(ctx, record); err != nil {
		if verdict == "allow" {
			if refErr := s.Cards.Refund(ctx, ev.TagHash, amount); refErr != nil {
				s.logger.Error("failed to refund deduction after decision persistence failure",
					zap.String("tag_hash", ev.TagHash), zap.Error(refErr))
			}
		}
		return IngestResult{}, fmt.Errorf("tollsvc.ProcessEvent: %w", err)
	}
	s.Events.Write(record)

	result := IngestResult{
		Accepted:    true,
		Decision:    verdict,
		EventID:     eventID,
		ReasonCodes: fd.ReasonCodes,
		TrustScore:  decision.Reader.TrustScore,
	}

	if pol.ResponseAwaitsVDF {
		link, err := s.Chain.Append(ctx, eventID, ev.ReaderID, time.Unix(ev.Timestamp, 0))
		if err != nil {
			return IngestResult{}, fmt.Errorf("tollsvc.ProcessEvent: %w", err)
		}
		s.Anchors.Add(ctx, anchorRef(link))
		result.VDFSeq = &link.Seq
	} else {
		s.vdfQueue <- vdfAppendJob{eventID: eventID, readerID: ev.ReaderID, ts: time.Unix(ev.Timestamp, 0)}
	}

	return result, nil
}

func flagStrings(flags []fraud.RuleFlag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}

func ingestRejectStatus(code ingest.RejectCode) int {
	switch code {
	case ingest.CodeBadKeyVersion, ingest.CodeBadSignature, ingest.CodeUnknownReader:
		return 401
	case ingest.CodeReplay:
		return 409
	case ingest.CodeReaderSuspended:
		return 423
	case ingest.CodeRateLimited:
		return 429
	case ingest.CodeStaleTimestamp:
		return 408
	default:
		return 400
	}
}

func rejectDetail(code ingest.RejectCode) string {
	return strings.ToLower(strings.ReplaceAll(string(code), "_", " "))
}
