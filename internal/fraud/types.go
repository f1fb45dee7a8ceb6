// Package fraud implements the fraud decision fusion engine (C8): a rule
// layer, two opaque ML scorers, an isolation-forest flag, and a
// cross-reader outlier check, combined into a single block/allow decision
// that feeds back into the trust engine.
package fraud

import (
	"context"
	"time"
)

// RuleFlag names a single rule-layer trigger, per spec.md §4.3.
type RuleFlag string

const (
	FlagNonPositiveAmount   RuleFlag = "NON_POSITIVE_AMOUNT"
	FlagAmountCeiling       RuleFlag = "AMOUNT_CEILING"
	FlagTypeTariffMismatch  RuleFlag = "TYPE_TARIFF_MISMATCH"
	FlagDuplicateScanWindow RuleFlag = "DUPLICATE_SCAN_WINDOW"
	FlagCrossOutlier        RuleFlag = "CROSS_OUTLIER"
)

// criticalFlags fire a block regardless of the ML layer, mirroring the
// "high_confidence" rules in original_source/backend/detection.py.
var criticalFlags = map[RuleFlag]bool{
	FlagNonPositiveAmount: true,
}

// Event is the fraud-relevant projection of an accepted toll transaction.
// It is intentionally its own type rather than a reuse of ingest.TollEvent:
// by the time a transaction reaches the fraud detector it has already been
// priced against a card, and none of the wire-signature fields matter here.
type Event struct {
	EventID     string
	ReaderID    string
	TagHash     string
	Timestamp   time.Time
	AmountCents int64
	VehicleType string
	TariffClass string
}

// Scorer is an opaque ML collaborator: score(feature_vector) -> [0,1].
// A nil result (no error) means the scorer is unavailable and must
// participate as neutral in fusion, per spec.md §4.3.
type Scorer interface {
	Score(ctx context.Context, ev Event) (*float64, error)
}

// IsolationScorer reports the isolation-forest flag for an event.
type IsolationScorer interface {
	Flag(ctx context.Context, ev Event) (*int, error)
}

// Decision is the fused output of one Evaluate call.
type Decision struct {
	RuleFlags   []RuleFlag
	MLA         *float64
	MLB         *float64
	IsoFlag     *int
	Blocked     bool
	ReasonCodes []string
}
