package fraud

import (
	"fmt"

	"github.com/aegisway/tollguard/internal/policy"
	"github.com/aegisway/tollguard/internal/registry"
)

// minSuspicionThreshold floors how far tag-suspicion can push the ML block
// threshold down, so a long-lived suspicion can't alone force every score
// above zero into a block.
const minSuspicionThreshold = 0.1

// fuse implements spec.md §4.3's fusion rule. block if: a critical rule flag
// fires; ml_a and ml_b both clear policy.ml_block_threshold with iso_flag=1;
// or the reader is DEGRADED and any rule flag fired. Reason codes carry
// every contributing flag, not only the first. suspicion is the tag_hash's
// current suspicion multiplier (1.0 if none) from a reader quarantine that
// propagated per §4.2; it raises sensitivity the same way a DEGRADED reader
// does — scaling down the ML block threshold and turning any rule flag into
// a block on its own.
func fuse(readerStatus registry.Status, flags []RuleFlag, mlA, mlB *float64, iso *int, pol *policy.Policy, suspicion float64) Decision {
	d := Decision{RuleFlags: flags, MLA: mlA, MLB: mlB, IsoFlag: iso}

	for _, f := range flags {
		d.ReasonCodes = append(d.ReasonCodes, string(f))
	}

	if hasCriticalFlag(flags) {
		d.Blocked = true
	}

	threshold := pol.MLBlockThreshold
	if suspicion > 1.0 {
		threshold /= suspicion
		if threshold < minSuspicionThreshold {
			threshold = minSuspicionThreshold
		}
	}
	mlHigh := mlA != nil && mlB != nil && iso != nil &&
		*mlA >= threshold && *mlB >= threshold && *iso == 1
	if mlHigh {
		d.Blocked = true
		d.ReasonCodes = append(d.ReasonCodes, "ML_HIGH_CONFIDENCE")
	}

	if readerStatus == registry.StatusDegraded && len(flags) > 0 {
		d.Blocked = true
		d.ReasonCodes = append(d.ReasonCodes, "DEGRADED_READER_RULE_FLAG")
	}

	if suspicion > 1.0 && len(flags) > 0 {
		d.Blocked = true
		d.ReasonCodes = append(d.ReasonCodes, "TAG_SUSPECT_RULE_FLAG")
	}

	return d
}

// violationClass reports which trust-engine violation class a blocked
// decision should raise: rule flags take precedence over an ML-only block.
func violationClass(d Decision) string {
	if len(d.RuleFlags) > 0 {
		return policy.ViolationFraudRule
	}
	return policy.ViolationFraudML
}

func formatMLScore(v *float64) string {
	if v == nil {
		return "unavailable"
	}
	return fmt.Sprintf("%.3f", *v)
}
