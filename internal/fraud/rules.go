package fraud

import "github.com/aegisway/tollguard/internal/policy"

// evaluateRules applies the rule layer, per spec.md §4.3. isDuplicate is
// computed by the caller against its scan-window tracker.
func evaluateRules(ev Event, pol *policy.Policy, isDuplicate bool) []RuleFlag {
	var flags []RuleFlag

	if ev.AmountCents <= 0 {
		flags = append(flags, FlagNonPositiveAmount)
	}
	if float64(ev.AmountCents)/100 > pol.AmountCeiling {
		flags = append(flags, FlagAmountCeiling)
	}
	if ceiling, ok := pol.TariffCeilingByType[ev.VehicleType]; ok && float64(ev.AmountCents)/100 > ceiling {
		flags = append(flags, FlagTypeTariffMismatch)
	}
	if isDuplicate {
		flags = append(flags, FlagDuplicateScanWindow)
	}
	return flags
}

func hasCriticalFlag(flags []RuleFlag) bool {
	for _, f := range flags {
		if criticalFlags[f] {
			return true
		}
	}
	return false
}
