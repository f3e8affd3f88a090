package reconciler

import (
	"strings"

	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/normalize"
)

// Rule names the predicate that decided an Outcome.
type Rule string

const (
	RuleLocked  Rule = "locked"
	RuleSettled Rule = "settled"
	RuleUnpaid  Rule = "unpaid"
	RuleAmnesty Rule = "amnesty"
	RuleLate    Rule = "late_payment"
)

// LockedText is the ledger status that forces a row to Locked.
const LockedText = "KHOÁ NƯỚC"

var lockedFolded = normalize.Fold(LockedText)

// Evidence is everything Classify looks at for one row. Effective and
// Deadline must already share a representation (see AlignToSeries and
// DeadlineStamp).
type Evidence struct {
	TextStatus    string
	Effective     *models.Stamp
	UnpaidPeriods string
	LatestPeriod  string
	Deadline      models.Stamp
}

// Outcome is the classified status together with the settlement date
// that survives classification.
type Outcome struct {
	Status    models.DebtStatus
	Effective *models.Stamp
	Rule      Rule
}

// Classify assigns the debt status of one row. The first matching rule
// wins:
//
//  1. the ledger says the water is locked;
//  2. a settlement date is after the deadline (late payment, date dropped);
//  3. a settlement date exists;
//  4. the account has no open period, or only the latest one (amnesty);
//  5. unpaid.
//
// Late payment is checked before settlement and amnesty so it overrides
// both, but never the lock.
func Classify(ev Evidence) (Outcome, error) {
	if normalize.Fold(ev.TextStatus) == lockedFolded {
		return Outcome{Status: models.StatusLocked, Effective: ev.Effective, Rule: RuleLocked}, nil
	}

	if ev.Effective != nil {
		late, err := ev.Effective.After(ev.Deadline)
		if err != nil {
			return Outcome{}, err
		}
		if late {
			return Outcome{Status: models.StatusUnpaid, Rule: RuleLate}, nil
		}
		return Outcome{Status: models.StatusPaid, Effective: ev.Effective, Rule: RuleSettled}, nil
	}

	if amnesty(ev.UnpaidPeriods, ev.LatestPeriod) {
		return Outcome{Status: models.StatusPaid, Rule: RuleAmnesty}, nil
	}
	return Outcome{Status: models.StatusUnpaid, Rule: RuleUnpaid}, nil
}

func amnesty(unpaid, latest string) bool {
	unpaid = strings.TrimSpace(unpaid)
	if unpaid == "" {
		return true
	}
	return latest != "" && unpaid == latest
}

// EffectiveSettlement prefers the gateway's confirmation over the
// billing system's settlement date.
func EffectiveSettlement(gateway, billing *models.Stamp) *models.Stamp {
	if gateway != nil {
		return gateway
	}
	return billing
}
