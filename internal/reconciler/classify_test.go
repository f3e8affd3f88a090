package reconciler

import (
	"testing"
	"time"

	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/normalize"
)

var ict = time.FixedZone("ICT", 7*3600)

func stamp(s models.Stamp) *models.Stamp { return &s }

func TestClassify(t *testing.T) {
	deadline := normalize.DeadlineStamp(time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC), nil, false)
	onTime := stamp(models.Naive(2025, 5, 20, 9, 0, 0))
	late := stamp(models.Naive(2025, 6, 2, 8, 0, 0))

	tests := []struct {
		name     string
		evidence Evidence
		status   models.DebtStatus
		rule     Rule
		keepDate bool
	}{
		{
			name:     "lock text wins over a settlement",
			evidence: Evidence{TextStatus: "KHOÁ NƯỚC", Effective: onTime, UnpaidPeriods: "01/2025"},
			status:   models.StatusLocked,
			rule:     RuleLocked,
			keepDate: true,
		},
		{
			name:     "lock text wins over a late settlement",
			evidence: Evidence{TextStatus: "  khoá   nước ", Effective: late},
			status:   models.StatusLocked,
			rule:     RuleLocked,
			keepDate: true,
		},
		{
			name:     "lock text with other tone placement",
			evidence: Evidence{TextStatus: "Khóa nước"},
			status:   models.StatusLocked,
			rule:     RuleLocked,
		},
		{
			name:     "settled before the deadline",
			evidence: Evidence{Effective: onTime, UnpaidPeriods: "01/2025,03/2025"},
			status:   models.StatusPaid,
			rule:     RuleSettled,
			keepDate: true,
		},
		{
			name:     "settled after the deadline",
			evidence: Evidence{Effective: late, UnpaidPeriods: ""},
			status:   models.StatusUnpaid,
			rule:     RuleLate,
		},
		{
			name:     "no open period",
			evidence: Evidence{UnpaidPeriods: "  "},
			status:   models.StatusPaid,
			rule:     RuleAmnesty,
		},
		{
			name:     "only the latest period is open",
			evidence: Evidence{UnpaidPeriods: "05/2025", LatestPeriod: "05/2025"},
			status:   models.StatusPaid,
			rule:     RuleAmnesty,
		},
		{
			name:     "older periods are open",
			evidence: Evidence{UnpaidPeriods: "03/2025,05/2025", LatestPeriod: "05/2025"},
			status:   models.StatusUnpaid,
			rule:     RuleUnpaid,
		},
		{
			name:     "unknown latest period never forgives",
			evidence: Evidence{UnpaidPeriods: "05/2025", LatestPeriod: ""},
			status:   models.StatusUnpaid,
			rule:     RuleUnpaid,
		},
		{
			name:     "other free text is ignored",
			evidence: Evidence{TextStatus: "đã mở", UnpaidPeriods: "01/2025", LatestPeriod: "05/2025"},
			status:   models.StatusUnpaid,
			rule:     RuleUnpaid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.evidence.Deadline = deadline
			got, err := Classify(tt.evidence)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Status != tt.status || got.Rule != tt.rule {
				t.Errorf("expected %s/%s, got %s/%s", tt.status, tt.rule, got.Status, got.Rule)
			}
			if (got.Effective != nil) != tt.keepDate {
				t.Errorf("effective date kept=%v, want %v", got.Effective != nil, tt.keepDate)
			}
		})
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	ev := Evidence{
		Effective:     stamp(models.Naive(2025, 6, 1, 0, 0, 0)),
		UnpaidPeriods: "05/2025",
		LatestPeriod:  "05/2025",
		Deadline:      normalize.DeadlineStamp(time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC), nil, false),
	}
	first, _ := Classify(ev)
	second, _ := Classify(ev)
	if first != second {
		t.Errorf("classification changed between runs: %+v vs %+v", first, second)
	}
}

func TestClassifyDeadlineBoundary(t *testing.T) {
	day := time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		at     models.Stamp
		zoned  bool
		status models.DebtStatus
	}{
		{"last second of the day", models.Naive(2025, 5, 31, 23, 59, 59), false, models.StatusPaid},
		{"first second after", models.Naive(2025, 6, 1, 0, 0, 0), false, models.StatusUnpaid},
		{"zoned last second", models.Zoned(time.Date(2025, 5, 31, 23, 59, 59, 0, ict)), true, models.StatusPaid},
		{"zoned first second after", models.Zoned(time.Date(2025, 6, 1, 0, 0, 0, 0, ict)), true, models.StatusUnpaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(Evidence{
				Effective: &tt.at,
				Deadline:  normalize.DeadlineStamp(day, ict, tt.zoned),
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Status != tt.status {
				t.Errorf("expected %s, got %s", tt.status, got.Status)
			}
		})
	}
}

func TestClassifyRejectsMixedTimezones(t *testing.T) {
	_, err := Classify(Evidence{
		Effective: stamp(models.Naive(2025, 5, 1, 0, 0, 0)),
		Deadline:  normalize.DeadlineStamp(time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC), ict, true),
	})
	if err != models.ErrMixedTimezone {
		t.Errorf("expected ErrMixedTimezone, got %v", err)
	}
}

func TestEffectiveSettlement(t *testing.T) {
	gw := stamp(models.Naive(2025, 5, 2, 0, 0, 0))
	bill := stamp(models.Naive(2025, 5, 1, 0, 0, 0))

	if EffectiveSettlement(gw, bill) != gw {
		t.Error("gateway confirmation must win")
	}
	if EffectiveSettlement(nil, bill) != bill {
		t.Error("billing date must be the fallback")
	}
	if EffectiveSettlement(nil, nil) != nil {
		t.Error("no evidence must stay nil")
	}
}
