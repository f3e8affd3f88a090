package aggregate

import (
	"strconv"
	"testing"
	"time"

	"ghithu-reconciliation-service/internal/models"
)

func day(d int) *time.Time {
	t := time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func at(d, hour int) *time.Time {
	t := time.Date(2025, 6, d, hour, 0, 0, 0, time.UTC)
	return &t
}

func row(id, account, group string, assigned *time.Time, status models.DebtStatus) models.ReconciledRow {
	return models.ReconciledRow{
		AssignmentRow: models.AssignmentRow{
			AssignmentRecord: models.AssignmentRecord{ID: id, AccountID: account, Group: group, AssignedDate: assigned},
		},
		Status: status,
	}
}

func paidOn(r models.ReconciledRow, d int) models.ReconciledRow {
	s := models.Naive(2025, 6, d, 10, 0, 0)
	r.EffectiveSettlement = &s
	return r
}

func TestBuildSummary(t *testing.T) {
	locked := row("A3", "00000000003", "Sang Sơn", day(2), models.StatusUnpaid)
	locked.IsLocked = true
	reopened := row("A4", "00000000004", "Sang Sơn", day(2), models.StatusUnpaid)
	reopened.IsLocked, reopened.IsReopened = true, true

	rows := []models.ReconciledRow{
		row("A1", "00000000001", "Sang Sơn", day(2), models.StatusPaid),
		// same account, same day, same group: counted once, first wins
		row("A1", "00000000001", "Sang Sơn", day(2), models.StatusUnpaid),
		row("A2", "00000000002", "Sang Sơn", day(2), models.StatusUnpaid),
		locked,
		reopened,
		row("B1", "00000000005", "Thi Náo", day(3), models.StatusPaid),
		row("B1", "00000000005", "Sang Sơn", day(3), models.StatusUnpaid),
		row("X", "00000000009", "Thi Náo", nil, models.StatusPaid),
	}

	s := BuildSummary(rows, false)
	if len(s.Rows) != 3 {
		t.Fatalf("expected 3 group/day rows, got %d", len(s.Rows))
	}

	first := s.Rows[0]
	if first.Group != "Sang Sơn" || !first.Date.Equal(*day(2)) {
		t.Fatalf("unexpected ordering %+v", s.Rows)
	}
	if first.Count != 4 || first.Paid != 1 || first.Locked != 2 || first.Reopened != 1 {
		t.Errorf("unexpected counts %+v", first)
	}
	if first.Completion() != "75.00%" {
		t.Errorf("unexpected completion %s", first.Completion())
	}
	if s.Rows[2].Group != "Thi Náo" {
		t.Errorf("groups must sort before dates, got %+v", s.Rows)
	}

	// The totals row sums every numeric column.
	var count, paid, lockedSum int
	for _, r := range s.Rows {
		count += r.Count
		paid += r.Paid
		lockedSum += r.Locked
	}
	if s.Total.Count != count || s.Total.Paid != paid || s.Total.Locked != lockedSum {
		t.Errorf("totals %+v do not match rows", s.Total)
	}

	table := s.Table()
	if len(table.Columns) != 7 || table.Columns[0] != ColGroup {
		t.Errorf("unexpected columns %v", table.Columns)
	}
	last := table.Rows[len(table.Rows)-1]
	if last[ColAssignedDay] != TotalLabel || last[ColGroup] != "" {
		t.Errorf("unexpected totals row %v", last)
	}
	if last[ColCount] != strconv.Itoa(count) || last[ColCompletion] != "66.67%" {
		t.Errorf("unexpected totals cells %v", last)
	}
	if table.Rows[0][ColAssignedDay] != "02/06/2025" {
		t.Errorf("dates must render dd/mm/yyyy, got %s", table.Rows[0][ColAssignedDay])
	}
}

func TestBuildSummarySingleGroupAndEmpty(t *testing.T) {
	s := BuildSummary([]models.ReconciledRow{row("A1", "00000000001", "Sang Sơn", day(2), models.StatusPaid)}, true)
	if cols := s.Table().Columns; cols[0] != ColAssignedDay || len(cols) != 6 {
		t.Errorf("group column must be dropped, got %v", cols)
	}

	empty := BuildSummary(nil, false)
	if !empty.Empty() || empty.Table().Len() != 0 {
		t.Error("no rows must produce an empty table without totals")
	}
	if (SummaryRow{}).Completion() != "0.00%" {
		t.Error("zero count must render 0.00%")
	}
}

func TestBuildDetails(t *testing.T) {
	a := row("A1", "00000000002", "Sang Sơn", day(2), models.StatusPaid)
	a.PeriodTag, a.UnpaidPeriods = "05/2025", "05/2025"
	b := a
	b.PeriodTag, b.CustomerName, b.Status = "06/2025", "Nguyễn Văn A", models.StatusUnpaid
	c := a
	c.PeriodTag = "05/2025"
	a = paidOn(a, 3)
	b = paidOn(b, 5)
	other := row("A0", "00000000001", "Sang Sơn", day(2), models.StatusLocked)

	d := BuildDetails([]models.ReconciledRow{a, b, c, other}, FilterAll)
	if len(d.Accounts) != 2 || d.Accounts[0].AccountID != "00000000001" {
		t.Fatalf("expected accounts sorted by id, got %+v", d.Accounts)
	}
	acc := d.Accounts[1]
	if acc.Status != models.StatusPaid {
		t.Errorf("status must come from the first row, got %s", acc.Status)
	}
	if acc.CustomerName != "Nguyễn Văn A" {
		t.Errorf("name must be the first non-empty value, got %q", acc.CustomerName)
	}

	cells := d.Table().Rows[1]
	if cells[ColPeriods] != "05/2025, 06/2025" {
		t.Errorf("unexpected periods %q", cells[ColPeriods])
	}
	if cells[ColSettledOn] != "05/06/2025" {
		t.Errorf("expected latest settlement, got %q", cells[ColSettledOn])
	}
	if d.Table().Rows[0][ColSettledOn] != "" {
		t.Error("missing settlement must render blank")
	}

	locked := BuildDetails([]models.ReconciledRow{a, b, other}, FilterLocked)
	if len(locked.Accounts) != 1 || locked.Accounts[0].Status != models.StatusLocked {
		t.Errorf("unexpected filtered accounts %+v", locked.Accounts)
	}
}

func TestParseStatusFilter(t *testing.T) {
	for _, in := range []string{"", "ALL", " paid", "unpaid", "locked"} {
		if _, err := ParseStatusFilter(in); err != nil {
			t.Errorf("%q: unexpected error %v", in, err)
		}
	}
	if _, err := ParseStatusFilter("late"); err == nil {
		t.Error("unknown filter must be rejected")
	}
}

func TestBuildStatistics(t *testing.T) {
	window := Window{From: *day(2), To: *day(6)}
	rows := []models.ReconciledRow{
		paidOn(row("A1", "00000000001", "Sang Sơn", day(2), models.StatusPaid), 3),
		// same account paid twice that day counts once
		paidOn(row("A1", "00000000001", "Sang Sơn", day(2), models.StatusPaid), 3),
		paidOn(row("A2", "00000000002", "Sang Sơn", day(2), models.StatusPaid), 9),
		paidOn(row("A3", "00000000003", "Sang Sơn", day(2), models.StatusUnpaid), 3),
	}
	locks := []models.LockRecord{
		{ID: "A1", Group: "Sang Sơn", LockedAt: at(3, 9), LockType: "Khóa từ"},
		{ID: "A2", Group: "Sang Sơn", LockedAt: at(3, 10), LockType: "van"},
		{ID: "A3", Group: "Sang Sơn", LockedAt: at(4, 10), LockType: "Nội bộ"},
		{ID: "A3", Group: "Sang Sơn", LockedAt: at(4, 11), LockType: "khóa chì"},
		{ID: "Z9", Group: "Sang Sơn", LockedAt: at(4, 11), LockType: "van"},
		{ID: "A1", Group: "Sang Sơn", LockedAt: at(1, 11), LockType: "van"},
		{ID: "Z8", Group: "Thi Náo", UnlockedAt: at(5, 8)},
		{ID: "Z7", Group: "Sang Sơn", UnlockedAt: at(5, 8)},
	}

	s := BuildStatistics(rows, locks, window, "", false)
	if len(s.Rows) != 4 {
		t.Fatalf("expected 4 day/group rows, got %+v", s.Rows)
	}
	first := s.Rows[0]
	if first.Magnetic != 1 || first.Valve != 1 || first.Payments != 1 {
		t.Errorf("unexpected 03/06 row %+v", first)
	}
	if s.Rows[1].Internal != 1 {
		t.Errorf("unexpected 04/06 row %+v", s.Rows[1])
	}
	if s.Rows[2].Group != "Sang Sơn" || s.Rows[3].Group != "Thi Náo" {
		t.Errorf("rows on one day must sort by group, got %+v", s.Rows)
	}
	if s.Total.Unlocked != 2 || s.Total.Valve != 1 || s.Total.Payments != 1 {
		t.Errorf("unexpected totals %+v", s.Total)
	}
	if len(s.UnknownLockTypes) != 1 || s.UnknownLockTypes[0] != "khóa chì" {
		t.Errorf("unexpected unknown types %v", s.UnknownLockTypes)
	}

	table := s.Table()
	if table.Rows[0][ColDay] != "T3 - 03/06/2025" {
		t.Errorf("unexpected day label %q", table.Rows[0][ColDay])
	}
	if table.Rows[len(table.Rows)-1][ColDay] != TotalLabel {
		t.Error("missing totals row")
	}
}

func TestBuildStatisticsSingleGroupUnlocks(t *testing.T) {
	locks := []models.LockRecord{
		{ID: "Z8", Group: "Thi Náo", UnlockedAt: at(5, 8)},
		{ID: "Z7", Group: "Sang Sơn", UnlockedAt: at(5, 8)},
	}
	s := BuildStatistics(nil, locks, Window{From: *day(1), To: *day(30)}, "Sang Sơn", true)
	if len(s.Rows) != 1 || s.Rows[0].Group != "Sang Sơn" || s.Rows[0].Unlocked != 1 {
		t.Errorf("unexpected rows %+v", s.Rows)
	}
	if cols := s.Table().Columns; len(cols) != 6 || cols[1] != ColMagnetic {
		t.Errorf("group column must be dropped, got %v", cols)
	}
}

func TestBuildStatisticsEmpty(t *testing.T) {
	s := BuildStatistics(nil, nil, Window{From: *day(1), To: *day(2)}, "", false)
	if !s.Empty() || s.Table().Len() != 0 {
		t.Error("no events must give an empty table without totals")
	}
}

func TestDayLabel(t *testing.T) {
	if got := DayLabel(time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)); got != "CN - 08/06/2025" {
		t.Errorf("unexpected sunday label %q", got)
	}
	if got := DayLabel(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)); got != "T2 - 02/06/2025" {
		t.Errorf("unexpected monday label %q", got)
	}
}

func TestParseLockType(t *testing.T) {
	tests := map[string]LockType{
		"Khoá từ":  LockMagnetic,
		"khóa từ":  LockMagnetic,
		" TU ":     LockMagnetic,
		"Khóa van": LockValve,
		"KHOÁ NB":  LockInternal,
		"nội  bộ":  LockInternal,
	}
	for in, want := range tests {
		if got, ok := ParseLockType(in); !ok || got != want {
			t.Errorf("%q: got %q, %v", in, got, ok)
		}
	}
}

func TestBuildPie(t *testing.T) {
	lockedFlag := row("A3", "00000000003", "Sang Sơn", day(2), models.StatusUnpaid)
	lockedFlag.IsLocked = true
	rows := []models.ReconciledRow{
		row("A1", "00000000001", "Sang Sơn", day(2), models.StatusPaid),
		row("A1", "00000000001", "Sang Sơn", day(3), models.StatusUnpaid),
		row("A2", "00000000002", "Sang Sơn", day(2), models.StatusUnpaid),
		lockedFlag,
		row("B1", "00000000004", "Thi Náo", day(2), models.StatusLocked),
	}

	slices := BuildPie(rows, nil)
	if len(slices) != 2 || slices[0].Group != "Sang Sơn" {
		t.Fatalf("unexpected slices %+v", slices)
	}
	if slices[0].Completed != 2 || slices[0].NotCompleted != 1 {
		t.Errorf("unexpected split %+v", slices[0])
	}
	if slices[1].Completed != 1 || slices[1].NotCompleted != 0 {
		t.Errorf("unexpected split %+v", slices[1])
	}

	if got := BuildPie(rows, []string{"Nhóm trống"}); len(got) != 0 {
		t.Errorf("group without accounts must be omitted, got %+v", got)
	}
	if table := PieTable(slices); table.Rows[0][ColCompletion] != "66.67%" {
		t.Errorf("unexpected completion %v", table.Rows[0])
	}
}
