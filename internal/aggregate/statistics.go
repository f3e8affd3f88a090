package aggregate

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/normalize"
)

// Statistics columns.
const (
	ColDay      = "Ngày"
	ColMagnetic = "Khoá từ"
	ColValve    = "Khóa van"
	ColInternal = "Khóa NB"
	ColPayments = "Thanh toán ngày"
)

// LockType is the canonical kind of a lock event.
type LockType string

const (
	LockMagnetic LockType = ColMagnetic
	LockValve    LockType = ColValve
	LockInternal LockType = ColInternal
)

var lockTypes = func() map[string]LockType {
	raw := map[string]LockType{
		"khoá từ": LockMagnetic, "từ": LockMagnetic, "tu": LockMagnetic,
		"khóa van": LockValve, "van": LockValve,
		"khóa nb": LockInternal, "nb": LockInternal, "nội bộ": LockInternal,
	}
	folded := make(map[string]LockType, len(raw))
	for k, v := range raw {
		folded[normalize.Fold(k)] = v
	}
	return folded
}()

// ParseLockType maps a ledger loai_khoa value to its kind.
func ParseLockType(raw string) (LockType, bool) {
	t, ok := lockTypes[normalize.Fold(raw)]
	return t, ok
}

// Window is an inclusive range of calendar days.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether the day of t is inside the window.
func (w Window) Contains(t time.Time) bool {
	return normalize.InWindow(t, w.From, w.To)
}

// StatRow counts the events of one (day, group).
type StatRow struct {
	Date     time.Time
	Group    string
	Magnetic int
	Valve    int
	Internal int
	Unlocked int
	Payments int
}

func (r *StatRow) add(o StatRow) {
	r.Magnetic += o.Magnetic
	r.Valve += o.Valve
	r.Internal += o.Internal
	r.Unlocked += o.Unlocked
	r.Payments += o.Payments
}

// Statistics is the lock/unlock/payment table.
type Statistics struct {
	Rows        []StatRow
	Total       StatRow
	SingleGroup bool

	// UnknownLockTypes lists ledger lock types that matched no column.
	UnknownLockTypes []string
}

// Empty reports whether no sub-aggregate produced a row.
func (s Statistics) Empty() bool {
	return len(s.Rows) == 0
}

type statKey struct {
	day   time.Time
	group string
}

// BuildStatistics counts, per day and group inside window:
//   - lock events of the assigned IDs, by lock type,
//   - unlock events of the whole ledger (of group only, when singleGroup),
//   - distinct accounts of the selection paid that day.
//
// The three are outer-joined; a missing cell counts zero.
func BuildStatistics(rows []models.ReconciledRow, locks []models.LockRecord, window Window, group string, singleGroup bool) Statistics {
	out := Statistics{SingleGroup: singleGroup}
	cells := make(map[statKey]*StatRow)
	cell := func(day time.Time, group string) *StatRow {
		k := statKey{day: normalize.DayOf(day), group: group}
		c, ok := cells[k]
		if !ok {
			c = &StatRow{Date: k.day, Group: group}
			cells[k] = c
		}
		return c
	}

	assigned := make(map[string]bool, len(rows))
	for i := range rows {
		if id := strings.TrimSpace(rows[i].ID); id != "" {
			assigned[id] = true
		}
	}

	unknown := make(map[string]bool)
	for _, l := range locks {
		if l.LockedAt == nil || !assigned[strings.TrimSpace(l.ID)] || !window.Contains(*l.LockedAt) {
			continue
		}
		kind, ok := ParseLockType(l.LockType)
		if !ok {
			if !unknown[l.LockType] {
				unknown[l.LockType] = true
				out.UnknownLockTypes = append(out.UnknownLockTypes, l.LockType)
			}
			continue
		}
		c := cell(*l.LockedAt, l.Group)
		switch kind {
		case LockMagnetic:
			c.Magnetic++
		case LockValve:
			c.Valve++
		case LockInternal:
			c.Internal++
		}
	}

	for _, l := range locks {
		if l.UnlockedAt == nil || !window.Contains(*l.UnlockedAt) {
			continue
		}
		if singleGroup && l.Group != group {
			continue
		}
		cell(*l.UnlockedAt, l.Group).Unlocked++
	}

	paid := make(map[statKey]map[string]bool)
	for i := range rows {
		r := &rows[i]
		if r.Status != models.StatusPaid || r.EffectiveSettlement == nil {
			continue
		}
		at := r.EffectiveSettlement.Time
		if !window.Contains(at) {
			continue
		}
		k := statKey{day: normalize.DayOf(at), group: r.Group}
		if paid[k] == nil {
			paid[k] = make(map[string]bool)
		}
		if !paid[k][r.AccountID] {
			paid[k][r.AccountID] = true
			cell(at, r.Group).Payments++
		}
	}

	for _, c := range cells {
		out.Rows = append(out.Rows, *c)
		out.Total.add(*c)
	}
	sort.Slice(out.Rows, func(i, j int) bool {
		if !out.Rows[i].Date.Equal(out.Rows[j].Date) {
			return out.Rows[i].Date.Before(out.Rows[j].Date)
		}
		return out.Rows[i].Group < out.Rows[j].Group
	})
	return out
}

var weekdayLabels = [...]string{
	time.Sunday:    "CN",
	time.Monday:    "T2",
	time.Tuesday:   "T3",
	time.Wednesday: "T4",
	time.Thursday:  "T5",
	time.Friday:    "T6",
	time.Saturday:  "T7",
}

// DayLabel renders "T2 - 02/06/2025".
func DayLabel(day time.Time) string {
	return weekdayLabels[day.Weekday()] + " - " + day.Format(normalize.DisplayDateLayout)
}

// Table renders the statistics. An empty result has no totals row.
func (s Statistics) Table() *gateway.Table {
	columns := []string{ColDay, ColGroup, ColMagnetic, ColValve, ColInternal, ColReopened, ColPayments}
	if s.SingleGroup {
		columns = append(columns[:1:1], columns[2:]...)
	}
	t := gateway.NewTable(columns...)
	if s.Empty() {
		return t
	}
	for _, r := range s.Rows {
		t.Rows = append(t.Rows, statCells(r, DayLabel(r.Date)))
	}
	total := statCells(s.Total, TotalLabel)
	total[ColGroup] = ""
	t.Rows = append(t.Rows, total)
	return t
}

func statCells(r StatRow, day string) gateway.Row {
	return gateway.Row{
		ColDay:      day,
		ColGroup:    r.Group,
		ColMagnetic: strconv.Itoa(r.Magnetic),
		ColValve:    strconv.Itoa(r.Valve),
		ColInternal: strconv.Itoa(r.Internal),
		ColReopened: strconv.Itoa(r.Unlocked),
		ColPayments: strconv.Itoa(r.Payments),
	}
}
