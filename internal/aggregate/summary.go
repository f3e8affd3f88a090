// Package aggregate rolls reconciled rows up into the report tables:
// the group/day summary, the per-account detail, the lock/unlock/payment
// statistics and the completion ratios. Every rollup is a pure function
// and renders its fixed schema through Table.
package aggregate

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/normalize"
)

// TotalLabel marks the totals row of every table.
const TotalLabel = "Tổng cộng"

// Group/day summary columns.
const (
	ColGroup       = "Nhóm"
	ColAssignedDay = "Ngày Giao"
	ColCount       = "Số Lượng"
	ColPaid        = "Đã Thanh Toán"
	ColLocked      = "Số Lượng Khóa"
	ColReopened    = "Số Lượng Mở"
	ColCompletion  = "% Hoàn thành"
)

// SummaryRow counts the distinct accounts one group was assigned on one day.
type SummaryRow struct {
	Group    string
	Date     time.Time
	Count    int
	Paid     int
	Locked   int
	Reopened int
}

// Completion is (paid + locked) / count as a two-decimal percentage.
func (r SummaryRow) Completion() string {
	return percent(r.Paid+r.Locked, r.Count)
}

func (r *SummaryRow) add(o SummaryRow) {
	r.Count += o.Count
	r.Paid += o.Paid
	r.Locked += o.Locked
	r.Reopened += o.Reopened
}

// Summary is the group/day table with its totals row.
type Summary struct {
	Rows        []SummaryRow
	Total       SummaryRow
	SingleGroup bool
}

// Empty reports whether nothing could be grouped.
func (s Summary) Empty() bool {
	return len(s.Rows) == 0
}

type summaryKey struct {
	day     time.Time
	group   string
	account string
}

// BuildSummary dedupes rows by (assigned day, group, account), keeping the
// first occurrence, and counts them per (group, day). Rows without an
// assigned date cannot be placed and are skipped.
func BuildSummary(rows []models.ReconciledRow, singleGroup bool) Summary {
	seen := make(map[summaryKey]bool, len(rows))
	byGroupDay := make(map[summaryKey]*SummaryRow)
	out := Summary{SingleGroup: singleGroup}

	for i := range rows {
		r := &rows[i]
		if r.AssignedDate == nil {
			continue
		}
		day := normalize.DayOf(*r.AssignedDate)
		key := summaryKey{day: day, group: r.Group, account: r.AccountID}
		if seen[key] {
			continue
		}
		seen[key] = true

		gk := summaryKey{day: day, group: r.Group}
		agg, ok := byGroupDay[gk]
		if !ok {
			agg = &SummaryRow{Group: r.Group, Date: day}
			byGroupDay[gk] = agg
		}
		agg.Count++
		if r.Status == models.StatusPaid {
			agg.Paid++
		}
		if r.IsLocked {
			agg.Locked++
		}
		if r.IsReopened {
			agg.Reopened++
		}
	}

	for _, agg := range byGroupDay {
		out.Rows = append(out.Rows, *agg)
		out.Total.add(*agg)
	}
	sort.Slice(out.Rows, func(i, j int) bool {
		if out.Rows[i].Group != out.Rows[j].Group {
			return out.Rows[i].Group < out.Rows[j].Group
		}
		return out.Rows[i].Date.Before(out.Rows[j].Date)
	})
	return out
}

// Table renders the summary. The group column is dropped for a single
// group report; the totals row has a blank group.
func (s Summary) Table() *gateway.Table {
	columns := []string{ColGroup, ColAssignedDay, ColCount, ColPaid, ColLocked, ColReopened, ColCompletion}
	if s.SingleGroup {
		columns = columns[1:]
	}
	t := gateway.NewTable(columns...)
	if s.Empty() {
		return t
	}

	for _, r := range s.Rows {
		t.Rows = append(t.Rows, summaryCells(r, r.Date.Format(normalize.DisplayDateLayout)))
	}
	total := summaryCells(s.Total, TotalLabel)
	total[ColGroup] = ""
	t.Rows = append(t.Rows, total)
	return t
}

func summaryCells(r SummaryRow, day string) gateway.Row {
	return gateway.Row{
		ColGroup:       r.Group,
		ColAssignedDay: day,
		ColCount:       strconv.Itoa(r.Count),
		ColPaid:        strconv.Itoa(r.Paid),
		ColLocked:      strconv.Itoa(r.Locked),
		ColReopened:    strconv.Itoa(r.Reopened),
		ColCompletion:  r.Completion(),
	}
}

func percent(part, whole int) string {
	if whole == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(part)/float64(whole)*100)
}
