package aggregate

import (
	"strconv"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/models"
)

// Completion ratio columns.
const (
	ColCompleted    = "Hoàn thành"
	ColNotCompleted = "Chưa hoàn thành"
)

// PieSlice is the completion split of one group.
type PieSlice struct {
	Group        string
	Completed    int
	NotCompleted int
}

// Total is the number of distinct accounts of the group.
func (p PieSlice) Total() int {
	return p.Completed + p.NotCompleted
}

// GroupsOf lists the groups of rows in order of first appearance.
func GroupsOf(rows []models.ReconciledRow) []string {
	seen := make(map[string]bool)
	var groups []string
	for i := range rows {
		if g := rows[i].Group; !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	return groups
}

// BuildPie splits the distinct accounts of each group into completed and
// not completed. Only an account's first row counts; it is completed when
// paid, locked by status, or present in the lock ledger. Groups without
// accounts are omitted. A nil groups means every group of rows.
func BuildPie(rows []models.ReconciledRow, groups []string) []PieSlice {
	if groups == nil {
		groups = GroupsOf(rows)
	}

	type tally struct{ total, completed int }
	byGroup := make(map[string]*tally, len(groups))
	seen := make(map[string]map[string]bool, len(groups))
	for _, g := range groups {
		byGroup[g] = &tally{}
		seen[g] = make(map[string]bool)
	}

	for i := range rows {
		r := &rows[i]
		t, ok := byGroup[r.Group]
		if !ok || seen[r.Group][r.AccountID] {
			continue
		}
		seen[r.Group][r.AccountID] = true
		t.total++
		if r.Status.Completed() || r.IsLocked {
			t.completed++
		}
	}

	var out []PieSlice
	for _, g := range groups {
		t := byGroup[g]
		if t.total == 0 {
			continue
		}
		out = append(out, PieSlice{Group: g, Completed: t.completed, NotCompleted: t.total - t.completed})
	}
	return out
}

// PieTable renders the slices as a table, one row per group.
func PieTable(slices []PieSlice) *gateway.Table {
	t := gateway.NewTable(ColGroup, ColCompleted, ColNotCompleted, ColCompletion)
	for _, p := range slices {
		t.AppendValues(p.Group, strconv.Itoa(p.Completed), strconv.Itoa(p.NotCompleted), percent(p.Completed, p.Total()))
	}
	return t
}
