package gateway

import (
	"strings"
)

// Row is one record of a fetched table. Every cell arrives as text;
// typed conversion happens in the sources adapters.
type Row map[string]string

// Table is an ordered set of columns and the rows fetched for them.
// Missing cells read as "".
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// NewTable creates an empty table with the given header.
func NewTable(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows; nil tables are empty.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether the table holds no rows.
func (t *Table) Empty() bool {
	return t.Len() == 0
}

// HasColumn reports whether name is part of the header.
func (t *Table) HasColumn(name string) bool {
	if t == nil {
		return false
	}
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// AddColumn appends name to the header if it is not there yet.
func (t *Table) AddColumn(name string) {
	if !t.HasColumn(name) {
		t.Columns = append(t.Columns, name)
	}
}

// Append adds a row, extending the header with unseen columns in the
// order they are encountered in keys.
func (t *Table) Append(row Row, keys ...string) {
	for _, k := range keys {
		t.AddColumn(k)
	}
	t.Rows = append(t.Rows, row)
}

// AppendValues adds a row given positionally in header order.
func (t *Table) AppendValues(values ...string) {
	row := make(Row, len(t.Columns))
	for i, c := range t.Columns {
		if i < len(values) {
			row[c] = values[i]
		}
	}
	t.Rows = append(t.Rows, row)
}

// Values returns a row's cells in header order.
func (t *Table) Values(row Row) []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = row[c]
	}
	return out
}

// Concat merges other into t. Columns unknown to t are appended.
func (t *Table) Concat(other *Table) {
	if other == nil {
		return
	}
	for _, c := range other.Columns {
		t.AddColumn(c)
	}
	t.Rows = append(t.Rows, other.Rows...)
}

// Get returns the trimmed cell value, matching the column name
// case-insensitively when no exact match exists. Gateway functions differ
// in the casing they return (DanhBa vs DANHBA).
func (r Row) Get(column string) string {
	if v, ok := r[column]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
