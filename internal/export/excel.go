package export

import (
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"ghithu-reconciliation-service/internal/aggregate"
	"ghithu-reconciliation-service/internal/report"
	"ghithu-reconciliation-service/pkg/errors"

	"github.com/xuri/excelize/v2"
)

// maxSheetName is Excel's limit on worksheet names.
const maxSheetName = 31

// WriteWorkbook writes one worksheet per table, header row in bold.
// Integer cells are stored as numbers; account numbers and other
// zero-padded codes stay text.
func WriteWorkbook(w io.Writer, tables []report.NamedTable) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return errors.ExportError(errors.CodeRenderFailed, "xlsx", "", err)
	}
	total, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.ExportError(errors.CodeRenderFailed, "xlsx", "", err)
	}

	first := f.GetSheetName(0)
	for i, nt := range tables {
		name := sheetName(nt.Name)
		if i == 0 {
			err = f.SetSheetName(first, name)
		} else {
			_, err = f.NewSheet(name)
		}
		if err != nil {
			return errors.ExportError(errors.CodeRenderFailed, "xlsx", name, err)
		}
		if err := writeSheet(f, name, nt, header, total); err != nil {
			return errors.ExportError(errors.CodeRenderFailed, "xlsx", name, err)
		}
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return errors.ExportError(errors.CodeWriteFailed, "xlsx", "", err)
	}
	return nil
}

func writeSheet(f *excelize.File, name string, nt report.NamedTable, header, total int) error {
	t := nt.Table
	cols := len(t.Columns)
	if cols == 0 {
		return nil
	}

	head := make([]interface{}, cols)
	widths := make([]int, cols)
	for i, c := range t.Columns {
		head[i] = c
		widths[i] = utf8.RuneCountInString(c)
	}
	if err := f.SetSheetRow(name, "A1", &head); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(cols, 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(name, "A1", last, header); err != nil {
		return err
	}

	for r, row := range t.Rows {
		values := t.Values(row)
		cells := make([]interface{}, cols)
		for i, v := range values {
			cells[i] = cellValue(v)
			if n := utf8.RuneCountInString(v); n > widths[i] {
				widths[i] = n
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &cells); err != nil {
			return err
		}
		if isTotalRow(values) {
			end, _ := excelize.CoordinatesToCellName(cols, r+2)
			if err := f.SetCellStyle(name, cell, end, total); err != nil {
				return err
			}
		}
	}

	for i, n := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if n > 60 {
			n = 60
		}
		if err := f.SetColWidth(name, col, col, float64(n+2)); err != nil {
			return err
		}
	}
	return nil
}

// cellValue stores plain integers as numbers. Values with a leading zero
// are identifiers and stay text.
func cellValue(v string) interface{} {
	if v == "" || (len(v) > 1 && v[0] == '0') || strings.HasPrefix(v, "+") {
		return v
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	return v
}

// isTotalRow spots a totals row. The label sits in the first cell, or in
// the second when the first is a blanked group.
func isTotalRow(values []string) bool {
	for i := 0; i < len(values) && i < 2; i++ {
		if values[i] == aggregate.TotalLabel {
			return true
		}
	}
	return false
}

func sheetName(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_", "?", "", "*", "", "[", "(", "]", ")", ":", "").Replace(name)
	if utf8.RuneCountInString(name) > maxSheetName {
		name = string([]rune(name)[:maxSheetName])
	}
	if name == "" {
		return "Sheet1"
	}
	return name
}
