package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"ghithu-reconciliation-service/internal/aggregate"
	"ghithu-reconciliation-service/internal/dashboard"
	"ghithu-reconciliation-service/internal/debtfilter"
	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/report"
	apperrors "ghithu-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func june(d int) time.Time {
	return time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
}

func weeklyResult() *report.Result {
	return &report.Result{
		Request: report.Request{Start: june(2), End: june(6), Deadline: june(10), Group: "Sang Sơn"},
		Summary: aggregate.Summary{
			Rows:  []aggregate.SummaryRow{{Group: "Sang Sơn", Date: june(2), Count: 3, Paid: 1, Locked: 1}},
			Total: aggregate.SummaryRow{Count: 3, Paid: 1, Locked: 1},
		},
		Details: aggregate.Details{Accounts: []aggregate.AccountDetail{
			{AccountID: "00000000001", CustomerName: "Nguyễn Văn A", Status: models.StatusPaid},
		}},
		Pie: []aggregate.PieSlice{{Group: "Sang Sơn", Completed: 2, NotCompleted: 1}},
	}
}

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectError bool
	}{
		{"default config", nil, false},
		{"valid config", DefaultConfig(), false},
		{"invalid format", &Config{Format: "html", TableMaxWidth: 120, CSVDelimiter: ','}, true},
		{"table width too small", &Config{Format: FormatConsole, TableMaxWidth: 10, CSVDelimiter: ','}, true},
		{"quote delimiter", &Config{Format: FormatCSV, TableMaxWidth: 120, CSVDelimiter: '"'}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, err := NewGenerator(tt.config, nil)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil || gen == nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"console", "JSON", " csv ", "xlsx", "pdf"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("%q: unexpected error %v", s, err)
		}
	}
	_, err := ParseFormat("docx")
	if rerr, ok := apperrors.AsReconcilerError(err); !ok || rerr.Code != apperrors.CodeInvalidFormat {
		t.Errorf("expected invalid format, got %v", err)
	}
	if !FormatPDF.Binary() || FormatCSV.Binary() || FormatXLSX.Extension() != ".xlsx" {
		t.Error("unexpected format helpers")
	}
}

func TestDateLine(t *testing.T) {
	if got := DateLine(june(2), june(2)); got != "Ngày giao : 02/06/2025" {
		t.Errorf("single day: %q", got)
	}
	if got := DateLine(june(2), june(6)); got != "Thời gian giao: 02/06/2025 đến 06/06/2025" {
		t.Errorf("window: %q", got)
	}
}

func TestStaffLine(t *testing.T) {
	cfg := PDFConfig{Staff: map[string][]string{"Sang Sơn": {"Lê Sang", "Trần Sơn"}}}
	if got := cfg.StaffLine(" Sang Sơn "); got != "Lê Sang, Trần Sơn" {
		t.Errorf("unexpected staff line %q", got)
	}
	if got := cfg.StaffLine(report.AllGroups); got != "Tổng hợp" {
		t.Errorf("unexpected fallback %q", got)
	}

	// viper lowercases keys read from YAML.
	lowered := PDFConfig{Staff: map[string][]string{"sang sơn": {"Lê Sang", "Trần Sơn"}}}
	if got := lowered.StaffOf("Sang Sơn"); len(got) != 2 {
		t.Errorf("StaffOf with lowered key = %v", got)
	}
}

func TestReportDocument(t *testing.T) {
	doc := ReportDocument(weeklyResult())
	var names []string
	for _, nt := range doc.Tables {
		names = append(names, nt.Name)
	}
	want := []string{report.SheetSummary, report.SheetDetails, SheetPie}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("expected sheets %v, got %v", want, names)
	}

	empty := ReportDocument(&report.Result{Empty: true, Message: report.NoDataMessage})
	if len(empty.Tables) != 0 || empty.Notes[len(empty.Notes)-1] != report.NoDataMessage {
		t.Errorf("unexpected empty document %+v", empty)
	}
}

func TestWriteConsole(t *testing.T) {
	gen, _ := NewGenerator(&Config{Format: FormatConsole, TableMaxWidth: 120, MaxRows: 1, CSVDelimiter: ','}, nil)
	var buf bytes.Buffer
	doc := ReportDocument(weeklyResult())
	if err := gen.Write(&buf, doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"BÁO CÁO CÔNG TÁC TUẦN", "=== Tong_Hop_Nhom ===", "Sang Sơn", "... and 1 more"} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	gen, _ := NewGenerator(&Config{Format: FormatCSV, TableMaxWidth: 120, CSVDelimiter: ';', CSVHeaders: true}, nil)
	res := &debtfilter.Result{Records: []models.DebtFilterRecord{{
		DebtFilterKey: models.DebtFilterKey{AccountID: "00000000561", CustomerName: "KH 1"},
		TotalAmount:   decimal.NewFromInt(150000),
		PeriodCount:   2,
		PeriodTags:    "01/2025,03/2025",
	}}}

	var buf bytes.Buffer
	if err := gen.Write(&buf, FilterDocument(res)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := csv.NewReader(&buf)
	r.Comma = ';'
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(records) != 2 || len(records[0]) != len(debtfilter.Columns) {
		t.Fatalf("unexpected records %v", records)
	}
	if records[1][0] != "00000000561" || records[1][4] != "01/2025,03/2025" {
		t.Errorf("unexpected row %v", records[1])
	}
}

func TestWriteJSON(t *testing.T) {
	gen, _ := NewGenerator(&Config{Format: FormatJSON, TableMaxWidth: 120, CSVDelimiter: ','}, nil)
	ov := &dashboard.Overview{TotalDebt: decimal.NewFromInt(360), Debtors: 3}

	var buf bytes.Buffer
	if err := gen.Write(&buf, OverviewDocument(ov)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["total_debt"] != "360" || decoded["debtors"] != float64(3) {
		t.Errorf("unexpected payload %v", decoded)
	}
}

func TestWriteWorkbook(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, ReportDocument(weeklyResult()).Tables); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 3 || sheets[0] != report.SheetSummary || sheets[2] != SheetPie {
		t.Errorf("unexpected sheets %v", sheets)
	}
	rows, err := f.GetRows(report.SheetSummary)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != aggregate.ColGroup || rows[2][1] != aggregate.TotalLabel {
		t.Errorf("unexpected summary sheet %v", rows)
	}

	details, _ := f.GetRows(report.SheetDetails)
	if details[1][0] != "00000000001" {
		t.Errorf("account ids must stay text, got %q", details[1][0])
	}
}

func TestCellValue(t *testing.T) {
	tests := []struct {
		in   string
		want interface{}
	}{
		{"42", int64(42)},
		{"0", int64(0)},
		{"00000000001", "00000000001"},
		{"+84901", "+84901"},
		{"66.67%", "66.67%"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := cellValue(tt.in); got != tt.want {
			t.Errorf("cellValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestWritePDF(t *testing.T) {
	cfg := PDFConfig{
		Staff: map[string][]string{"Sang Sơn": {"Lê Sang", "Trần Sơn"}},
		Now:   func() time.Time { return june(9) },
	}

	var weekly bytes.Buffer
	if err := WriteWeeklyPDF(&weekly, weeklyResult(), cfg); err != nil {
		t.Fatalf("weekly: %v", err)
	}
	if !bytes.HasPrefix(weekly.Bytes(), []byte("%PDF")) {
		t.Error("weekly report is not a PDF")
	}

	var list bytes.Buffer
	tables := FilterDocument(&debtfilter.Result{Empty: true}).Tables
	if err := WriteListPDF(&list, "Lọc dữ liệu tồn", tables, cfg); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !bytes.HasPrefix(list.Bytes(), []byte("%PDF")) {
		t.Error("list is not a PDF")
	}
}

func TestProportional(t *testing.T) {
	tests := []struct {
		weights []int
		grid    int
	}{
		{[]int{1, 1, 1, 1, 1, 1, 1}, 60},
		{[]int{11, 3, 12, 3, 15, 40, 8}, 60},
		{[]int{1}, 60},
	}
	for _, tt := range tests {
		spans := proportional(tt.weights, tt.grid)
		sum := 0
		for _, s := range spans {
			if s < 1 {
				t.Errorf("%v: zero-width column in %v", tt.weights, spans)
			}
			sum += s
		}
		if sum != tt.grid {
			t.Errorf("%v: spans %v add up to %d", tt.weights, spans, sum)
		}
	}
}

func TestSheetName(t *testing.T) {
	if got := sheetName("Nợ/Năm [2025]"); got != "Nợ_Năm (2025)" {
		t.Errorf("unexpected sheet name %q", got)
	}
	if got := sheetName(strings.Repeat("x", 40)); len(got) != maxSheetName {
		t.Errorf("expected truncation, got %d chars", len(got))
	}
}
