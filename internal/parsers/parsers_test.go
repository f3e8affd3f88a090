package parsers

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/pkg/errors"
)

func TestDefaultParseConfig(t *testing.T) {
	config := DefaultParseConfig()

	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter to be ',', got %q", config.Delimiter)
	}
	if !config.TrimLeadingSpace {
		t.Error("Expected TrimLeadingSpace to be true")
	}
	if !config.SkipEmptyRows {
		t.Error("Expected SkipEmptyRows to be true")
	}
	if !config.ValidateEncoding {
		t.Error("Expected ValidateEncoding to be true")
	}
}

func TestReadTable(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		required    []string
		wantRows    int
		wantColumns []string
		wantCode    errors.ErrorCode
	}{
		{
			name:        "ledger export",
			input:       "ID,danh_bo,ngay_giao_ds,nhom\n1,2023123456,01/06/2025,Sang Sơn\n2,123,02/06/2025,Thi Náo\n",
			required:    []string{"danh_bo", "ngay_giao_ds"},
			wantRows:    2,
			wantColumns: []string{"ID", "danh_bo", "ngay_giao_ds", "nhom"},
		},
		{
			name:        "byte order mark and blank rows",
			input:       "\ufeffid_tb,danh_ba\n\n1,123\n,\n2,456\n",
			required:    []string{"id_tb"},
			wantRows:    2,
			wantColumns: []string{"id_tb", "danh_ba"},
		},
		{
			name:        "required header matched case-insensitively",
			input:       "DANH_BO\n123\n",
			required:    []string{"danh_bo"},
			wantRows:    1,
			wantColumns: []string{"DANH_BO"},
		},
		{
			name:        "blank and duplicate headers renamed",
			input:       "a,,a\n1,2,3\n",
			wantRows:    1,
			wantColumns: []string{"a", "column_2", "column_3"},
		},
		{
			name:     "missing required column",
			input:    "ID,nhom\n1,x\n",
			required: []string{"danh_bo"},
			wantCode: errors.CodeMissingColumn,
		},
		{
			name:     "empty file",
			input:    "",
			wantCode: errors.CodeMissingColumn,
		},
		{
			name:     "invalid encoding",
			input:    "ID\n\xff\xfe\n",
			wantCode: errors.CodeInvalidFormat,
		},
	}

	parser := NewWorksheetParser(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, _, err := parser.ReadTable(context.Background(), strings.NewReader(tt.input), "test.csv", tt.required...)

			if tt.wantCode != "" {
				rerr, ok := errors.AsReconcilerError(err)
				if !ok {
					t.Fatalf("expected ReconcilerError, got %v", err)
				}
				if rerr.Code != tt.wantCode {
					t.Errorf("expected code %s, got %s", tt.wantCode, rerr.Code)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if table.Len() != tt.wantRows {
				t.Errorf("expected %d rows, got %d", tt.wantRows, table.Len())
			}
			if strings.Join(table.Columns, "|") != strings.Join(tt.wantColumns, "|") {
				t.Errorf("expected columns %v, got %v", tt.wantColumns, table.Columns)
			}
		})
	}
}

func TestReadTableRaggedRows(t *testing.T) {
	parser := NewWorksheetParser(nil, nil)
	input := "a,b,c\n1\n1,2,3,4\n"

	table, stats, err := parser.ReadTable(context.Background(), strings.NewReader(input), "ragged.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.ShortRecords != 1 || stats.LongRecords != 1 {
		t.Errorf("unexpected stats: %s", stats)
	}
	if got := table.Rows[0].Get("c"); got != "" {
		t.Errorf("short row should read empty trailing cell, got %q", got)
	}
	if got := table.Rows[1].Get("c"); got != "3" {
		t.Errorf("expected 3, got %q", got)
	}
}

func TestReadTableCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	parser := NewWorksheetParser(nil, nil)
	_, _, err := parser.ReadTable(ctx, strings.NewReader("a\n1\n"), "x.csv")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestReadTableFieldLimit(t *testing.T) {
	config := DefaultParseConfig()
	config.MaxFieldSize = 4
	parser := NewWorksheetParser(config, nil)

	_, _, err := parser.ReadTable(context.Background(), strings.NewReader("a\ntoolong\n"), "x.csv")
	rerr, ok := errors.AsReconcilerError(err)
	if !ok || rerr.Code != errors.CodeInvalidData {
		t.Errorf("expected invalid_data, got %v", err)
	}
}

func TestWriteTableRoundTrip(t *testing.T) {
	table := gateway.NewTable("ID", "ten_kh")
	table.AppendValues("1", "Nguyễn, Văn A")

	var buf bytes.Buffer
	if err := WriteTable(&buf, table, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	back, _, err := NewWorksheetParser(nil, nil).ReadTable(context.Background(), &buf, "roundtrip.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := back.Rows[0].Get("ten_kh"); got != "Nguyễn, Văn A" {
		t.Errorf("quoted cell mangled: %q", got)
	}
}
