package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "ghithu-reconciliation-service/pkg/errors"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveFetch(t *testing.T) {
	m := New(Config{Command: "report"})

	m.ObserveFetch("f_Select_SQL_Thutien", nil, 200*time.Millisecond, 40)
	m.ObserveFetch("f_Select_SQL_Thutien", nil, 100*time.Millisecond, 2)
	m.ObserveFetch("f_Select_SQL_Nganhang", apperrors.GatewayError(apperrors.CodeTimeout, "f_Select_SQL_Nganhang", nil), time.Second, 0)

	if got := testutil.ToFloat64(m.fetches.WithLabelValues("f_Select_SQL_Thutien", OutcomeOK)); got != 2 {
		t.Errorf("expected 2 billing fetches, got %v", got)
	}
	if got := testutil.ToFloat64(m.fetches.WithLabelValues("f_Select_SQL_Nganhang", "gateway")); got != 1 {
		t.Errorf("expected 1 failed bank fetch, got %v", got)
	}
	if got := testutil.ToFloat64(m.fetchRows.WithLabelValues("f_Select_SQL_Thutien")); got != 42 {
		t.Errorf("expected 42 rows, got %v", got)
	}
}

func TestObserveCacheAndTables(t *testing.T) {
	m := New(Config{})
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(true)
	m.ObserveTable("Tong_Hop_Nhom", 5)
	m.ObserveTable("Tong_Hop_Nhom", 7)

	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")); got != 2 {
		t.Errorf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.tableRows.WithLabelValues("Tong_Hop_Nhom")); got != 7 {
		t.Errorf("expected the last table size, got %v", got)
	}
}

func TestObserveRun(t *testing.T) {
	m := New(Config{Command: "filter"})
	m.now = func() time.Time { return time.Unix(1750000000, 0) }

	m.ObserveRun("debt-filter", 3*time.Second, nil)
	m.ObserveRun("debt-filter", time.Second, errors.New("boom"))

	if got := testutil.ToFloat64(m.runs.WithLabelValues("debt-filter", OutcomeOK)); got != 1 {
		t.Errorf("expected 1 successful run, got %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("debt-filter", "internal")); got != 1 {
		t.Errorf("expected 1 failed run, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastSuccess.WithLabelValues("debt-filter")); got != 1750000000 {
		t.Errorf("unexpected last success %v", got)
	}
	if got := testutil.ToFloat64(m.runDuration.WithLabelValues("debt-filter")); got != 1 {
		t.Errorf("expected the last duration, got %v", got)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{apperrors.SheetError(apperrors.CodeWorksheetNotFound, "database", nil), "sheet"},
		{apperrors.ValidationError(apperrors.CodeInvalidOperator, "operator", "!=", nil), "validation"},
		{errors.New("plain"), "internal"},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestWriteToTextfile(t *testing.T) {
	m := New(Config{Command: "report", Environment: "test"})
	m.ObserveTable("Chi_Tiet_Da_Giao", 12)

	path := filepath.Join(t.TempDir(), "ghithu.prom")
	if err := m.WriteToTextfile(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `ghithu_report_table_rows{command="report",env="test",table="Chi_Tiet_Da_Giao"} 12`) {
		t.Errorf("unexpected textfile:\n%s", data)
	}

	err = m.WriteToTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	if rerr, ok := apperrors.AsReconcilerError(err); !ok || rerr.Category != apperrors.CategoryExport {
		t.Errorf("expected export error, got %v", err)
	}
}
