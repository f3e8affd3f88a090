package sources

import (
	"context"
	"strings"
	"testing"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/sheets"
)

// scriptedExecutor answers by function name and records every query.
type scriptedExecutor struct {
	tables  map[string]*gateway.Table
	queries []gateway.Query
}

func (s *scriptedExecutor) FetchRows(_ context.Context, q gateway.Query) (*gateway.Table, error) {
	s.queries = append(s.queries, q)
	t, ok := s.tables[q.Function]
	if !ok {
		return gateway.NewTable(), nil
	}
	return t, nil
}

func table(columns []string, rows ...[]string) *gateway.Table {
	t := gateway.NewTable(columns...)
	for _, r := range rows {
		t.AppendValues(r...)
	}
	return t
}

func TestAssignmentsFromTable(t *testing.T) {
	tbl := table(
		[]string{"ID", "danh_bo", "ngay_giao_ds", "nhom", "ky_nam", "tinh_trang"},
		[]string{" A1 ", "2031234567", "03/06/2025", "Sang Sơn", "05/2025, 06/2025", ""},
		[]string{"A2", "12345678901", "sáng thứ hai", "Thi Náo", "", "KHOÁ NƯỚC"},
	)

	records, warnings := AssignmentsFromTable(tbl)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "A1" || records[0].AccountID != "02031234567" {
		t.Errorf("unexpected normalization: %+v", records[0])
	}
	if records[0].AssignedDate == nil || records[0].AssignedDate.Day() != 3 {
		t.Errorf("expected 3 June, got %v", records[0].AssignedDate)
	}
	if records[1].AssignedDate != nil {
		t.Error("unreadable date must be nil")
	}
	if warnings.Total != 1 {
		t.Errorf("expected 1 warning, got %d", warnings.Total)
	}

	rows := ExplodeAssignments(records)
	if len(rows) != 3 {
		t.Fatalf("expected 3 exploded rows, got %d", len(rows))
	}
	if rows[1].Period != (models.Period{Month: "06", Year: "2025"}) {
		t.Errorf("unexpected period %+v", rows[1].Period)
	}
	if rows[2].PeriodTag != "" || !rows[2].Period.IsZero() {
		t.Errorf("blank ky_nam must keep one empty row, got %+v", rows[2])
	}
}

func TestLocksFromTable(t *testing.T) {
	tbl := table(
		[]string{"id_tb", "danh_ba", "tinh_trang", "ngay_khoa", "ngay_mo", "nhom_khoa", "loai_khoa"},
		[]string{"A1", "2031234567", "Đã mở", "04/06/2025 09:10:00", "05/06/2025", "Sang Sơn", "Khoá từ"},
		[]string{"A2", "2031234568", "Đang khóa", "bad", "", "Thi Náo", "Khóa van"},
	)

	locks, warnings := LocksFromTable(tbl)
	if len(locks) != 2 || warnings.Total != 1 {
		t.Fatalf("unexpected result: %d locks, %d warnings", len(locks), warnings.Total)
	}
	if locks[0].LockedAt == nil || locks[0].LockedAt.Hour() != 9 {
		t.Errorf("expected time of day to be kept, got %v", locks[0].LockedAt)
	}
	if locks[1].UnlockedAt != nil || locks[1].LockedAt != nil {
		t.Error("blank and unreadable dates must be nil")
	}
	if locks[0].AccountID != "02031234567" {
		t.Errorf("lock account not normalized: %s", locks[0].AccountID)
	}
}

func TestInvoiceDetailsChunks(t *testing.T) {
	exec := &scriptedExecutor{tables: map[string]*gateway.Table{
		gateway.FuncBilling: table(
			[]string{"DANHBA", "KY", "NAM", "SOHOADON", "NGAYGIAI"},
			[]string{"2031234567", "5", "2025", "HD1", "2025-06-02 10:00:00"},
		),
	}}
	src := New(exec, nil, nil).WithChunkSize(2)

	accounts := []string{"a", "b", "c", "a", "", "d", "e"}
	invoices, err := src.InvoiceDetails(context.Background(), accounts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(exec.queries) != 3 {
		t.Fatalf("expected 3 chunks for 5 distinct ids, got %d", len(exec.queries))
	}
	for _, q := range exec.queries {
		if !strings.Contains(q.SQL, "DANHBA IN ?") {
			t.Errorf("account list must be bound, got %q", q.SQL)
		}
		if ids := q.Args[0].([]string); len(ids) > 2 {
			t.Errorf("chunk larger than limit: %v", ids)
		}
	}
	if len(invoices) != 3 {
		t.Errorf("expected one row per chunk, got %d", len(invoices))
	}
	inv := invoices[0]
	if inv.Period.Month != "05" || inv.SettlementDate == nil || inv.SettlementDate.Zoned {
		t.Errorf("unexpected invoice %+v", inv)
	}
}

func TestInvoiceDetailsNoAccounts(t *testing.T) {
	exec := &scriptedExecutor{}
	invoices, err := New(exec, nil, nil).InvoiceDetails(context.Background(), nil)
	if err != nil || len(invoices) != 0 || len(exec.queries) != 0 {
		t.Errorf("expected no query and no rows, got %d queries", len(exec.queries))
	}
}

func TestGatewaySettlementsDropsIncompleteRows(t *testing.T) {
	exec := &scriptedExecutor{tables: map[string]*gateway.Table{
		gateway.FuncBank: table(
			[]string{"SHDon", "NgayThanhToan"},
			[]string{"HD1", "2025-06-02T08:00:00+07:00"},
			[]string{"HD2", ""},
			[]string{"", "2025-06-02T08:00:00+07:00"},
		),
	}}
	settlements, err := New(exec, nil, nil).GatewaySettlements(context.Background(), []string{"HD1", "HD2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(settlements) != 1 || !settlements[0].SettledAt.Zoned {
		t.Errorf("unexpected settlements %+v", settlements)
	}
}

func TestUnpaidPeriodsFrom(t *testing.T) {
	outstanding := []models.Invoice{
		{AccountID: "00000000001", InvoiceNumber: "1", Period: models.Period{Month: "06", Year: "2025"}},
		{AccountID: "00000000001", InvoiceNumber: "2", Period: models.Period{Month: "12", Year: "2024"}},
		{AccountID: "00000000002", InvoiceNumber: "3", Period: models.Period{Month: "07", Year: "2025"}},
		{AccountID: "00000000003", InvoiceNumber: "4", Period: models.Period{Month: "05", Year: "2025"}},
	}
	settled := map[string]bool{"3": true}

	periods, latest := UnpaidPeriodsFrom(outstanding, settled)

	if latest != "07/2025" {
		t.Errorf("latest must be computed before the gateway exclusion, got %q", latest)
	}
	if periods["00000000001"] != "12/2024,06/2025" {
		t.Errorf("unexpected periods %q", periods["00000000001"])
	}
	if _, ok := periods["00000000002"]; ok {
		t.Error("fully collected account must be absent")
	}
}

func TestUnpaidPeriodsNoReadablePeriod(t *testing.T) {
	_, latest := UnpaidPeriodsFrom([]models.Invoice{{AccountID: "x", Period: models.Period{Month: "ab"}}}, nil)
	if latest != "" {
		t.Errorf("expected unknown latest period, got %q", latest)
	}
}

func TestUnpaidInvoicesBindsFilters(t *testing.T) {
	exec := &scriptedExecutor{}
	src := New(exec, nil, nil)

	src.UnpaidInvoices(context.Background(), 2025, nil)
	src.UnpaidInvoices(context.Background(), 2025, []int{1, 2})

	if strings.Contains(exec.queries[0].SQL, "DOT IN") {
		t.Error("batch filter must be omitted when no batch is selected")
	}
	q := exec.queries[1]
	if !strings.HasSuffix(q.SQL, "AND DOT IN ?") || len(q.Args) != 2 {
		t.Errorf("unexpected query %s %v", q.SQL, q.Args)
	}
}

func TestCustomersFirstRowWins(t *testing.T) {
	exec := &scriptedExecutor{tables: map[string]*gateway.Table{
		gateway.FuncReading: table(
			[]string{"DanhBa", "MLT2", "SoMoi", "SoThan", "Hieu", "HopBaoVe", "SDT"},
			[]string{"2031234567", "R1", "", "", "", "1", ""},
			[]string{"02031234567", "R2", "", "", "", "0", ""},
		),
	}}
	customers, err := New(exec, nil, nil).Customers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(customers) != 1 || customers["02031234567"].MeterRoute != "R1" {
		t.Errorf("unexpected customers %+v", customers)
	}
}

func TestAssignmentsFromCSVStore(t *testing.T) {
	dir := t.TempDir()
	store := sheets.NewCSVStore(dir, nil, nil)
	store.AppendRows(context.Background(), sheets.AssignmentSheet, table(
		[]string{"ID", "danh_bo", "ngay_giao_ds", "nhom", "ky_nam"},
		[]string{"A1", "2031234567", "03/06/2025", "Sang Sơn", "05/2025"},
	))

	records, _, err := New(nil, store, nil).Assignments(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].Group != "Sang Sơn" {
		t.Errorf("unexpected records %+v", records)
	}
}
