package export

import (
	"fmt"
	"strconv"
	"time"

	"ghithu-reconciliation-service/internal/aggregate"
	"ghithu-reconciliation-service/internal/dashboard"
	"ghithu-reconciliation-service/internal/debtfilter"
	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/normalize"
	"ghithu-reconciliation-service/internal/report"
)

// Sheet names beyond the report ones.
const (
	SheetPie       = "Ty_Le_Hoan_Thanh"
	SheetFilter    = "Loc_Du_Lieu"
	SheetOverview  = "Tong_Quan"
	SheetTariff    = "No_Theo_Gia_Bieu"
	SheetMonthly   = "No_Theo_Thang"
	SheetByYear    = "No_Theo_Nam"
	SheetByPeriods = "No_Theo_So_Ky"
	SheetDebtors   = "Danh_Sach_No"
	SheetDetails   = "Chi_Tiet_No"
)

// DateLine describes an assignment window the way the weekly report
// header does.
func DateLine(start, end time.Time) string {
	if start.IsZero() || end.IsZero() {
		return "Không có thông tin ngày"
	}
	from, to := start.Format(normalize.DisplayDateLayout), end.Format(normalize.DisplayDateLayout)
	if from == to {
		return "Ngày giao : " + from
	}
	return fmt.Sprintf("Thời gian giao: %s đến %s", from, to)
}

// ReportDocument wraps a weekly report result.
func ReportDocument(r *report.Result) Document {
	doc := Document{
		Title:  "Báo cáo công tác tuần",
		Value:  r,
		Report: r,
		Notes:  []string{DateLine(r.Request.Start, r.Request.End), "Nhóm: " + groupLabel(r.Request.Group)},
	}
	if r.Empty {
		doc.Notes = append(doc.Notes, r.Message)
		return doc
	}
	doc.Tables = r.Tables()
	if len(r.Pie) > 0 {
		doc.Tables = append(doc.Tables, report.NamedTable{Name: SheetPie, Table: aggregate.PieTable(r.Pie)})
	}
	for _, w := range r.Warnings {
		doc.Notes = append(doc.Notes, "Cảnh báo: "+w)
	}
	return doc
}

func groupLabel(group string) string {
	if group == "" {
		return report.AllGroups
	}
	return group
}

// FilterDocument wraps a debt extraction result.
func FilterDocument(r *debtfilter.Result) Document {
	doc := Document{
		Title:  "Lọc dữ liệu tồn",
		Value:  r,
		Tables: []report.NamedTable{{Name: SheetFilter, Table: r.Table()}},
	}
	if r.Empty {
		doc.Notes = append(doc.Notes, r.Message)
	}
	doc.Notes = append(doc.Notes, fmt.Sprintf(
		"Hóa đơn tồn: %d, loại theo code: %d, đã thanh toán qua cổng: %d, dưới ngưỡng: %d, theo sổ khóa: %d, trả về: %d",
		r.Stats.OpenInvoices, r.Stats.ExcludedByCode, r.Stats.ExcludedSettled,
		r.Stats.BelowThreshold, r.Stats.ExcludedByLedger, r.Stats.Returned))
	return doc
}

// Overview table columns.
const (
	ColIndicator = "Chỉ số"
	ColValue     = "Giá trị"
	ColMonth     = "Tháng"
	ColDebt      = "Tổng nợ"
)

// OverviewDocument wraps the dashboard KPIs.
func OverviewDocument(ov *dashboard.Overview) Document {
	doc := Document{Title: "Tổng quan nợ tồn", Value: ov}
	if ov.Empty {
		doc.Notes = []string{ov.Message}
		return doc
	}

	kpi := gateway.NewTable(ColIndicator, ColValue)
	kpi.AppendValues("Tổng nợ", ov.TotalDebt.String())
	kpi.AppendValues("Số khách hàng nợ", strconv.Itoa(ov.Debtors))
	kpi.AppendValues(fmt.Sprintf("Khách hàng nợ từ %d kỳ", dashboard.DelinquentPeriods), strconv.Itoa(ov.DelinquentDebtors))
	kpi.AppendValues("Số hóa đơn nợ", strconv.Itoa(ov.OutstandingInvoices))

	tariff := gateway.NewTable(dashboard.ColTariff, ColDebt)
	for _, t := range ov.ByTariff {
		tariff.AppendValues(t.Group, t.Debt.String())
	}
	monthly := gateway.NewTable(ColMonth, ColDebt)
	for _, m := range ov.Monthly {
		monthly.AppendValues(m.Month.Format("01/2006"), m.Debt.String())
	}

	doc.Tables = []report.NamedTable{
		{Name: SheetOverview, Table: kpi},
		{Name: SheetTariff, Table: tariff},
		{Name: SheetMonthly, Table: monthly},
	}
	return doc
}

// BreakdownDocument wraps one outstanding breakdown.
func BreakdownDocument(title, sheet string, b *dashboard.Breakdown) Document {
	return Document{
		Title:  title,
		Value:  b,
		Tables: []report.NamedTable{{Name: sheet, Table: b.Table()}},
	}
}

// DebtorsDocument wraps a period-count selection.
func DebtorsDocument(title string, debtors []dashboard.Debtor) Document {
	return Document{
		Title:  title,
		Value:  debtors,
		Tables: []report.NamedTable{{Name: SheetDebtors, Table: dashboard.DebtorsTable(debtors)}},
		Notes:  []string{fmt.Sprintf("%d khách hàng", len(debtors))},
	}
}

// PageDocument wraps one page of outstanding invoices.
func PageDocument(title string, p *dashboard.Page) Document {
	return Document{
		Title:  title,
		Value:  p,
		Tables: []report.NamedTable{{Name: SheetDetails, Table: p.Table}},
		Notes:  []string{fmt.Sprintf("Trang %d/%d, %d hóa đơn", p.Number, p.TotalPages, p.TotalRows)},
	}
}
