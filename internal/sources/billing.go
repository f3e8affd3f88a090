package sources

import (
	"context"
	"strings"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/normalize"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"
)

// Query texts. Placeholders are bound by the executor.
const (
	sqlInvoiceDetails = "SELECT DANHBA, KY, NAM, SOHOADON, NGAYGIAI FROM HoaDon WHERE DANHBA IN ?"
	sqlOutstanding    = "SELECT DANHBA, SOHOADON, KY, NAM, TONGCONG FROM HoaDon WHERE NGAYGIAI IS NULL"
	sqlUnpaidUpToYear = "SELECT DANHBA, GB, TONGCONG, KY, NAM, TENKH, SO, DUONG, SOHOADON, DOT FROM HoaDon WHERE NGAYGIAI IS NULL AND NAM <= ?"
	sqlBatchFilter    = " AND DOT IN ?"
	sqlSettlements    = "SELECT SHDon, NgayThanhToan FROM BGW_HD WHERE SHDon IN ?"
	sqlSettledNumbers = "SELECT SHDon FROM BGW_HD WHERE SHDon IN ?"
	sqlCustomers      = "SELECT DanhBa, MLT2, SoMoi, SoThan, Hieu, HopBaoVe, SDT FROM KhachHang"
	sqlTariffGroups   = "SELECT DanhBa, GB FROM KhachHang"
	sqlMeterReadings  = "SELECT DanhBa, CodeMoi, CoCu FROM DocSo WHERE Nam = ? AND Ky = ?"
)

// InvoiceFromRow converts one HoaDon row. An unreadable amount counts
// as zero and is reported; an unreadable settlement date reads as unpaid.
func InvoiceFromRow(row gateway.Row) (models.Invoice, *errors.ReconcilerError) {
	inv := models.Invoice{
		AccountID:      normalize.AccountID(row.Get("DANHBA")),
		Period:         normalize.MakePeriod(row.Get("KY"), row.Get("NAM")),
		SettlementDate: normalize.ParseStamp(row.Get("NGAYGIAI")),
		InvoiceNumber:  row.Get("SOHOADON"),
		CustomerName:   row.Get("TENKH"),
		HouseNumber:    row.Get("SO"),
		Street:         row.Get("DUONG"),
		TariffGroup:    row.Get("GB"),
		Batch:          row.Get("DOT"),
	}
	amount, err := models.ParseDecimalFromString(row.Get("TONGCONG"))
	if err != nil {
		return inv, errors.ParseError(errors.CodeInvalidData, "HoaDon", 0, "TONGCONG", row.Get("TONGCONG"), err).
			WithContext("invoice", inv.InvoiceNumber)
	}
	inv.AmountDue = amount
	return inv, nil
}

func (s *Sources) invoices(table *gateway.Table) []models.Invoice {
	out := make([]models.Invoice, 0, table.Len())
	warnings := errors.NewErrorSummary(nil)
	for _, row := range table.Rows {
		inv, warn := InvoiceFromRow(row)
		warnings.Add(warn)
		out = append(out, inv)
	}
	s.logWarnings("HoaDon", warnings)
	return out
}

// InvoiceDetails fetches every invoice of the given accounts, paid or
// not, in chunks.
func (s *Sources) InvoiceDetails(ctx context.Context, accounts []string) ([]models.Invoice, error) {
	table, err := s.fetchChunked(ctx, "invoice-details", gateway.FuncBilling, sqlInvoiceDetails, accounts)
	if err != nil {
		return nil, err
	}
	return s.invoices(table), nil
}

// OutstandingInvoices fetches every invoice the billing system still
// shows as unsettled.
func (s *Sources) OutstandingInvoices(ctx context.Context) ([]models.Invoice, error) {
	table, err := s.fetch(ctx, gateway.FuncBilling, sqlOutstanding)
	if err != nil {
		return nil, err
	}
	return s.invoices(table), nil
}

// UnpaidInvoices fetches unsettled invoices of year and earlier,
// optionally restricted to reading batches.
func (s *Sources) UnpaidInvoices(ctx context.Context, year int, batches []int) ([]models.Invoice, error) {
	sql := sqlUnpaidUpToYear
	args := []any{year}
	if len(batches) > 0 {
		sql += sqlBatchFilter
		args = append(args, batches)
	}
	table, err := s.fetch(ctx, gateway.FuncBilling, sql, args...)
	if err != nil {
		return nil, err
	}
	return s.invoices(table), nil
}

// GatewaySettlements fetches gateway payment confirmations. Rows without
// an invoice number or a readable date are not evidence and are dropped.
func (s *Sources) GatewaySettlements(ctx context.Context, invoiceNumbers []string) ([]models.GatewaySettlement, error) {
	table, err := s.fetchChunked(ctx, "gateway-settlements", gateway.FuncBank, sqlSettlements, invoiceNumbers)
	if err != nil {
		return nil, err
	}

	out := make([]models.GatewaySettlement, 0, table.Len())
	dropped := 0
	for _, row := range table.Rows {
		number := row.Get("SHDon")
		at := normalize.ParseStamp(row.Get("NgayThanhToan"))
		if number == "" || at == nil {
			dropped++
			continue
		}
		out = append(out, models.GatewaySettlement{InvoiceNumber: number, SettledAt: *at})
	}
	if dropped > 0 {
		s.logger.WithField("dropped", dropped).Debug("Ignored gateway rows without number or date")
	}
	return out, nil
}

// SettledInvoices returns the subset of invoiceNumbers the payment
// gateway has already collected.
func (s *Sources) SettledInvoices(ctx context.Context, invoiceNumbers []string) (map[string]bool, error) {
	table, err := s.fetchChunked(ctx, "settled-invoices", gateway.FuncBank, sqlSettledNumbers, invoiceNumbers)
	if err != nil {
		return nil, err
	}
	settled := make(map[string]bool, table.Len())
	for _, row := range table.Rows {
		if n := row.Get("SHDon"); n != "" {
			settled[n] = true
		}
	}
	return settled, nil
}

// ExcludeSettled drops invoices whose number is in settled.
func ExcludeSettled(invoices []models.Invoice, settled map[string]bool) []models.Invoice {
	if len(settled) == 0 {
		return invoices
	}
	out := invoices[:0:0]
	for _, inv := range invoices {
		if !settled[strings.TrimSpace(inv.InvoiceNumber)] {
			out = append(out, inv)
		}
	}
	return out
}

// InvoiceNumbers lists the non-blank invoice numbers.
func InvoiceNumbers(invoices []models.Invoice) []string {
	out := make([]string, 0, len(invoices))
	for _, inv := range invoices {
		if inv.InvoiceNumber != "" {
			out = append(out, inv.InvoiceNumber)
		}
	}
	return out
}

// UnpaidPeriods computes, for every account, the periods that are still
// unpaid after gateway collections, plus the latest period present among
// all unsettled invoices. The latest period is taken before the gateway
// exclusion; it is "" when no invoice carries a readable period.
func (s *Sources) UnpaidPeriods(ctx context.Context) (map[string]string, string, error) {
	outstanding, err := s.OutstandingInvoices(ctx)
	if err != nil {
		return nil, "", err
	}
	if len(outstanding) == 0 {
		return map[string]string{}, "", nil
	}

	settled, err := s.SettledInvoices(ctx, InvoiceNumbers(outstanding))
	if err != nil {
		return nil, "", err
	}
	periods, latest := UnpaidPeriodsFrom(outstanding, settled)

	s.logger.WithFields(logger.Fields{
		"accounts": len(periods),
		"latest":   latest,
	}).Info("Unpaid periods computed")
	return periods, latest, nil
}

// UnpaidPeriodsFrom is the pure part of UnpaidPeriods.
func UnpaidPeriodsFrom(outstanding []models.Invoice, settled map[string]bool) (map[string]string, string) {
	var latest models.Period
	for _, inv := range outstanding {
		if inv.Period.Ordinal() > latest.Ordinal() {
			latest = inv.Period
		}
	}

	byAccount := make(map[string][]models.Period)
	for _, inv := range ExcludeSettled(outstanding, settled) {
		byAccount[inv.AccountID] = append(byAccount[inv.AccountID], inv.Period)
	}
	out := make(map[string]string, len(byAccount))
	for account, periods := range byAccount {
		out[account] = normalize.JoinPeriods(periods, ",")
	}

	if latest.Ordinal() < 0 {
		return out, ""
	}
	return out, latest.String()
}

// Customers returns the customer master keyed by account. The first row
// of a duplicated account wins.
func (s *Sources) Customers(ctx context.Context) (map[string]models.CustomerMaster, error) {
	table, err := s.fetch(ctx, gateway.FuncReading, sqlCustomers)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.CustomerMaster, table.Len())
	for _, row := range table.Rows {
		id := normalize.AccountID(row.Get("DanhBa"))
		if _, dup := out[id]; dup || id == "" {
			continue
		}
		out[id] = models.CustomerMaster{
			AccountID:     id,
			MeterRoute:    row.Get("MLT2"),
			NewAddress:    row.Get("SoMoi"),
			MeterSerial:   row.Get("SoThan"),
			MeterBrand:    row.Get("Hieu"),
			ProtectiveBox: row.Get("HopBaoVe"),
			Phone:         row.Get("SDT"),
		}
	}
	return out, nil
}

// TariffGroups maps accounts to their tariff group (GB).
func (s *Sources) TariffGroups(ctx context.Context) (map[string]string, error) {
	table, err := s.fetch(ctx, gateway.FuncReading, sqlTariffGroups)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, table.Len())
	for _, row := range table.Rows {
		id := normalize.AccountID(row.Get("DanhBa"))
		if _, dup := out[id]; !dup && id != "" {
			out[id] = row.Get("GB")
		}
	}
	return out, nil
}

// MeterReadings returns the reading classification of one cycle, keyed
// by account. The first row wins.
func (s *Sources) MeterReadings(ctx context.Context, year, period int) (map[string]models.MeterReading, error) {
	table, err := s.fetch(ctx, gateway.FuncReading, sqlMeterReadings, year, period)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.MeterReading, table.Len())
	for _, row := range table.Rows {
		id := normalize.AccountID(row.Get("DanhBa"))
		if _, dup := out[id]; dup || id == "" {
			continue
		}
		out[id] = models.MeterReading{
			AccountID: id,
			Code:      row.Get("CodeMoi"),
			MeterSize: row.Get("CoCu"),
		}
	}
	return out, nil
}
