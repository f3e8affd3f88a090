// Package dashboard computes the collection KPIs and the outstanding
// invoice breakdowns shown on the landing page.
package dashboard

import (
	"context"
	"sort"
	"strconv"
	"time"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/sources"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// EmptyMessage is reported when no outstanding invoice remains.
const EmptyMessage = "Không có dữ liệu nợ tồn để hiển thị."

const (
	// TopTariffGroups bounds the debt-by-tariff ranking.
	TopTariffGroups = 10
	// DelinquentPeriods is the row count from which a debtor is delinquent.
	DelinquentPeriods = 3
	// HistoryYears is how many years before the current one the monthly series keeps.
	HistoryYears = 2
)

// Source is what the overview reads.
type Source interface {
	OutstandingInvoices(ctx context.Context) ([]models.Invoice, error)
	SettledInvoices(ctx context.Context, invoiceNumbers []string) (map[string]bool, error)
	TariffGroups(ctx context.Context) (map[string]string, error)
}

var _ Source = (*sources.Sources)(nil)

// TariffDebt is the open debt of one tariff group.
type TariffDebt struct {
	Group string          `json:"group"`
	Debt  decimal.Decimal `json:"debt"`
}

// MonthlyDebt is the open debt billed in one month.
type MonthlyDebt struct {
	Month time.Time       `json:"month"`
	Debt  decimal.Decimal `json:"debt"`
}

// Overview holds the dashboard KPIs.
type Overview struct {
	Empty   bool   `json:"empty"`
	Message string `json:"message,omitempty"`

	TotalDebt           decimal.Decimal `json:"total_debt"`
	Debtors             int             `json:"debtors"`
	DelinquentDebtors   int             `json:"delinquent_debtors"`
	OutstandingInvoices int             `json:"outstanding_invoices"`
	ByTariff            []TariffDebt    `json:"by_tariff"`
	Monthly             []MonthlyDebt   `json:"monthly"`
}

// Service serves the dashboard figures.
type Service struct {
	source Source
	exec   gateway.Executor
	now    func() time.Time
	logger logger.Logger
}

// NewService creates a dashboard service. The overview reads through
// source; the outstanding breakdowns query exec directly.
func NewService(source Source, exec gateway.Executor, log logger.Logger) *Service {
	return &Service{
		source: source,
		exec:   exec,
		now:    time.Now,
		logger: logger.OrDefault(log).WithComponent("dashboard"),
	}
}

// Overview computes the KPIs over the invoices that are open in the
// billing system and have no gateway payment.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	op := logger.NewStageLogger("dashboard-overview", s.logger)

	invoices, err := s.source.OutstandingInvoices(ctx)
	if err != nil {
		op.Fail(err, "Failed to fetch outstanding invoices")
		return nil, err
	}
	if len(invoices) == 0 {
		op.Success("No outstanding invoice")
		return &Overview{Empty: true, Message: EmptyMessage}, nil
	}

	op.Stage("exclude-settled", logger.Fields{"invoices": len(invoices)})
	settled, err := s.source.SettledInvoices(ctx, sources.InvoiceNumbers(invoices))
	if err != nil {
		return nil, stageError(err, "exclude-settled")
	}
	invoices = sources.ExcludeSettled(invoices, settled)
	if len(invoices) == 0 {
		op.Success("Every open invoice is paid at the gateway")
		return &Overview{Empty: true, Message: EmptyMessage}, nil
	}

	op.Stage("tariff-groups", nil)
	tariffs, err := s.source.TariffGroups(ctx)
	if err != nil {
		return nil, stageError(err, "tariff-groups")
	}

	ov := BuildOverview(invoices, tariffs, s.now())
	s.logger.WithFields(logger.Fields{
		"debt":       ov.TotalDebt.String(),
		"debtors":    ov.Debtors,
		"delinquent": ov.DelinquentDebtors,
	}).Info("Dashboard overview computed")
	op.Success("Dashboard overview computed")
	return ov, nil
}

// BuildOverview is the pure part of Overview. Invoices of accounts with
// no tariff group are left out of the tariff ranking, and invoices with
// an unreadable period out of the monthly series.
func BuildOverview(invoices []models.Invoice, tariffs map[string]string, now time.Time) *Overview {
	ov := &Overview{TotalDebt: decimal.Zero, OutstandingInvoices: len(invoices)}

	perAccount := make(map[string]int)
	perTariff := make(map[string]decimal.Decimal)
	perMonth := make(map[time.Time]decimal.Decimal)

	for _, inv := range invoices {
		ov.TotalDebt = ov.TotalDebt.Add(inv.AmountDue)
		perAccount[inv.AccountID]++

		if gb, ok := tariffs[inv.AccountID]; ok && gb != "" {
			perTariff[gb] = perTariff[gb].Add(inv.AmountDue)
		}
		if month, ok := monthOf(inv.Period); ok {
			perMonth[month] = perMonth[month].Add(inv.AmountDue)
		}
	}

	ov.Debtors = len(perAccount)
	for _, n := range perAccount {
		if n >= DelinquentPeriods {
			ov.DelinquentDebtors++
		}
	}

	for gb, debt := range perTariff {
		ov.ByTariff = append(ov.ByTariff, TariffDebt{Group: gb, Debt: debt})
	}
	sort.Slice(ov.ByTariff, func(i, j int) bool {
		if !ov.ByTariff[i].Debt.Equal(ov.ByTariff[j].Debt) {
			return ov.ByTariff[i].Debt.GreaterThan(ov.ByTariff[j].Debt)
		}
		return ov.ByTariff[i].Group < ov.ByTariff[j].Group
	})
	if len(ov.ByTariff) > TopTariffGroups {
		ov.ByTariff = ov.ByTariff[:TopTariffGroups]
	}

	ov.Monthly = monthlySeries(perMonth, now.Year()-HistoryYears)
	return ov
}

// monthlySeries lays the sums out month by month from the first to the
// last billed month, zero-filling gaps, and keeps the months from
// fromYear on.
func monthlySeries(perMonth map[time.Time]decimal.Decimal, fromYear int) []MonthlyDebt {
	if len(perMonth) == 0 {
		return nil
	}
	var first, last time.Time
	for m := range perMonth {
		if first.IsZero() || m.Before(first) {
			first = m
		}
		if m.After(last) {
			last = m
		}
	}
	if cutoff := time.Date(fromYear, time.January, 1, 0, 0, 0, 0, time.UTC); first.Before(cutoff) {
		first = cutoff
	}

	var out []MonthlyDebt
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		debt, ok := perMonth[m]
		if !ok {
			debt = decimal.Zero
		}
		out = append(out, MonthlyDebt{Month: m, Debt: debt})
	}
	return out
}

func monthOf(p models.Period) (time.Time, bool) {
	year, err := strconv.Atoi(p.Year)
	if err != nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(p.Month)
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
}

func stageError(err error, stage string) error {
	if rerr, ok := errors.AsReconcilerError(err); ok {
		return rerr.WithContext("stage", stage)
	}
	return errors.ReconciliationError(errors.CodeStageFailed, stage, err)
}
