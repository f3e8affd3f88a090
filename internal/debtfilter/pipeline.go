// Package debtfilter extracts delinquent accounts straight from the
// billing system and turns a selection of them into an assignment batch
// for the ledger worksheet. It does not go through the reconciler: an
// invoice is open when the billing system has no settlement date and the
// gateway has no confirmation for it.
package debtfilter

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/normalize"
	"ghithu-reconciliation-service/internal/sources"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// NoDataMessage is reported when the billing system returns no open invoice.
const NoDataMessage = "Không có dữ liệu để phân tích cho ngày và nhóm đã chọn."

// Output columns.
const (
	ColAccount     = "DANHBA"
	ColTariff      = "GB"
	ColAmount      = "TONGCONG"
	ColPeriodCount = "TONGKY"
	ColPeriods     = "KY_NAM"
	ColCustomer    = "TENKH"
	ColHouse       = "SO"
	ColStreet      = "DUONG"
	ColRoute       = "MLT2"
	ColNewAddress  = "SoMoi"
	ColBatch       = "DOT"
	ColCode        = "CodeMoi"
	ColSerial      = "SoThan"
	ColBrand       = "Hieu"
	ColMeterSize   = "CoCu"
	ColBox         = "HopBaoVe"
	ColPhone       = "SDT"
)

// Columns is the fixed output schema.
var Columns = []string{
	ColAccount, ColTariff, ColAmount, ColPeriodCount, ColPeriods, ColCustomer, ColHouse, ColStreet,
	ColRoute, ColNewAddress, ColBatch, ColCode, ColSerial, ColBrand, ColMeterSize, ColBox, ColPhone,
}

// Ledger statuses that take an account out of the extraction.
var excludedStatuses = foldAll("đang khóa", "đang khoá", "đã hủy")

// Source is the subset of the sources adapter the pipeline reads.
type Source interface {
	UnpaidInvoices(ctx context.Context, year int, batches []int) ([]models.Invoice, error)
	Customers(ctx context.Context) (map[string]models.CustomerMaster, error)
	MeterReadings(ctx context.Context, year, period int) (map[string]models.MeterReading, error)
	SettledInvoices(ctx context.Context, invoiceNumbers []string) (map[string]bool, error)
	Locks(ctx context.Context) ([]models.LockRecord, *errors.ErrorSummary, error)
}

// Params selects and thresholds the extraction.
type Params struct {
	Year         int             `json:"year" validate:"min=2000,max=2099"`
	Period       int             `json:"period" validate:"min=1,max=12"`
	Dots         []int           `json:"dots,omitempty" validate:"dive,min=0"`
	MinPeriods   int             `json:"min_periods" validate:"min=0"`
	MinAmount    decimal.Decimal `json:"min_amount"`
	ExcludeCodes []string        `json:"exclude_codes,omitempty"`
	Limit        int             `json:"limit" validate:"min=0"`
}

// Validate checks the parameters.
func (p *Params) Validate() error {
	if err := errors.ValidateStruct(p); err != nil {
		return err
	}
	if p.MinAmount.IsNegative() {
		return errors.ValidationError(errors.CodeOutOfRange, "MinAmount", p.MinAmount.String(), nil)
	}
	return nil
}

// Stats counts what each step removed.
type Stats struct {
	OpenInvoices     int `json:"open_invoices"`
	ExcludedByCode   int `json:"excluded_by_code"`
	ExcludedSettled  int `json:"excluded_settled"`
	Groups           int `json:"groups"`
	BelowThreshold   int `json:"below_threshold"`
	ExcludedByLedger int `json:"excluded_by_ledger"`
	Returned         int `json:"returned"`
}

// Result is the extraction outcome. Empty results carry a message for
// the operator rather than an error.
type Result struct {
	Records []models.DebtFilterRecord `json:"records"`
	Empty   bool                      `json:"empty"`
	Message string                    `json:"message,omitempty"`
	Stats   Stats                     `json:"stats"`
}

// Pipeline runs the extraction.
type Pipeline struct {
	source Source
	logger logger.Logger
}

// NewPipeline creates a pipeline reading from source.
func NewPipeline(source Source, log logger.Logger) *Pipeline {
	return &Pipeline{source: source, logger: logger.OrDefault(log).WithComponent("debt-filter")}
}

// Run extracts the delinquent accounts matching p.
func (p *Pipeline) Run(ctx context.Context, params Params) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	op := logger.NewStageLogger("debt-filter", p.logger)
	result := &Result{}

	invoices, err := p.source.UnpaidInvoices(ctx, params.Year, params.Dots)
	if err != nil {
		op.Fail(err, "Failed to fetch open invoices")
		return nil, err
	}
	result.Stats.OpenInvoices = len(invoices)
	if len(invoices) == 0 {
		result.Empty, result.Message = true, NoDataMessage
		op.Success("No open invoice")
		return result, nil
	}

	op.Stage("enrich", logger.Fields{"invoices": len(invoices)})
	customers, err := p.source.Customers(ctx)
	if err != nil {
		return nil, stageError(err, "enrich")
	}
	readings, err := p.source.MeterReadings(ctx, params.Year, params.Period)
	if err != nil {
		return nil, stageError(err, "enrich")
	}
	lines := Enrich(invoices, customers, readings)

	if len(params.ExcludeCodes) > 0 {
		before := len(lines)
		lines = ExcludeCodes(lines, params.ExcludeCodes)
		result.Stats.ExcludedByCode = before - len(lines)
	}

	op.Stage("exclude-settled", logger.Fields{"lines": len(lines)})
	settled, err := p.source.SettledInvoices(ctx, lineNumbers(lines))
	if err != nil {
		return nil, stageError(err, "exclude-settled")
	}
	before := len(lines)
	lines = excludeSettled(lines, settled)
	result.Stats.ExcludedSettled = before - len(lines)

	records := Group(lines)
	result.Stats.Groups = len(records)
	records = Threshold(records, params.MinPeriods, params.MinAmount)
	result.Stats.BelowThreshold = result.Stats.Groups - len(records)

	op.Stage("exclude-ledger", logger.Fields{"records": len(records)})
	locks, _, err := p.source.Locks(ctx)
	if err != nil {
		return nil, stageError(err, "exclude-ledger")
	}
	before = len(records)
	records = ExcludeByLedger(records, locks)
	result.Stats.ExcludedByLedger = before - len(records)

	records = Rank(records, params.Limit)
	result.Records = records
	result.Stats.Returned = len(records)
	if len(records) == 0 {
		result.Empty, result.Message = true, NoDataMessage
	}

	p.logger.WithFields(logger.Fields{
		"open_invoices": result.Stats.OpenInvoices,
		"settled":       result.Stats.ExcludedSettled,
		"ledger":        result.Stats.ExcludedByLedger,
		"returned":      result.Stats.Returned,
	}).Info("Debt filter completed")
	op.Success("Debt filter completed")
	return result, nil
}

func stageError(err error, stage string) error {
	if rerr, ok := errors.AsReconcilerError(err); ok {
		return rerr.WithContext("stage", stage)
	}
	return errors.ReconciliationError(errors.CodeStageFailed, stage, err)
}

// Line is one open invoice with its customer and meter attributes.
type Line struct {
	Key           models.DebtFilterKey
	InvoiceNumber string
	Period        models.Period
	Amount        decimal.Decimal
}

// Enrich left-joins the customer master and the meter readings onto the
// invoices by normalized account.
func Enrich(invoices []models.Invoice, customers map[string]models.CustomerMaster, readings map[string]models.MeterReading) []Line {
	lines := make([]Line, 0, len(invoices))
	for _, inv := range invoices {
		account := normalize.AccountID(inv.AccountID)
		c := customers[account]
		r := readings[account]
		lines = append(lines, Line{
			Key: models.DebtFilterKey{
				AccountID:     account,
				CustomerName:  strings.TrimSpace(inv.CustomerName),
				HouseNumber:   strings.TrimSpace(inv.HouseNumber),
				Street:        strings.TrimSpace(inv.Street),
				TariffGroup:   strings.TrimSpace(inv.TariffGroup),
				Batch:         strings.TrimSpace(inv.Batch),
				MeterRoute:    c.MeterRoute,
				NewAddress:    c.NewAddress,
				MeterSerial:   c.MeterSerial,
				MeterBrand:    c.MeterBrand,
				Code:          r.Code,
				MeterSize:     r.MeterSize,
				ProtectiveBox: c.ProtectiveBox,
				Phone:         c.Phone,
			},
			InvoiceNumber: strings.TrimSpace(inv.InvoiceNumber),
			Period:        inv.Period,
			Amount:        inv.AmountDue,
		})
	}
	return lines
}

// ExcludeCodes drops lines whose reading code is listed. Codes compare
// trimmed and upper-cased; a blank code is never excluded.
func ExcludeCodes(lines []Line, codes []string) []Line {
	excluded := make(map[string]bool, len(codes))
	for _, c := range codes {
		if c = normalize.Upper(c); c != "" {
			excluded[c] = true
		}
	}
	out := lines[:0:0]
	for _, l := range lines {
		code := normalize.Upper(l.Key.Code)
		if code != "" && excluded[code] {
			continue
		}
		out = append(out, l)
	}
	return out
}

func lineNumbers(lines []Line) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.InvoiceNumber != "" {
			out = append(out, l.InvoiceNumber)
		}
	}
	return out
}

func excludeSettled(lines []Line, settled map[string]bool) []Line {
	if len(settled) == 0 {
		return lines
	}
	out := lines[:0:0]
	for _, l := range lines {
		if !settled[l.InvoiceNumber] {
			out = append(out, l)
		}
	}
	return out
}

// Group sums the lines of each key tuple in order of first appearance.
func Group(lines []Line) []models.DebtFilterRecord {
	index := make(map[models.DebtFilterKey]int)
	var records []models.DebtFilterRecord
	periods := make([][]models.Period, 0)

	for _, l := range lines {
		pos, ok := index[l.Key]
		if !ok {
			pos = len(records)
			index[l.Key] = pos
			records = append(records, models.DebtFilterRecord{DebtFilterKey: l.Key, TotalAmount: decimal.Zero})
			periods = append(periods, nil)
		}
		r := &records[pos]
		r.TotalAmount = r.TotalAmount.Add(l.Amount)
		r.PeriodCount++
		periods[pos] = append(periods[pos], l.Period)
	}
	for i := range records {
		records[i].PeriodTags = normalize.JoinPeriods(periods[i], ",")
	}
	return records
}

// Threshold keeps records with at least minPeriods rows and minAmount due.
func Threshold(records []models.DebtFilterRecord, minPeriods int, minAmount decimal.Decimal) []models.DebtFilterRecord {
	out := records[:0:0]
	for _, r := range records {
		if r.PeriodCount >= minPeriods && r.TotalAmount.GreaterThanOrEqual(minAmount) {
			out = append(out, r)
		}
	}
	return out
}

// ExcludeByLedger drops accounts whose latest lock ledger status is
// "locked" or "cancelled". The latest status is the account's last row.
func ExcludeByLedger(records []models.DebtFilterRecord, locks []models.LockRecord) []models.DebtFilterRecord {
	latest := make(map[string]string, len(locks))
	for _, l := range locks {
		if l.AccountID != "" {
			latest[l.AccountID] = l.Status
		}
	}
	out := records[:0:0]
	for _, r := range records {
		if excludedStatuses[normalize.Fold(latest[r.AccountID])] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Rank keeps the limit largest debts when limit > 0, then orders the
// result by meter route and batch.
func Rank(records []models.DebtFilterRecord, limit int) []models.DebtFilterRecord {
	if limit > 0 && len(records) > limit {
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].TotalAmount.GreaterThan(records[j].TotalAmount)
		})
		records = records[:limit]
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].MeterRoute != records[j].MeterRoute {
			return records[i].MeterRoute < records[j].MeterRoute
		}
		return records[i].Batch < records[j].Batch
	})
	return records
}

// Table renders the records in the fixed output schema.
func (r *Result) Table() *gateway.Table {
	t := gateway.NewTable(Columns...)
	for _, rec := range r.Records {
		t.AppendValues(
			rec.AccountID,
			rec.TariffGroup,
			rec.TotalAmount.String(),
			strconv.Itoa(rec.PeriodCount),
			rec.PeriodTags,
			rec.CustomerName,
			rec.HouseNumber,
			rec.Street,
			rec.MeterRoute,
			rec.NewAddress,
			rec.Batch,
			rec.Code,
			rec.MeterSerial,
			rec.MeterBrand,
			rec.MeterSize,
			rec.ProtectiveBox,
			rec.Phone,
		)
	}
	return t
}

func foldAll(values ...string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[normalize.Fold(v)] = true
	}
	return out
}

var _ Source = (*sources.Sources)(nil)
