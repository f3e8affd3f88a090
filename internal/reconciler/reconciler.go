// Package reconciler decides the debt status of every assigned account
// period.
//
// The engine joins three sources that share no common key:
//   - exploded assignment rows from the ledger worksheet,
//   - invoice detail from the billing system, on (account, month, year),
//   - payment gateway confirmations, on invoice number.
//
// Each joined row is then classified by Classify. Join misses are "no
// evidence" and never fail the run. The only error a well-formed input
// can produce is a comparison between a naive and a zoned settlement
// date, which signals a broken timezone alignment upstream.
//
// Example usage:
//
//	engine := reconciler.NewEngine(log)
//	result, err := engine.Run(reconciler.Input{
//		Assignments:        rows,
//		Invoices:           invoices,
//		Settlements:        settlements,
//		Locks:              locks,
//		UnpaidPeriods:      unpaid,
//		LatestUnpaidPeriod: latest,
//		PaymentDeadline:    deadline,
//	})
package reconciler

import (
	"fmt"
	"time"

	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/normalize"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"
)

// Input is the typed snapshot a run reconciles.
type Input struct {
	Assignments []models.AssignmentRow
	Invoices    []models.Invoice
	Settlements []models.GatewaySettlement
	Locks       []models.LockRecord

	// UnpaidPeriods maps an account to its comma-joined open periods,
	// computed over the whole billing system.
	UnpaidPeriods      map[string]string
	LatestUnpaidPeriod string

	// PaymentDeadline is a calendar day; payments during that day count.
	PaymentDeadline time.Time
}

// Validate checks the input can be reconciled.
func (in *Input) Validate() error {
	if in.PaymentDeadline.IsZero() {
		return errors.ValidationError(errors.CodeMissingField, "payment_deadline", nil, nil)
	}
	return nil
}

// Result holds the reconciled rows and their summary.
type Result struct {
	Rows    []models.ReconciledRow `json:"rows"`
	Summary *ResultSummary         `json:"summary"`
}

// ResultSummary provides a high-level overview of one run.
type ResultSummary struct {
	AssignmentRows int `json:"assignment_rows"`
	ReconciledRows int `json:"reconciled_rows"`

	// Join statistics
	WithoutInvoice   int `json:"without_invoice"`
	FannedOut        int `json:"fanned_out"`
	GatewayMatches   int `json:"gateway_matches"`
	LockedInLedger   int `json:"locked_in_ledger"`
	ReopenedInLedger int `json:"reopened_in_ledger"`

	ByStatus map[models.DebtStatus]int `json:"by_status"`
	ByRule   map[Rule]int              `json:"by_rule"`

	SeriesZone string `json:"series_zone"`
}

func newResultSummary(assignments int) *ResultSummary {
	return &ResultSummary{
		AssignmentRows: assignments,
		ByStatus:       make(map[models.DebtStatus]int, 3),
		ByRule:         make(map[Rule]int, 5),
		SeriesZone:     "naive",
	}
}

func (s *ResultSummary) record(row *models.ReconciledRow, rule Rule) {
	s.ReconciledRows++
	s.ByStatus[row.Status]++
	s.ByRule[rule]++
	if row.GatewaySettlement != nil {
		s.GatewayMatches++
	}
	if row.IsLocked {
		s.LockedInLedger++
	}
	if row.IsReopened {
		s.ReopenedInLedger++
	}
}

// String renders the summary for logs.
func (s *ResultSummary) String() string {
	return fmt.Sprintf("%d rows: %d paid, %d unpaid, %d locked (%d amnesty, %d late)",
		s.ReconciledRows,
		s.ByStatus[models.StatusPaid], s.ByStatus[models.StatusUnpaid], s.ByStatus[models.StatusLocked],
		s.ByRule[RuleAmnesty], s.ByRule[RuleLate])
}

// Engine runs the reconciliation.
type Engine struct {
	logger logger.Logger
}

// NewEngine creates an engine logging through log, or the default logger.
func NewEngine(log logger.Logger) *Engine {
	return &Engine{logger: logger.OrDefault(log).WithComponent("reconciler")}
}

// Run reconciles in. Rows come out in assignment order; an assignment
// with several invoices for its period yields one row per invoice.
func (e *Engine) Run(in Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	billing := make([]*models.Stamp, 0, len(in.Invoices))
	for i := range in.Invoices {
		billing = append(billing, in.Invoices[i].SettlementDate)
	}
	loc, zoned, err := normalize.SeriesLocation(billing)
	if err != nil {
		return nil, errors.ReconciliationError(errors.CodeMixedTimezone, "align", err).
			WithContext("invoices", len(in.Invoices))
	}

	invoices := NewInvoiceIndex(in.Invoices)
	settlements := NewSettlementIndex(in.Settlements, loc, zoned)
	locks := NewLockIndex(in.Locks)
	deadline := normalize.DeadlineStamp(in.PaymentDeadline, loc, zoned)

	summary := newResultSummary(len(in.Assignments))
	if zoned {
		summary.SeriesZone = loc.String()
	}
	e.logger.WithFields(logger.Fields{
		"assignments": len(in.Assignments),
		"invoices":    len(in.Invoices),
		"settlements": len(in.Settlements),
		"zone":        summary.SeriesZone,
		"deadline":    deadline.Format("2006-01-02 15:04:05"),
	}).Debug("Reconciling")

	rows := make([]models.ReconciledRow, 0, len(in.Assignments))
	for i := range in.Assignments {
		a := &in.Assignments[i]
		isLocked, isReopened := locks.Flags(&a.AssignmentRecord)
		base := models.ReconciledRow{
			AssignmentRow: *a,
			UnpaidPeriods: in.UnpaidPeriods[a.AccountID],
			IsLocked:      isLocked,
			IsReopened:    isReopened,
		}

		matches := invoices.Lookup(a.AccountID, a.Period)
		if len(matches) == 0 {
			summary.WithoutInvoice++
			matches = []*models.Invoice{nil}
		} else if len(matches) > 1 {
			summary.FannedOut++
		}

		for _, inv := range matches {
			row := base
			if inv != nil {
				row.InvoiceNumber = inv.InvoiceNumber
				if inv.SettlementDate != nil {
					at := normalize.AlignToSeries(*inv.SettlementDate, loc, zoned)
					row.BillingSettlement = &at
				}
				row.GatewaySettlement = settlements.Lookup(inv.InvoiceNumber)
			}

			outcome, err := Classify(Evidence{
				TextStatus:    a.Status,
				Effective:     EffectiveSettlement(row.GatewaySettlement, row.BillingSettlement),
				UnpaidPeriods: row.UnpaidPeriods,
				LatestPeriod:  in.LatestUnpaidPeriod,
				Deadline:      deadline,
			})
			if err != nil {
				return nil, errors.ReconciliationError(errors.CodeMixedTimezone, "classify", err).
					WithContext("account", a.AccountID).
					WithContext("invoice", row.InvoiceNumber)
			}
			row.Status = outcome.Status
			row.EffectiveSettlement = outcome.Effective

			summary.record(&row, outcome.Rule)
			rows = append(rows, row)
		}
	}

	e.logger.WithField("summary", summary.String()).Info("Reconciliation completed")
	return &Result{Rows: rows, Summary: summary}, nil
}

// Reconcile runs a default engine over in and returns the rows only.
func Reconcile(in Input) ([]models.ReconciledRow, error) {
	result, err := NewEngine(nil).Run(in)
	if err != nil {
		return nil, err
	}
	return result.Rows, nil
}
