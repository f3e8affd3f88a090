// Package report runs the weekly collection report.
//
// A run selects the ledger assignments of a date window and group, pulls
// the billing and gateway evidence for the selected accounts, reconciles
// every assigned period and rolls the result up into the summary, detail,
// statistics and pie tables.
//
// Example usage:
//
//	runner := report.NewRunner(src, log)
//	runner.AddProgressCallback(func(p *report.Progress) {
//		fmt.Printf("%.0f%% %s\n", p.PercentComplete, p.CurrentStep)
//	})
//
//	result, err := runner.Run(ctx, report.Request{
//		Start:    start,
//		End:      end,
//		Deadline: deadline,
//		Group:    report.AllGroups,
//	})
//	if result.Empty {
//		fmt.Println(result.Message)
//	}
package report

import (
	"context"
	"strings"
	"sync"
	"time"

	"ghithu-reconciliation-service/internal/aggregate"
	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/normalize"
	"ghithu-reconciliation-service/internal/reconciler"
	"ghithu-reconciliation-service/internal/sources"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"
)

// AllGroups selects every group of the window.
const AllGroups = "Tất cả các nhóm"

// NoDataMessage is reported when the window and group select nothing.
const NoDataMessage = "Không có dữ liệu để phân tích cho ngày và nhóm đã chọn."

// Export sheet names, in report order.
const (
	SheetSummary    = "Tong_Hop_Nhom"
	SheetStatistics = "Thong_Ke_Khoa_Mo"
	SheetDetails    = "Chi_Tiet_Da_Giao"
)

const totalSteps = 6

// Source is what a run reads from the ledger and the billing system.
type Source interface {
	Assignments(ctx context.Context) ([]models.AssignmentRecord, *errors.ErrorSummary, error)
	Locks(ctx context.Context) ([]models.LockRecord, *errors.ErrorSummary, error)
	UnpaidPeriods(ctx context.Context) (map[string]string, string, error)
	InvoiceDetails(ctx context.Context, accounts []string) ([]models.Invoice, error)
	GatewaySettlements(ctx context.Context, invoiceNumbers []string) ([]models.GatewaySettlement, error)
}

var _ Source = (*sources.Sources)(nil)

// Recorder receives the size of every rendered table and the run time.
type Recorder interface {
	ObserveTable(name string, rows int)
	ObserveRun(operation string, elapsed time.Duration, err error)
}

// Request selects the assignments to report on.
type Request struct {
	Start    time.Time `json:"start" validate:"required"`
	End      time.Time `json:"end" validate:"required,gtefield=Start"`
	Deadline time.Time `json:"deadline" validate:"required"`
	Group    string    `json:"group"`

	// Filter narrows the account detail table only.
	Filter aggregate.StatusFilter `json:"filter,omitempty"`
}

// Validate checks the request.
func (r *Request) Validate() error {
	if err := errors.ValidateStruct(r); err != nil {
		return err.WithSuggestion("give start, end and payment deadline as dd/mm/yyyy with end not before start")
	}
	return nil
}

// SingleGroup reports whether one named group was requested.
func (r *Request) SingleGroup() bool {
	g := strings.TrimSpace(r.Group)
	return g != "" && g != AllGroups
}

// Result is a finished report. An empty selection yields Empty with the
// operator message and no tables.
type Result struct {
	Request Request `json:"request"`
	Empty   bool    `json:"empty"`
	Message string  `json:"message,omitempty"`

	Rows       []models.ReconciledRow    `json:"-"`
	Summary    aggregate.Summary         `json:"summary"`
	Details    aggregate.Details         `json:"details"`
	Statistics aggregate.Statistics      `json:"statistics"`
	Pie        []aggregate.PieSlice      `json:"pie"`
	Reconcile  *reconciler.ResultSummary `json:"reconcile,omitempty"`
	Warnings   []string                  `json:"warnings,omitempty"`
	Elapsed    time.Duration             `json:"elapsed"`
}

// NamedTable pairs an export sheet name with its table.
type NamedTable struct {
	Name  string
	Table *gateway.Table
}

// Tables renders the report tables in export order. The statistics
// table is left out when it has no row.
func (r *Result) Tables() []NamedTable {
	if r.Empty {
		return nil
	}
	out := []NamedTable{{Name: SheetSummary, Table: r.Summary.Table()}}
	if !r.Statistics.Empty() {
		out = append(out, NamedTable{Name: SheetStatistics, Table: r.Statistics.Table()})
	}
	return append(out, NamedTable{Name: SheetDetails, Table: r.Details.Table()})
}

// Progress tracks a running report.
type Progress struct {
	TotalSteps      int           `json:"total_steps"`
	CompletedSteps  int           `json:"completed_steps"`
	CurrentStep     string        `json:"current_step"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`

	Assignments int `json:"assignments"`
	Invoices    int `json:"invoices"`
	Settlements int `json:"settlements"`

	Warnings []string `json:"warnings,omitempty"`
}

// ProgressCallback is called after every step.
type ProgressCallback func(*Progress)

// Runner executes report requests.
type Runner struct {
	source   Source
	engine   *reconciler.Engine
	recorder Recorder
	logger   logger.Logger

	callbacks     []ProgressCallback
	progress      *Progress
	progressMutex sync.RWMutex
}

// NewRunner creates a runner reading from source.
func NewRunner(source Source, log logger.Logger) *Runner {
	log = logger.OrDefault(log).WithComponent("weekly-report")
	return &Runner{
		source:   source,
		engine:   reconciler.NewEngine(log),
		logger:   log,
		progress: &Progress{TotalSteps: totalSteps},
	}
}

// WithRecorder reports table sizes and run time to rec.
func (r *Runner) WithRecorder(rec Recorder) *Runner {
	r.recorder = rec
	return r
}

// AddProgressCallback registers a progress callback.
func (r *Runner) AddProgressCallback(cb ProgressCallback) {
	r.callbacks = append(r.callbacks, cb)
}

// GetProgress returns a copy of the current progress.
func (r *Runner) GetProgress() Progress {
	r.progressMutex.RLock()
	defer r.progressMutex.RUnlock()
	p := *r.progress
	p.Warnings = append([]string(nil), r.progress.Warnings...)
	return p
}

// Run produces the report for req.
func (r *Runner) Run(ctx context.Context, req Request) (result *Result, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Group = strings.TrimSpace(req.Group)
	if req.Group == "" {
		req.Group = AllGroups
	}

	log := r.logger.WithFields(logger.Fields{
		"start":    req.Start.Format(normalize.DisplayDateLayout),
		"end":      req.End.Format(normalize.DisplayDateLayout),
		"deadline": req.Deadline.Format(normalize.DisplayDateLayout),
		"group":    req.Group,
	})
	log.Info("Starting weekly report")

	r.initProgress()
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		if result != nil {
			result.Elapsed = elapsed
		}
		if r.recorder != nil {
			r.recorder.ObserveRun("report", elapsed, err)
		}
		r.updateProgress("Completed", totalSteps)
	}()

	// Step 1: ledger worksheets
	r.updateProgress("Reading ledger worksheets", 0)
	records, warnings, err := r.source.Assignments(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to read assignment ledger")
		return nil, stageError(err, "assignments")
	}
	r.addWarnings(warnings)
	locks, warnings, err := r.source.Locks(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to read lock ledger")
		return nil, stageError(err, "locks")
	}
	r.addWarnings(warnings)

	selected := Select(records, req.Start, req.End, req.Group)
	result = &Result{Request: req}
	if len(selected) == 0 {
		log.Info("Selection is empty")
		result.Empty, result.Message = true, NoDataMessage
		result.Warnings = r.GetProgress().Warnings
		return result, nil
	}
	rows := sources.ExplodeAssignments(selected)
	r.setCounts(func(p *Progress) { p.Assignments = len(rows) })

	// Step 2: open periods across the whole billing system
	r.updateProgress("Computing unpaid periods", 1)
	unpaid, latest, err := r.source.UnpaidPeriods(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to compute unpaid periods")
		return nil, stageError(err, "unpaid-periods")
	}

	// Step 3: billing evidence for the selection
	r.updateProgress("Fetching invoice details", 2)
	invoices, err := r.source.InvoiceDetails(ctx, accountsOf(selected))
	if err != nil {
		log.WithError(err).Error("Failed to fetch invoice details")
		return nil, stageError(err, "invoice-details")
	}
	r.setCounts(func(p *Progress) { p.Invoices = len(invoices) })

	// Step 4: gateway evidence
	r.updateProgress("Fetching gateway settlements", 3)
	settlements, err := r.source.GatewaySettlements(ctx, sources.InvoiceNumbers(invoices))
	if err != nil {
		log.WithError(err).Error("Failed to fetch gateway settlements")
		return nil, stageError(err, "gateway-settlements")
	}
	r.setCounts(func(p *Progress) { p.Settlements = len(settlements) })

	// Step 5: reconcile
	r.updateProgress("Reconciling", 4)
	reconciled, err := r.engine.Run(reconciler.Input{
		Assignments:        rows,
		Invoices:           invoices,
		Settlements:        settlements,
		Locks:              locks,
		UnpaidPeriods:      unpaid,
		LatestUnpaidPeriod: latest,
		PaymentDeadline:    req.Deadline,
	})
	if err != nil {
		log.WithError(err).Error("Reconciliation failed")
		return nil, err
	}
	result.Rows = reconciled.Rows
	result.Reconcile = reconciled.Summary

	// Step 6: roll up
	r.updateProgress("Building report tables", 5)
	single := req.SingleGroup()
	result.Summary = aggregate.BuildSummary(result.Rows, single)
	result.Details = aggregate.BuildDetails(result.Rows, req.Filter)
	result.Statistics = aggregate.BuildStatistics(result.Rows, locks,
		aggregate.Window{From: req.Start, To: req.Deadline}, req.Group, single)
	var groups []string
	if single {
		groups = []string{req.Group}
	}
	result.Pie = aggregate.BuildPie(result.Rows, groups)

	for _, t := range result.Statistics.UnknownLockTypes {
		log.WithField("lock_type", t).Warn("Lock type matches no statistics column")
	}
	if r.recorder != nil {
		for _, t := range result.Tables() {
			r.recorder.ObserveTable(t.Name, t.Table.Len())
		}
	}

	result.Warnings = r.GetProgress().Warnings
	log.WithFields(logger.Fields{
		"rows":     len(result.Rows),
		"accounts": len(result.Details.Accounts),
		"summary":  result.Reconcile.String(),
	}).Info("Weekly report completed")
	return result, nil
}

// Select keeps the ledger records assigned inside [start, end] to group.
// AllGroups or a blank group keeps every group.
func Select(records []models.AssignmentRecord, start, end time.Time, group string) []models.AssignmentRecord {
	group = strings.TrimSpace(group)
	all := group == "" || group == AllGroups
	var out []models.AssignmentRecord
	for _, rec := range records {
		if rec.AssignedDate == nil || !normalize.InWindow(*rec.AssignedDate, start, end) {
			continue
		}
		if !all && strings.TrimSpace(rec.Group) != group {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func accountsOf(records []models.AssignmentRecord) []string {
	seen := make(map[string]bool, len(records))
	out := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.AccountID == "" || seen[rec.AccountID] {
			continue
		}
		seen[rec.AccountID] = true
		out = append(out, rec.AccountID)
	}
	return out
}

func stageError(err error, stage string) error {
	if rerr, ok := errors.AsReconcilerError(err); ok {
		return rerr.WithContext("stage", stage)
	}
	return errors.ReconciliationError(errors.CodeStageFailed, stage, err)
}

func (r *Runner) initProgress() {
	r.progressMutex.Lock()
	defer r.progressMutex.Unlock()
	r.progress = &Progress{TotalSteps: totalSteps, StartTime: time.Now()}
}

func (r *Runner) updateProgress(step string, completed int) {
	r.progressMutex.Lock()
	r.progress.CurrentStep = step
	r.progress.CompletedSteps = completed
	r.progress.PercentComplete = float64(completed) / float64(r.progress.TotalSteps) * 100
	r.progress.ElapsedTime = time.Since(r.progress.StartTime)
	snapshot := *r.progress
	r.progressMutex.Unlock()

	r.logger.WithFields(logger.Fields{
		"step":     step,
		"progress": snapshot.PercentComplete,
	}).Debug("Report progress")
	for _, cb := range r.callbacks {
		cb(&snapshot)
	}
}

func (r *Runner) setCounts(fn func(*Progress)) {
	r.progressMutex.Lock()
	defer r.progressMutex.Unlock()
	fn(r.progress)
}

func (r *Runner) addWarnings(summary *errors.ErrorSummary) {
	if summary == nil || summary.Total == 0 {
		return
	}
	r.progressMutex.Lock()
	defer r.progressMutex.Unlock()
	for _, e := range summary.Errors {
		r.progress.Warnings = append(r.progress.Warnings, e.Error())
	}
}
