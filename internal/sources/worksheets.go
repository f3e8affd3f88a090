package sources

import (
	"context"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/normalize"
	"ghithu-reconciliation-service/internal/sheets"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"
)

// Assignment ledger columns.
const (
	ColID           = "ID"
	ColAccount      = "danh_bo"
	ColAssignedDate = "ngay_giao_ds"
	ColGroup        = "nhom"
	ColPeriods      = "ky_nam"
	ColCustomer     = "ten_kh"
	ColHouse        = "so_nha"
	ColAddressLine  = "DCTT"
	ColStreet       = "ten_duong"
	ColTariff       = "GB"
	ColBatch        = "DOT"
	ColBox          = "hop_bv"
	ColTotalPeriods = "tong_ky"
	ColTotalAmount  = "tong_tien"
	ColStatus       = "tinh_trang"
	ColNote         = "ghi_chu"
)

// Lock ledger columns.
const (
	ColLockID      = "id_tb"
	ColLockAccount = "danh_ba"
	ColLockStatus  = "tinh_trang"
	ColLockedAt    = "ngay_khoa"
	ColUnlockedAt  = "ngay_mo"
	ColLockGroup   = "nhom_khoa"
	ColLockType    = "loai_khoa"
)

// Assignments reads the assignment ledger. Rows with unreadable dates
// are kept with a nil date and reported in the summary.
func (s *Sources) Assignments(ctx context.Context) ([]models.AssignmentRecord, *errors.ErrorSummary, error) {
	table, err := s.sheets.FetchWorksheet(ctx, sheets.AssignmentSheet)
	if err != nil {
		return nil, nil, err
	}
	records, warnings := AssignmentsFromTable(table)
	s.logWarnings(sheets.AssignmentSheet, warnings)
	return records, warnings, nil
}

// Locks reads the lock/unlock ledger.
func (s *Sources) Locks(ctx context.Context) ([]models.LockRecord, *errors.ErrorSummary, error) {
	table, err := s.sheets.FetchWorksheet(ctx, sheets.LockSheet)
	if err != nil {
		return nil, nil, err
	}
	locks, warnings := LocksFromTable(table)
	s.logWarnings(sheets.LockSheet, warnings)
	return locks, warnings, nil
}

func (s *Sources) logWarnings(worksheet string, summary *errors.ErrorSummary) {
	if summary.Total == 0 {
		return
	}
	s.logger.WithFields(logger.Fields{
		"worksheet": worksheet,
		"warnings":  summary.Total,
	}).Warn(summary.Error())
}

// AssignmentsFromTable converts ledger rows. Every text cell is trimmed
// and the account is padded to its canonical width.
func AssignmentsFromTable(table *gateway.Table) ([]models.AssignmentRecord, *errors.ErrorSummary) {
	warnings := errors.NewErrorSummary(nil)
	records := make([]models.AssignmentRecord, 0, table.Len())

	for i, row := range table.Rows {
		rec := models.AssignmentRecord{
			ID:            row.Get(ColID),
			AccountID:     normalize.AccountID(row.Get(ColAccount)),
			AssignedDate:  normalize.ParseDate(row.Get(ColAssignedDate)),
			Group:         row.Get(ColGroup),
			PeriodsRaw:    row.Get(ColPeriods),
			CustomerName:  row.Get(ColCustomer),
			HouseNumber:   row.Get(ColHouse),
			AddressLine:   row.Get(ColAddressLine),
			Street:        row.Get(ColStreet),
			TotalPeriods:  row.Get(ColTotalPeriods),
			TotalAmount:   row.Get(ColTotalAmount),
			TariffGroup:   row.Get(ColTariff),
			Batch:         row.Get(ColBatch),
			ProtectiveBox: row.Get(ColBox),
			Status:        row.Get(ColStatus),
			Note:          row.Get(ColNote),
		}
		if rec.AssignedDate == nil && row.Get(ColAssignedDate) != "" {
			warnings.Add(errors.ParseError(errors.CodeInvalidData, sheets.AssignmentSheet, i+2,
				ColAssignedDate, row.Get(ColAssignedDate), nil))
		}
		records = append(records, rec)
	}
	return records, warnings
}

// ExplodeAssignments yields one row per period tag of each record.
func ExplodeAssignments(records []models.AssignmentRecord) []models.AssignmentRow {
	rows := make([]models.AssignmentRow, 0, len(records))
	for _, rec := range records {
		for _, tag := range normalize.ExplodePeriods(rec.PeriodsRaw) {
			rows = append(rows, models.AssignmentRow{
				AssignmentRecord: rec,
				Period:           normalize.SplitPeriod(tag),
				PeriodTag:        tag,
			})
		}
	}
	return rows
}

// LocksFromTable converts lock ledger rows.
func LocksFromTable(table *gateway.Table) ([]models.LockRecord, *errors.ErrorSummary) {
	warnings := errors.NewErrorSummary(nil)
	locks := make([]models.LockRecord, 0, table.Len())

	for i, row := range table.Rows {
		lock := models.LockRecord{
			ID:         row.Get(ColLockID),
			AccountID:  normalize.AccountID(row.Get(ColLockAccount)),
			Group:      row.Get(ColLockGroup),
			LockedAt:   normalize.ParseDate(row.Get(ColLockedAt)),
			UnlockedAt: normalize.ParseDate(row.Get(ColUnlockedAt)),
			LockType:   row.Get(ColLockType),
			Status:     row.Get(ColLockStatus),
		}
		if lock.LockedAt == nil && row.Get(ColLockedAt) != "" {
			warnings.Add(errors.ParseError(errors.CodeInvalidData, sheets.LockSheet, i+2, ColLockedAt, row.Get(ColLockedAt), nil))
		}
		if lock.UnlockedAt == nil && row.Get(ColUnlockedAt) != "" {
			warnings.Add(errors.ParseError(errors.CodeInvalidData, sheets.LockSheet, i+2, ColUnlockedAt, row.Get(ColUnlockedAt), nil))
		}
		locks = append(locks, lock)
	}
	return locks, warnings
}
