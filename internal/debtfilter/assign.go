package debtfilter

import (
	"context"
	"strconv"
	"strings"
	"time"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/normalize"
	"ghithu-reconciliation-service/internal/sheets"
	"ghithu-reconciliation-service/pkg/logger"
)

// LookupURL is the public debt lookup page; the account is appended.
const LookupURL = "https://capnuocbenthanh.com/tra-cuu/?code="

// AssignmentColumns is the schema of a batch appended to the ledger.
var AssignmentColumns = []string{
	"STT", "danh_bo", "so_nha", "DCTT", "ten_duong", "ten_kh", "tong_ky", "tong_tien", "ky_nam",
	"GB", "DOT", "hop_bv", "so_than", "nhom", "ngay_giao_ds", "ID", "tra_cuu_no",
}

// BuildAssignment lays records out as ledger rows assigned to group on
// assignDate. IDs are stamped with now's day.
func BuildAssignment(records []models.DebtFilterRecord, group string, assignDate, now time.Time) *gateway.Table {
	t := gateway.NewTable(AssignmentColumns...)
	idSuffix := "-" + now.Format("02012006")
	assigned := assignDate.Format(normalize.DisplayDateLayout)

	for i, r := range records {
		box := "0"
		if Truthy(r.ProtectiveBox) {
			box = "1"
		}
		t.AppendValues(
			strconv.Itoa(i+1),
			r.AccountID,
			r.HouseNumber,
			r.NewAddress,
			r.Street,
			r.CustomerName,
			strconv.Itoa(r.PeriodCount),
			r.TotalAmount.String(),
			r.PeriodTags,
			r.TariffGroup,
			r.Batch,
			box,
			r.MeterSerial,
			group,
			assigned,
			r.AccountID+idSuffix,
			LookupURL+r.AccountID,
		)
	}
	return t
}

// Truthy reads the HopBaoVe flag. Besides the usual yes words, any
// non-zero number counts.
func Truthy(v string) bool {
	switch normalize.Fold(v) {
	case "1", "true", "x", "có", "co", "yes":
		return true
	case "", "0", "false", "không", "khong", "no":
		return false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return err == nil && f != 0
}

// Assigner appends batches to the assignment worksheet.
type Assigner struct {
	store  sheets.Store
	now    func() time.Time
	logger logger.Logger
}

// NewAssigner creates an assigner writing to store.
func NewAssigner(store sheets.Store, log logger.Logger) *Assigner {
	return &Assigner{store: store, now: time.Now, logger: logger.OrDefault(log).WithComponent("assigner")}
}

// Send appends records to the ledger for group. Like the store, it
// reports the outcome as a count and an operator message.
func (a *Assigner) Send(ctx context.Context, records []models.DebtFilterRecord, group string, assignDate time.Time) (int, string) {
	batch := BuildAssignment(records, strings.TrimSpace(group), assignDate, a.now())
	n, msg := a.store.AppendRows(ctx, sheets.AssignmentSheet, batch)
	a.logger.WithFields(logger.Fields{
		"group":    group,
		"records":  len(records),
		"appended": n,
	}).Info(msg)
	return n, msg
}
