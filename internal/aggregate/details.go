package aggregate

import (
	"sort"
	"strings"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/normalize"
	"ghithu-reconciliation-service/pkg/errors"
)

// Account detail columns.
const (
	ColAccount       = "Danh bạ"
	ColCustomer      = "Tên KH"
	ColDebtStatus    = "Tình Trạng Nợ"
	ColSettledOn     = "Ngày TT"
	ColUnpaidPeriods = "KỲ chưa TT"
	ColHouse         = "Số nhà"
	ColStreet        = "Đường"
	ColTotalPeriods  = "Tổng kỳ"
	ColTotalAmount   = "Tổng tiền"
	ColPeriods       = "Kỳ năm"
	ColTariff        = "GB"
	ColBatch         = "Đợt"
	ColBox           = "Hộp"
	ColNote          = "Ghi chú"
)

// StatusFilter restricts the detail table to one debt status.
type StatusFilter string

const (
	FilterAll    StatusFilter = "all"
	FilterPaid   StatusFilter = "paid"
	FilterUnpaid StatusFilter = "unpaid"
	FilterLocked StatusFilter = "locked"
)

// ParseStatusFilter validates a filter name; blank means all.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterPaid, FilterUnpaid, FilterLocked:
		return f, nil
	default:
		return "", errors.ValidationError(errors.CodeOutOfRange, "status_filter", s, nil).
			WithSuggestion("use one of: all, paid, unpaid, locked")
	}
}

// Keep reports whether status passes the filter.
func (f StatusFilter) Keep(status models.DebtStatus) bool {
	switch f {
	case FilterPaid:
		return status == models.StatusPaid
	case FilterUnpaid:
		return status == models.StatusUnpaid
	case FilterLocked:
		return status == models.StatusLocked
	default:
		return true
	}
}

// AccountDetail is one account of the report selection.
type AccountDetail struct {
	AccountID     string
	CustomerName  string
	Status        models.DebtStatus
	SettledOn     *models.Stamp
	UnpaidPeriods string
	HouseNumber   string
	Street        string
	TotalPeriods  string
	TotalAmount   string
	Periods       []string
	TariffGroup   string
	Batch         string
	Box           string
	Note          string
}

// Details is the per-account table.
type Details struct {
	Accounts []AccountDetail
}

// BuildDetails groups rows by account. Status and unpaid periods come
// from the account's first row, descriptive fields from the first row
// that has them. The settlement date is the latest effective one.
func BuildDetails(rows []models.ReconciledRow, filter StatusFilter) Details {
	index := make(map[string]int)
	var accounts []AccountDetail
	seenTag := make(map[string]map[string]bool)

	for i := range rows {
		r := &rows[i]
		pos, ok := index[r.AccountID]
		if !ok {
			pos = len(accounts)
			index[r.AccountID] = pos
			accounts = append(accounts, AccountDetail{
				AccountID:     r.AccountID,
				Status:        r.Status,
				UnpaidPeriods: r.UnpaidPeriods,
			})
			seenTag[r.AccountID] = make(map[string]bool)
		}
		d := &accounts[pos]

		firstNonEmpty(&d.CustomerName, r.CustomerName)
		firstNonEmpty(&d.HouseNumber, r.HouseNumber)
		firstNonEmpty(&d.Street, r.Street)
		firstNonEmpty(&d.TotalPeriods, r.TotalPeriods)
		firstNonEmpty(&d.TotalAmount, r.TotalAmount)
		firstNonEmpty(&d.TariffGroup, r.TariffGroup)
		firstNonEmpty(&d.Batch, r.Batch)
		firstNonEmpty(&d.Box, r.ProtectiveBox)
		firstNonEmpty(&d.Note, r.Note)

		if tag := r.PeriodTag; tag != "" && !seenTag[r.AccountID][tag] {
			seenTag[r.AccountID][tag] = true
			d.Periods = append(d.Periods, tag)
		}
		if e := r.EffectiveSettlement; e != nil && (d.SettledOn == nil || e.Time.After(d.SettledOn.Time)) {
			d.SettledOn = e
		}
	}

	out := Details{Accounts: make([]AccountDetail, 0, len(accounts))}
	for _, d := range accounts {
		if filter.Keep(d.Status) {
			out.Accounts = append(out.Accounts, d)
		}
	}
	sort.Slice(out.Accounts, func(i, j int) bool {
		return out.Accounts[i].AccountID < out.Accounts[j].AccountID
	})
	return out
}

func firstNonEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}

// Table renders the detail schema.
func (d Details) Table() *gateway.Table {
	t := gateway.NewTable(ColAccount, ColCustomer, ColDebtStatus, ColSettledOn, ColUnpaidPeriods, ColHouse,
		ColStreet, ColTotalPeriods, ColTotalAmount, ColPeriods, ColTariff, ColBatch, ColBox, ColNote)
	for _, a := range d.Accounts {
		t.AppendValues(
			a.AccountID,
			a.CustomerName,
			a.Status.String(),
			normalize.FormatStamp(a.SettledOn),
			a.UnpaidPeriods,
			a.HouseNumber,
			a.Street,
			a.TotalPeriods,
			a.TotalAmount,
			strings.Join(a.Periods, ", "),
			a.TariffGroup,
			a.Batch,
			a.Box,
			a.Note,
		)
	}
	return t
}
