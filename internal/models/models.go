package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DebtStatus is the reconciled debt state of one assignment row.
type DebtStatus string

const (
	StatusLocked DebtStatus = "Khóa nước"
	StatusPaid   DebtStatus = "Đã Thanh Toán"
	StatusUnpaid DebtStatus = "Chưa Thanh Toán"
)

// String returns the display label of the status
func (s DebtStatus) String() string {
	return string(s)
}

// IsValid checks if the status is one of the three known labels
func (s DebtStatus) IsValid() bool {
	return s == StatusLocked || s == StatusPaid || s == StatusUnpaid
}

// Completed reports whether the status counts towards a group's completion rate.
func (s DebtStatus) Completed() bool {
	return s == StatusPaid || s == StatusLocked
}

// Period is a billing cycle, kept as the canonical strings used for joins:
// a two-digit month and a trimmed year.
type Period struct {
	Month string
	Year  string
}

// String renders the period as "MM/YYYY".
func (p Period) String() string {
	if p.Month == "" && p.Year == "" {
		return ""
	}
	return p.Month + "/" + p.Year
}

// IsZero reports whether both halves are empty.
func (p Period) IsZero() bool {
	return p.Month == "" && p.Year == ""
}

// Ordinal returns year*12+month for chronological ordering. Periods that
// do not hold numbers sort first.
func (p Period) Ordinal() int {
	y, err := strconv.Atoi(p.Year)
	if err != nil {
		return -1
	}
	m, err := strconv.Atoi(p.Month)
	if err != nil {
		return -1
	}
	return y*12 + m
}

// ErrMixedTimezone is returned when a naive and a zoned Stamp are compared.
var ErrMixedTimezone = errors.New("cannot compare naive and timezone-aware datetimes")

// Stamp is a datetime that remembers whether its source carried a UTC
// offset. Naive stamps hold their wall clock in time.UTC.
type Stamp struct {
	Time  time.Time
	Zoned bool
}

// Naive builds a stamp from a wall clock without zone information.
func Naive(year int, month time.Month, day, hour, min, sec int) Stamp {
	return Stamp{Time: time.Date(year, month, day, hour, min, sec, 0, time.UTC)}
}

// Zoned builds a stamp fixed to loc.
func Zoned(t time.Time) Stamp {
	return Stamp{Time: t, Zoned: true}
}

// After reports whether s is strictly after o.
func (s Stamp) After(o Stamp) (bool, error) {
	if s.Zoned != o.Zoned {
		return false, ErrMixedTimezone
	}
	return s.Time.After(o.Time), nil
}

// Date returns the calendar day of the stamp in its own zone.
func (s Stamp) Date() time.Time {
	y, m, d := s.Time.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Format renders the stamp's wall clock with layout.
func (s Stamp) Format(layout string) string {
	return s.Time.Format(layout)
}

// Invoice is one billing period's charge for one account as read from
// the billing system.
type Invoice struct {
	AccountID      string          `json:"account_id"`
	Period         Period          `json:"period"`
	AmountDue      decimal.Decimal `json:"amount_due"`
	SettlementDate *Stamp          `json:"settlement_date,omitempty"`
	InvoiceNumber  string          `json:"invoice_number"`
	CustomerName   string          `json:"customer_name,omitempty"`
	HouseNumber    string          `json:"house_number,omitempty"`
	Street         string          `json:"street,omitempty"`
	TariffGroup    string          `json:"tariff_group,omitempty"`
	Batch          string          `json:"batch,omitempty"`
}

// Validate performs basic validation on the Invoice
func (i *Invoice) Validate() error {
	if len(i.AccountID) != AccountIDLength {
		return fmt.Errorf("account id %q is not normalized", i.AccountID)
	}
	if i.Period.Ordinal() < 0 {
		return fmt.Errorf("invalid billing period %q for account %s", i.Period, i.AccountID)
	}
	if i.AmountDue.IsNegative() {
		return fmt.Errorf("negative amount %s for account %s", i.AmountDue, i.AccountID)
	}
	return nil
}

// MarshalJSON renders the amount as a string so large VND totals keep precision.
func (i *Invoice) MarshalJSON() ([]byte, error) {
	type Alias Invoice
	return json.Marshal(&struct {
		AmountDue string `json:"amount_due"`
		Period    string `json:"period"`
		*Alias
	}{
		AmountDue: i.AmountDue.String(),
		Period:    i.Period.String(),
		Alias:     (*Alias)(i),
	})
}

// AccountIDLength is the canonical width of an account number.
const AccountIDLength = 11

// GatewaySettlement is a payment confirmation from the collection gateway.
type GatewaySettlement struct {
	InvoiceNumber string
	SettledAt     Stamp
}

// AssignmentRecord is one row of the assignment ledger worksheet.
type AssignmentRecord struct {
	ID            string
	AccountID     string
	AssignedDate  *time.Time
	Group         string
	PeriodsRaw    string
	CustomerName  string
	HouseNumber   string
	AddressLine   string
	Street        string
	TotalPeriods  string
	TotalAmount   string
	TariffGroup   string
	Batch         string
	ProtectiveBox string
	Status        string
	Note          string
}

// LockKey is the identifier used to match the record against the lock
// ledger: the assignment ID, or the account when the ID is blank.
func (a *AssignmentRecord) LockKey() string {
	if strings.TrimSpace(a.ID) != "" {
		return a.ID
	}
	return a.AccountID
}

// AssignmentRow is an assignment exploded to a single period.
type AssignmentRow struct {
	AssignmentRecord
	Period    Period
	PeriodTag string
}

// LockRecord is one lock event of the lock/unlock ledger.
type LockRecord struct {
	ID         string
	AccountID  string
	Group      string
	LockedAt   *time.Time
	UnlockedAt *time.Time
	LockType   string
	Status     string
}

// ReconciledRow is an assignment row with its reconciled debt status.
type ReconciledRow struct {
	AssignmentRow
	InvoiceNumber       string
	BillingSettlement   *Stamp
	GatewaySettlement   *Stamp
	EffectiveSettlement *Stamp
	Status              DebtStatus
	UnpaidPeriods       string
	IsLocked            bool
	IsReopened          bool
}

// CustomerMaster carries the meter and contact attributes of an account.
type CustomerMaster struct {
	AccountID     string
	MeterRoute    string // MLT2
	NewAddress    string // SoMoi
	MeterSerial   string // SoThan
	MeterBrand    string // Hieu
	ProtectiveBox string // HopBaoVe
	Phone         string // SDT
}

// MeterReading is the current reading-cycle classification of an account.
type MeterReading struct {
	AccountID string
	Code      string // CodeMoi
	MeterSize string // CoCu
}

// DebtFilterKey is the demographic and meter tuple the filter groups by.
type DebtFilterKey struct {
	AccountID     string
	CustomerName  string
	HouseNumber   string
	Street        string
	TariffGroup   string
	Batch         string
	MeterRoute    string
	NewAddress    string
	MeterSerial   string
	MeterBrand    string
	Code          string
	MeterSize     string
	ProtectiveBox string
	Phone         string
}

// DebtFilterRecord aggregates all unpaid invoices of one key tuple.
type DebtFilterRecord struct {
	DebtFilterKey
	TotalAmount decimal.Decimal
	PeriodCount int
	PeriodTags  string
}

// ParseDecimalFromString parses amounts as the billing system prints them.
// Blank cells are zero.
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format: %s", s)
	}
	return d, nil
}
