package reconciler

import (
	"strings"
	"time"

	"ghithu-reconciliation-service/internal/models"
	"ghithu-reconciliation-service/internal/normalize"
)

var reopenedFolded = normalize.Fold("Đã mở")

// invoiceKey is the (account, month, year) join key.
type invoiceKey struct {
	account string
	period  models.Period
}

// InvoiceIndex groups invoices by join key, keeping source order so a
// fan-out yields rows in a stable order.
type InvoiceIndex struct {
	byKey map[invoiceKey][]*models.Invoice
}

// NewInvoiceIndex indexes invoices by (account, month, year).
func NewInvoiceIndex(invoices []models.Invoice) *InvoiceIndex {
	idx := &InvoiceIndex{byKey: make(map[invoiceKey][]*models.Invoice, len(invoices))}
	for i := range invoices {
		inv := &invoices[i]
		key := invoiceKey{account: normalize.AccountID(inv.AccountID), period: inv.Period}
		idx.byKey[key] = append(idx.byKey[key], inv)
	}
	return idx
}

// Lookup returns every invoice of the row's account and period.
func (idx *InvoiceIndex) Lookup(account string, period models.Period) []*models.Invoice {
	return idx.byKey[invoiceKey{account: account, period: period}]
}

// SettlementIndex holds the latest gateway confirmation per invoice
// number, already aligned to the billing series.
type SettlementIndex struct {
	latest map[string]models.Stamp
}

// NewSettlementIndex aligns every settlement to the billing series and
// keeps the latest one per invoice.
func NewSettlementIndex(settlements []models.GatewaySettlement, loc *time.Location, zoned bool) *SettlementIndex {
	idx := &SettlementIndex{latest: make(map[string]models.Stamp, len(settlements))}
	for _, s := range settlements {
		number := strings.TrimSpace(s.InvoiceNumber)
		if number == "" {
			continue
		}
		at := normalize.AlignToSeries(s.SettledAt, loc, zoned)
		if prev, ok := idx.latest[number]; !ok || at.Time.After(prev.Time) {
			idx.latest[number] = at
		}
	}
	return idx
}

// Lookup returns the settlement of number, or nil.
func (idx *SettlementIndex) Lookup(number string) *models.Stamp {
	at, ok := idx.latest[strings.TrimSpace(number)]
	if !ok {
		return nil
	}
	return &at
}

// LockIndex answers the two ledger questions the summary needs.
type LockIndex struct {
	locked   map[string]bool
	reopened map[string]bool

	accounts         map[string]bool
	reopenedAccounts map[string]bool
}

// NewLockIndex builds the locked and reopened sets from the ledger. Blank
// IDs never match.
func NewLockIndex(locks []models.LockRecord) *LockIndex {
	idx := &LockIndex{
		locked:           make(map[string]bool, len(locks)),
		reopened:         make(map[string]bool),
		accounts:         make(map[string]bool, len(locks)),
		reopenedAccounts: make(map[string]bool),
	}
	for _, l := range locks {
		isReopened := normalize.Fold(l.Status) == reopenedFolded
		if l.AccountID != "" {
			idx.accounts[l.AccountID] = true
			if isReopened {
				idx.reopenedAccounts[l.AccountID] = true
			}
		}
		id := strings.TrimSpace(l.ID)
		if id == "" {
			continue
		}
		idx.locked[id] = true
		if isReopened {
			idx.reopened[id] = true
		}
	}
	return idx
}

// Flags reports whether the assignment is in the lock ledger and whether
// it was reopened. An assignment without an ID is looked up by account.
func (idx *LockIndex) Flags(rec *models.AssignmentRecord) (locked, reopened bool) {
	if id := strings.TrimSpace(rec.ID); id != "" {
		locked = idx.locked[id]
		return locked, locked && idx.reopened[id]
	}
	locked = idx.accounts[rec.AccountID]
	return locked, locked && idx.reopenedAccounts[rec.AccountID]
}
