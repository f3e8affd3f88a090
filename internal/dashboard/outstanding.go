package dashboard

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/normalize"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// TotalLabel marks the totals row of the breakdown tables.
const TotalLabel = "Tổng cộng"

const (
	sqlByYear = "SELECT NAM, COUNT(*) AS SoLuongHoaDonNo, SUM(TONGCONG) AS TongCongNo " +
		"FROM HoaDon WHERE NGAYGIAI IS NULL GROUP BY NAM ORDER BY NAM"

	sqlByPeriodCount = "SELECT KyNo, COUNT(*) AS SoLuongDanhBa, SUM(TongNo) AS TongCongTheoKyNo FROM (" +
		"SELECT DANHBA, COUNT(*) AS KyNo, SUM(TONGCONG) AS TongNo " +
		"FROM HoaDon WHERE NGAYGIAI IS NULL GROUP BY DANHBA) AS t GROUP BY KyNo ORDER BY KyNo"

	// The comparison is spliced in from the Operator enum only.
	sqlCustomersByPeriodCount = "SELECT DANHBA, MAX(TENKH) AS TENKH, COUNT(*) AS KyNo, SUM(TONGCONG) AS TongCong " +
		"FROM HoaDon WHERE NGAYGIAI IS NULL GROUP BY DANHBA HAVING COUNT(*) %s ? ORDER BY KyNo DESC, DANHBA"

	sqlDetailsByYear = "SELECT DANHBA, TENKH, SO, DUONG, NAM, KY, GB, TONGCONG " +
		"FROM HoaDon WHERE NGAYGIAI IS NULL AND NAM = ? ORDER BY DANHBA, KY"
)

// Breakdown table columns.
const (
	ColYear          = "Năm HĐ"
	ColInvoiceCount  = "Số Lượng HĐ Nợ"
	ColYearDebt      = "Tổng Cộng Nợ"
	ColPeriodCount   = "Số Kỳ Nợ"
	ColAccountCount  = "Số Lượng DB"
	ColPeriodDebt    = "Tổng Nợ Tương Ứng"
	ColAccount       = "Danh Bạ"
	ColCustomer      = "Tên KH"
	ColAccountDebt   = "Tổng Cộng"
	ColHouse         = "Số Nhà"
	ColStreet        = "Đường"
	ColInvoicePeriod = "Kỳ"
	ColTariff        = "Giá Biểu"
)

// Operator is a comparison accepted in the period-count filter.
type Operator string

const (
	OpEqual        Operator = "="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
)

var operators = map[string]Operator{
	"=": OpEqual, ">": OpGreater, ">=": OpGreaterEqual, "<": OpLess, "<=": OpLessEqual,
}

// ParseOperator accepts only the closed set of comparisons.
func ParseOperator(s string) (Operator, error) {
	if op, ok := operators[strings.TrimSpace(s)]; ok {
		return op, nil
	}
	return "", errors.ValidationError(errors.CodeInvalidOperator, "operator", s, nil).
		WithSuggestion("use one of =, >, >=, <, <=")
}

// Bucket is one line of a breakdown: a key with a count and a debt.
type Bucket struct {
	Key   string          `json:"key"`
	Count int             `json:"count"`
	Debt  decimal.Decimal `json:"debt"`
}

// Breakdown is a bucketed table with its totals.
type Breakdown struct {
	Buckets []Bucket `json:"buckets"`
	Total   Bucket   `json:"total"`
	columns [3]string
}

// Table renders the breakdown with its totals row.
func (b *Breakdown) Table() *gateway.Table {
	t := gateway.NewTable(b.columns[:]...)
	if len(b.Buckets) == 0 {
		return t
	}
	for _, r := range b.Buckets {
		t.AppendValues(r.Key, strconv.Itoa(r.Count), r.Debt.String())
	}
	t.AppendValues(b.Total.Key, strconv.Itoa(b.Total.Count), b.Total.Debt.String())
	return t
}

// OutstandingByYear counts the open invoices and their debt per billing year.
func (s *Service) OutstandingByYear(ctx context.Context) (*Breakdown, error) {
	table, err := s.query(ctx, sqlByYear)
	if err != nil {
		return nil, err
	}
	b := breakdown(table, "NAM", "SoLuongHoaDonNo", "TongCongNo", [3]string{ColYear, ColInvoiceCount, ColYearDebt})
	s.logger.WithFields(logger.Fields{"years": len(b.Buckets), "invoices": b.Total.Count}).Info("Outstanding by year computed")
	return b, nil
}

// PeriodCountDistribution groups the debtors by how many open periods
// they have.
func (s *Service) PeriodCountDistribution(ctx context.Context) (*Breakdown, error) {
	table, err := s.query(ctx, sqlByPeriodCount)
	if err != nil {
		return nil, err
	}
	b := breakdown(table, "KyNo", "SoLuongDanhBa", "TongCongTheoKyNo", [3]string{ColPeriodCount, ColAccountCount, ColPeriodDebt})
	s.logger.WithFields(logger.Fields{"buckets": len(b.Buckets), "accounts": b.Total.Count}).Info("Outstanding by period count computed")
	return b, nil
}

// Debtor is one account of a period-count selection.
type Debtor struct {
	AccountID    string          `json:"account_id"`
	CustomerName string          `json:"customer_name"`
	Periods      int             `json:"periods"`
	Debt         decimal.Decimal `json:"debt"`
}

// OutstandingByPeriodCount lists the debtors whose open period count
// satisfies count <op> n. op is checked before any query text is built.
func (s *Service) OutstandingByPeriodCount(ctx context.Context, op string, n int) ([]Debtor, error) {
	operator, err := ParseOperator(op)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "periods", n, nil)
	}

	table, err := s.query(ctx, fmt.Sprintf(sqlCustomersByPeriodCount, operator), n)
	if err != nil {
		return nil, err
	}
	out := make([]Debtor, 0, table.Len())
	for _, row := range table.Rows {
		out = append(out, Debtor{
			AccountID:    normalize.AccountID(row.Get("DANHBA")),
			CustomerName: strings.TrimSpace(row.Get("TENKH")),
			Periods:      atoi(row.Get("KyNo")),
			Debt:         amount(row.Get("TongCong")),
		})
	}
	s.logger.WithFields(logger.Fields{"operator": string(operator), "periods": n, "debtors": len(out)}).
		Info("Debtors by period count listed")
	return out, nil
}

// DebtorsTable renders a debtor list.
func DebtorsTable(debtors []Debtor) *gateway.Table {
	t := gateway.NewTable(ColAccount, ColCustomer, ColPeriodCount, ColAccountDebt)
	for _, d := range debtors {
		t.AppendValues(d.AccountID, d.CustomerName, strconv.Itoa(d.Periods), d.Debt.String())
	}
	return t
}

// Page is one page of a longer result.
type Page struct {
	Table      *gateway.Table `json:"table"`
	Number     int            `json:"number"`
	Size       int            `json:"size"`
	TotalRows  int            `json:"total_rows"`
	TotalPages int            `json:"total_pages"`
}

// OutstandingDetailsByYear pages through the open invoices of one year.
// Pages are numbered from 1; a page past the end is empty.
func (s *Service) OutstandingDetailsByYear(ctx context.Context, year, page, size int) (*Page, error) {
	if page < 1 {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "page", page, nil)
	}
	if size < 1 {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "page_size", size, nil)
	}
	table, err := s.query(ctx, sqlDetailsByYear, year)
	if err != nil {
		return nil, err
	}

	p := &Page{
		Table:      gateway.NewTable(ColAccount, ColCustomer, ColHouse, ColStreet, ColYear, ColInvoicePeriod, ColTariff, ColAccountDebt),
		Number:     page,
		Size:       size,
		TotalRows:  table.Len(),
		TotalPages: (table.Len() + size - 1) / size,
	}
	from := (page - 1) * size
	for i := from; i < from+size && i < table.Len(); i++ {
		row := table.Rows[i]
		p.Table.AppendValues(
			normalize.AccountID(row.Get("DANHBA")),
			strings.TrimSpace(row.Get("TENKH")),
			strings.TrimSpace(row.Get("SO")),
			strings.TrimSpace(row.Get("DUONG")),
			row.Get("NAM"),
			row.Get("KY"),
			row.Get("GB"),
			amount(row.Get("TONGCONG")).String(),
		)
	}
	return p, nil
}

func (s *Service) query(ctx context.Context, sql string, args ...any) (*gateway.Table, error) {
	if s.exec == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "gateway.mode", nil, nil)
	}
	return s.exec.FetchRows(ctx, gateway.Query{Function: gateway.FuncBilling, SQL: sql, Args: args})
}

func breakdown(table *gateway.Table, key, count, debt string, columns [3]string) *Breakdown {
	b := &Breakdown{columns: columns, Total: Bucket{Key: TotalLabel, Debt: decimal.Zero}}
	for _, row := range table.Rows {
		bucket := Bucket{
			Key:   strings.TrimSpace(row.Get(key)),
			Count: atoi(row.Get(count)),
			Debt:  amount(row.Get(debt)),
		}
		b.Buckets = append(b.Buckets, bucket)
		b.Total.Count += bucket.Count
		b.Total.Debt = b.Total.Debt.Add(bucket.Debt)
	}
	return b
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		if d, derr := decimal.NewFromString(strings.TrimSpace(s)); derr == nil {
			return int(d.IntPart())
		}
		return 0
	}
	return n
}

// amount reads a SUM cell; unreadable sums count as zero.
func amount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
