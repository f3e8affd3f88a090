// Package gateway is the read port onto the billing system. Queries are
// sent either through the utility's SOAP web service, which wraps SQL
// text, or directly to a SQL database through gorm.
package gateway

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Remote function names. Each one fronts a different billing database.
const (
	FuncBilling = "f_Select_SQL_Thutien"  // invoices (HoaDon)
	FuncReading = "f_Select_SQL_Doc_so"   // customers and meter readings
	FuncBank    = "f_Select_SQL_Nganhang" // payment gateway (BGW_HD)
)

// Query is a read against one remote function. SQL uses ? placeholders
// bound from Args; slice arguments expand to a parenthesized list.
type Query struct {
	Function string
	SQL      string
	Args     []any
}

// String renders the query for logs and cache keys.
func (q Query) String() string {
	rendered, err := Render(q.SQL, q.Args...)
	if err != nil {
		return q.Function + ": " + q.SQL
	}
	return q.Function + ": " + rendered
}

// Executor runs queries. An empty result is an empty table, never an error.
type Executor interface {
	FetchRows(ctx context.Context, q Query) (*Table, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, q Query) (*Table, error)

// FetchRows calls f.
func (f ExecutorFunc) FetchRows(ctx context.Context, q Query) (*Table, error) {
	return f(ctx, q)
}

// Render substitutes args into sql as escaped literals. It is used only
// where the transport accepts nothing but finished SQL text.
func Render(sql string, args ...any) (string, error) {
	var b strings.Builder
	b.Grow(len(sql) + 16*len(args))

	next := 0
	inQuote := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			if next >= len(args) {
				return "", fmt.Errorf("query has more placeholders than arguments (%d)", len(args))
			}
			lit, err := literal(args[next])
			if err != nil {
				return "", fmt.Errorf("argument %d: %w", next+1, err)
			}
			b.WriteString(lit)
			next++
		default:
			b.WriteByte(c)
		}
	}
	if next != len(args) {
		return "", fmt.Errorf("query has %d placeholders but %d arguments", next, len(args))
	}
	return b.String(), nil
}

func literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quote(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case decimal.Decimal:
		return x.String(), nil
	case time.Time:
		return quote(x.Format("2006-01-02 15:04:05")), nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		if rv.Len() == 0 {
			return "(NULL)", nil
		}
		parts := make([]string, rv.Len())
		for i := range parts {
			lit, err := literal(rv.Index(i).Interface())
			if err != nil {
				return "", err
			}
			parts[i] = lit
		}
		return "(" + strings.Join(parts, ", ") + ")", nil
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	}
	return "", fmt.Errorf("unsupported argument type %T", v)
}

// quote doubles embedded quotes; non-ASCII text gets the N prefix so the
// server keeps it as Unicode.
func quote(s string) string {
	q := "'" + strings.ReplaceAll(s, "'", "''") + "'"
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return "N" + q
		}
	}
	return q
}

// Chunk splits ids into consecutive slices of at most size elements.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
