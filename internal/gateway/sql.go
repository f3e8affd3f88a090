package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLConfig configures direct database access. DSNs maps a remote
// function name to its own database; functions without an entry use DSN.
type SQLConfig struct {
	Driver string            `mapstructure:"driver" validate:"required,oneof=sqlserver mysql postgres sqlite"`
	DSN    string            `mapstructure:"dsn" validate:"required"`
	DSNs   map[string]string `mapstructure:"dsns"`
}

// Dialect returns the gorm dialector for driver.
func Dialect(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "sqlserver":
		return sqlserver.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported %s driver", driver)
	}
}

// SQLExecutor runs queries against billing databases through gorm with
// bound parameters.
type SQLExecutor struct {
	dbs      map[string]*gorm.DB
	fallback *gorm.DB
	logger   logger.Logger
}

// OpenSQLExecutor opens one connection per configured DSN.
func OpenSQLExecutor(config SQLConfig, log logger.Logger) (*SQLExecutor, error) {
	open := func(dsn string) (*gorm.DB, error) {
		dialector, err := Dialect(config.Driver, dsn)
		if err != nil {
			return nil, apperrors.ConfigurationError(apperrors.CodeInvalidConfig, "gateway.sql.driver", config.Driver, err)
		}
		db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		if err != nil {
			return nil, apperrors.GatewayError(apperrors.CodeConnectionFailed, config.Driver, err)
		}
		return db, nil
	}

	fallback, err := open(config.DSN)
	if err != nil {
		return nil, err
	}
	dbs := make(map[string]*gorm.DB, len(config.DSNs))
	for function, dsn := range config.DSNs {
		db, err := open(dsn)
		if err != nil {
			return nil, err
		}
		dbs[function] = db
	}
	return NewSQLExecutor(fallback, dbs, log), nil
}

// NewSQLExecutor wraps already-open connections.
func NewSQLExecutor(fallback *gorm.DB, byFunction map[string]*gorm.DB, log logger.Logger) *SQLExecutor {
	// Keys are matched case-insensitively; viper lowercases map keys.
	dbs := make(map[string]*gorm.DB, len(byFunction))
	for function, db := range byFunction {
		dbs[strings.ToLower(function)] = db
	}
	return &SQLExecutor{
		dbs:      dbs,
		fallback: fallback,
		logger:   logger.OrDefault(log).WithComponent("sql-gateway"),
	}
}

// FetchRows implements Executor.
func (e *SQLExecutor) FetchRows(ctx context.Context, q Query) (*Table, error) {
	db, ok := e.dbs[strings.ToLower(q.Function)]
	if !ok {
		db = e.fallback
	}

	rows, err := db.WithContext(ctx).Raw(q.SQL, q.Args...).Rows()
	if err != nil {
		code := apperrors.CodeQueryFailed
		if ctx.Err() != nil {
			code = apperrors.CodeTimeout
		}
		return nil, apperrors.GatewayError(code, q.Function, err)
	}
	defer rows.Close()

	table, err := scanTable(rows)
	if err != nil {
		return nil, apperrors.GatewayError(apperrors.CodeInvalidResponse, q.Function, err)
	}

	e.logger.WithFields(logger.Fields{"function": q.Function, "rows": table.Len()}).Debug("SQL query completed")
	return table, nil
}

// Close releases every underlying connection pool.
func (e *SQLExecutor) Close() error {
	seen := map[*gorm.DB]bool{}
	for _, db := range append([]*gorm.DB{e.fallback}, values(e.dbs)...) {
		if db == nil || seen[db] {
			continue
		}
		seen[db] = true
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return nil
}

func values(m map[string]*gorm.DB) []*gorm.DB {
	out := make([]*gorm.DB, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func scanTable(rows *sql.Rows) (*Table, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	table := NewTable(columns...)

	cells := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range cells {
		ptrs[i] = &cells[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, c := range columns {
			row[c] = cellText(cells[i])
		}
		table.Rows = append(table.Rows, row)
	}
	return table, rows.Err()
}

// cellText renders a driver value the way the web service prints it.
// Datetimes in UTC are treated as naive wall clocks, which is how SQL
// Server datetime columns arrive.
func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case time.Time:
		if x.Location() == time.UTC {
			return x.Format("2006-01-02T15:04:05.999999999")
		}
		return x.Format(time.RFC3339Nano)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
