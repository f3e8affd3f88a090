// Package sheets is the worksheet port: the hand-maintained assignment
// ledger ("database") and lock ledger ("ON_OFF") live in a spreadsheet,
// and delinquent-account batches are appended back to it.
package sheets

import (
	"context"
	"fmt"
	"time"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Worksheet names.
const (
	AssignmentSheet = "database"
	LockSheet       = "ON_OFF"
)

// AppendStartColumn is where appended rows begin. Column A of the
// assignment worksheet is owned by a spreadsheet formula.
const AppendStartColumn = "B"

const (
	msgNothingToSend = "Không có dữ liệu để gửi."
	msgSent          = "Gửi thành công %d khách hàng."
	msgSendFailed    = "Lỗi khi gửi dữ liệu: %v"
)

// Store reads worksheets and appends rows to them.
type Store interface {
	// FetchWorksheet returns the worksheet with header-derived columns.
	FetchWorksheet(ctx context.Context, name string) (*gateway.Table, error)
	// AppendRows writes rows after the last used row. It never fails
	// loudly: on error it returns 0 and a message for the operator.
	AppendRows(ctx context.Context, name string, rows *gateway.Table) (int, string)
}

// Config selects the worksheet backend.
type Config struct {
	Mode            string `mapstructure:"mode" validate:"oneof=google csv"`
	CredentialsFile string `mapstructure:"credentials_file" validate:"required_if=Mode google"`
	SpreadsheetID   string `mapstructure:"spreadsheet_id" validate:"required_if=Mode google"`
	Dir             string `mapstructure:"dir" validate:"required_if=Mode csv"`
}

// Open builds the store selected by config.
func Open(ctx context.Context, config Config, locker Locker, log logger.Logger) (Store, error) {
	switch config.Mode {
	case "google":
		return NewGoogleStore(ctx, config, locker, log)
	case "csv":
		return NewCSVStore(config.Dir, locker, log), nil
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "sheets.mode", config.Mode,
			fmt.Errorf("unsupported worksheet mode"))
	}
}

// Locker serializes appends to the same worksheet across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// NoLocker is used when no Redis is configured.
type NoLocker struct{}

func (NoLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// RedisLocker takes a bsm/redislock lease per worksheet.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

// NewRedisLocker holds each lease for ttl and retries for roughly
// five seconds before reporting the worksheet as busy.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(200*time.Millisecond), 25),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if err == redislock.ErrNotObtained {
		return nil, errors.SheetError(errors.CodeLockBusy, key, err)
	}
	if err != nil {
		return nil, errors.SheetError(errors.CodeAppendFailed, key, err)
	}
	return func() { _ = lock.Release(context.Background()) }, nil
}

// LockKey names the append lease for a worksheet.
func LockKey(worksheet string) string {
	return "ghithu:append:" + worksheet
}

func lockerOrNone(l Locker) Locker {
	if l == nil {
		return NoLocker{}
	}
	return l
}
