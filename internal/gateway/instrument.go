package gateway

import (
	"context"
	"time"
)

// Recorder receives one observation per executed query.
type Recorder interface {
	ObserveFetch(function string, err error, elapsed time.Duration, rows int)
}

// Instrument wraps next so every query is reported to rec.
func Instrument(next Executor, rec Recorder) Executor {
	if rec == nil {
		return next
	}
	return ExecutorFunc(func(ctx context.Context, q Query) (*Table, error) {
		start := time.Now()
		table, err := next.FetchRows(ctx, q)
		rec.ObserveFetch(q.Function, err, time.Since(start), table.Len())
		return table, err
	})
}
