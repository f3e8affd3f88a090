// Package sources turns gateway and worksheet tables into typed rows.
// It owns every query text the pipeline sends; values are always bound
// as arguments, never spliced into the SQL.
package sources

import (
	"context"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/sheets"
	"ghithu-reconciliation-service/pkg/logger"
)

// DefaultChunkSize bounds the id list of one IN query.
const DefaultChunkSize = 500

// Sources reads typed entities from the billing gateway and the ledger
// worksheets.
type Sources struct {
	exec      gateway.Executor
	sheets    sheets.Store
	chunkSize int
	logger    logger.Logger
}

// New wires the two ports. Either may be nil when the caller only uses
// the other one.
func New(exec gateway.Executor, store sheets.Store, log logger.Logger) *Sources {
	return &Sources{
		exec:      exec,
		sheets:    store,
		chunkSize: DefaultChunkSize,
		logger:    logger.OrDefault(log).WithComponent("sources"),
	}
}

// WithChunkSize overrides the IN-list size; used by tests.
func (s *Sources) WithChunkSize(n int) *Sources {
	if n > 0 {
		s.chunkSize = n
	}
	return s
}

func (s *Sources) fetch(ctx context.Context, function, sql string, args ...any) (*gateway.Table, error) {
	return s.exec.FetchRows(ctx, gateway.Query{Function: function, SQL: sql, Args: args})
}

// fetchChunked runs sql once per chunk of ids, binding the chunk as the
// first argument, and concatenates the results.
func (s *Sources) fetchChunked(ctx context.Context, operation, function, sql string, ids []string) (*gateway.Table, error) {
	ids = unique(ids)
	out := gateway.NewTable()
	if len(ids) == 0 {
		return out, nil
	}

	chunks := gateway.Chunk(ids, s.chunkSize)
	progress := logger.NewChunkProgress(operation, len(ids), len(chunks), s.logger)
	for _, chunk := range chunks {
		table, err := s.fetch(ctx, function, sql, chunk)
		if err != nil {
			return nil, err
		}
		out.Concat(table)
		progress.ChunkDone(len(chunk))
	}
	progress.Complete()
	return out, nil
}

// unique drops blanks and repeats, keeping first-seen order.
func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
