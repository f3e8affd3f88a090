package parsers

import (
	"context"
	"encoding/csv"
	"io"

	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"
)

// WorksheetParser converts worksheet CSV exports to gateway tables.
type WorksheetParser struct {
	*BaseParser
}

// NewWorksheetParser creates a parser; a nil config uses defaults.
func NewWorksheetParser(config *ParseConfig, log logger.Logger) *WorksheetParser {
	return &WorksheetParser{BaseParser: NewBaseParser(config, log)}
}

// ReadTable reads every record of r. Short rows read as empty trailing
// cells; cells beyond the header are dropped and counted.
func (p *WorksheetParser) ReadTable(ctx context.Context, r io.Reader, source string, required ...string) (*gateway.Table, *ParseStats, error) {
	reader, err := p.NewReader(r, source)
	if err != nil {
		return nil, nil, err
	}

	parseCtx := NewParseContext(ctx, source)
	if err := p.ReadHeaders(reader, parseCtx, required); err != nil {
		return nil, nil, err
	}

	table := gateway.NewTable(parseCtx.Headers...)
	stats := &ParseStats{}

	for {
		record, err := p.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, err
		}

		switch {
		case len(record) < len(parseCtx.Headers):
			stats.ShortRecords++
		case len(record) > len(parseCtx.Headers):
			stats.LongRecords++
		}
		table.AppendValues(record...)
		stats.RecordsParsed++
	}
	stats.TotalLines = parseCtx.LineNumber

	p.logger.WithFields(logger.Fields{
		"source":  source,
		"records": stats.RecordsParsed,
		"short":   stats.ShortRecords,
		"long":    stats.LongRecords,
	}).Debug("Worksheet export parsed")

	return table, stats, nil
}

// WriteTable writes table as CSV, header first when withHeader is set.
func WriteTable(w io.Writer, table *gateway.Table, withHeader bool) error {
	writer := csv.NewWriter(w)
	if withHeader {
		if err := writer.Write(table.Columns); err != nil {
			return errors.ExportError(errors.CodeWriteFailed, "csv", "", err)
		}
	}
	for _, row := range table.Rows {
		if err := writer.Write(table.Values(row)); err != nil {
			return errors.ExportError(errors.CodeWriteFailed, "csv", "", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.ExportError(errors.CodeWriteFailed, "csv", "", err)
	}
	return nil
}
