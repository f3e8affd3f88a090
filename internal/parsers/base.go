// Package parsers reads and writes worksheet exports as CSV.
//
// Ledger worksheets ("database", "ON_OFF") are maintained by hand in a
// spreadsheet. When the service account is unavailable, operators export
// them to CSV and the tool runs against the exports instead. This
// package turns those files into gateway tables with header-derived
// columns, the same shape the Google Sheets store returns.
//
// The reader tolerates what real exports contain:
//   - a UTF-8 byte order mark before the header
//   - blank rows between data blocks
//   - short rows (trailing empty cells are dropped by some exporters)
//   - blank or duplicated header cells
package parsers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	Delimiter        rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1 << 20,
		ValidateEncoding: true,
	}
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig, log logger.Logger) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &BaseParser{
		config: config,
		logger: logger.OrDefault(log).WithComponent("csv-parser"),
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	Source     string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, source string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		Source:    source,
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	return pc.ctx.Err() != nil
}

// GetColumnIndex returns the index of a column by name, or -1 if not found
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, ok := pc.HeaderMap[name]; ok {
		return index
	}
	for header, index := range pc.HeaderMap {
		if strings.EqualFold(header, name) {
			return index
		}
	}
	return -1
}

// NewReader prepares a csv.Reader over r, dropping a leading BOM and
// rejecting input that is not UTF-8.
func (bp *BaseParser) NewReader(r io.Reader, source string) (*csv.Reader, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	var in io.Reader = br
	if bp.config.ValidateEncoding {
		data, err := io.ReadAll(br)
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, "", "", err)
		}
		if !utf8.Valid(data) {
			return nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, "encoding", "",
				fmt.Errorf("invalid UTF-8 encoding detected")).
				WithSuggestion("export the worksheet again as CSV (UTF-8)")
		}
		in = bytes.NewReader(data)
	}

	reader := csv.NewReader(in)
	reader.Comma = bp.config.Delimiter
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader, nil
}

// ReadHeaders reads the header row and checks required columns.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, required []string) error {
	headers, err := reader.Read()
	if err == io.EOF {
		return errors.ParseError(errors.CodeMissingColumn, parseCtx.Source, 1, "header", "", fmt.Errorf("file is empty")).
			WithSuggestion("ensure the export contains a header row")
	}
	if err != nil {
		return errors.ParseError(errors.CodeInvalidFormat, parseCtx.Source, 1, "header", "", err)
	}

	parseCtx.LineNumber++
	parseCtx.Headers = cleanHeaders(headers)
	parseCtx.HeaderMap = make(map[string]int, len(parseCtx.Headers))
	for i, h := range parseCtx.Headers {
		if _, dup := parseCtx.HeaderMap[h]; !dup {
			parseCtx.HeaderMap[h] = i
		}
	}

	var missing []string
	for _, h := range required {
		if parseCtx.GetColumnIndex(h) == -1 {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"source":    parseCtx.Source,
			"missing":   missing,
			"available": parseCtx.Headers,
		}).Error("Required headers are missing")
		return errors.ParseError(errors.CodeMissingColumn, parseCtx.Source, 1, strings.Join(missing, ", "), "", nil)
	}
	return nil
}

// cleanHeaders trims names and gives blank or repeated headers a
// positional name so no column silently shadows another.
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	seen := make(map[string]bool, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			h = fmt.Sprintf("column_%d", i+1)
		}
		seen[h] = true
		cleaned[i] = h
	}
	return cleaned
}

// ReadRecord returns the next non-empty record, or io.EOF.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "csv parsing", parseCtx.ctx.Err())
		}

		record, err := reader.Read()
		if err == io.EOF {
			return nil, err
		}
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidFormat, parseCtx.Source, parseCtx.LineNumber+1, "", "", err)
		}
		parseCtx.LineNumber++

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, errors.ParseError(errors.CodeInvalidData, parseCtx.Source, parseCtx.LineNumber,
						fieldName(parseCtx, i), preview(field), fmt.Errorf("field size limit exceeded"))
				}
			}
		}
		return record, nil
	}
}

func fieldName(parseCtx *ParseContext, i int) string {
	if i < len(parseCtx.Headers) {
		return parseCtx.Headers[i]
	}
	return fmt.Sprintf("column_%d", i+1)
}

func preview(field string) string {
	if len(field) <= 50 {
		return field
	}
	return field[:50] + "..."
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	TotalLines    int
	RecordsParsed int
	ShortRecords  int
	LongRecords   int
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d short, %d long)",
		ps.TotalLines, ps.RecordsParsed, ps.ShortRecords, ps.LongRecords)
}
