// Package export renders report results for operators and downstream tools.
//
// Every result is first turned into a Document: a title, the value to
// encode as JSON, and the named tables shown everywhere else. Supported
// output formats:
//   - Console: aligned text tables for terminal display
//   - JSON: the document value, indented
//   - CSV: every table in turn, each preceded by its sheet name
//   - XLSX: one worksheet per table
//   - PDF: the weekly report layout for report documents, a landscape
//     list for anything else
//
// Example usage:
//
//	gen, err := export.NewGenerator(&export.Config{Format: export.FormatXLSX}, log)
//	if err != nil {
//		return err
//	}
//	err = gen.Write(w, export.ReportDocument(result))
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"ghithu-reconciliation-service/internal/report"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"

	"golang.org/x/text/unicode/norm"
)

// OutputFormat is a supported rendering.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
	FormatPDF     OutputFormat = "pdf"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX, FormatPDF:
		return true
	default:
		return false
	}
}

// Binary reports whether the format must go to a file rather than a terminal.
func (f OutputFormat) Binary() bool {
	return f == FormatXLSX || f == FormatPDF
}

// Extension is the file extension for the format, dot included.
func (f OutputFormat) Extension() string {
	if f == FormatConsole {
		return ".txt"
	}
	return "." + string(f)
}

// ParseFormat reads a format name case-insensitively.
func ParseFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", errors.ValidationError(errors.CodeInvalidFormat, "format", s, nil).
			WithSuggestion("use one of console, json, csv, xlsx, pdf")
	}
	return f, nil
}

// Config holds the rendering options.
type Config struct {
	Format OutputFormat `json:"format"`

	// Console options
	TableMaxWidth int `json:"table_max_width"`
	MaxRows       int `json:"max_rows"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`

	PDF PDFConfig `json:"pdf"`
}

// DefaultConfig returns a default export configuration.
func DefaultConfig() *Config {
	return &Config{
		Format:        FormatConsole,
		TableMaxWidth: 160,
		MaxRows:       50,
		CSVDelimiter:  ',',
		CSVHeaders:    true,
	}
}

// Validate validates the export configuration
func (c *Config) Validate() error {
	if !c.Format.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "export.format", c.Format, nil)
	}
	if c.TableMaxWidth < 40 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "export.table_max_width", c.TableMaxWidth, nil).
			WithSuggestion("table max width must be at least 40 characters")
	}
	if c.MaxRows < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "export.max_rows", c.MaxRows, nil)
	}
	if c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n' {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "export.csv_delimiter", string(c.CSVDelimiter), nil)
	}
	return nil
}

// Document is one renderable result.
type Document struct {
	Title string
	// Value is what the JSON format encodes.
	Value  any
	Tables []report.NamedTable
	// Notes are printed under the title in text formats.
	Notes []string

	// Report is set for weekly report documents, which get the report
	// layout in PDF.
	Report *report.Result
}

// Generator renders documents in the configured format.
type Generator struct {
	config *Config
	logger logger.Logger
}

// NewGenerator creates a generator. A nil config uses DefaultConfig.
func NewGenerator(config *Config, log logger.Logger) (*Generator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Generator{config: config, logger: logger.OrDefault(log).WithComponent("export")}, nil
}

// Config returns the generator configuration.
func (g *Generator) Config() *Config {
	return g.config
}

// Write renders doc to w.
func (g *Generator) Write(w io.Writer, doc Document) error {
	var err error
	switch g.config.Format {
	case FormatConsole:
		err = g.writeConsole(w, doc)
	case FormatJSON:
		err = g.writeJSON(w, doc)
	case FormatCSV:
		err = g.writeCSV(w, doc)
	case FormatXLSX:
		err = WriteWorkbook(w, doc.Tables)
	case FormatPDF:
		if doc.Report != nil {
			err = WriteWeeklyPDF(w, doc.Report, g.config.PDF)
		} else {
			err = WriteListPDF(w, doc.Title, doc.Tables, g.config.PDF)
		}
	default:
		err = fmt.Errorf("unsupported output format: %s", g.config.Format)
	}
	if err != nil {
		if _, ok := errors.AsReconcilerError(err); ok {
			return err
		}
		return errors.ExportError(errors.CodeRenderFailed, string(g.config.Format), "", err)
	}

	g.logger.WithFields(logger.Fields{
		"format": string(g.config.Format),
		"title":  doc.Title,
		"tables": len(doc.Tables),
	}).Debug("Document rendered")
	return nil
}

func (g *Generator) writeConsole(w io.Writer, doc Document) error {
	fmt.Fprintf(w, "%s\n", strings.ToUpper(doc.Title))
	for _, n := range doc.Notes {
		fmt.Fprintf(w, "%s\n", n)
	}
	fmt.Fprintf(w, "\n")

	for _, nt := range doc.Tables {
		fmt.Fprintf(w, "=== %s ===\n", nt.Name)
		if nt.Table.Empty() {
			fmt.Fprintf(w, "(không có dòng nào)\n\n")
			continue
		}
		g.printTable(w, nt)
		fmt.Fprintf(w, "\n")
	}
	return nil
}

func (g *Generator) printTable(w io.Writer, nt report.NamedTable) {
	t := nt.Table
	widths := make([]int, len(t.Columns))
	for i, c := range t.Columns {
		widths[i] = displayWidth(c)
	}
	shown := t.Rows
	if g.config.MaxRows > 0 && len(shown) > g.config.MaxRows {
		shown = shown[:g.config.MaxRows]
	}
	for _, row := range shown {
		for i, v := range t.Values(row) {
			if n := displayWidth(v); n > widths[i] {
				widths[i] = n
			}
		}
	}
	fitWidths(widths, g.config.TableMaxWidth)

	printRow(w, t.Columns, widths)
	sep := make([]string, len(widths))
	for i, n := range widths {
		sep[i] = strings.Repeat("-", n)
	}
	printRow(w, sep, widths)
	for _, row := range shown {
		printRow(w, t.Values(row), widths)
	}
	if len(shown) < t.Len() {
		fmt.Fprintf(w, "... and %d more\n", t.Len()-len(shown))
	}
}

// fitWidths narrows the widest columns until the line fits max.
func fitWidths(widths []int, max int) {
	total := func() int {
		n := 2 * (len(widths) - 1)
		for _, w := range widths {
			n += w
		}
		return n
	}
	for total() > max {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 4 {
			return
		}
		widths[widest]--
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	var b strings.Builder
	for i, c := range cells {
		if i > 0 {
			b.WriteString("  ")
		}
		c = truncate(c, widths[i])
		b.WriteString(c)
		if i < len(cells)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-displayWidth(c)))
		}
	}
	fmt.Fprintln(w, b.String())
}

// displayWidth counts composed runes so that Vietnamese tone marks typed
// as combining characters do not widen a column.
func displayWidth(s string) int {
	return utf8.RuneCountInString(norm.NFC.String(s))
}

func truncate(s string, width int) string {
	s = norm.NFC.String(s)
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	r := []rune(s)
	return string(r[:width-1]) + "…"
}

func (g *Generator) writeJSON(w io.Writer, doc Document) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	value := doc.Value
	if value == nil {
		value = tablesValue(doc.Tables)
	}
	return encoder.Encode(value)
}

// tablesValue keys each table by its sheet name.
func tablesValue(tables []report.NamedTable) map[string]any {
	out := make(map[string]any, len(tables))
	for _, nt := range tables {
		out[nt.Name] = nt.Table
	}
	return out
}

func (g *Generator) writeCSV(w io.Writer, doc Document) error {
	csvWriter := csv.NewWriter(w)
	csvWriter.Comma = g.config.CSVDelimiter

	for i, nt := range doc.Tables {
		if len(doc.Tables) > 1 {
			if i > 0 {
				if err := csvWriter.Write([]string{}); err != nil {
					return err
				}
			}
			if err := csvWriter.Write([]string{nt.Name}); err != nil {
				return fmt.Errorf("failed to write table name: %w", err)
			}
		}
		if g.config.CSVHeaders {
			if err := csvWriter.Write(nt.Table.Columns); err != nil {
				return fmt.Errorf("failed to write CSV headers: %w", err)
			}
		}
		for _, row := range nt.Table.Rows {
			if err := csvWriter.Write(nt.Table.Values(row)); err != nil {
				return fmt.Errorf("failed to write %s record: %w", nt.Name, err)
			}
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
