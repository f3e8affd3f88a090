package export

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"ghithu-reconciliation-service/internal/aggregate"
	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/report"
	"ghithu-reconciliation-service/pkg/errors"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/orientation"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/johnfercher/maroto/v2/pkg/repository"
)

// PDFConfig holds the PDF options. The built-in fonts cannot draw
// Vietnamese tone marks, so production setups point FontFile and
// BoldFontFile at a UTF-8 TrueType font.
type PDFConfig struct {
	// Staff maps a group to the names printed in the header and the
	// signature block.
	Staff        map[string][]string `json:"staff,omitempty"`
	FontFamily   string              `json:"font_family,omitempty"`
	FontFile     string              `json:"font_file,omitempty"`
	BoldFontFile string              `json:"bold_font_file,omitempty"`

	Now func() time.Time `json:"-"`
}

// StaffLine is the "Nhân viên" header value: the group's staff, or
// "Tổng hợp" when the group has none configured.
func (c PDFConfig) StaffLine(group string) string {
	if names := c.StaffOf(group); len(names) > 0 {
		return strings.Join(names, ", ")
	}
	return "Tổng hợp"
}

// StaffOf returns the staff of group. Keys compare case-insensitively
// since viper lowercases map keys read from YAML.
func (c PDFConfig) StaffOf(group string) []string {
	group = strings.TrimSpace(group)
	if names, ok := c.Staff[group]; ok {
		return names
	}
	for k, names := range c.Staff {
		if strings.EqualFold(k, group) {
			return names
		}
	}
	return nil
}

func (c PDFConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

const (
	pdfGrid    = 60
	rowHeight  = 6
	bodySize   = 8
	headerSize = 9
)

var weeklyTitles = map[string]string{
	report.SheetSummary:    "BẢNG TỔNG HỢP:",
	report.SheetStatistics: "BẢNG THỐNG KÊ CHI TIẾT:",
	SheetPie:               "TỶ LỆ HOÀN THÀNH:",
}

// WriteWeeklyPDF renders the weekly report: letterhead, window and staff
// lines, the summary, statistics and completion tables, and a signature
// block when the group has exactly two staff. The account detail is
// left to the workbook.
func WriteWeeklyPDF(w io.Writer, r *report.Result, cfg PDFConfig) error {
	m, err := newDocument(cfg, orientation.Vertical)
	if err != nil {
		return err
	}
	letterhead(m, cfg.now())

	m.AddRow(10, text.NewCol(pdfGrid, "BÁO CÁO CÔNG TÁC TUẦN", props.Text{
		Size: 14, Style: fontstyle.Bold, Align: align.Center, Top: 2,
	}))
	m.AddRow(rowHeight, text.NewCol(pdfGrid, DateLine(r.Request.Start, r.Request.End), props.Text{Size: 10, Align: align.Center}))
	m.AddRow(rowHeight, text.NewCol(pdfGrid, "Nhân viên : "+cfg.StaffLine(r.Request.Group), props.Text{Size: 10, Align: align.Center}))

	if r.Empty {
		m.AddRow(12, text.NewCol(pdfGrid, r.Message, props.Text{Size: 10, Align: align.Center, Top: 4}))
	} else {
		tables := r.Tables()
		if len(r.Pie) > 0 {
			tables = append(tables, report.NamedTable{Name: SheetPie, Table: aggregate.PieTable(r.Pie)})
		}
		for _, nt := range tables {
			title, ok := weeklyTitles[nt.Name]
			if !ok || nt.Table.Empty() {
				continue
			}
			m.AddRow(10, text.NewCol(pdfGrid, title, props.Text{Size: 10, Style: fontstyle.Bold, Top: 4}))
			addTable(m, nt.Table, evenWeights(len(nt.Table.Columns)))
		}
	}

	if names := cfg.StaffOf(r.Request.Group); len(names) == 2 {
		m.AddRow(10)
		m.AddRow(30,
			signature(names[0]),
			signature(names[1]),
		)
	}
	return generate(m, w)
}

// WriteListPDF renders tables as a landscape list under the letterhead,
// column widths following their content.
func WriteListPDF(w io.Writer, title string, tables []report.NamedTable, cfg PDFConfig) error {
	m, err := newDocument(cfg, orientation.Horizontal)
	if err != nil {
		return err
	}
	letterhead(m, cfg.now())
	m.AddRow(12, text.NewCol(pdfGrid, strings.ToUpper(title), props.Text{
		Size: 14, Style: fontstyle.Bold, Align: align.Center, Top: 3,
	}))

	for _, nt := range tables {
		if len(tables) > 1 {
			m.AddRow(10, text.NewCol(pdfGrid, nt.Name, props.Text{Size: 10, Style: fontstyle.Bold, Top: 4}))
		}
		if nt.Table.Empty() {
			m.AddRow(rowHeight, text.NewCol(pdfGrid, "Không có dữ liệu.", props.Text{Size: bodySize}))
			continue
		}
		addTable(m, nt.Table, contentWeights(nt.Table))
	}
	return generate(m, w)
}

func newDocument(cfg PDFConfig, o orientation.Type) (core.Maroto, error) {
	b := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Trang {current}/{total}",
			Place:   props.RightBottom,
		}).
		WithOrientation(o).
		WithMaxGridSize(pdfGrid).
		WithLeftMargin(12).
		WithRightMargin(12).
		WithTopMargin(10)

	if cfg.FontFile != "" {
		family := cfg.FontFamily
		if family == "" {
			family = "report"
		}
		bold := cfg.BoldFontFile
		if bold == "" {
			bold = cfg.FontFile
		}
		fonts, err := repository.New().
			AddUTF8Font(family, fontstyle.Normal, cfg.FontFile).
			AddUTF8Font(family, fontstyle.Bold, bold).
			AddUTF8Font(family, fontstyle.Italic, cfg.FontFile).
			Load()
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "export.pdf.font_file", cfg.FontFile, err)
		}
		b = b.WithCustomFonts(fonts).WithDefaultFont(&props.Font{Family: family, Size: bodySize})
	}
	return maroto.New(b.Build()), nil
}

func letterhead(m core.Maroto, now time.Time) {
	half := pdfGrid / 2
	m.AddRow(14,
		col.New(half).Add(
			text.New("CÔNG TY CỔ PHẦN CẤP NƯỚC BẾN THÀNH", props.Text{Size: headerSize, Align: align.Center}),
			text.New("ĐỘI QUẢN LÝ GHI THU NƯỚC", props.Text{Size: headerSize, Style: fontstyle.Bold, Align: align.Center, Top: 5}),
		),
		col.New(half).Add(
			text.New("CỘNG HÒA XÃ HỘI CHỦ NGHĨA VIỆT NAM", props.Text{Size: headerSize, Align: align.Center}),
			text.New("Độc lập - Tự do - Hạnh phúc", props.Text{Size: headerSize, Style: fontstyle.Bold, Align: align.Center, Top: 5}),
		),
	)
	m.AddRow(8, text.NewCol(pdfGrid,
		fmt.Sprintf("Thành phố Hồ Chí Minh, ngày %d tháng %d năm %d", now.Day(), int(now.Month()), now.Year()),
		props.Text{Size: headerSize, Style: fontstyle.Italic, Align: align.Right, Top: 2},
	))
}

func signature(name string) core.Col {
	return col.New(pdfGrid/2).Add(
		text.New("NHÂN VIÊN", props.Text{Size: 10, Style: fontstyle.Bold, Align: align.Center}),
		text.New(name, props.Text{Size: 10, Style: fontstyle.Bold, Align: align.Center, Top: 22}),
	)
}

// addTable draws a header row and one row per record. Totals rows are
// bold.
func addTable(m core.Maroto, t *gateway.Table, weights []int) {
	spans := proportional(weights, pdfGrid)

	head := make([]core.Col, len(t.Columns))
	for i, c := range t.Columns {
		head[i] = text.NewCol(spans[i], c, props.Text{Size: bodySize, Style: fontstyle.Bold, Align: align.Center})
	}
	m.AddRow(rowHeight+2, head...)

	for _, row := range t.Rows {
		values := t.Values(row)
		style := fontstyle.Normal
		if isTotalRow(values) {
			style = fontstyle.Bold
		}
		cells := make([]core.Col, len(values))
		for i, v := range values {
			cells[i] = text.NewCol(spans[i], v, props.Text{Size: bodySize, Style: style, Align: align.Center})
		}
		m.AddRow(rowHeight, cells...)
	}
}

func evenWeights(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// contentWeights weighs each column by its widest cell, capped so one
// free-text column cannot starve the others.
func contentWeights(t *gateway.Table) []int {
	out := make([]int, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = utf8.RuneCountInString(c)
	}
	for _, row := range t.Rows {
		for i, v := range t.Values(row) {
			if n := utf8.RuneCountInString(v); n > out[i] {
				out[i] = n
			}
		}
	}
	for i := range out {
		if out[i] > 40 {
			out[i] = 40
		}
		if out[i] < 3 {
			out[i] = 3
		}
	}
	return out
}

// proportional splits grid units across weights. Every column gets at
// least one unit and the units add up to grid whenever len(weights) <= grid.
func proportional(weights []int, grid int) []int {
	spans := make([]int, len(weights))
	if len(weights) == 0 {
		return spans
	}
	total := 0
	for _, w := range weights {
		total += w
	}
	sum, widest := 0, 0
	for i, w := range weights {
		spans[i] = w * grid / total
		if spans[i] < 1 {
			spans[i] = 1
		}
		sum += spans[i]
		if weights[i] > weights[widest] {
			widest = i
		}
	}
	for sum != grid {
		if sum < grid {
			spans[widest]++
			sum++
			continue
		}
		i := largest(spans)
		if spans[i] <= 1 {
			break
		}
		spans[i]--
		sum--
	}
	return spans
}

func largest(spans []int) int {
	idx := 0
	for i := range spans {
		if spans[i] > spans[idx] {
			idx = i
		}
	}
	return idx
}

func generate(m core.Maroto, w io.Writer) error {
	doc, err := m.Generate()
	if err != nil {
		return errors.ExportError(errors.CodeRenderFailed, "pdf", "", err)
	}
	if _, err := w.Write(doc.GetBytes()); err != nil {
		return errors.ExportError(errors.CodeWriteFailed, "pdf", "", err)
	}
	return nil
}
