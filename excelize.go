package xlreport

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Workbook is an xlsx template opened for block capture. Captured blocks
// keep the template's style ids, so output written into the same file
// reuses the template styles.
type Workbook struct {
	f    *excelize.File
	rows map[string][][]string // raw cell values per sheet
}

// OpenWorkbook opens a template file.
func OpenWorkbook(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	return NewWorkbook(f), nil
}

// OpenWorkbookReader opens a template from a reader.
func OpenWorkbookReader(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	return NewWorkbook(f), nil
}

// NewWorkbook wraps an already opened file.
func NewWorkbook(f *excelize.File) *Workbook {
	return &Workbook{f: f, rows: make(map[string][][]string)}
}

// File returns the underlying excelize file.
func (w *Workbook) File() *excelize.File { return w.f }

// Close closes the underlying file.
func (w *Workbook) Close() error { return w.f.Close() }

// HasSheet reports whether the template has a sheet with the given name.
func (w *Workbook) HasSheet(name string) bool {
	idx, err := w.f.GetSheetIndex(name)
	return err == nil && idx >= 0
}

func (w *Workbook) sheetRows(sheet string) ([][]string, error) {
	if rows, ok := w.rows[sheet]; ok {
		return rows, nil
	}
	if !w.HasSheet(sheet) {
		return nil, fmt.Errorf("template sheet %q not found", sheet)
	}
	rows, err := w.f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	w.rows[sheet] = rows
	return rows, nil
}

// width returns the number of columns worth scanning on a sheet.
func (w *Workbook) width(sheet string, rows [][]string) int {
	n := 0
	for _, r := range rows {
		n = max(n, len(r))
	}
	if dim, err := w.f.GetSheetDimension(sheet); err == nil && dim != "" {
		_, last, _ := strings.Cut(dim, ":")
		if last == "" {
			last = dim
		}
		if col, _, err := excelize.CellNameToCoordinates(last); err == nil {
			n = max(n, col)
		}
	}
	return n
}

// Block captures template rows first..last (1-based, inclusive) of a sheet.
func (w *Workbook) Block(sheet string, first, last int) (*Block, error) {
	if first < 1 || last < first {
		return nil, fmt.Errorf("invalid row range %d:%d", first, last)
	}
	rows, err := w.sheetRows(sheet)
	if err != nil {
		return nil, err
	}
	width := w.width(sheet, rows)
	defaultHeight := 15.0
	if props, err := w.f.GetSheetProps(sheet); err == nil && props.DefaultRowHeight != nil {
		defaultHeight = *props.DefaultRowHeight
	}

	b := &Block{Sheet: sheet, FirstRow: first}
	for r := first; r <= last; r++ {
		var raw []string
		if r-1 < len(rows) {
			raw = rows[r-1]
		}
		tr := TemplateRow{}
		if h, err := w.f.GetRowHeight(sheet, r); err == nil && h != defaultHeight {
			tr.Height = h
		}
		if visible, err := w.f.GetRowVisible(sheet, r); err == nil {
			tr.Hidden = !visible
		}
		for c := 0; c < width; c++ {
			tc, ok, err := w.cell(sheet, r, c, raw)
			if err != nil {
				return nil, err
			}
			if ok {
				tr.Cells = append(tr.Cells, tc)
			}
		}
		b.Rows = append(b.Rows, tr)
	}

	merges, err := w.f.GetMergeCells(sheet)
	if err != nil {
		return nil, fmt.Errorf("read merged cells of %q: %w", sheet, err)
	}
	for _, m := range merges {
		area, err := ParseAreaRef(m.GetStartAxis() + ":" + m.GetEndAxis())
		if err != nil {
			continue
		}
		if area.First.Row >= first-1 && area.Last.Row <= last-1 {
			b.Merges = append(b.Merges, area)
		}
	}
	return b, nil
}

// cell captures one template cell. ok is false for cells with no value,
// formula or style.
func (w *Workbook) cell(sheet string, row, col int, raw []string) (TemplateCell, bool, error) {
	axis := NewCellRef("", row-1, col).CellName()
	var value string
	if col < len(raw) {
		value = raw[col]
	}
	formula, err := w.f.GetCellFormula(sheet, axis)
	if err != nil {
		return TemplateCell{}, false, fmt.Errorf("read formula %s!%s: %w", sheet, axis, err)
	}
	style, err := w.f.GetCellStyle(sheet, axis)
	if err != nil {
		return TemplateCell{}, false, fmt.Errorf("read style %s!%s: %w", sheet, axis, err)
	}
	if value == "" && formula == "" && style == 0 {
		return TemplateCell{}, false, nil
	}

	tc := TemplateCell{Col: col, StyleID: style}
	switch {
	case formula != "":
		tc.Formula = strings.TrimPrefix(formula, "=")
		tc.Type = CellFormula
	case value == "":
		tc.Type = CellBlank
	default:
		tc.Value, tc.Type = w.typedValue(sheet, axis, value)
	}
	if tc.Type == CellString && IsMacro(value) {
		call, err := ParseMacroCall(value)
		if err != nil {
			return TemplateCell{}, false, &TemplateError{Sheet: sheet, Cell: axis, Msg: "invalid macro", Err: err}
		}
		tc.Macro = call
	}
	return tc, true, nil
}

func (w *Workbook) typedValue(sheet, axis, raw string) (any, CellType) {
	typ, _ := w.f.GetCellType(sheet, axis)
	switch typ {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true"), CellBoolean
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n, CellNumber
		}
	}
	return raw, CellString
}

// RegionBlock captures the rows covered by a defined name, such as
// "Sheet1!$A$4:$F$5" or "Sheet1!$4:$5".
func (w *Workbook) RegionBlock(name string) (*Block, error) {
	for _, dn := range w.f.GetDefinedName() {
		if dn.Name != name {
			continue
		}
		sheet, first, last, err := parseRegion(dn.RefersTo)
		if err != nil {
			return nil, fmt.Errorf("defined name %q: %w", name, err)
		}
		return w.Block(sheet, first, last)
	}
	return nil, fmt.Errorf("defined name %q not found", name)
}

// parseRegion extracts the sheet and 1-based row span of a range formula.
func parseRegion(refersTo string) (sheet string, first, last int, err error) {
	ref := strings.TrimPrefix(strings.TrimSpace(refersTo), "=")
	idx := strings.LastIndex(ref, "!")
	if idx < 0 {
		return "", 0, 0, fmt.Errorf("range %q has no sheet", refersTo)
	}
	sheet = strings.ReplaceAll(strings.Trim(ref[:idx], "'"), "''", "'")
	a, b, found := strings.Cut(strings.ReplaceAll(ref[idx+1:], "$", ""), ":")
	if !found {
		b = a
	}
	if first, err = rowOf(a); err != nil {
		return "", 0, 0, fmt.Errorf("range %q: %w", refersTo, err)
	}
	if last, err = rowOf(b); err != nil {
		return "", 0, 0, fmt.Errorf("range %q: %w", refersTo, err)
	}
	return sheet, first, last, nil
}

func rowOf(ref string) (int, error) {
	digits := strings.TrimLeftFunc(ref, func(r rune) bool { return r < '0' || r > '9' })
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("no row in %q", ref)
	}
	return n, nil
}

// ColumnWidths returns the custom column widths of a template sheet.
func (w *Workbook) ColumnWidths(sheet string) (map[int]float64, error) {
	rows, err := w.sheetRows(sheet)
	if err != nil {
		return nil, err
	}
	base, err := w.f.GetColWidth(sheet, "XFD")
	if err != nil {
		return nil, err
	}
	widths := make(map[int]float64)
	for c := range w.width(sheet, rows) {
		cw, err := w.f.GetColWidth(sheet, ColToName(c))
		if err != nil {
			return nil, err
		}
		if cw != base {
			widths[c] = cw
		}
	}
	return widths, nil
}

// excelDocument writes output sheets into an excelize file with one
// StreamWriter per sheet.
type excelDocument struct {
	f       *excelize.File
	maxArgs int
	sheets  []string
}

// NewExcelDocument returns a Document writing new sheets into f.
func NewExcelDocument(f *excelize.File) Document {
	return &excelDocument{f: f, maxArgs: DefaultMaxFormulaArgs}
}

func (d *excelDocument) MaxFormulaArgs() int { return d.maxArgs }

func (d *excelDocument) NewSheet(spec SheetSpec) (SheetWriter, error) {
	if _, err := d.f.NewSheet(spec.Name); err != nil {
		return nil, fmt.Errorf("create sheet %q: %w", spec.Name, err)
	}
	below := spec.SummaryBelow
	if err := d.f.SetSheetProps(spec.Name, &excelize.SheetPropsOptions{OutlineSummaryBelow: &below}); err != nil {
		return nil, fmt.Errorf("set properties of %q: %w", spec.Name, err)
	}
	sw, err := d.f.NewStreamWriter(spec.Name)
	if err != nil {
		return nil, fmt.Errorf("stream sheet %q: %w", spec.Name, err)
	}
	cols := make([]int, 0, len(spec.ColumnWidths))
	for c := range spec.ColumnWidths {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	for _, c := range cols {
		if err := sw.SetColWidth(c+1, c+1, spec.ColumnWidths[c]); err != nil {
			return nil, fmt.Errorf("set width of column %s: %w", ColToName(c), err)
		}
	}
	d.sheets = append(d.sheets, spec.Name)
	return &excelSheet{sw: sw}, nil
}

type excelSheet struct {
	sw *excelize.StreamWriter
}

func (s *excelSheet) WriteRow(row int, cells []OutCell, opts RowOptions) error {
	width := 0
	for _, c := range cells {
		width = max(width, c.Col+1)
	}
	values := make([]any, width)
	for _, c := range cells {
		values[c.Col] = excelize.Cell{StyleID: c.StyleID, Formula: c.Formula, Value: cellValue(c.Value)}
	}
	axis := "A" + strconv.Itoa(row)
	return s.sw.SetRow(axis, values, excelize.RowOpts{
		Height:       opts.Height,
		Hidden:       opts.Hidden,
		OutlineLevel: opts.OutlineLevel,
	})
}

func (s *excelSheet) MergeCells(area AreaRef) error {
	return s.sw.MergeCell(area.First.CellName(), area.Last.CellName())
}

func (s *excelSheet) Close() error { return s.sw.Flush() }

// cellValue converts values the stream writer would otherwise print as text.
func cellValue(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.InexactFloat64()
	case *decimal.Decimal:
		if x == nil {
			return nil
		}
		return x.InexactFloat64()
	case time.Time:
		if x.IsZero() {
			return nil
		}
	}
	return v
}
