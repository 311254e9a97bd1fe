package xlreport

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// memDoc is an in-memory Document that records every written row and
// enforces the append-only contract.
type memDoc struct {
	maxArgs int
	sheets  []*memSheet
	failAt  int // WriteRow fails on this row when > 0
}

func newMemDoc() *memDoc { return &memDoc{maxArgs: DefaultMaxFormulaArgs} }

func (d *memDoc) MaxFormulaArgs() int { return d.maxArgs }

func (d *memDoc) NewSheet(spec SheetSpec) (SheetWriter, error) {
	s := &memSheet{doc: d, spec: spec, rows: make(map[int]memRow)}
	d.sheets = append(d.sheets, s)
	return s, nil
}

func (d *memDoc) sheet(t *testing.T, name string) *memSheet {
	t.Helper()
	for _, s := range d.sheets {
		if s.spec.Name == name {
			return s
		}
	}
	t.Fatalf("sheet %q not written", name)
	return nil
}

type memRow struct {
	cells map[int]OutCell
	opts  RowOptions
}

type memSheet struct {
	doc    *memDoc
	spec   SheetSpec
	rows   map[int]memRow
	last   int
	merges []AreaRef
	closed bool
}

func (s *memSheet) WriteRow(row int, cells []OutCell, opts RowOptions) error {
	if s.closed {
		return fmt.Errorf("sheet %q closed", s.spec.Name)
	}
	if row <= s.last {
		return fmt.Errorf("row %d written after row %d", row, s.last)
	}
	if s.doc.failAt > 0 && row == s.doc.failAt {
		return fmt.Errorf("disk full")
	}
	r := memRow{cells: make(map[int]OutCell), opts: opts}
	for _, c := range cells {
		r.cells[c.Col] = c
	}
	s.rows[row] = r
	s.last = row
	return nil
}

func (s *memSheet) MergeCells(area AreaRef) error {
	s.merges = append(s.merges, area)
	return nil
}

func (s *memSheet) Close() error {
	s.closed = true
	return nil
}

func (s *memSheet) cell(t *testing.T, axis string) OutCell {
	t.Helper()
	ref, err := ParseCellRef(axis)
	require.NoError(t, err)
	row, ok := s.rows[ref.Row+1]
	require.True(t, ok, "row %d not written", ref.Row+1)
	return row.cells[ref.Col]
}

func (s *memSheet) value(t *testing.T, axis string) any {
	t.Helper()
	return s.cell(t, axis).Value
}

func (s *memSheet) formula(t *testing.T, axis string) string {
	t.Helper()
	return s.cell(t, axis).Formula
}

// column returns the values of a column over rows 1..last.
func (s *memSheet) column(col int) []any {
	var out []any
	for r := 1; r <= s.last; r++ {
		out = append(out, s.rows[r].cells[col].Value)
	}
	return out
}

// tcell builds a template cell from a literal. Strings starting with '='
// become formulas and strings starting with '@' become macros.
func tcell(col int, v any) TemplateCell {
	s, ok := v.(string)
	switch {
	case !ok:
		tc := TemplateCell{Col: col, Value: v, Type: CellNumber}
		if _, isBool := v.(bool); isBool {
			tc.Type = CellBoolean
		}
		return tc
	case len(s) > 0 && s[0] == '=':
		return TemplateCell{Col: col, Formula: s[1:], Type: CellFormula}
	case IsMacro(s):
		call, err := ParseMacroCall(s)
		if err != nil {
			panic(err)
		}
		return TemplateCell{Col: col, Value: s, Type: CellString, Macro: call}
	}
	return TemplateCell{Col: col, Value: s, Type: CellString}
}

// row1 builds a one-row block from values in consecutive columns.
func row1(first int, values ...any) *Block {
	tr := TemplateRow{}
	for i, v := range values {
		if v == nil {
			continue
		}
		tr.Cells = append(tr.Cells, tcell(i, v))
	}
	return &Block{Sheet: "Template", FirstRow: first, Rows: []TemplateRow{tr}}
}

// rowsBlock stacks one-row blocks into a multi-row block.
func rowsBlock(first int, rows ...*Block) *Block {
	b := &Block{Sheet: "Template", FirstRow: first}
	for _, r := range rows {
		b.Rows = append(b.Rows, r.Rows...)
	}
	return b
}

func sheetLayout(name string, sections ...*Section) *Layout {
	return &Layout{Sheets: []*SheetLayout{{Name: name, Template: "Template", Sections: sections}}}
}

func render(t *testing.T, layout *Layout, data map[string]any, opts ...Option) (*memDoc, RenderStats, error) {
	t.Helper()
	doc := newMemDoc()
	stats, err := NewFiller(opts...).Render(context.Background(), layout, doc, data)
	return doc, stats, err
}

// saveTemplate writes an excelize file to a temporary path.
func saveTemplate(t *testing.T, f *excelize.File, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

// openOutput opens rendered bytes for inspection.
func openOutput(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

type order struct {
	Region string
	City   string
	Name   string
	Amount int
}

func sampleOrders() []order {
	return []order{
		{"East", "Boston", "o1", 10},
		{"East", "Boston", "o2", 20},
		{"East", "NYC", "o3", 5},
		{"West", "LA", "o4", 7},
		{"West", "LA", "o5", 3},
		{"West", "SF", "o6", 1},
	}
}
