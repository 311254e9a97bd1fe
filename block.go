package xlreport

import (
	"fmt"
	"strings"
)

// cellError carries the output cell a binding failure happened in.
type cellError struct {
	ref CellRef
	err error
}

func (e *cellError) Error() string { return fmt.Sprintf("cell %s: %v", e.ref.CellName(), e.err) }
func (e *cellError) Unwrap() error { return e.err }

// applyBlock copies a template block to the next free output rows, binding
// every cell, and advances the cursor past it. Merged ranges inside the
// block are re-created at the new offset.
func (r *renderer) applyBlock(b *Block) error {
	start := r.row + 1
	shift := start - b.FirstRow
	prev := r.block
	r.block = blockSpan{first: b.FirstRow, last: b.FirstRow + len(b.Rows) - 1, shift: shift}
	defer func() { r.block = prev }()

	level, hidden := r.outline()
	for i := range b.Rows {
		tr := &b.Rows[i]
		rowNum := start + i
		cells := make([]OutCell, 0, len(tr.Cells))
		for j := range tr.Cells {
			tc := &tr.Cells[j]
			ref := NewCellRef(r.sheet.Name, rowNum-1, tc.Col)
			r.ec.setCell(ref)
			w := &CellWrite{Ref: ref, Template: tc, StyleID: tc.StyleID}
			if err := r.bindCell(w); err != nil {
				return &cellError{ref: ref, err: err}
			}
			if w.Skip {
				continue
			}
			cells = append(cells, OutCell{Col: tc.Col, Value: w.Value, Formula: w.Formula, StyleID: w.StyleID})
		}
		opts := RowOptions{Height: tr.Height, Hidden: tr.Hidden || hidden, OutlineLevel: level}
		if err := r.out.WriteRow(rowNum, cells, opts); err != nil {
			return fmt.Errorf("write row %d: %w", rowNum, err)
		}
		r.row++
		r.stats.Rows++
	}

	for _, m := range b.Merges {
		area := m.Offset(shift)
		area.First.Sheet, area.Last.Sheet = "", ""
		if err := r.out.MergeCells(area); err != nil {
			return fmt.Errorf("merge %s: %w", area, err)
		}
	}
	return nil
}

// bindCell runs the cell listeners around the default binding. A listener
// returning false from BeforeCell replaces the default binding; the after
// hooks still fire.
func (r *renderer) bindCell(w *CellWrite) error {
	for _, l := range r.cells {
		ok, err := l.BeforeCell(r.ec, w)
		if err != nil {
			return err
		}
		if !ok {
			return r.afterCell(w)
		}
	}
	if err := r.defaultBind(w); err != nil {
		return err
	}
	return r.afterCell(w)
}

func (r *renderer) afterCell(w *CellWrite) error {
	for _, l := range r.cells {
		if err := l.AfterCell(r.ec, w); err != nil {
			return err
		}
	}
	return nil
}

// blockSpan is the template row range of the block being written and the
// distance to its output rows.
type blockSpan struct {
	first, last int
	shift       int
}

// shiftFormula moves references to rows of the current block along with it.
// Text inside expressions is left for expression evaluation.
func (r *renderer) shiftFormula(formula string) string {
	sp := r.block
	if sp.shift == 0 {
		return formula
	}
	if !r.ec.hasExpression(formula) {
		return shiftFormula(formula, sp.first, sp.last, sp.shift)
	}
	var sb strings.Builder
	for _, seg := range ParseExpressions(formula, r.ec.notationBegin, r.ec.notationEnd) {
		if seg.IsExpression {
			sb.WriteString(r.ec.notationBegin + seg.Text + r.ec.notationEnd)
			continue
		}
		sb.WriteString(shiftFormula(seg.Text, sp.first, sp.last, sp.shift))
	}
	return sb.String()
}

// defaultBind evaluates the template cell. Macros go to the macro registry.
// Formulas follow the block and get their embedded expressions expanded.
// Strings with expressions are evaluated; anything else is copied.
func (r *renderer) defaultBind(w *CellWrite) error {
	tc := w.Template
	switch {
	case tc.Macro != nil:
		return r.macros.Invoke(r.ec, w, tc.Macro)
	case tc.Formula != "":
		formula := r.shiftFormula(tc.Formula)
		if r.ec.hasExpression(formula) {
			var err error
			if formula, err = r.ec.expandText(formula); err != nil {
				return err
			}
		}
		w.SetFormula(formula)
	case tc.Type == CellString:
		s, _ := tc.Value.(string)
		if !r.ec.hasExpression(s) {
			w.SetValue(s)
			return nil
		}
		v, _, err := r.ec.EvaluateCellValue(s)
		if err != nil {
			return err
		}
		w.SetValue(v)
	default:
		w.SetValue(tc.Value)
	}
	return nil
}
