package xlreport

import "fmt"

// CellWrite is the cell about to be committed to the output. Listeners may
// change Value, Formula and StyleID, or set Skip to leave the cell out.
type CellWrite struct {
	Ref      CellRef       // output position
	Template *TemplateCell // template cell being bound
	Value    any
	Formula  string
	StyleID  int
	Skip     bool
}

// SetFormula replaces the cell content with a formula.
func (w *CellWrite) SetFormula(formula string) {
	w.Formula = formula
	w.Value = nil
}

// SetValue replaces the cell content with a literal value.
func (w *CellWrite) SetValue(v any) {
	w.Value = v
	w.Formula = ""
}

// CellListener is notified before and after each cell of a block is bound.
type CellListener interface {
	// BeforeCell is called before the default binding of a cell.
	// Return false to skip the default binding; AfterCell still fires.
	BeforeCell(ec *Context, cell *CellWrite) (bool, error)

	// AfterCell is called after a cell has been bound, before it is written.
	AfterCell(ec *Context, cell *CellWrite) error
}

// SectionListener is notified at section and record boundaries.
type SectionListener interface {
	BeforeSection(ec *Context, st *SectionState) error
	AfterSection(ec *Context, st *SectionState) error
	BeforeRecord(ec *Context, st *SectionState) error
	AfterRecord(ec *Context, st *SectionState) error
}

// SectionHooks adapts plain functions to a SectionListener. Nil hooks are
// skipped.
type SectionHooks struct {
	OnBeforeSection func(ec *Context, st *SectionState) error
	OnAfterSection  func(ec *Context, st *SectionState) error
	OnBeforeRecord  func(ec *Context, st *SectionState) error
	OnAfterRecord   func(ec *Context, st *SectionState) error
}

func (h SectionHooks) BeforeSection(ec *Context, st *SectionState) error {
	return callHook(h.OnBeforeSection, ec, st)
}

func (h SectionHooks) AfterSection(ec *Context, st *SectionState) error {
	return callHook(h.OnAfterSection, ec, st)
}

func (h SectionHooks) BeforeRecord(ec *Context, st *SectionState) error {
	return callHook(h.OnBeforeRecord, ec, st)
}

func (h SectionHooks) AfterRecord(ec *Context, st *SectionState) error {
	return callHook(h.OnAfterRecord, ec, st)
}

func callHook(fn func(*Context, *SectionState) error, ec *Context, st *SectionState) error {
	if fn == nil {
		return nil
	}
	return fn(ec, st)
}

// CellHooks adapts plain functions to a CellListener.
type CellHooks struct {
	OnBeforeCell func(ec *Context, cell *CellWrite) (bool, error)
	OnAfterCell  func(ec *Context, cell *CellWrite) error
}

func (h CellHooks) BeforeCell(ec *Context, cell *CellWrite) (bool, error) {
	if h.OnBeforeCell == nil {
		return true, nil
	}
	return h.OnBeforeCell(ec, cell)
}

func (h CellHooks) AfterCell(ec *Context, cell *CellWrite) error {
	if h.OnAfterCell == nil {
		return nil
	}
	return h.OnAfterCell(ec, cell)
}

// ListenerVar is a SectionListener stored in a report variable. The variable
// is looked up each time the listener fires; an unset variable is a no-op.
type ListenerVar string

func (v ListenerVar) resolve(ec *Context) (SectionListener, error) {
	val := ec.GetVar(string(v))
	if val == nil {
		return nil, nil
	}
	l, ok := val.(SectionListener)
	if !ok {
		return nil, fmt.Errorf("variable %q holds %T, not a section listener", string(v), val)
	}
	return l, nil
}

func (v ListenerVar) BeforeSection(ec *Context, st *SectionState) error {
	l, err := v.resolve(ec)
	if l == nil || err != nil {
		return err
	}
	return l.BeforeSection(ec, st)
}

func (v ListenerVar) AfterSection(ec *Context, st *SectionState) error {
	l, err := v.resolve(ec)
	if l == nil || err != nil {
		return err
	}
	return l.AfterSection(ec, st)
}

func (v ListenerVar) BeforeRecord(ec *Context, st *SectionState) error {
	l, err := v.resolve(ec)
	if l == nil || err != nil {
		return err
	}
	return l.BeforeRecord(ec, st)
}

func (v ListenerVar) AfterRecord(ec *Context, st *SectionState) error {
	l, err := v.resolve(ec)
	if l == nil || err != nil {
		return err
	}
	return l.AfterRecord(ec, st)
}
