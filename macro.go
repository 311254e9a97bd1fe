package xlreport

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Macro generates the content of a template cell written as @name(args).
// It resolves its operands only from rows already rendered.
type Macro interface {
	Invoke(ec *Context, cell *CellWrite, args []string) error
}

// MacroFunc adapts a function to a Macro.
type MacroFunc func(ec *Context, cell *CellWrite, args []string) error

func (f MacroFunc) Invoke(ec *Context, cell *CellWrite, args []string) error {
	return f(ec, cell, args)
}

// MacroRegistry maps macro names to implementations.
type MacroRegistry struct {
	macros map[string]Macro
}

// NewMacroRegistry creates a registry with the built-in macros.
func NewMacroRegistry() *MacroRegistry {
	r := &MacroRegistry{macros: make(map[string]Macro)}
	r.Register("rowSum", MacroFunc(rowSumMacro))
	r.Register("groupSum", groupAggregateMacro("SUM"))
	r.Register("groupMin", groupAggregateMacro("MIN"))
	r.Register("groupMax", groupAggregateMacro("MAX"))
	r.Register("groupCount", MacroFunc(groupCountMacro))
	return r
}

// Register adds or replaces a macro.
func (r *MacroRegistry) Register(name string, m Macro) {
	r.macros[name] = m
}

// Lookup returns the macro registered under name.
func (r *MacroRegistry) Lookup(name string) (Macro, bool) {
	m, ok := r.macros[name]
	return m, ok
}

// Names returns the registered macro names, sorted.
func (r *MacroRegistry) Names() []string {
	names := make([]string, 0, len(r.macros))
	for n := range r.macros {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Invoke runs a parsed macro call against the cell being bound.
func (r *MacroRegistry) Invoke(ec *Context, cell *CellWrite, call *MacroCall) error {
	m, ok := r.macros[call.Name]
	if !ok {
		return &TemplateError{Cell: cell.Ref.CellName(), Msg: fmt.Sprintf("unknown macro %q", call.Name)}
	}
	if err := m.Invoke(ec, cell, call.Args); err != nil {
		return fmt.Errorf("macro %s: %w", call.Name, err)
	}
	return nil
}

// macroArgs gives positional access to optional macro arguments.
type macroArgs []string

func (a macroArgs) str(i int) string {
	if i < len(a) {
		return strings.TrimSpace(a[i])
	}
	return ""
}

// col parses a column argument, defaulting to the column of the cell.
func (a macroArgs) col(i int, cell *CellWrite) (int, error) {
	s := a.str(i)
	if s == "" {
		return cell.Ref.Col, nil
	}
	c, err := NameToCol(s)
	if err != nil {
		return 0, fmt.Errorf("argument %d: %w", i+1, err)
	}
	return c, nil
}

// num parses an integer argument, defaulting to def.
func (a macroArgs) num(i, def int) (int, error) {
	s := a.str(i)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("argument %d: %q is not an integer", i+1, s)
	}
	return n, nil
}

// rowSumMacro sums a column over the rows of a rendered plain section:
// @rowSum(section, column?, stride?, offset?). The stride defaults to the
// section's rows per record.
func rowSumMacro(ec *Context, cell *CellWrite, args []string) error {
	a := macroArgs(args)
	id := a.str(0)
	if id == "" {
		return &TemplateError{Cell: cell.Ref.CellName(), Msg: "rowSum requires a section id"}
	}
	st, ok := ec.Section(id)
	if !ok {
		return &UnresolvedReferenceError{Kind: "section", Name: id, Reason: "section has not been rendered"}
	}
	if st.Section.Kind != SectionPlain {
		return &UnresolvedReferenceError{Kind: "section", Name: id, Reason: "rowSum requires a plain section"}
	}
	col, err := a.col(1, cell)
	if err != nil {
		return err
	}
	stride, err := a.num(2, st.RowsPerRecord)
	if err != nil {
		return err
	}
	offset, err := a.num(3, 0)
	if err != nil {
		return err
	}
	if st.Records == 0 || st.RowsPerRecord == 0 {
		cell.SetValue(0)
		return nil
	}
	first := st.FirstRow + 1
	last := st.FirstRow + st.Records*st.RowsPerRecord
	b := newRefBuilder(st.Sheet, cell.Ref.Sheet)
	cell.SetFormula(rowSumFormula(b, col, first, last, stride, offset))
	return nil
}

// groupTarget locates the group a group macro aggregates:
// @groupX(column?, section?, level?).
type groupTarget struct {
	st    *SectionState
	group *Group // nil when aggregating the root groups of a closed section
	roots []*Group
}

func resolveGroup(ec *Context, section string, level int) (*groupTarget, error) {
	var st *SectionState
	if section != "" {
		s, ok := ec.Section(section)
		if !ok {
			return nil, &UnresolvedReferenceError{Kind: "section", Name: section, Reason: "section has not been rendered"}
		}
		st = s
	} else {
		for _, s := range slices.Backward(ec.stack) {
			if s.Groups != nil {
				st = s
				break
			}
		}
		if st == nil {
			return nil, &UnresolvedReferenceError{Kind: "group", Reason: "no grouping section is being rendered"}
		}
	}
	if st.Groups == nil {
		return nil, &UnresolvedReferenceError{Kind: "section", Name: st.Section.ID, Reason: "section does not group its records"}
	}

	var g *Group
	switch {
	case level > 0:
		g = st.Groups.OpenGroup(level)
	case st.rendering != nil:
		g = st.rendering
	default:
		g = st.Groups.CurrentGroup()
	}
	if g != nil {
		return &groupTarget{st: st, group: g}, nil
	}
	if level == 0 && st.Phase == PhaseClosed {
		roots, err := st.Groups.CompletedRootGroups()
		if err != nil {
			return nil, err
		}
		return &groupTarget{st: st, roots: roots}, nil
	}
	if level > 0 {
		return nil, &UnresolvedReferenceError{Kind: "group", Name: strconv.Itoa(level), Reason: fmt.Sprintf("no open group at this level in section %q", st.Section.ID)}
	}
	return nil, &UnresolvedReferenceError{Kind: "group", Reason: fmt.Sprintf("no open group in section %q", st.Section.ID)}
}

// asGroup returns the target as a group. The root groups of a closed
// section form a synthetic group.
func (t *groupTarget) asGroup() *Group {
	if t.group != nil {
		return t.group
	}
	return &Group{Children: t.roots}
}

func parseGroupArgs(cell *CellWrite, args []string) (col int, section string, level int, err error) {
	a := macroArgs(args)
	if col, err = a.col(0, cell); err != nil {
		return
	}
	section = a.str(1)
	level, err = a.num(2, 0)
	return
}

func groupAggregateMacro(fn string) MacroFunc {
	return func(ec *Context, cell *CellWrite, args []string) error {
		col, section, level, err := parseGroupArgs(cell, args)
		if err != nil {
			return err
		}
		t, err := resolveGroup(ec, section, level)
		if err != nil {
			return err
		}
		b := newRefBuilder(t.st.Sheet, cell.Ref.Sheet)
		formula, ok := groupAggregateFormula(b, fn, t.asGroup(), col, t.st.RowsPerRecord, ec.MaxFormulaArgs())
		if !ok {
			cell.SetValue(0)
			return nil
		}
		cell.SetFormula(formula)
		return nil
	}
}

func groupCountMacro(ec *Context, cell *CellWrite, args []string) error {
	col, section, level, err := parseGroupArgs(cell, args)
	if err != nil {
		return err
	}
	t, err := resolveGroup(ec, section, level)
	if err != nil {
		return err
	}
	b := newRefBuilder(t.st.Sheet, cell.Ref.Sheet)
	formula, n := groupCountFormula(b, t.asGroup(), col)
	if formula == "" {
		cell.SetValue(n)
		return nil
	}
	cell.SetFormula(formula)
	return nil
}
