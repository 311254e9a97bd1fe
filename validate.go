package xlreport

import (
	"fmt"
	"strings"

	"github.com/javajack/xlreport/sqlparam"
)

// Severity indicates the severity of a validation issue.
type Severity int

const (
	SeverityError   Severity = iota // Layout will fail at runtime
	SeverityWarning                 // Layout may produce unexpected results
)

// ValidationIssue represents a single problem found during layout validation.
type ValidationIssue struct {
	Severity Severity
	Section  string
	CellRef  CellRef // template cell, zero when the issue is not about a cell
	Message  string
}

// String formats the issue as "[ERROR] orders Template!B3: message" or "[WARN] ...".
func (v ValidationIssue) String() string {
	sev := "ERROR"
	if v.Severity == SeverityWarning {
		sev = "WARN"
	}
	if v.CellRef.Sheet == "" {
		return fmt.Sprintf("[%s] %s: %s", sev, v.Section, v.Message)
	}
	return fmt.Sprintf("[%s] %s %s: %s", sev, v.Section, v.CellRef, v.Message)
}

// Validate checks a template and layout for expression, macro and grouping
// errors without requiring data.
func Validate(templatePath, layoutPath string, opts ...Option) ([]ValidationIssue, error) {
	allOpts := append([]Option{WithTemplate(templatePath), WithLayoutFile(layoutPath)}, opts...)
	return NewFiller(allOpts...).Validate()
}

// Validate opens the template and performs static validation checks.
// A layout that cannot be loaded causes a non-nil error return.
// Expression syntax errors and unresolved references are returned as issues.
func (f *Filler) Validate() ([]ValidationIssue, error) {
	wb, err := f.openTemplate()
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	layout, err := f.loadLayout(wb)
	if err != nil {
		return nil, fmt.Errorf("load layout: %w", err)
	}
	return f.ValidateLayout(layout), nil
}

// ValidateLayout performs the static validation checks on a loaded layout.
func (f *Filler) ValidateLayout(layout *Layout) []ValidationIssue {
	v := &validator{f: f, order: make(map[string]int), sections: make(map[string]*Section)}
	i := 0
	_ = layout.Walk(func(_ *SheetLayout, s *Section, _ []*Section) error {
		v.order[s.ID] = i
		v.sections[s.ID] = s
		i++
		return nil
	})
	_ = layout.Walk(func(_ *SheetLayout, s *Section, anc []*Section) error {
		v.section(s, anc)
		return nil
	})
	return v.issues
}

type validator struct {
	f        *Filler
	order    map[string]int // render order of every section id
	sections map[string]*Section
	issues   []ValidationIssue
}

func (v *validator) add(sev Severity, sec *Section, ref CellRef, format string, args ...any) {
	v.issues = append(v.issues, ValidationIssue{
		Severity: sev,
		Section:  sec.ID,
		CellRef:  ref,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (v *validator) section(s *Section, anc []*Section) {
	v.compileCheck(s, "condition", s.Condition)
	switch p := s.Provider.(type) {
	case itemsProvider:
		v.compileCheck(s, "items", string(p))
	case *filterProvider:
		v.compileCheck(s, "filter where", p.where)
		if !hasAncestor(anc, p.section) {
			v.add(SeverityError, s, CellRef{}, "filter source %q is not an enclosing section", p.section)
		}
	case *SQLProvider:
		if len(p.Query.Params()) > 0 && strings.Count(p.Query.Text(), "?") < len(p.Query.Params()) {
			v.add(SeverityError, s, CellRef{}, "sql parameters do not match placeholders")
		}
		if v.f.opts.db == nil && p.DB == nil {
			v.add(SeverityWarning, s, CellRef{}, "sql section without a configured database")
		}
		if _, err := p.Query.Inline(placeholderParams(p.Query), p.Dialect); err != nil {
			v.add(SeverityError, s, CellRef{}, "sql query: %v", err)
		}
	}
	if g := s.Group; g != nil {
		v.group(s, g)
	}
	v.block(s, anc, s.Rows)
	if s.Group != nil {
		for _, gs := range s.Group.Styles {
			v.block(s, anc, gs.Header)
			v.block(s, anc, gs.Footer)
		}
	}
}

func placeholderParams(q sqlparam.Query) map[string]any {
	params := make(map[string]any)
	for _, name := range q.Params() {
		params[name] = nil
	}
	return params
}

func (v *validator) group(s *Section, g *GroupModel) {
	if len(g.Styles) == 0 {
		v.add(SeverityWarning, s, CellRef{}, "group has no styles: groups render without header or footer")
		return
	}
	hasDefault := false
	for _, gs := range g.Styles {
		hasDefault = hasDefault || gs.Default
	}
	if !hasDefault {
		v.add(SeverityWarning, s, CellRef{}, "group has no default style: unmatched levels render without header or footer")
	}
	if g.outlined() && len(g.Levels) > maxOutlineLevel {
		v.add(SeverityWarning, s, CellRef{}, "more than %d group levels: outline levels are capped", maxOutlineLevel)
	}
}

func (v *validator) block(s *Section, anc []*Section, b *Block) {
	if b == nil {
		return
	}
	begin, end := v.f.opts.notationBegin, v.f.opts.notationEnd
	for i, row := range b.Rows {
		for _, c := range row.Cells {
			ref := NewCellRef(b.Sheet, b.FirstRow-1+i, c.Col)
			switch {
			case c.Macro != nil:
				v.macro(s, anc, ref, c.Macro)
			case c.Formula != "" && strings.Contains(c.Formula, begin):
				v.issues = append(v.issues, checkExpressionSyntax(s, ref, c.Formula, begin, end)...)
			case c.Type == CellString:
				if str, _ := c.Value.(string); strings.Contains(str, begin) {
					v.issues = append(v.issues, checkExpressionSyntax(s, ref, str, begin, end)...)
				}
			}
		}
	}
}

// macro checks that a macro exists and that the sections it refers to are
// rendered before the cell.
func (v *validator) macro(s *Section, anc []*Section, ref CellRef, call *MacroCall) {
	if _, ok := v.f.macros.Lookup(call.Name); !ok {
		v.add(SeverityError, s, ref, "unknown macro %q", call.Name)
		return
	}
	switch call.Name {
	case "rowSum":
		id := call.Arg(0)
		target, ok := v.sections[id]
		switch {
		case id == "":
			v.add(SeverityError, s, ref, "rowSum requires a section id")
		case !ok:
			v.add(SeverityError, s, ref, "rowSum refers to unknown section %q", id)
		case target.Kind != SectionPlain:
			v.add(SeverityError, s, ref, "rowSum refers to %s section %q, expected plain", target.Kind, id)
		case v.order[id] > v.order[s.ID]:
			v.add(SeverityError, s, ref, "rowSum refers to section %q rendered later", id)
		case len(target.Children) > 0:
			v.add(SeverityWarning, s, ref, "rowSum over section %q with child sections includes their rows", id)
		}
	case "groupSum", "groupMin", "groupMax", "groupCount":
		id := call.Arg(1)
		if id == "" {
			if s.Group == nil && !hasGroupingAncestor(anc) {
				v.add(SeverityError, s, ref, "%s outside a grouping section", call.Name)
			}
			return
		}
		target, ok := v.sections[id]
		switch {
		case !ok:
			v.add(SeverityError, s, ref, "%s refers to unknown section %q", call.Name, id)
		case target.Group == nil:
			v.add(SeverityError, s, ref, "%s refers to section %q which does not group", call.Name, id)
		case v.order[id] > v.order[s.ID]:
			v.add(SeverityError, s, ref, "%s refers to section %q rendered later", call.Name, id)
		}
	}
}

func hasAncestor(anc []*Section, id string) bool {
	for _, a := range anc {
		if a.ID == id {
			return true
		}
	}
	return false
}

func hasGroupingAncestor(anc []*Section) bool {
	for _, a := range anc {
		if a.Group != nil {
			return true
		}
	}
	return false
}

// checkExpressionSyntax extracts ${...} expressions from a string and compiles them for syntax checking.
func checkExpressionSyntax(s *Section, ref CellRef, value, notationBegin, notationEnd string) []ValidationIssue {
	var issues []ValidationIssue
	for _, seg := range ParseExpressions(value, notationBegin, notationEnd) {
		if !seg.IsExpression {
			continue
		}
		if _, err := compileExpression(seg.Text); err != nil {
			issues = append(issues, ValidationIssue{
				Severity: SeverityError,
				Section:  s.ID,
				CellRef:  ref,
				Message:  fmt.Sprintf("invalid expression syntax %q: %v", seg.Text, err),
			})
		}
	}
	return issues
}

// compileCheck compiles a section attribute expression for syntax checking.
func (v *validator) compileCheck(s *Section, attr, expression string) {
	if expression == "" {
		return
	}
	if _, err := compileExpression(expression); err != nil {
		v.add(SeverityError, s, CellRef{}, "invalid %s expression %q: %v", attr, expression, err)
	}
}
