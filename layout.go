package xlreport

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/javajack/xlreport/sqlparam"
)

// Bindings resolves the names a layout refers to: registered providers
// and section listeners.
type Bindings struct {
	Providers map[string]Provider
	Listeners map[string]SectionListener
}

type layoutDoc struct {
	Sheets []sheetDoc `yaml:"sheets"`
}

type sheetDoc struct {
	Name         string             `yaml:"name"`
	Template     string             `yaml:"template"`
	ColumnWidths map[string]float64 `yaml:"columnWidths"`
	Sections     []sectionDoc       `yaml:"sections"`
}

type sectionDoc struct {
	ID        string       `yaml:"id"`
	Kind      string       `yaml:"kind"`
	Items     string       `yaml:"items"`
	SQL       string       `yaml:"sql"`
	Dialect   string       `yaml:"dialect"`
	Provider  string       `yaml:"provider"`
	Filter    *filterDoc   `yaml:"filter"`
	Ref       string       `yaml:"ref"`
	Var       string       `yaml:"var"`
	VarIndex  string       `yaml:"varIndex"`
	Condition string       `yaml:"condition"`
	Rows      string       `yaml:"rows"`
	Listeners []string     `yaml:"listeners"`
	Group     *groupDoc    `yaml:"group"`
	Sections  []sectionDoc `yaml:"sections"`
}

type filterDoc struct {
	Section string `yaml:"section"`
	Where   string `yaml:"where"`
}

type groupDoc struct {
	Levels          []string        `yaml:"levels"`
	LevelField      string          `yaml:"levelField"`
	Collapsible     bool            `yaml:"collapsible"`
	Collapsed       bool            `yaml:"collapsed"`
	Hidden          bool            `yaml:"hidden"`
	SkipEmptyGroups bool            `yaml:"skipEmptyGroups"`
	Styles          []groupStyleDoc `yaml:"styles"`
}

type groupStyleDoc struct {
	Level   any    `yaml:"level"`
	Default bool   `yaml:"default"`
	Header  string `yaml:"header"`
	Footer  string `yaml:"footer"`
}

// LoadLayoutFile loads a layout description from a YAML file.
func LoadLayoutFile(path string, wb *Workbook, b *Bindings) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open layout: %w", err)
	}
	defer f.Close()
	return LoadLayout(f, wb, b)
}

// LoadLayout reads a YAML layout description and captures the template
// blocks it refers to from wb. The result is immutable and may be shared
// by concurrent renders.
func LoadLayout(r io.Reader, wb *Workbook, b *Bindings) (*Layout, error) {
	var doc layoutDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode layout: %w", err)
	}
	if b == nil {
		b = &Bindings{}
	}
	l := &layoutLoader{wb: wb, bindings: b}
	layout := &Layout{}
	for _, sd := range doc.Sheets {
		sh, err := l.sheet(sd)
		if err != nil {
			return nil, err
		}
		layout.Sheets = append(layout.Sheets, sh)
	}
	if err := layout.Check(); err != nil {
		return nil, err
	}
	return layout, nil
}

type layoutLoader struct {
	wb       *Workbook
	bindings *Bindings
}

func (l *layoutLoader) sheet(sd sheetDoc) (*SheetLayout, error) {
	sh := &SheetLayout{Name: sd.Name, Template: sd.Template}
	if sh.Template == "" {
		sh.Template = sd.Name
	}
	if !l.wb.HasSheet(sh.Template) {
		return nil, &TemplateError{Sheet: sd.Name, Msg: fmt.Sprintf("template sheet %q not found", sh.Template)}
	}
	widths, err := l.wb.ColumnWidths(sh.Template)
	if err != nil {
		return nil, &TemplateError{Sheet: sd.Name, Msg: "read column widths", Err: err}
	}
	for name, w := range sd.ColumnWidths {
		col, err := NameToCol(name)
		if err != nil {
			return nil, &TemplateError{Sheet: sd.Name, Msg: "invalid column width", Err: err}
		}
		widths[col] = w
	}
	sh.ColumnWidths = widths

	for _, secDoc := range sd.Sections {
		sec, err := l.section(sh, secDoc)
		if err != nil {
			return nil, err
		}
		sh.Sections = append(sh.Sections, sec)
	}
	return sh, nil
}

func (l *layoutLoader) section(sh *SheetLayout, d sectionDoc) (*Section, error) {
	fail := func(msg string, err error) error {
		return &TemplateError{Sheet: sh.Name, Section: d.ID, Msg: msg, Err: err}
	}
	kind, err := ParseSectionKind(d.Kind)
	if err != nil {
		return nil, fail("invalid kind", err)
	}
	sec := &Section{
		ID:        d.ID,
		Kind:      kind,
		Var:       d.Var,
		VarIndex:  d.VarIndex,
		Condition: d.Condition,
	}
	if sec.Var == "" {
		sec.Var = DefaultVar
	}
	if sec.Provider, err = l.provider(d); err != nil {
		return nil, fail("invalid row source", err)
	}
	if sec.Rows, err = l.block(sh.Template, d.Rows); err != nil {
		return nil, fail("invalid rows", err)
	}
	for _, name := range d.Listeners {
		if listener, ok := l.bindings.Listeners[name]; ok {
			sec.Listeners = append(sec.Listeners, listener)
			continue
		}
		sec.Listeners = append(sec.Listeners, ListenerVar(name))
	}
	if d.Group != nil {
		if sec.Group, err = l.group(sh.Template, d.Group); err != nil {
			return nil, fail("invalid group", err)
		}
	}
	for _, cd := range d.Sections {
		child, err := l.section(sh, cd)
		if err != nil {
			return nil, err
		}
		sec.Children = append(sec.Children, child)
	}
	return sec, nil
}

// provider builds the row source declared by exactly one of items, sql,
// provider, filter and ref. A section declaring none renders once.
func (l *layoutLoader) provider(d sectionDoc) (Provider, error) {
	var found []string
	var p Provider
	if d.Items != "" {
		found, p = append(found, "items"), Items(d.Items)
	}
	if d.SQL != "" {
		sp := SQL(d.SQL)
		sp.Dialect = sqlparam.ParseDialect(d.Dialect)
		found, p = append(found, "sql"), sp
	}
	if d.Provider != "" {
		registered, ok := l.bindings.Providers[d.Provider]
		if !ok {
			return nil, &UnresolvedReferenceError{Kind: "provider", Name: d.Provider, Reason: "not registered"}
		}
		found, p = append(found, "provider"), registered
	}
	if d.Filter != nil {
		if d.Filter.Section == "" || d.Filter.Where == "" {
			return nil, fmt.Errorf("filter requires section and where")
		}
		found, p = append(found, "filter"), FilterWhere(d.Filter.Section, d.Filter.Where)
	}
	if d.Ref != "" {
		found, p = append(found, "ref"), Ref(d.Ref)
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("conflicting row sources: %s", strings.Join(found, ", "))
	}
	return p, nil
}

func (l *layoutLoader) group(sheet string, d *groupDoc) (*GroupModel, error) {
	m := &GroupModel{
		Levels:          d.Levels,
		LevelField:      d.LevelField,
		Collapsible:     d.Collapsible,
		Collapsed:       d.Collapsed,
		Hidden:          d.Hidden,
		SkipEmptyGroups: d.SkipEmptyGroups,
	}
	for i, sd := range d.Styles {
		gs := &GroupStyle{Level: sd.Level, Default: sd.Default || sd.Level == nil}
		var err error
		if gs.Header, err = l.block(sheet, sd.Header); err != nil {
			return nil, fmt.Errorf("style %d header: %w", i+1, err)
		}
		if gs.Footer, err = l.block(sheet, sd.Footer); err != nil {
			return nil, fmt.Errorf("style %d footer: %w", i+1, err)
		}
		m.Styles = append(m.Styles, gs)
	}
	return m, nil
}

// block captures a row span given as "4", "4:6" or a defined name.
func (l *layoutLoader) block(sheet, spec string) (*Block, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	first, last, isRange := strings.Cut(spec, ":")
	if !isRange {
		last = first
	}
	a, errA := strconv.Atoi(strings.TrimSpace(first))
	b, errB := strconv.Atoi(strings.TrimSpace(last))
	if errA == nil && errB == nil {
		return l.wb.Block(sheet, a, b)
	}
	return l.wb.RegionBlock(spec)
}
