package xlreport

import "fmt"

// CellType represents the type of data in a template cell.
type CellType int

const (
	CellBlank CellType = iota
	CellString
	CellNumber
	CellBoolean
	CellDate
	CellFormula
)

// String returns a human-readable name for the CellType.
func (ct CellType) String() string {
	switch ct {
	case CellBlank:
		return "Blank"
	case CellString:
		return "String"
	case CellNumber:
		return "Number"
	case CellBoolean:
		return "Boolean"
	case CellDate:
		return "Date"
	case CellFormula:
		return "Formula"
	default:
		return "Unknown"
	}
}

// TemplateCell is one captured template cell.
type TemplateCell struct {
	Col     int        // 0-based column
	Value   any        // static value or text with embedded expressions
	Formula string     // formula text without '=', may embed expressions
	StyleID int        // style of the template cell, reused in the output
	Type    CellType   // type of Value
	Macro   *MacroCall // set when the cell invokes a macro
}

// TemplateRow is one captured template row.
type TemplateRow struct {
	Height float64 // 0 keeps the sheet default
	Hidden bool
	Cells  []TemplateCell
}

// Block is a contiguous run of template rows copied as a unit to the
// next free output row.
type Block struct {
	Sheet    string // template sheet the rows come from
	FirstRow int    // 1-based template row of Rows[0]
	Rows     []TemplateRow
	Merges   []AreaRef // merged ranges inside the block, template coordinates
}

// Height returns the number of rows in the block.
func (b *Block) Height() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// String formats the block as its template row range.
func (b *Block) String() string {
	if b == nil {
		return "<none>"
	}
	if len(b.Rows) <= 1 {
		return fmt.Sprintf("%s!%d", quoteSheet(b.Sheet), b.FirstRow)
	}
	return fmt.Sprintf("%s!%d:%d", quoteSheet(b.Sheet), b.FirstRow, b.FirstRow+len(b.Rows)-1)
}

// SectionKind is the closed set of section variants.
type SectionKind int

const (
	// SectionPlain renders its row block once per record.
	SectionPlain SectionKind = iota
	// SectionGrouping aggregates records under discriminator-based groups.
	SectionGrouping
	// SectionComposite is a container of child sections sharing a record.
	SectionComposite
)

func (k SectionKind) String() string {
	switch k {
	case SectionPlain:
		return "plain"
	case SectionGrouping:
		return "grouping"
	case SectionComposite:
		return "composite"
	default:
		return "unknown"
	}
}

// ParseSectionKind maps a layout kind name to a SectionKind. An empty name
// is Plain.
func ParseSectionKind(s string) (SectionKind, error) {
	switch s {
	case "", "plain":
		return SectionPlain, nil
	case "grouping":
		return SectionGrouping, nil
	case "composite":
		return SectionComposite, nil
	}
	return 0, fmt.Errorf("unknown section kind %q", s)
}

// Section is a repeating template block bound to at most one row source.
// Sections are built once and shared read-only by every render.
type Section struct {
	ID        string
	Kind      SectionKind
	Provider  Provider // nil renders the block once with the enclosing record
	Var       string   // record variable name
	VarIndex  string   // optional 0-based record index variable
	Condition string   // optional; the section is skipped when false
	Rows      *Block   // per-record block; may be nil for containers
	Group     *GroupModel
	Children  []*Section
	Listeners []SectionListener
}

// DefaultVar is the record variable of sections that do not name one.
const DefaultVar = "r"

// RowsPerRecord returns the template row count of the record block.
func (s *Section) RowsPerRecord() int { return s.Rows.Height() }

func (s *Section) varName() string {
	if s.Var == "" {
		return DefaultVar
	}
	return s.Var
}

// GroupModel is the static grouping rule of a section.
type GroupModel struct {
	// Levels lists the discriminator field of every group level,
	// outermost first.
	Levels []string
	// LevelField, when set, names the record field whose value selects
	// the group style. Otherwise the 1-based nesting level does.
	LevelField      string
	Styles          []*GroupStyle
	Collapsible     bool // member rows get an outline level
	Collapsed       bool // member rows are hidden as well
	Hidden          bool // the whole group, header included, is hidden
	SkipEmptyGroups bool // records with a nil discriminator are skipped
}

// GroupStyle is one rendering variant of a group, selected by level.
type GroupStyle struct {
	Level   any
	Default bool
	Header  *Block
	Footer  *Block
}

// Style returns the style matching key, falling back to the default style.
func (m *GroupModel) Style(key any) *GroupStyle {
	var def *GroupStyle
	for _, s := range m.Styles {
		if s.Level != nil && sameValue(s.Level, key) {
			return s
		}
		if s.Default && def == nil {
			def = s
		}
	}
	return def
}

// outlined reports whether member rows carry an outline level.
func (m *GroupModel) outlined() bool {
	return m.Collapsible || m.Collapsed || m.Hidden
}

// Layout is the static description of a whole report.
type Layout struct {
	Sheets []*SheetLayout
}

// SheetLayout describes one output sheet.
type SheetLayout struct {
	Name         string
	Template     string          // template sheet, defaults to Name
	ColumnWidths map[int]float64 // 0-based column → width
	Sections     []*Section
}

// TemplateSheet returns the template sheet the blocks come from.
func (s *SheetLayout) TemplateSheet() string {
	if s.Template == "" {
		return s.Name
	}
	return s.Template
}

// Walk calls fn for every section of the layout in render order, with its
// ancestors outermost first. Walking stops at the first error.
func (l *Layout) Walk(fn func(sheet *SheetLayout, sec *Section, ancestors []*Section) error) error {
	var walk func(sheet *SheetLayout, secs []*Section, anc []*Section) error
	walk = func(sheet *SheetLayout, secs []*Section, anc []*Section) error {
		for _, s := range secs {
			if err := fn(sheet, s, anc); err != nil {
				return err
			}
			if err := walk(sheet, s.Children, append(anc[:len(anc):len(anc)], s)); err != nil {
				return err
			}
		}
		return nil
	}
	for _, sh := range l.Sheets {
		if err := walk(sh, sh.Sections, nil); err != nil {
			return err
		}
	}
	return nil
}

// Check verifies the structural rules of the layout.
func (l *Layout) Check() error {
	if l == nil || len(l.Sheets) == 0 {
		return &TemplateError{Msg: "layout has no sheets"}
	}
	seen := make(map[string]bool)
	names := make(map[string]bool)
	for _, sh := range l.Sheets {
		if sh.Name == "" {
			return &TemplateError{Msg: "sheet without a name"}
		}
		if names[sh.Name] {
			return &TemplateError{Sheet: sh.Name, Msg: "duplicate sheet"}
		}
		names[sh.Name] = true
	}
	return l.Walk(func(sh *SheetLayout, s *Section, _ []*Section) error {
		fail := func(format string, args ...any) error {
			return &TemplateError{Sheet: sh.Name, Section: s.ID, Msg: fmt.Sprintf(format, args...)}
		}
		if s.ID == "" {
			return fail("section without an id")
		}
		if seen[s.ID] {
			return fail("duplicate section id")
		}
		seen[s.ID] = true
		switch s.Kind {
		case SectionPlain:
			if s.Rows == nil {
				return fail("plain section requires rows")
			}
			if s.Group != nil {
				return fail("plain section cannot group")
			}
		case SectionGrouping:
			if s.Group == nil || len(s.Group.Levels) == 0 {
				return fail("grouping section requires group levels")
			}
		case SectionComposite:
			if len(s.Children) == 0 && s.Rows == nil {
				return fail("composite section has neither rows nor child sections")
			}
		}
		if s.Group != nil && s.Provider == nil {
			return fail("grouped section requires a provider")
		}
		return nil
	})
}
