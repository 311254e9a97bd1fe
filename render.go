package xlreport

import (
	"errors"
	"fmt"

	"github.com/javajack/xlreport/issuer"
)

// Phase is the lifecycle stage of a section instance.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseStreaming
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not-started"
	case PhaseStreaming:
		return "streaming"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// SectionState is the runtime instance of a Section during one render.
// The latest state of every section id stays reachable through
// Context.Section for formulas referring to rows already rendered.
type SectionState struct {
	Section *Section
	Parent  *SectionState
	Sheet   string // output sheet
	Phase   Phase

	// FirstRow is the 1-based output row preceding the section's first
	// row, so its rows start at FirstRow+1.
	FirstRow      int
	Records       int // records rendered so far
	RowsPerRecord int

	Groups *GroupManager      // nil unless the section groups its records
	Source issuer.Issuer[any] // bound row source while streaming
	Record any                // record being rendered
	Index  int                // 1-based index of the record read from Source

	rendering *Group // group whose header or footer is being rendered
}

// RenderStats summarizes a completed render.
type RenderStats struct {
	Sheets  int
	Rows    int
	Records int
}

// renderer writes the sections of one output sheet.
type renderer struct {
	ec        *Context
	sheet     *SheetLayout
	out       SheetWriter
	macros    *MacroRegistry
	cells     []CellListener
	listeners []SectionListener
	stats     *RenderStats

	row   int // 0-based index of the next free output row
	block blockSpan
}

func (r *renderer) renderSheet() error {
	for _, sec := range r.sheet.Sections {
		if err := r.renderSection(sec); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) renderSection(sec *Section) error {
	if err := r.ec.Ctx().Err(); err != nil {
		return r.wrap(nil, sec, err)
	}
	if sec.Condition != "" {
		ok, err := r.ec.IsConditionTrue(sec.Condition)
		if err != nil {
			return r.wrap(nil, sec, fmt.Errorf("condition: %w", err))
		}
		if !ok {
			r.ec.Logger().Debug("skip section", "section", sec.ID, "condition", sec.Condition)
			return nil
		}
	}

	st := &SectionState{
		Section:       sec,
		Parent:        r.ec.CurrentSection(),
		Sheet:         r.sheet.Name,
		FirstRow:      r.row,
		RowsPerRecord: sec.RowsPerRecord(),
	}
	if sec.Group != nil {
		st.Groups = NewGroupManager(sec.Group)
	}
	r.ec.push(st)
	defer r.ec.pop()
	r.ec.Logger().Debug("enter section", "section", sec.ID, "kind", sec.Kind, "row", r.row+1)

	if err := r.fire(st, SectionListener.BeforeSection); err != nil {
		return r.wrap(st, sec, err)
	}

	if sec.Provider == nil {
		st.Phase = PhaseStreaming
		st.Index = 1
		if err := r.renderRecord(st); err != nil {
			return r.wrap(st, sec, err)
		}
	} else if err := r.stream(st); err != nil {
		return err
	}
	st.Phase = PhaseClosed

	if err := r.fire(st, SectionListener.AfterSection); err != nil {
		return r.wrap(st, sec, err)
	}
	r.ec.Logger().Debug("exit section", "section", sec.ID, "records", st.Records, "row", r.row)
	return nil
}

// stream renders one record per element of the section's row source. The
// source is closed on every path; a close failure after another failure
// is recorded as suppressed.
func (r *renderer) stream(st *SectionState) (err error) {
	sec := st.Section
	src, err := sec.Provider.RowSource(r.ec)
	if err != nil {
		return r.wrap(st, sec, fmt.Errorf("resolve row source: %w", err))
	}
	if src == nil {
		src = issuer.Empty[any]()
	}
	st.Source = src
	st.Phase = PhaseStreaming
	defer func() {
		cerr := src.Close()
		st.Source = nil
		if cerr == nil {
			return
		}
		if err == nil {
			err = r.wrap(st, sec, fmt.Errorf("close row source: %w", cerr))
			return
		}
		r.ec.Logger().Warn("close row source after failure", "section", sec.ID, "error", cerr)
		var rpe *ReportProcessingError
		if errors.As(err, &rpe) {
			rpe.Suppressed = append(rpe.Suppressed, cerr)
		}
	}()

	rv := NewRunVarWithIndex(r.ec, sec.varName(), sec.VarIndex)
	defer rv.Close()
	for {
		if err := r.ec.Ctx().Err(); err != nil {
			return r.wrap(st, sec, err)
		}
		ok, err := src.HasNext()
		if err != nil {
			return r.wrap(st, sec, err)
		}
		if !ok {
			break
		}
		rec, err := src.Next()
		if err != nil {
			return r.wrap(st, sec, err)
		}
		st.Index++
		st.Record = rec
		rv.SetWithIndex(rec, st.Index-1)
		if err := r.renderRecord(st); err != nil {
			return r.wrap(st, sec, err)
		}
	}

	if st.Groups != nil {
		if err := st.Groups.Finish(groupRenderer{r: r, st: st}); err != nil {
			return r.wrap(st, sec, err)
		}
	}
	return nil
}

func (r *renderer) renderRecord(st *SectionState) error {
	sec := st.Section
	if st.Groups != nil {
		ok, err := st.Groups.Feed(st.Record, groupRenderer{r: r, st: st})
		if err != nil {
			return err
		}
		if !ok {
			r.ec.Logger().Debug("skip record without group value", "section", sec.ID, "record", st.Index)
			return nil
		}
	}
	if err := r.fire(st, SectionListener.BeforeRecord); err != nil {
		return err
	}
	start := r.row + 1
	if sec.Rows != nil {
		if err := r.applyBlock(sec.Rows); err != nil {
			return err
		}
	}
	if st.Groups != nil {
		st.Groups.Attach(start, sec.Rows.Height())
	}
	st.Records++
	r.stats.Records++
	for _, child := range sec.Children {
		if err := r.renderSection(child); err != nil {
			return err
		}
	}
	return r.fire(st, SectionListener.AfterRecord)
}

// fire calls a boundary hook on the global listeners, then on the
// section's own listeners.
func (r *renderer) fire(st *SectionState, hook func(SectionListener, *Context, *SectionState) error) error {
	for _, l := range r.listeners {
		if err := hook(l, r.ec, st); err != nil {
			return err
		}
	}
	for _, l := range st.Section.Listeners {
		if err := hook(l, r.ec, st); err != nil {
			return err
		}
	}
	return nil
}

// wrap attaches render coordinates to err. Errors that already carry them
// pass through unchanged.
func (r *renderer) wrap(st *SectionState, sec *Section, err error) error {
	var rpe *ReportProcessingError
	if errors.As(err, &rpe) {
		return err
	}
	rpe = &ReportProcessingError{Sheet: r.sheet.Name, Section: sec.ID, Err: err}
	if st != nil {
		rpe.Record = st.Index
	}
	var ce *cellError
	if errors.As(err, &ce) {
		rpe.Cell = ce.ref.CellName()
		rpe.Err = ce.err
	}
	return rpe
}

// groupRenderer renders group headers and footers for the group manager of
// one section instance.
type groupRenderer struct {
	r  *renderer
	st *SectionState
}

func (e groupRenderer) nextRow() int { return e.r.row + 1 }

func (e groupRenderer) openGroup(g *Group) error {
	e.r.ec.Logger().Debug("open group", "section", e.st.Section.ID, "level", g.Level, "value", g.Value, "row", g.StartRow)
	if g.Style == nil || g.Style.Header == nil {
		return nil
	}
	return e.renderBlock(g, g.Style.Header)
}

func (e groupRenderer) closeGroup(g *Group) error {
	e.r.ec.Logger().Debug("close group", "section", e.st.Section.ID, "level", g.Level, "value", g.Value, "records", g.Count)
	if g.Style == nil || g.Style.Footer == nil {
		return nil
	}
	g.SummaryRow = e.nextRow()
	return e.renderBlock(g, g.Style.Footer)
}

// renderBlock renders a header or footer with the group's first record
// bound to the section variable and the group itself bound to "group".
func (e groupRenderer) renderBlock(g *Group, b *Block) error {
	rv := NewRunVar(e.r.ec, e.st.Section.varName())
	rv.Set(g.Record)
	defer rv.Close()
	gv := NewRunVar(e.r.ec, "group")
	gv.Set(g)
	defer gv.Close()

	prev := e.st.rendering
	e.st.rendering = g
	defer func() { e.st.rendering = prev }()
	return e.r.applyBlock(b)
}

// outline returns the outline level and visibility of the next row from
// the groups currently open on the section stack. A group's own header and
// footer sit at the level of its parent.
func (r *renderer) outline() (level int, hidden bool) {
	for _, st := range r.ec.stack {
		if st.Groups == nil {
			continue
		}
		m := st.Groups.Model()
		for _, g := range st.Groups.OpenGroups() {
			if g == st.rendering {
				hidden = hidden || m.Hidden
				break
			}
			if m.outlined() {
				level++
				hidden = hidden || m.Collapsed || m.Hidden
			}
		}
	}
	return min(level, maxOutlineLevel), hidden
}

// summaryBelow reports whether outline summary rows of a sheet sit below
// their detail rows: false as soon as a group style has a header without a
// footer.
func summaryBelow(sheet *SheetLayout) bool {
	below := true
	var walk func([]*Section)
	walk = func(secs []*Section) {
		for _, s := range secs {
			if s.Group != nil {
				for _, gs := range s.Group.Styles {
					if gs.Header != nil && gs.Footer == nil {
						below = false
					}
				}
			}
			walk(s.Children)
		}
	}
	walk(sheet.Sections)
	return below
}
