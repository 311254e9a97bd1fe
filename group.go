package xlreport

// Group is the runtime instance of one discriminator value. A group holds
// either child groups or leaf records, never both: inner levels own the
// records, outer levels own the inner groups.
type Group struct {
	Level  int // 1-based nesting level
	Value  any // discriminator value
	Record any // first record of the group
	Style  *GroupStyle

	StartRow   int // 1-based output row where the group begins
	SummaryRow int // first footer row, aggregated by the parent level; 0 without a footer
	EndRow     int // last output row, set on close

	Count         int   // leaf records
	Records       []int // first output row of every leaf record
	RecordsHeight int   // output rows occupied by leaf record blocks
	Children      []*Group

	closed bool
}

// Closed reports whether the group has been finalized.
func (g *Group) Closed() bool { return g.closed }

// groupEvents lets the manager emit header and footer blocks through the
// renderer while it opens and closes groups.
type groupEvents interface {
	nextRow() int // 1-based number of the next free output row
	openGroup(g *Group) error
	closeGroup(g *Group) error
}

// GroupManager is the grouping state machine of one section instance.
type GroupManager struct {
	model *GroupModel
	open  []*Group // open groups, outermost first
	roots []*Group
	done  bool
}

// NewGroupManager creates a manager for the given model.
func NewGroupManager(model *GroupModel) *GroupManager {
	return &GroupManager{model: model}
}

// Model returns the static grouping rule.
func (m *GroupManager) Model() *GroupModel { return m.model }

// Feed routes one incoming record. Starting at the outermost level whose
// discriminator differs from the open group, it closes open groups
// innermost first, then opens new groups outermost first. It reports false
// when the record must be skipped entirely because a discriminator is nil
// and empty groups are skipped.
func (m *GroupManager) Feed(rec any, ev groupEvents) (bool, error) {
	levels := m.model.Levels
	values := make([]any, len(levels))
	for i, field := range levels {
		v := getField(rec, field)
		if v == nil && m.model.SkipEmptyGroups {
			return false, nil
		}
		values[i] = v
	}

	changed := len(levels)
	for i := range levels {
		if i >= len(m.open) || !sameValue(m.open[i].Value, values[i]) {
			changed = i
			break
		}
	}
	if err := m.closeFrom(changed, ev); err != nil {
		return false, err
	}

	var styleKey any
	if m.model.LevelField != "" {
		styleKey = getField(rec, m.model.LevelField)
	}
	for i := changed; i < len(levels); i++ {
		key := styleKey
		if m.model.LevelField == "" {
			key = i + 1
		}
		start := ev.nextRow()
		g := &Group{
			Level:    i + 1,
			Value:    values[i],
			Record:   rec,
			Style:    m.model.Style(key),
			StartRow: start,
		}
		if i == 0 {
			m.roots = append(m.roots, g)
		} else {
			parent := m.open[i-1]
			parent.Children = append(parent.Children, g)
		}
		m.open = append(m.open, g)
		if err := ev.openGroup(g); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Attach records a rendered leaf record block in the innermost open group.
func (m *GroupManager) Attach(row, height int) {
	g := m.CurrentGroup()
	if g == nil {
		return
	}
	g.Count++
	if height > 0 {
		g.Records = append(g.Records, row)
		g.RecordsHeight += height
	}
}

// Finish closes every group still open. It is called once the stream is
// exhausted.
func (m *GroupManager) Finish(ev groupEvents) error {
	if err := m.closeFrom(0, ev); err != nil {
		return err
	}
	m.done = true
	return nil
}

func (m *GroupManager) closeFrom(level int, ev groupEvents) error {
	for i := len(m.open) - 1; i >= level; i-- {
		g := m.open[i]
		if err := ev.closeGroup(g); err != nil {
			return err
		}
		g.EndRow = ev.nextRow() - 1
		g.closed = true
		m.open[i] = nil
		m.open = m.open[:i]
	}
	return nil
}

// CurrentGroup returns the innermost open group, or nil. Its content may be
// partial while the stream is still being consumed.
func (m *GroupManager) CurrentGroup() *Group {
	if len(m.open) == 0 {
		return nil
	}
	return m.open[len(m.open)-1]
}

// OpenGroup returns the open group at the 1-based level, or nil.
func (m *GroupManager) OpenGroup(level int) *Group {
	if level < 1 || level > len(m.open) {
		return nil
	}
	return m.open[level-1]
}

// OpenGroups returns the open groups, outermost first.
func (m *GroupManager) OpenGroups() []*Group {
	return m.open
}

// CompletedRootGroups returns the top-level groups. It is only valid after
// the stream has been exhausted and Finish has run.
func (m *GroupManager) CompletedRootGroups() ([]*Group, error) {
	if !m.done {
		return nil, &UnresolvedReferenceError{Kind: "group", Reason: "groups are still being rendered"}
	}
	return m.roots, nil
}
