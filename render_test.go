package xlreport

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajack/xlreport/issuer"
)

func TestRender_PlainSection(t *testing.T) {
	layout := sheetLayout("Report",
		&Section{ID: "title", Rows: row1(1, "Name", "Amount")},
		&Section{ID: "items", Provider: Items("items"), Var: "e", Rows: row1(2, "${e.Name}", "${e.Amount}")},
		&Section{ID: "total", Rows: row1(3, "Total", "@rowSum(items, B)")},
	)
	data := map[string]any{"items": []map[string]any{
		{"Name": "a", "Amount": 1},
		{"Name": "b", "Amount": 2},
		{"Name": "c", "Amount": 3},
	}}

	doc, stats, err := render(t, layout, data)
	require.NoError(t, err)
	out := doc.sheet(t, "Report")

	assert.Equal(t, []any{"Name", "a", "b", "c", "Total"}, out.column(0))
	assert.Equal(t, 2, out.value(t, "B3"), "single expression keeps its type")
	assert.Equal(t, "SUM(B2:B4)", out.formula(t, "B5"))
	assert.Equal(t, 5, stats.Rows)
	assert.Equal(t, 1, stats.Sheets)
	assert.True(t, out.closed)
}

func TestRender_MultiRowRecords(t *testing.T) {
	rows := rowsBlock(2, row1(2, "${r.Name}", "${r.Qty}"), row1(3, "note", "${r.Price}"))
	layout := sheetLayout("Report",
		&Section{ID: "items", Provider: Items("items"), Rows: rows},
		&Section{ID: "qty", Rows: row1(4, "Qty", "@rowSum(items, B, 2, 0)")},
		&Section{ID: "price", Rows: row1(5, "Price", "@rowSum(items, B, 2, 1)")},
	)
	data := map[string]any{"items": []map[string]any{
		{"Name": "a", "Qty": 1, "Price": 10},
		{"Name": "b", "Qty": 2, "Price": 20},
		{"Name": "c", "Qty": 3, "Price": 30},
	}}

	doc, _, err := render(t, layout, data)
	require.NoError(t, err)
	out := doc.sheet(t, "Report")
	assert.Equal(t, "SUMPRODUCT(ABS(MOD(ROW(1:6)-ROW(B1),2)=0),B1:B6)", out.formula(t, "B7"))
	assert.Equal(t, "SUMPRODUCT(ABS(MOD(ROW(1:6)-ROW(B1),2)=1),B1:B6)", out.formula(t, "B8"))
	assert.Equal(t, 20, out.value(t, "B4"))
}

func TestRender_RowSumOfEmptySection(t *testing.T) {
	layout := sheetLayout("Report",
		&Section{ID: "items", Provider: Items("items"), Rows: row1(2, "${r.Name}", "${r.Amount}")},
		&Section{ID: "total", Rows: row1(3, "Total", "@rowSum(items, B)")},
	)
	doc, _, err := render(t, layout, map[string]any{"items": []any{}})
	require.NoError(t, err)
	out := doc.sheet(t, "Report")
	assert.Equal(t, 0, out.value(t, "B1"))
	assert.Empty(t, out.formula(t, "B1"))
}

func TestRender_RowSumDefaultsToCellColumn(t *testing.T) {
	layout := sheetLayout("Report",
		&Section{ID: "items", Provider: Items("items"), Rows: row1(2, nil, nil, "${r}")},
		&Section{ID: "total", Rows: row1(3, nil, nil, "@rowSum(items)")},
	)
	doc, _, err := render(t, layout, map[string]any{"items": []int{4, 5}})
	require.NoError(t, err)
	assert.Equal(t, "SUM(C1:C2)", doc.sheet(t, "Report").formula(t, "C3"))
}

func groupingLayout(footer *Block, model func(*GroupModel)) *Layout {
	m := &GroupModel{
		Levels: []string{"Region"},
		Styles: []*GroupStyle{{
			Default: true,
			Header:  row1(1, "${r.Region}"),
			Footer:  footer,
		}},
	}
	if model != nil {
		model(m)
	}
	return sheetLayout("Report",
		&Section{
			ID:       "orders",
			Kind:     SectionGrouping,
			Provider: Items("orders"),
			Rows:     row1(2, "${r.Name}", "${r.Amount}"),
			Group:    m,
		},
		&Section{ID: "grand", Rows: row1(4, "Grand", "@groupSum(B, orders)", "@groupCount(C, orders)")},
	)
}

func TestRender_GroupingSection(t *testing.T) {
	var roots []*Group
	layout := groupingLayout(row1(3, "Subtotal", "@groupSum()", "@groupCount()"), nil)
	layout.Sheets[0].Sections[0].Listeners = []SectionListener{SectionHooks{
		OnAfterSection: func(_ *Context, st *SectionState) error {
			var err error
			roots, err = st.Groups.CompletedRootGroups()
			return err
		},
	}}
	data := map[string]any{"orders": []order{
		{Region: "X", Name: "a", Amount: 1},
		{Region: "X", Name: "b", Amount: 2},
		{Region: "Y", Name: "c", Amount: 4},
	}}

	doc, _, err := render(t, layout, data)
	require.NoError(t, err)
	out := doc.sheet(t, "Report")

	// X header 1, records 2-3, X footer 4, Y header 5, record 6, Y footer 7, grand 8.
	assert.Equal(t, []any{"X", "a", "b", "Subtotal", "Y", "c", "Subtotal", "Grand"}, out.column(0))
	assert.Equal(t, "SUM(B2:B3)", out.formula(t, "B4"))
	assert.Equal(t, 2, out.value(t, "C4"))
	assert.Equal(t, "SUM(B6)", out.formula(t, "B7"))
	assert.Equal(t, 1, out.value(t, "C7"))
	assert.Equal(t, "B4+B7", out.formula(t, "B8"))
	assert.Equal(t, "C4+C7", out.formula(t, "C8"))

	require.Len(t, roots, 2)
	assert.Equal(t, 2, roots[0].Count)
	assert.Equal(t, 1, roots[1].Count)
}

func TestRender_NestedGroups(t *testing.T) {
	layout := groupingLayout(row1(3, "Subtotal", "@groupSum()", "@groupCount()"), func(m *GroupModel) {
		m.Levels = []string{"Region", "City"}
		m.Styles[0].Header = row1(1, "${group.Value}", "${r.Name}")
	})
	doc, _, err := render(t, layout, map[string]any{"orders": sampleOrders()})
	require.NoError(t, err)
	out := doc.sheet(t, "Report")

	// East 1, Boston 2, o1 3, o2 4, Boston footer 5, NYC 6, o3 7, NYC footer 8, East footer 9.
	assert.Equal(t, "SUM(B3:B4)", out.formula(t, "B5"))
	assert.Equal(t, "SUM(B7)", out.formula(t, "B8"))
	assert.Equal(t, "B5+B8", out.formula(t, "B9"))
	assert.Equal(t, "C5+C8", out.formula(t, "C9"))
	assert.Equal(t, "East", out.value(t, "A1"))
	assert.Equal(t, "Boston", out.value(t, "A2"))
	assert.Equal(t, "o1", out.value(t, "B2"), "header binds the group's first record")

	// West footer closes at 18, grand total adds the two region footers.
	assert.Equal(t, "B9+B18", out.formula(t, "B19"))
}

func TestRender_NestedGroupsWithoutInnerFooter(t *testing.T) {
	layout := groupingLayout(nil, func(m *GroupModel) {
		m.Levels = []string{"Region", "City"}
		m.Styles = []*GroupStyle{{
			Level:  1,
			Footer: row1(3, "Subtotal", "@groupSum()", "@groupCount()"),
		}}
	})
	doc, _, err := render(t, layout, map[string]any{"orders": sampleOrders()})
	require.NoError(t, err)
	out := doc.sheet(t, "Report")

	// o1 1, o2 2, o3 3, East footer 4, o4 5, o5 6, o6 7, West footer 8, grand 9.
	assert.Equal(t, []any{"o1", "o2", "o3", "Subtotal", "o4", "o5", "o6", "Subtotal", "Grand"}, out.column(0))
	assert.Equal(t, "SUM(B1:B3)", out.formula(t, "B4"), "covers every city record")
	assert.Equal(t, 3, out.value(t, "C4"))
	assert.Equal(t, "SUM(B5:B7)", out.formula(t, "B8"))
	assert.Equal(t, 3, out.value(t, "C8"))
	assert.Equal(t, "B4+B8", out.formula(t, "B9"))
	assert.Equal(t, "C4+C8", out.formula(t, "C9"))
}

func TestRender_GroupHeaderAggregatesAreBoundWhenOpened(t *testing.T) {
	layout := groupingLayout(nil, func(m *GroupModel) {
		m.Styles[0].Header = row1(1, "${group.Value}", "@groupCount()")
	})
	doc, _, err := render(t, layout, map[string]any{"orders": []order{{Region: "X", Name: "a"}}})
	require.NoError(t, err)
	out := doc.sheet(t, "Report")
	assert.Equal(t, "X", out.value(t, "A1"))
	assert.Equal(t, 0, out.value(t, "B1"), "a header only sees rows rendered before it")
	assert.False(t, out.spec.SummaryBelow)
}

func TestRender_GroupOutline(t *testing.T) {
	layout := groupingLayout(row1(3, "Subtotal"), func(m *GroupModel) {
		m.Collapsible = true
		m.Collapsed = true
	})
	data := map[string]any{"orders": []order{{Region: "X", Name: "a"}, {Region: "X", Name: "b"}}}
	doc, _, err := render(t, layout, data)
	require.NoError(t, err)
	out := doc.sheet(t, "Report")

	assert.Equal(t, RowOptions{}, out.rows[1].opts, "header")
	assert.Equal(t, RowOptions{OutlineLevel: 1, Hidden: true}, out.rows[2].opts)
	assert.Equal(t, RowOptions{OutlineLevel: 1, Hidden: true}, out.rows[3].opts)
	assert.Equal(t, RowOptions{}, out.rows[4].opts, "footer")
	assert.True(t, out.spec.SummaryBelow)
}

func TestRender_HiddenGroups(t *testing.T) {
	layout := groupingLayout(row1(3, "Subtotal"), func(m *GroupModel) { m.Hidden = true })
	doc, _, err := render(t, layout, map[string]any{"orders": []order{{Region: "X", Name: "a"}}})
	require.NoError(t, err)
	out := doc.sheet(t, "Report")
	for r := 1; r <= 3; r++ {
		assert.True(t, out.rows[r].opts.Hidden, "row %d", r)
	}
	assert.False(t, out.rows[4].opts.Hidden, "grand total")
}

func TestRender_SkipEmptyGroups(t *testing.T) {
	layout := groupingLayout(row1(3, "Subtotal", "@groupSum()"), func(m *GroupModel) { m.SkipEmptyGroups = true })
	data := map[string]any{"orders": []map[string]any{
		{"Region": "X", "Name": "a", "Amount": 1},
		{"Region": nil, "Name": "lost", "Amount": 100},
		{"Region": "X", "Name": "b", "Amount": 2},
	}}
	doc, stats, err := render(t, layout, data)
	require.NoError(t, err)
	out := doc.sheet(t, "Report")
	assert.Equal(t, []any{"X", "a", "b", "Subtotal", "Grand"}, out.column(0))
	assert.Equal(t, 5, stats.Rows)
}

func TestRender_SkipEmptyGroupsDropsChildRows(t *testing.T) {
	layout := groupingLayout(row1(3, "Subtotal", "@groupSum()"), func(m *GroupModel) { m.SkipEmptyGroups = true })
	orders := layout.Sheets[0].Sections[0]
	orders.Children = []*Section{{ID: "lines", Provider: Items("r.Lines"), Var: "l", Rows: row1(5, "${l}")}}
	data := map[string]any{"orders": []map[string]any{
		{"Region": "X", "Name": "a", "Amount": 1, "Lines": []string{"a1"}},
		{"Region": nil, "Name": "lost", "Amount": 100, "Lines": []string{"lost1", "lost2"}},
		{"Region": "X", "Name": "b", "Amount": 2, "Lines": []string{"b1"}},
	}}
	doc, stats, err := render(t, layout, data)
	require.NoError(t, err)
	out := doc.sheet(t, "Report")

	// X header 1, a 2, a1 3, b 4, b1 5, X footer 6, grand 7.
	assert.Equal(t, []any{"X", "a", "a1", "b", "b1", "Subtotal", "Grand"}, out.column(0))
	assert.NotContains(t, out.column(0), "lost1")
	assert.Equal(t, "SUM(B2,B4)", out.formula(t, "B6"))
	assert.Equal(t, 7, stats.Rows)
	assert.Equal(t, 5, stats.Records, "two orders, their two lines and the grand total")
}

func TestRender_CompositeSection(t *testing.T) {
	layout := sheetLayout("Report",
		&Section{
			ID:       "orders",
			Kind:     SectionComposite,
			Provider: Items("orders"),
			Var:      "o",
			VarIndex: "i",
			Rows:     row1(1, "${i + 1}. ${o.Name}"),
			Children: []*Section{
				{ID: "lines", Provider: Items("o.Lines"), Var: "l", Rows: row1(2, nil, "${l}")},
				{ID: "sum", Rows: row1(3, nil, "@rowSum(lines)")},
			},
		},
	)
	data := map[string]any{"orders": []map[string]any{
		{"Name": "first", "Lines": []int{1, 2}},
		{"Name": "second", "Lines": []int{3}},
		{"Name": "empty", "Lines": nil},
	}}

	doc, _, err := render(t, layout, data)
	require.NoError(t, err)
	out := doc.sheet(t, "Report")
	assert.Equal(t, "1. first", out.value(t, "A1"))
	assert.Equal(t, "SUM(B2:B3)", out.formula(t, "B4"), "refers to the latest instance")
	assert.Equal(t, "2. second", out.value(t, "A5"))
	assert.Equal(t, "SUM(B6)", out.formula(t, "B7"))
	assert.Equal(t, "3. empty", out.value(t, "A8"))
	assert.Equal(t, 0, out.value(t, "B9"))
}

func TestRender_Condition(t *testing.T) {
	layout := sheetLayout("Report",
		&Section{ID: "shown", Condition: "showTitle", Rows: row1(1, "Title")},
		&Section{ID: "hidden", Condition: "!showTitle", Rows: row1(2, "Never")},
		&Section{ID: "items", Provider: Items("items"), Rows: row1(3, "${r}")},
	)
	doc, _, err := render(t, layout, map[string]any{"showTitle": true, "items": []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"Title", "a"}, doc.sheet(t, "Report").column(0))
}

func TestRender_FilterWhere(t *testing.T) {
	lines := []map[string]any{
		{"Order": 1, "Item": "header-1"},
		{"Order": 1, "Item": "a"},
		{"Order": 1, "Item": "b"},
		{"Order": 2, "Item": "header-2"},
		{"Order": 2, "Item": "c"},
	}
	layout := sheetLayout("Report",
		&Section{
			ID:       "orders",
			Kind:     SectionComposite,
			Provider: Items("lines"),
			Var:      "o",
			Rows:     row1(1, "Order ${o.Order}"),
			Children: []*Section{{
				ID:       "details",
				Provider: FilterWhere("orders", "candidate.Order == anchor.Order"),
				Var:      "l",
				Rows:     row1(2, nil, "${l.Item}"),
			}},
		},
	)
	doc, _, err := render(t, layout, map[string]any{"lines": lines})
	require.NoError(t, err)
	out := doc.sheet(t, "Report")
	assert.Equal(t, []any{"Order 1", nil, nil, "Order 2", nil}, out.column(0))
	assert.Equal(t, []any{nil, "a", "b", nil, "c"}, out.column(1))
}

func TestRender_FilterNeedsEnclosingSection(t *testing.T) {
	layout := sheetLayout("Report",
		&Section{ID: "orders", Provider: Items("lines"), Rows: row1(1, "x")},
		&Section{ID: "details", Provider: FilterWhere("orders", "true"), Rows: row1(2, "y")},
	)
	_, _, err := render(t, layout, map[string]any{"lines": []int{1}})
	var ure *UnresolvedReferenceError
	require.ErrorAs(t, err, &ure)
	assert.Equal(t, "orders", ure.Name)
}

func TestRender_RefProvider(t *testing.T) {
	layout := sheetLayout("Report",
		&Section{ID: "items", Provider: Ref("rows"), Rows: row1(1, "${r}")},
	)
	doc, _, err := render(t, layout, map[string]any{"rows": issuer.Any[string](issuer.FromSlice([]string{"a", "b"}))})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, doc.sheet(t, "Report").column(0))

	_, _, err = render(t, layout, map[string]any{})
	var ure *UnresolvedReferenceError
	require.ErrorAs(t, err, &ure)
	assert.Equal(t, "provider", ure.Kind)
}

func TestRender_FuncProviderAndSequence(t *testing.T) {
	seq := func(yield func(any) bool) {
		for _, s := range []string{"x", "y"} {
			if !yield(s) {
				return
			}
		}
	}
	layout := sheetLayout("Report",
		&Section{ID: "gen", Provider: Func(func(*Context) (any, error) { return seq, nil }), Rows: row1(1, "${r}")},
	)
	doc, _, err := render(t, layout, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, doc.sheet(t, "Report").column(0))
}

func TestRender_CrossSheetReference(t *testing.T) {
	layout := &Layout{Sheets: []*SheetLayout{
		{Name: "Q1 Data", Template: "Template", Sections: []*Section{
			{ID: "items", Provider: Items("items"), Rows: row1(1, nil, "${r}")},
		}},
		{Name: "Summary", Template: "Template", Sections: []*Section{
			{ID: "total", Rows: row1(2, "Total", "@rowSum(items)")},
		}},
	}}
	doc, stats, err := render(t, layout, map[string]any{"items": []int{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, "SUM('Q1 Data'!B1:B3)", doc.sheet(t, "Summary").formula(t, "B1"))
	assert.Equal(t, 2, stats.Sheets)
}

func TestRender_FormulaExpressions(t *testing.T) {
	layout := sheetLayout("Report",
		&Section{ID: "items", Provider: Items("items"), Rows: row1(1, "${r}", "=A${_row}*${rate}")},
	)
	doc, _, err := render(t, layout, map[string]any{"items": []int{5, 6}, "rate": 2})
	require.NoError(t, err)
	out := doc.sheet(t, "Report")
	assert.Equal(t, "A1*2", out.formula(t, "B1"))
	assert.Equal(t, "A2*2", out.formula(t, "B2"))
}

func TestRender_FormulaFollowsRecordRow(t *testing.T) {
	layout := sheetLayout("Report",
		&Section{ID: "title", Rows: row1(1, "Price", "Qty", "Total")},
		&Section{ID: "items", Provider: Items("items"), Var: "p",
			Rows: row1(2, "${p.Price}", "${p.Qty}", "=A2*B2")},
		&Section{ID: "total", Rows: row1(3, "=$C$1", "=SUM(C2:C2)")},
	)
	items := []map[string]any{{"Price": 2, "Qty": 3}, {"Price": 4, "Qty": 5}, {"Price": 6, "Qty": 7}}
	doc, _, err := render(t, layout, map[string]any{"items": items})
	require.NoError(t, err)
	out := doc.sheet(t, "Report")
	assert.Equal(t, "A2*B2", out.formula(t, "C2"))
	assert.Equal(t, "A3*B3", out.formula(t, "C3"))
	assert.Equal(t, "A4*B4", out.formula(t, "C4"))
	// Rows outside the moving block keep their references.
	assert.Equal(t, "$C$1", out.formula(t, "A5"))
	assert.Equal(t, "SUM(C2:C2)", out.formula(t, "B5"))
}

func TestRender_FormulaShiftSkipsExpressions(t *testing.T) {
	layout := sheetLayout("Report",
		&Section{ID: "title", Rows: row1(1, "Title")},
		&Section{ID: "items", Provider: Items("items"),
			Rows: row1(4, "${r}", `=A4*${rate["B4"]}`)},
	)
	data := map[string]any{"items": []int{5, 6}, "rate": map[string]any{"B4": 2}}
	doc, _, err := render(t, layout, data)
	require.NoError(t, err)
	out := doc.sheet(t, "Report")
	assert.Equal(t, "A2*2", out.formula(t, "B2"))
	assert.Equal(t, "A3*2", out.formula(t, "B3"))
}

func TestRender_MergesAreShifted(t *testing.T) {
	rows := row1(5, "${r}")
	rows.Merges = []AreaRef{{First: NewCellRef("Template", 4, 0), Last: NewCellRef("Template", 4, 2)}}
	layout := sheetLayout("Report", &Section{ID: "items", Provider: Items("items"), Rows: rows})
	doc, _, err := render(t, layout, map[string]any{"items": []int{1, 2}})
	require.NoError(t, err)
	out := doc.sheet(t, "Report")
	require.Len(t, out.merges, 2)
	assert.Equal(t, "A1:C1", out.merges[0].String())
	assert.Equal(t, "A2:C2", out.merges[1].String())
}

func TestRender_SectionListenersOrder(t *testing.T) {
	var log []string
	hook := func(name string) func(*Context, *SectionState) error {
		return func(_ *Context, st *SectionState) error {
			log = append(log, fmt.Sprintf("%s %s %d", name, st.Section.ID, st.Records))
			return nil
		}
	}
	listener := SectionHooks{
		OnBeforeSection: hook("before-section"),
		OnAfterSection:  hook("after-section"),
		OnBeforeRecord:  hook("before-record"),
		OnAfterRecord:   hook("after-record"),
	}
	layout := sheetLayout("Report",
		&Section{ID: "items", Provider: Items("items"), Rows: row1(1, "${r}"), Listeners: []SectionListener{ListenerVar("audit")}},
	)
	_, _, err := render(t, layout, map[string]any{"items": []int{1, 2}, "audit": listener})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"before-section items 0",
		"before-record items 0",
		"after-record items 1",
		"before-record items 1",
		"after-record items 2",
		"after-section items 2",
	}, log)
}

func TestRender_ListenerVarUnset(t *testing.T) {
	layout := sheetLayout("Report",
		&Section{ID: "items", Rows: row1(1, "x"), Listeners: []SectionListener{ListenerVar("missing")}},
	)
	_, _, err := render(t, layout, nil)
	require.NoError(t, err)

	_, _, err = render(t, layout, map[string]any{"missing": 42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a section listener")
}

func TestRender_CellListener(t *testing.T) {
	var seen []string
	upper := CellHooks{
		OnBeforeCell: func(_ *Context, c *CellWrite) (bool, error) {
			if c.Template.Value == "secret" {
				c.Skip = true
				return false, nil
			}
			return true, nil
		},
		OnAfterCell: func(_ *Context, c *CellWrite) error {
			seen = append(seen, c.Ref.CellName())
			if s, ok := c.Value.(string); ok && s == "b" {
				c.SetValue("B!")
			}
			return nil
		},
	}
	layout := sheetLayout("Report",
		&Section{ID: "items", Provider: Items("items"), Rows: row1(1, "${r}", "secret")},
	)
	doc, _, err := render(t, layout, map[string]any{"items": []string{"a", "b"}}, WithCellListener(upper))
	require.NoError(t, err)
	out := doc.sheet(t, "Report")
	assert.Equal(t, []any{"a", "B!"}, out.column(0))
	_, written := out.rows[1].cells[1]
	assert.False(t, written, "skipped cell is not written")
	assert.Equal(t, []string{"A1", "B1", "A2", "B2"}, seen)
}

func TestRender_CustomMacro(t *testing.T) {
	stamp := MacroFunc(func(ec *Context, cell *CellWrite, args []string) error {
		cell.SetValue(fmt.Sprintf("%s@%s", args[0], ec.Cell().CellName()))
		return nil
	})
	layout := sheetLayout("Report", &Section{ID: "s", Rows: row1(1, "@stamp(hello)")})
	doc, _, err := render(t, layout, nil, WithMacro("stamp", stamp))
	require.NoError(t, err)
	assert.Equal(t, "hello@A1", doc.sheet(t, "Report").value(t, "A1"))
}

func TestRender_ErrorCoordinates(t *testing.T) {
	layout := sheetLayout("Report",
		&Section{ID: "items", Provider: Items("items"), Rows: row1(1, "${r.Name}", "${r.Price * }")},
	)
	_, _, err := render(t, layout, map[string]any{"items": []map[string]any{{"Name": "a", "Price": 1}}})
	var rpe *ReportProcessingError
	require.ErrorAs(t, err, &rpe)
	assert.Equal(t, "Report", rpe.Sheet)
	assert.Equal(t, "items", rpe.Section)
	assert.Equal(t, 1, rpe.Record)
	assert.Equal(t, "B1", rpe.Cell)
}

func TestRender_UnknownMacro(t *testing.T) {
	layout := sheetLayout("Report", &Section{ID: "s", Rows: row1(1, "@nope()")})
	_, _, err := render(t, layout, nil)
	var te *TemplateError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Msg, `unknown macro "nope"`)
}

func TestRender_RowSumForwardReference(t *testing.T) {
	layout := sheetLayout("Report",
		&Section{ID: "total", Rows: row1(1, "@rowSum(items)")},
		&Section{ID: "items", Provider: Items("items"), Rows: row1(2, "${r}")},
	)
	_, _, err := render(t, layout, map[string]any{"items": []int{1}})
	var ure *UnresolvedReferenceError
	require.ErrorAs(t, err, &ure)
	assert.Equal(t, "items", ure.Name)
}

func TestRender_RowSumRequiresPlainSection(t *testing.T) {
	layout := groupingLayout(nil, nil)
	layout.Sheets[0].Sections = append(layout.Sheets[0].Sections,
		&Section{ID: "bad", Rows: row1(5, "@rowSum(orders)")})
	_, _, err := render(t, layout, map[string]any{"orders": sampleOrders()})
	var ure *UnresolvedReferenceError
	require.ErrorAs(t, err, &ure)
	assert.Contains(t, ure.Reason, "plain")
}

// closeFailing is a row source whose Close fails.
type closeFailing struct {
	issuer.Issuer[any]
	closed int
}

func (c *closeFailing) Close() error {
	c.closed++
	c.Issuer.Close()
	return errors.New("connection reset")
}

func TestRender_SourceClosedOnFailure(t *testing.T) {
	src := &closeFailing{Issuer: issuer.Any[int](issuer.FromSlice([]int{1, 2}))}
	layout := sheetLayout("Report",
		&Section{ID: "items", Provider: ProviderFunc(func(*Context) (issuer.Issuer[any], error) { return src, nil }),
			Rows: row1(1, "${r +}")},
	)
	_, _, err := render(t, layout, nil)
	var rpe *ReportProcessingError
	require.ErrorAs(t, err, &rpe)
	assert.Equal(t, 1, src.closed)
	require.Len(t, rpe.Suppressed, 1)
	assert.EqualError(t, rpe.Suppressed[0], "connection reset")
}

func TestRender_SourceCloseErrorAfterSuccess(t *testing.T) {
	src := &closeFailing{Issuer: issuer.Any[int](issuer.FromSlice([]int{1}))}
	layout := sheetLayout("Report",
		&Section{ID: "items", Provider: ProviderFunc(func(*Context) (issuer.Issuer[any], error) { return src, nil }),
			Rows: row1(1, "${r}")},
	)
	_, _, err := render(t, layout, nil)
	var rpe *ReportProcessingError
	require.ErrorAs(t, err, &rpe)
	assert.Equal(t, "items", rpe.Section)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRender_WriteFailure(t *testing.T) {
	layout := sheetLayout("Report", &Section{ID: "items", Provider: Items("items"), Rows: row1(1, "${r}")})
	doc := newMemDoc()
	doc.failAt = 2
	_, err := NewFiller().Render(context.Background(), layout, doc, map[string]any{"items": []int{1, 2, 3}})
	var rpe *ReportProcessingError
	require.ErrorAs(t, err, &rpe)
	assert.Equal(t, 2, rpe.Record)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, doc.sheets[0].closed, "sheet is closed on failure")
}

func TestRender_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	layout := sheetLayout("Report", &Section{ID: "s", Rows: row1(1, "x")})
	_, err := NewFiller().Render(ctx, layout, newMemDoc(), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRender_InvalidLayout(t *testing.T) {
	_, _, err := render(t, sheetLayout("Report", &Section{ID: "s"}), nil)
	var te *TemplateError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Msg, "requires rows")

	dup := sheetLayout("Report",
		&Section{ID: "s", Rows: row1(1, "x")},
		&Section{ID: "s", Rows: row1(1, "x")},
	)
	_, _, err = render(t, dup, nil)
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Msg, "duplicate")
}

func TestRender_MaxFormulaArgs(t *testing.T) {
	var recs []order
	for i := range 4 {
		recs = append(recs, order{Region: "X", Name: fmt.Sprint(i), Amount: i})
	}
	// interleave a second section so record rows are not contiguous
	layout := groupingLayout(row1(3, "Subtotal", "@groupMax()"), nil)
	sec := layout.Sheets[0].Sections[0]
	sec.Kind = SectionComposite
	sec.Children = []*Section{{ID: "gap", Rows: row1(6, "gap")}}

	doc := newMemDoc()
	doc.maxArgs = 2
	_, err := NewFiller().Render(context.Background(), layout, doc, map[string]any{"orders": recs})
	require.NoError(t, err)
	// header 1, then record/gap pairs at 2..9, footer 10
	assert.Equal(t, "MAX(MAX(B2,B4),MAX(B6,B8))", doc.sheet(t, "Report").formula(t, "B10"))
}
