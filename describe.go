package xlreport

import (
	"fmt"
	"strings"
)

// Describe loads a template and layout and returns a human-readable tree
// showing the sheets, sections, groups, expressions and macros.
// Useful for debugging layouts during development.
func Describe(templatePath, layoutPath string, opts ...Option) (string, error) {
	allOpts := append([]Option{WithTemplate(templatePath), WithLayoutFile(layoutPath)}, opts...)
	return NewFiller(allOpts...).Describe()
}

// Describe opens the template, loads the layout and returns a
// human-readable tree of its sections.
func (f *Filler) Describe() (string, error) {
	wb, err := f.openTemplate()
	if err != nil {
		return "", err
	}
	defer wb.Close()

	layout, err := f.loadLayout(wb)
	if err != nil {
		return "", fmt.Errorf("load layout: %w", err)
	}

	var b strings.Builder
	b.WriteString("Template: ")
	if f.opts.templatePath != "" {
		b.WriteString(f.opts.templatePath)
	} else {
		b.WriteString("<reader>")
	}
	b.WriteByte('\n')
	f.describeLayout(&b, layout)
	return b.String(), nil
}

func (f *Filler) describeLayout(b *strings.Builder, layout *Layout) {
	for _, sh := range layout.Sheets {
		fmt.Fprintf(b, "Sheet %q (template %q)\n", sh.Name, sh.TemplateSheet())
		for _, sec := range sh.Sections {
			f.describeSection(b, sec, 1)
		}
	}
}

// describeSection recursively writes a tree description of a section.
func (f *Filler) describeSection(b *strings.Builder, sec *Section, indent int) {
	prefix := strings.Repeat("  ", indent)
	fmt.Fprintf(b, "%s%s %s%s\n", prefix, sec.ID, sec.Kind, describeSectionAttrs(sec))

	if g := sec.Group; g != nil {
		fmt.Fprintf(b, "%s  group levels=%v", prefix, g.Levels)
		if g.LevelField != "" {
			fmt.Fprintf(b, " levelField=%q", g.LevelField)
		}
		for _, flag := range []struct {
			name string
			on   bool
		}{
			{"collapsible", g.Collapsible},
			{"collapsed", g.Collapsed},
			{"hidden", g.Hidden},
			{"skipEmptyGroups", g.SkipEmptyGroups},
		} {
			if flag.on {
				b.WriteString(" " + flag.name)
			}
		}
		b.WriteByte('\n')
		for _, s := range g.Styles {
			level := "default"
			if s.Level != nil {
				level = fmt.Sprint(s.Level)
			}
			fmt.Fprintf(b, "%s    style %s header=%s footer=%s\n", prefix, level, s.Header, s.Footer)
			f.describeBlock(b, s.Header, indent+3)
			f.describeBlock(b, s.Footer, indent+3)
		}
	}
	f.describeBlock(b, sec.Rows, indent+1)

	for _, child := range sec.Children {
		f.describeSection(b, child, indent+1)
	}
}

// describeSectionAttrs returns a string of key section attributes for display.
func describeSectionAttrs(sec *Section) string {
	var parts []string
	switch p := sec.Provider.(type) {
	case nil:
	case itemsProvider:
		parts = append(parts, fmt.Sprintf("items=%q", string(p)))
	case *SQLProvider:
		parts = append(parts, fmt.Sprintf("sql=%q", p.Query.Text()))
		if params := p.Query.Params(); len(params) > 0 {
			parts = append(parts, fmt.Sprintf("params=%v", params))
		}
	case *filterProvider:
		parts = append(parts, fmt.Sprintf("filter=%s where=%q", p.section, p.where))
	default:
		parts = append(parts, fmt.Sprintf("provider=%T", p))
	}
	if sec.Provider != nil {
		parts = append(parts, fmt.Sprintf("var=%q", sec.varName()))
	}
	if sec.VarIndex != "" {
		parts = append(parts, fmt.Sprintf("varIndex=%q", sec.VarIndex))
	}
	if sec.Condition != "" {
		parts = append(parts, fmt.Sprintf("condition=%q", sec.Condition))
	}
	if sec.Rows != nil {
		parts = append(parts, "rows="+sec.Rows.String())
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, " ")
}

// describeBlock lists the cells of a block that carry expressions or macros.
func (f *Filler) describeBlock(b *strings.Builder, blk *Block, indent int) {
	if blk == nil {
		return
	}
	prefix := strings.Repeat("  ", indent)
	var exprs, macros []string
	for i, row := range blk.Rows {
		for _, c := range row.Cells {
			ref := NewCellRef("", blk.FirstRow-1+i, c.Col).CellName()
			switch {
			case c.Macro != nil:
				macros = append(macros, fmt.Sprintf("%s  %s: %s", prefix, ref, c.Macro))
			case c.Formula != "" && strings.Contains(c.Formula, f.opts.notationBegin):
				exprs = append(exprs, fmt.Sprintf("%s  %s: =%s", prefix, ref, c.Formula))
			case c.Type == CellString:
				if s, _ := c.Value.(string); strings.Contains(s, f.opts.notationBegin) {
					exprs = append(exprs, fmt.Sprintf("%s  %s: %s", prefix, ref, s))
				}
			}
		}
	}
	if len(exprs) > 0 {
		fmt.Fprintf(b, "%sExpressions:\n", prefix)
		for _, e := range exprs {
			b.WriteString(e)
			b.WriteByte('\n')
		}
	}
	if len(macros) > 0 {
		fmt.Fprintf(b, "%sMacros:\n", prefix)
		for _, m := range macros {
			b.WriteString(m)
			b.WriteByte('\n')
		}
	}
}
