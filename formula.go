package xlreport

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// DefaultMaxFormulaArgs is the argument ceiling of one function call in
// the xlsx format.
const DefaultMaxFormulaArgs = 255

// LegacyMaxFormulaArgs is the ceiling of older spreadsheet writers.
// Pass it to WithMaxFormulaArgs to produce formulas they accept.
const LegacyMaxFormulaArgs = 30

// refBuilder formats references from the point of view of the sheet the
// formula is written to.
type refBuilder struct {
	prefix string // quoted sheet name and '!', empty for same-sheet references
}

func newRefBuilder(targetSheet, currentSheet string) refBuilder {
	if targetSheet == "" || targetSheet == currentSheet {
		return refBuilder{}
	}
	return refBuilder{prefix: quoteSheet(targetSheet) + "!"}
}

// cell formats a 1-based row of a 0-based column, like "C5".
func (b refBuilder) cell(col, row int) string {
	return b.prefix + ColToName(col) + strconv.Itoa(row)
}

// span formats rows first..last of a column, like "C5:C9". A single row
// is a plain cell reference.
func (b refBuilder) span(col, first, last int) string {
	if first == last {
		return b.cell(col, first)
	}
	return b.prefix + ColToName(col) + strconv.Itoa(first) + ":" + ColToName(col) + strconv.Itoa(last)
}

// rows formats a whole-row range, like "5:9".
func (b refBuilder) rows(first, last int) string {
	return b.prefix + strconv.Itoa(first) + ":" + strconv.Itoa(last)
}

// formulaRefRegex matches a cell reference or a cell range in formula text,
// optionally prefixed with a sheet name.
var formulaRefRegex = regexp.MustCompile(`(?:('[^']*(?:''[^']*)*'|[A-Za-z_][\w.]*)!)?(\$?)([A-Z]{1,3})(\$?)(\d+)(?::(\$?)([A-Z]{1,3})(\$?)(\d+))?`)

// shiftFormula moves relative row references that point into template rows
// first..last by shift rows. Anchored rows, references to other sheets,
// function names and string literals are left alone.
func shiftFormula(formula string, first, last, shift int) string {
	if shift == 0 {
		return formula
	}
	matches := formulaRefRegex.FindAllStringSubmatchIndex(formula, -1)
	if len(matches) == 0 {
		return formula
	}
	quoted := stringLiterals(formula)
	var sb strings.Builder
	prev := 0
	for _, m := range matches {
		if m[2] >= 0 || quoted[m[0]] || !isRefBoundary(formula, m[0], m[1]) {
			continue
		}
		// Row anchor and row digits of each end of the reference.
		for _, g := range [][4]int{{m[8], m[9], m[10], m[11]}, {m[16], m[17], m[18], m[19]}} {
			if g[2] < 0 || g[1] > g[0] {
				continue
			}
			row, err := strconv.Atoi(formula[g[2]:g[3]])
			if err != nil || row < first || row > last {
				continue
			}
			sb.WriteString(formula[prev:g[2]])
			sb.WriteString(strconv.Itoa(row + shift))
			prev = g[3]
		}
	}
	if prev == 0 {
		return formula
	}
	sb.WriteString(formula[prev:])
	return sb.String()
}

// stringLiterals marks the bytes of formula that sit inside double-quoted
// text. A doubled quote inside text toggles twice and stays inside.
func stringLiterals(formula string) []bool {
	in := make([]bool, len(formula))
	inside := false
	for i := 0; i < len(formula); i++ {
		if formula[i] == '"' {
			inside = !inside
		}
		in[i] = inside
	}
	return in
}

// isRefBoundary reports whether formula[start:end] stands alone as a
// reference rather than being part of a name like LOG10 or a call like A1(.
func isRefBoundary(formula string, start, end int) bool {
	if start > 0 && isNameByte(formula[start-1]) {
		return false
	}
	if end < len(formula) {
		if c := formula[end]; isNameByte(c) || c == '(' || c == '!' {
			return false
		}
	}
	return true
}

func isNameByte(c byte) bool {
	return c == '_' || c == '.' || c == '$' ||
		('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// rowSumFormula sums rows first..last of a column. With a stride above 1
// only every stride-th row counts, starting offset rows after first.
func rowSumFormula(b refBuilder, col, first, last, stride, offset int) string {
	rng := b.span(col, first, last)
	if stride <= 1 {
		return "SUM(" + rng + ")"
	}
	return fmt.Sprintf("SUMPRODUCT(ABS(MOD(ROW(%s)-ROW(%s),%d)=%d),%s)",
		b.rows(first, last), b.cell(col, first), stride, offset, rng)
}

// rowRun is a contiguous run of 1-based rows.
type rowRun struct{ first, last int }

// rowRuns merges record blocks starting at the given rows, each height rows
// tall, into contiguous runs. starts must be ascending.
func rowRuns(starts []int, height int) []rowRun {
	if height < 1 {
		height = 1
	}
	var runs []rowRun
	for _, s := range starts {
		e := s + height - 1
		if n := len(runs); n > 0 && runs[n-1].last+1 >= s {
			runs[n-1].last = max(runs[n-1].last, e)
			continue
		}
		runs = append(runs, rowRun{first: s, last: e})
	}
	return runs
}

// aggregateFormula applies fn (SUM, MIN or MAX) to refs without exceeding
// maxArgs arguments per call. Sums beyond the ceiling become an addition
// chain of partial sums; MIN and MAX nest.
func aggregateFormula(fn string, refs []string, maxArgs int) string {
	if maxArgs < 2 {
		maxArgs = 2
	}
	if len(refs) <= maxArgs {
		return fn + "(" + strings.Join(refs, ",") + ")"
	}
	var parts []string
	for chunk := range slices.Chunk(refs, maxArgs) {
		parts = append(parts, fn+"("+strings.Join(chunk, ",")+")")
	}
	if fn == "SUM" {
		return strings.Join(parts, "+")
	}
	return aggregateFormula(fn, parts, maxArgs)
}

// additiveFormula adds single-cell references.
func additiveFormula(refs []string) string {
	return strings.Join(refs, "+")
}

// groupRefs collects the cells an aggregate over a group covers in one
// column. Children with a summary row contribute that cell; the others are
// expanded into their leaf record rows, which merge into ranges when they
// are contiguous.
type groupRefs struct {
	b      refBuilder
	col    int
	height int

	refs   []string
	starts []int
	ranges int // refs that are leaf row ranges
}

func (c *groupRefs) add(g *Group) {
	if len(g.Children) == 0 {
		c.starts = append(c.starts, g.Records...)
		return
	}
	for _, ch := range g.Children {
		if ch.SummaryRow == 0 {
			c.add(ch)
			continue
		}
		c.flush()
		c.refs = append(c.refs, c.b.cell(c.col, ch.SummaryRow))
	}
}

func (c *groupRefs) flush() {
	for _, r := range rowRuns(c.starts, c.height) {
		c.refs = append(c.refs, c.b.span(c.col, r.first, r.last))
		c.ranges++
	}
	c.starts = c.starts[:0]
}

// groupAggregateFormula builds fn over the immediate content of g in col:
// the summary row of every child group, or the leaf record rows where a
// child has no summary row. recordHeight is the row count of one leaf
// record block.
func groupAggregateFormula(b refBuilder, fn string, g *Group, col, recordHeight, maxArgs int) (string, bool) {
	c := &groupRefs{b: b, col: col, height: recordHeight}
	c.add(g)
	c.flush()
	if len(c.refs) == 0 {
		return "", false
	}
	if fn == "SUM" && c.ranges == 0 {
		return additiveFormula(c.refs), true
	}
	return aggregateFormula(fn, c.refs, maxArgs), true
}

// groupCountFormula counts the records of g. Child summary rows are added
// up; records of children without one are counted directly. An empty
// formula means the count is the returned literal.
func groupCountFormula(b refBuilder, g *Group, col int) (string, int) {
	var refs []string
	n := countInto(b, g, col, &refs)
	if len(refs) == 0 {
		return "", n
	}
	if n > 0 {
		refs = append(refs, strconv.Itoa(n))
	}
	return additiveFormula(refs), 0
}

func countInto(b refBuilder, g *Group, col int, refs *[]string) int {
	if len(g.Children) == 0 {
		return g.Count
	}
	n := 0
	for _, ch := range g.Children {
		if ch.SummaryRow == 0 {
			n += countInto(b, ch, col, refs)
			continue
		}
		*refs = append(*refs, b.cell(col, ch.SummaryRow))
	}
	return n
}
