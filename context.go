package xlreport

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Context is the per-render execution state: report variables, record
// variables of the sections being rendered, the current cell position and
// the history of section states by id.
//
// A Context is owned by a single render and is not safe for concurrent use.
type Context struct {
	data          map[string]any
	runVars       map[string]any
	evaluator     ExpressionEvaluator
	notationBegin string
	notationEnd   string

	// Cached merged map for expression evaluation.
	// Invalidated (set to nil) whenever variables change, except for the
	// position variables, which are patched in place.
	cachedMap map[string]any
	version   uint64 // bumped on every invalidation

	ctx     context.Context
	logger  *slog.Logger
	db      *sql.DB
	maxArgs int

	cell    CellRef
	stack   []*SectionState
	history map[string]*SectionState
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithNotation sets custom expression notation delimiters.
func WithNotation(begin, end string) ContextOption {
	return func(c *Context) {
		c.notationBegin = begin
		c.notationEnd = end
	}
}

// WithEvaluator sets a custom expression evaluator.
func WithEvaluator(ev ExpressionEvaluator) ContextOption {
	return func(c *Context) { c.evaluator = ev }
}

// WithContextLogger sets the logger used during the render.
func WithContextLogger(l *slog.Logger) ContextOption {
	return func(c *Context) { c.logger = l }
}

// WithDatabase sets the default database for SQL providers.
func WithDatabase(db *sql.DB) ContextOption {
	return func(c *Context) { c.db = db }
}

// NewContext creates a Context over the report variables in data.
func NewContext(ctx context.Context, data map[string]any, opts ...ContextOption) *Context {
	if data == nil {
		data = make(map[string]any)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c := &Context{
		data:          data,
		runVars:       make(map[string]any),
		evaluator:     NewExpressionEvaluator(),
		notationBegin: "${",
		notationEnd:   "}",
		ctx:           ctx,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxArgs:       DefaultMaxFormulaArgs,
		history:       make(map[string]*SectionState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ctx returns the Go context of the render.
func (c *Context) Ctx() context.Context { return c.ctx }

// Logger returns the render logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// DB returns the default database, or nil.
func (c *Context) DB() *sql.DB { return c.db }

// MaxFormulaArgs returns the formula argument ceiling of the output document.
func (c *Context) MaxFormulaArgs() int { return c.maxArgs }

// GetVar returns a variable value. Record variables shadow report variables.
func (c *Context) GetVar(name string) any {
	if v, ok := c.runVars[name]; ok {
		return v
	}
	return c.data[name]
}

// PutVar sets a report variable.
func (c *Context) PutVar(name string, value any) {
	c.data[name] = value
	c.invalidateCache()
}

// RemoveVar removes a report variable.
func (c *Context) RemoveVar(name string) {
	delete(c.data, name)
	c.invalidateCache()
}

// ContainsVar reports whether name is bound as a record or report variable.
func (c *Context) ContainsVar(name string) bool {
	if _, ok := c.runVars[name]; ok {
		return true
	}
	_, ok := c.data[name]
	return ok
}

// Lookup resolves a parameter name: first as a field of the records being
// rendered, innermost section first, then as a variable.
func (c *Context) Lookup(name string) (any, bool) {
	for i := len(c.stack) - 1; i >= 0; i-- {
		if rec := c.stack[i].Record; rec != nil {
			if v, ok := fieldValue(rec, name); ok {
				return v, true
			}
		}
	}
	if c.ContainsVar(name) {
		return c.GetVar(name), true
	}
	return nil, false
}

// ToMap returns the merged scope: report variables overridden by record
// variables. The result is cached until a variable other than _row or
// _col changes.
func (c *Context) ToMap() map[string]any {
	if c.cachedMap != nil {
		return c.cachedMap
	}
	m := make(map[string]any, len(c.data)+len(c.runVars))
	for k, v := range c.data {
		m[k] = v
	}
	for k, v := range c.runVars {
		m[k] = v
	}
	c.cachedMap = m
	return m
}

func (c *Context) invalidateCache() {
	c.cachedMap = nil
	c.version++
}

// positionVars are updated for every cell and never invalidate the scope.
var positionVars = [...]string{"_row", "_col"}

func (c *Context) setPositionVar(name string, value any) {
	c.runVars[name] = value
	if c.cachedMap != nil {
		c.cachedMap[name] = value
	}
}

// scopeOverlay is a private copy of the merged scope that callers can add
// variables to. The copy is taken again only when the scope is
// invalidated.
type scopeOverlay struct {
	ec      *Context
	version uint64
	m       map[string]any
}

func (o *scopeOverlay) scope() map[string]any {
	if o.m == nil || o.version != o.ec.version {
		o.m = maps.Clone(o.ec.ToMap())
		o.version = o.ec.version
	}
	for _, name := range positionVars {
		if v, ok := o.ec.runVars[name]; ok {
			o.m[name] = v
		}
	}
	return o.m
}

// Evaluate evaluates an expression against the merged scope.
func (c *Context) Evaluate(expression string) (any, error) {
	return c.evaluator.Evaluate(expression, c.ToMap())
}

// IsConditionTrue evaluates a boolean condition.
func (c *Context) IsConditionTrue(condition string) (bool, error) {
	return c.evaluator.IsConditionTrue(condition, c.ToMap())
}

// EvaluateCellValue evaluates a cell value with embedded expressions.
// A value that is a single expression keeps the result's type; mixed
// content always yields a string.
func (c *Context) EvaluateCellValue(value string) (any, CellType, error) {
	if exprStr, ok := ExtractSingleExpression(value, c.notationBegin, c.notationEnd); ok {
		result, err := c.Evaluate(exprStr)
		if err != nil {
			return nil, CellBlank, err
		}
		return result, inferCellType(result), nil
	}
	text, err := c.expandText(value)
	if err != nil {
		return nil, CellBlank, err
	}
	return text, CellString, nil
}

// expandText replaces every embedded expression by its text form.
func (c *Context) expandText(value string) (string, error) {
	segments := ParseExpressions(value, c.notationBegin, c.notationEnd)
	var b strings.Builder
	for _, seg := range segments {
		if !seg.IsExpression {
			b.WriteString(seg.Text)
			continue
		}
		val, err := c.Evaluate(seg.Text)
		if err != nil {
			return "", err
		}
		if val != nil {
			fmt.Fprint(&b, val)
		}
	}
	return b.String(), nil
}

// hasExpression reports whether value contains the begin delimiter.
func (c *Context) hasExpression(value string) bool {
	return strings.Contains(value, c.notationBegin)
}

// inferCellType determines the CellType of a Go value.
func inferCellType(v any) CellType {
	switch v.(type) {
	case nil:
		return CellBlank
	case bool:
		return CellBoolean
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, decimal.Decimal:
		return CellNumber
	case time.Time:
		return CellDate
	default:
		return CellString
	}
}

// Cell returns the position of the cell being rendered.
func (c *Context) Cell() CellRef { return c.cell }

// Sheet returns the name of the output sheet being rendered.
func (c *Context) Sheet() string { return c.cell.Sheet }

// setCell moves the current position and exposes it as _row (1-based)
// and _col (0-based).
func (c *Context) setCell(ref CellRef) {
	c.cell = ref
	c.setPositionVar("_row", ref.Row+1)
	c.setPositionVar("_col", ref.Col)
}

// Section returns the latest state of the section with the given id.
func (c *Context) Section(id string) (*SectionState, bool) {
	st, ok := c.history[id]
	return st, ok
}

// CurrentSection returns the innermost section being rendered, or nil.
func (c *Context) CurrentSection() *SectionState {
	if len(c.stack) == 0 {
		return nil
	}
	return c.stack[len(c.stack)-1]
}

// Sections returns the sections being rendered, outermost first.
func (c *Context) Sections() []*SectionState { return slices.Clone(c.stack) }

// ancestor returns the innermost section on the stack with the given id.
func (c *Context) ancestor(id string) *SectionState {
	for i := len(c.stack) - 1; i >= 0; i-- {
		if c.stack[i].Section.ID == id {
			return c.stack[i]
		}
	}
	return nil
}

func (c *Context) push(st *SectionState) {
	c.stack = append(c.stack, st)
	c.history[st.Section.ID] = st
}

func (c *Context) pop() {
	c.stack[len(c.stack)-1] = nil
	c.stack = c.stack[:len(c.stack)-1]
}

func (c *Context) setRunVar(name string, value any) {
	c.runVars[name] = value
	c.invalidateCache()
}

func (c *Context) removeRunVar(name string) {
	delete(c.runVars, name)
	c.invalidateCache()
}

// RunVar manages scoped record variables with save/restore.
// Use with defer: rv := NewRunVar(ec, "o"); defer rv.Close()
type RunVar struct {
	ctx      *Context
	varName  string
	oldValue any
	hadOld   bool
	idxName  string
	oldIdx   any
	hadIdx   bool
}

// NewRunVar creates a RunVar for a single variable.
func NewRunVar(ctx *Context, varName string) *RunVar {
	rv := &RunVar{ctx: ctx, varName: varName}
	if old, ok := ctx.runVars[varName]; ok {
		rv.oldValue = old
		rv.hadOld = true
	}
	return rv
}

// NewRunVarWithIndex creates a RunVar for a variable and its index.
func NewRunVarWithIndex(ctx *Context, varName, idxName string) *RunVar {
	rv := NewRunVar(ctx, varName)
	rv.idxName = idxName
	if idxName == "" {
		return rv
	}
	if old, ok := ctx.runVars[idxName]; ok {
		rv.oldIdx = old
		rv.hadIdx = true
	}
	return rv
}

// Set sets the variable value.
func (rv *RunVar) Set(value any) {
	rv.ctx.setRunVar(rv.varName, value)
}

// SetWithIndex sets the variable and, when configured, its index.
func (rv *RunVar) SetWithIndex(value any, index int) {
	rv.ctx.setRunVar(rv.varName, value)
	if rv.idxName != "" {
		rv.ctx.setRunVar(rv.idxName, index)
	}
}

// Close restores the previous values.
func (rv *RunVar) Close() {
	if rv.hadOld {
		rv.ctx.setRunVar(rv.varName, rv.oldValue)
	} else {
		rv.ctx.removeRunVar(rv.varName)
	}
	if rv.idxName != "" {
		if rv.hadIdx {
			rv.ctx.setRunVar(rv.idxName, rv.oldIdx)
		} else {
			rv.ctx.removeRunVar(rv.idxName)
		}
	}
}
