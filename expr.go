package xlreport

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExpressionEvaluator evaluates template expressions against a scope.
type ExpressionEvaluator interface {
	Evaluate(expression string, scope map[string]any) (any, error)
	IsConditionTrue(condition string, scope map[string]any) (bool, error)
}

// exprEvaluator implements ExpressionEvaluator using expr-lang/expr.
// Programs are compiled without a typed environment so one cached program
// serves records of any shape.
type exprEvaluator struct {
	cache sync.Map // expression string → *vm.Program
}

// NewExpressionEvaluator creates an evaluator backed by expr-lang/expr.
// It is safe for concurrent use by independent renders.
func NewExpressionEvaluator() ExpressionEvaluator {
	return &exprEvaluator{}
}

func (e *exprEvaluator) Evaluate(expression string, scope map[string]any) (any, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, nil
	}
	program, err := e.compile(expression)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, err)
	}
	result, err := expr.Run(program, scope)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", expression, err)
	}
	return result, nil
}

func (e *exprEvaluator) IsConditionTrue(condition string, scope map[string]any) (bool, error) {
	result, err := e.Evaluate(condition, scope)
	if err != nil {
		return false, err
	}
	if result == nil {
		return false, nil
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q evaluated to %T, expected bool", condition, result)
	}
	return b, nil
}

func (e *exprEvaluator) compile(expression string) (*vm.Program, error) {
	if cached, ok := e.cache.Load(expression); ok {
		return cached.(*vm.Program), nil
	}
	program, err := compileExpression(expression)
	if err != nil {
		return nil, err
	}
	e.cache.Store(expression, program)
	return program, nil
}

func compileExpression(expression string) (*vm.Program, error) {
	return expr.Compile(expression, expr.AllowUndefinedVariables())
}

// ExpressionSegment is a part of a cell value: literal text or an expression.
type ExpressionSegment struct {
	IsExpression bool
	Text         string // literal text, or expression content without delimiters
}

// ParseExpressions splits a value into literal and expression segments.
// "Total: ${o.Total}" → [{false, "Total: "}, {true, "o.Total"}]
func ParseExpressions(value, begin, end string) []ExpressionSegment {
	begin, end = notation(begin, end)
	var segments []ExpressionSegment
	remaining := value
	for {
		start := strings.Index(remaining, begin)
		if start < 0 {
			break
		}
		from := start + len(begin)
		stop := findMatchingEnd(remaining[from:], begin, end)
		if stop < 0 {
			break
		}
		stop += from
		if start > 0 {
			segments = append(segments, ExpressionSegment{Text: remaining[:start]})
		}
		segments = append(segments, ExpressionSegment{IsExpression: true, Text: remaining[from:stop]})
		remaining = remaining[stop+len(end):]
	}
	if remaining != "" {
		segments = append(segments, ExpressionSegment{Text: remaining})
	}
	return segments
}

// findMatchingEnd finds the end delimiter matching an already consumed
// begin delimiter, skipping nested pairs.
func findMatchingEnd(s, begin, end string) int {
	depth := 0
	for i := 0; i <= len(s)-len(end); i++ {
		switch {
		case strings.HasPrefix(s[i:], begin):
			depth++
		case strings.HasPrefix(s[i:], end):
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

// ExtractSingleExpression returns the inner expression of a value made of
// exactly one expression, like "${o.Total}".
func ExtractSingleExpression(value, begin, end string) (string, bool) {
	begin, end = notation(begin, end)
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, begin) || !strings.HasSuffix(trimmed, end) {
		return "", false
	}
	inner := trimmed[len(begin) : len(trimmed)-len(end)]
	if strings.Contains(inner, begin) || findMatchingEnd(inner+end, begin, end) != len(inner) {
		return "", false
	}
	return inner, true
}

func notation(begin, end string) (string, string) {
	if begin == "" || end == "" {
		return "${", "}"
	}
	return begin, end
}
