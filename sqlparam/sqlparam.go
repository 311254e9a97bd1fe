// Package sqlparam rewrites SQL text that uses named placeholders
// (":name" or "&name") into positional "?" form and binds values to it.
package sqlparam

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
)

// Query is a canonicalized SQL statement: positional text plus the ordered
// list of parameter names, one per "?" placeholder. Duplicates are kept.
type Query struct {
	text   string
	params []string
}

// MissingParameterError reports a placeholder name with no entry in the
// parameter map. A present nil value is not an error.
type MissingParameterError struct {
	Name  string
	Query string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing parameter %q for query %q", e.Name, e.Query)
}

// scanState is the state of the placeholder scanner.
type scanState int

const (
	stateNormal scanState = iota
	stateSingleQuoted
	stateDoubleQuoted
	stateLineComment
	stateBlockComment
	stateParamName
)

// Transform scans sql left to right and replaces every placeholder found in
// normal text with "?". Quoted literals and comments are copied untouched.
//
// A placeholder is '&' or ':' immediately followed by an identifier start
// character, where the preceding character is not an identifier part.
func Transform(sql string) Query {
	var (
		out   strings.Builder
		name  strings.Builder
		names []string
		state = stateNormal
	)
	runes := []rune(sql)
	out.Grow(len(sql))

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch state {
		case stateParamName:
			if isIdentPart(c) {
				name.WriteRune(c)
				continue
			}
			names = append(names, name.String())
			name.Reset()
			out.WriteByte('?')
			state = stateNormal
			i-- // reprocess the terminator in normal state

		case stateNormal:
			switch {
			case c == '\'':
				state = stateSingleQuoted
				out.WriteRune(c)
			case c == '"':
				state = stateDoubleQuoted
				out.WriteRune(c)
			case c == '-' && peek(runes, i+1) == '-':
				state = stateLineComment
				out.WriteString("--")
				i++
			case c == '/' && peek(runes, i+1) == '*':
				state = stateBlockComment
				out.WriteString("/*")
				i++
			case (c == ':' || c == '&') && isIdentStart(peek(runes, i+1)) && (i == 0 || !isIdentPart(runes[i-1])):
				state = stateParamName
			default:
				out.WriteRune(c)
			}

		case stateSingleQuoted:
			out.WriteRune(c)
			if c == '\'' {
				state = stateNormal
			}

		case stateDoubleQuoted:
			out.WriteRune(c)
			if c == '"' {
				state = stateNormal
			}

		case stateLineComment:
			out.WriteRune(c)
			if c == '\n' {
				state = stateNormal
			}

		case stateBlockComment:
			out.WriteRune(c)
			if c == '*' && peek(runes, i+1) == '/' {
				out.WriteRune('/')
				i++
				state = stateNormal
			}
		}
	}
	if state == stateParamName {
		names = append(names, name.String())
		out.WriteByte('?')
	}
	return Query{text: out.String(), params: names}
}

func peek(runes []rune, i int) rune {
	if i < len(runes) {
		return runes[i]
	}
	return 0
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '$'
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

// Text returns the positional SQL text.
func (q Query) Text() string { return q.text }

// Params returns a copy of the ordered parameter names.
func (q Query) Params() []string { return slices.Clone(q.params) }

// String returns the positional SQL text.
func (q Query) String() string { return q.text }

// Equal reports whether two queries have the same text and parameter list.
func (q Query) Equal(other Query) bool {
	return q.text == other.text && slices.Equal(q.params, other.params)
}

// Apply binds params to the positional slots in placeholder order.
func (q Query) Apply(params map[string]any) ([]any, error) {
	return q.ApplyFunc(func(name string) (any, bool) {
		v, ok := params[name]
		return v, ok
	})
}

// ApplyFunc binds values produced by lookup to the positional slots.
// lookup reports false when a name has no value at all.
func (q Query) ApplyFunc(lookup func(name string) (any, bool)) ([]any, error) {
	args := make([]any, len(q.params))
	for i, name := range q.params {
		v, ok := lookup(name)
		if !ok {
			return nil, &MissingParameterError{Name: name, Query: q.text}
		}
		args[i] = v
	}
	return args, nil
}
