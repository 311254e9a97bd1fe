package xlreport

import (
	"fmt"
	"regexp"
	"strings"
)

// MacroCall is a parsed macro invocation, written in a template cell as
// @name(arg1, "arg, 2", ...).
type MacroCall struct {
	Name string
	Args []string
	Text string // original cell text
}

func (m *MacroCall) String() string { return m.Text }

// Arg returns the i-th argument, or "" when absent.
func (m *MacroCall) Arg(i int) string {
	if i < len(m.Args) {
		return m.Args[i]
	}
	return ""
}

var macroPattern = regexp.MustCompile(`^@([A-Za-z_]\w*)\s*\((.*)\)$`)

// IsMacro reports whether a cell value is written as a macro invocation.
func IsMacro(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "@")
}

// ParseMacroCall parses a macro invocation. Values that do not start with
// '@' are not macros and return nil without error.
func ParseMacroCall(value string) (*MacroCall, error) {
	text := strings.TrimSpace(value)
	if !strings.HasPrefix(text, "@") {
		return nil, nil
	}
	m := macroPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("invalid macro call %q", text)
	}
	args, err := splitArgs(m[2])
	if err != nil {
		return nil, fmt.Errorf("invalid macro call %q: %w", text, err)
	}
	return &MacroCall{Name: m[1], Args: args, Text: text}, nil
}

// splitArgs splits an argument list on commas outside quotes. Quotes around
// an argument are removed; the closing quote must match the opening one.
func splitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var args []string
	var cur strings.Builder
	var closeQuote rune
	inQuote := false
	for _, r := range s {
		switch {
		case inQuote:
			if r == closeQuote {
				inQuote = false
				continue
			}
			cur.WriteRune(r)
		case isQuote(r):
			inQuote = true
			closeQuote = matchingCloseQuote(r)
		case r == ',':
			args = append(args, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	return append(args, strings.TrimSpace(cur.String())), nil
}

// isQuote checks if a rune is a recognized quote character.
func isQuote(r rune) bool {
	return r == '"' || r == '\'' || r == '“' || r == '”' || r == '‘' || r == '’'
}

// matchingCloseQuote returns the closing quote for a given opening quote.
func matchingCloseQuote(open rune) rune {
	switch open {
	case '“': // left double smart quote
		return '”'
	case '‘': // left single smart quote
		return '’'
	default:
		return open
	}
}
