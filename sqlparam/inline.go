package sqlparam

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Dialect selects vendor specific literal syntax for Inline.
type Dialect int

const (
	DialectANSI Dialect = iota
	DialectOracle
	DialectSQLServer
	DialectSQLite
)

const literalTimeLayout = "2006-01-02 15:04:05"

// ParseDialect maps a dialect name to a Dialect. Unknown names map to ANSI.
func ParseDialect(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "oracle":
		return DialectOracle
	case "sqlserver", "mssql":
		return DialectSQLServer
	case "sqlite", "sqlite3":
		return DialectSQLite
	default:
		return DialectANSI
	}
}

// Inline returns the query text with every placeholder replaced by a literal
// rendering of its value. The result is meant for logs and diagnostics only;
// it must never be executed.
func (q Query) Inline(params map[string]any, d Dialect) (string, error) {
	args, err := q.Apply(params)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	state := stateNormal
	runes := []rune(q.text)
	n := 0
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch state {
		case stateNormal:
			switch {
			case c == '?':
				if n >= len(args) {
					return "", fmt.Errorf("query %q has more placeholders than parameters", q.text)
				}
				b.WriteString(literal(args[n], d))
				n++
				continue
			case c == '\'':
				state = stateSingleQuoted
			case c == '"':
				state = stateDoubleQuoted
			case c == '-' && peek(runes, i+1) == '-':
				state = stateLineComment
			case c == '/' && peek(runes, i+1) == '*':
				state = stateBlockComment
				b.WriteRune(c)
				i++
				c = runes[i]
			}
		case stateSingleQuoted:
			if c == '\'' {
				state = stateNormal
			}
		case stateDoubleQuoted:
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
			}
		case stateBlockComment:
			if c == '*' && peek(runes, i+1) == '/' {
				b.WriteRune(c)
				i++
				c = runes[i]
				state = stateNormal
			}
		}
		b.WriteRune(c)
	}
	return b.String(), nil
}

// literal renders a single value as SQL literal text.
func literal(v any, d Dialect) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quote(x)
	case []byte:
		return quote(string(x))
	case bool:
		if d == DialectOracle || d == DialectSQLServer || d == DialectSQLite {
			if x {
				return "1"
			}
			return "0"
		}
		return strings.ToUpper(strconv.FormatBool(x))
	case int:
		return strconv.Itoa(x)
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return dateLiteral(x, d)
	case fmt.Stringer:
		return quote(x.String())
	default:
		return quote(fmt.Sprintf("%v", x))
	}
}

func dateLiteral(t time.Time, d Dialect) string {
	s := t.Format(literalTimeLayout)
	switch d {
	case DialectOracle:
		return "TO_DATE('" + s + "', 'YYYY-MM-DD HH24:MI:SS')"
	case DialectSQLServer:
		return "CONVERT(DATETIME, '" + s + "', 120)"
	case DialectSQLite:
		return "'" + s + "'"
	default:
		return "TIMESTAMP '" + s + "'"
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
