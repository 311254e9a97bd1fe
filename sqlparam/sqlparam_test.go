package sqlparam

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		want   string
		params []string
	}{
		{
			name: "no placeholders",
			sql:  "SELECT a, b FROM t WHERE a = 1",
			want: "SELECT a, b FROM t WHERE a = 1",
		},
		{
			name:   "colon placeholder",
			sql:    "SELECT * FROM t WHERE id = :id",
			want:   "SELECT * FROM t WHERE id = ?",
			params: []string{"id"},
		},
		{
			name:   "ampersand placeholder",
			sql:    "SELECT * FROM t WHERE id=&id AND name=&name",
			want:   "SELECT * FROM t WHERE id=? AND name=?",
			params: []string{"id", "name"},
		},
		{
			name:   "literal untouched",
			sql:    "SELECT '&x' FROM t WHERE a=:b",
			want:   "SELECT '&x' FROM t WHERE a=?",
			params: []string{"b"},
		},
		{
			name:   "double quoted identifier untouched",
			sql:    `SELECT "a:b" FROM t WHERE c = :c`,
			want:   `SELECT "a:b" FROM t WHERE c = ?`,
			params: []string{"c"},
		},
		{
			name:   "line comment untouched",
			sql:    "SELECT 1 -- where x = :x\nFROM t WHERE y = :y",
			want:   "SELECT 1 -- where x = :x\nFROM t WHERE y = ?",
			params: []string{"y"},
		},
		{
			name:   "block comment untouched",
			sql:    "SELECT /* :skip &skip */ a FROM t WHERE b = :b",
			want:   "SELECT /* :skip &skip */ a FROM t WHERE b = ?",
			params: []string{"b"},
		},
		{
			name:   "duplicates preserved",
			sql:    "WHERE a = :v OR b = :v",
			want:   "WHERE a = ? OR b = ?",
			params: []string{"v", "v"},
		},
		{
			name:   "name at end of input",
			sql:    "WHERE a=:last_value1",
			want:   "WHERE a=?",
			params: []string{"last_value1"},
		},
		{
			name: "preceding identifier character",
			sql:  "SELECT a&b, x:y FROM t",
			want: "SELECT a&b, x:y FROM t",
		},
		{
			name: "digit after colon is not a placeholder",
			sql:  "SELECT '12:30', 12 :1 FROM t",
			want: "SELECT '12:30', 12 :1 FROM t",
		},
		{
			name:   "terminator reprocessed",
			sql:    "VALUES (:a,:b)",
			want:   "VALUES (?,?)",
			params: []string{"a", "b"},
		},
		{
			name:   "terminator opens literal",
			sql:    "WHERE a = :a||'x:y'",
			want:   "WHERE a = ?||'x:y'",
			params: []string{"a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Transform(tt.sql)
			assert.Equal(t, tt.want, q.Text())
			if tt.params == nil {
				assert.Empty(t, q.Params())
			} else {
				assert.Equal(t, tt.params, q.Params())
			}
		})
	}
}

func TestTransform_ParamCountMatchesPlaceholders(t *testing.T) {
	for _, sql := range []string{
		"SELECT :a, :b, '?' FROM t",
		"UPDATE t SET a = &a WHERE b = :b AND c = :a",
		"SELECT 1",
	} {
		q := Transform(sql)
		outside := 0
		inLiteral := false
		for _, r := range q.Text() {
			switch {
			case r == '\'':
				inLiteral = !inLiteral
			case r == '?' && !inLiteral:
				outside++
			}
		}
		assert.Len(t, q.Params(), outside, sql)
	}
}

func TestQuery_Equal(t *testing.T) {
	a := Transform("SELECT * FROM t WHERE id = :id")
	b := Transform("SELECT * FROM t WHERE id = &id")
	c := Transform("SELECT * FROM t WHERE id = :other")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestQuery_ParamsIsCopy(t *testing.T) {
	q := Transform("WHERE a = :a")
	p := q.Params()
	p[0] = "changed"
	assert.Equal(t, []string{"a"}, q.Params())
}

func TestApply(t *testing.T) {
	q := Transform("SELECT * FROM t WHERE a = :a AND b = :b AND c = :a")

	args, err := q.Apply(map[string]any{"a": 1, "b": nil, "unused": "x"})
	require.NoError(t, err)
	assert.Equal(t, []any{1, nil, 1}, args)
}

func TestApply_MissingParameter(t *testing.T) {
	q := Transform("SELECT * FROM t WHERE a = :a AND b = :b")

	_, err := q.Apply(map[string]any{"a": 1, "c": 3, "d": 4})
	require.Error(t, err)

	var missing *MissingParameterError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "b", missing.Name)
}

func TestInline(t *testing.T) {
	q := Transform("SELECT '?' FROM t /* ? */ WHERE a = :a AND b = :b AND c = :c AND d = :d -- ?\n AND e = :e")
	when := time.Date(2024, 3, 1, 13, 45, 0, 0, time.UTC)
	params := map[string]any{
		"a": "O'Brien",
		"b": 42,
		"c": when,
		"d": decimal.RequireFromString("10.50"),
		"e": nil,
	}

	got, err := q.Inline(params, DialectANSI)
	require.NoError(t, err)
	assert.Equal(t, "SELECT '?' FROM t /* ? */ WHERE a = 'O''Brien' AND b = 42 AND c = TIMESTAMP '2024-03-01 13:45:00' AND d = 10.5 -- ?\n AND e = NULL", got)

	got, err = q.Inline(params, DialectOracle)
	require.NoError(t, err)
	assert.Contains(t, got, "c = TO_DATE('2024-03-01 13:45:00', 'YYYY-MM-DD HH24:MI:SS')")
}

func TestInline_MissingParameter(t *testing.T) {
	q := Transform("SELECT * FROM t WHERE a = :a")
	_, err := q.Inline(map[string]any{}, DialectSQLite)
	var missing *MissingParameterError
	assert.ErrorAs(t, err, &missing)
}

func TestParseDialect(t *testing.T) {
	assert.Equal(t, DialectOracle, ParseDialect("Oracle"))
	assert.Equal(t, DialectSQLServer, ParseDialect("mssql"))
	assert.Equal(t, DialectSQLite, ParseDialect("sqlite3"))
	assert.Equal(t, DialectANSI, ParseDialect("postgres"))
}
