package xlreport

import (
	"fmt"
	"strconv"
	"strings"
)

// CellRef is a single cell position. Row and Col are 0-based.
type CellRef struct {
	Sheet string // empty means the current sheet
	Row   int
	Col   int
}

// NewCellRef creates a CellRef with explicit sheet, row, col.
func NewCellRef(sheet string, row, col int) CellRef {
	return CellRef{Sheet: sheet, Row: row, Col: col}
}

// ParseCellRef parses a reference such as "A1", "$B$5" or "'My Sheet'!C3".
func ParseCellRef(s string) (CellRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CellRef{}, fmt.Errorf("empty cell reference")
	}
	var sheet string
	cell := s
	if idx := strings.LastIndex(s, "!"); idx >= 0 {
		sheet = strings.Trim(s[:idx], "'")
		cell = s[idx+1:]
	}
	cell = strings.ReplaceAll(cell, "$", "")

	i := 0
	for i < len(cell) && isLetter(cell[i]) {
		i++
	}
	if i == 0 || i == len(cell) {
		return CellRef{}, fmt.Errorf("invalid cell reference %q", s)
	}
	col, err := NameToCol(cell[:i])
	if err != nil {
		return CellRef{}, fmt.Errorf("invalid cell reference %q: %w", s, err)
	}
	row, err := strconv.Atoi(cell[i:])
	if err != nil || row < 1 {
		return CellRef{}, fmt.Errorf("invalid row in cell reference %q", s)
	}
	return CellRef{Sheet: sheet, Row: row - 1, Col: col}, nil
}

func isLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// String formats the reference as "Sheet1!A1", or "A1" without a sheet.
func (c CellRef) String() string {
	if c.Sheet != "" {
		return quoteSheet(c.Sheet) + "!" + c.CellName()
	}
	return c.CellName()
}

// CellName returns the cell part only, like "A1".
func (c CellRef) CellName() string {
	return ColToName(c.Col) + strconv.Itoa(c.Row+1)
}

// ColToName converts a 0-based column index to letters.
// 0→"A", 25→"Z", 26→"AA", 702→"AAA"
func ColToName(col int) string {
	var buf [8]byte
	i := len(buf)
	for col++; col > 0; col = (col - 1) / 26 {
		i--
		buf[i] = byte('A' + (col-1)%26)
	}
	return string(buf[i:])
}

// NameToCol converts column letters to a 0-based index.
// "A"→0, "Z"→25, "AA"→26
func NameToCol(name string) (int, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return 0, fmt.Errorf("empty column name")
	}
	col := 0
	for _, ch := range name {
		if ch < 'A' || ch > 'Z' {
			return 0, fmt.Errorf("invalid column name %q", name)
		}
		col = col*26 + int(ch-'A') + 1
	}
	return col - 1, nil
}

// AreaRef is a rectangular range between two cells, inclusive.
type AreaRef struct {
	First CellRef
	Last  CellRef
}

// ParseAreaRef parses "A1:C5" or "Sheet1!A1:C5".
func ParseAreaRef(s string) (AreaRef, error) {
	first, last, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return AreaRef{}, fmt.Errorf("invalid area reference (missing ':'): %q", s)
	}
	a, err := ParseCellRef(first)
	if err != nil {
		return AreaRef{}, fmt.Errorf("invalid area reference %q: %w", s, err)
	}
	b, err := ParseCellRef(last)
	if err != nil {
		return AreaRef{}, fmt.Errorf("invalid area reference %q: %w", s, err)
	}
	if b.Sheet == "" {
		b.Sheet = a.Sheet
	}
	return AreaRef{First: a, Last: b}, nil
}

// String formats the area as "A1:C5", prefixed with the sheet when set.
func (a AreaRef) String() string {
	r := a.First.CellName() + ":" + a.Last.CellName()
	if a.First.Sheet != "" {
		return quoteSheet(a.First.Sheet) + "!" + r
	}
	return r
}

// Offset returns the area moved down by rows.
func (a AreaRef) Offset(rows int) AreaRef {
	a.First.Row += rows
	a.Last.Row += rows
	return a
}

// quoteSheet quotes a sheet name for use inside a formula when needed.
func quoteSheet(name string) string {
	plain := name != ""
	for _, r := range name {
		if !(r == '_' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			plain = false
			break
		}
	}
	if plain && !isLetter(name[0]) {
		plain = false
	}
	if plain {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// SafeSheetName replaces characters Excel forbids in sheet names ([]*?/\:)
// with '_' and truncates to 31 characters.
func SafeSheetName(name string) string {
	runes := []rune(strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?[]`, r) {
			return '_'
		}
		return r
	}, name))
	if len(runes) > 31 {
		runes = runes[:31]
	}
	return string(runes)
}
