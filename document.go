package xlreport

// Document is the output backend of a render. Sheets are written strictly
// top to bottom: once a row has been written, it is never revisited.
type Document interface {
	// NewSheet creates an output sheet and returns its row writer. Only
	// one sheet is written at a time.
	NewSheet(spec SheetSpec) (SheetWriter, error)

	// MaxFormulaArgs returns the maximum number of arguments one formula
	// function call accepts.
	MaxFormulaArgs() int
}

// SheetSpec describes an output sheet before its first row is written.
type SheetSpec struct {
	Name         string
	ColumnWidths map[int]float64 // 0-based column → width
	SummaryBelow bool            // outline summary rows sit below their detail rows
}

// SheetWriter appends rows to one output sheet.
type SheetWriter interface {
	// WriteRow writes a 1-based row. Rows must be strictly ascending.
	WriteRow(row int, cells []OutCell, opts RowOptions) error
	// MergeCells merges a range of rows already written or about to be.
	MergeCells(area AreaRef) error
	// Close flushes the sheet.
	Close() error
}

// OutCell is a bound output cell.
type OutCell struct {
	Col     int // 0-based column
	Value   any
	Formula string // formula text without '='; takes precedence over Value
	StyleID int
}

// RowOptions are the row-level properties of a written row.
type RowOptions struct {
	Height       float64 // 0 keeps the sheet default
	Hidden       bool
	OutlineLevel int // 0..7
}

// maxOutlineLevel is the deepest outline level a spreadsheet row supports.
const maxOutlineLevel = 7
