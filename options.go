package xlreport

import (
	"database/sql"
	"io"
	"log/slog"
)

// Options holds configuration for the Filler.
type Options struct {
	templatePath     string
	templateReader   io.Reader
	layout           *Layout
	layoutPath       string
	layoutReader     io.Reader
	notationBegin    string
	notationEnd      string
	evaluator        ExpressionEvaluator
	providers        map[string]Provider
	listeners        map[string]SectionListener
	sectionListeners []SectionListener
	cellListeners    []CellListener
	macros           map[string]Macro
	logger           *slog.Logger
	db               *sql.DB
	maxFormulaArgs   int
	keepTemplate     bool
	hideTemplate     bool
	recalcOnOpen     bool
}

func defaultOptions() *Options {
	return &Options{
		notationBegin: "${",
		notationEnd:   "}",
		providers:     make(map[string]Provider),
		listeners:     make(map[string]SectionListener),
		macros:        make(map[string]Macro),
	}
}

// Option configures the Filler.
type Option func(*Options)

// WithTemplate sets the template file path.
func WithTemplate(path string) Option {
	return func(o *Options) { o.templatePath = path }
}

// WithTemplateReader sets the template as an io.Reader.
func WithTemplateReader(r io.Reader) Option {
	return func(o *Options) { o.templateReader = r }
}

// WithLayout sets an already built layout. Its blocks must have been
// captured from the same template.
func WithLayout(l *Layout) Option {
	return func(o *Options) { o.layout = l }
}

// WithLayoutFile sets the path of a YAML layout description.
func WithLayoutFile(path string) Option {
	return func(o *Options) { o.layoutPath = path }
}

// WithLayoutReader sets a YAML layout description as an io.Reader. The
// reader is consumed by the first fill.
func WithLayoutReader(r io.Reader) Option {
	return func(o *Options) { o.layoutReader = r }
}

// WithExpressionNotation sets the expression delimiters (default: "${", "}").
func WithExpressionNotation(begin, end string) Option {
	return func(o *Options) {
		o.notationBegin = begin
		o.notationEnd = end
	}
}

// WithExpressionEvaluator replaces the expr-lang evaluator.
func WithExpressionEvaluator(ev ExpressionEvaluator) Option {
	return func(o *Options) { o.evaluator = ev }
}

// WithProvider registers a provider a layout refers to by name.
func WithProvider(name string, p Provider) Option {
	return func(o *Options) { o.providers[name] = p }
}

// WithListener registers a section listener a layout refers to by name.
func WithListener(name string, l SectionListener) Option {
	return func(o *Options) { o.listeners[name] = l }
}

// WithSectionListener adds a listener notified at every section and record
// boundary.
func WithSectionListener(l SectionListener) Option {
	return func(o *Options) { o.sectionListeners = append(o.sectionListeners, l) }
}

// WithCellListener adds a listener notified before and after each cell
// is bound.
func WithCellListener(l CellListener) Option {
	return func(o *Options) { o.cellListeners = append(o.cellListeners, l) }
}

// WithMacro registers a custom macro, replacing a built-in of the same name.
func WithMacro(name string, m Macro) Option {
	return func(o *Options) { o.macros[name] = m }
}

// WithLogger sets the logger. Nothing is logged by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.logger = l }
}

// WithDB sets the database SQL row sources run against.
func WithDB(db *sql.DB) Option {
	return func(o *Options) { o.db = db }
}

// WithMaxFormulaArgs overrides the per-function argument ceiling of the
// output document.
func WithMaxFormulaArgs(n int) Option {
	return func(o *Options) { o.maxFormulaArgs = n }
}

// WithKeepTemplateSheet keeps the template sheets in the output.
func WithKeepTemplateSheet(keep bool) Option {
	return func(o *Options) { o.keepTemplate = keep }
}

// WithHideTemplateSheet hides the template sheets instead of deleting them.
func WithHideTemplateSheet(hide bool) Option {
	return func(o *Options) { o.hideTemplate = hide }
}

// WithRecalculateOnOpen tells Excel to recalculate all formulas when the file is opened.
func WithRecalculateOnOpen(recalc bool) Option {
	return func(o *Options) { o.recalcOnOpen = recalc }
}
