package xlreport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

// Filler renders reports from a template workbook and a layout.
// A Filler may be used by several goroutines as long as each fill has its
// own data and output.
type Filler struct {
	opts   *Options
	macros *MacroRegistry
}

// NewFiller creates a Filler with the given options.
func NewFiller(opts ...Option) *Filler {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	reg := NewMacroRegistry()
	for name, m := range o.macros {
		reg.Register(name, m)
	}
	return &Filler{opts: o, macros: reg}
}

// Fill renders a template file with a layout file and writes the report to
// outputPath.
func Fill(ctx context.Context, templatePath, layoutPath, outputPath string, data map[string]any, opts ...Option) error {
	allOpts := append([]Option{WithTemplate(templatePath), WithLayoutFile(layoutPath)}, opts...)
	return NewFiller(allOpts...).Fill(ctx, data, outputPath)
}

// FillBytes renders a template file with a layout file and returns the report.
func FillBytes(ctx context.Context, templatePath, layoutPath string, data map[string]any, opts ...Option) ([]byte, error) {
	allOpts := append([]Option{WithTemplate(templatePath), WithLayoutFile(layoutPath)}, opts...)
	return NewFiller(allOpts...).FillBytes(ctx, data)
}

// FillReader renders a template read from template with the layout read
// from layout and writes the report to output.
func FillReader(ctx context.Context, template, layout io.Reader, output io.Writer, data map[string]any, opts ...Option) error {
	allOpts := append([]Option{WithTemplateReader(template), WithLayoutReader(layout)}, opts...)
	return NewFiller(allOpts...).FillWriter(ctx, data, output)
}

// Fill renders the report and writes it to outputPath. The file is removed
// when rendering fails.
func (f *Filler) Fill(ctx context.Context, data map[string]any, outputPath string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file %q: %w", outputPath, err)
	}
	defer out.Close()

	if err := f.FillWriter(ctx, data, out); err != nil {
		out.Close()
		os.Remove(outputPath)
		return err
	}
	return out.Close()
}

// FillBytes renders the report and returns it as bytes.
func (f *Filler) FillBytes(ctx context.Context, data map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.FillWriter(ctx, data, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FillWriter renders the report and writes it to w. Nothing is written to w
// unless the whole render succeeds.
func (f *Filler) FillWriter(ctx context.Context, data map[string]any, w io.Writer) error {
	wb, err := f.openTemplate()
	if err != nil {
		return err
	}
	defer wb.Close()

	layout, err := f.loadLayout(wb)
	if err != nil {
		return err
	}
	templates, err := moveTemplateSheets(wb, layout)
	if err != nil {
		return err
	}

	doc := &excelDocument{f: wb.File(), maxArgs: DefaultMaxFormulaArgs}
	if f.opts.maxFormulaArgs > 0 {
		doc.maxArgs = f.opts.maxFormulaArgs
	}
	if _, err := f.Render(ctx, layout, doc, data); err != nil {
		return err
	}
	if err := f.finishWorkbook(wb.File(), templates, doc.sheets); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := wb.File().Write(&buf); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// Render renders every sheet of layout into doc. Sheets are rendered in
// layout order; section history spans sheets, so later sheets may refer
// to sections of earlier ones.
func (f *Filler) Render(ctx context.Context, layout *Layout, doc Document, data map[string]any) (RenderStats, error) {
	var stats RenderStats
	if err := layout.Check(); err != nil {
		return stats, err
	}
	ec := f.newContext(ctx, data)
	if n := doc.MaxFormulaArgs(); n > 0 {
		ec.maxArgs = n
	}
	start := time.Now()

	for _, sh := range layout.Sheets {
		out, err := doc.NewSheet(SheetSpec{
			Name:         sh.Name,
			ColumnWidths: sh.ColumnWidths,
			SummaryBelow: summaryBelow(sh),
		})
		if err != nil {
			return stats, &ReportProcessingError{Sheet: sh.Name, Err: err}
		}
		r := &renderer{
			ec:        ec,
			sheet:     sh,
			out:       out,
			macros:    f.macros,
			cells:     f.opts.cellListeners,
			listeners: f.opts.sectionListeners,
			stats:     &stats,
		}
		err = r.renderSheet()
		cerr := out.Close()
		if err != nil {
			if cerr != nil {
				ec.Logger().Warn("close sheet after failure", "sheet", sh.Name, "error", cerr)
				var rpe *ReportProcessingError
				if errors.As(err, &rpe) {
					rpe.Suppressed = append(rpe.Suppressed, cerr)
				}
			}
			return stats, err
		}
		if cerr != nil {
			return stats, &ReportProcessingError{Sheet: sh.Name, Err: fmt.Errorf("close sheet: %w", cerr)}
		}
		stats.Sheets++
		ec.Logger().Debug("sheet rendered", "sheet", sh.Name, "rows", r.row)
	}

	ec.Logger().Info("report rendered",
		"sheets", stats.Sheets,
		"rows", stats.Rows,
		"records", stats.Records,
		"duration", time.Since(start))
	return stats, nil
}

func (f *Filler) newContext(ctx context.Context, data map[string]any) *Context {
	var opts []ContextOption
	if f.opts.notationBegin != "${" || f.opts.notationEnd != "}" {
		opts = append(opts, WithNotation(f.opts.notationBegin, f.opts.notationEnd))
	}
	if f.opts.evaluator != nil {
		opts = append(opts, WithEvaluator(f.opts.evaluator))
	}
	if f.opts.logger != nil {
		opts = append(opts, WithContextLogger(f.opts.logger))
	}
	if f.opts.db != nil {
		opts = append(opts, WithDatabase(f.opts.db))
	}
	return NewContext(ctx, data, opts...)
}

// openTemplate opens the template from file path or reader.
func (f *Filler) openTemplate() (*Workbook, error) {
	if f.opts.templateReader != nil {
		return OpenWorkbookReader(f.opts.templateReader)
	}
	if f.opts.templatePath != "" {
		return OpenWorkbook(f.opts.templatePath)
	}
	return nil, fmt.Errorf("no template specified: use WithTemplate or WithTemplateReader")
}

func (f *Filler) bindings() *Bindings {
	return &Bindings{Providers: f.opts.providers, Listeners: f.opts.listeners}
}

// loadLayout returns the configured layout, loading its description
// against wb when needed.
func (f *Filler) loadLayout(wb *Workbook) (*Layout, error) {
	switch {
	case f.opts.layout != nil:
		return f.opts.layout, nil
	case f.opts.layoutReader != nil:
		return LoadLayout(f.opts.layoutReader, wb, f.bindings())
	case f.opts.layoutPath != "":
		return LoadLayoutFile(f.opts.layoutPath, wb, f.bindings())
	}
	return nil, fmt.Errorf("no layout specified: use WithLayout, WithLayoutFile or WithLayoutReader")
}

// moveTemplateSheets renames template sheets whose names are taken by an
// output sheet and returns the current names of all template sheets.
func moveTemplateSheets(wb *Workbook, layout *Layout) ([]string, error) {
	outputs := make(map[string]bool)
	for _, sh := range layout.Sheets {
		outputs[sh.Name] = true
	}
	seen := make(map[string]bool)
	var templates []string
	for _, sh := range layout.Sheets {
		name := sh.TemplateSheet()
		if seen[name] || !wb.HasSheet(name) {
			continue
		}
		seen[name] = true
		if outputs[name] {
			moved := freeSheetName(wb, outputs, name)
			if err := wb.File().SetSheetName(name, moved); err != nil {
				return nil, fmt.Errorf("rename template sheet %q: %w", name, err)
			}
			name = moved
		}
		templates = append(templates, name)
	}
	return templates, nil
}

func freeSheetName(wb *Workbook, taken map[string]bool, base string) string {
	for i := 1; ; i++ {
		suffix := []rune("_tpl" + strconv.Itoa(i))
		head := []rune(SafeSheetName(base))
		if len(head)+len(suffix) > 31 {
			head = head[:31-len(suffix)]
		}
		name := string(head) + string(suffix)
		if !taken[name] && !wb.HasSheet(name) {
			return name
		}
	}
}

// finishWorkbook removes or hides the template sheets and activates the
// first output sheet.
func (f *Filler) finishWorkbook(file *excelize.File, templates, outputs []string) error {
	if !f.opts.keepTemplate {
		if f.opts.hideTemplate {
			// excelize leaves a selected sheet visible
			activateFirst(file, outputs)
		}
		for _, name := range templates {
			var err error
			if f.opts.hideTemplate {
				err = file.SetSheetVisible(name, false)
			} else {
				err = file.DeleteSheet(name)
			}
			if err != nil {
				return fmt.Errorf("remove template sheet %q: %w", name, err)
			}
		}
	}
	activateFirst(file, outputs)
	if f.opts.recalcOnOpen {
		full := true
		if err := file.SetCalcProps(&excelize.CalcPropsOptions{FullCalcOnLoad: &full}); err != nil {
			return fmt.Errorf("set calc properties: %w", err)
		}
	}
	return nil
}

func activateFirst(file *excelize.File, sheets []string) {
	if len(sheets) == 0 {
		return
	}
	if idx, err := file.GetSheetIndex(sheets[0]); err == nil && idx >= 0 {
		file.SetActiveSheet(idx)
	}
}
