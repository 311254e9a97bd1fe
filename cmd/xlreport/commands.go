package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/javajack/xlreport"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"
)

// exitError carries a process exit code for failures that were already reported.
type exitError struct {
	Code    int
	Message string
}

func (e *exitError) Error() string { return e.Message }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

type globalFlags struct {
	logLevel  string
	logFormat string
}

type inputFlags struct {
	template string
	layout   string
	db       string
}

func (in *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&in.template, "template", "t", "", "xlsx template workbook")
	cmd.Flags().StringVarP(&in.layout, "layout", "l", "", "YAML layout describing sheets and sections")
	cmd.Flags().StringVar(&in.db, "db", "", "sqlite database for sql sections (file path or DSN)")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("layout")
}

// options opens the database when one is configured. The returned close
// function is never nil.
func (in *inputFlags) options(logger *slog.Logger) ([]xlreport.Option, func(), error) {
	opts := []xlreport.Option{
		xlreport.WithTemplate(in.template),
		xlreport.WithLayoutFile(in.layout),
		xlreport.WithLogger(logger),
	}
	if in.db == "" {
		return opts, func() {}, nil
	}
	db, err := sql.Open("sqlite", in.db)
	if err != nil {
		return nil, nil, fmt.Errorf("open database %q: %w", in.db, err)
	}
	return append(opts, xlreport.WithDB(db)), func() { db.Close() }, nil
}

func newRootCmd(outW, errW io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "xlreport",
		Short: "Render streaming spreadsheet reports",
		Long: `Render xlsx reports from a template workbook and a YAML layout.

Commands:
  render    Fill the layout with data and write the report workbook.
  describe  Print the sections, groups, expressions and macros of a layout.
  validate  Check a layout for expression, macro and grouping errors.

Examples:
  xlreport render -t orders.xlsx -l orders.yaml -d q1.yaml -o q1.xlsx
  xlreport render -t sales.xlsx -l sales.yaml --db sales.db -o sales.xlsx
  xlreport validate -t orders.xlsx -l orders.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(errW)
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(newRenderCmd(g), newDescribeCmd(g), newValidateCmd(g))
	return root
}

func newRenderCmd(g *globalFlags) *cobra.Command {
	var (
		in           inputFlags
		dataPath     string
		outPath      string
		maxArgs      int
		keepTemplate bool
		hideTemplate bool
		recalc       bool
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a report workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(g.logLevel, g.logFormat, cmd.ErrOrStderr())
			data, err := loadData(dataPath)
			if err != nil {
				return err
			}
			opts, closeDB, err := in.options(logger)
			if err != nil {
				return err
			}
			defer closeDB()
			opts = append(opts,
				xlreport.WithKeepTemplateSheet(keepTemplate),
				xlreport.WithHideTemplateSheet(hideTemplate),
				xlreport.WithRecalculateOnOpen(recalc),
			)
			if maxArgs > 0 {
				opts = append(opts, xlreport.WithMaxFormulaArgs(maxArgs))
			}

			start := time.Now()
			if err := xlreport.NewFiller(opts...).Fill(cmd.Context(), data, outPath); err != nil {
				return err
			}
			logger.Info("report written", "output", outPath, "duration", time.Since(start))
			return nil
		},
	}
	in.register(cmd)
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "YAML file with report variables")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output xlsx path")
	cmd.Flags().IntVar(&maxArgs, "max-formula-args", 0, "formula argument ceiling (30 for legacy xls consumers)")
	cmd.Flags().BoolVar(&keepTemplate, "keep-template", false, "keep template sheets in the output")
	cmd.Flags().BoolVar(&hideTemplate, "hide-template", false, "hide template sheets instead of deleting them")
	cmd.Flags().BoolVar(&recalc, "recalc", false, "ask the spreadsheet application to recalculate on open")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newDescribeCmd(g *globalFlags) *cobra.Command {
	var in inputFlags
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Describe a layout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(g.logLevel, g.logFormat, cmd.ErrOrStderr())
			opts, closeDB, err := in.options(logger)
			if err != nil {
				return err
			}
			defer closeDB()
			out, err := xlreport.NewFiller(opts...).Describe()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	in.register(cmd)
	return cmd
}

func newValidateCmd(g *globalFlags) *cobra.Command {
	var in inputFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a layout without data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(g.logLevel, g.logFormat, cmd.ErrOrStderr())
			opts, closeDB, err := in.options(logger)
			if err != nil {
				return err
			}
			defer closeDB()
			issues, err := xlreport.NewFiller(opts...).Validate()
			if err != nil {
				return err
			}
			errs := 0
			for _, is := range issues {
				fmt.Fprintln(cmd.OutOrStdout(), is)
				if is.Severity == xlreport.SeverityError {
					errs++
				}
			}
			if errs > 0 {
				return &exitError{Code: 2, Message: fmt.Sprintf("%d validation error(s)", errs)}
			}
			logger.Debug("layout valid", "warnings", len(issues))
			return nil
		},
	}
	in.register(cmd)
	return cmd
}

// loadData reads report variables from a YAML document. An empty path
// yields no variables.
func loadData(path string) (map[string]any, error) {
	data := make(map[string]any)
	if path == "" {
		return data, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode data %q: %w", path, err)
	}
	return data, nil
}
