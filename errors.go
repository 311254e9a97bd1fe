package xlreport

import (
	"fmt"
	"strings"
)

// TemplateError reports malformed static configuration: an invalid layout,
// template block, group model or macro call.
type TemplateError struct {
	Sheet   string
	Section string
	Cell    string
	Msg     string
	Err     error
}

func (e *TemplateError) Error() string {
	var b strings.Builder
	b.WriteString("template")
	if e.Sheet != "" {
		fmt.Fprintf(&b, " sheet %q", e.Sheet)
	}
	if e.Section != "" {
		fmt.Fprintf(&b, " section %q", e.Section)
	}
	if e.Cell != "" {
		fmt.Fprintf(&b, " cell %s", e.Cell)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TemplateError) Unwrap() error { return e.Err }

// UnresolvedReferenceError reports a macro or provider that refers to a
// section or group which is unknown or has not been rendered yet.
type UnresolvedReferenceError struct {
	Kind   string // "section", "group" or "provider"
	Name   string
	Reason string
}

func (e *UnresolvedReferenceError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("unresolved %s reference: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("unresolved %s reference %q: %s", e.Kind, e.Name, e.Reason)
}

// ReportProcessingError wraps any failure that aborted a render with the
// coordinates needed to locate the offending template or data. Record is
// the 1-based index of the record being rendered, 0 when none was.
type ReportProcessingError struct {
	Sheet      string
	Section    string
	Record     int
	Cell       string
	Err        error
	Suppressed []error
}

func (e *ReportProcessingError) Error() string {
	var b strings.Builder
	b.WriteString("render")
	if e.Sheet != "" {
		fmt.Fprintf(&b, " sheet %q", e.Sheet)
	}
	if e.Section != "" {
		fmt.Fprintf(&b, " section %q", e.Section)
	}
	if e.Record > 0 {
		fmt.Fprintf(&b, " record %d", e.Record)
	}
	if e.Cell != "" {
		fmt.Fprintf(&b, " cell %s", e.Cell)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if len(e.Suppressed) > 0 {
		fmt.Fprintf(&b, " (%d suppressed)", len(e.Suppressed))
	}
	return b.String()
}

func (e *ReportProcessingError) Unwrap() error { return e.Err }
