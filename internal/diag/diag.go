// Package diag implements the compiler's diagnostic model: a severity
// taxonomy (warning/error/fatal), source locations, and a recorder that
// accumulates non-fatal diagnostics for one translation unit.
package diag

import (
	"fmt"
	"io"

	"github.com/mattn/go-isatty"
)

// Severity classifies a Diagnostic per spec: warning, error, or fatal.
type Severity string

const (
	Warning Severity = "warning"
	Error   Severity = "error"
	Fatal   Severity = "fatal"
)

// Location is a file/line/col triple identifying where a diagnostic
// originates. A zero Location (empty File) means "no location available".
type Location struct {
	File string
	Line int
	Col  int
}

func (l Location) String() string {
	if l.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
}

// Diagnostic is a single compiler message.
type Diagnostic struct {
	Severity Severity
	Message  string
	Location Location
}

func (d Diagnostic) String() string {
	if loc := d.Location.String(); loc != "" {
		return fmt.Sprintf("compiler: %s: %s: %s", d.Severity, loc, d.Message)
	}
	return fmt.Sprintf("compiler: %s: %s", d.Severity, d.Message)
}

// FatalError wraps a Diagnostic of severity Fatal so it can be returned as
// a Go error and aborts the current translation unit.
type FatalError struct {
	Diagnostic Diagnostic
}

func (e *FatalError) Error() string { return e.Diagnostic.String() }

// NewFatal builds a FatalError at the given location.
func NewFatal(loc Location, format string, args ...interface{}) error {
	return &FatalError{Diagnostic: Diagnostic{
		Severity: Fatal,
		Message:  fmt.Sprintf(format, args...),
		Location: loc,
	}}
}

// NewFatalNoLoc builds a FatalError with no source location, for internal
// consistency errors raised deep in the optimizer or a backend.
func NewFatalNoLoc(format string, args ...interface{}) error {
	return NewFatal(Location{}, format, args...)
}

// Recorder accumulates non-fatal diagnostics for one translation unit. A
// unit with any Error-severity diagnostic should not proceed past its
// current phase, but the recorder itself never aborts.
type Recorder struct {
	diagnostics []Diagnostic
}

// Warn records a warning-severity diagnostic.
func (r *Recorder) Warn(loc Location, format string, args ...interface{}) {
	r.diagnostics = append(r.diagnostics, Diagnostic{Severity: Warning, Message: fmt.Sprintf(format, args...), Location: loc})
}

// Error records an error-severity diagnostic. The caller decides whether
// to keep attempting the current function; HasErrors reports whether any
// error-severity diagnostic has been recorded.
func (r *Recorder) Error(loc Location, format string, args ...interface{}) {
	r.diagnostics = append(r.diagnostics, Diagnostic{Severity: Error, Message: fmt.Sprintf(format, args...), Location: loc})
}

// HasErrors reports whether any Error-severity diagnostic was recorded.
func (r *Recorder) HasErrors() bool {
	for _, d := range r.diagnostics {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// All returns every diagnostic recorded so far, in recording order.
func (r *Recorder) All() []Diagnostic {
	return r.diagnostics
}

// Print writes every recorded diagnostic to w, coloring the severity tag
// when w is a terminal (detected via isatty when w is an *os.File).
func (r *Recorder) Print(w io.Writer) {
	color := false
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	for _, d := range r.diagnostics {
		fmt.Fprintln(w, render(d, color))
	}
}

// PrintOne writes a single diagnostic (e.g. a caught FatalError) to w with
// the same terminal-aware coloring as Print.
func PrintOne(w io.Writer, d Diagnostic) {
	color := false
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	fmt.Fprintln(w, render(d, color))
}

func render(d Diagnostic, color bool) string {
	if !color {
		return d.String()
	}
	code := "33" // yellow: warning
	switch d.Severity {
	case Error:
		code = "31"
	case Fatal:
		code = "35"
	}
	tag := fmt.Sprintf("\x1b[%sm%s\x1b[0m", code, d.Severity)
	if loc := d.Location.String(); loc != "" {
		return fmt.Sprintf("compiler: %s: %s: %s", tag, loc, d.Message)
	}
	return fmt.Sprintf("compiler: %s: %s", tag, d.Message)
}
