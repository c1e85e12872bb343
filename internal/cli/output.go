package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // input was read and rejected: invalid trace, failed scenario, mismatch
	ExitCommandError = 2 // the command could not do its work: bad flag, missing file, database error
)

// ExitError is returned by commands to select the process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError with err as its cause.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps a command error to an exit code. Errors that carry no
// code are treated as failures.
func GetExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return ExitFailure
	}
}

// Response is the envelope every command prints under --format json.
type Response struct {
	Status string         `json:"status"` // "ok", "error", or "aborted" for a run that ended in ABORTED
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
	RunID  string         `json:"run_id,omitempty"`
}

// ResponseError is the error part of a Response.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as JSON envelopes or as text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; Writer when nil
	Verbose   bool
}

// newFormatter builds the formatter for cmd. Diagnostics go to stderr so
// that stdout stays a single JSON document.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func (f *OutputFormatter) json() bool { return f.Format == "json" }

func (f *OutputFormatter) emit(resp Response) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// Render prints data in a Response, or calls text to print it for people.
func (f *OutputFormatter) Render(status, runID string, data any, text func(w io.Writer)) error {
	if f.json() {
		return f.emit(Response{Status: status, Data: data, RunID: runID})
	}
	text(f.Writer)
	return nil
}

// Message prints a one-line confirmation.
func (f *OutputFormatter) Message(msg string) error {
	return f.Render("ok", "", map[string]string{"message": msg}, func(w io.Writer) {
		fmt.Fprintln(w, msg)
	})
}

// Error prints an error. Details are shown in text mode only with
// --verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.json() {
		return f.emit(Response{
			Status: "error",
			Error:  &ResponseError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Debugf prints a diagnostic line with --verbose.
func (f *OutputFormatter) Debugf(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
