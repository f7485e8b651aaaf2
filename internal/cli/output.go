package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"agora.org/internal/ranked"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the batch was rejected
	ExitCommandError = 2 // bad flags, unreadable files, unreachable database
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders results as text tables or JSON envelopes.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Views prints a collection ordered as given.
func (f *OutputFormatter) Views(spec ranked.KindSpec, views []ranked.View) error {
	if f.Format == "json" {
		if views == nil {
			views = []ranked.View{}
		}
		return f.writeJSON(CLIResponse{Status: "ok", Data: views})
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tNAME\t%s\t", strings.ToUpper(spec.OrdinalLabel))
	for _, c := range spec.Collections {
		fmt.Fprintf(tw, "%s\t", strings.ToUpper(string(c)))
	}
	if spec.OwnerKind != "" {
		fmt.Fprintf(tw, "%s\t", strings.ToUpper(string(spec.OwnerKind)))
	}
	fmt.Fprintln(tw)
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%d\t", v.ID, v.Name, v.Ordinal)
		for _, c := range spec.Collections {
			fmt.Fprintf(tw, "%d\t", v.Dependents[c])
		}
		if spec.OwnerKind != "" {
			fmt.Fprintf(tw, "%s\t", v.OwnerID)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

// Failure reports err and returns it wrapped with exit code.
func (f *OutputFormatter) Failure(code int, err error) error {
	if f.Format == "json" {
		_ = f.writeJSON(CLIResponse{Status: "error", Error: &CLIError{
			Code:    ranked.Outcome(err),
			Message: err.Error(),
		}})
	}
	return WrapExitError(code, "rankctl", err)
}

// VerboseLog writes a diagnostic line when verbose output is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func (f *OutputFormatter) writeJSON(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
