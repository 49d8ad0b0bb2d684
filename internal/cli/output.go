package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/park285/cube-duel/internal/cube"
	"github.com/park285/cube-duel/internal/round"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // server rejected the operation
	ExitCommandError = 2 // bad flags, unreachable server
)

// ExitError carries an exit code out of RunE.
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

func (e *ExitError) Unwrap() error { return e.Err }

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Plain errors map to
// ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success writes data as JSON, or text in text mode.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

// Fail reports err and returns an ExitError with a code derived from it.
func (f *OutputFormatter) Fail(op string, err error) error {
	code, exit := errorCode(err)
	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: err.Error()},
		})
	} else {
		fmt.Fprintf(f.errWriter(), "Error [%s]: %s: %v\n", code, op, err)
	}
	return WrapExitError(exit, op, err)
}

// VerboseLog writes to ErrWriter so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func errorCode(err error) (string, int) {
	var tokErr *cube.TokenError
	switch {
	case errors.As(err, &tokErr):
		return "invalid_argument", ExitCommandError
	case errors.Is(err, round.ErrNotFound), errors.Is(err, round.ErrSolveNotFound):
		return "not_found", ExitFailure
	case errors.Is(err, round.ErrInvalidState), errors.Is(err, round.ErrNotJoined), errors.Is(err, round.ErrRoundFull):
		return "invalid_state", ExitFailure
	case errors.Is(err, round.ErrInvalidArgs), errors.Is(err, round.ErrInvalidScramble):
		return "invalid_argument", ExitCommandError
	case round.IsTransient(err):
		return "transient", ExitCommandError
	default:
		return "error", ExitFailure
	}
}
