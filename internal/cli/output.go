package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/xavierca1/lead-market/internal/usecase"
)

const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitError carries the process exit code for a failed command.
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

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

type response struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *cliError `json:"error,omitempty"`
}

type cliError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// printResult writes data, or the error with its details, in the chosen
// format. It returns err so commands can `return printResult(...)`.
func printResult(w io.Writer, format string, data any, err error) error {
	if err == nil {
		if format == "json" {
			return json.NewEncoder(w).Encode(response{Status: "ok", Data: data})
		}
		out, mErr := json.MarshalIndent(data, "", "  ")
		if mErr != nil {
			return mErr
		}
		fmt.Fprintln(w, string(out))
		return nil
	}

	ce := &cliError{Code: "ERROR", Message: err.Error()}
	var de *usecase.DomainError
	var te *usecase.TechnicalError
	switch {
	case errors.As(err, &de):
		ce.Code, ce.Message, ce.Details = de.Code, de.Message, de.Details
	case errors.As(err, &te):
		ce.Code = te.Code
	}

	if format == "json" {
		json.NewEncoder(w).Encode(response{Status: "error", Error: ce})
	} else {
		fmt.Fprintf(w, "error %s: %s\n", ce.Code, ce.Message)
		keys := make([]string, 0, len(ce.Details))
		for k := range ce.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, ce.Details[k])
		}
	}
	return &ExitError{Code: ExitFailure, Message: ce.Code, Err: err}
}
