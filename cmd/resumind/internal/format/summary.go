package format

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/resumind/resumind/pkg/server"
)

// PrintSuccessSummary prints a standardized success message
// Examples:
//   - "✓ Paused resume-analysis"
//   - "✓ Clean resume-analysis completed successfully"
//
// In JSON mode data, when set, is emitted alongside the operation.
func (f *formatter) PrintSuccessSummary(operation, target string, data any) error {
	if f.mode == ModeJSON {
		out := map[string]any{
			"success":   true,
			"operation": operation,
			"target":    target,
		}
		if data != nil {
			out["data"] = data
		}
		return f.PrintJSON(out)
	}

	if f.quiet {
		return nil
	}

	message := fmt.Sprintf("✓ %s completed successfully", capitalize(operation))
	if target != "" {
		message = fmt.Sprintf("✓ %s %s", capitalize(pastTense(operation)), target)
	}

	if f.color {
		_, err := color.New(color.FgGreen).Fprintln(f.stdout, message)
		return err
	}

	_, err := fmt.Fprintln(f.stdout, message)
	return err
}

// PrintTotalFailureSummary prints total failure with error and suggestions
// Example output:
//
//	✗ Failed to retry job: job is not retryable
//
//	💡 Suggestions:
//	  → Only failed or delayed jobs can be retried
func (f *formatter) PrintTotalFailureSummary(operation string, err error, errorCode string) error {
	if f.quiet {
		return reportedError{err}
	}

	if f.mode == ModeJSON {
		if printErr := f.PrintJSON(map[string]any{
			"success":    false,
			"operation":  operation,
			"error":      err.Error(),
			"error_code": errorCode,
		}); printErr != nil {
			return printErr
		}
		return reportedError{err}
	}

	var sb strings.Builder

	errorMsg := fmt.Sprintf("✗ Failed to %s: %v", operation, err)
	if f.color {
		sb.WriteString(color.RedString("%s\n", errorMsg))
	} else {
		sb.WriteString(errorMsg + "\n")
	}

	if suggestions := server.Suggestions(err); len(suggestions) > 0 {
		sb.WriteString("\n💡 Suggestions:\n")
		for _, s := range suggestions {
			sb.WriteString(fmt.Sprintf("  → %s\n", s))
		}
	}

	if _, writeErr := f.stderr.Write([]byte(sb.String())); writeErr != nil {
		return writeErr
	}
	return reportedError{err}
}

// reportedError marks an error a Formatter has already shown to the user.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// IsReported reports whether err was already printed by a Formatter, so the
// caller only needs to pick the exit code.
func IsReported(err error) bool {
	var r reportedError
	return errors.As(err, &r)
}

// capitalize capitalizes the first letter of a string
func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func pastTense(operation string) string {
	switch operation {
	case "pause":
		return "paused"
	case "resume":
		return "resumed"
	case "retry":
		return "retried"
	case "remove":
		return "removed"
	case "clean":
		return "cleaned"
	default:
		return operation
	}
}
