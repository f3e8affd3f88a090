package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
	out     io.Writer
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
		out:     os.Stderr,
	}
}

// HandleError prints err for the operator and returns the process exit
// code.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for k := range err.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(h.out, "\nContext:\n")
		for _, k := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", k, err.Context[k])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have access\n")
		return 2
	case isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	// Cobra reports unknown flags and missing required flags as plain errors.
	fmt.Fprintf(h.out, "Error: %v\n", err)
	if strings.Contains(err.Error(), "flag") {
		fmt.Fprintf(h.out, "Run 'ghithu --help' or 'ghithu <command> --help' for usage.\n")
	}
	return 1
}

// getCategoryHelp returns category-specific help text
func getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryGateway:
		return `Billing system error help:
• Check gateway.url and gateway.user, or gateway.sql.dsn in sql mode
• Verify the billing web service is reachable from this machine
• Raise gateway.timeout for large date windows
• Run with --verbose to see the failing remote function`

	case errors.CategorySheet:
		return `Ledger error help:
• Check sheets.credentials_file and sheets.spreadsheet_id
• Share the spreadsheet with the service account e-mail
• Verify the worksheets database and ON_OFF exist
• If another append is running, wait and retry`

	case errors.CategoryParse:
		return `Parse error help:
• Check the worksheet headers have not been renamed
• Dates in the ledger are written dd/mm/yyyy
• Amounts are plain numbers without currency symbols`

	case errors.CategoryValidation:
		return `Validation error help:
• Dates are written dd/mm/yyyy
• The end day cannot be before the start day
• Use 'ghithu <command> --help' to see accepted values`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check ghithu.yaml or the file given to --config
• Environment variables use the GHITHU_ prefix, e.g. GHITHU_GATEWAY_URL
• A .env file in the working directory is read on start`

	case errors.CategoryReconciliation:
		return `Reconciliation error help:
• Check the billing data for the assigned accounts
• Run with --verbose to see which step failed`

	case errors.CategoryExport:
		return `Export error help:
• Check the output directory exists and is writable
• xlsx and pdf output needs --output
• For Vietnamese PDF text set export.font_file to a TrueType font`

	default:
		return `For more help:
• Use 'ghithu --help' for general help
• Use 'ghithu <command> --help' for command-specific help`
	}
}

// Error detection helpers

func isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func isDiskFullError(err error) bool {
	if err == syscall.ENOSPC {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
