package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryGateway        ErrorCategory = "gateway"
	CategorySheet          ErrorCategory = "sheet"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryExport         ErrorCategory = "export"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Gateway errors
	CodeConnectionFailed ErrorCode = "connection_failed"
	CodeTimeout          ErrorCode = "timeout"
	CodeInvalidResponse  ErrorCode = "invalid_response"
	CodeQueryFailed      ErrorCode = "query_failed"

	// Sheet errors
	CodeWorksheetNotFound ErrorCode = "worksheet_not_found"
	CodeAppendFailed      ErrorCode = "append_failed"
	CodeLockBusy          ErrorCode = "lock_busy"

	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidData   ErrorCode = "invalid_data"

	// Validation errors
	CodeInvalidOperator ErrorCode = "invalid_operator"
	CodeInvalidDate     ErrorCode = "invalid_date"
	CodeMissingField    ErrorCode = "missing_field"
	CodeOutOfRange      ErrorCode = "out_of_range"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Reconciliation errors
	CodeMixedTimezone ErrorCode = "mixed_timezone"
	CodeStageFailed   ErrorCode = "stage_failed"
	CodeInconsistent  ErrorCode = "data_inconsistent"

	// Export errors
	CodeRenderFailed ErrorCode = "render_failed"
	CodeWriteFailed  ErrorCode = "write_failed"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory `json:"category"`
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	Suggestion string        `json:"suggestion,omitempty"`
	Context    Context       `json:"context,omitempty"`
	Cause      error         `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation, CategoryInternal:
		return 5
	case CategoryGateway, CategorySheet:
		return 6
	case CategoryExport:
		return 7
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message, suggestion string, err error) *ReconcilerError {
	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, category, code, message)
	} else {
		result = New(category, code, message)
	}
	return result.WithSuggestion(suggestion)
}

// GatewayError reports a failed call to the billing query gateway.
// The pipeline never retries these.
func GatewayError(code ErrorCode, function string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeConnectionFailed:
		message = fmt.Sprintf("cannot reach billing gateway for %s", function)
		suggestion = "check gateway.url and network connectivity, then run the command again"
	case CodeTimeout:
		message = fmt.Sprintf("billing gateway timed out for %s", function)
		suggestion = "increase gateway.timeout or narrow the query window"
	case CodeInvalidResponse:
		message = fmt.Sprintf("billing gateway returned a malformed response for %s", function)
		suggestion = "inspect the raw response with --log-level debug"
	default:
		message = fmt.Sprintf("billing query %s failed", function)
		suggestion = "check the query and gateway credentials"
	}

	return build(CategoryGateway, code, message, suggestion, err).
		WithContext("function", function)
}

// SheetError reports a failure reading or writing a worksheet.
func SheetError(code ErrorCode, worksheet string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeWorksheetNotFound:
		message = fmt.Sprintf("worksheet %q not found or unreadable", worksheet)
		suggestion = "check sheets.spreadsheet_id and that the service account can open the sheet"
	case CodeAppendFailed:
		message = fmt.Sprintf("could not append rows to worksheet %q", worksheet)
		suggestion = "check write access for the service account"
	case CodeLockBusy:
		message = fmt.Sprintf("another batch is being appended to worksheet %q", worksheet)
		suggestion = "wait for the other operator to finish and send again"
	default:
		message = fmt.Sprintf("worksheet %q error", worksheet)
		suggestion = "check the spreadsheet configuration"
	}

	return build(CategorySheet, code, message, suggestion, err).
		WithContext("worksheet", worksheet)
}

// ParseError creates a parsing-related error
func ParseError(code ErrorCode, source string, row int, column string, value string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in %s", column, source)
		suggestion = "verify the header row has all required columns"
	case CodeInvalidData:
		message = fmt.Sprintf("invalid value in %s at row %d, column '%s': '%s'", source, row, column, value)
		suggestion = "correct the cell or remove the row"
	default:
		message = fmt.Sprintf("cannot parse %s at row %d", source, row)
		suggestion = "check the data format"
	}

	return build(CategoryParse, code, message, suggestion, err).
		WithContext("source", source).
		WithContext("row", row).
		WithContext("column", column).
		WithContext("value", value)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidOperator:
		message = fmt.Sprintf("invalid comparison operator for '%s': %v", field, value)
		suggestion = "use one of =, >, >=, <, <="
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in '%s': %v", field, value)
		suggestion = "use the dd/mm/yyyy format"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	default:
		message = fmt.Sprintf("validation error in '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, suggestion, err).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "set it in the config file, a flag, or the GHITHU_ environment"
	default:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	}

	return build(CategoryConfiguration, code, message, suggestion, err).
		WithContext("setting", setting).
		WithContext("value", value)
}

// ReconciliationError reports a failure inside a pipeline stage.
func ReconciliationError(code ErrorCode, stage string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeMixedTimezone:
		message = fmt.Sprintf("naive and zoned settlement dates were compared during %s", stage)
		suggestion = "this is a bug in timezone alignment; report it with the input snapshot"
	case CodeInconsistent:
		message = fmt.Sprintf("inconsistent source data during %s", stage)
		suggestion = "verify the worksheet and billing snapshots agree"
	default:
		message = fmt.Sprintf("stage %s failed", stage)
		suggestion = "review the logs for the failing stage"
	}

	return build(CategoryReconciliation, code, message, suggestion, err).
		WithContext("stage", stage)
}

// ExportError reports a failure rendering or writing an output document.
func ExportError(code ErrorCode, format string, path string, err error) *ReconcilerError {
	message := fmt.Sprintf("cannot write %s output", format)
	suggestion := "check the output path is writable"
	if code == CodeRenderFailed {
		message = fmt.Sprintf("cannot render %s output", format)
		suggestion = "try another --format to isolate the problem"
	}

	return build(CategoryExport, code, message, suggestion, err).
		WithContext("format", format).
		WithContext("path", path)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	return build(CategoryInternal, code,
		fmt.Sprintf("unexpected error during %s", operation),
		"this is likely a bug; please report it with the error details", err).
		WithContext("operation", operation)
}

// ErrorSummary collects non-fatal row problems, such as sheet rows with
// unreadable dates, so a run can report them together.
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ReconcilerError    `json:"errors"`
	SampleErrors []*ReconcilerError    `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if summary.Errors == nil {
		summary.Errors = []*ReconcilerError{}
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	const maxSamples = 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Add appends one error to the summary.
func (es *ErrorSummary) Add(err *ReconcilerError) {
	if err == nil {
		return
	}
	es.Total++
	es.ByCategory[err.Category]++
	es.ByCode[err.Code]++
	es.Errors = append(es.Errors, err)
	if len(es.SampleErrors) < 5 {
		es.SampleErrors = append(es.SampleErrors, err)
	}
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}
	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	categories := make([]string, 0, len(es.ByCategory))
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	sort.Strings(categories)

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}
	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return Wrap(err, category, code, message)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
