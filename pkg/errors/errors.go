package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryReconcile     ErrorCategory = "reconciliation"
	CategoryPersistence   ErrorCategory = "persistence"
	CategoryNetwork       ErrorCategory = "network"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeSourceUnavailable ErrorCode = "source_unavailable"

	// Parse errors
	CodeMalformedHeader ErrorCode = "malformed_header"
	CodeInvalidRecord   ErrorCode = "invalid_record"

	// Validation errors
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeMissingField  ErrorCode = "missing_field"

	// Reconciliation errors; recoverable, handled by skip-and-count
	CodeUnresolvedEntity    ErrorCode = "unresolved_entity"
	CodeImbalancedGroup     ErrorCode = "imbalanced_group"
	CodeMissingParentRecord ErrorCode = "missing_parent_record"

	// Persistence errors
	CodePersistenceFailure ErrorCode = "persistence_failure"
	CodeDuplicateKey       ErrorCode = "duplicate_key"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Network errors
	CodeRemoteImportFailed ErrorCode = "remote_import_failed"
	CodeConnectionFailed   ErrorCode = "connection_failed"
	CodeLockUnavailable    ErrorCode = "lock_unavailable"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ImportError is the base error type for all application errors
type ImportError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ImportError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *ImportError) Unwrap() error {
	return e.Cause
}

// Recoverable reports whether the importer handles this error locally by
// skipping the affected row or group.
func (e *ImportError) Recoverable() bool {
	return e.Category == CategoryReconcile
}

// WithContext adds context information to the error
func (e *ImportError) WithContext(key string, value interface{}) *ImportError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ImportError) WithSuggestion(suggestion string) *ImportError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ImportError
func New(category ErrorCategory, code ErrorCode, message string) *ImportError {
	return &ImportError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ImportError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ImportError {
	if err == nil {
		return nil
	}

	return &ImportError{
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

func build(category ErrorCategory, code ErrorCode, message string, err error) *ImportError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// SourceUnavailable reports an input file that is missing or unreadable.
func SourceUnavailable(path string, err error) *ImportError {
	return build(CategoryFile, CodeSourceUnavailable, fmt.Sprintf("source file is not readable: %s", path), err).
		WithSuggestion("check the file path and make sure the file exists and is readable").
		WithContext("file_path", path)
}

// MalformedHeader reports a header row that is absent or has no usable columns.
func MalformedHeader(path string, reason string) *ImportError {
	return New(CategoryParse, CodeMalformedHeader, fmt.Sprintf("malformed header in %s: %s", path, reason)).
		WithSuggestion("export the report with column headers enabled").
		WithContext("file_path", path)
}

// ParseError creates a record-level parsing error
func ParseError(path string, line int, err error) *ImportError {
	return build(CategoryParse, CodeInvalidRecord, fmt.Sprintf("unable to read record at line %d of %s", line, path), err).
		WithSuggestion("check the export for unbalanced quotes or truncated lines").
		WithContext("file_path", path).
		WithContext("line", line)
}

// InvalidAmount reports text that cannot be read as a number when strict
// amount parsing is enabled.
func InvalidAmount(field, value string) *ImportError {
	return New(CategoryValidation, CodeInvalidAmount, fmt.Sprintf("invalid amount in field '%s': %q", field, value)).
		WithSuggestion("fix the value or disable strict amount parsing (amounts.strict=false)").
		WithContext("field", field).
		WithContext("value", value)
}

// UnresolvedEntity reports an account or customer name without a match.
func UnresolvedEntity(kind, name string) *ImportError {
	return New(CategoryReconcile, CodeUnresolvedEntity, fmt.Sprintf("%s %q not found", kind, name)).
		WithContext("kind", kind).
		WithContext("name", name)
}

// ImbalancedGroup reports a journal group whose debits and credits differ.
func ImbalancedGroup(reference string, debits, credits decimal.Decimal) *ImportError {
	return New(CategoryReconcile, CodeImbalancedGroup,
		fmt.Sprintf("unbalanced journal entry skipped (ref: %s, debits: %s, credits: %s)",
			reference, debits.StringFixed(2), credits.StringFixed(2))).
		WithContext("reference", reference)
}

// MissingParentRecord reports a target record that does not exist and
// cannot be constructed.
func MissingParentRecord(kind, key, reason string) *ImportError {
	return New(CategoryReconcile, CodeMissingParentRecord, fmt.Sprintf("skipped %s: %s", key, reason)).
		WithContext("kind", kind).
		WithContext("key", key)
}

// PersistenceFailure wraps a lower-layer database failure.
func PersistenceFailure(operation string, err error) *ImportError {
	return build(CategoryPersistence, CodePersistenceFailure, fmt.Sprintf("database failure during %s", operation), err).
		WithSuggestion("no changes were kept; fix the cause and re-run the import").
		WithContext("operation", operation)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ImportError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting in the config file or as an IMPORTER_ environment variable"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// RemoteImportFailed reports a rejected upload to the CRM import endpoint.
func RemoteImportFailed(endpoint string, status int, message string) *ImportError {
	return New(CategoryNetwork, CodeRemoteImportFailed, fmt.Sprintf("remote import failed (%d): %s", status, message)).
		WithSuggestion("check the CRM logs for the rejected rows").
		WithContext("endpoint", endpoint).
		WithContext("status", status)
}

// NetworkError creates a transport-level error
func NetworkError(endpoint string, err error) *ImportError {
	return build(CategoryNetwork, CodeConnectionFailed, fmt.Sprintf("connection failed to %s", endpoint), err).
		WithSuggestion("check crm.base_url and network connectivity").
		WithContext("endpoint", endpoint)
}

// LockUnavailable reports that another run holds the import lock.
func LockUnavailable(key string, err error) *ImportError {
	return build(CategoryNetwork, CodeLockUnavailable, fmt.Sprintf("import lock %s is held by another run", key), err).
		WithSuggestion("wait for the running import to finish and try again").
		WithContext("lock_key", key)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *ImportError {
	return build(CategoryInternal, CodeUnexpectedError, fmt.Sprintf("unexpected error during %s", operation), err).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*ImportError        `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ImportError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}
	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var codes []string
	for code, count := range es.ByCode {
		codes = append(codes, fmt.Sprintf("%s: %d", code, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(codes, ", "))
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// AsImportError extracts an ImportError from an error chain
func AsImportError(err error) (*ImportError, bool) {
	var importErr *ImportError
	if errors.As(err, &importErr) {
		return importErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an ImportError with the given code.
func HasCode(err error, code ErrorCode) bool {
	importErr, ok := AsImportError(err)
	return ok && importErr.Code == code
}

// WrapIfNeeded wraps an error if it's not already an ImportError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ImportError {
	if err == nil {
		return nil
	}

	if importErr, ok := AsImportError(err); ok {
		return importErr
	}

	return Wrap(err, category, code, message)
}

// AtLine adds the source file and line to an ImportError in err's chain.
// Other errors are returned unchanged.
func AtLine(err error, path string, line int) error {
	if importErr, ok := AsImportError(err); ok {
		return importErr.WithContext("file_path", path).WithContext("line", line)
	}
	return err
}
