package apierror

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrConflict          ErrorCode = "CONFLICT"
	ErrBadRequest        ErrorCode = "BAD_REQUEST"
	ErrValidation        ErrorCode = "VALIDATION_ERROR"
	ErrParse             ErrorCode = "PARSE_ERROR"
	ErrImmutableRun      ErrorCode = "IMMUTABLE_RUN"
	ErrPendingExceptions ErrorCode = "PENDING_EXCEPTIONS"
	ErrInternalServer    ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NotFound reports a missing config, run or exception key.
func NotFound(message string) APIError {
	return APIError{Code: ErrNotFound, Message: message}
}

// Conflict reports a uniqueness violation (config name, binding, run period).
func Conflict(message string) APIError {
	return APIError{Code: ErrConflict, Message: message}
}

// Validation reports malformed input with field-level detail.
func Validation(message string, details interface{}) APIError {
	return APIError{Code: ErrValidation, Message: message, Details: details}
}

// Parse reports a file that could not be turned into rows at all.
// Partial row failures are warnings, not errors; this is total failure.
func Parse(message string, details interface{}) APIError {
	return APIError{Code: ErrParse, Message: message, Details: details}
}

// ImmutableRun reports a mutation attempted on a completed run. It is
// always fatal to the calling operation and never retried.
func ImmutableRun(runID string) APIError {
	return APIError{
		Code:    ErrImmutableRun,
		Message: fmt.Sprintf("run %s is completed and can no longer be modified", runID),
	}
}

// PendingExceptions blocks completion and names the unresolved keys so
// the caller can present them.
func PendingExceptions(runID string, keys []string) APIError {
	return APIError{
		Code:    ErrPendingExceptions,
		Message: fmt.Sprintf("run %s has %d unresolved exceptions", runID, len(keys)),
		Details: map[string]interface{}{"pending_keys": keys},
	}
}

// Is reports whether err is an APIError with the given code.
func Is(err error, code ErrorCode) bool {
	apiErr, ok := err.(APIError)
	return ok && apiErr.Code == code
}

func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := err.(APIError); ok {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict:
			return http.StatusConflict
		case ErrBadRequest, ErrValidation, ErrParse:
			return http.StatusBadRequest
		case ErrImmutableRun, ErrPendingExceptions:
			return http.StatusConflict
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
