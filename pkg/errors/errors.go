package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound             = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation           = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInvalidTransition    = NewError("INVALID_TRANSITION", "state transition not allowed", http.StatusConflict)
	ErrInvalidWorkflowState = NewError("INVALID_WORKFLOW_STATE", "workflow is not in a state that allows this operation", http.StatusConflict)
	ErrConflict             = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrInternal             = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrFatal                = NewError("FATAL", "unrecoverable failure", http.StatusInternalServerError)
	ErrUnauthorized         = NewError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrTimeout              = NewError("TIMEOUT", "operation timed out", http.StatusRequestTimeout)
	ErrServiceUnavailable   = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
	ErrGenerationFailed     = NewError("GENERATION_FAILED", "suggestion generation failed", http.StatusBadGateway)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

// ErrorResponse is the JSON body returned for failed API calls.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	ErrorCode string                 `json:"error_code"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
		msg = detailMsg
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so sentinel comparisons survive WithDetail copies.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// nonRetryable codes are caller mistakes or terminal outcomes.
var nonRetryable = map[string]bool{
	ErrValidation.Code:           true,
	ErrNotFound.Code:             true,
	ErrInvalidTransition.Code:    true,
	ErrInvalidWorkflowState.Code: true,
	ErrConflict.Code:             true,
	ErrFatal.Code:                true,
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	return !nonRetryable[e.Code]
}

func (e *Error) IsFatal() bool {
	if e.retryable != nil {
		return !*e.retryable
	}

	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}

	return nonRetryable[e.Code]
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	return e.WithDetail("message", fmt.Sprintf(format, args...))
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool             { return hasCode(err, ErrNotFound.Code) }
func IsValidation(err error) bool           { return hasCode(err, ErrValidation.Code) }
func IsConflict(err error) bool             { return hasCode(err, ErrConflict.Code) }
func IsInvalidTransition(err error) bool    { return hasCode(err, ErrInvalidTransition.Code) }
func IsInvalidWorkflowState(err error) bool { return hasCode(err, ErrInvalidWorkflowState.Code) }
func IsFatal(err error) bool                { return hasCode(err, ErrFatal.Code) }
func IsGenerationFailed(err error) bool     { return hasCode(err, ErrGenerationFailed.Code) }

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) ErrorResponse {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	msg := appErr.Message
	if detailMsg, ok := appErr.Details["message"].(string); ok && detailMsg != "" {
		msg = detailMsg
	}

	response := ErrorResponse{
		Error:     msg,
		ErrorCode: appErr.Code,
	}
	if len(appErr.Details) > 0 {
		response.Details = appErr.Details
	}
	return response
}
