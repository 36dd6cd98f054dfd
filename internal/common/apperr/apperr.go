// Package apperr provides application-specific error types for the orchestrator.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeBadRequest       = "BAD_REQUEST"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeConflict         = "CONFLICT"
	CodeInternal         = "INTERNAL_ERROR"
	CodeConfig           = "CONFIG_ERROR"
	CodeResolution       = "RESOLUTION_ERROR"
	CodeSpawn            = "SPAWN_ERROR"
	CodePrompt           = "PROMPT_ERROR"
	CodeWorkflowLimit    = "WORKFLOW_LIMIT_ERROR"
	CodeBridge           = "BRIDGE_ERROR"
)

// AppError represents an orchestrator error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not-found error for a resource.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a bad-request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       CodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unauthorized creates an unauthorized error, returned by the bridge when
// the bearer token is missing or does not match.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Conflict creates a conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// Internal creates an internal-server error wrapping the underlying cause.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ConfigError reports a configuration problem that prevents startup or
// prevents a worker profile from resolving to a runnable backend.
func ConfigError(message string, err error) *AppError {
	return &AppError{
		Code:       CodeConfig,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ResolutionError reports that the model resolver could not pick a model
// for a worker profile from the available OCServer providers.
func ResolutionError(message string) *AppError {
	return &AppError{
		Code:       CodeResolution,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// SpawnError reports that a worker backend process failed to start or
// failed its readiness probe.
func SpawnError(message string, err error) *AppError {
	return &AppError{
		Code:       CodeSpawn,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// PromptError reports that sending a prompt to a worker backend failed.
func PromptError(message string, err error) *AppError {
	return &AppError{
		Code:       CodePrompt,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// WorkflowLimitError reports that a workflow run exceeded a configured
// security limit (max steps, max task/carry chars).
func WorkflowLimitError(message string) *AppError {
	return &AppError{
		Code:       CodeWorkflowLimit,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// BridgeError reports a failure in the worker-to-orchestrator HTTP/SSE
// bridge (chunk ingestion, auth, malformed payloads).
func BridgeError(message string, err error) *AppError {
	return &AppError{
		Code:       CodeBridge,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an
// AppError. If err is already an AppError its code and HTTP status are
// preserved.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}

// IsWorkflowLimit reports whether err is a workflow-limit error.
func IsWorkflowLimit(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeWorkflowLimit
	}
	return false
}

// IsUnauthorized reports whether err is an unauthorized error.
func IsUnauthorized(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeUnauthorized
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error, defaulting to
// 500 if err is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
