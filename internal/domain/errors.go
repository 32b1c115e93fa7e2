package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AppError represents a standardized error response
type AppError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeDatabase       = "DATABASE_ERROR"
	ErrCodeExternalAPI    = "EXTERNAL_API_ERROR"
	ErrCodeAuthentication = "AUTHENTICATION_ERROR"
	ErrCodeExport         = "EXPORT_ERROR"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeTimeout        = "TIMEOUT"
)

// HTTPStatus maps an error code to the status returned by the API
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeInvalidInput, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeExternalAPI:
		return http.StatusBadGateway
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeExport:
		return http.StatusUnprocessableEntity
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewAppError creates a new AppError with timestamp
func NewAppError(code, message, details, requestID string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// ToAppError classifies an arbitrary error returned by the service layer
func ToAppError(err error, requestID string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.RequestID == "" {
			appErr.RequestID = requestID
		}
		return appErr
	}

	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		return NewAppError(ErrCodeValidation, vErr.Error(), vErr.Field, requestID)
	case errors.Is(err, ErrNotFound):
		return NewAppError(ErrCodeNotFound, "resource not found", err.Error(), requestID)
	case errors.Is(err, ErrConflict):
		return NewAppError(ErrCodeConflict, "resource conflict", err.Error(), requestID)
	case errors.Is(err, ErrInvalidInput):
		return NewAppError(ErrCodeInvalidInput, "invalid input", err.Error(), requestID)
	case errors.Is(err, ErrNoSelectedTranscript):
		return NewAppError(ErrCodeExport, "export failed", err.Error(), requestID)
	case errors.Is(err, context.DeadlineExceeded):
		return NewAppError(ErrCodeTimeout, "request timed out", err.Error(), requestID)
	default:
		return NewAppError(ErrCodeInternalServer, "internal server error", err.Error(), requestID)
	}
}
