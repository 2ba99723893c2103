package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError is the JSON body of every error response.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewAPIError creates a new APIError with additional details.
func NewAPIError(statusCode int, errorCode, message string, details any) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// InvalidRequest is returned for bodies that are not valid JSON.
func InvalidRequest(err error) *APIError {
	return NewAPIError(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// ValidationFailed is returned for well-formed bodies with invalid content.
func ValidationFailed(details any) *APIError {
	return NewAPIError(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", details)
}

// ModelUnavailable is returned when no model could be loaded.
func ModelUnavailable(err error) *APIError {
	return NewAPIError(http.StatusServiceUnavailable, "MODEL_NOT_LOADED", "Model is not loaded", err.Error())
}

// PredictionFailed is returned when the pipeline fails on valid input.
func PredictionFailed(err error) *APIError {
	return NewAPIError(http.StatusInternalServerError, "PREDICTION_FAILED", fmt.Sprintf("Prediction failed: %v", err), nil)
}
