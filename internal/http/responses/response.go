// Package responses writes the fleet manager's standardized JSON envelope:
// every handler response carries success, message, optional data and an
// optional structured error, regardless of status code.
package responses

import (
	"encoding/json"
	"net/http"
)

// APIResponse is the envelope every handler writes.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError carries a machine-readable code plus human-readable detail.
type APIError struct {
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// WriteJSON writes the standardized envelope at statusCode.
func WriteJSON(w http.ResponseWriter, statusCode int, success bool, message string, data interface{}, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(APIResponse{
		Success: success,
		Message: message,
		Data:    data,
		Error:   err,
	})
}

// Success writes a 200 with data.
func Success(w http.ResponseWriter, message string, data interface{}) {
	WriteJSON(w, http.StatusOK, true, message, data, nil)
}

// Created writes a 201 with the newly created resource.
func Created(w http.ResponseWriter, message string, data interface{}) {
	WriteJSON(w, http.StatusCreated, true, message, data, nil)
}

// BadRequest writes a 400 with a VALIDATION_ERROR code.
func BadRequest(w http.ResponseWriter, message, details string) {
	WriteJSON(w, http.StatusBadRequest, false, message, nil, &APIError{
		Code:    "VALIDATION_ERROR",
		Details: details,
	})
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusNotFound, false, message, nil, &APIError{
		Code: "NOT_FOUND",
	})
}

// Conflict writes a 409 with details naming the conflicting constraint.
func Conflict(w http.ResponseWriter, message, details string) {
	WriteJSON(w, http.StatusConflict, false, message, nil, &APIError{
		Code:    "CONFLICT",
		Details: details,
	})
}

// InternalError writes a 500 without leaking internal error detail.
func InternalError(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusInternalServerError, false, message, nil, &APIError{
		Code: "INTERNAL_ERROR",
	})
}

// TooManyRequests writes a 429.
func TooManyRequests(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusTooManyRequests, false, message, nil, &APIError{
		Code: "RATE_LIMIT_EXCEEDED",
	})
}

// Error500 writes a 500 with a caller-chosen code and detail, used by the
// recovery middleware where no typed domain error exists to translate.
func Error500(w http.ResponseWriter, message, code, details string) {
	WriteJSON(w, http.StatusInternalServerError, false, message, nil, &APIError{
		Code:    code,
		Details: details,
	})
}
