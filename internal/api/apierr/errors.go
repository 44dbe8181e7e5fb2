package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/services/directory"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError. Details carries whatever state the
// failed request still changed, such as a consumed spin.
type ErrorResponse struct {
	Error   APIError `json:"error"`
	Details any      `json:"details,omitempty"`
}

// Common error codes
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeInvalidNickname  = "INVALID_NICKNAME"
	CodeInvalidAmount    = "INVALID_AMOUNT"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodePlayerNotFound   = "PLAYER_NOT_FOUND"
	CodeNoSpinsRemaining = "NO_SPINS_REMAINING"
	CodeSpinInProgress   = "SPIN_IN_PROGRESS"
	CodeCreditFailure    = "CREDIT_FAILURE"
	CodeInternalError    = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorWithDetails(w, err, nil)
}

// WriteErrorWithDetails is WriteError with a details object in the body
func WriteErrorWithDetails(w http.ResponseWriter, err error, details any) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError, Details: details})
}

// Status returns the HTTP status an error maps to
func Status(err error) int {
	return toHTTPError(err).status
}

// toHTTPError converts an error to an httpError
func toHTTPError(err error) *httpError {
	// Check for specific error types
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	// Map model errors
	switch {
	case errors.Is(err, model.ErrInsufficientBalance):
		return &httpError{http.StatusConflict, APIError{CodeNoSpinsRemaining, "No spins remaining"}}
	case errors.Is(err, model.ErrSpinInProgress):
		return &httpError{http.StatusConflict, APIError{CodeSpinInProgress, "A spin is already in progress"}}
	case errors.Is(err, model.ErrUnknownPlayer):
		return &httpError{http.StatusNotFound, APIError{CodePlayerNotFound, "Player not found"}}
	case errors.Is(err, model.ErrInvalidAmount):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidAmount, "Amount must be a positive integer"}}
	case errors.Is(err, model.ErrInvalidNickname):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidNickname, "Nickname must be 1 to 32 characters"}}
	case errors.Is(err, model.ErrCreditFailure):
		return &httpError{http.StatusInternalServerError, APIError{CodeCreditFailure, "Spin was used but the reward is delayed; refresh your balance"}}

	// Map session errors
	case errors.Is(err, directory.ErrInvalidSession):
		return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Invalid or expired session"}}

	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Authentication required"}}
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) error {
	return &httpError{http.StatusForbidden, APIError{CodeForbidden, message}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}
