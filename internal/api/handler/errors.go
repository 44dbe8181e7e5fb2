package handler

import (
	"net/http"

	"github.com/mcoot/lemonslots/internal/api/apierr"
)

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	apierr.WriteError(w, err)
}

// WriteErrorWithDetails writes an error response that also carries details
func WriteErrorWithDetails(w http.ResponseWriter, err error, details any) {
	apierr.WriteErrorWithDetails(w, err, details)
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return apierr.NewInvalidRequestError(message)
}
