package services

import (
	"errors"
	"net/http"
)

// Business error taxonomy. Storage faults are anything not wrapped in one of
// these; they surface as 500s and are never retried by the engine.
var (
	ErrConflict          = errors.New("already exists")
	ErrNotFound          = errors.New("not found")
	ErrInvalidAmount     = errors.New("amount must be a positive integer")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidState      = errors.New("transaction is not pending")
)

// StatusForError maps the taxonomy onto HTTP status codes.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
