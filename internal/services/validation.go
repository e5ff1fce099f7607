package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse is the wire shape every client expects for failures.
type ErrorResponse struct {
	Detail string `json:"detail"` // Human-readable error message
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends the {"detail": ...} error shape with the given
// status. Validation errors are folded into the detail string.
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	detail := message
	if verrs, ok := validationErr.(validator.ValidationErrors); ok {
		parts := make([]string, 0, len(verrs))
		for _, err := range verrs {
			parts = append(parts, fmt.Sprintf("field '%s' failed on '%s'", err.Field(), err.Tag()))
		}
		detail = fmt.Sprintf("%s: %s", message, strings.Join(parts, "; "))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Detail: detail})
}
