package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	"github.com/go-playground/validator/v10"
)

var (
	ErrBodyMissing = errors.New("request body is missing")
	ErrInvalidJSON = errors.New("invalid JSON payload")
)

// ValidationError reports the first field that failed validation
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

// Global validator instance (reused across all handlers)
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON names rather than Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// bcrypt rejects inputs longer than 72 bytes
	if err := v.RegisterValidation("bcryptmax", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= pkgauth.MaxPasswordBytes
	}); err != nil {
		panic(err)
	}

	return v
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,bcryptmax"`
	Name     string `json:"name" validate:"required"`
}

// ParseRegister decodes and validates a registration body
func ParseRegister(raw []byte) (*RegisterRequest, error) {
	var req RegisterRequest
	if err := decodeBody(raw, &req); err != nil {
		return nil, err
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)

	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ParseLogin decodes and validates a login body. Password length is not
// checked here so a short wrong password is an authentication failure.
func ParseLogin(raw []byte) (*LoginRequest, error) {
	var req LoginRequest
	if err := decodeBody(raw, &req); err != nil {
		return nil, err
	}

	req.Email = strings.TrimSpace(req.Email)

	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	return &req, nil
}

func decodeBody(raw []byte, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ErrBodyMissing
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

// ValidateRequest validates a request struct using go-playground/validator.
// It returns a *ValidationError for the first failing field.
func ValidateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return &ValidationError{
			Field:   ve[0].Field(),
			Message: formatValidationError(ve[0]),
		}
	}
	return fmt.Errorf("validation failed: %w", err)
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	case "bcryptmax":
		return fmt.Sprintf("must be at most %d bytes", pkgauth.MaxPasswordBytes)
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
