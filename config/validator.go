package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate checks the struct tags declared on Config.
var validate = validator.New()

// FieldError describes one configuration field that failed validation.
type FieldError struct {
	Field   string
	Message string
	Value   any
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// FieldErrors collects every invalid field so operators can fix a bad
// config file in one pass instead of replaying startup per mistake.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, fieldErr := range e {
		sb.WriteString("  - ")
		sb.WriteString(fieldErr.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

// ValidateWithDetails validates cfg and reports every offending field.
func ValidateWithDetails(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var tagErrors validator.ValidationErrors
	if !errors.As(err, &tagErrors) {
		return err
	}
	details := make(FieldErrors, 0, len(tagErrors))
	for _, fe := range tagErrors {
		details = append(details, FieldError{
			Field:   fe.Namespace(),
			Message: describeTag(fe),
			Value:   fe.Value(),
		})
	}
	return details
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
