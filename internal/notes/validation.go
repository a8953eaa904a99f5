package notes

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// Limits enforced by the NoteRequest tags.
const (
	MaxTitleLen = 200
	MaxTextLen  = 10000
)

// newValidator builds the NoteRequest validator. notpast compares against
// today, which is read on every check.
func newValidator(today func() Date) *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("notpast", func(fl validator.FieldLevel) bool {
		d, err := ParseDate(fl.Field().String())
		if err != nil {
			return false
		}
		return !d.Before(today())
	})
	return v
}

// check validates req and returns its parsed date. Only the first failing
// field is reported.
func (s *Store) check(req NoteRequest) (Date, error) {
	if err := s.validate.Struct(req); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			return Date{}, fieldError(fields[0])
		}
		return Date{}, fmt.Errorf("validate note: %w", err)
	}
	return ParseDate(req.Date)
}

func fieldError(fe validator.FieldError) *ValidationError {
	field := fe.Field()
	var reason string
	switch fe.Tag() {
	case "notblank", "required":
		reason = field + " is required"
	case "max":
		reason = fmt.Sprintf("%s exceeds %s characters", field, fe.Param())
	case "datetime":
		reason = field + " must be in YYYY-MM-DD format"
	case "notpast":
		reason = field + " must be today or later"
	default:
		reason = field + " is invalid"
	}
	return &ValidationError{Field: field, Reason: reason}
}
