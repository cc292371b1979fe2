package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterAlias("themecolor", "hexcolor,len=4|len=7")
	return v
}

// Validator exposes the shared instance so the HTTP layer can bind with it.
func Validator() *validator.Validate { return validate }

// Validate checks the `validate` tags of a struct and reports failures as a
// *ValidationError.
func Validate(v any) error {
	return translate(validate.Struct(v))
}

// ValidateField checks a single value against tag and reports failures under
// field.
func ValidateField(field string, value any, tag string) error {
	err := validate.Var(value, tag)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: field, Error: message(field, fe)})
	}
	return NewValidationError(fields...)
}

func translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Error: message(fe.Field(), fe)})
	}
	return NewValidationError(fields...)
}

func message(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_with":
		return Required(field).Error
	case "email":
		return field + " must be a plain email address"
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "hexcolor", "themecolor":
		return field + " must be a hex color like #4f46e5"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "latitude", "longitude":
		return fmt.Sprintf("%s must be a valid %s", field, fe.Tag())
	}
	return field + " is invalid"
}

// MergeValidation folds the field errors of several validation results into
// one. Any other error is returned as is.
func MergeValidation(errs ...error) error {
	var fields []FieldError
	for _, err := range errs {
		if err == nil {
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		fields = append(fields, verr.Fields...)
	}
	if len(fields) == 0 {
		return nil
	}
	return NewValidationError(fields...)
}
