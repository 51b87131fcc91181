package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

func FormatValidationError(err error) map[string]string {
	errs := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		errs["body"] = "request is invalid"
		return errs
	}

	for _, err := range validationErrors {
		field := strings.ToLower(err.Field())

		switch err.Tag() {
		case "required":
			errs[field] = fmt.Sprintf("%s is required", field)
		case "email":
			errs[field] = fmt.Sprintf("%s must be a valid email address", field)
		case "min":
			errs[field] = fmt.Sprintf("%s must be at least %s characters", field, err.Param())
		case "max":
			errs[field] = fmt.Sprintf("%s must be at most %s characters", field, err.Param())
		case "url":
			errs[field] = fmt.Sprintf("%s must be a valid URL", field)
		default:
			errs[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return errs
}
