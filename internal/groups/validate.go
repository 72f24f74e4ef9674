package groups

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError describes one problem found in a catalog.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is returned by Validate.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("catalog validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that every group has an id, ids are unique, there is at
// least one group and every recipient is an e-mail address.
func Validate(c *Catalog) error {
	if c == nil {
		return ValidationErrors{{Field: "groups", Message: "catalog is empty"}}
	}
	if err := validate.Struct(c); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return translate(validationErrs)
		}
		return err
	}
	return nil
}

func translate(errs validator.ValidationErrors) ValidationErrors {
	var out ValidationErrors
	for _, err := range errs {
		field := strings.TrimPrefix(err.Namespace(), "Catalog.")
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = "is required"
		case "min":
			message = fmt.Sprintf("must contain at least %s group(s)", err.Param())
		case "unique":
			message = "group ids must be unique"
		case "email":
			message = fmt.Sprintf("%q is not a valid e-mail address", err.Value())
		}

		out = append(out, FieldError{Field: field, Message: message})
	}
	return out
}
