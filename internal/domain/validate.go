package domain

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is shared; validator caches struct metadata per type.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json names so errors match request payload fields
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateEmail checks the syntax of an email address.
func ValidateEmail(email string) error {
	if err := validate.Var(email, "required,email"); err != nil {
		return Invalid("email", "must be a valid email address")
	}
	return nil
}
