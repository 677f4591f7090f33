package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

// Struct validates s and flattens the first failure into a readable message.
func (r *requestValidator) Struct(s any) error {
	err := r.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "min":
		return fmt.Errorf("%s must contain at least %s item(s)", fe.Field(), fe.Param())
	case "nefield":
		return fmt.Errorf("%s must differ from %s", fe.Field(), strings.ToLower(fe.Param()))
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}
