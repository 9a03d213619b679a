package validation

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type defaultValidator struct{ v *validator.Validate }

func (d *defaultValidator) Validate(i interface{}) error {
	return d.v.Struct(i)
}

// New returns an echo.Validator implementation. Field names in errors follow the json tag.
func New() echo.Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &defaultValidator{v: v}
}
