package validation

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// Fields maps each failing field to the rules it broke. It returns nil when err carries no
// validation errors.
func Fields(err error) map[string][]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = append(fields[fe.Field()], fe.Tag())
	}
	return fields
}
