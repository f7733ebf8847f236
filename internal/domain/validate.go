package domain

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validatorInstance is a package-level validator instance.
// Using a single instance is more efficient as it caches struct information.
var validatorInstance = validator.New()

func init() {
	_ = validatorInstance.RegisterValidation("notblank", validateNotBlank)
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func validate(kind string, v any) error {
	if err := validatorInstance.Struct(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidation, kind, err)
	}
	return nil
}
