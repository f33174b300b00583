package service

import (
	"github.com/HappyLadySauce/errors"
	"github.com/go-playground/validator/v10"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
)

var validate = validator.New()

// validateStruct runs struct-tag validation on a request DTO and maps
// failures onto the validation error code.
func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return errors.WithCode(code.ErrInvariantViolation, "%s", err.Error())
	}
	return nil
}
