package services

import (
	"github.com/go-playground/validator/v10"
	"github.com/moin0420/hybrid-app/internal/entities"
)

func newValidator() (*validator.Validate, error) {
	validate := validator.New()
	err := validate.RegisterValidation("requirement_status", func(fl validator.FieldLevel) bool {
		return entities.Status(fl.Field().String()).IsValid()
	})
	if err != nil {
		return nil, err
	}
	return validate, nil
}
