package utils

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type ValidationService struct {
	validator *validator.Validate
}

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func NewValidationService() *ValidationService {
	v := validator.New()

	// Register custom validators
	v.RegisterValidation("coordinate", validateCoordinate)
	v.RegisterValidation("volunteer_status", validateVolunteerStatus)

	return &ValidationService{
		validator: v,
	}
}

func (vs *ValidationService) ValidateStruct(s interface{}) []ValidationError {
	var validationErrors []ValidationError

	err := vs.validator.Struct(s)
	if err != nil {
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, ValidationError{
				Field:   err.Field(),
				Tag:     err.Tag(),
				Value:   fmt.Sprintf("%v", err.Value()),
				Message: vs.getErrorMessage(err),
			})
		}
	}

	return validationErrors
}

func (vs *ValidationService) getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", fe.Field(), fe.Param())
	case "coordinate":
		return "Invalid coordinate value"
	case "volunteer_status":
		return "Invalid volunteer status"
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func validateCoordinate(fl validator.FieldLevel) bool {
	value := fl.Field().Float()
	return value >= -180 && value <= 180
}

func validateVolunteerStatus(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "responding", "enRoute", "arrived", "verified", "assisting", "completed", "unavailable":
		return true
	}
	return false
}
