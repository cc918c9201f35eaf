package v1

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report errors under the json field name, not the Go field name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationDetail describes one invalid field in a 400 response.
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

const errInvalidRequestData = "Invalid request data"

// respondValidationError renders the shared 400 contract:
// {"error":"Invalid request data","details":[{"field":...,"message":...}]}
func respondValidationError(c *fiber.Ctx, err error) error {
	details := validationDetails(err)
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{
		"error":   errInvalidRequestData,
		"details": details,
	})
}

// respondMalformedBody covers bodies that fail to parse at all.
func respondMalformedBody(c *fiber.Ctx) error {
	return c.Status(http.StatusBadRequest).JSON(fiber.Map{
		"error": errInvalidRequestData,
		"details": []ValidationDetail{
			{Field: "body", Message: "must be a valid JSON object"},
		},
	})
}

// respondServerError renders the shared 500 contract: {"error": message}.
func respondServerError(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": message,
	})
}

func validationDetails(err error) []ValidationDetail {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationDetail{{Field: "body", Message: err.Error()}}
	}

	details := make([]ValidationDetail, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details = append(details, ValidationDetail{
			Field:   fieldErr.Field(),
			Message: messageForTag(fieldErr),
		})
	}
	return details
}

func messageForTag(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fieldErr.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fieldErr.Param())
	default:
		return fmt.Sprintf("failed %s validation", fieldErr.Tag())
	}
}
