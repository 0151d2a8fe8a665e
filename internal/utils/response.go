package utils

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"
)

// APIResponse is the envelope shared by every REST endpoint. Failed requests
// carry the reason in both message and error.
type APIResponse struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Message string       `json:"message"`
	Error   string       `json:"error,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// FieldError names one rejected request field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// SendSuccess writes a 200 envelope.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendCreated writes a 201 envelope.
func SendCreated(c *fiber.Ctx, message string, data interface{}) error {
	return SendSuccessWithStatus(c, fiber.StatusCreated, message, data)
}

// SendSuccessWithStatus writes a success envelope with an explicit status.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	if status == 0 {
		status = fiber.StatusOK
	}
	if message == "" {
		message = "ok"
	}
	return c.Status(status).JSON(APIResponse{Success: true, Data: data, Message: message})
}

// SendError writes a failure envelope.
func SendError(c *fiber.Ctx, status int, message string) error {
	if message == "" {
		message = strings.ToLower(fiberutils.StatusMessage(status))
	}
	if message == "" {
		message = "error"
	}
	return c.Status(status).JSON(APIResponse{Success: false, Message: message, Error: message})
}

// SendValidationError writes a 400 envelope. Validator failures are expanded
// into per-field entries; any other error is reported verbatim.
func SendValidationError(c *fiber.Ctx, err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return SendError(c, fiber.StatusBadRequest, err.Error())
	}

	fields := make([]FieldError, 0, len(validationErrs))
	names := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
		names = append(names, fe.Field())
	}

	message := "invalid " + strings.Join(names, ", ")
	return c.Status(fiber.StatusBadRequest).JSON(APIResponse{
		Success: false,
		Message: message,
		Error:   message,
		Fields:  fields,
	})
}
