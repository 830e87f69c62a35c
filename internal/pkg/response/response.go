package response

import (
	"errors"

	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// SuccessBody is the standardized success JSON shape.
type SuccessBody struct {
	Status   string      `json:"status"`
	Message  string      `json:"message"`
	Data     interface{} `json:"data"`
	Metadata interface{} `json:"metadata,omitempty"`
}

// ErrorBody is the standardized error JSON shape.
type ErrorBody struct {
	Status string      `json:"status"`
	Error  ErrorDetail `json:"error"`
}

// ErrorDetail is the nested error object.
type ErrorDetail struct {
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode"`
	Details    interface{} `json:"details,omitempty"`
}

const statusSuccess = "success"
const statusError = "error"

// Success sends a 200 OK response with the standard success format.
func Success(c *fiber.Ctx, message string, data interface{}, metadata interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return c.Status(fiber.StatusOK).JSON(SuccessBody{
		Status:   statusSuccess,
		Message:  message,
		Data:     data,
		Metadata: metadata,
	})
}

// SuccessCreated sends a 201 Created response with the standard success format.
func SuccessCreated(c *fiber.Ctx, message string, data interface{}, metadata interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return c.Status(fiber.StatusCreated).JSON(SuccessBody{
		Status:   statusSuccess,
		Message:  message,
		Data:     data,
		Metadata: metadata,
	})
}

// Error sends a response with the standard error format.
func Error(c *fiber.Ctx, message string, statusCode int, details interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	return c.Status(statusCode).JSON(ErrorBody{
		Status: statusError,
		Error: ErrorDetail{
			Message:    message,
			StatusCode: statusCode,
			Details:    details,
		},
	})
}

// Unauthorized sends 401 with the same shape as other errors (status "error", error.message).
// Use this for auth middleware so all errors are consistent.
func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, message, fiber.StatusUnauthorized, nil)
}

// StatusFor maps a domain error kind to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds):
		return fiber.StatusPaymentRequired
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoAssessmentAvailable):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, domain.ErrNoMilestonesRemaining),
		errors.Is(err, domain.ErrInsufficientListingQuantity):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrIneligibleBorrower):
		return fiber.StatusUnprocessableEntity
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

// FromError sends err in the standard error format with the status of its kind.
// Unknown errors are reported as 500 without leaking their text.
func FromError(c *fiber.Ctx, err error) error {
	code := StatusFor(err)
	if code == fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		return Error(c, "Internal Server Error", code, nil)
	}
	details := map[string]interface{}{}
	if fields := validation.Fields(err); fields != nil {
		details["fields"] = fields
	}
	var de *domain.Error
	if errors.As(err, &de) {
		details["kind"] = de.Kind.Error()
		if de.Entity != "" {
			details["entity"] = de.Entity
		}
		if de.ID != "" {
			details["id"] = de.ID
		}
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return Error(c, fe.Message, code, details)
	}
	return Error(c, domain.Detail(err), code, details)
}
