package middleware

import (
	"errors"

	"autolist-backend/internal/infrastructure/repository"
	"autolist-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// StatusFor maps a data layer error to an HTTP status.
func StatusFor(err error) int {
	var (
		fe  *fiber.Error
		ve  *repository.ValidationError
		kre *repository.KnownRequestError
		ie  *repository.InitializationError
	)
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.As(err, &ve):
		return fiber.StatusBadRequest
	case errors.As(err, &kre):
		switch kre.Code {
		case repository.CodeRecordNotFound:
			return fiber.StatusNotFound
		case repository.CodeUniqueViolation, repository.CodeForeignKeyViolation:
			return fiber.StatusConflict
		case repository.CodeNotNullViolation:
			return fiber.StatusBadRequest
		case repository.CodeTransactionTimeout, repository.CodeTransactionWait:
			return fiber.StatusRequestTimeout
		}
	case errors.As(err, &ie):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// WriteError sends err in the standard error envelope. Unclassified errors
// are logged and their message is not exposed.
func WriteError(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	details := map[string]interface{}{}
	message := err.Error()

	var (
		ve  *repository.ValidationError
		kre *repository.KnownRequestError
		ie  *repository.InitializationError
	)
	switch {
	case errors.As(err, &ve):
		details["code"] = "VALIDATION_ERROR"
		details["model"] = ve.Model
		if ve.Field != "" {
			details["field"] = ve.Field
		}
	case errors.As(err, &kre):
		details["code"] = kre.Code
		details["model"] = kre.Model
		if len(kre.Target) > 0 {
			details["target"] = kre.Target
		}
	case errors.As(err, &ie):
		details["code"] = "UNAVAILABLE"
	}

	if status >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("trace_id", GetTraceID(c)).Str("path", c.Path()).Msg("request failed")
		if _, ok := details["code"]; !ok {
			details["code"] = "INTERNAL"
		}
		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
		case ie != nil:
			message = "Service Unavailable"
		default:
			message = "Internal Server Error"
		}
	}
	c.Locals(errorMessageLocal, err.Error())
	return response.Error(c, message, status, details)
}

// ErrorHandler is the app-wide fiber error handler.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return WriteError(c, err)
}
