package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"cgiserver/internal/http/middleware"
)

// errorPayload is the JSON body of every error response.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorKind struct {
	code    string
	message string
}

// errorKinds maps statuses raised as *fiber.Error to their public code and message.
var errorKinds = map[int]errorKind{
	fiber.StatusBadRequest:         {"BAD_REQUEST", "bad request"},
	fiber.StatusForbidden:          {"FORBIDDEN", "forbidden"},
	fiber.StatusNotFound:           {"NOT_FOUND", "resource not found"},
	fiber.StatusMethodNotAllowed:   {"METHOD_NOT_ALLOWED", "method not allowed"},
	fiber.StatusNotImplemented:     {"NOT_IMPLEMENTED", "unsupported method"},
	fiber.StatusServiceUnavailable: {"SERVICE_UNAVAILABLE", "service unavailable"},
}

var internalError = errorKind{"INTERNAL_ERROR", "internal server error"}

// writeError renders the error envelope with the request id. message must be safe to show to
// clients.
func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(errorPayload{
		RequestID: middleware.RequestIDFromCtx(c),
		Error:     errorEnvelope{Code: code, Message: message},
	})
}

// ErrorHandler renders errors that escape route handlers. Only *fiber.Error statuses listed in
// errorKinds keep their status; anything else becomes a 500 without details.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			if k, ok := errorKinds[fe.Code]; ok {
				return writeError(c, fe.Code, k.code, k.message)
			}
			if fe.Code < fiber.StatusInternalServerError {
				return writeError(c, fe.Code, "BAD_REQUEST", "bad request")
			}
			return writeError(c, fe.Code, internalError.code, internalError.message)
		}
		return writeError(c, fiber.StatusInternalServerError, internalError.code, internalError.message)
	}
}
