package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/media-store/services/storefront/internal/service"
)

const (
	msgUnavailable  = "payment service unavailable, try again"
	msgDeclined     = "payment not completed"
	msgPending      = "payment pending"
	msgLinkInvalid  = "link invalid or expired"
	msgInternal     = "internal error"
	msgBadProduct   = "invalid product"
	msgBadContact   = "invalid email address"
	msgMismatch     = "order does not match product"
	msgBuyer        = "order does not match buyer"
	msgUnknownOrder = "unknown order"
)

// StatusFor maps a service error to the HTTP status and the message shown
// to the client. Processor internals never reach the message.
func StatusFor(err error) (int, string) {
	var (
		gatewayErr  *service.GatewayError
		declinedErr *service.DeclinedError
		deniedErr   *service.DeniedError
	)

	switch {
	case errors.Is(err, service.ErrUnknownProduct):
		return fiber.StatusBadRequest, msgBadProduct
	case errors.Is(err, service.ErrInvalidContact):
		return fiber.StatusBadRequest, msgBadContact
	case errors.Is(err, service.ErrUnknownRemoteOrder):
		return fiber.StatusBadRequest, msgUnknownOrder
	case errors.Is(err, service.ErrProductMismatch):
		return fiber.StatusConflict, msgMismatch
	case errors.Is(err, service.ErrContactMismatch):
		return fiber.StatusConflict, msgBuyer
	case errors.Is(err, service.ErrPaymentPending):
		return fiber.StatusAccepted, msgPending
	case errors.As(err, &declinedErr):
		return fiber.StatusPaymentRequired, msgDeclined
	case errors.As(err, &deniedErr):
		return fiber.StatusForbidden, msgLinkInvalid
	case errors.As(err, &gatewayErr):
		return fiber.StatusServiceUnavailable, msgUnavailable
	default:
		return fiber.StatusInternalServerError, msgInternal
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status, msg := StatusFor(err)

	if status == fiber.StatusAccepted {
		return c.Status(status).JSON(fiber.Map{
			"status":  "pending",
			"message": msg,
		})
	}

	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

// inputError is a request body that failed parsing or validation.
type inputError struct {
	msg     string
	details map[string]string
}

func (e *inputError) Error() string { return e.msg }

func writeInputError(c *fiber.Ctx, err *inputError) error {
	body := fiber.Map{"error": err.msg}
	if len(err.details) > 0 {
		body["details"] = err.details
	}

	return c.Status(fiber.StatusBadRequest).JSON(body)
}
