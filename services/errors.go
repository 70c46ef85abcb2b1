// services/errors.go
package services

import (
	"errors"

	"greenchain-backend/models"

	"github.com/gofiber/fiber/v2"
)

// respondError maps coordinator errors onto the HTTP surface. Every error
// carries a stable code plus a human message; partial success is never
// reported as success.
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrExpired),
		errors.Is(err, models.ErrBelowThreshold):
		status = fiber.StatusBadRequest
	case errors.Is(err, models.ErrNotCenter):
		status = fiber.StatusForbidden
	case errors.Is(err, models.ErrSettlementUnreconciled):
		// Ledger-side success with incomplete mirror: the caller sees a
		// processing state, never a retry-safe failure.
		status = fiber.StatusAccepted
	case errors.Is(err, models.ErrLedgerFailure):
		status = fiber.StatusInternalServerError
	}

	var coded *models.CodedError
	if errors.As(err, &coded) {
		return c.Status(status).JSON(fiber.Map{"error": err.Error(), "code": coded.Code})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
