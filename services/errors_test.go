// services/errors_test.go
package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"greenchain-backend/models"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", models.ErrNotFound, fiber.StatusNotFound, "not_found"},
		{"invalid state", fmt.Errorf("%w: QR code is used", models.ErrInvalidState), fiber.StatusBadRequest, "invalid_state"},
		{"expired", models.ErrExpired, fiber.StatusBadRequest, "expired"},
		{"below threshold", models.ErrBelowThreshold, fiber.StatusBadRequest, "below_threshold"},
		{"not a center", models.ErrNotCenter, fiber.StatusForbidden, "not_a_center"},
		{"unreconciled", fmt.Errorf("%w: ledger reference 0xabc", models.ErrSettlementUnreconciled), fiber.StatusAccepted, "settlement_unreconciled"},
		{"ledger failure", fmt.Errorf("%w: reverted", models.ErrLedgerFailure), fiber.StatusInternalServerError, "ledger_failure"},
		{"plain error", errors.New("boom"), fiber.StatusInternalServerError, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/boom", func(c *fiber.Ctx) error {
				return respondError(c, tc.err)
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, resp.StatusCode)
			}

			var body struct {
				Error string `json:"error"`
				Code  string `json:"code"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, body.Code)
			}
			if body.Error == "" {
				t.Fatal("error message must not be empty")
			}
		})
	}
}
