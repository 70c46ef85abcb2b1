// middleware/auth.go
package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// WalletContextMiddleware extracts the caller's wallet identity set by the
// Gateway after signature verification. Coordinators receive the claimant
// explicitly from this value; there is no ambient current-user lookup.
func WalletContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		wallet := strings.TrimSpace(c.Get("X-Wallet-Address"))
		if wallet == "" {
			log.Printf("❌ [WALLET_CTX] X-Wallet-Address required but missing on secured route: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Wallet-Address — request must come through gateway with auth context",
			})
		}

		// Addresses are stored lowercase throughout.
		c.Locals("wallet_address", strings.ToLower(wallet))
		return c.Next()
	}
}
