// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"log"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GatewayAuthMiddleware admits only requests carrying the shared service
// token the Gateway attaches. The comparison is constant-time so response
// timing leaks nothing about the token.
func GatewayAuthMiddleware() fiber.Handler {
	expectedToken := os.Getenv("GREEN_SERVICE_TOKEN")
	if expectedToken == "" {
		log.Fatal("❌ GREEN_SERVICE_TOKEN is not set — service cannot authenticate Gateway")
	}

	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get("Authorization"))
		if token == "" {
			log.Printf("🚫 [GATEWAY_AUTH] Missing Authorization header for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			log.Printf("❌ [GATEWAY_AUTH] Invalid token for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}

		return c.Next()
	}
}

// bearerToken strips an optional "Bearer " prefix; the Gateway has sent both
// forms over time.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return header
}
