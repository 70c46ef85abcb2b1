// handlers/marketplace.go
package handlers

import (
	"greenchain-backend/middleware"
	"greenchain-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMarketplaceRoutes(app *fiber.App, businessService *services.BusinessService, redemptionService *services.RedemptionService) {
	// 🔓 Public directory reads — still behind the global Gateway check.
	app.Get("/businesses", businessService.GetAllBusinesses)
	app.Get("/businesses/:address", businessService.GetBusiness)

	// 🔐 Spending credits requires the caller's wallet identity.
	secured := app.Group("/", middleware.WalletContextMiddleware())
	secured.Post("/redemptions", redemptionService.RedeemTokens)
}
