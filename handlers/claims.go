// handlers/claims.go
package handlers

import (
	"greenchain-backend/middleware"
	"greenchain-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupClaimRoutes(app *fiber.App, qrService *services.QRService, settlementService *services.SettlementService) {
	// 🔐 All claim routes require a wallet identity from the Gateway.
	secured := app.Group("/", middleware.WalletContextMiddleware())

	// Centers issue and cancel; users scan, settle and read history.
	secured.Post("/claims", qrService.GenerateQR)
	secured.Post("/claims/scan", qrService.ScanQR)
	secured.Post("/claims/settle", settlementService.SubmitRecycling)
	secured.Post("/claims/:id/cancel", qrService.CancelQR)
	secured.Get("/claims/history", settlementService.GetHistory)
}
