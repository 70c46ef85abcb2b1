// handlers/leaderboard.go
package handlers

import (
	"greenchain-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupLeaderboardRoutes(app *fiber.App, leaderboardService *services.LeaderboardService) {
	// 🔓 Rankings are public reads served from the snapshot cache.
	app.Get("/leaderboard/:period", leaderboardService.GetLeaderboard)
}
