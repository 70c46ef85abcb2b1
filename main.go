package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"greenchain-backend/handlers"
	"greenchain-backend/ledger"
	"greenchain-backend/middleware"
	"greenchain-backend/models"
	"greenchain-backend/services"
	"greenchain-backend/utils"
	"greenchain-backend/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-Wallet-Address",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.QRCode{},
		&models.Transaction{},
		&models.PendingSettlement{},
		&models.User{},
		&models.RecyclingCenter{},
		&models.Business{},
		&models.LeaderboardSnapshot{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// QR images are optional: without R2 the service runs image-less.
	if err := utils.InitR2(); err != nil {
		log.Printf("⚠️  R2 not configured, QR images disabled: %v", err)
	}

	// --- CONFIGURE Blockchain Ledger Client ---
	rpcURL := os.Getenv("BLOCKCHAIN_RPC_URL")
	if rpcURL == "" {
		log.Fatal("BLOCKCHAIN_RPC_URL environment variable not set")
	}
	contractAddress := os.Getenv("GREEN_TOKEN_CONTRACT_ADDRESS")
	if contractAddress == "" {
		log.Fatal("GREEN_TOKEN_CONTRACT_ADDRESS environment variable not set")
	}
	operatorKey := os.Getenv("OPERATOR_PRIVATE_KEY")
	if operatorKey == "" {
		log.Fatal("OPERATOR_PRIVATE_KEY environment variable not set")
	}
	ledgerClient, err := ledger.NewClient(rpcURL, contractAddress, operatorKey)
	if err != nil {
		log.Fatal("failed to initialize ledger client:", err)
	}
	// --- END CONFIG ---

	qrService := services.NewQRService(db, ledgerClient)
	settlementService := services.NewSettlementService(db, ledgerClient)
	redemptionService := services.NewRedemptionService(db, ledgerClient)
	leaderboardService := services.NewLeaderboardService(db)
	businessService := services.NewBusinessService(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Reconciliation sweep: resolves settlements whose ledger call timed
	// out or whose mirror write failed. Never resubmits to the ledger.
	reconciler := workers.NewSettlementReconciler(db, ledgerClient)
	go workers.PollSettlements(ctx, reconciler, 15*time.Second)

	qrService.StartExpirySweep()

	handlers.SetupClaimRoutes(app, qrService, settlementService)
	handlers.SetupMarketplaceRoutes(app, businessService, redemptionService)
	handlers.SetupLeaderboardRoutes(app, leaderboardService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ GreenChain API running on http://localhost:%s", port)
	log.Println("✅ Settlement reconciliation sweep running (every 15s)")
	log.Println("✅ QR expiry sweep running (every 1m)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
