package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"points-reward-system/handlers"
	"points-reward-system/middleware"
	"points-reward-system/models"
	"points-reward-system/services"
	"points-reward-system/utils"
	"points-reward-system/workers"

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
	utils.InitLogger()
	defer utils.Logger.Sync()

	app := fiber.New(fiber.Config{})

	// GLOBAL: only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOrigins = "http://localhost:3000"
	}
	origins := strings.Split(allowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(origins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles, X-Username",
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
		&models.Account{},
		&models.LedgerEntry{},
		&models.Task{},
		&models.CompletionAttempt{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	relay := services.NewRelay()
	ledger := services.NewLedgerService(db, relay)
	if v := os.Getenv("SIGNUP_BONUS"); v != "" {
		if bonus, err := strconv.ParseInt(v, 10, 64); err == nil {
			ledger.SignupBonus = bonus
		}
	}
	tasks := services.NewTaskService(db, ledger)
	verifier := services.NewVerifierService(db, ledger, tasks)
	wallet := services.NewWalletService(db, ledger, nil) // payout collaborator wired by deployment

	sweeper := workers.NewSweeper(db, verifier)
	sched, err := sweeper.Start()
	if err != nil {
		log.Fatal("failed to start sweeper:", err)
	}

	rateLimit := middleware.WalletRateLimit(walletRatePerMinute())
	handlers.SetupTaskRoutes(app, tasks, verifier, ledger)
	handlers.SetupWalletRoutes(app, wallet, ledger, rateLimit)
	handlers.SetupAdminRoutes(app, wallet, tasks, ledger, db)
	handlers.SetupStreamRoutes(app, relay, ledger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":5300"
	}
	go func() {
		if err := app.Listen(addr); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Points service running on %s", addr)
	log.Println("✅ Attempt/retention sweeps running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")

	<-ctx.Done()
	log.Println("Shutting down server...")
	_ = sched.Shutdown()
	_ = app.Shutdown()
}

func walletRatePerMinute() int {
	if v := os.Getenv("WALLET_RATE_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 30
}
