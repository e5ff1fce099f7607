package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/hyperion-ledger/hyperion/docs"
	"github.com/hyperion-ledger/hyperion/internal/config"
	"github.com/hyperion-ledger/hyperion/internal/database"
	"github.com/hyperion-ledger/hyperion/internal/handlers"
	mW "github.com/hyperion-ledger/hyperion/internal/middleware"
	"github.com/hyperion-ledger/hyperion/internal/services"
)

// @title Hyperion Ledger API
// @version 1.0
// @description Virtual currency ledger with double-entry accounting
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("currency.name", "CURRENCY_NAME")
	viper.BindEnv("currency.singular_form", "CURRENCY_SINGULAR_FORM")
	viper.BindEnv("currency.plural_form", "CURRENCY_PLURAL_FORM")
	viper.BindEnv("currency.shortcode", "CURRENCY_SHORTCODE")
	viper.BindEnv("currency.owner_id", "CURRENCY_OWNER_ID")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Hyperion Ledger API"
	docs.SwaggerInfo.Description = "Virtual currency ledger with double-entry accounting"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	cfg := config.LoadLedgerConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	currencyID, err := services.EnsureCurrency(db)
	if err != nil {
		log.Fatalf("Failed to ensure currency: %v", err)
	}

	if err := services.EnsureIntegration(db, currencyID); err != nil {
		log.Fatalf("Failed to ensure integration: %v", err)
	}

	accountService := services.NewAccountService(db, redisClient, currencyID, cfg.AccountCacheTTL)
	transactionService := services.NewTransactionService(db, accountService, currencyID)
	ledgerService := services.NewLedgerService(db, accountService, transactionService)
	integrationService := services.NewIntegrationService(db, cfg.ConnectionTTL)
	allowanceService := services.NewAllowanceService(db, ledgerService, transactionService, cfg)
	paymentRequestService := services.NewPaymentRequestService(db, redisClient, transactionService, cfg.PaymentRequestTTL)
	paymentRequestHandler := handlers.NewPaymentRequestHandler(paymentRequestService)

	if err := accountService.EnsureSystemAccount(cfg.PayoutAccountID, "Recurring Payout"); err != nil {
		log.Fatalf("Failed to ensure payout account: %v", err)
	}

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient, db)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.IntegrationAuth)

			r.Post("/accounts", accountService.OpenAccount)
			r.Get("/accounts/{id}", accountService.GetAccount)
			r.Get("/accounts/{id}/allowance", allowanceService.GetAllowance)
			r.Post("/accounts/{id}/allowance/claim", allowanceService.ClaimAllowance)

			r.Get("/transactions", transactionService.ListTransactions)
			r.Post("/transactions", transactionService.CreateTransaction)
			r.Get("/transactions/{id}", transactionService.GetTransaction)
			r.Post("/transactions/{id}/execute", ledgerService.ExecuteTransaction)

			r.Get("/integration", integrationService.GetIntegration)
			r.Get("/integration/currency", integrationService.GetCurrency)
			r.Post("/integration/connection", integrationService.CreateConnection)
			r.Get("/integration/connection", integrationService.GetConnection)

			r.Post("/payment-requests", paymentRequestHandler.Create)
			r.Post("/payment-requests/{code}/redeem", paymentRequestHandler.Redeem)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
