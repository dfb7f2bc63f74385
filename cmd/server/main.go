package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/marketpay/backend/docs"
	"github.com/marketpay/backend/internal/database"
	"github.com/marketpay/backend/internal/handlers"
	mW "github.com/marketpay/backend/internal/middleware"
	"github.com/marketpay/backend/internal/models"
	"github.com/marketpay/backend/internal/services"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title MarketPay Backend API
// @version 1.0
// @description Multi-tenant commerce backend with wallet ledger and atomic purchases
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

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
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")
	viper.BindEnv("settlement.currency", "SETTLEMENT_CURRENCY")

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	if err := viper.ReadInConfig(); err != nil {
		logrus.Warnf("Config file not found, using defaults: %v", err)
	}

	logrus.SetFormatter(&logrus.JSONFormatter{})

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "MarketPay Backend API"
	docs.SwaggerInfo.Description = "Multi-tenant commerce backend with wallet ledger and atomic purchases"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerStore := services.NewLedgerStore(db)
	walletService := services.NewWalletService(ledgerStore, redisClient)
	catalogService := services.NewCatalogService(db)
	purchaseService := services.NewPurchaseService(ledgerStore, walletService, catalogService)
	authService := services.NewAuthService(db, redisClient, ledgerStore)
	checkoutService := services.NewCheckoutService(redisClient)
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService, catalogService)
	settlementService := services.NewSettlementService(db, ledgerStore)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

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
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.RegisterCustomer)
		r.Post("/auth/register-merchant", authService.RegisterMerchant)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/items", catalogService.ListItems)
		r.Get("/items/{itemID}", catalogService.GetItemByID)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/users/me", authService.Me)

			// Wallet endpoints; handlers enforce owner-or-admin access
			r.Post("/wallets", walletService.CreateWallet)
			r.Get("/wallets/{ownerID}", walletService.GetWallet)
			r.Get("/wallets/{ownerID}/entries", walletService.ListWalletEntries)
			r.Post("/wallets/{ownerID}/credit", walletService.CreditWallet)
			r.Post("/wallets/{ownerID}/debit", walletService.DebitWallet)

			// Catalog endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleMerchant, models.RoleAdmin))
				r.Post("/items", catalogService.CreateItem)
				r.Put("/items/{itemID}", catalogService.UpdateItem)
				r.Delete("/items/{itemID}", catalogService.DeleteItem)
			})

			// Purchase endpoints
			r.Post("/purchase", purchaseService.CreatePurchase)
			r.Get("/transactions", purchaseService.ListTransactions)
			r.Get("/transactions/{txID}", purchaseService.GetTransaction)

			// QR checkout endpoints
			r.Get("/items/{itemID}/checkout-qr", checkoutHandler.GenerateItemQR)
			r.Post("/checkout/scan", checkoutHandler.ScanCheckout)

			// Settlement export endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleMerchant, models.RoleAdmin))
				r.Post("/settlement/export", settlementService.ExportSettlement)
			})
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
		logrus.WithField("component", "server").Infof("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server stopped")
}
