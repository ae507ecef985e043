package main

import (
	"context"
	"time"

	"bursar/internal/fulfillment"
	"bursar/internal/handlers"
	"bursar/internal/ledger"
	"bursar/internal/payments"
	"bursar/internal/rates"
	"bursar/pkg/config"
	"bursar/pkg/database"
	"bursar/pkg/logging"
	"bursar/pkg/middleware"
	"bursar/pkg/monitoring"
	"bursar/pkg/server"
	"bursar/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("bursar")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Bursar (Payment Request API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	recipientAddress := config.RequireEnv("RECIPIENT_ADDRESS")
	solanaRPCURL := config.GetEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	fulfillmentURL := config.RequireEnv("FULFILLMENT_API_URL")
	fulfillmentKey := config.RequireEnv("FULFILLMENT_API_KEY")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bursar", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("solana_rpc", monitoring.HTTPServiceHealthCheck("solana_rpc", solanaRPCURL))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":        dbURL,
		"JWT_SECRET":          jwtSecret,
		"RECIPIENT_ADDRESS":   recipientAddress,
		"FULFILLMENT_API_URL": fulfillmentURL,
	}))

	metrics := handlers.NewBursarMetrics(metricsCollector)

	// Build the payment pipeline
	tokens := payments.DefaultTokens()
	store := payments.NewPGStore(db)
	rateSource := rates.NewCoinGecko(tokens, logger,
		rates.WithTTL(config.GetEnvDuration("RATE_CACHE_TTL", time.Minute)))
	oracle := payments.NewOracle(rateSource, tokens)
	ledgerClient := ledger.NewClient(solanaRPCURL)
	verifier := payments.NewVerifier(store, ledgerClient, tokens, logger)
	fulfiller := fulfillment.NewClient(fulfillmentURL, fulfillmentKey)

	svc := payments.NewService(store, oracle, verifier, tokens, fulfiller, logger, payments.Config{
		RecipientAddress: recipientAddress,
		Label:            config.GetEnv("MERCHANT_LABEL", "Bursar Store"),
		Message:          config.GetEnv("MERCHANT_MESSAGE", "Thanks for your order"),
		FiatCurrency:     config.GetEnv("FIAT_CURRENCY", "USD"),
		ExpiryWindow:     config.GetEnvDuration("PAYMENT_EXPIRY_WINDOW", 15*time.Minute),
	})
	poller := payments.NewPoller(svc, store, logger,
		config.GetEnvDuration("VERIFY_POLL_INTERVAL", 3*time.Second),
		config.GetEnvInt("VERIFY_MAX_POLLS", 20))

	// Initialize handlers
	handlers.Init(svc, store, poller, logger, metrics)

	// Start background jobs
	jobManager := handlers.NewJobManager(svc, logger, metrics)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobManager.Start(ctx)
	defer jobManager.Stop()

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	{
		// Customer endpoints (storefront JWT)
		protected := router.Group("")
		protected.Use(middleware.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			protected.GET("/tokens", handlers.GetSupportedTokens)
			protected.POST("/checkout", handlers.CreateCheckout)
			protected.GET("/payments", handlers.ListPayments)
			protected.GET("/payments/:id", handlers.GetPayment)
			protected.POST("/payments/:id/verify", handlers.VerifyPayment)
			protected.POST("/payments/:id/cancel", handlers.CancelPayment)
			protected.GET("/orders/:id", handlers.GetOrder)
		}

		// Provider webhook (relay authenticates with the service token)
		webhookAPI := router.Group("")
		webhookAPI.Use(middleware.ServiceAuthMiddleware(serviceToken))
		{
			webhookAPI.POST("/webhooks/fulfillment", handlers.HandleFulfillmentWebhook)
			webhookAPI.POST("/orders/:id/fulfillment/retry", handlers.RetryFulfillment)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("bursar", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
