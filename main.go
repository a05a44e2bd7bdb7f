package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"execCore/config"
	"execCore/internal/adapters/binanceclient"
	"execCore/internal/adapters/logger"
	"execCore/internal/adapters/sandbox"
	"execCore/internal/adapters/sqlite"
	"execCore/internal/app"
	"execCore/internal/clock"
	"execCore/internal/execution"
	"execCore/internal/idgen"
	"execCore/internal/ports"
	"execCore/internal/risk"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(logger.Options{
		Level:     cfg.LogLevel,
		TraderID:  string(cfg.TraderID),
		Component: "TradingNode",
	})
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger.WithComponent("SQLiteRepository"),
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Pre-Trade Checks
	riskManager, err := risk.NewRiskManager(risk.RiskConfig{
		MaxOrderQuantity: cfg.MaxOrderQuantity,
		MaxOrderNotional: cfg.MaxOrderNotional,
		MaxOpenOrders:    cfg.MaxOpenOrders,
	}, appLogger.WithComponent("RiskManager"))
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize risk manager")
		log.Fatalf("FATAL: Failed to initialize risk manager: %v", err)
	}

	// 5. Initialize Trading Node
	clk := clock.NewLiveClock()
	ids := idgen.New(cfg.DeterministicIDs)
	node, err := app.NewTradingNode(cfg, appLogger, clk, ids, repo, riskManager)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading node")
		log.Fatalf("FATAL: Failed to initialize trading node: %v", err)
	}
	appLogger.Info(context.Background(), "Trading node initialized")

	// 6. Initialize Execution Client (venue adapter)
	var client ports.ExecutionClient
	switch cfg.Venue {
	case config.VenueSandbox:
		client, err = sandbox.NewClient(sandbox.Config{
			AccountID: cfg.AccountID(),
			Sink:      node.Engine(),
			Clock:     clk,
			IDs:       ids,
			Logger:    appLogger.WithComponent("SandboxExecClient"),
		})
	default:
		client, err = binanceclient.New(binanceclient.Config{
			APIKey:         cfg.APIKey,
			SecretKey:      cfg.SecretKey,
			UseTestnet:     cfg.IsTestnet,
			AccountID:      cfg.AccountID(),
			Sink:           node.Engine(),
			Clock:          clk,
			IDs:            ids,
			Logger:         appLogger.WithComponent("BinanceExecClient"),
			RequestTimeout: cfg.RequestTimeout,
			Reconnect: execution.ReconnectPolicy{
				MinDelay:    cfg.ReconnectDelay,
				MaxAttempts: cfg.MaxReconnectAttempts,
			},
		})
	}
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize execution client", map[string]interface{}{"venue": cfg.Venue})
		log.Fatalf("FATAL: Failed to initialize execution client: %v", err)
	}
	if err := node.AddClient(client); err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to register execution client")
		log.Fatalf("FATAL: Failed to register execution client: %v", err)
	}

	// 7. Run the Node until SIGINT/SIGTERM
	if err := node.Run(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Trading node exited with error")
		log.Fatalf("FATAL: Trading node exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
