// Command sandbox runs a scripted bracket-order session against the in-process
// sandbox venue. Clock and event ids are fixed, so every run journals the same events.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"execCore/internal/adapters/logger"
	"execCore/internal/adapters/sandbox"
	"execCore/internal/adapters/sqlite"
	"execCore/internal/clock"
	"execCore/internal/domain"
	"execCore/internal/execution"
	"execCore/internal/idgen"
)

const (
	traderID   domain.TraderID   = "SANDBOX-001"
	strategyID domain.StrategyID = "BRACKET-001"
)

var start = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func main() {
	ctx := context.Background()

	// 1. Initialize Logger
	appLogger := logger.NewStdLogger(logger.Options{
		Level:     logger.ParseLevel(os.Getenv("LOG_LEVEL")),
		TraderID:  string(traderID),
		Component: "SandboxRun",
		Output:    os.Stdout,
		Plain:     true,
	})

	// 2. Deterministic clock and identifiers
	clk := clock.NewTestClock(start)
	ids := idgen.NewFixedFactory(idgen.DefaultFixedID)
	orderIDs := idgen.NewClientOrderIDGenerator(traderID, strategyID, clk)

	// 3. Initialize Repository
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = ":memory:"
	}
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: dbPath, Logger: appLogger.WithComponent("SQLiteRepository")})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

	// 4. Initialize Engine and Sandbox Venue
	engine, err := execution.New(execution.Config{
		TraderID:   traderID,
		Clock:      clk,
		IDs:        ids,
		Logger:     appLogger.WithComponent("ExecEngine"),
		Repository: repo,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize execution engine: %v", err)
	}

	account := domain.NewAccountID(sandbox.DefaultVenue, "001")
	venue, err := sandbox.NewClient(sandbox.Config{
		AccountID: account,
		Sink:      engine,
		Clock:     clk,
		IDs:       ids,
		Logger:    appLogger.WithComponent("SandboxExecClient"),
		Balances: []domain.Balance{{
			Currency: "USDT",
			Total:    decimal.NewFromInt(10000),
			Free:     decimal.NewFromInt(10000),
			Locked:   decimal.Zero,
		}},
		FeeRate: decimal.RequireFromString("0.0004"),
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize sandbox client: %v", err)
	}
	if err := engine.RegisterClient(venue); err != nil {
		log.Fatalf("FATAL: Failed to register sandbox client: %v", err)
	}
	// A persistent DB_PATH keeps earlier runs; continue their order id sequence.
	if err := engine.LoadState(ctx); err != nil {
		log.Fatalf("FATAL: Failed to load execution state: %v", err)
	}
	orderIDs.SetCount(len(engine.Orders()))
	if err := engine.ConnectAll(ctx); err != nil {
		log.Fatalf("FATAL: Failed to connect sandbox client: %v", err)
	}
	engine.Drain(ctx)

	// 5. Run the Script
	instrument := domain.NewInstrumentID("ETHUSDT", sandbox.DefaultVenue)
	venue.SetPrice(instrument, decimal.NewFromInt(2000))

	entryID := orderIDs.Next()
	spec := func(id domain.ClientOrderID, side domain.OrderSide, typ domain.OrderType, price, trigger string) domain.OrderSpec {
		s := domain.OrderSpec{
			ClientOrderID: id,
			InstrumentID:  instrument,
			Side:          side,
			Type:          typ,
			Quantity:      decimal.NewFromInt(1),
			TimeInForce:   domain.GTC,
		}
		if price != "" {
			s.Price = decimal.NewNullDecimal(decimal.RequireFromString(price))
		}
		if trigger != "" {
			s.Trigger = decimal.NewNullDecimal(decimal.RequireFromString(trigger))
		}
		return s
	}
	bracket := domain.SubmitBracketOrder{
		CommandHeader: domain.CommandHeader{ID: ids.Generate(), TraderID: traderID, StrategyID: strategyID, Timestamp: clk.Now()},
		Venue:         sandbox.DefaultVenue,
		AccountID:     account,
		Entry:         spec(entryID, domain.Buy, domain.Limit, "1990", ""),
		StopLoss:      spec(orderIDs.Next(), domain.Sell, domain.StopMarket, "", "1950"),
		TakeProfit:    spec(orderIDs.Next(), domain.Sell, domain.Limit, "2050", ""),
	}
	if err := engine.Execute(ctx, bracket); err != nil {
		log.Fatalf("FATAL: Bracket order was refused: %v", err)
	}
	engine.Drain(ctx)

	for _, px := range []string{"2010", "1995", "1990", "2020", "2049", "2050"} {
		if err := clk.AdvanceBy(time.Minute); err != nil {
			log.Fatalf("FATAL: Failed to advance clock: %v", err)
		}
		venue.SetPrice(instrument, decimal.RequireFromString(px))
		n := engine.Drain(ctx)
		appLogger.Info(ctx, "Price update", map[string]interface{}{"price": px, "events": n})
	}

	// 6. Report
	for _, o := range engine.Orders() {
		appLogger.Info(ctx, "Order", map[string]interface{}{
			"clientOrderId": o.ClientOrderID,
			"type":          o.Type,
			"side":          o.Side,
			"status":        o.Status,
			"avgPrice":      o.AvgPrice.String(),
		})
	}
	for _, p := range engine.Positions() {
		appLogger.Info(ctx, "Position", map[string]interface{}{
			"positionId":  p.ID,
			"netQty":      p.NetQty.String(),
			"realizedPnL": p.RealizedPnL.String(),
			"commissions": p.Commissions.String(),
		})
	}
	journaled, err := repo.CountEvents(ctx, "")
	if err != nil {
		appLogger.Error(ctx, err, "Failed to count journal events")
	}
	stats := engine.Stats()
	appLogger.Info(ctx, "Sandbox run finished", map[string]interface{}{
		"commands":  stats.Commands,
		"applied":   stats.Applied,
		"dropped":   stats.Dropped,
		"faults":    stats.Faults,
		"journaled": journaled,
	})

	if err := engine.DisconnectAll(ctx); err != nil {
		appLogger.Error(ctx, err, "Error disconnecting sandbox client")
	}
	engine.DisposeAll()
}
