package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"execCore/config"
	"execCore/internal/execution"
	"execCore/internal/ports"
)

const stopTimeout = 10 * time.Second

var (
	// ErrNodeRunning is returned by Start when the node is already running.
	ErrNodeRunning = errors.New("trading node is already running")
	// ErrNodeDisposed is returned by Start after Dispose.
	ErrNodeDisposed = errors.New("trading node is disposed")
)

// TradingNode owns the execution engine and the lifecycle of its venue clients.
type TradingNode struct {
	cfg    *config.Config
	logger ports.Logger
	engine *execution.Engine

	mu       sync.Mutex // Protects the lifecycle fields below
	cancel   context.CancelFunc
	runDone  chan error
	running  bool
	disposed bool
}

// NewTradingNode creates the engine from cfg and subscribes the event logger to it.
// repo and risk may be nil.
func NewTradingNode(
	cfg *config.Config,
	logger ports.Logger,
	clock ports.Clock,
	ids ports.IdentifierFactory,
	repo ports.ExecutionRepository,
	risk ports.PreTradeCheck,
) (*TradingNode, error) {

	// Validate dependencies
	if cfg == nil || logger == nil || clock == nil || ids == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingNode")
	}

	engine, err := execution.New(execution.Config{
		TraderID:      cfg.TraderID,
		Clock:         clock,
		IDs:           ids,
		Logger:        logger,
		Repository:    repo,
		PreTradeCheck: risk,
		NettingPolicy: cfg.NettingPolicy,
		QueueSize:     cfg.IngressQueueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create execution engine: %w", err)
	}
	engine.Subscribe(newEventLogger(logger))

	return &TradingNode{
		cfg:    cfg,
		logger: logger,
		engine: engine,
	}, nil
}

// Engine returns the node's execution engine. Clients use it as their event sink.
func (n *TradingNode) Engine() *execution.Engine { return n.engine }

// AddClient registers a venue client with the engine.
func (n *TradingNode) AddClient(c ports.ExecutionClient) error {
	if err := n.engine.RegisterClient(c); err != nil {
		return fmt.Errorf("failed to register execution client: %w", err)
	}
	n.logger.Info(context.Background(), "Execution client registered", map[string]interface{}{
		"venue":   c.Venue(),
		"account": c.AccountID().String(),
	})
	return nil
}

// Start restores state (when configured), connects all clients and starts the
// engine loop. The loop outlives ctx; it ends with Stop.
func (n *TradingNode) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.disposed {
		return ErrNodeDisposed
	}
	if n.running {
		return ErrNodeRunning
	}
	n.logger.Info(ctx, "Starting Trading Node...", map[string]interface{}{"traderID": n.cfg.TraderID})

	// 1. Restore persisted state before any venue event can arrive
	if n.cfg.LoadState {
		if err := n.engine.LoadState(ctx); err != nil {
			n.logger.Error(ctx, err, "Failed to load execution state")
			return fmt.Errorf("failed to load execution state: %w", err)
		}
	}

	// 2. Connect venue clients
	if err := n.engine.ConnectAll(ctx); err != nil {
		if derr := n.engine.DisconnectAll(ctx); derr != nil {
			n.logger.Warn(ctx, "Disconnect after failed start reported errors", map[string]interface{}{"error": derr.Error()})
		}
		n.engine.Drain(ctx)
		return fmt.Errorf("failed to connect execution clients: %w", err)
	}

	// 3. Start the engine loop
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	go func() {
		done <- n.engine.Run(runCtx)
	}()
	n.cancel = cancel
	n.runDone = done
	n.running = true

	n.logger.Info(ctx, "Trading Node started")
	return nil
}

// Stop halts the engine loop, disconnects all clients and applies any events
// still queued. Stopping a node that is not running is a no-op.
func (n *TradingNode) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return nil
	}
	n.logger.Info(ctx, "Stopping Trading Node...")

	n.cancel()
	select {
	case <-n.runDone:
	case <-ctx.Done():
		n.logger.Warn(ctx, "Timeout waiting for execution engine to stop")
		return ctx.Err()
	}
	n.running = false

	err := n.engine.DisconnectAll(ctx)
	applied := n.engine.Drain(ctx)

	stats := n.engine.Stats()
	n.logger.Info(ctx, "Trading Node stopped", map[string]interface{}{
		"drained":   applied,
		"commands":  stats.Commands,
		"events":    stats.Events,
		"applied":   stats.Applied,
		"dropped":   stats.Dropped,
		"faults":    stats.Faults,
		"persisted": stats.Persisted,
	})
	if err != nil {
		return fmt.Errorf("failed to disconnect execution clients: %w", err)
	}
	return nil
}

// Dispose stops the node if needed and releases all clients. It is idempotent.
func (n *TradingNode) Dispose() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := n.Stop(ctx); err != nil {
		n.logger.Error(ctx, err, "Error stopping Trading Node during dispose")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.disposed {
		return
	}
	n.engine.DisposeAll()
	n.disposed = true
	n.logger.Info(ctx, "Trading Node disposed")
}

// IsRunning reports whether the engine loop is running.
func (n *TradingNode) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// Run starts the node and blocks until ctx is cancelled or SIGINT/SIGTERM is
// received, then stops and disposes it.
func (n *TradingNode) Run(ctx context.Context) error {
	// Create a context that can be canceled by signals
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			n.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel() // Cancel the main context
		case <-ctx.Done():
		}
	}()

	if err := n.Start(ctx); err != nil {
		n.Dispose()
		return err
	}

	<-ctx.Done()
	n.logger.Info(ctx, "Main context cancelled, initiating shutdown...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	err := n.Stop(stopCtx)
	n.Dispose()
	return err
}
