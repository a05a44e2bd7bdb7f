// Package execution routes strategy commands to venue clients and applies venue
// events to engine-owned order, position and account state.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"execCore/internal/domain"
	"execCore/internal/ports"
)

const defaultQueueSize = 1024

// Config holds the dependencies of an Engine.
type Config struct {
	TraderID      domain.TraderID
	Clock         ports.Clock
	IDs           ports.IdentifierFactory
	Logger        ports.Logger
	Repository    ports.ExecutionRepository // optional
	PreTradeCheck ports.PreTradeCheck       // optional
	NettingPolicy domain.NettingPolicy
	QueueSize     int // ingress backlog size that triggers a warning
}

// Engine is the sole authority over orders, positions and accounts.
// All mutations happen on one logical thread: either the goroutine running Run,
// or the caller of Execute/Process/Drain when Run is not used.
type Engine struct {
	traderID domain.TraderID
	clock    ports.Clock
	ids      ports.IdentifierFactory
	logger   ports.Logger
	repo     ports.ExecutionRepository
	risk     ports.PreTradeCheck

	inbox *ingress

	mu       sync.RWMutex // guards the maps below for readers on other goroutines
	clients  map[domain.Venue]ports.ExecutionClient
	orders   map[domain.ClientOrderID]*domain.Order
	brackets map[domain.ClientOrderID]*domain.BracketOrder // keyed by every leg id
	accounts map[domain.AccountID]*domain.Account
	book     *positionBook

	subscribers []ports.Subscriber
	publishing  int
	deferred    []deferredCommand

	stats Stats
}

// Stats counts what the engine did with its input.
type Stats struct {
	Commands  int `json:"commands"`
	Events    int `json:"events"`
	Applied   int `json:"applied"`
	Dropped   int `json:"dropped"`
	Faults    int `json:"faults"`
	Deferred  int `json:"deferred"`
	Persisted int `json:"persisted"`
}

type deferredCommand struct {
	cmd         domain.Command
	contingent  bool // synthesized for a bracket; skipped when no longer needed
	description string
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for execution engine")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("%w: clock is required for execution engine", ports.ErrConfigurationError)
	}
	if cfg.IDs == nil {
		return nil, fmt.Errorf("%w: identifier factory is required for execution engine", ports.ErrConfigurationError)
	}
	if cfg.TraderID == "" {
		return nil, fmt.Errorf("%w: trader id is required for execution engine", ports.ErrConfigurationError)
	}
	switch cfg.NettingPolicy {
	case "":
		cfg.NettingPolicy = domain.Netting
	case domain.Netting, domain.Hedging:
	default:
		return nil, fmt.Errorf("%w: unknown netting policy '%s'", ports.ErrConfigurationError, cfg.NettingPolicy)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	return &Engine{
		traderID: cfg.TraderID,
		clock:    cfg.Clock,
		ids:      cfg.IDs,
		logger:   cfg.Logger,
		repo:     cfg.Repository,
		risk:     cfg.PreTradeCheck,
		inbox:    newIngress(cfg.QueueSize),
		clients:  make(map[domain.Venue]ports.ExecutionClient),
		orders:   make(map[domain.ClientOrderID]*domain.Order),
		brackets: make(map[domain.ClientOrderID]*domain.BracketOrder),
		accounts: make(map[domain.AccountID]*domain.Account),
		book:     newPositionBook(cfg.NettingPolicy),
	}, nil
}

// TraderID returns the trader the engine executes for.
func (e *Engine) TraderID() domain.TraderID { return e.traderID }

// NettingPolicy returns the configured position netting policy.
func (e *Engine) NettingPolicy() domain.NettingPolicy { return e.book.policy }

// Subscribe registers s to receive every published event. Not safe to call while Run is active.
func (e *Engine) Subscribe(s ports.Subscriber) {
	e.subscribers = append(e.subscribers, s)
}

// RegisterClient adds the client for its venue. One client per venue.
func (e *Engine) RegisterClient(c ports.ExecutionClient) error {
	if c == nil {
		return fmt.Errorf("%w: nil execution client", ports.ErrInvalidRequest)
	}
	if c.AccountID().Issuer != c.Venue() {
		return fmt.Errorf("%w: account %s on client for %s", ports.ErrAccountVenueMismatch, c.AccountID(), c.Venue())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.clients[c.Venue()]; exists {
		return fmt.Errorf("%w: %s", ports.ErrDuplicateClient, c.Venue())
	}
	e.clients[c.Venue()] = c
	e.logger.Info(context.Background(), "Execution client registered", map[string]interface{}{"venue": c.Venue(), "account": c.AccountID().String()})
	return nil
}

// DeregisterClient removes the client for venue.
func (e *Engine) DeregisterClient(venue domain.Venue) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.clients[venue]; !exists {
		return fmt.Errorf("%w: %s", ports.ErrUnknownVenue, venue)
	}
	delete(e.clients, venue)
	e.logger.Info(context.Background(), "Execution client deregistered", map[string]interface{}{"venue": venue})
	return nil
}

// Client returns the client registered for venue.
func (e *Engine) Client(venue domain.Venue) (ports.ExecutionClient, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.clients[venue]
	return c, ok
}

// clientList returns the registered clients sorted by venue.
func (e *Engine) clientList() []ports.ExecutionClient {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ports.ExecutionClient, 0, len(e.clients))
	for _, c := range e.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue() < out[j].Venue() })
	return out
}

// ConnectAll connects every registered client and returns the joined errors.
func (e *Engine) ConnectAll(ctx context.Context) error {
	var errs []error
	for _, c := range e.clientList() {
		if err := c.Connect(ctx); err != nil {
			e.logger.Error(ctx, err, "Failed to connect execution client", map[string]interface{}{"venue": c.Venue()})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DisconnectAll disconnects every registered client and returns the joined errors.
func (e *Engine) DisconnectAll(ctx context.Context) error {
	var errs []error
	for _, c := range e.clientList() {
		if err := c.Disconnect(ctx); err != nil {
			e.logger.Error(ctx, err, "Failed to disconnect execution client", map[string]interface{}{"venue": c.Venue()})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResetAll resets every registered client.
func (e *Engine) ResetAll() {
	for _, c := range e.clientList() {
		c.Reset()
	}
}

// DisposeAll disposes every registered client.
func (e *Engine) DisposeAll() {
	for _, c := range e.clientList() {
		c.Dispose()
	}
}

// Order returns a snapshot of the order.
func (e *Engine) Order(id domain.ClientOrderID) (domain.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return o.Snapshot(), true
}

// Orders returns snapshots of all orders in initialization order.
func (e *Engine) Orders() []domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.orderSnapshots(func(*domain.Order) bool { return true })
}

// OpenOrders returns snapshots of all open orders in initialization order.
func (e *Engine) OpenOrders() []domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.orderSnapshots(func(o *domain.Order) bool { return o.Status.IsOpen() })
}

// orderSnapshots must be called with mu held.
func (e *Engine) orderSnapshots(keep func(*domain.Order) bool) []domain.Order {
	out := make([]domain.Order, 0, len(e.orders))
	for _, o := range e.orders {
		if keep(o) {
			out = append(out, o.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InitializedAt.Equal(out[j].InitializedAt) {
			return out[i].InitializedAt.Before(out[j].InitializedAt)
		}
		return out[i].ClientOrderID < out[j].ClientOrderID
	})
	return out
}

// Bracket returns the bracket an order belongs to.
func (e *Engine) Bracket(id domain.ClientOrderID) (domain.BracketOrder, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.brackets[id]
	if !ok {
		return domain.BracketOrder{}, false
	}
	return *b, true
}

// Position returns a snapshot of the position.
func (e *Engine) Position(id domain.PositionID) (domain.Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.get(id)
}

// Positions returns snapshots of all positions.
func (e *Engine) Positions() []domain.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.snapshots(false)
}

// OpenPositions returns snapshots of all open positions.
func (e *Engine) OpenPositions() []domain.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.snapshots(true)
}

// Account returns a snapshot of the account.
func (e *Engine) Account(id domain.AccountID) (domain.Account, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.accounts[id]
	if !ok {
		return domain.Account{}, false
	}
	return a.Snapshot(), true
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// LoadState restores orders, positions and accounts from the repository.
// It must be called before clients connect.
func (e *Engine) LoadState(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	orders, err := e.repo.LoadOrders(ctx)
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	positions, err := e.repo.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	accounts, err := e.repo.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range orders {
		o := orders[i]
		e.orders[o.ClientOrderID] = &o
	}
	e.restoreBrackets()
	e.book.restore(positions)
	for i := range accounts {
		a := accounts[i]
		if a.Balances == nil {
			a.Balances = make(map[string]domain.Balance)
		}
		e.accounts[a.ID] = &a
	}
	e.logger.Info(ctx, "Execution state loaded", map[string]interface{}{
		"orders":    len(orders),
		"positions": len(positions),
		"accounts":  len(accounts),
		"brackets":  len(e.brackets) / 3,
	})
	return nil
}

// restoreBrackets rebuilds bracket links from the parent and sibling ids of loaded legs.
// Events held before the restart are not persisted and are lost.
func (e *Engine) restoreBrackets() {
	for _, leg := range e.orders {
		if leg.ParentID == "" {
			continue
		}
		if _, done := e.brackets[leg.ClientOrderID]; done {
			continue
		}
		entry, ok := e.orders[leg.ParentID]
		if !ok {
			continue
		}
		sibling, ok := e.orders[leg.SiblingID]
		if !ok {
			continue
		}
		sl, tp := leg, sibling
		if !sl.Type.RequiresTrigger() && tp.Type.RequiresTrigger() {
			sl, tp = tp, sl
		}
		b := &domain.BracketOrder{
			Entry:      entry.ClientOrderID,
			StopLoss:   sl.ClientOrderID,
			TakeProfit: tp.ClientOrderID,
			State:      domain.BracketPending,
		}
		if entry.Status.IsTerminal() {
			b.Resolve(entry.Status)
		}
		e.brackets[b.Entry] = b
		e.brackets[b.StopLoss] = b
		e.brackets[b.TakeProfit] = b
	}
}
