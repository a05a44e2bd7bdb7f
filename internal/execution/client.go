package execution

import (
	"fmt"
	"sync/atomic"

	"execCore/internal/domain"
	"execCore/internal/ports"
)

// ClientConfig holds the dependencies shared by every venue client.
type ClientConfig struct {
	Venue     domain.Venue
	AccountID domain.AccountID
	Sink      ports.EventSink
	Clock     ports.Clock
	IDs       ports.IdentifierFactory
	Logger    ports.Logger
}

// ClientBase implements the venue-independent parts of ports.ExecutionClient.
// Concrete clients embed it and implement the lifecycle and command methods.
type ClientBase struct {
	venue     domain.Venue
	accountID domain.AccountID
	sink      ports.EventSink
	clock     ports.Clock
	ids       ports.IdentifierFactory
	logger    ports.Logger

	connected atomic.Bool
	disposed  atomic.Bool
}

// NewClientBase validates the client wiring. The account must be issued by the client's venue.
func NewClientBase(cfg ClientConfig) (*ClientBase, error) {
	if cfg.Venue == "" {
		return nil, fmt.Errorf("%w: venue is required for execution client", ports.ErrConfigurationError)
	}
	if cfg.AccountID.Issuer != cfg.Venue {
		return nil, fmt.Errorf("%w: account %s issued by %s, client venue is %s",
			ports.ErrAccountVenueMismatch, cfg.AccountID, cfg.AccountID.Issuer, cfg.Venue)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("%w: event sink is required for %s client", ports.ErrConfigurationError, cfg.Venue)
	}
	if cfg.Clock == nil || cfg.IDs == nil {
		return nil, fmt.Errorf("%w: clock and identifier factory are required for %s client", ports.ErrConfigurationError, cfg.Venue)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for %s client", cfg.Venue)
	}
	return &ClientBase{
		venue:     cfg.Venue,
		accountID: cfg.AccountID,
		sink:      cfg.Sink,
		clock:     cfg.Clock,
		ids:       cfg.IDs,
		logger:    cfg.Logger,
	}, nil
}

func (c *ClientBase) Venue() domain.Venue          { return c.venue }
func (c *ClientBase) AccountID() domain.AccountID  { return c.accountID }
func (c *ClientBase) IsConnected() bool            { return c.connected.Load() && !c.disposed.Load() }
func (c *ClientBase) IsDisposed() bool             { return c.disposed.Load() }
func (c *ClientBase) Clock() ports.Clock           { return c.clock }
func (c *ClientBase) Logger() ports.Logger         { return c.logger }
func (c *ClientBase) IDs() ports.IdentifierFactory { return c.ids }
func (c *ClientBase) SetConnected(connected bool)  { c.connected.Store(connected) }

// MarkDisposed makes every later command fail with ErrClientDisposed.
func (c *ClientBase) MarkDisposed() {
	c.disposed.Store(true)
	c.connected.Store(false)
}

// EnsureReady fails when the client cannot accept a command.
func (c *ClientBase) EnsureReady(operation string) error {
	if c.disposed.Load() {
		return fmt.Errorf("%s on %s: %w", operation, c.venue, ports.ErrClientDisposed)
	}
	if !c.connected.Load() {
		return fmt.Errorf("%s on %s: %w", operation, c.venue, ports.ErrNotConnected)
	}
	return nil
}

// HandleEvent forwards a venue event to the engine. No interpretation happens here.
func (c *ClientBase) HandleEvent(ev domain.Event) {
	c.sink.HandleEvent(ev)
}

// OrderHeader builds the header of an event about one of this client's orders.
func (c *ClientBase) OrderHeader(clientOrderID domain.ClientOrderID, orderID domain.OrderID, responseTo domain.Command) domain.OrderEventHeader {
	h := domain.OrderEventHeader{
		ID:            c.ids.Generate(),
		ClientOrderID: clientOrderID,
		OrderID:       orderID,
		AccountID:     c.accountID,
		Timestamp:     c.clock.Now(),
	}
	if responseTo != nil {
		h.ResponseTo = responseTo.CommandID()
	}
	return h
}

// AccountState builds an account state event for this client's account.
func (c *ClientBase) AccountState(balances []domain.Balance, margins domain.Margins, reported bool) domain.AccountState {
	return domain.AccountState{
		EventHeader: domain.EventHeader{ID: c.ids.Generate(), Timestamp: c.clock.Now()},
		AccountID:   c.accountID,
		Balances:    balances,
		Margins:     margins,
		Reported:    reported,
	}
}
