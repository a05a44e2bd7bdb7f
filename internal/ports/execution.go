package ports

import (
	"context"

	"execCore/internal/domain"
)

// ExecutionClient defines the interface between the execution engine and one trading venue.
// Implementations translate commands into venue requests and report every venue fact
// back through the EventSink they were constructed with.
type ExecutionClient interface {
	// Venue returns the venue this client routes to.
	Venue() domain.Venue
	// AccountID returns the account the client trades; its issuer is always Venue().
	AccountID() domain.AccountID
	// IsConnected reports whether the client currently accepts commands.
	IsConnected() bool

	// Connect establishes the venue session and starts event streaming.
	Connect(ctx context.Context) error
	// Disconnect stops streaming and closes the venue session.
	Disconnect(ctx context.Context) error
	// Reset clears per-session state so the client can be connected again.
	Reset()
	// Dispose releases all resources. The client cannot be used afterwards.
	Dispose()

	// SubmitOrder sends a new order to the venue.
	// A nil error means the request was dispatched, not that the venue accepted it.
	SubmitOrder(ctx context.Context, cmd domain.SubmitOrder) error
	// SubmitBracketOrder sends an entry order with its contingent legs.
	SubmitBracketOrder(ctx context.Context, cmd domain.SubmitBracketOrder) error
	// ModifyOrder requests an amendment of a working order.
	ModifyOrder(ctx context.Context, cmd domain.ModifyOrder) error
	// CancelOrder requests cancellation of a working order.
	CancelOrder(ctx context.Context, cmd domain.CancelOrder) error
}

// EventSink receives venue events from execution clients.
// HandleEvent must be safe to call from any goroutine.
type EventSink interface {
	HandleEvent(ev domain.Event)
}

// Subscriber receives every event the engine publishes, in publication order.
type Subscriber interface {
	OnEvent(ctx context.Context, ev domain.Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, ev domain.Event)

// OnEvent calls f(ctx, ev).
func (f SubscriberFunc) OnEvent(ctx context.Context, ev domain.Event) { f(ctx, ev) }

// PreTradeCheck validates an order before it is dispatched to a venue.
// open holds snapshots of the account's currently open orders.
type PreTradeCheck interface {
	CheckOrder(ctx context.Context, order domain.Order, open []domain.Order) error
}
