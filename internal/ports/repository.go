package ports

import (
	"context"

	"execCore/internal/domain"
)

// ExecutionRepository persists engine state so a node can be restarted.
// Save methods upsert by identity.
type ExecutionRepository interface {
	// SaveOrder stores the current snapshot of an order.
	SaveOrder(ctx context.Context, order domain.Order) error
	// SavePosition stores the current snapshot of a position.
	SavePosition(ctx context.Context, pos domain.Position) error
	// SaveAccount stores the current snapshot of an account.
	SaveAccount(ctx context.Context, acc domain.Account) error
	// AppendEvent adds an applied event to the journal.
	AppendEvent(ctx context.Context, ev domain.Event) error

	// LoadOrders returns all stored orders ordered by initialization time.
	LoadOrders(ctx context.Context) ([]domain.Order, error)
	// LoadPositions returns all stored positions.
	LoadPositions(ctx context.Context) ([]domain.Position, error)
	// LoadAccounts returns all stored accounts.
	LoadAccounts(ctx context.Context) ([]domain.Account, error)
}
