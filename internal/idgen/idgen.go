// Package idgen provides identifier factories and the client order id generator.
package idgen

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"execCore/internal/domain"
	"execCore/internal/ports"
)

// UUIDFactory returns a fresh random (v4) UUID on every call.
type UUIDFactory struct{}

// NewUUIDFactory creates a UUIDFactory.
func NewUUIDFactory() *UUIDFactory { return &UUIDFactory{} }

// Generate returns a new random UUID.
func (*UUIDFactory) Generate() uuid.UUID { return uuid.New() }

// FixedFactory always returns the value it was seeded with.
// Used where runs must be reproducible and ids compared exactly.
type FixedFactory struct {
	value uuid.UUID
}

// DefaultFixedID is the value used by NewFixedFactory when seeded with uuid.Nil.
var DefaultFixedID = uuid.MustParse("00000000-0000-4000-8000-000000000001")

// NewFixedFactory creates a FixedFactory seeded with value.
func NewFixedFactory(value uuid.UUID) *FixedFactory {
	if value == uuid.Nil {
		value = DefaultFixedID
	}
	return &FixedFactory{value: value}
}

// Generate returns the seeded value.
func (f *FixedFactory) Generate() uuid.UUID { return f.value }

// New returns the fixed factory when deterministic is set, the UUID factory otherwise.
func New(deterministic bool) ports.IdentifierFactory {
	if deterministic {
		return NewFixedFactory(uuid.Nil)
	}
	return NewUUIDFactory()
}

// ClientOrderIDGenerator produces ids of the form
// O-YYYYMMDD-HHMMSS-<trader tag>-<strategy tag>-<count>.
type ClientOrderIDGenerator struct {
	traderID   domain.TraderID
	strategyID domain.StrategyID
	clock      ports.Clock

	mu    sync.Mutex
	count int
}

// NewClientOrderIDGenerator creates a generator for one trader and strategy.
func NewClientOrderIDGenerator(traderID domain.TraderID, strategyID domain.StrategyID, clock ports.Clock) *ClientOrderIDGenerator {
	return &ClientOrderIDGenerator{traderID: traderID, strategyID: strategyID, clock: clock}
}

// Next returns the next client order id.
func (g *ClientOrderIDGenerator) Next() domain.ClientOrderID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count++
	now := g.clock.Now().UTC()
	return domain.ClientOrderID(fmt.Sprintf("O-%s-%s-%s-%d",
		now.Format("20060102-150405"), g.traderID.Tag(), g.strategyID.Tag(), g.count))
}

// Count returns how many ids have been generated.
func (g *ClientOrderIDGenerator) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// SetCount sets the counter. After a state restore, pass the number of loaded
// orders so ids are not reused.
func (g *ClientOrderIDGenerator) SetCount(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count = n
}

// Reset sets the counter back to zero.
func (g *ClientOrderIDGenerator) Reset() { g.SetCount(0) }
