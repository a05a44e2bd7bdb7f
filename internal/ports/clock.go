package ports

import (
	"time"

	"github.com/google/uuid"
)

// Clock is the single source of time for the engine and its clients.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AdvanceTo moves a controllable clock to t. Live clocks ignore it.
	AdvanceTo(t time.Time) error
	// AdvanceBy moves a controllable clock forward by d. Live clocks ignore it.
	AdvanceBy(d time.Duration) error
}

// IdentifierFactory generates event and command ids.
type IdentifierFactory interface {
	Generate() uuid.UUID
}
