package idgen

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"execCore/internal/clock"
	"execCore/internal/domain"
)

func TestFixedFactoryReturnsSameValue(t *testing.T) {
	seed := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	f := NewFixedFactory(seed)

	ids := []uuid.UUID{f.Generate(), f.Generate(), f.Generate()}
	for _, id := range ids {
		assert.Equal(t, seed, id)
	}
	assert.Equal(t, DefaultFixedID, NewFixedFactory(uuid.Nil).Generate())
}

func TestUUIDFactoryReturnsDistinctValues(t *testing.T) {
	f := NewUUIDFactory()
	a, b, c := f.Generate(), f.Generate(), f.Generate()
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, b, c)
	assert.NotEqual(t, a, c)
	assert.Equal(t, uuid.Version(4), a.Version())
}

func TestNewSelectsFactory(t *testing.T) {
	assert.IsType(t, &FixedFactory{}, New(true))
	assert.IsType(t, &UUIDFactory{}, New(false))
}

func TestClientOrderIDGenerator(t *testing.T) {
	clk := clock.NewTestClock(time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC))
	g := NewClientOrderIDGenerator(domain.NewTraderID("tester", "001"), "EMACross-002", clk)

	assert.Equal(t, domain.ClientOrderID("O-20240305-140709-001-002-1"), g.Next())
	assert.NoError(t, clk.AdvanceBy(time.Second))
	assert.Equal(t, domain.ClientOrderID("O-20240305-140710-001-002-2"), g.Next())
	assert.Equal(t, 2, g.Count())

	g.SetCount(41)
	assert.Equal(t, domain.ClientOrderID("O-20240305-140710-001-002-42"), g.Next())
	g.Reset()
	assert.Equal(t, 0, g.Count())
}
