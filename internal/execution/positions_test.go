package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execCore/internal/domain"
)

func bookOrder(id domain.ClientOrderID, side domain.OrderSide, reduceOnly bool) *domain.Order {
	cmd := marketOrder(id, side, "10")
	cmd.ReduceOnly = reduceOnly
	return domain.NewOrder(cmd.CommandHeader, cmd.Venue, cmd.AccountID, cmd.OrderSpec)
}

func bookFill(execID string, q, px string) domain.Fill {
	return domain.Fill{ExecutionID: domain.ExecutionID(execID), FillQty: qty(q), FillPrice: qty(px), Commission: decimal.Zero}
}

// netQty returns the summed signed quantity of all positions on an instrument.
func (b *positionBook) netQty(account domain.AccountID, instrument domain.InstrumentID) decimal.Decimal {
	total := decimal.Zero
	for _, p := range b.positions {
		if p.AccountID == account && p.InstrumentID == instrument {
			total = total.Add(p.NetQty)
		}
	}
	return total
}

func TestPositionBook_NettingLifecycle(t *testing.T) {
	b := newPositionBook("")
	assert.Equal(t, domain.Netting, b.policy)

	buy := bookOrder("B", domain.Buy, false)
	sell := bookOrder("S", domain.Sell, false)

	changes := b.applyFill(buy, bookFill("E1", "2", "100"), startTime)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.KindPositionOpened, changes[0].kind)

	changes = b.applyFill(buy, bookFill("E2", "2", "110"), startTime)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.KindPositionChanged, changes[0].kind)
	assert.True(t, changes[0].position.AvgOpenPrice.Equal(qty("105")))

	changes = b.applyFill(sell, bookFill("E3", "4", "100"), startTime)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.KindPositionClosed, changes[0].kind)
	assert.Empty(t, b.open)

	// a new fill after the close opens a fresh identity
	changes = b.applyFill(buy, bookFill("E4", "1", "100"), startTime)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.PositionID("P-ETHUSDT.SIM-N-2"), changes[0].position.ID)
	assert.True(t, b.netQty(simAccount, ethusdt).Equal(qty("1")))
}

func TestPositionBook_HedgingFlip(t *testing.T) {
	b := newPositionBook(domain.Hedging)
	buy := bookOrder("B", domain.Buy, false)
	sell := bookOrder("S", domain.Sell, false)

	b.applyFill(buy, bookFill("E1", "1", "100"), startTime)
	b.applyFill(sell, bookFill("E2", "1", "100"), startTime)
	assert.Len(t, b.open, 2)
	assert.True(t, b.netQty(simAccount, ethusdt).IsZero())

	// a reduce-only buy overshooting the short spills into the held long slot
	cover := bookOrder("C", domain.Buy, true)
	changes := b.applyFill(cover, bookFill("E3", "3", "90"), startTime)
	require.Len(t, changes, 2)
	assert.Equal(t, domain.KindPositionClosed, changes[0].kind)
	assert.Equal(t, domain.PositionID("P-ETHUSDT.SIM-S-1"), changes[0].position.ID)
	assert.True(t, changes[0].position.RealizedPnL.Equal(qty("10")))
	assert.Equal(t, domain.KindPositionChanged, changes[1].kind)
	assert.Equal(t, domain.PositionID("P-ETHUSDT.SIM-L-1"), changes[1].position.ID)
	assert.True(t, changes[1].position.NetQty.Equal(qty("3")))

	// with no long held, the spill opens a new one
	b.applyFill(bookOrder("X", domain.Sell, true), bookFill("E4", "3", "90"), startTime)
	b.applyFill(sell, bookFill("E5", "1", "100"), startTime)
	changes = b.applyFill(cover, bookFill("E6", "2", "95"), startTime)
	require.Len(t, changes, 2)
	assert.Equal(t, domain.KindPositionOpened, changes[1].kind)
	assert.Equal(t, domain.PositionID("P-ETHUSDT.SIM-L-2"), changes[1].position.ID)
	assert.True(t, changes[1].position.NetQty.Equal(qty("1")))
}

func TestPositionBook_Restore(t *testing.T) {
	b := newPositionBook(domain.Netting)
	buy := bookOrder("B", domain.Buy, false)
	b.applyFill(buy, bookFill("E1", "1", "100"), startTime)

	restored := newPositionBook(domain.Netting)
	restored.restore(b.snapshots(false))
	p, ok := restored.get("P-ETHUSDT.SIM-N-1")
	require.True(t, ok)
	assert.True(t, p.NetQty.Equal(qty("1")))

	changes := restored.applyFill(buy, bookFill("E2", "1", "100"), startTime)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.KindPositionChanged, changes[0].kind)
	assert.Len(t, restored.snapshots(true), 1)
}

func TestPositionBook_RestoreClosedPositions(t *testing.T) {
	tests := []struct {
		name   string
		policy domain.NettingPolicy
		side   domain.OrderSide
		next   domain.PositionID
	}{
		{"netting", domain.Netting, domain.Buy, "P-ETHUSDT.SIM-N-2"},
		{"hedging short", domain.Hedging, domain.Sell, "P-ETHUSDT.SIM-S-2"},
		{"hedging long", domain.Hedging, domain.Buy, "P-ETHUSDT.SIM-L-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newPositionBook(tt.policy)
			entry := bookOrder("O", tt.side, false)
			exit := bookOrder("X", tt.side.Opposite(), true)
			b.applyFill(entry, bookFill("E1", "1", "100"), startTime)
			changes := b.applyFill(exit, bookFill("E2", "1", "110"), startTime)
			require.Len(t, changes, 1)
			require.Equal(t, domain.KindPositionClosed, changes[0].kind)
			closed := changes[0].position
			require.Equal(t, domain.SideFlat, closed.Side)
			require.False(t, closed.RealizedPnL.IsZero())

			restored := newPositionBook(tt.policy)
			restored.restore(b.snapshots(false))
			assert.Empty(t, restored.open)

			changes = restored.applyFill(entry, bookFill("E3", "1", "100"), startTime)
			require.Len(t, changes, 1)
			assert.Equal(t, domain.KindPositionOpened, changes[0].kind)
			assert.Equal(t, tt.next, changes[0].position.ID)
			assert.NotEqual(t, closed.ID, changes[0].position.ID)

			old, ok := restored.get(closed.ID)
			require.True(t, ok)
			assert.Equal(t, domain.SideFlat, old.Side)
			assert.True(t, old.RealizedPnL.Equal(closed.RealizedPnL))
			assert.Len(t, restored.snapshots(false), 2)
		})
	}
}

func TestPositionBook_RestoreHedgingOpenSlots(t *testing.T) {
	b := newPositionBook(domain.Hedging)
	b.applyFill(bookOrder("B", domain.Buy, false), bookFill("E1", "1", "100"), startTime)
	b.applyFill(bookOrder("S", domain.Sell, false), bookFill("E2", "2", "100"), startTime)

	restored := newPositionBook(domain.Hedging)
	restored.restore(b.snapshots(false))
	require.Len(t, restored.open, 2)
	assert.True(t, restored.netQty(simAccount, ethusdt).Equal(qty("-1")))

	// fills on either side land in the restored slot rather than a new identity
	changes := restored.applyFill(bookOrder("S2", domain.Sell, false), bookFill("E3", "1", "100"), startTime)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.KindPositionChanged, changes[0].kind)
	assert.Equal(t, domain.PositionID("P-ETHUSDT.SIM-S-1"), changes[0].position.ID)

	changes = restored.applyFill(bookOrder("B2", domain.Buy, false), bookFill("E4", "1", "100"), startTime)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.PositionID("P-ETHUSDT.SIM-L-1"), changes[0].position.ID)
}

func TestParsePositionID(t *testing.T) {
	tests := []struct {
		id  domain.PositionID
		dir string
		n   int
		ok  bool
	}{
		{"P-ETHUSDT.SIM-S-12", "S", 12, true},
		{"P-BTC-PERP.SIM-L-3", "L", 3, true},
		{"P-ETHUSDT.SIM-N-1", "N", 1, true},
		{"P-ETHUSDT.SIM-X-1", "", 0, false},
		{"P-ETHUSDT.SIM-N-0", "", 0, false},
		{"VENUE-POS-7", "", 0, false},
		{"", "", 0, false},
	}
	for _, tt := range tests {
		dir, n, ok := parsePositionID(tt.id)
		assert.Equal(t, tt.ok, ok, string(tt.id))
		assert.Equal(t, tt.dir, dir, string(tt.id))
		assert.Equal(t, tt.n, n, string(tt.id))
	}
}
