package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execCore/internal/domain"
	"execCore/internal/idgen"
	"execCore/internal/ports"
)

func TestNew_Validation(t *testing.T) {
	base := Config{TraderID: "T-1", Clock: nil, IDs: idgen.NewUUIDFactory(), Logger: &mockLogger{}}
	_, err := New(base)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	h := newHarness(t)
	assert.Equal(t, domain.Netting, h.engine.NettingPolicy())

	_, err = New(Config{TraderID: "T-1", Clock: h.clock, IDs: idgen.NewUUIDFactory(), Logger: &mockLogger{}, NettingPolicy: "FIFO"})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestEngine_PartialThenFullFill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Execute(ctx, limitOrder("O1", domain.Buy, "100", "10")))
	h.client.accept("O1", "V-1")
	h.client.fill("O1", "E1", "40", "10", false)
	h.drain()

	o, ok := h.engine.Order("O1")
	require.True(t, ok)
	assert.True(t, o.LeavesQty.Equal(qty("60")))
	assert.Equal(t, domain.StatusPartiallyFilled, o.Status)

	h.client.fill("O1", "E2", "60", "10", true)
	h.drain()

	o, _ = h.engine.Order("O1")
	assert.Equal(t, domain.StatusFilled, o.Status)
	assert.True(t, o.LeavesQty.IsZero())
	assert.Equal(t, []domain.ExecutionID{"E1", "E2"}, o.ExecutionIDs())
	assert.Equal(t, domain.OrderID("V-1"), o.OrderID)

	assert.Equal(t, []domain.EventKind{
		domain.KindOrderSubmitted,
		domain.KindOrderAccepted,
		domain.KindOrderPartiallyFilled,
		domain.KindOrderFilled,
	}, h.rec.orderKinds("O1"))
	assert.Equal(t, []domain.EventKind{
		domain.KindOrderSubmitted,
		domain.KindOrderAccepted,
		domain.KindOrderPartiallyFilled,
		domain.KindPositionOpened,
		domain.KindOrderFilled,
		domain.KindPositionChanged,
	}, h.rec.kinds())

	positions := h.engine.OpenPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, domain.PositionID("P-ETHUSDT.SIM-N-1"), positions[0].ID)
	assert.True(t, positions[0].NetQty.Equal(qty("100")))
}

func TestEngine_SubmittedEventAnswersCommand(t *testing.T) {
	h := newHarness(t)
	cmd := limitOrder("O1", domain.Buy, "1", "10")
	require.NoError(t, h.engine.Execute(context.Background(), cmd))

	require.Len(t, h.rec.events, 1)
	sub, ok := h.rec.events[0].(domain.OrderSubmitted)
	require.True(t, ok)
	assert.Equal(t, cmd.ID, sub.ResponseTo)
	assert.Equal(t, simAccount, sub.AccountID)
	assert.Equal(t, startTime, sub.Timestamp)
	require.Len(t, h.client.commands, 1)
}

func TestEngine_CommandPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown venue", func(t *testing.T) {
		h := newHarness(t)
		cmd := limitOrder("O1", domain.Buy, "1", "10")
		cmd.Venue = "NOWHERE"
		assert.ErrorIs(t, h.engine.Execute(ctx, cmd), ports.ErrUnknownVenue)
	})

	t.Run("duplicate order", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.Execute(ctx, limitOrder("O1", domain.Buy, "1", "10")))
		assert.ErrorIs(t, h.engine.Execute(ctx, limitOrder("O1", domain.Buy, "1", "10")), ports.ErrDuplicateOrder)
		assert.Len(t, h.client.commands, 1)
	})

	t.Run("invalid spec", func(t *testing.T) {
		h := newHarness(t)
		cmd := limitOrder("O1", domain.Buy, "0", "10")
		err := h.engine.Execute(ctx, cmd)
		assert.ErrorIs(t, err, ports.ErrInvalidCommand)
		assert.ErrorIs(t, err, domain.ErrInvalidOrderSpec)
		assert.Empty(t, h.client.commands)
	})

	t.Run("wrong account", func(t *testing.T) {
		h := newHarness(t)
		cmd := limitOrder("O1", domain.Buy, "1", "10")
		cmd.AccountID = domain.NewAccountID("SIM", "999")
		assert.ErrorIs(t, h.engine.Execute(ctx, cmd), ports.ErrInvalidCommand)
	})

	t.Run("instrument on another venue", func(t *testing.T) {
		h := newHarness(t)
		cmd := limitOrder("O1", domain.Buy, "1", "10")
		cmd.InstrumentID = domain.NewInstrumentID("ETHUSDT", "BINANCE")
		assert.ErrorIs(t, h.engine.Execute(ctx, cmd), ports.ErrVenueMismatch)
	})

	t.Run("not connected", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.engine.DisconnectAll(ctx))
		assert.ErrorIs(t, h.engine.Execute(ctx, limitOrder("O1", domain.Buy, "1", "10")), ports.ErrNotConnected)
		_, known := h.engine.Order("O1")
		assert.False(t, known)
		assert.Empty(t, h.client.commands)
	})

	t.Run("dispatch failure stores nothing", func(t *testing.T) {
		h := newHarness(t)
		h.client.submitErr = ports.ErrOrderPlacementFailed
		assert.ErrorIs(t, h.engine.Execute(ctx, limitOrder("O1", domain.Buy, "1", "10")), ports.ErrOrderPlacementFailed)
		_, known := h.engine.Order("O1")
		assert.False(t, known)
		assert.Empty(t, h.rec.events)
	})

	t.Run("unknown order", func(t *testing.T) {
		h := newHarness(t)
		assert.ErrorIs(t, h.engine.Execute(ctx, cancelOrder("NOPE")), ports.ErrUnknownOrder)
	})
}

func TestEngine_ModifyCancelledOrderFailsBeforeDispatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, limitOrder("O1", domain.Buy, "10", "10")))
	h.client.accept("O1", "V-1")
	h.client.cancelled("O1")
	h.drain()
	dispatched := len(h.client.commands)

	err := h.engine.Execute(ctx, domain.ModifyOrder{
		CommandHeader: header(),
		Venue:         simVenue,
		ClientOrderID: "O1",
		Price:         decimal.NewNullDecimal(qty("11")),
	})
	assert.ErrorIs(t, err, domain.ErrOrderTerminal)
	assert.Len(t, h.client.commands, dispatched)
}

func TestEngine_ModifyEnrichesCommand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, limitOrder("O1", domain.Sell, "10", "10")))
	h.client.accept("O1", "V-7")
	h.drain()

	require.NoError(t, h.engine.Execute(ctx, domain.ModifyOrder{
		CommandHeader: header(),
		Venue:         simVenue,
		ClientOrderID: "O1",
		Price:         decimal.NewNullDecimal(qty("12")),
	}))

	mod, ok := h.client.commands[len(h.client.commands)-1].(domain.ModifyOrder)
	require.True(t, ok)
	assert.Equal(t, domain.OrderID("V-7"), mod.OrderID)
	assert.Equal(t, ethusdt, mod.InstrumentID)
	assert.Equal(t, domain.Sell, mod.Side)
	assert.True(t, mod.Quantity.Valid)
	assert.True(t, mod.Quantity.Decimal.Equal(qty("10")))

	o, _ := h.engine.Order("O1")
	assert.Equal(t, domain.StatusPendingModify, o.Status)

	h.client.HandleEvent(domain.OrderAmended{OrderEventHeader: h.client.OrderHeader("O1", "V-7", mod), Price: decimal.NewNullDecimal(qty("12"))})
	h.drain()
	o, _ = h.engine.Order("O1")
	assert.Equal(t, domain.StatusAccepted, o.Status)
	assert.True(t, o.Price.Decimal.Equal(qty("12")))
}

func TestEngine_ModifyOfUnacknowledgedOrderIsRejectedLocally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, limitOrder("O1", domain.Buy, "10", "10")))

	err := h.engine.Execute(ctx, domain.ModifyOrder{CommandHeader: header(), Venue: simVenue, ClientOrderID: "O1", Quantity: decimal.NewNullDecimal(qty("5"))})
	assert.ErrorIs(t, err, ports.ErrInvalidCommand)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestEngine_CancelThenLateAck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, limitOrder("O1", domain.Buy, "10", "10")))
	h.client.accept("O1", "V-1")
	h.drain()

	require.NoError(t, h.engine.Execute(ctx, cancelOrder("O1")))
	cancel := h.client.cancels()
	require.Len(t, cancel, 1)
	assert.Equal(t, domain.OrderID("V-1"), cancel[0].OrderID)

	// a fill races the cancel and wins
	h.client.fill("O1", "E1", "10", "10", true)
	h.client.cancelled("O1")
	h.drain()

	o, _ := h.engine.Order("O1")
	assert.Equal(t, domain.StatusFilled, o.Status)
	assert.Contains(t, h.logger.warnings(), "Event for terminal order, dropping")
}

func TestEngine_UnknownOrderEventIsDropped(t *testing.T) {
	h := newHarness(t)
	h.client.accept("GHOST", "V-1")
	h.client.fill("GHOST", "E1", "1", "1", true)

	assert.NotPanics(t, func() { h.drain() })
	assert.Empty(t, h.engine.Orders())
	assert.Empty(t, h.rec.events)
	assert.Equal(t, 2, h.engine.Stats().Dropped)
	assert.Empty(t, h.repo.journal)
}

func TestEngine_TerminalOrderEventIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, limitOrder("O1", domain.Buy, "5", "10")))
	h.client.accept("O1", "V-1")
	h.client.fill("O1", "E1", "5", "10", true)
	h.drain()
	before, _ := h.engine.Order("O1")
	published := len(h.rec.events)

	h.client.cancelled("O1")
	h.client.HandleEvent(domain.OrderExpired{OrderEventHeader: h.client.OrderHeader("O1", "", nil)})
	h.client.fill("O1", "E2", "1", "10", true)
	h.drain()

	after, _ := h.engine.Order("O1")
	assert.Equal(t, before, after)
	assert.Len(t, h.rec.events, published)
}

func TestEngine_DuplicateExecutionIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, limitOrder("O1", domain.Buy, "10", "10")))
	h.client.accept("O1", "V-1")
	h.client.fill("O1", "E1", "4", "10", false)
	h.drain()
	before, _ := h.engine.Order("O1")
	positionsBefore := h.engine.Positions()

	h.client.fill("O1", "E1", "4", "10", false)
	h.drain()

	after, _ := h.engine.Order("O1")
	assert.Equal(t, before, after)
	assert.Equal(t, positionsBefore, h.engine.Positions())
	assert.Empty(t, h.logger.warnings())
}

func TestEngine_OverfillPublishesIntegrityFault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, limitOrder("O1", domain.Buy, "10", "10")))
	h.client.accept("O1", "V-1")
	h.drain()
	h.rec.reset()

	h.client.fill("O1", "E1", "11", "10", true)
	h.drain()

	require.Len(t, h.rec.events, 1)
	fault, ok := h.rec.events[0].(domain.IntegrityFault)
	require.True(t, ok)
	assert.Equal(t, domain.IntegrityOverfill, fault.Fault)
	assert.Equal(t, domain.ClientOrderID("O1"), fault.ClientOrderID)
	assert.Equal(t, domain.ExecutionID("E1"), fault.ExecutionID)
	assert.True(t, errors.Is(fault.Err, domain.ErrDataIntegrity))
	assert.NotEmpty(t, h.logger.errors())

	o, _ := h.engine.Order("O1")
	assert.Equal(t, domain.StatusAccepted, o.Status)
	assert.True(t, o.CumQty.IsZero())
	assert.Equal(t, 1, h.engine.Stats().Faults)
}

func TestEngine_RejectedOrderIsTerminalEvent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Execute(context.Background(), limitOrder("O1", domain.Buy, "10", "10")))
	h.client.reject("O1", "margin")
	h.drain()

	o, _ := h.engine.Order("O1")
	assert.Equal(t, domain.StatusRejected, o.Status)
	assert.Equal(t, "margin", o.RejectReason)
	assert.Empty(t, h.engine.OpenOrders())
}

func TestEngine_BracketLegsHeldUntilEntryFills(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, bracketOrder()))

	for _, id := range []domain.ClientOrderID{"EN", "SL", "TP"} {
		o, ok := h.engine.Order(id)
		require.True(t, ok)
		assert.Equal(t, domain.StatusSubmitted, o.Status, id)
	}

	h.client.accept("EN", "V-1")
	h.client.accept("SL", "V-2")
	h.client.accept("TP", "V-3")
	h.drain()

	sl, _ := h.engine.Order("SL")
	assert.Equal(t, domain.StatusSubmitted, sl.Status, "leg must not transition while entry is open")
	b, ok := h.engine.Bracket("SL")
	require.True(t, ok)
	assert.Equal(t, domain.BracketPending, b.State)
	assert.Equal(t, 2, b.Held())

	h.client.fill("EN", "E1", "1", "100", true)
	h.drain()

	b, _ = h.engine.Bracket("EN")
	assert.Equal(t, domain.BracketActive, b.State)
	sl, _ = h.engine.Order("SL")
	tp, _ := h.engine.Order("TP")
	assert.Equal(t, domain.StatusAccepted, sl.Status)
	assert.Equal(t, domain.StatusAccepted, tp.Status)
	assert.Equal(t, domain.OrderID("V-2"), sl.OrderID)

	// stop-loss fills: take-profit is cancelled by the engine
	h.client.fill("SL", "E2", "1", "90", true)
	h.drain()

	cancels := h.client.cancels()
	require.Len(t, cancels, 1)
	assert.Equal(t, domain.ClientOrderID("TP"), cancels[0].ClientOrderID)
	assert.Equal(t, domain.OrderID("V-3"), cancels[0].OrderID)
	tp, _ = h.engine.Order("TP")
	assert.Equal(t, domain.StatusPendingCancel, tp.Status)

	h.client.cancelled("TP")
	h.drain()
	tp, _ = h.engine.Order("TP")
	assert.Equal(t, domain.StatusCancelled, tp.Status)
	assert.Len(t, h.client.cancels(), 1, "no cancel is issued for the already filled stop-loss")

	assert.Empty(t, h.engine.OpenPositions())
	closed := h.engine.Positions()
	require.Len(t, closed, 1)
	assert.True(t, closed[0].RealizedPnL.Equal(qty("-10")))
}

func TestEngine_BracketEntryRejectedCancelsLegs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, bracketOrder()))
	h.client.accept("SL", "V-2")
	h.client.reject("EN", "price band")
	h.drain()

	b, _ := h.engine.Bracket("EN")
	assert.Equal(t, domain.BracketVoid, b.State)

	sl, _ := h.engine.Order("SL")
	tp, _ := h.engine.Order("TP")
	assert.Equal(t, domain.StatusPendingCancel, sl.Status)
	assert.Equal(t, domain.StatusAccepted, sl.PreviousStatus, "held accept is released before the cancel")
	assert.Equal(t, domain.StatusPendingCancel, tp.Status)

	var cancelled []domain.ClientOrderID
	for _, c := range h.client.cancels() {
		cancelled = append(cancelled, c.ClientOrderID)
	}
	assert.ElementsMatch(t, []domain.ClientOrderID{"SL", "TP"}, cancelled)
}

func TestEngine_SubscriberCommandsAreDeferred(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var order []string
	h.engine.Subscribe(ports.SubscriberFunc(func(ctx context.Context, ev domain.Event) {
		order = append(order, string(ev.Kind()))
		if ev.Kind() == domain.KindOrderFilled {
			// flatten from inside the publish
			assert.NoError(t, h.engine.Execute(ctx, marketOrder("O2", domain.Sell, "1")))
			order = append(order, "issued")
		}
	}))

	require.NoError(t, h.engine.Execute(ctx, limitOrder("O1", domain.Buy, "1", "10")))
	h.client.accept("O1", "V-1")
	h.client.fill("O1", "E1", "1", "10", true)
	h.drain()

	assert.Equal(t, []string{"OrderSubmitted", "OrderAccepted", "OrderFilled", "issued", "PositionOpened", "OrderSubmitted"}, order)
	_, ok := h.engine.Order("O2")
	assert.True(t, ok)
	assert.Equal(t, 1, h.engine.Stats().Deferred)
}

func TestEngine_HedgingKeepsDirections(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.NettingPolicy = domain.Hedging })
	ctx := context.Background()

	require.NoError(t, h.engine.Execute(ctx, marketOrder("L1", domain.Buy, "2")))
	require.NoError(t, h.engine.Execute(ctx, marketOrder("S1", domain.Sell, "3")))
	h.client.accept("L1", "1")
	h.client.accept("S1", "2")
	h.client.fill("L1", "E1", "2", "100", true)
	h.client.fill("S1", "E2", "3", "101", true)
	h.drain()

	open := h.engine.OpenPositions()
	require.Len(t, open, 2)
	ids := []domain.PositionID{open[0].ID, open[1].ID}
	assert.ElementsMatch(t, []domain.PositionID{"P-ETHUSDT.SIM-L-1", "P-ETHUSDT.SIM-S-1"}, ids)

	reduce := marketOrder("R1", domain.Sell, "2")
	reduce.ReduceOnly = true
	require.NoError(t, h.engine.Execute(ctx, reduce))
	h.client.accept("R1", "3")
	h.client.fill("R1", "E3", "2", "105", true)
	h.drain()

	long, ok := h.engine.Position("P-ETHUSDT.SIM-L-1")
	require.True(t, ok)
	assert.True(t, long.IsClosed())
	assert.True(t, long.RealizedPnL.Equal(qty("10")))
	short, _ := h.engine.Position("P-ETHUSDT.SIM-S-1")
	assert.True(t, short.NetQty.Equal(qty("-3")))
}

func TestEngine_NettingFlipOpensNewPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, marketOrder("B1", domain.Buy, "2")))
	require.NoError(t, h.engine.Execute(ctx, marketOrder("S1", domain.Sell, "5")))
	h.client.accept("B1", "1")
	h.client.accept("S1", "2")
	h.client.fill("B1", "E1", "2", "100", true)
	h.client.fill("S1", "E2", "5", "110", true)
	h.drain()

	first, _ := h.engine.Position("P-ETHUSDT.SIM-N-1")
	assert.True(t, first.IsClosed())
	assert.True(t, first.RealizedPnL.Equal(qty("20")))

	second, ok := h.engine.Position("P-ETHUSDT.SIM-N-2")
	require.True(t, ok)
	assert.Equal(t, domain.SideShort, second.Side)
	assert.True(t, second.NetQty.Equal(qty("-3")))

	kinds := h.rec.kinds()
	assert.Equal(t, []domain.EventKind{domain.KindOrderFilled, domain.KindPositionClosed, domain.KindPositionOpened}, kinds[len(kinds)-3:])
}

func TestEngine_VenuePositionIDWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, marketOrder("B1", domain.Buy, "1")))
	h.client.accept("B1", "1")
	h.client.HandleEvent(domain.OrderFilled{
		OrderEventHeader: h.client.OrderHeader("B1", "", nil),
		Fill:             domain.Fill{ExecutionID: "E1", PositionID: "VENUE-POS-9", FillQty: qty("1"), FillPrice: qty("50"), Commission: decimal.Zero},
	})
	h.drain()

	p, ok := h.engine.Position("VENUE-POS-9")
	require.True(t, ok)
	assert.True(t, p.NetQty.Equal(qty("1")))
}

func TestEngine_AccountState(t *testing.T) {
	h := newHarness(t)
	state := h.client.AccountState([]domain.Balance{{Currency: "USDT", Total: qty("100"), Free: qty("100"), Locked: decimal.Zero}}, domain.Margins{}, true)
	h.client.HandleEvent(state)

	foreign := state
	foreign.AccountID = domain.NewAccountID("OTHER", "1")
	h.client.HandleEvent(foreign)
	h.drain()

	acc, ok := h.engine.Account(simAccount)
	require.True(t, ok)
	bal, ok := acc.Balance("USDT")
	require.True(t, ok)
	assert.True(t, bal.Total.Equal(qty("100")))
	_, ok = h.engine.Account(foreign.AccountID)
	assert.False(t, ok)
	assert.Contains(t, h.repo.accounts, simAccount)
	assert.Equal(t, []domain.EventKind{domain.KindAccountState}, h.rec.kinds())
}

func TestEngine_DeterministicIdentifiers(t *testing.T) {
	fixed := uuid.MustParse("11111111-2222-4333-8444-555555555555")
	h := newHarness(t, func(c *Config) { c.IDs = idgen.NewFixedFactory(fixed) })
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, limitOrder("O1", domain.Buy, "1", "10")))
	h.client.accept("O1", "V-1")
	h.client.fill("O1", "E1", "1", "10", true)
	h.drain()

	require.NotEmpty(t, h.rec.events)
	for _, ev := range h.rec.events {
		assert.Equal(t, fixed, ev.EventID(), ev.Kind())
		assert.Equal(t, startTime, ev.OccurredAt(), ev.Kind())
	}
}

func TestEngine_ClientRegistry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dup := newMockClient(t, simVenue, h.engine, h.clock, idgen.NewUUIDFactory())
	assert.ErrorIs(t, h.engine.RegisterClient(dup), ports.ErrDuplicateClient)

	other := newMockClient(t, "OTHER", h.engine, h.clock, idgen.NewUUIDFactory())
	require.NoError(t, h.engine.RegisterClient(other))
	require.NoError(t, h.engine.ConnectAll(ctx))
	assert.Equal(t, 1, other.connects)
	assert.True(t, other.IsConnected())

	h.engine.ResetAll()
	assert.Equal(t, 1, other.resets)
	h.engine.DisposeAll()
	assert.Equal(t, 1, other.disposals)
	assert.False(t, other.IsConnected())
	assert.ErrorIs(t, other.SubmitOrder(ctx, limitOrder("X", domain.Buy, "1", "1")), ports.ErrClientDisposed)

	require.NoError(t, h.engine.DeregisterClient("OTHER"))
	assert.ErrorIs(t, h.engine.DeregisterClient("OTHER"), ports.ErrUnknownVenue)
	_, ok := h.engine.Client("OTHER")
	assert.False(t, ok)
}

type limitCheck struct{ maxOpen int }

func (l limitCheck) CheckOrder(ctx context.Context, o domain.Order, open []domain.Order) error {
	if len(open) >= l.maxOpen {
		return errors.New("too many open orders")
	}
	return nil
}

func TestEngine_PreTradeCheck(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PreTradeCheck = limitCheck{maxOpen: 1} })
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, limitOrder("O1", domain.Buy, "1", "10")))
	err := h.engine.Execute(ctx, limitOrder("O2", domain.Buy, "1", "10"))
	assert.ErrorIs(t, err, ports.ErrRejectedByRisk)
	assert.Len(t, h.client.commands, 1)
	assert.ErrorIs(t, h.engine.Execute(ctx, bracketOrder()), ports.ErrRejectedByRisk)
}

func TestEngine_LoadStateRestoresOrdersAndBrackets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, bracketOrder()))
	h.client.accept("EN", "V-1")
	h.client.fill("EN", "E1", "1", "100", true)
	h.drain()

	restored, err := New(Config{TraderID: "TESTER-001", Clock: h.clock, IDs: idgen.NewUUIDFactory(), Logger: &mockLogger{}, Repository: h.repo})
	require.NoError(t, err)
	require.NoError(t, restored.LoadState(ctx))

	en, ok := restored.Order("EN")
	require.True(t, ok)
	assert.Equal(t, domain.StatusFilled, en.Status)
	b, ok := restored.Bracket("TP")
	require.True(t, ok)
	assert.Equal(t, domain.BracketActive, b.State)
	assert.Equal(t, domain.ClientOrderID("SL"), b.StopLoss)
	assert.Len(t, restored.OpenPositions(), 1)

	// the restored position is closed by the next fill
	client := newMockClient(t, simVenue, restored, h.clock, idgen.NewUUIDFactory())
	require.NoError(t, restored.RegisterClient(client))
	require.NoError(t, restored.ConnectAll(ctx))
	require.NoError(t, restored.Execute(ctx, marketOrder("X1", domain.Sell, "1")))
	client.accept("X1", "9")
	client.fill("X1", "E9", "1", "100", true)
	restored.Drain(ctx)
	assert.Empty(t, restored.OpenPositions())
}

func TestEngine_LoadStateKeepsClosedHedgingPositions(t *testing.T) {
	hedging := func(c *Config) { c.NettingPolicy = domain.Hedging }
	h := newHarness(t, hedging)
	ctx := context.Background()
	require.NoError(t, h.engine.Execute(ctx, marketOrder("S1", domain.Sell, "1")))
	h.client.accept("S1", "V-1")
	h.client.fill("S1", "E1", "1", "100", true)
	h.drain()
	cover := marketOrder("C1", domain.Buy, "1")
	cover.ReduceOnly = true
	require.NoError(t, h.engine.Execute(ctx, cover))
	h.client.accept("C1", "V-2")
	h.client.fill("C1", "E2", "1", "90", true)
	h.drain()

	const closedID = domain.PositionID("P-ETHUSDT.SIM-S-1")
	closed, ok := h.repo.positions[closedID]
	require.True(t, ok)
	require.Equal(t, domain.SideFlat, closed.Side)
	require.True(t, closed.RealizedPnL.Equal(qty("10")))

	restored, err := New(Config{TraderID: "TESTER-001", Clock: h.clock, IDs: idgen.NewUUIDFactory(), Logger: &mockLogger{}, Repository: h.repo, NettingPolicy: domain.Hedging})
	require.NoError(t, err)
	require.NoError(t, restored.LoadState(ctx))
	assert.Empty(t, restored.OpenPositions())

	client := newMockClient(t, simVenue, restored, h.clock, idgen.NewUUIDFactory())
	require.NoError(t, restored.RegisterClient(client))
	require.NoError(t, restored.ConnectAll(ctx))
	require.NoError(t, restored.Execute(ctx, marketOrder("S2", domain.Sell, "1")))
	client.accept("S2", "V-3")
	client.fill("S2", "E3", "1", "100", true)
	restored.Drain(ctx)

	open := restored.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, domain.PositionID("P-ETHUSDT.SIM-S-2"), open[0].ID)

	// the closed short is untouched in memory and in the repository
	old, ok := restored.Position(closedID)
	require.True(t, ok)
	assert.Equal(t, domain.SideFlat, old.Side)
	assert.True(t, old.RealizedPnL.Equal(qty("10")))
	assert.True(t, h.repo.positions[closedID].RealizedPnL.Equal(qty("10")))
	assert.Len(t, h.repo.positions, 2)
}

func TestEngine_LoadStateContinuesClientOrderIDs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := idgen.NewClientOrderIDGenerator("TESTER-001", "S-001", h.clock)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.engine.Execute(ctx, limitOrder(ids.Next(), domain.Buy, "1", "10")))
	}

	restored, err := New(Config{TraderID: "TESTER-001", Clock: h.clock, IDs: idgen.NewUUIDFactory(), Logger: &mockLogger{}, Repository: h.repo})
	require.NoError(t, err)
	require.NoError(t, restored.LoadState(ctx))

	again := idgen.NewClientOrderIDGenerator("TESTER-001", "S-001", h.clock)
	again.SetCount(len(restored.Orders()))
	next := again.Next()
	_, known := restored.Order(next)
	assert.False(t, known, "id %s reused after restore", next)
	assert.Equal(t, 4, again.Count())
}

func TestEngine_RunAndSend(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	require.NoError(t, h.engine.Send(ctx, limitOrder("O1", domain.Buy, "1", "10")))
	assert.ErrorIs(t, h.engine.Send(ctx, limitOrder("O1", domain.Buy, "1", "10")), ports.ErrDuplicateOrder)
	h.client.accept("O1", "V-1")

	assert.Eventually(t, func() bool {
		o, ok := h.engine.Order("O1")
		return ok && o.Status == domain.StatusAccepted
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
}
