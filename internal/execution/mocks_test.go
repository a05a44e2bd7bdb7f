package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"execCore/internal/clock"
	"execCore/internal/domain"
	"execCore/internal/idgen"
	"execCore/internal/ports"
)

type mockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.warnMsgs...)
}

func (m *mockLogger) errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errorMsgs...)
}

// mockClient records dispatched commands and reports events only when told to.
type mockClient struct {
	*ClientBase
	commands  []domain.Command
	submitErr error
	cancelErr error
	connects  int
	resets    int
	disposals int
}

func newMockClient(t *testing.T, venue domain.Venue, sink ports.EventSink, clk ports.Clock, ids ports.IdentifierFactory) *mockClient {
	t.Helper()
	base, err := NewClientBase(ClientConfig{
		Venue:     venue,
		AccountID: domain.NewAccountID(venue, "001"),
		Sink:      sink,
		Clock:     clk,
		IDs:       ids,
		Logger:    &mockLogger{},
	})
	require.NoError(t, err)
	return &mockClient{ClientBase: base}
}

func (c *mockClient) Connect(ctx context.Context) error {
	c.connects++
	c.SetConnected(true)
	return nil
}

func (c *mockClient) Disconnect(ctx context.Context) error {
	c.SetConnected(false)
	return nil
}

func (c *mockClient) Reset() { c.resets++ }

func (c *mockClient) Dispose() {
	c.disposals++
	c.MarkDisposed()
}

func (c *mockClient) SubmitOrder(ctx context.Context, cmd domain.SubmitOrder) error {
	if err := c.EnsureReady("SubmitOrder"); err != nil {
		return err
	}
	if c.submitErr != nil {
		return c.submitErr
	}
	c.commands = append(c.commands, cmd)
	return nil
}

func (c *mockClient) SubmitBracketOrder(ctx context.Context, cmd domain.SubmitBracketOrder) error {
	if err := c.EnsureReady("SubmitBracketOrder"); err != nil {
		return err
	}
	if c.submitErr != nil {
		return c.submitErr
	}
	c.commands = append(c.commands, cmd)
	return nil
}

func (c *mockClient) ModifyOrder(ctx context.Context, cmd domain.ModifyOrder) error {
	if err := c.EnsureReady("ModifyOrder"); err != nil {
		return err
	}
	c.commands = append(c.commands, cmd)
	return nil
}

func (c *mockClient) CancelOrder(ctx context.Context, cmd domain.CancelOrder) error {
	if err := c.EnsureReady("CancelOrder"); err != nil {
		return err
	}
	if c.cancelErr != nil {
		return c.cancelErr
	}
	c.commands = append(c.commands, cmd)
	return nil
}

func (c *mockClient) cancels() []domain.CancelOrder {
	var out []domain.CancelOrder
	for _, cmd := range c.commands {
		if cancel, ok := cmd.(domain.CancelOrder); ok {
			out = append(out, cancel)
		}
	}
	return out
}

// venue event helpers
func (c *mockClient) accept(id domain.ClientOrderID, venueID string) {
	c.HandleEvent(domain.OrderAccepted{OrderEventHeader: c.OrderHeader(id, domain.OrderID(venueID), nil)})
}

func (c *mockClient) reject(id domain.ClientOrderID, reason string) {
	c.HandleEvent(domain.OrderRejected{OrderEventHeader: c.OrderHeader(id, "", nil), Reason: reason})
}

func (c *mockClient) cancelled(id domain.ClientOrderID) {
	c.HandleEvent(domain.OrderCancelled{OrderEventHeader: c.OrderHeader(id, "", nil)})
}

func (c *mockClient) fill(id domain.ClientOrderID, execID, qty, px string, full bool) {
	f := domain.Fill{
		ExecutionID:   domain.ExecutionID(execID),
		FillQty:       decimal.RequireFromString(qty),
		FillPrice:     decimal.RequireFromString(px),
		Commission:    decimal.Zero,
		LiquiditySide: domain.LiquidityTaker,
	}
	h := c.OrderHeader(id, "", nil)
	if full {
		c.HandleEvent(domain.OrderFilled{OrderEventHeader: h, Fill: f})
		return
	}
	c.HandleEvent(domain.OrderPartiallyFilled{OrderEventHeader: h, Fill: f})
}

// recorder is a subscriber keeping every published event.
type recorder struct {
	events []domain.Event
}

func (r *recorder) OnEvent(ctx context.Context, ev domain.Event) {
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []domain.EventKind {
	out := make([]domain.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind()
	}
	return out
}

func (r *recorder) orderKinds(id domain.ClientOrderID) []domain.EventKind {
	var out []domain.EventKind
	for _, ev := range r.events {
		if oe, ok := ev.(domain.OrderEvent); ok && oe.OrderHeader().ClientOrderID == id {
			out = append(out, ev.Kind())
		}
	}
	return out
}

func (r *recorder) reset() { r.events = nil }

// memRepo is an in-memory ExecutionRepository.
type memRepo struct {
	orders    map[domain.ClientOrderID]domain.Order
	positions map[domain.PositionID]domain.Position
	accounts  map[domain.AccountID]domain.Account
	journal   []domain.Event
}

func newMemRepo() *memRepo {
	return &memRepo{
		orders:    make(map[domain.ClientOrderID]domain.Order),
		positions: make(map[domain.PositionID]domain.Position),
		accounts:  make(map[domain.AccountID]domain.Account),
	}
}

func (r *memRepo) SaveOrder(ctx context.Context, o domain.Order) error {
	r.orders[o.ClientOrderID] = o
	return nil
}

func (r *memRepo) SavePosition(ctx context.Context, p domain.Position) error {
	r.positions[p.ID] = p
	return nil
}

func (r *memRepo) SaveAccount(ctx context.Context, a domain.Account) error {
	r.accounts[a.ID] = a
	return nil
}

func (r *memRepo) AppendEvent(ctx context.Context, ev domain.Event) error {
	r.journal = append(r.journal, ev)
	return nil
}

func (r *memRepo) LoadOrders(ctx context.Context) ([]domain.Order, error) {
	out := make([]domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out, nil
}

func (r *memRepo) LoadPositions(ctx context.Context) ([]domain.Position, error) {
	out := make([]domain.Position, 0, len(r.positions))
	for _, p := range r.positions {
		out = append(out, p)
	}
	return out, nil
}

func (r *memRepo) LoadAccounts(ctx context.Context) ([]domain.Account, error) {
	out := make([]domain.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	return out, nil
}

// harness wires an engine to one connected mock client on venue SIM.
type harness struct {
	engine *Engine
	client *mockClient
	rec    *recorder
	clock  *clock.TestClock
	logger *mockLogger
	repo   *memRepo
}

var (
	simVenue   = domain.Venue("SIM")
	simAccount = domain.NewAccountID("SIM", "001")
	ethusdt    = domain.NewInstrumentID("ETHUSDT", "SIM")
	startTime  = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
)

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		rec:    &recorder{},
		clock:  clock.NewTestClock(startTime),
		logger: &mockLogger{},
		repo:   newMemRepo(),
	}
	cfg := Config{
		TraderID:   "TESTER-001",
		Clock:      h.clock,
		IDs:        idgen.NewUUIDFactory(),
		Logger:     h.logger,
		Repository: h.repo,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	e.Subscribe(h.rec)
	h.engine = e

	h.client = newMockClient(t, simVenue, e, cfg.Clock, cfg.IDs)
	require.NoError(t, e.RegisterClient(h.client))
	require.NoError(t, e.ConnectAll(context.Background()))
	return h
}

func (h *harness) drain() { h.engine.Drain(context.Background()) }

func header() domain.CommandHeader {
	return domain.CommandHeader{ID: uuid.New(), TraderID: "TESTER-001", StrategyID: "S-001", Timestamp: startTime}
}

func qty(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func limitOrder(id domain.ClientOrderID, side domain.OrderSide, quantity, price string) domain.SubmitOrder {
	return domain.SubmitOrder{
		CommandHeader: header(),
		Venue:         simVenue,
		AccountID:     simAccount,
		OrderSpec: domain.OrderSpec{
			ClientOrderID: id,
			InstrumentID:  ethusdt,
			Side:          side,
			Type:          domain.Limit,
			Quantity:      qty(quantity),
			Price:         decimal.NewNullDecimal(qty(price)),
			TimeInForce:   domain.GTC,
		},
	}
}

func marketOrder(id domain.ClientOrderID, side domain.OrderSide, quantity string) domain.SubmitOrder {
	cmd := limitOrder(id, side, quantity, "1")
	cmd.Type = domain.Market
	cmd.Price = decimal.NullDecimal{}
	return cmd
}

func bracketOrder() domain.SubmitBracketOrder {
	return domain.SubmitBracketOrder{
		CommandHeader: header(),
		Venue:         simVenue,
		AccountID:     simAccount,
		Entry:         limitOrder("EN", domain.Buy, "1", "100").OrderSpec,
		StopLoss: domain.OrderSpec{
			ClientOrderID: "SL",
			InstrumentID:  ethusdt,
			Side:          domain.Sell,
			Type:          domain.StopMarket,
			Quantity:      qty("1"),
			Trigger:       decimal.NewNullDecimal(qty("90")),
			TimeInForce:   domain.GTC,
			ReduceOnly:    true,
		},
		TakeProfit: domain.OrderSpec{
			ClientOrderID: "TP",
			InstrumentID:  ethusdt,
			Side:          domain.Sell,
			Type:          domain.Limit,
			Quantity:      qty("1"),
			Price:         decimal.NewNullDecimal(qty("110")),
			TimeInForce:   domain.GTC,
			ReduceOnly:    true,
		},
	}
}

func cancelOrder(id domain.ClientOrderID) domain.CancelOrder {
	return domain.CancelOrder{CommandHeader: header(), Venue: simVenue, ClientOrderID: id}
}
