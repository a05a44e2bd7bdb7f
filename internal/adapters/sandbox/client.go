// Package sandbox provides an in-process venue client that accepts, matches and
// fills orders against prices set by the caller. It is used for simulations and tests.
package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"execCore/internal/domain"
	"execCore/internal/execution"
	"execCore/internal/ports"
)

// DefaultVenue is used when no venue is configured.
const DefaultVenue domain.Venue = "SANDBOX"

// Config holds the configuration for the sandbox client.
type Config struct {
	Venue     domain.Venue
	AccountID domain.AccountID
	Sink      ports.EventSink
	Clock     ports.Clock
	IDs       ports.IdentifierFactory
	Logger    ports.Logger

	Balances    []domain.Balance // reported on connect
	FeeRate     decimal.Decimal  // commission as a fraction of notional
	FeeCurrency string           // defaults to USDT
	// ManualAccept leaves new orders Submitted until AcceptOrder is called.
	ManualAccept bool
	// Reject returns a non-empty reason to reject an order on submission.
	Reject func(spec domain.OrderSpec) string
}

type trackedOrder struct {
	spec      domain.OrderSpec
	orderID   domain.OrderID
	parent    domain.ClientOrderID // entry of a bracket leg
	cumQty    decimal.Decimal
	accepted  bool
	open      bool
	triggered bool
}

func (o *trackedOrder) leaves() decimal.Decimal { return o.spec.Quantity.Sub(o.cumQty) }

// Client implements ports.ExecutionClient against an in-memory venue.
type Client struct {
	*execution.ClientBase
	logger      ports.Logger
	balances    []domain.Balance
	feeRate     decimal.Decimal
	feeCurrency string
	manual      bool
	reject      func(domain.OrderSpec) string

	mu      sync.Mutex
	orders  map[domain.ClientOrderID]*trackedOrder
	seq     []domain.ClientOrderID // submission order, used for matching
	prices  map[domain.InstrumentID]decimal.Decimal
	nextOID int
	nextEID int
}

var _ ports.ExecutionClient = (*Client)(nil)

// NewClient creates a sandbox client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Venue == "" {
		cfg.Venue = DefaultVenue
	}
	base, err := execution.NewClientBase(execution.ClientConfig{
		Venue:     cfg.Venue,
		AccountID: cfg.AccountID,
		Sink:      cfg.Sink,
		Clock:     cfg.Clock,
		IDs:       cfg.IDs,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.FeeRate.IsNegative() {
		return nil, fmt.Errorf("%w: sandbox fee rate must not be negative", ports.ErrConfigurationError)
	}
	if cfg.FeeCurrency == "" {
		cfg.FeeCurrency = "USDT"
	}
	c := &Client{
		ClientBase:  base,
		logger:      cfg.Logger,
		balances:    append([]domain.Balance(nil), cfg.Balances...),
		feeRate:     cfg.FeeRate,
		feeCurrency: cfg.FeeCurrency,
		manual:      cfg.ManualAccept,
		reject:      cfg.Reject,
	}
	c.clear()
	return c, nil
}

func (c *Client) clear() {
	c.orders = make(map[domain.ClientOrderID]*trackedOrder)
	c.seq = nil
	c.prices = make(map[domain.InstrumentID]decimal.Decimal)
	c.nextOID = 0
	c.nextEID = 0
}

// Connect marks the client connected and reports the configured balances.
func (c *Client) Connect(ctx context.Context) error {
	if c.IsDisposed() {
		return fmt.Errorf("Connect on %s: %w", c.Venue(), ports.ErrClientDisposed)
	}
	c.SetConnected(true)
	c.HandleEvent(c.AccountState(append([]domain.Balance(nil), c.balances...), domain.Margins{}, true))
	c.logger.Info(ctx, "Sandbox client connected", map[string]interface{}{"venue": c.Venue(), "account": c.AccountID().String()})
	return nil
}

// Disconnect marks the client disconnected. Tracked orders are kept.
func (c *Client) Disconnect(ctx context.Context) error {
	c.SetConnected(false)
	c.logger.Info(ctx, "Sandbox client disconnected", map[string]interface{}{"venue": c.Venue()})
	return nil
}

// Reset forgets all tracked orders and prices.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetConnected(false)
	c.clear()
}

// Dispose releases the client. Every later command fails.
func (c *Client) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MarkDisposed()
	c.clear()
}

// SubmitOrder implements ports.ExecutionClient.
func (c *Client) SubmitOrder(ctx context.Context, cmd domain.SubmitOrder) error {
	if err := c.EnsureReady("SubmitOrder"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitLocked(ctx, cmd, cmd.OrderSpec, "")
	return nil
}

// SubmitBracketOrder submits all three legs. The legs match only after the entry is completely filled.
func (c *Client) SubmitBracketOrder(ctx context.Context, cmd domain.SubmitBracketOrder) error {
	if err := c.EnsureReady("SubmitBracketOrder"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitLocked(ctx, cmd, cmd.Entry, "")
	c.submitLocked(ctx, cmd, cmd.StopLoss, cmd.Entry.ClientOrderID)
	c.submitLocked(ctx, cmd, cmd.TakeProfit, cmd.Entry.ClientOrderID)
	return nil
}

func (c *Client) submitLocked(ctx context.Context, cmd domain.Command, spec domain.OrderSpec, parent domain.ClientOrderID) {
	if c.reject != nil {
		if reason := c.reject(spec); reason != "" {
			c.logger.Info(ctx, "Sandbox rejecting order", map[string]interface{}{"clientOrderId": spec.ClientOrderID, "reason": reason})
			c.HandleEvent(domain.OrderRejected{OrderEventHeader: c.OrderHeader(spec.ClientOrderID, "", cmd), Reason: reason})
			return
		}
	}

	c.nextOID++
	o := &trackedOrder{
		spec:    spec,
		orderID: domain.OrderID(fmt.Sprintf("%s-%d", c.Venue(), c.nextOID)),
		parent:  parent,
		open:    true,
	}
	c.orders[spec.ClientOrderID] = o
	c.seq = append(c.seq, spec.ClientOrderID)
	if c.manual {
		return
	}
	c.acceptLocked(cmd, o)
}

func (c *Client) acceptLocked(cmd domain.Command, o *trackedOrder) {
	o.accepted = true
	c.HandleEvent(domain.OrderAccepted{OrderEventHeader: c.OrderHeader(o.spec.ClientOrderID, o.orderID, cmd)})
	if px, ok := c.prices[o.spec.InstrumentID]; ok {
		c.matchOrderLocked(o, px)
	}
}

// ModifyOrder amends a tracked open order with the command's terms.
func (c *Client) ModifyOrder(ctx context.Context, cmd domain.ModifyOrder) error {
	if err := c.EnsureReady("ModifyOrder"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.orders[cmd.ClientOrderID]
	if !ok || !o.open || !o.accepted {
		c.HandleEvent(domain.OrderModifyRejected{OrderEventHeader: c.OrderHeader(cmd.ClientOrderID, cmd.OrderID, cmd), Reason: "order is not open"})
		return nil
	}
	qty := o.spec.Quantity
	if cmd.Quantity.Valid {
		qty = cmd.Quantity.Decimal
	}
	if qty.LessThanOrEqual(o.cumQty) {
		c.HandleEvent(domain.OrderModifyRejected{
			OrderEventHeader: c.OrderHeader(cmd.ClientOrderID, o.orderID, cmd),
			Reason:           fmt.Sprintf("quantity %s does not exceed filled %s", qty, o.cumQty),
		})
		return nil
	}

	o.spec.Quantity = qty
	if cmd.Price.Valid {
		o.spec.Price = cmd.Price
	}
	if cmd.Trigger.Valid {
		o.spec.Trigger = cmd.Trigger
	}
	c.HandleEvent(domain.OrderAmended{
		OrderEventHeader: c.OrderHeader(cmd.ClientOrderID, o.orderID, cmd),
		Quantity:         decimal.NewNullDecimal(qty),
		Price:            o.spec.Price,
		Trigger:          o.spec.Trigger,
	})
	if px, ok := c.prices[o.spec.InstrumentID]; ok {
		c.matchOrderLocked(o, px)
	}
	return nil
}

// CancelOrder cancels a tracked open order.
func (c *Client) CancelOrder(ctx context.Context, cmd domain.CancelOrder) error {
	if err := c.EnsureReady("CancelOrder"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.orders[cmd.ClientOrderID]
	if !ok || !o.open {
		c.HandleEvent(domain.OrderCancelRejected{OrderEventHeader: c.OrderHeader(cmd.ClientOrderID, cmd.OrderID, cmd), Reason: "order is not open"})
		return nil
	}
	o.open = false
	c.HandleEvent(domain.OrderCancelled{OrderEventHeader: c.OrderHeader(cmd.ClientOrderID, o.orderID, cmd)})
	return nil
}

// SetPrice sets the last price of an instrument and fills every accepted order
// it crosses, in submission order.
func (c *Client) SetPrice(instrument domain.InstrumentID, px decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[instrument] = px
	for _, id := range c.seq {
		o := c.orders[id]
		if o.open && o.accepted && o.spec.InstrumentID == instrument {
			c.matchOrderLocked(o, px)
		}
	}
}

func (c *Client) matchOrderLocked(o *trackedOrder, px decimal.Decimal) {
	if o.parent != "" {
		entry, ok := c.orders[o.parent]
		if !ok || entry.leaves().IsPositive() {
			return
		}
	}
	buy := o.spec.Side == domain.Buy
	crossed := func(level decimal.Decimal) bool {
		if buy {
			return px.LessThanOrEqual(level)
		}
		return px.GreaterThanOrEqual(level)
	}
	triggered := func(level decimal.Decimal) bool {
		if buy {
			return px.GreaterThanOrEqual(level)
		}
		return px.LessThanOrEqual(level)
	}

	switch o.spec.Type {
	case domain.Market:
		c.fillLocked(o, o.leaves(), px, domain.LiquidityTaker)
	case domain.Limit:
		if crossed(o.spec.Price.Decimal) {
			c.fillLocked(o, o.leaves(), o.spec.Price.Decimal, domain.LiquidityMaker)
		}
	case domain.StopMarket:
		if triggered(o.spec.Trigger.Decimal) {
			c.fillLocked(o, o.leaves(), px, domain.LiquidityTaker)
		}
	case domain.StopLimit:
		if !o.triggered && triggered(o.spec.Trigger.Decimal) {
			o.triggered = true
		}
		if o.triggered && crossed(o.spec.Price.Decimal) {
			c.fillLocked(o, o.leaves(), o.spec.Price.Decimal, domain.LiquidityMaker)
		}
	}
}

func (c *Client) fillLocked(o *trackedOrder, qty, px decimal.Decimal, liquidity domain.LiquiditySide) {
	c.nextEID++
	fill := domain.Fill{
		ExecutionID:        domain.ExecutionID(fmt.Sprintf("%s-E-%d", c.Venue(), c.nextEID)),
		FillQty:            qty,
		FillPrice:          px,
		Commission:         qty.Mul(px).Mul(c.feeRate),
		CommissionCurrency: c.feeCurrency,
		LiquiditySide:      liquidity,
	}
	o.cumQty = o.cumQty.Add(qty)
	h := c.OrderHeader(o.spec.ClientOrderID, o.orderID, nil)
	if o.leaves().IsPositive() {
		c.HandleEvent(domain.OrderPartiallyFilled{OrderEventHeader: h, Fill: fill})
		return
	}
	o.open = false
	c.HandleEvent(domain.OrderFilled{OrderEventHeader: h, Fill: fill})
}

func (c *Client) lookupOpen(id domain.ClientOrderID) (*trackedOrder, error) {
	o, ok := c.orders[id]
	if !ok {
		return nil, fmt.Errorf("sandbox order %s: %w", id, ports.ErrOrderNotFound)
	}
	if !o.open {
		return nil, fmt.Errorf("sandbox order %s is closed: %w", id, ports.ErrInvalidRequest)
	}
	return o, nil
}

// AcceptOrder accepts an order held by ManualAccept.
func (c *Client) AcceptOrder(id domain.ClientOrderID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, err := c.lookupOpen(id)
	if err != nil {
		return err
	}
	if o.accepted {
		return fmt.Errorf("sandbox order %s already accepted: %w", id, ports.ErrInvalidRequest)
	}
	c.acceptLocked(nil, o)
	return nil
}

// FillOrder fills qty of an accepted order at px. A fill below the leaves quantity is partial.
func (c *Client) FillOrder(id domain.ClientOrderID, qty, px decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, err := c.lookupOpen(id)
	if err != nil {
		return err
	}
	if !o.accepted {
		return fmt.Errorf("sandbox order %s not accepted: %w", id, ports.ErrInvalidRequest)
	}
	if !qty.IsPositive() || qty.GreaterThan(o.leaves()) {
		return fmt.Errorf("sandbox fill %s of order %s outside leaves %s: %w", qty, id, o.leaves(), ports.ErrInvalidRequest)
	}
	c.fillLocked(o, qty, px, domain.LiquidityMaker)
	return nil
}

// RejectOrder rejects an order the venue has not accepted yet.
func (c *Client) RejectOrder(id domain.ClientOrderID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, err := c.lookupOpen(id)
	if err != nil {
		return err
	}
	if o.accepted {
		return fmt.Errorf("sandbox order %s already accepted: %w", id, ports.ErrInvalidRequest)
	}
	o.open = false
	c.HandleEvent(domain.OrderRejected{OrderEventHeader: c.OrderHeader(id, "", nil), Reason: reason})
	return nil
}

// ExpireOrder expires an open order.
func (c *Client) ExpireOrder(id domain.ClientOrderID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, err := c.lookupOpen(id)
	if err != nil {
		return err
	}
	o.open = false
	c.HandleEvent(domain.OrderExpired{OrderEventHeader: c.OrderHeader(id, o.orderID, nil)})
	return nil
}

// OpenOrders returns the number of orders the sandbox still works.
func (c *Client) OpenOrders() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, o := range c.orders {
		if o.open {
			n++
		}
	}
	return n
}
