package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Command is an instruction from a strategy routed by the engine to a venue client.
type Command interface {
	CommandID() uuid.UUID
	TargetVenue() Venue
	isCommand()
}

// CommandHeader holds the fields common to every command.
type CommandHeader struct {
	ID         uuid.UUID  `json:"id"`
	TraderID   TraderID   `json:"trader_id"`
	StrategyID StrategyID `json:"strategy_id"`
	Timestamp  time.Time  `json:"timestamp"`
}

// CommandID returns the command's unique id, used as the ResponseTo correlation of answering events.
func (h CommandHeader) CommandID() uuid.UUID { return h.ID }

// OrderSpec holds the static terms of a new order.
type OrderSpec struct {
	ClientOrderID ClientOrderID       `json:"client_order_id"`
	InstrumentID  InstrumentID        `json:"instrument_id"`
	Side          OrderSide           `json:"side"`
	Type          OrderType           `json:"type"`
	Quantity      decimal.Decimal     `json:"quantity"`
	Price         decimal.NullDecimal `json:"price"`
	Trigger       decimal.NullDecimal `json:"trigger"`
	TimeInForce   TimeInForce         `json:"time_in_force"`
	ExpireTime    time.Time           `json:"expire_time"`
	PostOnly      bool                `json:"post_only"`
	ReduceOnly    bool                `json:"reduce_only"`
	Hidden        bool                `json:"hidden"`
}

// Validate checks that the order terms are internally consistent.
func (s OrderSpec) Validate() error {
	if s.ClientOrderID == "" {
		return fmt.Errorf("%w: client order id is required", ErrInvalidOrderSpec)
	}
	if s.InstrumentID.Symbol == "" {
		return fmt.Errorf("%w: instrument is required for order %s", ErrInvalidOrderSpec, s.ClientOrderID)
	}
	if s.Side != Buy && s.Side != Sell {
		return fmt.Errorf("%w: invalid side '%s' for order %s", ErrInvalidOrderSpec, s.Side, s.ClientOrderID)
	}
	if !s.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive for order %s", ErrInvalidOrderSpec, s.ClientOrderID)
	}
	switch s.Type {
	case Market, Limit, StopMarket, StopLimit:
	default:
		return fmt.Errorf("%w: unknown order type '%s' for order %s", ErrInvalidOrderSpec, s.Type, s.ClientOrderID)
	}
	if s.Type.RequiresPrice() {
		if !s.Price.Valid || !s.Price.Decimal.IsPositive() {
			return fmt.Errorf("%w: %s order %s requires a positive price", ErrInvalidOrderSpec, s.Type, s.ClientOrderID)
		}
	} else if s.Price.Valid {
		return fmt.Errorf("%w: %s order %s must not carry a price", ErrInvalidOrderSpec, s.Type, s.ClientOrderID)
	}
	if s.Type.RequiresTrigger() {
		if !s.Trigger.Valid || !s.Trigger.Decimal.IsPositive() {
			return fmt.Errorf("%w: %s order %s requires a positive trigger price", ErrInvalidOrderSpec, s.Type, s.ClientOrderID)
		}
	} else if s.Trigger.Valid {
		return fmt.Errorf("%w: %s order %s must not carry a trigger price", ErrInvalidOrderSpec, s.Type, s.ClientOrderID)
	}
	if s.PostOnly && s.Type != Limit {
		return fmt.Errorf("%w: post-only is only valid for LIMIT orders (order %s)", ErrInvalidOrderSpec, s.ClientOrderID)
	}
	if s.TimeInForce == GTD && s.ExpireTime.IsZero() {
		return fmt.Errorf("%w: GTD order %s requires an expire time", ErrInvalidOrderSpec, s.ClientOrderID)
	}
	return nil
}

// SubmitOrder asks the venue to accept a new order.
type SubmitOrder struct {
	CommandHeader
	Venue     Venue     `json:"venue"`
	AccountID AccountID `json:"account_id"`
	OrderSpec
}

func (c SubmitOrder) TargetVenue() Venue { return c.Venue }
func (SubmitOrder) isCommand()           {}

// SubmitBracketOrder submits an entry order with contingent stop-loss and take-profit legs.
type SubmitBracketOrder struct {
	CommandHeader
	Venue      Venue     `json:"venue"`
	AccountID  AccountID `json:"account_id"`
	Entry      OrderSpec `json:"entry"`
	StopLoss   OrderSpec `json:"stop_loss"`
	TakeProfit OrderSpec `json:"take_profit"`
}

func (c SubmitBracketOrder) TargetVenue() Venue { return c.Venue }
func (SubmitBracketOrder) isCommand()           {}

// Legs returns the entry, stop-loss and take-profit specs in that order.
func (c SubmitBracketOrder) Legs() [3]OrderSpec {
	return [3]OrderSpec{c.Entry, c.StopLoss, c.TakeProfit}
}

// Validate checks each leg and the relation between them.
func (c SubmitBracketOrder) Validate() error {
	for _, leg := range c.Legs() {
		if err := leg.Validate(); err != nil {
			return err
		}
	}
	if c.Entry.ClientOrderID == c.StopLoss.ClientOrderID ||
		c.Entry.ClientOrderID == c.TakeProfit.ClientOrderID ||
		c.StopLoss.ClientOrderID == c.TakeProfit.ClientOrderID {
		return fmt.Errorf("%w: bracket legs must have distinct client order ids", ErrInvalidOrderSpec)
	}
	exit := c.Entry.Side.Opposite()
	if c.StopLoss.Side != exit || c.TakeProfit.Side != exit {
		return fmt.Errorf("%w: bracket %s legs must be on the %s side", ErrInvalidOrderSpec, c.Entry.ClientOrderID, exit)
	}
	if c.StopLoss.InstrumentID != c.Entry.InstrumentID || c.TakeProfit.InstrumentID != c.Entry.InstrumentID {
		return fmt.Errorf("%w: bracket %s legs must trade the entry instrument", ErrInvalidOrderSpec, c.Entry.ClientOrderID)
	}
	return nil
}

// ModifyOrder asks the venue to amend quantity and/or prices of a working order.
// InstrumentID, OrderID and Side are filled in by the engine before dispatch,
// as are Quantity and Price when left unset.
type ModifyOrder struct {
	CommandHeader
	Venue         Venue               `json:"venue"`
	ClientOrderID ClientOrderID       `json:"client_order_id"`
	Quantity      decimal.NullDecimal `json:"quantity"`
	Price         decimal.NullDecimal `json:"price"`
	Trigger       decimal.NullDecimal `json:"trigger"`

	InstrumentID InstrumentID `json:"instrument_id"`
	OrderID      OrderID      `json:"order_id"`
	Side         OrderSide    `json:"side"`
}

func (c ModifyOrder) TargetVenue() Venue { return c.Venue }
func (ModifyOrder) isCommand()           {}

// Validate checks that the command changes something and that new values are positive.
func (c ModifyOrder) Validate() error {
	if c.ClientOrderID == "" {
		return fmt.Errorf("%w: client order id is required", ErrInvalidOrderSpec)
	}
	if !c.Quantity.Valid && !c.Price.Valid && !c.Trigger.Valid {
		return fmt.Errorf("%w: modify of %s changes nothing", ErrInvalidOrderSpec, c.ClientOrderID)
	}
	for _, v := range []decimal.NullDecimal{c.Quantity, c.Price, c.Trigger} {
		if v.Valid && !v.Decimal.IsPositive() {
			return fmt.Errorf("%w: modify of %s has a non-positive value", ErrInvalidOrderSpec, c.ClientOrderID)
		}
	}
	return nil
}

// CancelOrder asks the venue to cancel a working order.
// InstrumentID and OrderID are filled in by the engine before dispatch.
type CancelOrder struct {
	CommandHeader
	Venue         Venue         `json:"venue"`
	ClientOrderID ClientOrderID `json:"client_order_id"`

	InstrumentID InstrumentID `json:"instrument_id"`
	OrderID      OrderID      `json:"order_id"`
}

func (c CancelOrder) TargetVenue() Venue { return c.Venue }
func (CancelOrder) isCommand()           {}
