package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind names an event variant. It is also the journal discriminator.
type EventKind string

const (
	KindOrderSubmitted       EventKind = "OrderSubmitted"
	KindOrderAccepted        EventKind = "OrderAccepted"
	KindOrderRejected        EventKind = "OrderRejected"
	KindOrderWorking         EventKind = "OrderWorking"
	KindOrderPendingCancel   EventKind = "OrderPendingCancel"
	KindOrderPendingModify   EventKind = "OrderPendingModify"
	KindOrderCancelRejected  EventKind = "OrderCancelRejected"
	KindOrderModifyRejected  EventKind = "OrderModifyRejected"
	KindOrderPartiallyFilled EventKind = "OrderPartiallyFilled"
	KindOrderFilled          EventKind = "OrderFilled"
	KindOrderCancelled       EventKind = "OrderCancelled"
	KindOrderExpired         EventKind = "OrderExpired"
	KindOrderAmended         EventKind = "OrderAmended"

	KindAccountState    EventKind = "AccountState"
	KindPositionOpened  EventKind = "PositionOpened"
	KindPositionChanged EventKind = "PositionChanged"
	KindPositionClosed  EventKind = "PositionClosed"
	KindIntegrityFault  EventKind = "IntegrityFault"
)

// Event is an immutable fact published by the engine.
type Event interface {
	EventID() uuid.UUID
	OccurredAt() time.Time
	Kind() EventKind
}

// OrderEvent is an event addressed to one order.
type OrderEvent interface {
	Event
	OrderHeader() OrderEventHeader
}

// FillEvent is an order event carrying a fill.
type FillEvent interface {
	OrderEvent
	FillDetails() Fill
}

// EventHeader holds the fields common to non-order events.
type EventHeader struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (h EventHeader) EventID() uuid.UUID    { return h.ID }
func (h EventHeader) OccurredAt() time.Time { return h.Timestamp }

// OrderEventHeader holds the fields common to every order event.
// ResponseTo is the id of the command the event answers, uuid.Nil when unsolicited.
type OrderEventHeader struct {
	ID            uuid.UUID     `json:"id"`
	ClientOrderID ClientOrderID `json:"client_order_id"`
	OrderID       OrderID       `json:"order_id,omitempty"`
	AccountID     AccountID     `json:"account_id"`
	ResponseTo    uuid.UUID     `json:"response_to"`
	Timestamp     time.Time     `json:"timestamp"`
}

func (h OrderEventHeader) EventID() uuid.UUID            { return h.ID }
func (h OrderEventHeader) OccurredAt() time.Time         { return h.Timestamp }
func (h OrderEventHeader) OrderHeader() OrderEventHeader { return h }

// Fill describes one execution against an order.
type Fill struct {
	ExecutionID        ExecutionID     `json:"execution_id"`
	PositionID         PositionID      `json:"position_id,omitempty"` // venue assigned, optional
	FillQty            decimal.Decimal `json:"fill_qty"`
	FillPrice          decimal.Decimal `json:"fill_price"`
	Commission         decimal.Decimal `json:"commission"`
	CommissionCurrency string          `json:"commission_currency,omitempty"`
	LiquiditySide      LiquiditySide   `json:"liquidity_side"`
}

// SamePayload reports whether two fills describe the same execution.
func (f Fill) SamePayload(o Fill) bool {
	return f.ExecutionID == o.ExecutionID &&
		f.FillQty.Equal(o.FillQty) &&
		f.FillPrice.Equal(o.FillPrice) &&
		f.Commission.Equal(o.Commission)
}

type OrderSubmitted struct {
	OrderEventHeader
}

func (OrderSubmitted) Kind() EventKind { return KindOrderSubmitted }

type OrderAccepted struct {
	OrderEventHeader
}

func (OrderAccepted) Kind() EventKind { return KindOrderAccepted }

type OrderRejected struct {
	OrderEventHeader
	Reason string `json:"reason"`
}

func (OrderRejected) Kind() EventKind { return KindOrderRejected }

type OrderWorking struct {
	OrderEventHeader
}

func (OrderWorking) Kind() EventKind { return KindOrderWorking }

// OrderPendingCancel is emitted by the engine when a cancel is dispatched.
type OrderPendingCancel struct {
	OrderEventHeader
}

func (OrderPendingCancel) Kind() EventKind { return KindOrderPendingCancel }

// OrderPendingModify is emitted by the engine when a modify is dispatched.
type OrderPendingModify struct {
	OrderEventHeader
}

func (OrderPendingModify) Kind() EventKind { return KindOrderPendingModify }

type OrderCancelRejected struct {
	OrderEventHeader
	Reason string `json:"reason"`
}

func (OrderCancelRejected) Kind() EventKind { return KindOrderCancelRejected }

type OrderModifyRejected struct {
	OrderEventHeader
	Reason string `json:"reason"`
}

func (OrderModifyRejected) Kind() EventKind { return KindOrderModifyRejected }

type OrderPartiallyFilled struct {
	OrderEventHeader
	Fill
}

func (OrderPartiallyFilled) Kind() EventKind     { return KindOrderPartiallyFilled }
func (e OrderPartiallyFilled) FillDetails() Fill { return e.Fill }

type OrderFilled struct {
	OrderEventHeader
	Fill
}

func (OrderFilled) Kind() EventKind     { return KindOrderFilled }
func (e OrderFilled) FillDetails() Fill { return e.Fill }

type OrderCancelled struct {
	OrderEventHeader
}

func (OrderCancelled) Kind() EventKind { return KindOrderCancelled }

type OrderExpired struct {
	OrderEventHeader
}

func (OrderExpired) Kind() EventKind { return KindOrderExpired }

// OrderAmended carries the order's terms after a modification; unset fields are unchanged.
type OrderAmended struct {
	OrderEventHeader
	Quantity decimal.NullDecimal `json:"quantity"`
	Price    decimal.NullDecimal `json:"price"`
	Trigger  decimal.NullDecimal `json:"trigger"`
}

func (OrderAmended) Kind() EventKind { return KindOrderAmended }

// Balance is one currency balance of an account.
type Balance struct {
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
	Free     decimal.Decimal `json:"free"`
	Locked   decimal.Decimal `json:"locked"`
}

// Margins holds the margin figures reported for an account.
type Margins struct {
	Initial     decimal.Decimal `json:"initial"`
	Maintenance decimal.Decimal `json:"maintenance"`
}

// AccountState reports balances and margins of an account. Reported is false
// when the state was derived locally rather than pushed by the venue.
type AccountState struct {
	EventHeader
	AccountID AccountID `json:"account_id"`
	Balances  []Balance `json:"balances"`
	Margins   Margins   `json:"margins"`
	Reported  bool      `json:"reported"`
}

func (AccountState) Kind() EventKind { return KindAccountState }

type PositionOpened struct {
	EventHeader
	Position Position `json:"position"`
}

func (PositionOpened) Kind() EventKind { return KindPositionOpened }

type PositionChanged struct {
	EventHeader
	Position Position `json:"position"`
}

func (PositionChanged) Kind() EventKind { return KindPositionChanged }

type PositionClosed struct {
	EventHeader
	Position Position `json:"position"`
}

func (PositionClosed) Kind() EventKind { return KindPositionClosed }

// IntegrityFault surfaces venue data the engine refused to apply.
type IntegrityFault struct {
	EventHeader
	ClientOrderID ClientOrderID `json:"client_order_id"`
	ExecutionID   ExecutionID   `json:"execution_id,omitempty"`
	Fault         IntegrityKind `json:"fault"`
	Reason        string        `json:"reason"`
	Err           error         `json:"-"`
}

func (IntegrityFault) Kind() EventKind { return KindIntegrityFault }
