package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	StatusInitialized     OrderStatus = "INITIALIZED"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusAccepted        OrderStatus = "ACCEPTED"
	StatusWorking         OrderStatus = "WORKING"
	StatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	StatusPendingModify   OrderStatus = "PENDING_MODIFY"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further event may change an order in this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusFilled, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsOpen reports whether the order is live at (or in flight to) the venue.
func (s OrderStatus) IsOpen() bool {
	switch s {
	case StatusSubmitted, StatusAccepted, StatusWorking, StatusPendingCancel, StatusPendingModify, StatusPartiallyFilled:
		return true
	}
	return false
}

// IsPending reports whether the status is a transient command-in-flight sub-state.
func (s OrderStatus) IsPending() bool {
	return s == StatusPendingCancel || s == StatusPendingModify
}

// Order is the engine-owned record of one order's lifecycle.
// It is mutated only through Apply; everything handed out is a Snapshot.
type Order struct {
	ClientOrderID ClientOrderID `json:"client_order_id"`
	OrderID       OrderID       `json:"order_id,omitempty"`
	AccountID     AccountID     `json:"account_id"`
	Venue         Venue         `json:"venue"`
	TraderID      TraderID      `json:"trader_id"`
	StrategyID    StrategyID    `json:"strategy_id"`
	InstrumentID  InstrumentID  `json:"instrument_id"`

	Side        OrderSide           `json:"side"`
	Type        OrderType           `json:"type"`
	Quantity    decimal.Decimal     `json:"quantity"`
	Price       decimal.NullDecimal `json:"price"`
	Trigger     decimal.NullDecimal `json:"trigger"`
	TimeInForce TimeInForce         `json:"time_in_force"`
	ExpireTime  time.Time           `json:"expire_time"`
	PostOnly    bool                `json:"post_only"`
	ReduceOnly  bool                `json:"reduce_only"`
	Hidden      bool                `json:"hidden"`

	Status         OrderStatus     `json:"status"`
	PreviousStatus OrderStatus     `json:"previous_status,omitempty"` // status to restore when a pending sub-state exits
	CumQty         decimal.Decimal `json:"cum_qty"`
	LeavesQty      decimal.Decimal `json:"leaves_qty"`
	AvgPrice       decimal.Decimal `json:"avg_price"`
	Fills          []Fill          `json:"fills"`
	RejectReason   string          `json:"reject_reason,omitempty"`
	EventCount     int             `json:"event_count"`

	// Bracket links. ParentID is set on contingent legs, SiblingID on both legs.
	ParentID  ClientOrderID `json:"parent_id,omitempty"`
	SiblingID ClientOrderID `json:"sibling_id,omitempty"`

	InitializedAt   time.Time `json:"initialized_at"`
	SubmittedAt     time.Time `json:"submitted_at"`
	AcceptedAt      time.Time `json:"accepted_at"`
	RejectedAt      time.Time `json:"rejected_at"`
	WorkingAt       time.Time `json:"working_at"`
	PendingAt       time.Time `json:"pending_at"`
	CancelledAt     time.Time `json:"cancelled_at"`
	AmendedAt       time.Time `json:"amended_at"`
	ExpiredAt       time.Time `json:"expired_at"`
	LastExecutionAt time.Time `json:"last_execution_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewOrder creates an order in the Initialized status from a submit command's terms.
func NewOrder(header CommandHeader, venue Venue, accountID AccountID, spec OrderSpec) *Order {
	return &Order{
		ClientOrderID: spec.ClientOrderID,
		AccountID:     accountID,
		Venue:         venue,
		TraderID:      header.TraderID,
		StrategyID:    header.StrategyID,
		InstrumentID:  spec.InstrumentID,
		Side:          spec.Side,
		Type:          spec.Type,
		Quantity:      spec.Quantity,
		Price:         spec.Price,
		Trigger:       spec.Trigger,
		TimeInForce:   spec.TimeInForce,
		ExpireTime:    spec.ExpireTime,
		PostOnly:      spec.PostOnly,
		ReduceOnly:    spec.ReduceOnly,
		Hidden:        spec.Hidden,
		Status:        StatusInitialized,
		CumQty:        decimal.Zero,
		LeavesQty:     spec.Quantity,
		AvgPrice:      decimal.Zero,
		InitializedAt: header.Timestamp,
		UpdatedAt:     header.Timestamp,
	}
}

// IsContingent reports whether the order is a bracket leg waiting on a parent.
func (o *Order) IsContingent() bool { return o.ParentID != "" }

// ExecutionIDs returns the execution ids applied to the order, in application order.
func (o *Order) ExecutionIDs() []ExecutionID {
	ids := make([]ExecutionID, len(o.Fills))
	for i, f := range o.Fills {
		ids[i] = f.ExecutionID
	}
	return ids
}

// Snapshot returns a deep copy of the order.
func (o *Order) Snapshot() Order {
	cp := *o
	cp.Fills = append([]Fill(nil), o.Fills...)
	return cp
}

// baseStatus is the status underneath a pending sub-state.
func (o *Order) baseStatus() OrderStatus {
	if o.Status.IsPending() {
		return o.PreviousStatus
	}
	return o.Status
}

func (o *Order) setBaseStatus(s OrderStatus) {
	if o.Status.IsPending() {
		o.PreviousStatus = s
		return
	}
	o.Status = s
}

func (o *Order) exitPending() {
	o.Status = o.PreviousStatus
	o.PreviousStatus = ""
}

func (o *Order) terminate(s OrderStatus) {
	o.Status = s
	o.PreviousStatus = ""
}

func statusIn(s OrderStatus, allowed ...OrderStatus) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

func (o *Order) invalid(kind EventKind) error {
	if o.Status.IsPending() {
		return fmt.Errorf("%w: cannot apply %s to order %s in %s (over %s)", ErrInvalidStateTransition, kind, o.ClientOrderID, o.Status, o.PreviousStatus)
	}
	return fmt.Errorf("%w: cannot apply %s to order %s in %s", ErrInvalidStateTransition, kind, o.ClientOrderID, o.Status)
}

// Apply validates ev against the current status and, if valid, performs the transition.
// On any error the order is left unchanged.
func (o *Order) Apply(ev OrderEvent) error {
	h := ev.OrderHeader()
	if h.ClientOrderID != o.ClientOrderID {
		return fmt.Errorf("%w: event for %s applied to %s", ErrWrongOrder, h.ClientOrderID, o.ClientOrderID)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: order %s is %s, dropping %s", ErrOrderTerminal, o.ClientOrderID, o.Status, ev.Kind())
	}

	ts := h.Timestamp
	switch e := ev.(type) {
	case OrderSubmitted:
		if o.Status != StatusInitialized {
			return o.invalid(e.Kind())
		}
		o.Status = StatusSubmitted
		o.SubmittedAt = ts

	case OrderAccepted:
		if o.baseStatus() != StatusSubmitted {
			return o.invalid(e.Kind())
		}
		o.setBaseStatus(StatusAccepted)
		o.AcceptedAt = ts

	case OrderRejected:
		if o.baseStatus() != StatusSubmitted {
			return o.invalid(e.Kind())
		}
		o.terminate(StatusRejected)
		o.RejectReason = e.Reason
		o.RejectedAt = ts

	case OrderWorking:
		if !statusIn(o.baseStatus(), StatusAccepted, StatusPartiallyFilled) {
			return o.invalid(e.Kind())
		}
		o.setBaseStatus(StatusWorking)
		o.WorkingAt = ts

	case OrderPendingCancel:
		switch {
		case o.Status == StatusPendingModify:
			o.Status = StatusPendingCancel
		case statusIn(o.Status, StatusSubmitted, StatusAccepted, StatusWorking, StatusPartiallyFilled):
			o.PreviousStatus = o.Status
			o.Status = StatusPendingCancel
		default:
			return o.invalid(e.Kind())
		}
		o.PendingAt = ts

	case OrderPendingModify:
		if !statusIn(o.Status, StatusAccepted, StatusWorking, StatusPartiallyFilled) {
			return o.invalid(e.Kind())
		}
		o.PreviousStatus = o.Status
		o.Status = StatusPendingModify
		o.PendingAt = ts

	case OrderCancelRejected:
		if o.Status != StatusPendingCancel {
			return o.invalid(e.Kind())
		}
		o.exitPending()

	case OrderModifyRejected:
		if o.Status != StatusPendingModify {
			return o.invalid(e.Kind())
		}
		o.exitPending()

	case OrderAmended:
		if o.Status == StatusPendingCancel || !statusIn(o.baseStatus(), StatusAccepted, StatusWorking, StatusPartiallyFilled) {
			return o.invalid(e.Kind())
		}
		if err := o.applyAmend(e); err != nil {
			return err
		}
		o.AmendedAt = ts

	case OrderPartiallyFilled:
		if err := o.applyFill(e.Kind(), h, e.Fill); err != nil {
			return err
		}
	case OrderFilled:
		if err := o.applyFill(e.Kind(), h, e.Fill); err != nil {
			return err
		}

	case OrderCancelled:
		if !o.Status.IsOpen() {
			return o.invalid(e.Kind())
		}
		o.terminate(StatusCancelled)
		o.CancelledAt = ts

	case OrderExpired:
		if !o.Status.IsOpen() {
			return o.invalid(e.Kind())
		}
		o.terminate(StatusExpired)
		o.ExpiredAt = ts

	default:
		return fmt.Errorf("%w: unsupported event %s for order %s", ErrInvalidStateTransition, ev.Kind(), o.ClientOrderID)
	}

	if o.OrderID == "" && h.OrderID != "" {
		o.OrderID = h.OrderID
	}
	o.EventCount++
	o.UpdatedAt = ts
	return nil
}

func (o *Order) applyAmend(e OrderAmended) error {
	qty := o.Quantity
	if e.Quantity.Valid {
		qty = e.Quantity.Decimal
	}
	if !qty.IsPositive() || qty.LessThan(o.CumQty) {
		return &IntegrityError{
			Kind:          IntegrityInvalidAmend,
			ClientOrderID: o.ClientOrderID,
			Detail:        fmt.Sprintf("amended quantity %s below filled quantity %s", qty, o.CumQty),
		}
	}
	if o.Status == StatusPendingModify {
		o.exitPending()
	}
	o.Quantity = qty
	o.LeavesQty = qty.Sub(o.CumQty)
	if e.Price.Valid {
		o.Price = e.Price
	}
	if e.Trigger.Valid {
		o.Trigger = e.Trigger
	}
	if o.LeavesQty.IsZero() {
		o.terminate(StatusFilled)
	}
	return nil
}

func (o *Order) applyFill(kind EventKind, h OrderEventHeader, f Fill) error {
	if !statusIn(o.baseStatus(), StatusAccepted, StatusWorking, StatusPartiallyFilled) {
		return o.invalid(kind)
	}
	for _, applied := range o.Fills {
		if applied.ExecutionID != f.ExecutionID {
			continue
		}
		if applied.SamePayload(f) {
			return fmt.Errorf("%w: execution %s on order %s", ErrDuplicateExecution, f.ExecutionID, o.ClientOrderID)
		}
		return &IntegrityError{
			Kind:          IntegrityExecutionConflict,
			ClientOrderID: o.ClientOrderID,
			ExecutionID:   f.ExecutionID,
			Detail:        fmt.Sprintf("execution id reused with different payload (qty %s px %s, previously qty %s px %s)", f.FillQty, f.FillPrice, applied.FillQty, applied.FillPrice),
		}
	}
	if f.ExecutionID == "" || !f.FillQty.IsPositive() || f.FillPrice.IsNegative() {
		return &IntegrityError{
			Kind:          IntegrityInvalidFill,
			ClientOrderID: o.ClientOrderID,
			ExecutionID:   f.ExecutionID,
			Detail:        fmt.Sprintf("fill requires an execution id, positive quantity and non-negative price (qty %s px %s)", f.FillQty, f.FillPrice),
		}
	}
	if f.FillQty.GreaterThan(o.LeavesQty) {
		return &IntegrityError{
			Kind:          IntegrityOverfill,
			ClientOrderID: o.ClientOrderID,
			ExecutionID:   f.ExecutionID,
			Detail:        fmt.Sprintf("fill quantity %s exceeds leaves quantity %s", f.FillQty, o.LeavesQty),
		}
	}

	notional := o.AvgPrice.Mul(o.CumQty).Add(f.FillPrice.Mul(f.FillQty))
	o.CumQty = o.CumQty.Add(f.FillQty)
	o.LeavesQty = o.Quantity.Sub(o.CumQty)
	o.AvgPrice = notional.Div(o.CumQty)
	o.Fills = append(o.Fills, f)
	o.LastExecutionAt = h.Timestamp

	if o.LeavesQty.IsZero() {
		o.terminate(StatusFilled)
	} else {
		o.setBaseStatus(StatusPartiallyFilled)
	}
	return nil
}
