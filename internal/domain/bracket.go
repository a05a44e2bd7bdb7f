package domain

// BracketState tracks whether the contingent legs of a bracket may transition.
type BracketState string

const (
	// BracketPending means the entry is still open; leg events are held.
	BracketPending BracketState = "PENDING"
	// BracketActive means the entry filled; legs transition freely (one-cancels-other).
	BracketActive BracketState = "ACTIVE"
	// BracketVoid means the entry ended without filling; open legs are cancelled.
	BracketVoid BracketState = "VOID"
)

// BracketOrder links an entry order with its stop-loss and take-profit legs.
type BracketOrder struct {
	Entry      ClientOrderID `json:"entry"`
	StopLoss   ClientOrderID `json:"stop_loss"`
	TakeProfit ClientOrderID `json:"take_profit"`
	State      BracketState  `json:"state"`

	held []OrderEvent
}

// NewBracketOrder builds the three linked orders of a bracket command.
// Legs carry the entry as parent and each other as OCO sibling.
func NewBracketOrder(cmd SubmitBracketOrder) (*BracketOrder, [3]*Order) {
	entry := NewOrder(cmd.CommandHeader, cmd.Venue, cmd.AccountID, cmd.Entry)
	sl := NewOrder(cmd.CommandHeader, cmd.Venue, cmd.AccountID, cmd.StopLoss)
	tp := NewOrder(cmd.CommandHeader, cmd.Venue, cmd.AccountID, cmd.TakeProfit)

	sl.ParentID, sl.SiblingID = entry.ClientOrderID, tp.ClientOrderID
	tp.ParentID, tp.SiblingID = entry.ClientOrderID, sl.ClientOrderID

	b := &BracketOrder{
		Entry:      entry.ClientOrderID,
		StopLoss:   sl.ClientOrderID,
		TakeProfit: tp.ClientOrderID,
		State:      BracketPending,
	}
	return b, [3]*Order{entry, sl, tp}
}

// IsLeg reports whether id is the stop-loss or take-profit of this bracket.
func (b *BracketOrder) IsLeg(id ClientOrderID) bool {
	return id == b.StopLoss || id == b.TakeProfit
}

// Sibling returns the other contingent leg.
func (b *BracketOrder) Sibling(id ClientOrderID) (ClientOrderID, bool) {
	switch id {
	case b.StopLoss:
		return b.TakeProfit, true
	case b.TakeProfit:
		return b.StopLoss, true
	}
	return "", false
}

// Hold queues a leg event until the entry resolves.
func (b *BracketOrder) Hold(ev OrderEvent) {
	b.held = append(b.held, ev)
}

// Held returns the number of queued leg events.
func (b *BracketOrder) Held() int { return len(b.held) }

// Resolve records how the entry ended and returns the held leg events in arrival order.
func (b *BracketOrder) Resolve(entryStatus OrderStatus) []OrderEvent {
	if entryStatus == StatusFilled {
		b.State = BracketActive
	} else {
		b.State = BracketVoid
	}
	released := b.held
	b.held = nil
	return released
}
