package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is derived purely by folding fills for one PositionID.
type Position struct {
	ID             PositionID    `json:"id"`
	Sequence       int           `json:"sequence"`
	AccountID      AccountID     `json:"account_id"`
	InstrumentID   InstrumentID  `json:"instrument_id"`
	StrategyID     StrategyID    `json:"strategy_id"`
	OpeningOrderID ClientOrderID `json:"opening_order_id"`

	Side          PositionSide    `json:"side"`
	NetQty        decimal.Decimal `json:"net_qty"` // signed: positive long, negative short
	PeakQty       decimal.Decimal `json:"peak_qty"`
	AvgOpenPrice  decimal.Decimal `json:"avg_open_price"`
	AvgClosePrice decimal.Decimal `json:"avg_close_price"`
	ClosedQty     decimal.Decimal `json:"closed_qty"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	Commissions   decimal.Decimal `json:"commissions"`
	ExecutionIDs  []ExecutionID   `json:"execution_ids"`

	OpenedAt  time.Time `json:"opened_at"`
	ClosedAt  time.Time `json:"closed_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPosition creates an empty (flat) position identity.
func NewPosition(id PositionID, seq int, accountID AccountID, instrumentID InstrumentID, strategyID StrategyID) *Position {
	return &Position{
		ID:            id,
		Sequence:      seq,
		AccountID:     accountID,
		InstrumentID:  instrumentID,
		StrategyID:    strategyID,
		Side:          SideFlat,
		NetQty:        decimal.Zero,
		PeakQty:       decimal.Zero,
		AvgOpenPrice:  decimal.Zero,
		AvgClosePrice: decimal.Zero,
		ClosedQty:     decimal.Zero,
		RealizedPnL:   decimal.Zero,
		Commissions:   decimal.Zero,
	}
}

// IsOpen reports whether the position holds a non-zero net quantity.
func (p *Position) IsOpen() bool { return !p.NetQty.IsZero() }

// IsClosed reports whether the position was opened and has returned to flat.
func (p *Position) IsClosed() bool { return p.NetQty.IsZero() && !p.OpenedAt.IsZero() }

// Quantity returns the absolute net quantity.
func (p *Position) Quantity() decimal.Decimal { return p.NetQty.Abs() }

// ApplyFill folds one fill into the position and returns the quantity that was
// not absorbed because the fill would have flipped the position's direction.
// A non-zero remainder always leaves the position closed.
func (p *Position) ApplyFill(orderID ClientOrderID, side OrderSide, f Fill, ts time.Time) decimal.Decimal {
	qty := f.FillQty
	signed := qty
	if side == Sell {
		signed = qty.Neg()
	}

	if p.NetQty.IsZero() {
		p.OpeningOrderID = orderID
		p.NetQty = signed
		p.AvgOpenPrice = f.FillPrice
		p.OpenedAt = ts
		p.ClosedAt = time.Time{}
		p.addFillBookkeeping(f, f.Commission, ts)
		return decimal.Zero
	}

	if p.NetQty.Sign() == signed.Sign() {
		open := p.NetQty.Abs()
		p.AvgOpenPrice = p.AvgOpenPrice.Mul(open).Add(f.FillPrice.Mul(qty)).Div(open.Add(qty))
		p.NetQty = p.NetQty.Add(signed)
		p.addFillBookkeeping(f, f.Commission, ts)
		return decimal.Zero
	}

	closeQty := decimal.Min(qty, p.NetQty.Abs())
	remainder := qty.Sub(closeQty)
	direction := decimal.NewFromInt(int64(p.NetQty.Sign()))

	p.RealizedPnL = p.RealizedPnL.Add(f.FillPrice.Sub(p.AvgOpenPrice).Mul(closeQty).Mul(direction))
	p.AvgClosePrice = p.AvgClosePrice.Mul(p.ClosedQty).Add(f.FillPrice.Mul(closeQty)).Div(p.ClosedQty.Add(closeQty))
	p.ClosedQty = p.ClosedQty.Add(closeQty)
	if side == Sell {
		p.NetQty = p.NetQty.Sub(closeQty)
	} else {
		p.NetQty = p.NetQty.Add(closeQty)
	}

	commission := f.Commission
	if remainder.IsPositive() {
		commission = f.Commission.Mul(closeQty).Div(qty)
	}
	p.addFillBookkeeping(f, commission, ts)
	if p.NetQty.IsZero() {
		p.ClosedAt = ts
	}
	return remainder
}

func (p *Position) addFillBookkeeping(f Fill, commission decimal.Decimal, ts time.Time) {
	p.Commissions = p.Commissions.Add(commission)
	p.ExecutionIDs = append(p.ExecutionIDs, f.ExecutionID)
	if p.NetQty.Abs().GreaterThan(p.PeakQty) {
		p.PeakQty = p.NetQty.Abs()
	}
	switch p.NetQty.Sign() {
	case 1:
		p.Side = SideLong
	case -1:
		p.Side = SideShort
	default:
		p.Side = SideFlat
	}
	p.UpdatedAt = ts
}

// UnrealizedPnL values the open quantity at the given mark price.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	if p.NetQty.IsZero() {
		return decimal.Zero
	}
	return mark.Sub(p.AvgOpenPrice).Mul(p.NetQty)
}

// NetRealizedPnL is realized PnL after commissions.
func (p *Position) NetRealizedPnL() decimal.Decimal {
	return p.RealizedPnL.Sub(p.Commissions)
}

// Snapshot returns a deep copy of the position.
func (p *Position) Snapshot() Position {
	cp := *p
	cp.ExecutionIDs = append([]ExecutionID(nil), p.ExecutionIDs...)
	return cp
}
