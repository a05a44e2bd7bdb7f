package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents how an order is priced at the venue.
type OrderType string

const (
	Market     OrderType = "MARKET"
	Limit      OrderType = "LIMIT"
	StopMarket OrderType = "STOP_MARKET"
	StopLimit  OrderType = "STOP_LIMIT"
)

// RequiresPrice reports whether the order type needs a limit price.
func (t OrderType) RequiresPrice() bool {
	return t == Limit || t == StopLimit
}

// RequiresTrigger reports whether the order type needs a trigger price.
func (t OrderType) RequiresTrigger() bool {
	return t == StopMarket || t == StopLimit
}

// TimeInForce represents how long an order remains working.
type TimeInForce string

const (
	GTC TimeInForce = "GTC" // Good till cancelled
	IOC TimeInForce = "IOC" // Immediate or cancel
	FOK TimeInForce = "FOK" // Fill or kill
	GTD TimeInForce = "GTD" // Good till date
	DAY TimeInForce = "DAY"
)

// LiquiditySide indicates whether a fill added or removed liquidity.
type LiquiditySide string

const (
	LiquidityNone  LiquiditySide = "NONE"
	LiquidityMaker LiquiditySide = "MAKER"
	LiquidityTaker LiquiditySide = "TAKER"
)

// PositionSide represents the direction of a position.
type PositionSide string

const (
	SideFlat  PositionSide = "FLAT"
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// NettingPolicy selects how fills are aggregated into positions.
type NettingPolicy string

const (
	// Netting keeps one net position per account and instrument.
	Netting NettingPolicy = "NETTING"
	// Hedging keeps independent positions per account, instrument and direction.
	Hedging NettingPolicy = "HEDGING"
)

// ParseNettingPolicy converts a config string into a NettingPolicy.
func ParseNettingPolicy(s string) (NettingPolicy, bool) {
	switch NettingPolicy(s) {
	case Netting, Hedging:
		return NettingPolicy(s), true
	default:
		return "", false
	}
}
