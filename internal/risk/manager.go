package risk

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"execCore/internal/domain"
	"execCore/internal/ports"
)

// RiskConfig holds the pre-trade limits. Zero values disable a limit.
type RiskConfig struct {
	MaxOrderQuantity decimal.Decimal
	MaxOrderNotional decimal.Decimal
	MaxOpenOrders    int
}

// RiskManager implements ports.PreTradeCheck with static per-order limits.
type RiskManager struct {
	config RiskConfig
	logger ports.Logger

	mu    sync.Mutex
	stats RiskStats
}

// RiskStats holds pre-trade check statistics
type RiskStats struct {
	Checked  int
	Rejected int
	LastRule string
}

var _ ports.PreTradeCheck = (*RiskManager)(nil)

// NewRiskManager creates a new risk manager instance
func NewRiskManager(config RiskConfig, logger ports.Logger) (*RiskManager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for risk manager")
	}
	if config.MaxOrderQuantity.IsNegative() || config.MaxOrderNotional.IsNegative() || config.MaxOpenOrders < 0 {
		return nil, fmt.Errorf("%w: risk limits must not be negative", ports.ErrConfigurationError)
	}
	return &RiskManager{config: config, logger: logger}, nil
}

// CheckOrder validates a new order against the limits. open holds the account's
// open orders, including earlier legs of the same bracket.
func (r *RiskManager) CheckOrder(ctx context.Context, order domain.Order, open []domain.Order) error {
	err := r.check(order, open)

	r.mu.Lock()
	r.stats.Checked++
	if err != nil {
		r.stats.Rejected++
		r.stats.LastRule = err.Error()
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn(ctx, "Pre-trade check failed", map[string]interface{}{
			"clientOrderId": order.ClientOrderID,
			"instrument":    order.InstrumentID.String(),
			"reason":        err.Error(),
		})
	}
	return err
}

func (r *RiskManager) check(order domain.Order, open []domain.Order) error {
	// Check order quantity
	if r.config.MaxOrderQuantity.IsPositive() && order.Quantity.GreaterThan(r.config.MaxOrderQuantity) {
		return fmt.Errorf("order quantity %s exceeds maximum allowed %s", order.Quantity, r.config.MaxOrderQuantity)
	}

	// Check notional; market orders carry no price and are not checked
	if r.config.MaxOrderNotional.IsPositive() {
		if px, ok := referencePrice(order); ok {
			notional := order.Quantity.Mul(px)
			if notional.GreaterThan(r.config.MaxOrderNotional) {
				return fmt.Errorf("order notional %s exceeds maximum allowed %s", notional, r.config.MaxOrderNotional)
			}
		}
	}

	// Check number of open orders; reduce-only exits are never blocked here
	if r.config.MaxOpenOrders > 0 && !order.ReduceOnly {
		count := 0
		for _, o := range open {
			if o.InstrumentID == order.InstrumentID && !o.ReduceOnly {
				count++
			}
		}
		if count >= r.config.MaxOpenOrders {
			return fmt.Errorf("number of open orders %d on %s reaches maximum allowed %d", count, order.InstrumentID, r.config.MaxOpenOrders)
		}
	}
	return nil
}

func referencePrice(o domain.Order) (decimal.Decimal, bool) {
	if o.Price.Valid {
		return o.Price.Decimal, true
	}
	if o.Trigger.Valid {
		return o.Trigger.Decimal, true
	}
	return decimal.Zero, false
}

// GetStats returns the current risk management statistics
func (r *RiskManager) GetStats() RiskStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// ResetStats clears the check counters
func (r *RiskManager) ResetStats(ctx context.Context) {
	r.mu.Lock()
	r.stats = RiskStats{}
	r.mu.Unlock()
	r.logger.Debug(ctx, "Risk statistics reset")
}
