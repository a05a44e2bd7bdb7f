package binanceclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"execCore/internal/domain"
	"execCore/internal/execution"
	"execCore/internal/ports"
)

// User-data event types and order execution types as sent by Binance.
const (
	eventOrderTradeUpdate = "ORDER_TRADE_UPDATE"
	eventAccountUpdate    = "ACCOUNT_UPDATE"
	eventListenKeyExpired = "listenKeyExpired"

	execNew        = "NEW"
	execTrade      = "TRADE"
	execCanceled   = "CANCELED"
	execExpired    = "EXPIRED"
	execAmendment  = "AMENDMENT"
	execCalculated = "CALCULATED" // liquidation and ADL fills

	statusRejected = "REJECTED"
	statusFilled   = "FILLED"
)

// startStream runs the user-data stream under a Reconnector and waits for the first session.
func (c *Client) startStream(ctx context.Context) error {
	op := "UserDataStream"
	streamCtx, cancel := context.WithCancel(c.life)

	established := make(chan struct{}, 1)
	failed := make(chan error, 1)
	r := execution.NewReconnector("BinanceUserData", c.reconnectPolicy, c.logger)
	r.OnState = func(up bool) {
		c.SetConnected(up)
		if up {
			select {
			case established <- struct{}{}:
			default:
			}
		}
	}

	c.mu.Lock()
	c.cancelStream = cancel
	c.mu.Unlock()

	c.streamWG.Add(2)
	go func() {
		defer c.streamWG.Done()
		if err := r.Run(streamCtx, c.openUserStream); err != nil {
			c.SetConnected(false)
			c.logger.Error(streamCtx, err, op+": Stream stopped")
			failed <- err
		}
	}()
	go func() {
		defer c.streamWG.Done()
		c.keepaliveLoop(streamCtx)
	}()

	wait := time.NewTimer(c.requestTimeout)
	defer wait.Stop()
	select {
	case <-established:
		c.logger.Info(ctx, "Binance client connected", map[string]interface{}{"account": c.AccountID().String()})
		return nil
	case err := <-failed:
		c.stopStream()
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	case <-wait.C:
		c.stopStream()
		return fmt.Errorf("%s failed: %w: no session within %s", op, ports.ErrTimeout, c.requestTimeout)
	case <-ctx.Done():
		c.stopStream()
		return fmt.Errorf("%s operation canceled: %w: %w", op, ports.ErrContextCanceled, ctx.Err())
	}
}

// stopStream cancels the stream goroutines and waits for them.
func (c *Client) stopStream() {
	c.mu.Lock()
	cancel := c.cancelStream
	c.cancelStream = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.streamWG.Wait()
}

// openUserStream opens one websocket session; it implements execution.ConnectFunc.
func (c *Client) openUserStream(ctx context.Context) (<-chan struct{}, error) {
	op := "UserDataStream"
	key, err := c.ensureListenKey(ctx)
	if err != nil {
		return nil, err
	}

	handler := func(event *futures.WsUserDataEvent) { c.onUserData(ctx, event) }
	errHandler := func(err error) {
		translated := c.handleError(ctx, err, op+" WebSocket")
		c.logger.Warn(ctx, op+": WebSocket error reported", map[string]interface{}{"error": translated.Error()})
	}
	doneC, stopC, err := c.api.serveUserData(key, handler, errHandler)
	if err != nil {
		return nil, c.handleError(ctx, err, op+" connection attempt")
	}

	c.mu.Lock()
	c.stopSession = stopC
	c.mu.Unlock()
	go func() {
		select {
		case <-ctx.Done():
			c.endSession(stopC)
		case <-doneC:
			c.forgetSession(stopC)
		}
	}()
	return doneC, nil
}

// endSession closes the stop channel of a session still current.
func (c *Client) endSession(stopC chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopSession == stopC && stopC != nil {
		close(stopC)
		c.stopSession = nil
	}
}

func (c *Client) forgetSession(stopC chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopSession == stopC {
		c.stopSession = nil
	}
}

// expireSession drops the listen key and ends the current session so the
// Reconnector opens a new one with a fresh key.
func (c *Client) expireSession() {
	c.mu.Lock()
	c.listenKey = ""
	stopC := c.stopSession
	c.mu.Unlock()
	c.endSession(stopC)
}

func (c *Client) ensureListenKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	key := c.listenKey
	c.mu.Unlock()
	if key != "" {
		return key, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	key, err := c.api.startUserStream(reqCtx)
	if err != nil {
		return "", c.handleError(ctx, err, "StartUserStream")
	}
	c.mu.Lock()
	c.listenKey = key
	c.mu.Unlock()
	return key, nil
}

func (c *Client) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		key := c.listenKey
		c.mu.Unlock()
		if key == "" {
			continue
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		err := c.api.keepaliveUserStream(reqCtx, key)
		cancel()
		if err != nil {
			c.handleError(ctx, err, "KeepaliveUserStream")
			c.expireSession()
			continue
		}
		c.logger.Debug(ctx, "KeepaliveUserStream successful")
	}
}

// onUserData dispatches one user-data stream event.
func (c *Client) onUserData(ctx context.Context, event *futures.WsUserDataEvent) {
	if event == nil {
		return
	}
	switch string(event.Event) {
	case eventOrderTradeUpdate:
		c.onOrderUpdate(ctx, event.OrderTradeUpdate)
	case eventAccountUpdate:
		c.mu.Lock()
		margins := c.margins
		c.mu.Unlock()
		balances, err := translateAccountUpdate(event.AccountUpdate)
		if err != nil {
			c.logger.Warn(ctx, "Dropping account update", map[string]interface{}{"error": err.Error()})
			return
		}
		c.HandleEvent(c.AccountState(balances, margins, true))
	case eventListenKeyExpired:
		c.logger.Warn(ctx, "Listen key expired, renewing user-data stream")
		c.expireSession()
	default:
		c.logger.Debug(ctx, "Ignoring user-data event", map[string]interface{}{"event": string(event.Event)})
	}
}

func (c *Client) onOrderUpdate(ctx context.Context, u futures.WsOrderTradeUpdate) {
	events, err := c.translateOrderUpdate(u)
	if err != nil {
		c.logger.Warn(ctx, "Dropping order update", map[string]interface{}{"clientOrderId": u.ClientOrderID, "error": err.Error()})
		return
	}
	for _, ev := range events {
		h := ev.OrderHeader()
		if _, rejected := ev.(domain.OrderRejected); !rejected {
			// a stream update can overtake the REST response
			c.acknowledge(h.ClientOrderID, h.OrderID, nil)
		}
		if _, accepted := ev.(domain.OrderAccepted); accepted {
			continue
		}
		c.HandleEvent(ev)
		if _, filled := ev.(domain.OrderFilled); filled {
			c.releaseLegs(h.ClientOrderID)
		}
	}
}

// translateOrderUpdate converts an ORDER_TRADE_UPDATE payload into order events.
func (c *Client) translateOrderUpdate(u futures.WsOrderTradeUpdate) ([]domain.OrderEvent, error) {
	if u.ClientOrderID == "" {
		return nil, fmt.Errorf("order update without client order id")
	}
	id := domain.ClientOrderID(u.ClientOrderID)
	h := c.OrderHeader(id, domain.OrderID(strconv.FormatInt(u.ID, 10)), nil)

	if string(u.Status) == statusRejected {
		return []domain.OrderEvent{domain.OrderRejected{OrderEventHeader: h, Reason: "rejected by venue"}}, nil
	}

	switch string(u.ExecutionType) {
	case execNew:
		return []domain.OrderEvent{domain.OrderAccepted{OrderEventHeader: h}}, nil
	case execTrade, execCalculated:
		fill, err := translateFill(u)
		if err != nil {
			return nil, err
		}
		if string(u.Status) == statusFilled {
			return []domain.OrderEvent{domain.OrderFilled{OrderEventHeader: h, Fill: fill}}, nil
		}
		return []domain.OrderEvent{domain.OrderPartiallyFilled{OrderEventHeader: h, Fill: fill}}, nil
	case execCanceled:
		return []domain.OrderEvent{domain.OrderCancelled{OrderEventHeader: h}}, nil
	case execExpired:
		return []domain.OrderEvent{domain.OrderExpired{OrderEventHeader: h}}, nil
	case execAmendment:
		qty, err := parseDecimal("quantity", u.OriginalQty)
		if err != nil {
			return nil, err
		}
		px, err := parseDecimal("price", u.OriginalPrice)
		if err != nil {
			return nil, err
		}
		return []domain.OrderEvent{domain.OrderAmended{
			OrderEventHeader: h,
			Quantity:         decimal.NewNullDecimal(qty),
			Price:            decimal.NewNullDecimal(px),
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported execution type '%s' for order %s", u.ExecutionType, id)
	}
}

func translateFill(u futures.WsOrderTradeUpdate) (domain.Fill, error) {
	qty, err := parseDecimal("last filled quantity", u.LastFilledQty)
	if err != nil {
		return domain.Fill{}, err
	}
	px, err := parseDecimal("last filled price", u.LastFilledPrice)
	if err != nil {
		return domain.Fill{}, err
	}
	commission := decimal.Zero
	if u.Commission != "" {
		if commission, err = parseDecimal("commission", u.Commission); err != nil {
			return domain.Fill{}, err
		}
	}
	liquidity := domain.LiquidityTaker
	if u.IsMaker {
		liquidity = domain.LiquidityMaker
	}
	return domain.Fill{
		ExecutionID:        domain.ExecutionID(strconv.FormatInt(u.TradeID, 10)),
		FillQty:            qty,
		FillPrice:          px,
		Commission:         commission,
		CommissionCurrency: u.CommissionAsset,
		LiquiditySide:      liquidity,
	}, nil
}

// translateAccount converts an account snapshot. Assets with an empty wallet are skipped.
func translateAccount(acc *futures.Account) ([]domain.Balance, domain.Margins, error) {
	if acc == nil {
		return nil, domain.Margins{}, fmt.Errorf("empty account response")
	}
	var margins domain.Margins
	var err error
	if margins.Initial, err = parseDecimal("initial margin", acc.TotalInitialMargin); err != nil {
		return nil, margins, err
	}
	if margins.Maintenance, err = parseDecimal("maintenance margin", acc.TotalMaintMargin); err != nil {
		return nil, margins, err
	}

	var balances []domain.Balance
	for _, asset := range acc.Assets {
		total, err := parseDecimal("wallet balance", asset.WalletBalance)
		if err != nil {
			return nil, margins, err
		}
		if total.IsZero() {
			continue
		}
		free, err := parseDecimal("available balance", asset.AvailableBalance)
		if err != nil {
			return nil, margins, err
		}
		balances = append(balances, newBalance(asset.Asset, total, free))
	}
	return balances, margins, nil
}

// translateAccountUpdate converts the balances of an ACCOUNT_UPDATE event.
// The event only carries wallet balances; the cross wallet balance is taken as free.
func translateAccountUpdate(u futures.WsAccountUpdate) ([]domain.Balance, error) {
	balances := make([]domain.Balance, 0, len(u.Balances))
	for _, b := range u.Balances {
		total, err := parseDecimal("wallet balance", b.Balance)
		if err != nil {
			return nil, err
		}
		free, err := parseDecimal("cross wallet balance", b.CrossWalletBalance)
		if err != nil {
			return nil, err
		}
		balances = append(balances, newBalance(b.Asset, total, free))
	}
	return balances, nil
}

func newBalance(currency string, total, free decimal.Decimal) domain.Balance {
	if free.GreaterThan(total) {
		free = total
	}
	locked := total.Sub(free)
	if locked.IsNegative() {
		locked = decimal.Zero
	}
	return domain.Balance{Currency: currency, Total: total, Free: free, Locked: locked}
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not parse %s '%s': %w", field, s, err)
	}
	return d, nil
}
