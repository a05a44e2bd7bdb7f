package binanceclient

import (
	"context"
	"fmt"
	"strconv"

	"execCore/internal/domain"
	"execCore/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
)

// venueAPI is the subset of the Binance futures API the client uses.
type venueAPI interface {
	syncServerTime(ctx context.Context) error
	account(ctx context.Context) (*futures.Account, error)
	createOrder(ctx context.Context, p orderParams) (*futures.CreateOrderResponse, error)
	modifyOrder(ctx context.Context, p modifyParams) error
	cancelOrder(ctx context.Context, p cancelParams) error
	startUserStream(ctx context.Context) (string, error)
	keepaliveUserStream(ctx context.Context, listenKey string) error
	closeUserStream(ctx context.Context, listenKey string) error
	serveUserData(listenKey string, handler func(*futures.WsUserDataEvent), errHandler func(error)) (done, stop chan struct{}, err error)
}

// orderParams holds the venue terms of a new order.
type orderParams struct {
	symbol        string
	clientOrderID string
	side          futures.SideType
	orderType     futures.OrderType
	timeInForce   futures.TimeInForceType // empty for market and stop-market orders
	quantity      string
	price         string
	stopPrice     string
	reduceOnly    bool
}

// newOrderParams maps an order spec onto Binance futures order terms.
func newOrderParams(spec domain.OrderSpec) (orderParams, error) {
	p := orderParams{
		symbol:        spec.InstrumentID.Symbol,
		clientOrderID: string(spec.ClientOrderID),
		side:          futures.SideType(spec.Side),
		quantity:      spec.Quantity.String(),
		reduceOnly:    spec.ReduceOnly,
	}
	if spec.Hidden {
		return p, fmt.Errorf("%w: hidden orders are not supported on %s (order %s)", ports.ErrInvalidRequest, Venue, spec.ClientOrderID)
	}

	switch spec.Type {
	case domain.Market:
		p.orderType = futures.OrderTypeMarket
	case domain.Limit:
		p.orderType = futures.OrderTypeLimit
	case domain.StopMarket:
		p.orderType = futures.OrderTypeStopMarket
	case domain.StopLimit:
		p.orderType = futures.OrderTypeStop
	default:
		return p, fmt.Errorf("%w: order type '%s' is not supported on %s", ports.ErrInvalidRequest, spec.Type, Venue)
	}
	if spec.Price.Valid {
		p.price = spec.Price.Decimal.String()
	}
	if spec.Trigger.Valid {
		p.stopPrice = spec.Trigger.Decimal.String()
	}

	if !spec.Type.RequiresPrice() {
		return p, nil
	}
	switch {
	case spec.PostOnly:
		p.timeInForce = futures.TimeInForceTypeGTX
	case spec.TimeInForce == "" || spec.TimeInForce == domain.GTC:
		p.timeInForce = futures.TimeInForceTypeGTC
	case spec.TimeInForce == domain.IOC:
		p.timeInForce = futures.TimeInForceTypeIOC
	case spec.TimeInForce == domain.FOK:
		p.timeInForce = futures.TimeInForceTypeFOK
	default:
		return p, fmt.Errorf("%w: time in force '%s' is not supported on %s (order %s)", ports.ErrInvalidRequest, spec.TimeInForce, Venue, spec.ClientOrderID)
	}
	return p, nil
}

// modifyParams holds the terms of an order amendment. Binance requires side,
// quantity and price on every amendment and only amends LIMIT orders.
type modifyParams struct {
	symbol        string
	orderID       int64
	clientOrderID string
	side          futures.SideType
	quantity      string
	price         string
}

func newModifyParams(cmd domain.ModifyOrder) (modifyParams, error) {
	if cmd.Trigger.Valid {
		return modifyParams{}, fmt.Errorf("%w: trigger price amendment is not supported on %s (order %s)", ports.ErrInvalidRequest, Venue, cmd.ClientOrderID)
	}
	if !cmd.Quantity.Valid || !cmd.Price.Valid {
		return modifyParams{}, fmt.Errorf("%w: %s amendments need quantity and price (order %s)", ports.ErrInvalidRequest, Venue, cmd.ClientOrderID)
	}
	orderID, err := parseOrderID(cmd.OrderID)
	if err != nil {
		return modifyParams{}, err
	}
	return modifyParams{
		symbol:        cmd.InstrumentID.Symbol,
		orderID:       orderID,
		clientOrderID: string(cmd.ClientOrderID),
		side:          futures.SideType(cmd.Side),
		quantity:      cmd.Quantity.Decimal.String(),
		price:         cmd.Price.Decimal.String(),
	}, nil
}

type cancelParams struct {
	symbol        string
	orderID       int64
	clientOrderID string
}

func newCancelParams(cmd domain.CancelOrder) (cancelParams, error) {
	orderID, err := parseOrderID(cmd.OrderID)
	if err != nil {
		return cancelParams{}, err
	}
	return cancelParams{symbol: cmd.InstrumentID.Symbol, orderID: orderID, clientOrderID: string(cmd.ClientOrderID)}, nil
}

// parseOrderID returns 0 for an order without a venue id; the client order id is used then.
func parseOrderID(id domain.OrderID) (int64, error) {
	if id == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: venue order id '%s' is not numeric: %w", ports.ErrInvalidRequest, id, err)
	}
	return n, nil
}

// futuresAPI implements venueAPI with the go-binance futures client.
type futuresAPI struct {
	client *futures.Client
}

func (a *futuresAPI) syncServerTime(ctx context.Context) error {
	_, err := a.client.NewSetServerTimeService().Do(ctx)
	return err
}

func (a *futuresAPI) account(ctx context.Context) (*futures.Account, error) {
	return a.client.NewGetAccountService().Do(ctx)
}

func (a *futuresAPI) createOrder(ctx context.Context, p orderParams) (*futures.CreateOrderResponse, error) {
	s := a.client.NewCreateOrderService().
		Symbol(p.symbol).
		Side(p.side).
		Type(p.orderType).
		Quantity(p.quantity).
		NewClientOrderID(p.clientOrderID)
	if p.timeInForce != "" {
		s = s.TimeInForce(p.timeInForce)
	}
	if p.price != "" {
		s = s.Price(p.price)
	}
	if p.stopPrice != "" {
		s = s.StopPrice(p.stopPrice)
	}
	if p.reduceOnly {
		s = s.ReduceOnly(true)
	}
	return s.Do(ctx)
}

func (a *futuresAPI) modifyOrder(ctx context.Context, p modifyParams) error {
	s := a.client.NewModifyOrderService().
		Symbol(p.symbol).
		Side(p.side).
		Quantity(p.quantity).
		Price(p.price)
	if p.orderID > 0 {
		s = s.OrderID(p.orderID)
	} else {
		s = s.OrigClientOrderID(p.clientOrderID)
	}
	_, err := s.Do(ctx)
	return err
}

func (a *futuresAPI) cancelOrder(ctx context.Context, p cancelParams) error {
	s := a.client.NewCancelOrderService().Symbol(p.symbol)
	if p.orderID > 0 {
		s = s.OrderID(p.orderID)
	} else {
		s = s.OrigClientOrderID(p.clientOrderID)
	}
	_, err := s.Do(ctx)
	return err
}

func (a *futuresAPI) startUserStream(ctx context.Context) (string, error) {
	return a.client.NewStartUserStreamService().Do(ctx)
}

func (a *futuresAPI) keepaliveUserStream(ctx context.Context, listenKey string) error {
	return a.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx)
}

func (a *futuresAPI) closeUserStream(ctx context.Context, listenKey string) error {
	return a.client.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx)
}

func (a *futuresAPI) serveUserData(listenKey string, handler func(*futures.WsUserDataEvent), errHandler func(error)) (chan struct{}, chan struct{}, error) {
	return futures.WsUserDataServe(listenKey, handler, errHandler)
}
