package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"execCore/internal/domain"
	"execCore/internal/execution"
	"execCore/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Venue is the venue identifier of Binance USD-M futures.
	Venue domain.Venue = "BINANCE"

	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	defaultRequestTimeout = 10 * time.Second
	// Binance expires a listen key after 60 minutes without keepalive.
	defaultKeepaliveInterval = 30 * time.Minute
)

// Client implements ports.ExecutionClient for Binance USD-M futures.
// Orders go out over REST; order and account updates arrive on the user-data stream.
type Client struct {
	*execution.ClientBase
	api               venueAPI
	logger            ports.Logger
	requestTimeout    time.Duration
	keepaliveInterval time.Duration
	reconnectPolicy   execution.ReconnectPolicy

	// lifetime of the client; cancelled by Dispose
	life     context.Context
	stopLife context.CancelFunc
	requests sync.WaitGroup

	mu           sync.Mutex
	listenKey    string
	stopSession  chan struct{} // stop channel of the current websocket session
	cancelStream context.CancelFunc
	streamWG     sync.WaitGroup
	margins      domain.Margins
	acked        map[domain.ClientOrderID]bool
	pendingLegs  map[domain.ClientOrderID][]pendingLeg // by entry id
	legEntry     map[domain.ClientOrderID]domain.ClientOrderID
}

// pendingLeg is a bracket leg sent once its entry is completely filled.
type pendingLeg struct {
	cmd    domain.SubmitBracketOrder
	params orderParams
}

var _ ports.ExecutionClient = (*Client)(nil)

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	AccountID  domain.AccountID // issuer must be BINANCE
	Sink       ports.EventSink
	Clock      ports.Clock
	IDs        ports.IdentifierFactory
	Logger     ports.Logger

	RequestTimeout    time.Duration             // per REST call (default 10s)
	Reconnect         execution.ReconnectPolicy // user-data stream reconnection
	KeepaliveInterval time.Duration             // listen key keepalive (default 30m)
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: API key and secret are required for Binance execution client", ports.ErrConfigurationError)
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// REST base URL is set per client
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		// websocket endpoints are only selectable through the package flag
		futures.UseTestnet = true
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return newClient(cfg, &futuresAPI{client: client})
}

func newClient(cfg Config, api venueAPI) (*Client, error) {
	base, err := execution.NewClientBase(execution.ClientConfig{
		Venue:     Venue,
		AccountID: cfg.AccountID,
		Sink:      cfg.Sink,
		Clock:     cfg.Clock,
		IDs:       cfg.IDs,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	// Default timeouts if not provided
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	keepalive := cfg.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = defaultKeepaliveInterval
	}

	life, stop := context.WithCancel(context.Background())
	c := &Client{
		ClientBase:        base,
		api:               api,
		logger:            cfg.Logger,
		requestTimeout:    requestTimeout,
		keepaliveInterval: keepalive,
		reconnectPolicy:   cfg.Reconnect,
		life:              life,
		stopLife:          stop,
	}
	c.clearSession()
	return c, nil
}

func (c *Client) clearSession() {
	c.acked = make(map[domain.ClientOrderID]bool)
	c.pendingLegs = make(map[domain.ClientOrderID][]pendingLeg)
	c.legEntry = make(map[domain.ClientOrderID]domain.ClientOrderID)
	c.listenKey = ""
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014: // API-key format invalid
			mappedErr = ports.ErrInvalidAPIKeys
		case -2015: // Invalid API-key, IP, or permissions for action
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019: // Margin is insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -2021: // Order would immediately trigger
			mappedErr = ports.ErrOrderPlacementFailed
		case -2022: // ReduceOnly Order is rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -3005: // Insufficient balance
			mappedErr = ports.ErrInsufficientFunds
		case -4003: // Qty not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4014: // Price not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4044: // Position not found
			mappedErr = ports.ErrOrderPlacementFailed
		case -4047: // Exceeded the maximum allowable position at current leverage.
			mappedErr = ports.ErrInsufficientFunds
		case -5022: // Post-only order would be filled immediately
			mappedErr = ports.ErrOrderPlacementFailed
		case -5027: // No need to modify the order
			mappedErr = ports.ErrOrderModifyFailed
		default:
			// General classification for unmapped API errors
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		// Default for other errors (e.g., parsing errors within the adapter)
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Connect synchronizes time, reports the account and starts the user-data stream.
// It returns once the stream is established or the request timeout passes.
func (c *Client) Connect(ctx context.Context) error {
	op := "Connect"
	if c.IsDisposed() {
		return fmt.Errorf("%s on %s: %w", op, Venue, ports.ErrClientDisposed)
	}
	if c.IsConnected() {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	if err := c.api.syncServerTime(reqCtx); err != nil {
		return c.handleError(ctx, err, op+" SetServerTime")
	}
	if err := c.reportAccount(reqCtx); err != nil {
		return err
	}
	return c.startStream(ctx)
}

func (c *Client) reportAccount(ctx context.Context) error {
	op := "GetAccount"
	acc, err := c.api.account(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	balances, margins, err := translateAccount(acc)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.mu.Lock()
	c.margins = margins
	c.mu.Unlock()
	c.HandleEvent(c.AccountState(balances, margins, true))
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"account": c.AccountID().String(), "currencies": len(balances)})
	return nil
}

// Disconnect stops the user-data stream and closes the listen key.
func (c *Client) Disconnect(ctx context.Context) error {
	c.stopStream()
	c.SetConnected(false)

	c.mu.Lock()
	key := c.listenKey
	c.listenKey = ""
	c.mu.Unlock()
	if key == "" {
		return nil
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	if err := c.api.closeUserStream(reqCtx, key); err != nil {
		return c.handleError(ctx, err, "CloseUserStream")
	}
	c.logger.Info(ctx, "Binance client disconnected")
	return nil
}

// Reset forgets per-session order tracking. The client must be disconnected.
func (c *Client) Reset() {
	c.stopStream()
	c.SetConnected(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearSession()
}

// Dispose stops the stream, abandons in-flight requests and waits for them.
func (c *Client) Dispose() {
	if c.IsDisposed() {
		return
	}
	ctx := context.Background()
	if err := c.Disconnect(ctx); err != nil {
		c.logger.Warn(ctx, "Disconnect during dispose reported errors", map[string]interface{}{"error": err.Error()})
	}
	c.MarkDisposed()
	c.stopLife()
	c.requests.Wait()
}

// goRequest runs a REST call on its own goroutine bounded by the request timeout.
// Failures are reported as events by fn.
func (c *Client) goRequest(fn func(ctx context.Context)) {
	c.requests.Add(1)
	go func() {
		defer c.requests.Done()
		ctx, cancel := context.WithTimeout(c.life, c.requestTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// SubmitOrder sends a new order. Acceptance arrives as an event.
func (c *Client) SubmitOrder(ctx context.Context, cmd domain.SubmitOrder) error {
	if err := c.EnsureReady("SubmitOrder"); err != nil {
		return err
	}
	params, err := newOrderParams(cmd.OrderSpec)
	if err != nil {
		return err
	}
	c.goRequest(func(ctx context.Context) { c.placeOrder(ctx, cmd, params) })
	return nil
}

// SubmitBracketOrder sends the entry now and both legs after the entry is completely filled.
// Binance has no native bracket, and reduce-only legs are rejected while no position exists.
func (c *Client) SubmitBracketOrder(ctx context.Context, cmd domain.SubmitBracketOrder) error {
	if err := c.EnsureReady("SubmitBracketOrder"); err != nil {
		return err
	}
	legs := cmd.Legs()
	params := make([]orderParams, len(legs))
	for i, spec := range legs {
		p, err := newOrderParams(spec)
		if err != nil {
			return err
		}
		params[i] = p
	}
	// exits close the position opened by the entry
	params[1].reduceOnly = true
	params[2].reduceOnly = true

	c.mu.Lock()
	entry := cmd.Entry.ClientOrderID
	c.pendingLegs[entry] = []pendingLeg{{cmd: cmd, params: params[1]}, {cmd: cmd, params: params[2]}}
	c.legEntry[cmd.StopLoss.ClientOrderID] = entry
	c.legEntry[cmd.TakeProfit.ClientOrderID] = entry
	c.mu.Unlock()

	c.goRequest(func(ctx context.Context) { c.placeOrder(ctx, cmd, params[0]) })
	return nil
}

func (c *Client) placeOrder(ctx context.Context, cmd domain.Command, params orderParams) {
	op := "CreateOrder"
	id := domain.ClientOrderID(params.clientOrderID)
	c.logger.Debug(ctx, "Attempting to place order", map[string]interface{}{"clientOrderId": id, "symbol": params.symbol, "type": params.orderType})

	res, err := c.api.createOrder(ctx, params)
	if err != nil {
		mapped := c.handleError(ctx, err, op)
		c.HandleEvent(domain.OrderRejected{OrderEventHeader: c.OrderHeader(id, "", cmd), Reason: mapped.Error()})
		return
	}
	c.acknowledge(id, domain.OrderID(strconv.FormatInt(res.OrderID, 10)), cmd)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"clientOrderId": id, "orderID": res.OrderID, "status": res.Status})
}

// acknowledge reports OrderAccepted once per order, whether the REST response
// or the stream arrives first.
func (c *Client) acknowledge(id domain.ClientOrderID, orderID domain.OrderID, cmd domain.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acked[id] {
		return
	}
	c.acked[id] = true
	c.HandleEvent(domain.OrderAccepted{OrderEventHeader: c.OrderHeader(id, orderID, cmd)})
}

// releaseLegs sends the legs waiting on a filled entry.
func (c *Client) releaseLegs(entry domain.ClientOrderID) {
	c.mu.Lock()
	legs := c.pendingLegs[entry]
	delete(c.pendingLegs, entry)
	for _, leg := range legs {
		delete(c.legEntry, domain.ClientOrderID(leg.params.clientOrderID))
	}
	c.mu.Unlock()

	for _, leg := range legs {
		leg := leg
		c.goRequest(func(ctx context.Context) { c.placeOrder(ctx, leg.cmd, leg.params) })
	}
}

// takePendingLeg removes a leg that was never sent.
func (c *Client) takePendingLeg(id domain.ClientOrderID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.legEntry[id]
	if !ok {
		return false
	}
	delete(c.legEntry, id)
	legs := c.pendingLegs[entry]
	for i, leg := range legs {
		if domain.ClientOrderID(leg.params.clientOrderID) == id {
			c.pendingLegs[entry] = append(legs[:i], legs[i+1:]...)
			break
		}
	}
	if len(c.pendingLegs[entry]) == 0 {
		delete(c.pendingLegs, entry)
	}
	return true
}

// ModifyOrder amends quantity and price of a working LIMIT order.
func (c *Client) ModifyOrder(ctx context.Context, cmd domain.ModifyOrder) error {
	if err := c.EnsureReady("ModifyOrder"); err != nil {
		return err
	}
	params, err := newModifyParams(cmd)
	if err != nil {
		return err
	}
	c.goRequest(func(ctx context.Context) {
		op := "ModifyOrder"
		if err := c.api.modifyOrder(ctx, params); err != nil {
			mapped := c.handleError(ctx, err, op)
			c.HandleEvent(domain.OrderModifyRejected{OrderEventHeader: c.OrderHeader(cmd.ClientOrderID, cmd.OrderID, cmd), Reason: mapped.Error()})
			return
		}
		c.logger.Info(ctx, op+" request accepted", map[string]interface{}{"clientOrderId": cmd.ClientOrderID})
	})
	return nil
}

// CancelOrder cancels a working order. Legs not yet sent are cancelled locally.
func (c *Client) CancelOrder(ctx context.Context, cmd domain.CancelOrder) error {
	if err := c.EnsureReady("CancelOrder"); err != nil {
		return err
	}
	if c.takePendingLeg(cmd.ClientOrderID) {
		c.HandleEvent(domain.OrderCancelled{OrderEventHeader: c.OrderHeader(cmd.ClientOrderID, "", cmd)})
		return nil
	}
	params, err := newCancelParams(cmd)
	if err != nil {
		return err
	}
	c.goRequest(func(ctx context.Context) {
		op := "CancelOrder"
		c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": params.symbol, "clientOrderId": cmd.ClientOrderID})
		if err := c.api.cancelOrder(ctx, params); err != nil {
			mapped := c.handleError(ctx, err, op)
			c.HandleEvent(domain.OrderCancelRejected{OrderEventHeader: c.OrderHeader(cmd.ClientOrderID, cmd.OrderID, cmd), Reason: mapped.Error()})
			return
		}
		c.logger.Info(ctx, op+" successful", map[string]interface{}{"clientOrderId": cmd.ClientOrderID})
	})
	return nil
}
