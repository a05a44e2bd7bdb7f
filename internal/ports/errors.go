package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Routing Errors
	ErrUnknownVenue         = errors.New("no execution client registered for venue")
	ErrDuplicateClient      = errors.New("execution client already registered for venue")
	ErrAccountVenueMismatch = errors.New("account issuer does not match client venue")
	ErrVenueMismatch        = errors.New("command venue does not match order venue")
	ErrDuplicateOrder       = errors.New("client order id already in use")
	ErrUnknownOrder         = errors.New("unknown client order id")
	ErrInvalidCommand       = errors.New("invalid command")
	ErrRejectedByRisk       = errors.New("order rejected by pre-trade check")

	// Client Lifecycle Errors
	ErrNotConnected   = errors.New("execution client is not connected")
	ErrClientDisposed = errors.New("execution client has been disposed")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrOrderModifyFailed    = errors.New("failed to modify order")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
	ErrInsertFailed   = errors.New("database insert failed")
)
