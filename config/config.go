package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"execCore/internal/adapters/logger" // Import the logger package for LogLevel
	"execCore/internal/domain"
)

// Venues a node can be configured to route to.
const (
	VenueBinance = "BINANCE"
	VenueSandbox = "SANDBOX"
)

// Config holds all node configuration.
type Config struct {
	// Trader identity
	TraderName  string
	TraderIDTag string
	TraderID    domain.TraderID

	// Execution venue
	Venue         string // BINANCE or SANDBOX
	AccountNumber string

	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Engine
	NettingPolicy    domain.NettingPolicy
	DeterministicIDs bool // fixed event ids, for reproducible runs only
	IngressQueueSize int
	LoadState        bool // restore persisted state before connecting

	// Pre-trade limits (zero disables a limit)
	MaxOrderQuantity decimal.Decimal
	MaxOrderNotional decimal.Decimal
	MaxOpenOrders    int

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	RequestTimeout       time.Duration
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Trader identity
	cfg.TraderName = getEnv("TRADER_NAME", "TESTER")
	cfg.TraderIDTag = getEnv("TRADER_ID_TAG", "001")
	if strings.Contains(cfg.TraderName, "-") {
		errs = append(errs, "TRADER_NAME must not contain '-'")
	}
	if strings.Contains(cfg.TraderIDTag, "-") {
		errs = append(errs, "TRADER_ID_TAG must not contain '-'")
	}
	cfg.TraderID = domain.NewTraderID(cfg.TraderName, cfg.TraderIDTag)

	// Execution venue
	cfg.Venue = strings.ToUpper(getEnv("EXEC_VENUE", VenueBinance))
	if cfg.Venue != VenueBinance && cfg.Venue != VenueSandbox {
		errs = append(errs, fmt.Sprintf("EXEC_VENUE must be %s or %s, got '%s'", VenueBinance, VenueSandbox, cfg.Venue))
	}
	cfg.AccountNumber = getEnv("ACCOUNT_NUMBER", "001")

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.Venue == VenueBinance {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set")
		}
	}

	// Engine
	policy, ok := domain.ParseNettingPolicy(strings.ToUpper(getEnv("NETTING_POLICY", string(domain.Netting))))
	if !ok {
		errs = append(errs, fmt.Sprintf("NETTING_POLICY must be %s or %s", domain.Netting, domain.Hedging))
	}
	cfg.NettingPolicy = policy
	cfg.DeterministicIDs = getEnvAsBool("DETERMINISTIC_IDS", false)
	cfg.LoadState = getEnvAsBool("LOAD_STATE", true)

	cfg.IngressQueueSize, err = getEnvAsIntRequired("INGRESS_QUEUE_SIZE", 1024)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INGRESS_QUEUE_SIZE: %v", err))
	} else if cfg.IngressQueueSize <= 0 {
		errs = append(errs, "INGRESS_QUEUE_SIZE must be positive")
	}

	// Pre-trade limits
	cfg.MaxOrderQuantity, err = getEnvAsDecimalRequired("MAX_ORDER_QUANTITY", decimal.Zero)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_ORDER_QUANTITY: %v", err))
	} else if cfg.MaxOrderQuantity.IsNegative() {
		errs = append(errs, "MAX_ORDER_QUANTITY cannot be negative")
	}

	cfg.MaxOrderNotional, err = getEnvAsDecimalRequired("MAX_ORDER_NOTIONAL", decimal.Zero)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_ORDER_NOTIONAL: %v", err))
	} else if cfg.MaxOrderNotional.IsNegative() {
		errs = append(errs, "MAX_ORDER_NOTIONAL cannot be negative")
	}

	cfg.MaxOpenOrders, err = getEnvAsIntRequired("MAX_OPEN_ORDERS", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_OPEN_ORDERS: %v", err))
	} else if cfg.MaxOpenOrders < 0 {
		errs = append(errs, "MAX_OPEN_ORDERS cannot be negative")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/exec_core.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	requestTimeoutSeconds := getEnvAsInt("REQUEST_TIMEOUT_SECONDS", 10)
	if requestTimeoutSeconds <= 0 {
		errs = append(errs, "REQUEST_TIMEOUT_SECONDS must be positive")
	}
	cfg.RequestTimeout = time.Duration(requestTimeoutSeconds) * time.Second

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// AccountID returns the account the node trades at its venue.
func (c *Config) AccountID() domain.AccountID {
	return domain.NewAccountID(domain.Venue(c.Venue), c.AccountNumber)
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimalRequired(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
