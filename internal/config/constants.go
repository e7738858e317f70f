package config

import "time"

// Defaults for the license API
const (
	// EnvPrefix is used for the namespaced form (LICENSE_BILLING_CREEM_API_KEY).
	// Every field also accepts its bare tag name (CREEM_API_KEY).
	EnvPrefix = "LICENSE"

	// EnvConfigFile points Load at an explicit YAML file
	EnvConfigFile = "LICENSE_CONFIG_FILE"

	DefaultPort            = 8000
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultMaxBodyBytes    = 64 * 1024

	// Session tokens
	DefaultTokenTTLSeconds          = 3600
	DefaultTokenRefreshThresholdSec = 300

	// Daily Volume Guard ceiling per UTC day
	DefaultMaxDailyRequests = 10000

	// Per-client request budget
	DefaultRateLimitPerMinute = 100

	DefaultReaperInterval = time.Hour

	// Billing authority
	BillingModeEnforce       = "enforce"
	BillingModeDisabled      = "disabled"
	BillingAPIModeProd       = "production"
	BillingAPIModeSandbox    = "sandbox"
	BillingProductionURL     = "https://api.creem.io"
	BillingSandboxURL        = "https://test-api.creem.io"
	DefaultBillingTimeout    = 10 * time.Second
	DefaultBillingRetryAfter = 30
	DefaultInstanceName      = "HedgeEdge-server-check"
	DefaultBillingRPS        = 20.0
	DefaultBillingBurst      = 10

	// Record store
	StoreDriverPostgres   = "postgres"
	StoreDriverMemory     = "memory"
	SessionBackendStore   = "store"
	SessionBackendRedis   = "redis"
	DefaultQueryTimeout   = 5 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	DefaultMaxOpenConns   = 20
	DefaultMaxIdleConns   = 5

	// Log Settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultLogOutput = "console"
	DefaultLogFile   = "logs/license-api.log"
)
