package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	apierrors "licenseapi/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Billing   BillingConfig   `yaml:"billing" envconfig:"BILLING"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	TrustedProxies []string        `yaml:"trusted_proxies" envconfig:"TRUSTED_PROXIES"`
	IPHashSalt     string          `yaml:"ip_hash_salt" envconfig:"IP_HASH_SALT"`
	AdminToken     string          `yaml:"admin_token" envconfig:"ADMIN_TOKEN"`
	EnableHSTS     bool            `yaml:"enable_hsts" envconfig:"ENABLE_HSTS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains per-client rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" envconfig:"RATE_LIMIT_ENABLED"`
	RequestsPerMinute int  `yaml:"requests_per_minute" envconfig:"RATE_LIMIT_PER_MINUTE"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	Output      string `yaml:"output" envconfig:"LOG_OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"LOG_FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// LicenseConfig contains session and admission-control settings
type LicenseConfig struct {
	TokenTTLSeconds       int           `yaml:"token_ttl_seconds" envconfig:"TOKEN_TTL_SECONDS"`
	TokenRefreshThreshold int           `yaml:"token_refresh_threshold" envconfig:"TOKEN_REFRESH_THRESHOLD"`
	MaxDailyRequests      int           `yaml:"max_daily_requests" envconfig:"MAX_DAILY_REQUESTS"`
	ReaperInterval        time.Duration `yaml:"reaper_interval" envconfig:"REAPER_INTERVAL"`
}

// TokenTTL returns the session lifetime
func (l LicenseConfig) TokenTTL() time.Duration {
	return time.Duration(l.TokenTTLSeconds) * time.Second
}

// RefreshThreshold returns the remaining lifetime below which heartbeats rotate tokens
func (l LicenseConfig) RefreshThreshold() time.Duration {
	return time.Duration(l.TokenRefreshThreshold) * time.Second
}

// BillingConfig contains billing authority settings
type BillingConfig struct {
	Mode              string        `yaml:"mode" envconfig:"BILLING_MODE"`
	APIKey            string        `yaml:"api_key" envconfig:"CREEM_API_KEY"`
	APIMode           string        `yaml:"api_mode" envconfig:"CREEM_API_MODE"`
	BaseURL           string        `yaml:"base_url" envconfig:"CREEM_BASE_URL"`
	WebhookSecret     string        `yaml:"webhook_secret" envconfig:"CREEM_WEBHOOK_SECRET"`
	InstanceName      string        `yaml:"instance_name" envconfig:"CREEM_INSTANCE_NAME"`
	Timeout           time.Duration `yaml:"timeout" envconfig:"CREEM_TIMEOUT"`
	RetryAfterSeconds int           `yaml:"retry_after_seconds" envconfig:"CREEM_RETRY_AFTER"`
	RequestsPerSecond float64       `yaml:"requests_per_second" envconfig:"CREEM_RPS"`
	Burst             int           `yaml:"burst" envconfig:"CREEM_BURST"`
}

// Enforced reports whether validations must be confirmed by the billing authority
func (b BillingConfig) Enforced() bool {
	return b.Mode == BillingModeEnforce
}

// ResolvedBaseURL returns the explicit base URL or the one implied by the API mode
func (b BillingConfig) ResolvedBaseURL() string {
	if b.BaseURL != "" {
		return strings.TrimRight(b.BaseURL, "/")
	}
	if b.APIMode == BillingAPIModeSandbox {
		return BillingSandboxURL
	}
	return BillingProductionURL
}

// StoreConfig contains record store settings
type StoreConfig struct {
	Driver         string        `yaml:"driver" envconfig:"STORE_DRIVER"`
	DatabaseURL    string        `yaml:"database_url" envconfig:"DATABASE_URL"`
	AutoMigrate    bool          `yaml:"auto_migrate" envconfig:"AUTO_MIGRATE"`
	QueryTimeout   time.Duration `yaml:"query_timeout" envconfig:"QUERY_TIMEOUT"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`
	MaxOpenConns   int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns   int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	SeedFile       string        `yaml:"seed_file" envconfig:"SEED_FILE"`
	SessionBackend string        `yaml:"session_backend" envconfig:"SESSION_BACKEND"`
	Redis          RedisConfig   `yaml:"redis" envconfig:"REDIS"`
}

// RedisConfig contains the session cache connection
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadFile(getConfigFilePath())
}

// LoadFile is Load with an explicit YAML file; an empty path skips the file.
func LoadFile(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, apierrors.NewConfigError("failed to load config from file "+configFile, err)
		}
	}

	// No default tags: envconfig only overlays variables that are actually set
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apierrors.NewConfigError("failed to load config from env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, apierrors.NewConfigError("config validation failed", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks the configuration and normalizes enum values
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server read and write timeouts must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max body bytes must be positive")
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limit requests per minute must be positive when enabled")
	}

	// JSON is the only supported format
	c.Logging.Format = DefaultLogFormat
	c.Logging.Output = strings.ToLower(c.Logging.Output)
	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid log output %q: want console, file or both", c.Logging.Output)
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return fmt.Errorf("log file path is required for output %q", c.Logging.Output)
	}

	if err := c.License.validate(); err != nil {
		return err
	}
	if err := c.Billing.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	return c.Telemetry.validate()
}

func (l *LicenseConfig) validate() error {
	if l.TokenTTLSeconds <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	if l.TokenRefreshThreshold < 0 || l.TokenRefreshThreshold >= l.TokenTTLSeconds {
		return fmt.Errorf("token refresh threshold must be in [0, %d)", l.TokenTTLSeconds)
	}
	if l.MaxDailyRequests <= 0 {
		return fmt.Errorf("max daily requests must be positive")
	}
	if l.ReaperInterval <= 0 {
		return fmt.Errorf("reaper interval must be positive")
	}
	return nil
}

func (b *BillingConfig) validate() error {
	b.Mode = strings.ToLower(strings.TrimSpace(b.Mode))
	b.APIMode = strings.ToLower(strings.TrimSpace(b.APIMode))

	switch b.Mode {
	case BillingModeEnforce:
		if b.APIKey == "" {
			return fmt.Errorf("billing api key is required when billing mode is %q", BillingModeEnforce)
		}
	case BillingModeDisabled:
	default:
		return fmt.Errorf("invalid billing mode %q: want %q or %q", b.Mode, BillingModeEnforce, BillingModeDisabled)
	}

	switch b.APIMode {
	case BillingAPIModeProd, BillingAPIModeSandbox:
	default:
		return fmt.Errorf("invalid billing api mode %q", b.APIMode)
	}

	if b.WebhookSecret == "" {
		return fmt.Errorf("billing webhook secret is required")
	}
	if b.Timeout <= 0 {
		return fmt.Errorf("billing timeout must be positive")
	}
	if b.InstanceName == "" {
		b.InstanceName = DefaultInstanceName
	}
	return nil
}

func (s *StoreConfig) validate() error {
	s.Driver = strings.ToLower(s.Driver)
	switch s.Driver {
	case StoreDriverPostgres:
		if s.DatabaseURL == "" {
			return fmt.Errorf("database url is required for the %s store", StoreDriverPostgres)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("invalid store driver %q", s.Driver)
	}

	s.SessionBackend = strings.ToLower(s.SessionBackend)
	switch s.SessionBackend {
	case SessionBackendStore:
	case SessionBackendRedis:
		if s.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the %s session backend", SessionBackendRedis)
		}
	default:
		return fmt.Errorf("invalid session backend %q", s.SessionBackend)
	}

	if s.QueryTimeout <= 0 {
		return fmt.Errorf("store query timeout must be positive")
	}
	return nil
}

func (t *TelemetryConfig) validate() error {
	switch t.TraceExporter {
	case "stdout", "none":
	default:
		return fmt.Errorf("unsupported trace exporter: %s", t.TraceExporter)
	}
	switch t.MetricExporter {
	case "prometheus", "none":
	default:
		return fmt.Errorf("unsupported metric exporter: %s", t.MetricExporter)
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return fmt.Errorf("sample ratio must be within [0, 1]")
	}
	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvConfigFile); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			MaxHeaderBytes:  1 << 20, // 1MB
			MaxBodyBytes:    DefaultMaxBodyBytes,
			RequestTimeout:  DefaultRequestTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"app://.", "http://localhost:5173"},
			EnableHSTS:     true,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: DefaultRateLimitPerMinute,
			},
		},
		Logging: LoggingConfig{
			Level:    DefaultLogLevel,
			Format:   DefaultLogFormat,
			Output:   DefaultLogOutput,
			FilePath: DefaultLogFile,
		},
		License: LicenseConfig{
			TokenTTLSeconds:       DefaultTokenTTLSeconds,
			TokenRefreshThreshold: DefaultTokenRefreshThresholdSec,
			MaxDailyRequests:      DefaultMaxDailyRequests,
			ReaperInterval:        DefaultReaperInterval,
		},
		Billing: BillingConfig{
			Mode:              BillingModeEnforce,
			APIMode:           BillingAPIModeProd,
			InstanceName:      DefaultInstanceName,
			Timeout:           DefaultBillingTimeout,
			RetryAfterSeconds: DefaultBillingRetryAfter,
			RequestsPerSecond: DefaultBillingRPS,
			Burst:             DefaultBillingBurst,
		},
		Store: StoreConfig{
			Driver:         StoreDriverPostgres,
			AutoMigrate:    true,
			QueryTimeout:   DefaultQueryTimeout,
			ConnectTimeout: DefaultConnectTimeout,
			MaxOpenConns:   DefaultMaxOpenConns,
			MaxIdleConns:   DefaultMaxIdleConns,
			SessionBackend: SessionBackendStore,
		},
		Telemetry: TelemetryConfig{
			Environment:    "production",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    0.1,
		},
	}
}
