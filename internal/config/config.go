package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Safety     SafetyConfig     `mapstructure:"safety"`
	Forex      ForexConfig      `mapstructure:"forex"`
	Resolution ResolutionConfig `mapstructure:"resolution"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// ConnectionConfig contains IB Gateway connection settings
type ConnectionConfig struct {
	Mode             string `mapstructure:"mode"` // "paper" (simulated fills) or "gateway"
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	ClientID         int    `mapstructure:"client_id"`
	ResolveTimeoutMS int    `mapstructure:"resolve_timeout_ms"` // symbol resolution calls
	OrderTimeoutMS   int    `mapstructure:"order_timeout_ms"`   // order placement calls
}

// SafetyConfig contains the trading safety framework settings
type SafetyConfig struct {
	EnableTrading              bool `mapstructure:"enable_trading"`
	EnableForexTrading         bool `mapstructure:"enable_forex_trading"`
	EnableInternationalTrading bool `mapstructure:"enable_international_trading"`
	EnableStopLossOrders       bool `mapstructure:"enable_stop_loss_orders"`

	RequirePaperAccountVerification bool     `mapstructure:"require_paper_account_verification"`
	AllowedAccountPrefixes          []string `mapstructure:"allowed_account_prefixes"`

	MaxOrderSize            float64 `mapstructure:"max_order_size"`
	MaxOrderValueUSD        float64 `mapstructure:"max_order_value_usd"`
	MaxDailyOrders          int     `mapstructure:"max_daily_orders"`
	MaxStopLossOrders       int     `mapstructure:"max_stop_loss_orders"`
	MaxPortfolioValueAtRisk float64 `mapstructure:"max_portfolio_value_at_risk"`

	MaxOrdersPerMinute             int     `mapstructure:"max_orders_per_minute"`
	MaxMarketDataRequestsPerMinute int     `mapstructure:"max_market_data_requests_per_minute"`
	MaxHistoricalRequestsPerMinute int     `mapstructure:"max_historical_requests_per_minute"`
	SymbolSearchRateLimitSeconds   float64 `mapstructure:"ibkr_symbol_search_rate_limit_seconds"`

	EnableKillSwitch        bool   `mapstructure:"enable_kill_switch"`
	KillSwitchOverrideToken string `mapstructure:"kill_switch_override_token"`
}

// ForexConfig contains forex rate and conversion settings
type ForexConfig struct {
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"`
	UseMidpointRate bool `mapstructure:"use_midpoint_rate"` // mid instead of bid for conversions
}

// ResolutionConfig contains symbol resolution settings
type ResolutionConfig struct {
	CacheTTLSeconds            int  `mapstructure:"cache_ttl_seconds"`
	CacheCapacity              int  `mapstructure:"cache_capacity"`
	MaxResults                 int  `mapstructure:"max_results"`
	FuzzyEnabled               bool `mapstructure:"fuzzy_enabled"`
	FallbackToExactOnFuzzyFail bool `mapstructure:"fallback_to_exact_on_fuzzy_fail"`
}

// AuditConfig contains audit log settings
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	LogFile string `mapstructure:"log_file"` // empty means platform temp dir
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("IBKR_MCP")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "ibkr-mcp-gateway")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Connection defaults (IB Gateway paper port)
	v.SetDefault("connection.mode", "paper")
	v.SetDefault("connection.host", "127.0.0.1")
	v.SetDefault("connection.port", 4002)
	v.SetDefault("connection.client_id", 1)
	v.SetDefault("connection.resolve_timeout_ms", 10000)
	v.SetDefault("connection.order_timeout_ms", 30000)

	// Safety defaults: everything trading-side is off until explicitly enabled
	v.SetDefault("safety.enable_trading", false)
	v.SetDefault("safety.enable_forex_trading", false)
	v.SetDefault("safety.enable_international_trading", false)
	v.SetDefault("safety.enable_stop_loss_orders", false)
	v.SetDefault("safety.require_paper_account_verification", true)
	v.SetDefault("safety.allowed_account_prefixes", []string{"DU", "DUH"})
	v.SetDefault("safety.max_order_size", 1000.0)
	v.SetDefault("safety.max_order_value_usd", 10000.0)
	v.SetDefault("safety.max_daily_orders", 50)
	v.SetDefault("safety.max_stop_loss_orders", 25)
	v.SetDefault("safety.max_portfolio_value_at_risk", 0.0) // 0 disables the notional cap
	v.SetDefault("safety.max_orders_per_minute", 5)
	v.SetDefault("safety.max_market_data_requests_per_minute", 30)
	v.SetDefault("safety.max_historical_requests_per_minute", 10)
	v.SetDefault("safety.ibkr_symbol_search_rate_limit_seconds", 1.1)
	v.SetDefault("safety.enable_kill_switch", true)
	v.SetDefault("safety.kill_switch_override_token", "")

	// Forex defaults
	v.SetDefault("forex.cache_ttl_seconds", 5)
	v.SetDefault("forex.use_midpoint_rate", false)

	// Resolution defaults
	v.SetDefault("resolution.cache_ttl_seconds", 300)
	v.SetDefault("resolution.cache_capacity", 1000)
	v.SetDefault("resolution.max_results", 5)
	v.SetDefault("resolution.fuzzy_enabled", true)
	v.SetDefault("resolution.fallback_to_exact_on_fuzzy_fail", true)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_file", "")

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
		return fmt.Errorf("connection.port must be in (0, 65535], got %d", c.Connection.Port)
	}
	if c.Connection.Mode != "paper" && c.Connection.Mode != "gateway" {
		return fmt.Errorf("connection.mode must be \"paper\" or \"gateway\", got %q", c.Connection.Mode)
	}
	if c.Safety.MaxDailyOrders <= 0 {
		return fmt.Errorf("safety.max_daily_orders must be positive, got %d", c.Safety.MaxDailyOrders)
	}
	if c.Safety.MaxStopLossOrders <= 0 {
		return fmt.Errorf("safety.max_stop_loss_orders must be positive, got %d", c.Safety.MaxStopLossOrders)
	}
	if c.Safety.MaxOrdersPerMinute <= 0 {
		return fmt.Errorf("safety.max_orders_per_minute must be positive, got %d", c.Safety.MaxOrdersPerMinute)
	}
	if c.Safety.MaxMarketDataRequestsPerMinute <= 0 {
		return fmt.Errorf("safety.max_market_data_requests_per_minute must be positive, got %d",
			c.Safety.MaxMarketDataRequestsPerMinute)
	}
	if c.Safety.SymbolSearchRateLimitSeconds <= 0 {
		return fmt.Errorf("safety.ibkr_symbol_search_rate_limit_seconds must be positive, got %v",
			c.Safety.SymbolSearchRateLimitSeconds)
	}
	if c.Safety.RequirePaperAccountVerification && len(c.Safety.AllowedAccountPrefixes) == 0 {
		return fmt.Errorf("safety.allowed_account_prefixes must not be empty when paper verification is required")
	}
	if c.Forex.CacheTTLSeconds <= 0 {
		return fmt.Errorf("forex.cache_ttl_seconds must be positive, got %d", c.Forex.CacheTTLSeconds)
	}
	if c.Resolution.CacheCapacity <= 0 {
		return fmt.Errorf("resolution.cache_capacity must be positive, got %d", c.Resolution.CacheCapacity)
	}
	if c.Resolution.MaxResults <= 0 || c.Resolution.MaxResults > 16 {
		return fmt.Errorf("resolution.max_results must be in [1, 16], got %d", c.Resolution.MaxResults)
	}
	return nil
}

// ResolveTimeout returns the symbol resolution timeout as time.Duration
func (c *ConnectionConfig) ResolveTimeout() time.Duration {
	return time.Duration(c.ResolveTimeoutMS) * time.Millisecond
}

// OrderTimeout returns the order placement timeout as time.Duration
func (c *ConnectionConfig) OrderTimeout() time.Duration {
	return time.Duration(c.OrderTimeoutMS) * time.Millisecond
}

// ForexCacheTTL returns the forex cache TTL as time.Duration
func (c *ForexConfig) ForexCacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// CacheTTL returns the resolution cache TTL as time.Duration
func (c *ResolutionConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// SymbolSearchInterval returns the minimum spacing between fuzzy symbol
// searches, imposed by the upstream matching-symbols endpoint.
func (c *SafetyConfig) SymbolSearchInterval() time.Duration {
	return time.Duration(c.SymbolSearchRateLimitSeconds * float64(time.Second))
}
