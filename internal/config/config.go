// Package config defines the top-level configuration for the alert bridge
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/alertbridge/internal/tradingwindow"
)

// Config is the root configuration structure. Fields are populated from a TOML
// or YAML file and then optionally overridden by ALERTBRIDGE_* environment
// variables.
type Config struct {
	Mode             string `toml:"mode" yaml:"mode"`
	LogLevel         string `toml:"log_level" yaml:"log_level"`
	LogFormat        string `toml:"log_format" yaml:"log_format"`
	LogFile          string `toml:"log_file" yaml:"log_file"`
	LogRetentionDays int    `toml:"log_retention_days" yaml:"log_retention_days"`

	Alert         AlertConfig             `toml:"alert" yaml:"alert"`
	Terminal      TerminalConfig          `toml:"terminal" yaml:"terminal"`
	Retry         RetryConfig             `toml:"retry" yaml:"retry"`
	Trading       TradingConfig           `toml:"trading" yaml:"trading"`
	TradingWindow TradingWindowConfig     `toml:"trading_window" yaml:"trading_window"`
	TradeControl  TradeControlConfig      `toml:"trade_control" yaml:"trade_control"`
	Symbols       map[string]SymbolConfig `toml:"symbols" yaml:"symbols"`
	Dedup         DedupConfig             `toml:"dedup" yaml:"dedup"`
	Redis         RedisConfig             `toml:"redis" yaml:"redis"`
	Postgres      PostgresConfig          `toml:"postgres" yaml:"postgres"`
	S3            S3Config                `toml:"s3" yaml:"s3"`
	Server        ServerConfig            `toml:"server" yaml:"server"`

	// SymbolOrder lists the symbol names in the order they appear in the
	// configuration file. It is filled by Load.
	SymbolOrder []string `toml:"-" yaml:"-"`
}

// AlertConfig describes the alert log the monitor tails and the textual
// shapes the parser recognises.
type AlertConfig struct {
	// Path is a file, a directory (newest *.log is used), or a template
	// containing {date} / {today} which expand to YYYYMMDD.
	Path             string   `toml:"path" yaml:"path"`
	Encoding         string   `toml:"encoding" yaml:"encoding"`
	AutoSwitchDate   bool     `toml:"auto_switch_date" yaml:"auto_switch_date"`
	PollInterval     duration `toml:"poll_interval" yaml:"poll_interval"`
	QueueSize        int      `toml:"queue_size" yaml:"queue_size"`
	SignalPrefix     string   `toml:"signal_prefix" yaml:"signal_prefix"`
	CloseLongMarker  string   `toml:"close_long_marker" yaml:"close_long_marker"`
	CloseShortMarker string   `toml:"close_short_marker" yaml:"close_short_marker"`
	ArchiveRotated   bool     `toml:"archive_rotated" yaml:"archive_rotated"`
}

// TerminalConfig holds the trading terminal bridge endpoint, credentials, and
// order defaults.
type TerminalConfig struct {
	URL                string   `toml:"url" yaml:"url"`
	Login              int64    `toml:"login" yaml:"login"`
	Password           string   `toml:"password" yaml:"password"`
	PasswordFile       string   `toml:"password_file" yaml:"password_file"`
	PasswordPassphrase string   `toml:"password_passphrase" yaml:"password_passphrase"`
	Server             string   `toml:"server" yaml:"server"`
	ConnectTimeout     duration `toml:"connect_timeout" yaml:"connect_timeout"`
	Magic              int64    `toml:"magic" yaml:"magic"`
	Deviation          int      `toml:"deviation" yaml:"deviation"`
	Comment            string   `toml:"comment" yaml:"comment"`
	Filling            string   `toml:"filling" yaml:"filling"`
}

// RetryConfig is the reconnect policy shared by all executor calls.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts" yaml:"max_attempts"`
	Delay       duration `toml:"delay" yaml:"delay"`
}

// TradingConfig holds pipeline-wide trading parameters.
type TradingConfig struct {
	DuplicateThreshold duration `toml:"duplicate_threshold" yaml:"duplicate_threshold"`
	MaxExecutionDelay  duration `toml:"max_execution_delay" yaml:"max_execution_delay"`
	DedupGCInterval    duration `toml:"dedup_gc_interval" yaml:"dedup_gc_interval"`
	// CloseSymbol is the symbol close signals apply to. Empty means the first
	// enabled symbol in file order.
	CloseSymbol string `toml:"close_symbol" yaml:"close_symbol"`
}

// TradingWindowConfig places the weekly market close and reopen in the venue
// timezone. MarketClose and MarketOpen use the "Fri 17:00" form.
type TradingWindowConfig struct {
	Timezone    string `toml:"timezone" yaml:"timezone"`
	MarketClose string `toml:"market_close" yaml:"market_close"`
	MarketOpen  string `toml:"market_open" yaml:"market_open"`
}

// SymbolConfig holds per-symbol trading parameters.
type SymbolConfig struct {
	Enabled     *bool   `toml:"enabled" yaml:"enabled"`
	LotSize     float64 `toml:"lot_size" yaml:"lot_size"`
	WeekendStop bool    `toml:"weekend_stop" yaml:"weekend_stop"`
}

// IsEnabled reports whether the symbol is enabled. A symbol without an
// explicit enabled flag is enabled.
func (s SymbolConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// TradeControlConfig configures the external trade control file.
type TradeControlConfig struct {
	Enabled        bool     `toml:"enabled" yaml:"enabled"`
	FilePath       string   `toml:"file_path" yaml:"file_path"`
	DefaultEnabled bool     `toml:"default_enabled" yaml:"default_enabled"`
	CheckInterval  duration `toml:"check_interval" yaml:"check_interval"`
}

// DedupConfig selects where the deduplication window lives.
type DedupConfig struct {
	Backend   string `toml:"backend" yaml:"backend"`
	KeyPrefix string `toml:"key_prefix" yaml:"key_prefix"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled" yaml:"enabled"`
	Addr         string `toml:"addr" yaml:"addr"`
	Password     string `toml:"password" yaml:"password"`
	DB           int    `toml:"db" yaml:"db"`
	PoolSize     int    `toml:"pool_size" yaml:"pool_size"`
	MaxRetries   int    `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled" yaml:"tls_enabled"`
	StreamEvents bool   `toml:"stream_events" yaml:"stream_events"`
	Stream       string `toml:"stream" yaml:"stream"`
}

// PostgresConfig holds PostgreSQL connection parameters for the event and
// execution journals.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled" yaml:"enabled"`
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
	Prefix         string `toml:"prefix" yaml:"prefix"`
}

// ServerConfig holds HTTP status server parameters.
type ServerConfig struct {
	Enabled      bool     `toml:"enabled" yaml:"enabled"`
	Port         int      `toml:"port" yaml:"port"`
	APIKey       string   `toml:"api_key" yaml:"api_key"`
	RecentEvents int      `toml:"recent_events" yaml:"recent_events"`
	CORSOrigins  []string `toml:"cors_origins" yaml:"cors_origins"`
	RateLimit    float64  `toml:"rate_limit" yaml:"rate_limit"`
	RateBurst    int      `toml:"rate_burst" yaml:"rate_burst"`
	Websocket    bool     `toml:"websocket" yaml:"websocket"`
}

// duration is a wrapper around time.Duration that supports string decoding
// (e.g. "5s", "180s") from both TOML and YAML.
type duration struct {
	time.Duration
}

// Duration builds a config duration. Handy in tests and defaults.
func Duration(d time.Duration) duration {
	return duration{d}
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML accepts the same duration strings from YAML documents.
func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:             "live",
		LogLevel:         "info",
		LogFormat:        "json",
		LogRetentionDays: 30,
		Alert: AlertConfig{
			Encoding:         "utf-8",
			AutoSwitchDate:   true,
			PollInterval:     duration{2 * time.Second},
			QueueSize:        4096,
			CloseLongMarker:  "ロング決済サイン",
			CloseShortMarker: "ショート決済サイン",
		},
		Terminal: TerminalConfig{
			URL:            "ws://127.0.0.1:8765/bridge",
			ConnectTimeout: duration{10 * time.Second},
			Magic:          123456,
			Deviation:      20,
			Comment:        "alertbridge",
			Filling:        "ioc",
		},
		Retry: RetryConfig{
			MaxAttempts: 10,
			Delay:       duration{5 * time.Second},
		},
		Trading: TradingConfig{
			DuplicateThreshold: duration{180 * time.Second},
			MaxExecutionDelay:  duration{time.Second},
			DedupGCInterval:    duration{time.Minute},
		},
		TradingWindow: TradingWindowConfig{
			Timezone:    "America/New_York",
			MarketClose: "Fri 17:00",
			MarketOpen:  "Sun 17:00",
		},
		TradeControl: TradeControlConfig{
			Enabled:        true,
			DefaultEnabled: true,
			CheckInterval:  duration{time.Second},
		},
		Dedup: DedupConfig{
			Backend:   "memory",
			KeyPrefix: "alertbridge:dedup:",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			Stream:     "alertbridge:events",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "alertbridge",
			User:          "alertbridge",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
			Prefix:         "alert-logs",
		},
		Server: ServerConfig{
			Port:         8090,
			RecentEvents: 200,
			RateLimit:    20,
			RateBurst:    40,
			Websocket:    true,
		},
	}
}

// EnabledSymbols returns the enabled symbol names in file order.
func (c *Config) EnabledSymbols() []string {
	out := make([]string, 0, len(c.Symbols))
	for _, name := range c.SymbolOrder {
		if sc, ok := c.Symbols[name]; ok && sc.IsEnabled() {
			out = append(out, name)
		}
	}
	return out
}

// ResolveCloseSymbol returns the symbol close signals apply to.
func (c *Config) ResolveCloseSymbol() string {
	if c.Trading.CloseSymbol != "" {
		for _, name := range c.EnabledSymbols() {
			if strings.EqualFold(name, c.Trading.CloseSymbol) {
				return name
			}
		}
		return ""
	}
	if enabled := c.EnabledSymbols(); len(enabled) > 0 {
		return enabled[0]
	}
	return ""
}

var validModes = map[string]bool{
	"live":  true,
	"paper": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEncodings = map[string]bool{
	"utf-8":     true,
	"shift_jis": true,
	"utf-16le":  true,
}

var validFillings = map[string]bool{
	"ioc":    true,
	"fok":    true,
	"return": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Sprintf("unknown log_format %q (valid: json, text)", c.LogFormat))
	}
	if c.LogFile != "" && c.LogRetentionDays < 1 {
		errs = append(errs, "log_retention_days must be >= 1 when log_file is set")
	}

	// Alert source
	if strings.TrimSpace(c.Alert.Path) == "" {
		errs = append(errs, "alert: path must not be empty")
	}
	if !validEncodings[strings.ToLower(c.Alert.Encoding)] {
		errs = append(errs, fmt.Sprintf("alert: unknown encoding %q (valid: utf-8, shift_jis, utf-16le)", c.Alert.Encoding))
	}
	if c.Alert.QueueSize < 1 {
		errs = append(errs, "alert: queue_size must be >= 1")
	}
	if c.Alert.PollInterval.Duration <= 0 {
		errs = append(errs, "alert: poll_interval must be > 0")
	}
	if c.Alert.CloseLongMarker == "" || c.Alert.CloseShortMarker == "" {
		errs = append(errs, "alert: close_long_marker and close_short_marker must not be empty")
	}
	if c.Alert.ArchiveRotated && !c.S3.Enabled {
		errs = append(errs, "alert: archive_rotated requires s3.enabled")
	}

	// Terminal credentials are only needed when talking to a real bridge.
	if strings.ToLower(c.Mode) == "live" {
		if c.Terminal.URL == "" {
			errs = append(errs, "terminal: url must not be empty in live mode")
		}
		if c.Terminal.Login <= 0 {
			errs = append(errs, "terminal: login must be positive in live mode")
		}
		if c.Terminal.Password == "" && c.Terminal.PasswordFile == "" {
			errs = append(errs, "terminal: either password or password_file must be set in live mode")
		}
		if c.Terminal.PasswordFile != "" && c.Terminal.PasswordPassphrase == "" {
			errs = append(errs, "terminal: password_passphrase is required when password_file is set")
		}
	}
	if c.Terminal.ConnectTimeout.Duration <= 0 {
		errs = append(errs, "terminal: connect_timeout must be > 0")
	}
	if c.Terminal.Deviation < 0 {
		errs = append(errs, "terminal: deviation must be >= 0")
	}
	if !validFillings[strings.ToLower(c.Terminal.Filling)] {
		errs = append(errs, fmt.Sprintf("terminal: unknown filling %q (valid: ioc, fok, return)", c.Terminal.Filling))
	}

	// Retry
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry: max_attempts must be >= 1")
	}
	if c.Retry.Delay.Duration < 0 {
		errs = append(errs, "retry: delay must be >= 0")
	}

	// Trading
	if c.Trading.DuplicateThreshold.Duration <= 0 {
		errs = append(errs, "trading: duplicate_threshold must be > 0")
	}
	if c.Trading.MaxExecutionDelay.Duration <= 0 {
		errs = append(errs, "trading: max_execution_delay must be > 0")
	}
	if c.Trading.DedupGCInterval.Duration <= 0 {
		errs = append(errs, "trading: dedup_gc_interval must be > 0")
	}

	// Trading window
	if _, err := time.LoadLocation(c.TradingWindow.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("trading_window: invalid timezone %q: %v", c.TradingWindow.Timezone, err))
	}
	if _, err := tradingwindow.ParseWeekTime(c.TradingWindow.MarketClose); err != nil {
		errs = append(errs, fmt.Sprintf("trading_window: market_close: %v", err))
	}
	if _, err := tradingwindow.ParseWeekTime(c.TradingWindow.MarketOpen); err != nil {
		errs = append(errs, fmt.Sprintf("trading_window: market_open: %v", err))
	}

	// Symbols
	enabled := c.EnabledSymbols()
	if len(enabled) == 0 {
		errs = append(errs, "symbols: at least one enabled symbol is required")
	}
	for _, name := range enabled {
		if c.Symbols[name].LotSize <= 0 {
			errs = append(errs, fmt.Sprintf("symbols.%s: lot_size must be > 0", name))
		}
	}
	if c.Trading.CloseSymbol != "" && c.ResolveCloseSymbol() == "" {
		errs = append(errs, fmt.Sprintf("trading: close_symbol %q is not an enabled symbol", c.Trading.CloseSymbol))
	}

	// Trade control
	if c.TradeControl.Enabled {
		if c.TradeControl.FilePath == "" {
			errs = append(errs, "trade_control: file_path must be set when enabled")
		}
		if c.TradeControl.CheckInterval.Duration <= 0 {
			errs = append(errs, "trade_control: check_interval must be > 0")
		}
	}

	// Dedup
	switch c.Dedup.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "dedup: backend redis requires redis.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("dedup: unknown backend %q (valid: memory, redis)", c.Dedup.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.StreamEvents && c.Redis.Stream == "" {
			errs = append(errs, "redis: stream must not be empty when stream_events is set")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RecentEvents < 1 {
			errs = append(errs, "server: recent_events must be >= 1")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
