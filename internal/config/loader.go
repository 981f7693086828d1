package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a TOML (or, by extension, YAML) configuration file at path,
// merges it on top of the built-in defaults, applies ALERTBRIDGE_* environment
// variable overrides, and returns the final Config. The returned Config has
// NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	var order []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml %s: %w", path, err)
		}
		order, err = yamlSymbolOrder(data)
		if err != nil {
			return nil, fmt.Errorf("config: decode yaml %s: %w", path, err)
		}
	default:
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode toml %s: %w", path, err)
		}
		order = tomlSymbolOrder(md)
	}
	cfg.SymbolOrder = completeOrder(order, cfg.Symbols)

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// tomlSymbolOrder returns the [symbols.X] table names in document order.
func tomlSymbolOrder(md toml.MetaData) []string {
	var out []string
	for _, key := range md.Keys() {
		if len(key) == 2 && key[0] == "symbols" {
			out = append(out, key[1])
		}
	}
	return out
}

// yamlSymbolOrder returns the keys of the top-level "symbols" mapping in
// document order.
func yamlSymbolOrder(data []byte) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "symbols" {
			continue
		}
		symbols := root.Content[i+1]
		if symbols.Kind != yaml.MappingNode {
			return nil, nil
		}
		out := make([]string, 0, len(symbols.Content)/2)
		for j := 0; j+1 < len(symbols.Content); j += 2 {
			out = append(out, symbols.Content[j].Value)
		}
		return out, nil
	}
	return nil, nil
}

// completeOrder drops names that are not configured and appends configured
// names the order is missing, sorted, so every symbol appears exactly once.
func completeOrder(order []string, symbols map[string]SymbolConfig) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, name := range order {
		if _, ok := symbols[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	var rest []string
	for name := range symbols {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// applyEnvOverrides reads well-known ALERTBRIDGE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the configuration file.
func applyEnvOverrides(cfg *Config) {
	// ── Alert ──
	setStr(&cfg.Alert.Path, "ALERTBRIDGE_ALERT_PATH")
	setStr(&cfg.Alert.Encoding, "ALERTBRIDGE_ALERT_ENCODING")
	setBool(&cfg.Alert.AutoSwitchDate, "ALERTBRIDGE_ALERT_AUTO_SWITCH_DATE")
	setStr(&cfg.Alert.SignalPrefix, "ALERTBRIDGE_ALERT_SIGNAL_PREFIX")

	// ── Terminal ──
	setStr(&cfg.Terminal.URL, "ALERTBRIDGE_TERMINAL_URL")
	setInt64(&cfg.Terminal.Login, "ALERTBRIDGE_TERMINAL_LOGIN")
	setStr(&cfg.Terminal.Password, "ALERTBRIDGE_TERMINAL_PASSWORD")
	setStr(&cfg.Terminal.PasswordFile, "ALERTBRIDGE_TERMINAL_PASSWORD_FILE")
	setStr(&cfg.Terminal.PasswordPassphrase, "ALERTBRIDGE_TERMINAL_PASSWORD_PASSPHRASE")
	setStr(&cfg.Terminal.Server, "ALERTBRIDGE_TERMINAL_SERVER")
	setDuration(&cfg.Terminal.ConnectTimeout, "ALERTBRIDGE_TERMINAL_CONNECT_TIMEOUT")

	// ── Retry ──
	setInt(&cfg.Retry.MaxAttempts, "ALERTBRIDGE_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.Delay, "ALERTBRIDGE_RETRY_DELAY")

	// ── Trading ──
	setDuration(&cfg.Trading.DuplicateThreshold, "ALERTBRIDGE_TRADING_DUPLICATE_THRESHOLD")
	setDuration(&cfg.Trading.MaxExecutionDelay, "ALERTBRIDGE_TRADING_MAX_EXECUTION_DELAY")
	setStr(&cfg.Trading.CloseSymbol, "ALERTBRIDGE_TRADING_CLOSE_SYMBOL")
	setStr(&cfg.TradingWindow.Timezone, "ALERTBRIDGE_TRADING_WINDOW_TIMEZONE")

	// ── Trade control ──
	setBool(&cfg.TradeControl.Enabled, "ALERTBRIDGE_TRADE_CONTROL_ENABLED")
	setStr(&cfg.TradeControl.FilePath, "ALERTBRIDGE_TRADE_CONTROL_FILE_PATH")
	setDuration(&cfg.TradeControl.CheckInterval, "ALERTBRIDGE_TRADE_CONTROL_CHECK_INTERVAL")

	// ── Dedup ──
	setStr(&cfg.Dedup.Backend, "ALERTBRIDGE_DEDUP_BACKEND")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ALERTBRIDGE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ALERTBRIDGE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ALERTBRIDGE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ALERTBRIDGE_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "ALERTBRIDGE_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ALERTBRIDGE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ALERTBRIDGE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ALERTBRIDGE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ALERTBRIDGE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ALERTBRIDGE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ALERTBRIDGE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ALERTBRIDGE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ALERTBRIDGE_POSTGRES_SSL_MODE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ALERTBRIDGE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ALERTBRIDGE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ALERTBRIDGE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ALERTBRIDGE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ALERTBRIDGE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ALERTBRIDGE_S3_SECRET_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ALERTBRIDGE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ALERTBRIDGE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ALERTBRIDGE_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "ALERTBRIDGE_MODE")
	setStr(&cfg.LogLevel, "ALERTBRIDGE_LOG_LEVEL")
	setStr(&cfg.LogFormat, "ALERTBRIDGE_LOG_FORMAT")
	setStr(&cfg.LogFile, "ALERTBRIDGE_LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
