package config

import "net/url"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Terminal.Password)
	redact(&out.Terminal.PasswordPassphrase)
	redact(&out.Redis.Password)
	out.Postgres.DSN = redactDSN(cfg.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)

	// Copy the map and slice so callers cannot mutate the original through
	// the redacted copy.
	if cfg.Symbols != nil {
		out.Symbols = make(map[string]SymbolConfig, len(cfg.Symbols))
		for k, v := range cfg.Symbols {
			out.Symbols[k] = v
		}
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.SymbolOrder != nil {
		out.SymbolOrder = make([]string, len(cfg.SymbolOrder))
		copy(out.SymbolOrder, cfg.SymbolOrder)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactDSN masks only the password of a URL-style DSN so host and database
// stay visible in startup logs. Anything unparseable is fully redacted.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return redacted
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
		}
	}
	if q := u.Query(); q.Has("password") {
		q.Set("password", redacted)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
