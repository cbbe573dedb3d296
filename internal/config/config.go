package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	// StoreBackend selects the shared store: "redis" or "memory". The
	// memory backend is single-instance only.
	StoreBackend string `mapstructure:"store_backend" yaml:"store_backend"`
	RedisAddr    string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisDB      int    `mapstructure:"redis_db" yaml:"redis_db"`

	TokenSecret string        `mapstructure:"token_secret" yaml:"token_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	// IssuePerDay caps token issuance per origin fingerprint.
	IssuePerDay float64 `mapstructure:"issue_per_day" yaml:"issue_per_day"`

	// AdminPasswordHash is a bcrypt hash; see the hash-password subcommand.
	AdminPasswordHash string `mapstructure:"admin_password_hash" yaml:"admin_password_hash"`

	HistoryLimit      int64  `mapstructure:"history_limit" yaml:"history_limit"`
	MaxConnsPerOrigin int64  `mapstructure:"max_conns_per_origin" yaml:"max_conns_per_origin"`
	ResetTimezone     string `mapstructure:"reset_timezone" yaml:"reset_timezone"`
	MonthlyReset      bool   `mapstructure:"monthly_reset" yaml:"monthly_reset"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		StoreBackend:      "redis",
		RedisAddr:         "localhost:6379",
		TokenSecret:       "change-me-in-production",
		TokenTTL:          24 * time.Hour,
		IssuePerDay:       5,
		HistoryLimit:      50,
		MaxConnsPerOrigin: 3,
		ResetTimezone:     "UTC",
		MonthlyReset:      true,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.StoreBackend != "" {
		c.StoreBackend = other.StoreBackend
	}
	if other.RedisAddr != "" {
		c.RedisAddr = other.RedisAddr
	}
	if other.TokenSecret != "" {
		c.TokenSecret = other.TokenSecret
	}
	if other.TokenTTL != 0 {
		c.TokenTTL = other.TokenTTL
	}
	if other.IssuePerDay != 0 {
		c.IssuePerDay = other.IssuePerDay
	}
	if other.AdminPasswordHash != "" {
		c.AdminPasswordHash = other.AdminPasswordHash
	}
	if other.HistoryLimit != 0 {
		c.HistoryLimit = other.HistoryLimit
	}
	if other.MaxConnsPerOrigin != 0 {
		c.MaxConnsPerOrigin = other.MaxConnsPerOrigin
	}
	if other.ResetTimezone != "" {
		c.ResetTimezone = other.ResetTimezone
	}
}
