package config

import "time"

// Config holds server and client configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	// Tokens are minted by the identity provider; the server only verifies them.
	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	SendTimeout   time.Duration `mapstructure:"send_timeout" yaml:"send_timeout"`
	RetractWindow time.Duration `mapstructure:"retract_window" yaml:"retract_window"`
	Timezone      string        `mapstructure:"timezone" yaml:"timezone"`
	HistoryLimit  int           `mapstructure:"history_limit" yaml:"history_limit"`

	MaxMessageBytes int64   `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	WSRateLimit     float64 `mapstructure:"ws_rate_limit" yaml:"ws_rate_limit"`
	WSRateBurst     int     `mapstructure:"ws_rate_burst" yaml:"ws_rate_burst"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "roamchat.db",
		LogLevel:          "info",
		LogFormat:         "console",
		JWTSecret:         "change-me",
		AllowedOrigins:    []string{"http://localhost:3000"},
		SendTimeout:       15 * time.Second,
		RetractWindow:     2 * time.Minute,
		Timezone:          "Local",
		HistoryLimit:      200,
		MaxMessageBytes:   1 << 16,
		WSRateLimit:       20,
		WSRateBurst:       40,
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
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if len(other.AllowedOrigins) > 0 {
		c.AllowedOrigins = other.AllowedOrigins
	}
	if other.SendTimeout != 0 {
		c.SendTimeout = other.SendTimeout
	}
	if other.RetractWindow != 0 {
		c.RetractWindow = other.RetractWindow
	}
	if other.Timezone != "" {
		c.Timezone = other.Timezone
	}
	if other.HistoryLimit != 0 {
		c.HistoryLimit = other.HistoryLimit
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.WSRateLimit != 0 {
		c.WSRateLimit = other.WSRateLimit
	}
	if other.WSRateBurst != 0 {
		c.WSRateBurst = other.WSRateBurst
	}
}

// Location resolves Timezone, falling back to the process location.
func (c Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
