package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	// LogFormat is "console" or "json".
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	// DBDriver selects the store: "sqlite" or "postgres".
	DBDriver     string `mapstructure:"db_driver" yaml:"db_driver"`
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	DatabaseURL  string `mapstructure:"database_url" yaml:"database_url"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	BotEmail         string        `mapstructure:"bot_email" yaml:"bot_email"`
	BotName          string        `mapstructure:"bot_name" yaml:"bot_name"`
	BotHistoryLimit  int           `mapstructure:"bot_history_limit" yaml:"bot_history_limit"`
	BotResponseDelay time.Duration `mapstructure:"bot_response_delay" yaml:"bot_response_delay"`

	WSSendBuffer      int           `mapstructure:"ws_send_buffer" yaml:"ws_send_buffer"`
	WSPingInterval    time.Duration `mapstructure:"ws_ping_interval" yaml:"ws_ping_interval"`
	WSMaxMessageBytes int64         `mapstructure:"ws_max_message_bytes" yaml:"ws_max_message_bytes"`
	// WSRateLimit is inbound frames per minute per connection; 0 disables it.
	WSRateLimit int `mapstructure:"ws_rate_limit" yaml:"ws_rate_limit"`

	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8000",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",

		DBDriver:     "sqlite",
		DatabasePath: "whatsease.db",

		JWTSecret:   "change-me-in-production",
		JWTIssuer:   "whatsease",
		JWTAudience: "whatsease",
		JWTTTL:      30 * time.Minute,

		BotEmail:         "bot@whatsease.ai",
		BotName:          "WhatsEase AI Assistant",
		BotHistoryLimit:  50,
		BotResponseDelay: 500 * time.Millisecond,

		WSSendBuffer:      64,
		WSPingInterval:    30 * time.Second,
		WSMaxMessageBytes: 64 << 10,
		WSRateLimit:       120,

		CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
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
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DBDriver != "" {
		c.DBDriver = other.DBDriver
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.DatabaseURL != "" {
		c.DatabaseURL = other.DatabaseURL
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
	if other.JWTTTL != 0 {
		c.JWTTTL = other.JWTTTL
	}
	if other.BotEmail != "" {
		c.BotEmail = other.BotEmail
	}
	if other.BotName != "" {
		c.BotName = other.BotName
	}
	if other.BotHistoryLimit != 0 {
		c.BotHistoryLimit = other.BotHistoryLimit
	}
	if other.BotResponseDelay != 0 {
		c.BotResponseDelay = other.BotResponseDelay
	}
	if other.WSSendBuffer != 0 {
		c.WSSendBuffer = other.WSSendBuffer
	}
	if other.WSPingInterval != 0 {
		c.WSPingInterval = other.WSPingInterval
	}
	if other.WSMaxMessageBytes != 0 {
		c.WSMaxMessageBytes = other.WSMaxMessageBytes
	}
	if other.WSRateLimit != 0 {
		c.WSRateLimit = other.WSRateLimit
	}
	if len(other.CORSOrigins) > 0 {
		c.CORSOrigins = other.CORSOrigins
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
		if c.DatabasePath == "" {
			return errMissing("database_path")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errMissing("database_url")
		}
	default:
		return &InvalidError{Key: "db_driver", Reason: "must be sqlite or postgres"}
	}
	if c.JWTSecret == "" {
		return errMissing("jwt_secret")
	}
	if c.JWTTTL <= 0 {
		return &InvalidError{Key: "jwt_ttl", Reason: "must be positive"}
	}
	if c.BotEmail == "" {
		return errMissing("bot_email")
	}
	if c.WSRateLimit < 0 {
		return &InvalidError{Key: "ws_rate_limit", Reason: "must not be negative"}
	}
	return nil
}

// InvalidError reports a bad configuration value.
type InvalidError struct {
	Key    string
	Reason string
}

func (e *InvalidError) Error() string {
	return "config " + e.Key + ": " + e.Reason
}

func errMissing(key string) error {
	return &InvalidError{Key: key, Reason: "is required"}
}
