package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultGatewayPort    = 18790
	DefaultPageSize       = 20
	DefaultConnectTimeout = 10
	DefaultMaxRetries     = 5
	DefaultWindowHours    = 23
	DefaultRequestTimeout = 30
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:        fmt.Sprintf("http://127.0.0.1:%d/api", DefaultGatewayPort),
			GatewayURL:     fmt.Sprintf("ws://127.0.0.1:%d/ws", DefaultGatewayPort),
			RequestTimeout: DefaultRequestTimeout,
			Retries:        2,
		},
		Session: SessionConfig{
			Representative: "Support",
			PageSize:       DefaultPageSize,
			ConnectTimeout: DefaultConnectTimeout,
			MaxRetries:     DefaultMaxRetries,
			WindowHours:    DefaultWindowHours,
			SendRate:       5,
			SendBurst:      10,
		},
		Gateway: GatewayConfig{
			Port:        DefaultGatewayPort,
			Bind:        "loopback",
			StoreDriver: "sqlite",
		},
		Logging: LoggingConfig{
			Level: "info",
			Style: "pretty",
		},
	}
}

// RequestTimeoutDuration returns the HTTP timeout as a duration.
func (c BackendConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// ConnectTimeoutDuration returns the realtime connect timeout as a duration.
func (c SessionConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// Window returns the messaging window as a duration.
func (c SessionConfig) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}
