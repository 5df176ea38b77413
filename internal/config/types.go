package config

// Config is the root configuration for deskline.
type Config struct {
	Backend BackendConfig `yaml:"backend,omitempty"`
	Session SessionConfig `yaml:"session,omitempty"`
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// BackendConfig points the chat session at the History Service and the
// Realtime Gateway.
type BackendConfig struct {
	BaseURL        string `yaml:"baseUrl,omitempty"`    // History Service root, e.g. http://127.0.0.1:18790/api
	GatewayURL     string `yaml:"gatewayUrl,omitempty"` // WebSocket root, e.g. ws://127.0.0.1:18790/ws
	Token          string `yaml:"token,omitempty"`
	RequestTimeout int    `yaml:"requestTimeout,omitempty"` // seconds
	Retries        int    `yaml:"retries,omitempty"`        // retries for idempotent GETs
}

// SessionConfig controls the chat session client.
type SessionConfig struct {
	Representative string  `yaml:"representative,omitempty"` // display name attached to outbound sends
	PageSize       int     `yaml:"pageSize,omitempty"`
	ConnectTimeout int     `yaml:"connectTimeout,omitempty"` // seconds
	MaxRetries     int     `yaml:"maxRetries,omitempty"`
	WindowHours    int     `yaml:"windowHours,omitempty"`
	SendRate       float64 `yaml:"sendRate,omitempty"` // messages per second
	SendBurst      int     `yaml:"sendBurst,omitempty"`
}

// GatewayConfig controls the local development backend.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "auto" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	PublicURL      string      `yaml:"publicUrl,omitempty"` // prefix for media URLs
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	StoreDriver    string      `yaml:"storeDriver,omitempty"` // "sqlite" | "memory"
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures bearer-token auth on the development backend.
type GatewayAuth struct {
	Token string `yaml:"token,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Style string `yaml:"style,omitempty"` // "pretty" | "compact" | "json"
	File  string `yaml:"file,omitempty"`
}
