package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields lets tokens and URLs be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Backend.Token = expandEnvVars(cfg.Backend.Token)
	cfg.Backend.BaseURL = expandEnvVars(cfg.Backend.BaseURL)
	cfg.Backend.GatewayURL = expandEnvVars(cfg.Backend.GatewayURL)
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = d.Backend.BaseURL
	}
	if cfg.Backend.GatewayURL == "" {
		cfg.Backend.GatewayURL = d.Backend.GatewayURL
	}
	if cfg.Backend.RequestTimeout == 0 {
		cfg.Backend.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Session.PageSize == 0 {
		cfg.Session.PageSize = DefaultPageSize
	}
	if cfg.Session.ConnectTimeout == 0 {
		cfg.Session.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Session.MaxRetries == 0 {
		cfg.Session.MaxRetries = DefaultMaxRetries
	}
	if cfg.Session.WindowHours == 0 {
		cfg.Session.WindowHours = DefaultWindowHours
	}
	if cfg.Session.SendRate == 0 {
		cfg.Session.SendRate = d.Session.SendRate
	}
	if cfg.Session.SendBurst == 0 {
		cfg.Session.SendBurst = d.Session.SendBurst
	}
	if cfg.Session.Representative == "" {
		cfg.Session.Representative = d.Session.Representative
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultGatewayPort
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Gateway.StoreDriver == "" {
		cfg.Gateway.StoreDriver = "sqlite"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Style == "" {
		cfg.Logging.Style = "pretty"
	}
}

// applyEnvOverrides reads DESKLINE_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DESKLINE_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("DESKLINE_GATEWAY_URL"); v != "" {
		cfg.Backend.GatewayURL = v
	}
	if v := os.Getenv("DESKLINE_TOKEN"); v != "" {
		cfg.Backend.Token = v
	}
	if v := os.Getenv("DESKLINE_REPRESENTATIVE"); v != "" {
		cfg.Session.Representative = v
	}
	if v := os.Getenv("DESKLINE_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("DESKLINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
