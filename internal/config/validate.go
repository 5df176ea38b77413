package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Backend validation
	issues = append(issues, validateURL("backend.baseUrl", cfg.Backend.BaseURL, "http", "https")...)
	issues = append(issues, validateURL("backend.gatewayUrl", cfg.Backend.GatewayURL, "ws", "wss")...)

	if cfg.Backend.RequestTimeout < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "backend.requestTimeout",
			Message: fmt.Sprintf("must be >= 0, got %d", cfg.Backend.RequestTimeout),
		})
	}
	if cfg.Backend.Retries < 0 || cfg.Backend.Retries > 10 {
		issues = append(issues, ValidationIssue{
			Path:    "backend.retries",
			Message: fmt.Sprintf("must be 0-10, got %d", cfg.Backend.Retries),
		})
	}

	// Session validation
	if cfg.Session.PageSize < 0 || cfg.Session.PageSize > 200 {
		issues = append(issues, ValidationIssue{
			Path:    "session.pageSize",
			Message: fmt.Sprintf("must be 1-200, got %d", cfg.Session.PageSize),
		})
	}
	if cfg.Session.ConnectTimeout < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "session.connectTimeout",
			Message: fmt.Sprintf("must be >= 0, got %d", cfg.Session.ConnectTimeout),
		})
	}
	if cfg.Session.MaxRetries < 0 || cfg.Session.MaxRetries > 16 {
		issues = append(issues, ValidationIssue{
			Path:    "session.maxRetries",
			Message: fmt.Sprintf("must be 0-16, got %d", cfg.Session.MaxRetries),
		})
	}
	if cfg.Session.WindowHours < 0 || cfg.Session.WindowHours > 24 {
		issues = append(issues, ValidationIssue{
			Path:    "session.windowHours",
			Message: fmt.Sprintf("must be 1-24, got %d", cfg.Session.WindowHours),
		})
	}
	if cfg.Session.SendRate < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "session.sendRate",
			Message: fmt.Sprintf("must be >= 0, got %g", cfg.Session.SendRate),
		})
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}

	validDrivers := []string{"sqlite", "memory"}
	if cfg.Gateway.StoreDriver != "" && !slices.Contains(validDrivers, cfg.Gateway.StoreDriver) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.storeDriver",
			Message: fmt.Sprintf("must be one of %v, got %q", validDrivers, cfg.Gateway.StoreDriver),
		})
	}

	if cfg.Gateway.PublicURL != "" {
		issues = append(issues, validateURL("gateway.publicUrl", cfg.Gateway.PublicURL, "http", "https")...)
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.Style != "" && !slices.Contains(validStyles, cfg.Logging.Style) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.style",
			Message: fmt.Sprintf("must be one of %v, got %q", validStyles, cfg.Logging.Style),
		})
	}

	return issues
}

func validateURL(path, raw string, schemes ...string) []ValidationIssue {
	if raw == "" {
		return []ValidationIssue{{Path: path, Message: "is required"}}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return []ValidationIssue{{Path: path, Message: "invalid URL: " + err.Error()}}
	}
	if !slices.Contains(schemes, u.Scheme) {
		return []ValidationIssue{{Path: path, Message: fmt.Sprintf("scheme must be one of %v, got %q", schemes, u.Scheme)}}
	}
	if u.Host == "" {
		return []ValidationIssue{{Path: path, Message: "host is required"}}
	}
	return nil
}
