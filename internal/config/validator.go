package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateBridge(&cfg.Bridge, result)
	validateServer(&cfg.Server, result)
	validateOptional(cfg, result)

	return result
}

func validateBridge(b *BridgeConfig, result *ValidationResult) {
	if strings.TrimSpace(b.URI) == "" {
		result.AddError("bridge.uri", "bot URI is required")
	} else if u, err := url.Parse(b.URI); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		result.AddError("bridge.uri", fmt.Sprintf("must be a ws:// or wss:// URL, got %q", b.URI))
	}

	if strings.TrimSpace(b.Name) == "" {
		result.AddError("bridge.name", "server display name is required")
	}
	if strings.TrimSpace(b.Token) == "" {
		result.AddWarning("bridge.token", "token is empty, the bot will likely reject the handshake")
	}

	if b.ReconnectInterval < 1 {
		result.AddError("bridge.reconnect_interval_sec", "must be at least 1 second")
	}
	if b.PingInterval < 1 {
		result.AddError("bridge.ping_interval_sec", "must be at least 1 second")
	} else if b.PingInterval < 10 {
		result.AddWarning("bridge.ping_interval_sec",
			"keepalive interval less than 10s may cause excessive traffic")
	}
	if b.ReadTimeout < 0 {
		result.AddError("bridge.read_timeout_sec", "must not be negative")
	} else if b.ReadTimeout == 0 {
		result.AddWarning("bridge.read_timeout_sec",
			"no read timeout, a silent bot will block notifications indefinitely")
	}
	if b.MaxRetries < 1 {
		result.AddError("bridge.max_retries", "must allow at least 1 attempt")
	}
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	if s.Command == "" && s.LogFile == "" {
		result.AddWarning("server.command", "neither command nor log_file set, no game events will be relayed")
	}

	if s.Command == "" && s.LogFile != "" {
		if _, err := os.Stat(s.LogFile); os.IsNotExist(err) {
			result.AddWarning("server.log_file", fmt.Sprintf("file does not exist yet: %s", s.LogFile))
		}
	}

	if s.WorkDir != "" {
		if _, err := os.Stat(s.WorkDir); os.IsNotExist(err) {
			result.AddWarning("server.work_dir", fmt.Sprintf("directory does not exist: %s", s.WorkDir))
		}
	}

	if strings.TrimSpace(s.PropertiesPath) == "" {
		result.AddError("server.properties_path", "server.properties path is required")
	}
	if s.RconHost != "" && net.ParseIP(s.RconHost) == nil && !validHostname(s.RconHost) {
		result.AddError("server.rcon_host", fmt.Sprintf("invalid host: %s", s.RconHost))
	}
	if s.RconTimeout < 1 {
		result.AddError("server.rcon_timeout_sec", "must be at least 1 second")
	}

	if strings.TrimSpace(s.ChatCommand) == "" || strings.ContainsAny(s.ChatCommand, " \t") {
		result.AddError("server.chat_command", "must be a single non-empty word")
	}
	if s.StopTimeout < 1 {
		result.AddWarning("server.stop_timeout_sec", "server will be killed without waiting for a clean stop")
	}
}

func validateOptional(cfg *Config, result *ValidationResult) {
	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		validatePort(cfg.MQTT.Port, "mqtt.port", result)
	}

	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if strings.TrimSpace(cfg.Bridge.Token) == "" {
			result.AddWarning("api.enabled", "API is protected by bridge.token, which is empty")
		}
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

func validHostname(host string) bool {
	if len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		for _, r := range label {
			if !(r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
				return false
			}
		}
	}
	return true
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
