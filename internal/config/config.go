// Package config handles configuration loading, validation and persistence
// for the bridge.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tailscale/hujson"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultBotURI     = "ws://127.0.0.1:8000"
	DefaultAPIPort    = 5050
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Bridge  BridgeConfig  `json:"bridge"`
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
	MQTT    MQTTConfig    `json:"mqtt"`
	API     APIConfig     `json:"api"`
}

// BridgeConfig holds the bot endpoint and credentials.
type BridgeConfig struct {
	URI   string `json:"uri"`
	Name  string `json:"name"`
	Token string `json:"token"`

	ReconnectInterval int `json:"reconnect_interval_sec"`
	PingInterval      int `json:"ping_interval_sec"`
	ReadTimeout       int `json:"read_timeout_sec"`
	MaxRetries        int `json:"max_retries"`

	// SyncAll is owned by the bot and overwritten on every startup report.
	SyncAll bool `json:"sync_all_messages"`
}

// ServerConfig describes the Minecraft server next to the bridge.
type ServerConfig struct {
	// Command launches the server. Empty means attach to log_file instead.
	Command string   `json:"command"`
	Args    []string `json:"args"`
	WorkDir string   `json:"work_dir"`
	LogFile string   `json:"log_file"`

	PropertiesPath string `json:"properties_path"`
	RconHost       string `json:"rcon_host"`
	RconTimeout    int    `json:"rcon_timeout_sec"`

	ChatCommand string `json:"chat_command"`
	StopTimeout int    `json:"stop_timeout_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	ClientID  string `json:"client_id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Topic     string `json:"topic_prefix"`
}

// APIConfig holds the local REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			URI:               DefaultBotURI,
			Name:              "Server",
			ReconnectInterval: 5,
			PingInterval:      60,
			ReadTimeout:       30,
			MaxRetries:        3,
		},
		Server: ServerConfig{
			WorkDir:        "server",
			LogFile:        "server/logs/latest.log",
			PropertiesPath: "server/server.properties",
			RconHost:       "127.0.0.1",
			RconTimeout:    5,
			ChatCommand:    "!!qq",
			StopTimeout:    30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		MQTT: MQTTConfig{
			Enabled:   false,
			BrokerURL: "localhost",
			Port:      1883,
			Topic:     "mcbridge",
		},
		API: APIConfig{
			Enabled:      false,
			Port:         DefaultAPIPort,
			RateLimitRPS: 10,
		},
	}
}

// Load reads configuration from configDir. A missing file is created with
// defaults. Comments and trailing commas are accepted; the file is written
// back as plain JSON with any new default fields filled in.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(std, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.save()
}

func (c *Config) save() error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// write then rename, readers never see a partial file
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetBridge returns a copy of the bridge configuration.
func (c *Config) GetBridge() BridgeConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Bridge
}

// GetServer returns a copy of the server configuration.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.Server
	s.Args = append([]string(nil), c.Server.Args...)
	return s
}

// SyncAll reports whether the bot relays every chat line itself.
func (c *Config) SyncAll() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Bridge.SyncAll
}

// SetSyncAll stores the synchronized flag and saves the file immediately.
func (c *Config) SetSyncAll(flag bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bridge.SyncAll = flag
	return c.save()
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// ReconnectDuration returns the listener's wait between attempts.
func (b BridgeConfig) ReconnectDuration() time.Duration {
	return time.Duration(b.ReconnectInterval) * time.Second
}

// PingDuration returns the sender's keepalive period.
func (b BridgeConfig) PingDuration() time.Duration {
	return time.Duration(b.PingInterval) * time.Second
}

// ReadTimeoutDuration bounds a sender's wait for a reply.
func (b BridgeConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(b.ReadTimeout) * time.Second
}

// IsFirstRun returns true if the bridge has never been given a token.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Bridge.Token == ""
}
