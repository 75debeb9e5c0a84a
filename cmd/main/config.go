package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/natefinch/atomic"
)

// ServerConfig holds the configuration for the HTTP server and its storage.
type ServerConfig struct {
	ApiAddr       string `json:"api_addr"`
	LogLevel      string `json:"log_level"`
	DatabasePath  string `json:"database_path"`
	CacheSize     int    `json:"cache_size"`
	EnableControl bool   `json:"enable_control"`
	MaxBodyBytes  int64  `json:"max_body_bytes"`
}

// GenerationConfig holds the defaults and limits applied to generation requests.
type GenerationConfig struct {
	MinLength   int     `json:"min_length"`
	MaxLength   int     `json:"max_length"`
	MaxCount    int     `json:"max_count"`
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k"`
	SteadyTop   int     `json:"steady_top"`
	LengthLimit int     `json:"length_limit"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server     *ServerConfig     `json:"server_config"`
	Generation *GenerationConfig `json:"generation_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ApiAddr:       ":7278",
		LogLevel:      "info",
		DatabasePath:  "./data/markovian.db",
		CacheSize:     16,
		EnableControl: false,
		MaxBodyBytes:  32 << 20,
	}
}

// DefaultGenerationConfig creates a generation configuration with default values.
func DefaultGenerationConfig() *GenerationConfig {
	return &GenerationConfig{
		MinLength:   5,
		MaxLength:   20,
		MaxCount:    100,
		Temperature: 1.0,
		TopK:        0,
		SteadyTop:   20,
		LengthLimit: 1000,
	}
}

// DefaultConfig returns a complete configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Generation: DefaultGenerationConfig(),
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.Server.CacheSize <= 0 {
		return fmt.Errorf("cache_size must be positive, got %d", c.Server.CacheSize)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}
	g := c.Generation
	if g.MinLength < 0 || g.MinLength > g.MaxLength {
		return fmt.Errorf("invalid default length range %d..%d", g.MinLength, g.MaxLength)
	}
	if g.MaxLength > g.LengthLimit {
		return fmt.Errorf("max_length %d exceeds length_limit %d", g.MaxLength, g.LengthLimit)
	}
	if g.MaxCount <= 0 {
		return fmt.Errorf("max_count must be positive, got %d", g.MaxCount)
	}
	if g.TopK < 0 || g.SteadyTop < 0 {
		return fmt.Errorf("top_k and steady_top must not be negative")
	}
	return nil
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	// Initialize with default configurations
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		// If the file doesn't exist, create it with the default config.
		if os.IsNotExist(err) {
			if err = writeConfig(path, config); err != nil {
				// Log a warning instead of failing, as we can still run with defaults.
				fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		// For other errors (e.g., permission denied), return the error.
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal the JSON from the file into the config struct.
	if err = json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Sections missing from the file keep their defaults.
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Generation == nil {
		config.Generation = DefaultGenerationConfig()
	}
	if err = config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return config, nil
}

func writeConfig(path string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// ConfigManager handles thread-safe access to the configuration of a running server.
type ConfigManager struct {
	config     *Config
	mu         sync.RWMutex
	configPath string
	logger     *slog.Logger
}

// NewConfigManager wraps an already loaded config.
func NewConfigManager(path string, config *Config, logger *slog.Logger) *ConfigManager {
	return &ConfigManager{
		config:     config,
		configPath: path,
		logger:     logger,
	}
}

// Get returns a thread-safe copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	server := *cm.config.Server
	generation := *cm.config.Generation
	return Config{Server: &server, Generation: &generation}
}

// Generation returns a copy of the current generation settings.
func (cm *ConfigManager) Generation() GenerationConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config.Generation
}

// Update validates the new configuration, saves it to disk and swaps it in.
// Server settings only take effect after a restart.
func (cm *ConfigManager) Update(newConfig Config) error {
	if newConfig.Server == nil || newConfig.Generation == nil {
		return fmt.Errorf("both server_config and generation_config are required")
	}
	if err := newConfig.Validate(); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := writeConfig(cm.configPath, &newConfig); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	*cm.config = newConfig

	cm.logger.Info("Configuration updated", "path", cm.configPath)
	return nil
}
