package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds tool-wide configuration settings.
type Config struct {
	Console    ConsoleConfig    `yaml:"console"`
	Connection ConnectionConfig `yaml:"connection"`
}

// ConsoleConfig holds terminal console settings.
type ConsoleConfig struct {
	// Prompt is printed before the input line in interactive mode.
	Prompt string `yaml:"prompt"`

	// Colors enables ANSI colors on console output. They are suppressed
	// automatically when stdout is not a terminal.
	Colors bool `yaml:"colors"`

	// HistoryFile persists interactive input history between runs.
	// Empty disables history.
	HistoryFile string `yaml:"history_file"`
}

// ConnectionConfig holds websocket connection defaults. Command-line flags
// take precedence over these.
type ConnectionConfig struct {
	// Origin is sent as the Origin header on outgoing connections.
	Origin string `yaml:"origin"`

	// Subprotocol is offered during the opening handshake.
	Subprotocol string `yaml:"subprotocol"`

	// NoCheck disables TLS certificate verification for wss:// targets.
	NoCheck bool `yaml:"no_check"`

	// HandshakeTimeoutSeconds bounds the opening handshake. 0 uses the
	// built-in default.
	HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds"`
}

// DefaultConfig returns a Config with the stock wscat behavior.
func DefaultConfig() *Config {
	return &Config{
		Console: ConsoleConfig{
			Prompt:      "> ",
			Colors:      true,
			HistoryFile: "", // No history by default
		},
		Connection: ConnectionConfig{
			HandshakeTimeoutSeconds: 45,
		},
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wscat.yaml"
	}
	return filepath.Join(home, ".wscat.yaml")
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, returns default config.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Use defaults if file doesn't exist
		}
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return DefaultConfig(), err
	}

	return config, nil
}
