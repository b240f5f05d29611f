package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// Config represents the main client configuration.
type Config struct {
	App       AppConfig       `toml:"app"`
	Endpoints EndpointsConfig `toml:"endpoints"`
	Session   SessionConfig   `toml:"session"`
	Logging   LoggingConfig   `toml:"logging"`
	Storage   StorageConfig   `toml:"storage"`
}

// AppConfig contains the application credentials issued by the platform.
type AppConfig struct {
	ID         string `toml:"id" envconfig:"APP_ID"`
	AuthKey    string `toml:"auth_key" envconfig:"AUTH_KEY"`
	AuthSecret string `toml:"auth_secret" envconfig:"AUTH_SECRET"`
}

// EndpointsConfig contains the service endpoints.
type EndpointsConfig struct {
	API  string `toml:"api" envconfig:"API_ENDPOINT"`
	Chat string `toml:"chat" envconfig:"CHAT_ENDPOINT"`
	MUC  string `toml:"muc" envconfig:"MUC_ENDPOINT"`
}

// SessionConfig contains session timing settings.
type SessionConfig struct {
	// ConnectTimeoutSec bounds stream establishment, in seconds.
	ConnectTimeoutSec int `toml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`

	// RequestTimeoutSec bounds each REST call, in seconds.
	RequestTimeoutSec int `toml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level   string `toml:"level" envconfig:"LOG_LEVEL"`
	File    string `toml:"file" envconfig:"LOG_FILE"`
	Console bool   `toml:"console" envconfig:"LOG_CONSOLE"`
}

// StorageConfig contains local journal settings.
type StorageConfig struct {
	// DataDir holds the message journal database. Empty disables journaling.
	DataDir string `toml:"data_dir" envconfig:"DATA_DIR"`
}

// Paths holds the XDG-compliant paths for the application.
type Paths struct {
	ConfigDir string
	DataDir   string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Endpoints: EndpointsConfig{
			API:  "https://api.chat.example.com",
			Chat: "chat.example.com",
			MUC:  "muc.chat.example.com",
		},
		Session: SessionConfig{
			ConnectTimeoutSec: 10,
			RequestTimeoutSec: 5,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: false,
		},
	}
}

// GetPaths returns XDG-compliant paths for the application.
func GetPaths() (*Paths, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	configDir = filepath.Join(configDir, "chatkit")

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	dataDir = filepath.Join(dataDir, "chatkit")

	return &Paths{ConfigDir: configDir, DataDir: dataDir}, nil
}

// EnsureDirectories creates the necessary directories.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.ConfigDir, p.DataDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Load reads the config file and applies CHATKIT_* environment overrides.
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, err
	}

	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	configPath := filepath.Join(paths.ConfigDir, "config.toml")

	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process("chatkit", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = paths.DataDir
	} else {
		cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir)
	}
	if cfg.Logging.File != "" {
		cfg.Logging.File = expandPath(cfg.Logging.File)
	}

	return cfg, nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	paths, err := GetPaths()
	if err != nil {
		return err
	}

	configPath := filepath.Join(paths.ConfigDir, "config.toml")
	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
