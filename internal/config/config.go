// Package config loads budgetsync settings.
//
// Precedence, lowest first: built-in defaults, the TOML config file
// ($BUDGETSYNC_CONFIG or ~/.config/budgetsync/config.toml), a .env file in
// the working directory, then BUDGETSYNC_* environment variables
// (BUDGETSYNC_SYNC_URL overrides sync.url).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "BUDGETSYNC"

// Config holds application configuration.
type Config struct {
	Data      DataConfig      `mapstructure:"data" toml:"data"`
	Sync      SyncConfig      `mapstructure:"sync" toml:"sync"`
	Undo      UndoConfig      `mapstructure:"undo" toml:"undo"`
	Dashboard DashboardConfig `mapstructure:"dashboard" toml:"dashboard"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
	Kafka     KafkaConfig     `mapstructure:"kafka" toml:"kafka"`
	Remote    RemoteConfig    `mapstructure:"remote" toml:"remote"`
	Display   DisplayConfig   `mapstructure:"display" toml:"display"`
}

// DataConfig locates local files. Relative DB and State paths are resolved
// against Dir.
type DataConfig struct {
	Dir   string `mapstructure:"dir" toml:"dir"`
	DB    string `mapstructure:"db" toml:"db"`
	State string `mapstructure:"state" toml:"state"`
}

// SyncConfig configures the sync client and the daemon schedule.
type SyncConfig struct {
	URL      string        `mapstructure:"url" toml:"url"`
	Interval time.Duration `mapstructure:"interval" toml:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" toml:"timeout"`
	Debounce time.Duration `mapstructure:"debounce" toml:"debounce"`
}

// UndoConfig configures swipe-to-delete.
type UndoConfig struct {
	Window time.Duration `mapstructure:"window" toml:"window"`
}

// DashboardConfig configures the local HTTP dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port" toml:"port"`
}

// LogConfig configures log output. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file" toml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days"`
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" toml:"brokers"`
	Topic   string   `mapstructure:"topic" toml:"topic"`
}

// RemoteConfig configures the reference sync server.
type RemoteConfig struct {
	Port        int    `mapstructure:"port" toml:"port"`
	PostgresDSN string `mapstructure:"postgres_dsn" toml:"postgres_dsn"`
}

// DisplayConfig holds presentation settings.
type DisplayConfig struct {
	Currency string `mapstructure:"currency" toml:"currency"`
}

// DBPath returns the ledger database path.
func (c Config) DBPath() string {
	return c.resolve(c.Data.DB)
}

// StatePath returns the cursor state file path.
func (c Config) StatePath() string {
	return c.resolve(c.Data.State)
}

func (c Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Data.Dir, p)
}

// Path returns the config file location.
func Path() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(homeDir(), ".config", "budgetsync", "config.toml")
}

// DefaultDataDir is where the ledger lives unless data.dir says otherwise.
func DefaultDataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "budgetsync")
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return os.Getenv("HOME")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.dir", DefaultDataDir())
	v.SetDefault("data.db", "ledger.db")
	v.SetDefault("data.state", "state.yaml")
	v.SetDefault("sync.url", "")
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.timeout", 30*time.Second)
	v.SetDefault("sync.debounce", 3*time.Second)
	v.SetDefault("undo.window", 4*time.Second)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "budgetsync.ledger")
	v.SetDefault("remote.port", 8090)
	v.SetDefault("remote.postgres_dsn", "")
	v.SetDefault("display.currency", "EUR")
}

// Load reads .env from the working directory, then the config file at
// Path(), then environment overrides.
func Load() (Config, error) {
	// A missing .env is normal; existing env vars are never overwritten
	_ = godotenv.Load()
	return LoadFrom(Path())
}

// LoadFrom reads configuration from path and the environment. A missing
// file is not an error.
func LoadFrom(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	v.SetConfigFile(path)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return c, nil
}

// WriteDefault writes a starter config file to path. It refuses to replace
// an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	doc := map[string]any{
		"data": map[string]any{
			"dir":   DefaultDataDir(),
			"db":    "ledger.db",
			"state": "state.yaml",
		},
		"sync": map[string]any{
			"url":      "http://localhost:8090/sync",
			"interval": "5m",
			"timeout":  "30s",
			"debounce": "3s",
		},
		"undo":      map[string]any{"window": "4s"},
		"dashboard": map[string]any{"port": 8080},
		"log": map[string]any{
			"file":         "",
			"max_size_mb":  10,
			"max_backups":  3,
			"max_age_days": 28,
		},
		"kafka":   map[string]any{"brokers": []string{}, "topic": "budgetsync.ledger"},
		"remote":  map[string]any{"port": 8090, "postgres_dsn": ""},
		"display": map[string]any{"currency": "EUR"},
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(doc); err != nil {
		f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return f.Close()
}
