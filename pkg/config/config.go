package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/ringsync/internal/connection"
	"github.com/srg/ringsync/internal/discovery"
	"github.com/srg/ringsync/internal/publish"
	"github.com/srg/ringsync/internal/sample"
	"github.com/srg/ringsync/internal/store"
	"github.com/srg/ringsync/internal/syncer"
	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config holds application configuration
type Config struct {
	LogLevel   string           `yaml:"log_level" default:"info"`
	Codec      string           `yaml:"codec" default:"ezring"`
	Scan       ScanConfig       `yaml:"scan"`
	Connection ConnectionConfig `yaml:"connection"`
	Store      StoreConfig      `yaml:"store"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
}

// ScanConfig controls discovery
type ScanConfig struct {
	Timeout  time.Duration `yaml:"timeout" default:"10s"`
	AutoSync bool          `yaml:"auto_sync" default:"true"`
	// NameTokens falls back to the built-in brand tokens when empty
	NameTokens []string `yaml:"name_tokens"`
	AllowList  []string `yaml:"allow_list"`
	BlockList  []string `yaml:"block_list"`
	MinRSSI    int      `yaml:"min_rssi"`
}

// ConnectionConfig controls the connect and handshake phase
type ConnectionConfig struct {
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"15s"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" default:"30s"`
	Services         []string      `yaml:"services"`
	Characteristics  []string      `yaml:"characteristics"`
}

// StoreConfig selects the sample store
type StoreConfig struct {
	Driver string `yaml:"driver" default:"sqlite"`
	// Path of the SQLite database; empty uses DefaultStorePath
	Path string `yaml:"path"`
}

// MQTTConfig enables publishing synced samples to a broker
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker" default:"tcp://localhost:1883"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix" default:"ringsync"`
	QoS            int           `yaml:"qos" default:"1"`
	Retained       bool          `yaml:"retained"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultConfigPath returns ~/.config/ringsync/config.yaml
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ringsync", "config.yaml")
}

// DefaultStorePath returns ~/.local/share/ringsync/samples.db
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "samples.db"
	}
	return filepath.Join(home, ".local", "share", "ringsync", "samples.db")
}

// Load reads a YAML config file over the defaults.
// Fields missing from the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Store.Path = expandTilde(cfg.Store.Path)
	return cfg, nil
}

// LoadOrDefault loads path when it exists and returns defaults otherwise.
// An explicitly requested file that is missing is still an error.
func LoadOrDefault(path string, explicit bool) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(path); err != nil && os.IsNotExist(err) && !explicit {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// Validate checks the config for invalid values
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := sample.New(c.Codec, nil); err != nil {
		return fmt.Errorf("codec: %w", err)
	}
	if c.Scan.Timeout < 0 {
		return fmt.Errorf("scan.timeout must not be negative, got %s", c.Scan.Timeout)
	}
	if c.Scan.MinRSSI > 0 {
		return fmt.Errorf("scan.min_rssi must be <= 0, got %d", c.Scan.MinRSSI)
	}
	if c.Connection.ConnectTimeout < 0 || c.Connection.HandshakeTimeout < 0 {
		return fmt.Errorf("connection timeouts must not be negative")
	}

	switch c.Store.Driver {
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", DriverSQLite, DriverMemory, c.Store.Driver)
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker must not be empty when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// DiscoveryOptions converts the scan section
func (c *Config) DiscoveryOptions() discovery.Options {
	opts := discovery.Options{
		Timeout:    c.Scan.Timeout,
		AutoSync:   c.Scan.AutoSync,
		NameTokens: c.Scan.NameTokens,
		AllowList:  c.Scan.AllowList,
		BlockList:  c.Scan.BlockList,
		MinRSSI:    c.Scan.MinRSSI,
	}
	if len(opts.NameTokens) == 0 {
		opts.NameTokens = discovery.DefaultNameTokens
	}
	return opts
}

// SyncOptions converts the config into engine options. The publisher is left
// unset; see NewPublisher.
func (c *Config) SyncOptions() syncer.Options {
	opts := syncer.DefaultOptions()
	opts.Discovery = c.DiscoveryOptions()
	opts.Connection = connection.Options{
		ServiceFilter:        c.Connection.Services,
		CharacteristicFilter: c.Connection.Characteristics,
	}
	opts.HandshakeTimeout = c.Connection.HandshakeTimeout
	return opts
}

// NewCodec returns the configured payload codec
func (c *Config) NewCodec() (sample.Codec, error) {
	return sample.New(c.Codec, nil)
}

// OpenStore opens the configured sample store
func (c *Config) OpenStore(ctx context.Context, logger *logrus.Logger) (store.Store, error) {
	switch c.Store.Driver {
	case DriverMemory:
		return store.NewMemoryStore(), nil
	case DriverSQLite, "":
		path := c.Store.Path
		if path == "" {
			path = DefaultStorePath()
		}
		st, err := store.Open(ctx, path, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
}

// NewPublisher returns the MQTT publisher, or nil when publishing is disabled
func (c *Config) NewPublisher(logger *logrus.Logger) *publish.MQTTPublisher {
	if !c.MQTT.Enabled {
		return nil
	}
	return publish.NewMQTTPublisher(publish.Options{
		Broker:         c.MQTT.Broker,
		ClientID:       c.MQTT.ClientID,
		Username:       c.MQTT.Username,
		Password:       c.MQTT.Password,
		TopicPrefix:    c.MQTT.TopicPrefix,
		QoS:            byte(c.MQTT.QoS),
		Retained:       c.MQTT.Retained,
		ConnectTimeout: c.MQTT.ConnectTimeout,
	}, logger)
}

// expandTilde replaces a leading ~ with the user's home directory
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
