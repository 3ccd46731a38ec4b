package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DaDevFox/task-systems/pantry-core/internal/docstore"
)

const (
	defaultDBPath          = "./data/pantry"
	defaultHTTPPort        = "8080"
	defaultGRPCPort        = "50053"
	defaultRefreshInterval = 30 * time.Second

	configDirName  = ".pantry"
	configFileName = "config.json"
)

// Config holds everything needed to open the store and run the pantry.
type Config struct {
	Store         string `json:"store"`
	DBPath        string `json:"db_path"`
	Collection    string `json:"collection"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	PostgresDSN   string `json:"postgres_dsn,omitempty"`
	AtomicAdjust  bool   `json:"atomic_adjust"`

	HTTPPort        string        `json:"-"`
	GRPCPort        string        `json:"-"`
	RefreshInterval time.Duration `json:"-"`
	LogFormat       string        `json:"-"`
	Debug           bool          `json:"-"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Store:           string(docstore.TypeBolt),
		DBPath:          defaultDBPath,
		Collection:      docstore.DefaultCollection,
		HTTPPort:        defaultHTTPPort,
		GRPCPort:        defaultGRPCPort,
		RefreshInterval: defaultRefreshInterval,
	}
}

// FromEnv returns the defaults overridden by PANTRY_* environment variables.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields with any PANTRY_* variables that are set.
func (c *Config) ApplyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("PANTRY_STORE", &c.Store)
	setString("PANTRY_DB_PATH", &c.DBPath)
	setString("PANTRY_COLLECTION", &c.Collection)
	setString("PANTRY_REDIS_ADDR", &c.RedisAddr)
	setString("PANTRY_REDIS_PASSWORD", &c.RedisPassword)
	setString("PANTRY_POSTGRES_DSN", &c.PostgresDSN)
	setString("PANTRY_HTTP_PORT", &c.HTTPPort)
	setString("PANTRY_GRPC_PORT", &c.GRPCPort)
	setString("PANTRY_LOG_FORMAT", &c.LogFormat)

	if v := os.Getenv("PANTRY_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PANTRY_REDIS_DB %q: %w", v, err)
		}
		c.RedisDB = db
	}

	if v := os.Getenv("PANTRY_REFRESH_INTERVAL"); v != "" {
		interval, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("invalid PANTRY_REFRESH_INTERVAL %q: %w", v, err)
		}
		c.RefreshInterval = interval
	}

	if v := os.Getenv("PANTRY_ATOMIC_ADJUST"); v != "" {
		atomic, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PANTRY_ATOMIC_ADJUST %q: %w", v, err)
		}
		c.AtomicAdjust = atomic
	}

	c.Debug = os.Getenv("DEBUG") == "true"

	if _, err := docstore.ParseType(c.Store); err != nil {
		return err
	}
	return nil
}

// parseInterval accepts a Go duration or a bare number of seconds; "0" disables.
func parseInterval(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// StoreOptions converts the configuration into docstore options.
func (c *Config) StoreOptions(logger *logrus.Logger) (docstore.Options, error) {
	storeType, err := docstore.ParseType(c.Store)
	if err != nil {
		return docstore.Options{}, err
	}
	return docstore.Options{
		Type:          storeType,
		Collection:    c.Collection,
		Path:          c.DBPath,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		PostgresDSN:   c.PostgresDSN,
		Logger:        logger,
	}, nil
}

// NewLogger builds the process logger from LogFormat and Debug.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	logger.SetLevel(logrus.InfoLevel)
	if c.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// Path returns the location of the CLI config file, creating its directory.
func Path() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, configDirName)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return filepath.Join(configDir, configFileName), nil
}

// LoadConfig loads the CLI configuration file and then applies the environment.
// A missing file yields the defaults.
func LoadConfig() (*Config, error) {
	configPath, err := Path()
	if err != nil {
		return DefaultConfig(), err
	}
	return LoadFile(configPath)
}

// LoadFile is LoadConfig for an explicit path.
func LoadFile(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the file system
func (c *Config) SaveConfig() error {
	configPath, err := Path()
	if err != nil {
		return err
	}
	return c.SaveFile(configPath)
}

// SaveFile writes the file-backed fields as indented JSON.
func (c *Config) SaveFile(configPath string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
