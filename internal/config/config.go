package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Backend   BackendConfig   `yaml:"backend"`
	Database  DatabaseConfig  `yaml:"database"`
	Sync      SyncConfig      `yaml:"sync"`
	Cache     CacheConfig     `yaml:"cache"`
	PokeAPI   PokeAPIConfig   `yaml:"pokeapi"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Retention RetentionConfig `yaml:"retention"`
	Backup    BackupConfig    `yaml:"backup"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains settings for the served pull surface.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// ClientConfig identifies this client to the backend puller.
type ClientConfig struct {
	UserID    string `yaml:"user_id"`
	ClientURL string `yaml:"client_url"`
	APIKey    string `yaml:"-"` // env-only, never in YAML
}

// BackendConfig contains settings for the pull-sync control surface.
type BackendConfig struct {
	BaseURL        string   `yaml:"base_url"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// DatabaseConfig contains local database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig selects the active replication mechanisms.
type SyncConfig struct {
	PushEnabled bool `yaml:"push_enabled"`
	PullEnabled bool `yaml:"pull_enabled"`
	StrictMode  bool `yaml:"strict_mode"`
}

// CacheConfig bounds the TTL cache.
type CacheConfig struct {
	MaxSize       int      `yaml:"max_size"`
	SweepInterval Duration `yaml:"sweep_interval"`
	EntryTTL      Duration `yaml:"entry_ttl"`
	FlavorTTL     Duration `yaml:"flavor_ttl"`
}

// PokeAPIConfig points at the upstream Pokémon data API.
type PokeAPIConfig struct {
	BaseURL        string   `yaml:"base_url"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// MonitorConfig tunes connectivity probing and health evaluation.
type MonitorConfig struct {
	ProbeInterval Duration `yaml:"probe_interval"`
	ProbeTimeout  Duration `yaml:"probe_timeout"`
	HealthTick    Duration `yaml:"health_tick"`
}

// RetentionConfig controls capture-log cleanup.
type RetentionConfig struct {
	Days     int      `yaml:"days"`
	MinKeep  int      `yaml:"min_keep"`
	Interval Duration `yaml:"interval"`
	Dir      string   `yaml:"dir"`
}

// BackupConfig contains S3-compatible storage settings for retention backups.
// Access credentials are env-only.
type BackupConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	SecretKey string `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool  `yaml:"use_ssl"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("DEXSYNC_CONFIG_PATH", "config/dexsync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Client: ClientConfig{
			UserID:    "local",
			ClientURL: "http://localhost:8090",
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8000",
			RequestTimeout: Duration(30 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/dexsync.db",
		},
		Sync: SyncConfig{
			PushEnabled: false,
			PullEnabled: true,
			StrictMode:  true,
		},
		Cache: CacheConfig{
			MaxSize:       100,
			SweepInterval: Duration(2 * time.Minute),
			EntryTTL:      Duration(10 * time.Minute),
			FlavorTTL:     Duration(1 * time.Hour),
		},
		PokeAPI: PokeAPIConfig{
			BaseURL:        "https://pokeapi.co/api/v2",
			RequestTimeout: Duration(10 * time.Second),
		},
		Monitor: MonitorConfig{
			ProbeInterval: Duration(30 * time.Second),
			ProbeTimeout:  Duration(3 * time.Second),
			HealthTick:    Duration(30 * time.Second),
		},
		Retention: RetentionConfig{
			Days:     30,
			MinKeep:  10,
			Interval: Duration(24 * time.Hour),
			Dir:      "data/backups",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("DEXSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	overrideDuration("DEXSYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	overrideDuration("DEXSYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	overrideDuration("DEXSYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Client identity
	if v := os.Getenv("DEXSYNC_USER_ID"); v != "" {
		cfg.Client.UserID = v
	}
	if v := os.Getenv("DEXSYNC_CLIENT_URL"); v != "" {
		cfg.Client.ClientURL = v
	}
	if v := os.Getenv("DEXSYNC_API_KEY"); v != "" {
		cfg.Client.APIKey = v
	}

	// Backend
	if v := os.Getenv("DEXSYNC_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	overrideDuration("DEXSYNC_BACKEND_TIMEOUT", &cfg.Backend.RequestTimeout)

	// Database
	if v := os.Getenv("DEXSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Sync modes
	overrideBool("DEXSYNC_PUSH_ENABLED", &cfg.Sync.PushEnabled)
	overrideBool("DEXSYNC_PULL_ENABLED", &cfg.Sync.PullEnabled)
	overrideBool("DEXSYNC_STRICT_MODE", &cfg.Sync.StrictMode)

	// Cache
	if v := os.Getenv("DEXSYNC_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxSize = n
		}
	}
	overrideDuration("DEXSYNC_CACHE_SWEEP_INTERVAL", &cfg.Cache.SweepInterval)
	overrideDuration("DEXSYNC_CACHE_ENTRY_TTL", &cfg.Cache.EntryTTL)
	overrideDuration("DEXSYNC_CACHE_FLAVOR_TTL", &cfg.Cache.FlavorTTL)

	// PokeAPI
	if v := os.Getenv("DEXSYNC_POKEAPI_URL"); v != "" {
		cfg.PokeAPI.BaseURL = v
	}

	// Monitor
	overrideDuration("DEXSYNC_PROBE_INTERVAL", &cfg.Monitor.ProbeInterval)
	overrideDuration("DEXSYNC_PROBE_TIMEOUT", &cfg.Monitor.ProbeTimeout)
	overrideDuration("DEXSYNC_HEALTH_TICK", &cfg.Monitor.HealthTick)

	// Retention
	if v := os.Getenv("DEXSYNC_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.Days = n
		}
	}
	if v := os.Getenv("DEXSYNC_RETENTION_MIN_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.MinKeep = n
		}
	}
	overrideDuration("DEXSYNC_RETENTION_INTERVAL", &cfg.Retention.Interval)

	// Backup (credentials are env-only)
	if v := os.Getenv("DEXSYNC_BACKUP_ENDPOINT"); v != "" {
		cfg.Backup.Endpoint = v
	}
	if v := os.Getenv("DEXSYNC_BACKUP_BUCKET"); v != "" {
		cfg.Backup.Bucket = v
	}
	if v := os.Getenv("DEXSYNC_BACKUP_REGION"); v != "" {
		cfg.Backup.Region = v
	}
	if v := os.Getenv("DEXSYNC_BACKUP_ACCESS_KEY"); v != "" {
		cfg.Backup.AccessKey = v
	}
	if v := os.Getenv("DEXSYNC_BACKUP_SECRET_KEY"); v != "" {
		cfg.Backup.SecretKey = v
	}

	// Log
	if v := os.Getenv("DEXSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DEXSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func overrideDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func overrideBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

// validate checks that required configuration values are sane.
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Client.UserID == "" {
		return errors.New("client user_id is required")
	}
	if c.Cache.MaxSize < 1 {
		return fmt.Errorf("cache max_size must be >= 1, got %d", c.Cache.MaxSize)
	}
	if c.Retention.MinKeep < 0 {
		return fmt.Errorf("retention min_keep must be >= 0, got %d", c.Retention.MinKeep)
	}
	if c.Backup.Bucket != "" && c.Backup.Endpoint == "" {
		return errors.New("backup endpoint is required when a bucket is set")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
