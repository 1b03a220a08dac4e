package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and safe for concurrent reads.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Cache   CacheConfig   `yaml:"cache"`
	Remote  RemoteConfig  `yaml:"remote"`
	Sync    SyncConfig    `yaml:"sync"`
	Gateway GatewayConfig `yaml:"gateway"`
	Backup  BackupConfig  `yaml:"backup"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig contains settings of the reference remote server.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	AuthToken       string   `yaml:"-"` // env-only
}

// CacheConfig locates the local cache database.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig describes how the engine reaches the remote store.
type RemoteConfig struct {
	URL          string   `yaml:"url"`
	AuthToken    string   `yaml:"-"` // env-only
	DialTimeout  Duration `yaml:"dial_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	MaxInFlight        int      `yaml:"max_in_flight"`
	MaxAttempts        int      `yaml:"max_attempts"`
	InitialBackoff     Duration `yaml:"initial_backoff"`
	MaxBackoff         Duration `yaml:"max_backoff"`
	ResubscribeBackoff Duration `yaml:"resubscribe_backoff"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	RetrySweepInterval Duration `yaml:"retry_sweep_interval"`
	RetryFailed        bool     `yaml:"retry_failed"`
	FlushOnClose       bool     `yaml:"flush_on_close"`
}

// GatewayConfig configures the auxiliary REST client.
type GatewayConfig struct {
	BaseURL    string   `yaml:"base_url"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
	RateLimit  float64  `yaml:"rate_limit"`
}

// BackupConfig configures cache backups. Uploading to S3-compatible storage
// is enabled by setting Bucket; otherwise backups stay local.
type BackupConfig struct {
	Dir       string   `yaml:"dir"`
	Interval  Duration `yaml:"interval"` // 0 disables periodic backups
	ClientID  string   `yaml:"client_id"`
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	UseSSL    *bool    `yaml:"use_ssl"`
	AccessKey string   `yaml:"-"` // env-only
	SecretKey string   `yaml:"-"` // env-only
	URLExpiry Duration `yaml:"url_expiry"`
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
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("STUDIOSYNC_CONFIG_PATH", "config/studiosync.yaml")
	if err := loadYAMLFile(cfg, configPath, false); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()
	if err := loadYAMLFile(cfg, path, true); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Cache: CacheConfig{
			Path: "data/studiosync.db",
		},
		Remote: RemoteConfig{
			URL:          "ws://localhost:8080/ws",
			DialTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(10 * time.Second),
		},
		Sync: SyncConfig{
			MaxInFlight:        8,
			MaxAttempts:        8,
			InitialBackoff:     Duration(500 * time.Millisecond),
			MaxBackoff:         Duration(30 * time.Second),
			ResubscribeBackoff: Duration(2 * time.Second),
			WriteTimeout:       Duration(15 * time.Second),
			RetrySweepInterval: Duration(1 * time.Minute),
			FlushOnClose:       true,
		},
		Gateway: GatewayConfig{
			BaseURL:    "http://localhost:8080",
			Timeout:    Duration(30 * time.Second),
			MaxRetries: 3,
		},
		Backup: BackupConfig{
			Dir:       "data/backups",
			ClientID:  "studio-admin",
			URLExpiry: Duration(15 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func loadYAMLFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return errors.Wrap(err, "reading config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(err, "parsing config file")
	}
	return nil
}

// envOverrides lists every variable that can override the file. Values are
// kept as strings so that an unset variable never clobbers a file value.
type envOverrides struct {
	Port            string `env:"STUDIOSYNC_PORT"`
	ReadTimeout     string `env:"STUDIOSYNC_READ_TIMEOUT"`
	WriteTimeout    string `env:"STUDIOSYNC_WRITE_TIMEOUT"`
	ShutdownTimeout string `env:"STUDIOSYNC_SHUTDOWN_TIMEOUT"`
	ServerToken     string `env:"STUDIOSYNC_SERVER_TOKEN"`

	CachePath string `env:"STUDIOSYNC_CACHE_PATH"`

	RemoteURL   string `env:"STUDIOSYNC_REMOTE_URL"`
	RemoteToken string `env:"STUDIOSYNC_REMOTE_TOKEN"`

	MaxInFlight        string `env:"STUDIOSYNC_MAX_IN_FLIGHT"`
	MaxAttempts        string `env:"STUDIOSYNC_MAX_ATTEMPTS"`
	RetrySweepInterval string `env:"STUDIOSYNC_RETRY_SWEEP_INTERVAL"`
	RetryFailed        string `env:"STUDIOSYNC_RETRY_FAILED"`
	FlushOnClose       string `env:"STUDIOSYNC_FLUSH_ON_CLOSE"`

	GatewayURL string `env:"STUDIOSYNC_GATEWAY_URL"`

	BackupDir       string `env:"STUDIOSYNC_BACKUP_DIR"`
	BackupInterval  string `env:"STUDIOSYNC_BACKUP_INTERVAL"`
	BackupBucket    string `env:"STUDIOSYNC_BACKUP_BUCKET"`
	BackupEndpoint  string `env:"STUDIOSYNC_BACKUP_ENDPOINT"`
	BackupAccessKey string `env:"STUDIOSYNC_BACKUP_ACCESS_KEY"`
	BackupSecretKey string `env:"STUDIOSYNC_BACKUP_SECRET_KEY"`

	LogLevel  string `env:"STUDIOSYNC_LOG_LEVEL"`
	LogFormat string `env:"STUDIOSYNC_LOG_FORMAT"`
}

// applyEnvOverrides applies non-empty environment variables on top of cfg.
// Malformed numbers and durations are reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	var ov envOverrides
	if _, err := env.UnmarshalFromEnviron(&ov); err != nil {
		return errors.Wrap(err, "reading environment")
	}

	var errs []error
	setInt := func(name, v string, dst *int) {
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}
	setDuration := func(name, v string, dst *Duration) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = Duration(d)
	}
	setBool := func(name, v string, dst *bool) {
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = b
	}
	setString := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}

	setInt("STUDIOSYNC_PORT", ov.Port, &cfg.Server.Port)
	setDuration("STUDIOSYNC_READ_TIMEOUT", ov.ReadTimeout, &cfg.Server.ReadTimeout)
	setDuration("STUDIOSYNC_WRITE_TIMEOUT", ov.WriteTimeout, &cfg.Server.WriteTimeout)
	setDuration("STUDIOSYNC_SHUTDOWN_TIMEOUT", ov.ShutdownTimeout, &cfg.Server.ShutdownTimeout)
	setString(ov.ServerToken, &cfg.Server.AuthToken)

	setString(ov.CachePath, &cfg.Cache.Path)

	setString(ov.RemoteURL, &cfg.Remote.URL)
	setString(ov.RemoteToken, &cfg.Remote.AuthToken)

	setInt("STUDIOSYNC_MAX_IN_FLIGHT", ov.MaxInFlight, &cfg.Sync.MaxInFlight)
	setInt("STUDIOSYNC_MAX_ATTEMPTS", ov.MaxAttempts, &cfg.Sync.MaxAttempts)
	setDuration("STUDIOSYNC_RETRY_SWEEP_INTERVAL", ov.RetrySweepInterval, &cfg.Sync.RetrySweepInterval)
	setBool("STUDIOSYNC_RETRY_FAILED", ov.RetryFailed, &cfg.Sync.RetryFailed)
	setBool("STUDIOSYNC_FLUSH_ON_CLOSE", ov.FlushOnClose, &cfg.Sync.FlushOnClose)

	setString(ov.GatewayURL, &cfg.Gateway.BaseURL)

	setString(ov.BackupDir, &cfg.Backup.Dir)
	setDuration("STUDIOSYNC_BACKUP_INTERVAL", ov.BackupInterval, &cfg.Backup.Interval)
	setString(ov.BackupBucket, &cfg.Backup.Bucket)
	setString(ov.BackupEndpoint, &cfg.Backup.Endpoint)
	setString(ov.BackupAccessKey, &cfg.Backup.AccessKey)
	setString(ov.BackupSecretKey, &cfg.Backup.SecretKey)

	setString(ov.LogLevel, &cfg.Log.Level)
	setString(ov.LogFormat, &cfg.Log.Format)

	if len(errs) > 0 {
		return errors.Wrap(errors.Join(errs...), "invalid environment override")
	}
	return nil
}

// validate checks values that would otherwise fail later in surprising ways.
func (c *Config) validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	if c.Cache.Path == "" {
		problems = append(problems, "cache.path is required")
	}
	if c.Sync.MaxInFlight < 1 {
		problems = append(problems, "sync.max_in_flight must be at least 1")
	}
	if c.Sync.MaxAttempts < 1 {
		problems = append(problems, "sync.max_attempts must be at least 1")
	}
	if c.Sync.InitialBackoff <= 0 || c.Sync.MaxBackoff < c.Sync.InitialBackoff {
		problems = append(problems, "sync.initial_backoff must be positive and not exceed sync.max_backoff")
	}
	if c.Backup.Bucket != "" && c.Backup.Endpoint == "" {
		problems = append(problems, "backup.endpoint is required when backup.bucket is set")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		problems = append(problems, "log.format must be json or text")
	}
	if len(problems) > 0 {
		return errors.WithHint(
			errors.Newf("invalid configuration: %s", strings.Join(problems, "; ")),
			"set STUDIOSYNC_CONFIG_PATH or fix the values in config/studiosync.yaml")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
