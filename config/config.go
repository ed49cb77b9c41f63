// Package config loads client settings from defaults, an optional YAML file,
// an optional .env file and SHOPGO_* environment variables, in that order.
package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SHOPGO_API_BASE_URL.
const EnvPrefix = "SHOPGO"

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverNone   = "none"
)

type APIConfig struct {
	BaseURL        string        `yaml:"base_url" split_words:"true"`
	VersionPath    string        `yaml:"version_path" split_words:"true"`
	RequestTimeout time.Duration `yaml:"request_timeout" split_words:"true"`
}

type AuthConfig struct {
	RefreshTimeout    time.Duration `yaml:"refresh_timeout" split_words:"true"`
	MaxRefreshWaiters int           `yaml:"max_refresh_waiters" split_words:"true"`
	LoginPath         string        `yaml:"login_path" split_words:"true"`
}

type StorageConfig struct {
	Driver    string `yaml:"driver" split_words:"true"`
	Path      string `yaml:"path" split_words:"true"`
	RedisAddr string `yaml:"redis_addr" split_words:"true"`
	Namespace string `yaml:"namespace" split_words:"true"`
}

type LogConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" split_words:"true"`
	Endpoint    string `yaml:"endpoint" split_words:"true"`
	ServiceName string `yaml:"service_name" split_words:"true"`
}

// Config is the whole client configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "http://localhost:8080",
			VersionPath:    "/api/v1",
			RequestTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			RefreshTimeout:    10 * time.Second,
			MaxRefreshWaiters: 256,
			LoginPath:         "/login",
		},
		Storage: StorageConfig{
			Driver:    DriverFile,
			Path:      "shopclient-state.json",
			Namespace: "default",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "shopclient",
		},
	}
}

// Load builds the configuration. path is an optional YAML file; envFiles are
// optional .env files, ".env" when none are given. Missing files are skipped.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, errors.Wrapf(err, "failed to load %s", f)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the client cannot start with.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("config: api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("config: api.base_url %q is not an absolute URL", c.API.BaseURL)
	}
	if c.API.RequestTimeout < 0 || c.Auth.RefreshTimeout < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	if c.Auth.MaxRefreshWaiters < 0 {
		return errors.New("config: auth.max_refresh_waiters must not be negative")
	}
	switch c.Storage.Driver {
	case DriverMemory, DriverNone:
	case DriverFile:
		if c.Storage.Path == "" {
			return errors.New("config: storage.path is required for the file driver")
		}
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("config: storage.redis_addr is required for the redis driver")
		}
	default:
		return errors.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return errors.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// APIRoot joins the base URL and the version path.
func (c *Config) APIRoot() string {
	return strings.TrimRight(c.API.BaseURL, "/") + "/" + strings.TrimLeft(c.API.VersionPath, "/")
}
