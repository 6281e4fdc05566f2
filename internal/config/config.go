// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingStoreURL    = errors.New("store url is not set")
	ErrInvalidStoreURL    = errors.New("store url has an unrecognized connection-string format")
	ErrIncompleteStoreURL = errors.New("store url appears to be incomplete")
)

type Config struct {
	Server struct {
		Port int `yaml:"port" envconfig:"PORT"`
	} `yaml:"server"`

	Store struct {
		URL string `yaml:"url" envconfig:"STORE_URL"`
	} `yaml:"store"`

	Bus struct {
		URL     string `yaml:"url" envconfig:"RABBITMQ_URL"`
		Channel string `yaml:"channel" envconfig:"BUS_CHANNEL"`
		Event   string `yaml:"event" envconfig:"BUS_EVENT"`
	} `yaml:"bus"`

	Observer struct {
		Workers int `yaml:"workers" envconfig:"OBSERVER_WORKERS"`
	} `yaml:"observer"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	} `yaml:"auth"`

	Log struct {
		Level string `yaml:"level" envconfig:"LOG_LEVEL"`
	} `yaml:"log"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 9000
	cfg.Bus.Channel = "messages"
	cfg.Bus.Event = "newmessages"
	cfg.Observer.Workers = 2
	cfg.Log.Level = "INFO"
	return cfg
}

// LoadConfig reads the optional YAML file at path, then applies environment
// overrides (STORE_URL, RABBITMQ_URL, PORT, ...). DATABASE_URL is read when no
// store url is set otherwise.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	// DATABASE_URL is only a fallback, the file and STORE_URL take precedence
	if cfg.Store.URL == "" {
		cfg.Store.URL = os.Getenv("DATABASE_URL")
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := ValidateStoreURL(c.Store.URL); err != nil {
		return err
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Bus.Channel == "" || c.Bus.Event == "" {
		return errors.New("bus channel and event must be set")
	}
	if c.Observer.Workers <= 0 {
		return fmt.Errorf("observer workers must be positive, got %d", c.Observer.Workers)
	}
	return nil
}

// ValidateStoreURL checks the connection string format without touching the network.
func ValidateStoreURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return ErrMissingStoreURL
	}
	if strings.ContainsAny(raw, "<>") {
		return fmt.Errorf("%w: replace the <placeholder> parts", ErrIncompleteStoreURL)
	}

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return ErrInvalidStoreURL
	}
	switch scheme {
	case "badger":
		if rest == "" {
			return fmt.Errorf("%w: missing database directory", ErrIncompleteStoreURL)
		}
		return nil
	case "postgres", "postgresql":
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidStoreURL, err)
		}
		host := u.Hostname()
		if host == "" {
			return fmt.Errorf("%w: missing host", ErrIncompleteStoreURL)
		}
		if host == "cluster" || strings.HasPrefix(host, "cluster.") {
			return fmt.Errorf("%w: host %q is a template placeholder", ErrIncompleteStoreURL, host)
		}
		return nil
	default:
		return ErrInvalidStoreURL
	}
}

// MaskURL hides the password part of a connection string for logging.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
