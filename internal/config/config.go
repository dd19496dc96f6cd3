// Package config loads service settings from a YAML file, HEATER_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sweeney/heater-dashboard/internal/series"
)

// EnvPrefix is prepended to every environment override, e.g. HEATER_MQTT_BROKER.
const EnvPrefix = "HEATER"

// Store backends.
const (
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
)

// Config is the full service configuration.
type Config struct {
	LogLevel          string        `mapstructure:"log_level"`
	Namespace         string        `mapstructure:"namespace"`
	PresenceNamespace string        `mapstructure:"presence_namespace"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	HistorySize       int           `mapstructure:"history_size"`

	MQTT  MQTT  `mapstructure:"mqtt"`
	Store Store `mapstructure:"store"`
	HTTP  HTTP  `mapstructure:"http"`
}

// MQTT configures the bus adapter.
type MQTT struct {
	Broker         string        `mapstructure:"broker"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ClientIDPrefix string        `mapstructure:"client_id_prefix"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	KeepAlive      time.Duration `mapstructure:"keepalive"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

// Store selects and configures the document store backend.
type Store struct {
	Backend string `mapstructure:"backend"`
	Mongo   Mongo  `mapstructure:"mongo"`
	SQLite  SQLite `mapstructure:"sqlite"`
}

// Mongo configures the MongoDB backend.
type Mongo struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	OpTimeout      time.Duration `mapstructure:"op_timeout"`
}

// SQLite configures the local backend.
type SQLite struct {
	Path         string        `mapstructure:"path"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// HTTP configures the web surface. An empty Addr disables it.
type HTTP struct {
	Addr string `mapstructure:"addr"`
	// PasswordHash is a bcrypt hash. When set, write endpoints need a token.
	PasswordHash string        `mapstructure:"password_hash"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

// AuthEnabled reports whether the write endpoints are password protected.
func (h HTTP) AuthEnabled() bool {
	return h.PasswordHash != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("namespace", "esp32")
	v.SetDefault("presence_namespace", "esp32")
	v.SetDefault("stale_after", 5*time.Minute)
	v.SetDefault("history_size", series.DefaultCapacity)

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id_prefix", "heater-dashboard")
	v.SetDefault("mqtt.retry_interval", 5*time.Second)
	v.SetDefault("mqtt.connect_timeout", 30*time.Second)
	v.SetDefault("mqtt.keepalive", 60*time.Second)
	v.SetDefault("mqtt.max_attempts", 5)

	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.database", "heater")
	v.SetDefault("store.mongo.username", "")
	v.SetDefault("store.mongo.password", "")
	v.SetDefault("store.mongo.connect_timeout", 10*time.Second)
	v.SetDefault("store.mongo.op_timeout", 5*time.Second)
	v.SetDefault("store.sqlite.path", "heater.db")
	v.SetDefault("store.sqlite.poll_interval", time.Second)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.password_hash", "")
	v.SetDefault("http.jwt_secret", "")
	v.SetDefault("http.token_ttl", 12*time.Hour)
}

// Parse reads flags from args, then the config file they name (or
// configs/config.yml when present), then environment overrides.
func Parse(args []string) (Config, error) {
	fs := pflag.NewFlagSet("heater-dashboard", pflag.ContinueOnError)
	path := fs.StringP("config", "c", "", "Path to config file (default configs/config.yml if present)")
	fs.String("http", "", `HTTP listen address ("" keeps config value)`)
	fs.String("log-level", "", "Log level: debug, info, warn, error")
	fs.String("broker", "", "MQTT broker URL")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	bindFlag(v, fs, "http.addr", "http")
	bindFlag(v, fs, "log_level", "log-level")
	bindFlag(v, fs, "mqtt.broker", "broker")
	return load(v, *path)
}

// Load reads the file at path (or the default location when empty) and
// applies environment overrides.
func Load(path string) (Config, error) {
	return load(viper.New(), path)
}

func bindFlag(v *viper.Viper, fs *pflag.FlagSet, key, name string) {
	// Only changed flags override; an unset flag must not mask file or env.
	if f := fs.Lookup(name); f != nil && f.Changed {
		_ = v.BindPFlag(key, f)
	}
}

func load(v *viper.Viper, path string) (Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	broker, err := NormalizeBroker(cfg.MQTT.Broker)
	if err != nil {
		return Config{}, err
	}
	cfg.MQTT.Broker = broker
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NormalizeBroker maps the mqtt:// and mqtts:// schemes onto the tcp:// and
// ssl:// forms the client library expects. ws:// and wss:// pass through.
func NormalizeBroker(broker string) (string, error) {
	u, err := url.Parse(broker)
	if err != nil {
		return "", fmt.Errorf("mqtt.broker: %w", err)
	}
	switch u.Scheme {
	case "mqtt":
		u.Scheme = "tcp"
	case "mqtts":
		u.Scheme = "ssl"
	case "tcp", "ssl", "tls", "ws", "wss":
	default:
		return "", fmt.Errorf("mqtt.broker: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("mqtt.broker: missing host in %q", broker)
	}
	return u.String(), nil
}

// Validate checks settings that have no usable default.
func (c Config) Validate() error {
	var errs []error
	if c.Namespace == "" {
		errs = append(errs, errors.New("namespace must not be empty"))
	}
	if c.PresenceNamespace == "" {
		errs = append(errs, errors.New("presence_namespace must not be empty"))
	}
	if c.HistorySize <= 0 || c.HistorySize > series.DefaultCapacity {
		errs = append(errs, fmt.Errorf("history_size must be in [1, %d], got %d", series.DefaultCapacity, c.HistorySize))
	}
	if c.MQTT.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("mqtt.max_attempts must be positive, got %d", c.MQTT.MaxAttempts))
	}
	switch c.Store.Backend {
	case BackendMongo:
		if c.Store.Mongo.URI == "" || c.Store.Mongo.Database == "" {
			errs = append(errs, errors.New("store.mongo.uri and store.mongo.database are required"))
		}
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			errs = append(errs, errors.New("store.sqlite.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q, got %q", BackendMongo, BackendSQLite, c.Store.Backend))
	}
	if c.HTTP.AuthEnabled() && c.HTTP.JWTSecret == "" {
		errs = append(errs, errors.New("http.jwt_secret is required when http.password_hash is set"))
	}
	return errors.Join(errs...)
}
