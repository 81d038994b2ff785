// Package config provides configuration loading and validation for the application.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration constants.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8081
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultMongoDBTimeout     = 10 * time.Second
	DefaultMongoDBMaxPoolSize = 100

	DefaultRedisPoolSize = 10

	DefaultJetStreamURL            = "nats://localhost:4222"
	DefaultJetStreamConnectTimeout = 5 * time.Second
	DefaultJetStreamMaxReconnects  = 3
)

// Store backends.
const (
	BackendMemory    = "memory"
	BackendMongoDB   = "mongodb"
	BackendJetStream = "jetstream"
	BackendRedis     = "redis"
	BackendSQLite    = "sqlite"
)

// Config holds the complete application configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Views     ViewsConfig     `yaml:"views"`
	MongoDB   MongoDBConfig   `yaml:"mongodb"`
	Redis     RedisConfig     `yaml:"redis"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	JetStream JetStreamConfig `yaml:"jetstream"`
	Broker    BrokerConfig    `yaml:"broker" envPrefix:"RTM_JS_SERVER_"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Log       LogConfig       `yaml:"log"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	// Name is the application name used in logs and metrics.
	Name string `yaml:"name" env:"APP_NAME"`

	// SystemID is stamped on every committed envelope, e.g. a build hash.
	SystemID string `yaml:"system_id" env:"RTM_SYSTEM_ID"`

	// RetryOnConflict is how many times a command is retried after a concurrency conflict.
	RetryOnConflict int `yaml:"retry_on_conflict" env:"APP_RETRY_ON_CONFLICT"`
}

// ServerConfig holds the HTTP ops endpoint configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// Address returns the full server address (host:port).
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig selects the event store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"STORE_BACKEND"` // memory | mongodb | jetstream
}

// ViewsConfig selects the view repository backend.
//
//nolint:golines // Struct tags require longer lines for readability
type ViewsConfig struct {
	Backend   string `yaml:"backend" env:"VIEWS_BACKEND"` // memory | mongodb | redis | sqlite
	Namespace string `yaml:"namespace" env:"VIEWS_NAMESPACE"`
}

// MongoDBConfig holds MongoDB connection configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type MongoDBConfig struct {
	URI         string        `yaml:"uri" env:"MONGODB_URI"`
	Database    string        `yaml:"database" env:"MONGODB_DATABASE"`
	Timeout     time.Duration `yaml:"timeout" env:"MONGODB_TIMEOUT"`
	MaxPoolSize uint64        `yaml:"max_pool_size" env:"MONGODB_MAX_POOL_SIZE"`
}

// RedisConfig holds Redis connection configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	PoolSize int    `yaml:"pool_size" env:"REDIS_POOL_SIZE"`
}

// SQLiteConfig holds the SQLite view database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"SQLITE_PATH"`
}

// JetStreamConfig holds the NATS client configuration of the JetStream event store.
//
//nolint:golines // Struct tags require longer lines for readability
type JetStreamConfig struct {
	URL            string        `yaml:"url" env:"JETSTREAM_URL"`
	Stream         string        `yaml:"stream" env:"JETSTREAM_STREAM"`
	SubjectPrefix  string        `yaml:"subject_prefix" env:"JETSTREAM_SUBJECT_PREFIX"`
	User           string        `yaml:"user" env:"JETSTREAM_USER"`
	Password       string        `yaml:"password" env:"JETSTREAM_PASSWORD"`
	Token          string        `yaml:"token" env:"JETSTREAM_TOKEN"`
	TLSCert        string        `yaml:"tls_cert" env:"JETSTREAM_TLS_CERT"`
	TLSKey         string        `yaml:"tls_key" env:"JETSTREAM_TLS_KEY"`
	TLSCACert      string        `yaml:"tls_ca_cert" env:"JETSTREAM_TLS_CA_CERT"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"JETSTREAM_CONNECT_TIMEOUT"`
	MaxReconnects  int           `yaml:"max_reconnects" env:"JETSTREAM_MAX_RECONNECTS"`

	// Stream settings, applied when the stream is created or updated.
	Storage         string        `yaml:"storage" env:"JETSTREAM_STORAGE"` // file | memory
	Replicas        int           `yaml:"replicas" env:"JETSTREAM_REPLICAS"`
	MaxMsgSize      int32         `yaml:"max_msg_size" env:"JETSTREAM_MAX_MSG_SIZE"`
	DuplicateWindow time.Duration `yaml:"duplicate_window" env:"JETSTREAM_DUPLICATE_WINDOW"`
}

// EventBusConfig holds event bus configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type EventBusConfig struct {
	Type               string   `yaml:"type" env:"EVENTBUS_TYPE"` // redis | none
	RedisChannelPrefix string   `yaml:"redis_channel_prefix" env:"EVENTBUS_REDIS_CHANNEL_PREFIX"`
	AggregateTypes     []string `yaml:"aggregate_types" env:"EVENTBUS_AGGREGATE_TYPES" envSeparator:","`
	MaxRetries         int      `yaml:"max_retries" env:"EVENTBUS_MAX_RETRIES"`
}

// LogConfig holds logging configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json | text
}

// Configuration errors.
var (
	ErrConfigNotFound      = errors.New("configuration file not found")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrMissingRequired     = errors.New("missing required configuration")
	ErrConflictingOptions  = errors.New("conflicting options")
	ErrInvalidLogLevel     = errors.New("invalid log level: must be debug, info, warn, or error")
	ErrInvalidLogFormat    = errors.New("invalid log format: must be json or text")
	ErrInvalidEventBusType = errors.New("invalid event bus type: must be redis or none")
	ErrInvalidStoreBackend = errors.New("invalid store backend: must be memory, mongodb or jetstream")
	ErrInvalidViewsBackend = errors.New("invalid views backend: must be memory, mongodb, redis or sqlite")
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name: "actuality",
		},
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Store: StoreConfig{
			Backend: BackendMemory,
		},
		Views: ViewsConfig{
			Backend:   BackendMemory,
			Namespace: "views",
		},
		MongoDB: MongoDBConfig{
			URI:         "mongodb://localhost:27017/?replicaSet=rs0",
			Database:    "actuality",
			Timeout:     DefaultMongoDBTimeout,
			MaxPoolSize: DefaultMongoDBMaxPoolSize,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: DefaultRedisPoolSize,
		},
		SQLite: SQLiteConfig{
			Path: "actuality-views.db",
		},
		JetStream: JetStreamConfig{
			URL:            DefaultJetStreamURL,
			Stream:         "ACTUALITY_EVENTS",
			SubjectPrefix:  "actuality.events",
			ConnectTimeout: DefaultJetStreamConnectTimeout,
			MaxReconnects:  DefaultJetStreamMaxReconnects,
			Storage:        "file",
			Replicas:       1,
		},
		Broker: DefaultBrokerConfig(),
		EventBus: EventBusConfig{
			Type:               "redis",
			RedisChannelPrefix: "events:",
			MaxRetries:         3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	var errs []error

	errs = c.validateApp(errs)
	errs = c.validateServer(errs)
	errs = c.validateBackends(errs)
	errs = c.validateLog(errs)
	errs = c.validateEventBus(errs)
	if err := c.Broker.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}

	return nil
}

// validateApp validates application configuration.
func (c *Config) validateApp(errs []error) []error {
	if c.App.Name == "" {
		errs = append(errs, fmt.Errorf("%w: app.name", ErrMissingRequired))
	}
	if c.App.RetryOnConflict < 0 {
		errs = append(errs, fmt.Errorf("app.retry_on_conflict must not be negative, got %d", c.App.RetryOnConflict))
	}
	return errs
}

// validateServer validates server configuration.
func (c *Config) validateServer(errs []error) []error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, errors.New("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server.write_timeout must be positive"))
	}
	return errs
}

// validateBackends validates the selected backends and their connection settings.
func (c *Config) validateBackends(errs []error) []error {
	switch strings.ToLower(c.Store.Backend) {
	case BackendMemory:
	case BackendMongoDB:
		errs = c.validateMongoDB(errs)
	case BackendJetStream:
		errs = c.validateJetStream(errs)
	default:
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidStoreBackend, c.Store.Backend))
	}

	switch strings.ToLower(c.Views.Backend) {
	case BackendMemory:
	case BackendMongoDB:
		errs = c.validateMongoDB(errs)
	case BackendRedis:
		errs = c.validateRedis(errs)
	case BackendSQLite:
		if c.SQLite.Path == "" {
			errs = append(errs, errors.New("sqlite.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidViewsBackend, c.Views.Backend))
	}
	return errs
}

// validateMongoDB validates MongoDB configuration.
func (c *Config) validateMongoDB(errs []error) []error {
	if c.MongoDB.URI == "" {
		errs = append(errs, errors.New("mongodb.uri is required"))
	}
	if c.MongoDB.Database == "" {
		errs = append(errs, errors.New("mongodb.database is required"))
	}
	return errs
}

// validateRedis validates Redis configuration.
func (c *Config) validateRedis(errs []error) []error {
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	return errs
}

// validateJetStream validates the JetStream client configuration.
func (c *Config) validateJetStream(errs []error) []error {
	js := c.JetStream
	if js.URL == "" {
		errs = append(errs, errors.New("jetstream.url is required"))
	}
	if js.Stream == "" || strings.ContainsAny(js.Stream, " \t.>*") {
		errs = append(errs, fmt.Errorf("jetstream.stream must be a name without spaces, '.', '>' or '*', got %q", js.Stream))
	}
	if js.SubjectPrefix == "" {
		errs = append(errs, errors.New("jetstream.subject_prefix is required"))
	}
	if js.Token != "" && (js.User != "" || js.Password != "") {
		errs = append(errs, fmt.Errorf("%w: jetstream.token is exclusive of jetstream.user and jetstream.password", ErrConflictingOptions))
	}
	if (js.TLSCert == "") != (js.TLSKey == "") {
		errs = append(errs, errors.New("jetstream.tls_cert and jetstream.tls_key must be set together"))
	}
	if s := strings.ToLower(js.Storage); s != "file" && s != "memory" {
		errs = append(errs, fmt.Errorf("jetstream.storage must be file or memory, got %q", js.Storage))
	}
	// JetStream clusters allow at most 5 replicas
	if js.Replicas < 1 || js.Replicas > 5 {
		errs = append(errs, fmt.Errorf("jetstream.replicas must be between 1 and 5, got %d", js.Replicas))
	}
	if js.MaxMsgSize < 0 || js.DuplicateWindow < 0 {
		errs = append(errs, errors.New("jetstream.max_msg_size and jetstream.duplicate_window must not be negative"))
	}
	return errs
}

// validateLog validates logging configuration.
func (c *Config) validateLog(errs []error) []error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ErrInvalidLogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ErrInvalidLogFormat)
	}
	return errs
}

// validateEventBus validates event bus configuration.
func (c *Config) validateEventBus(errs []error) []error {
	validEventBusTypes := map[string]bool{"redis": true, "none": true}
	if !validEventBusTypes[strings.ToLower(c.EventBus.Type)] {
		errs = append(errs, ErrInvalidEventBusType)
	}
	if strings.EqualFold(c.EventBus.Type, "redis") {
		errs = c.validateRedis(errs)
	}
	if c.EventBus.MaxRetries < 0 {
		errs = append(errs, errors.New("eventbus.max_retries must not be negative"))
	}
	return errs
}

// Load reads the configuration with the default Loader.
func Load() (*Config, error) {
	return NewLoader().Load("")
}

// LoadFromPath reads the configuration from path; an empty path means CONFIG_PATH
// or the standard locations.
func LoadFromPath(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Loader reads configuration from YAML files, .env files and the environment.
type Loader struct {
	configPaths []string
	dotEnvPaths []string
}

// NewLoader creates a loader with the standard config locations.
func NewLoader() *Loader {
	return &Loader{
		configPaths: []string{
			"configs/config.yaml",
			"config.yaml",
			"/etc/actuality/config.yaml",
		},
		dotEnvPaths: []string{".env"},
	}
}

// WithConfigPaths replaces the standard config locations.
func (l *Loader) WithConfigPaths(paths []string) *Loader {
	l.configPaths = paths
	return l
}

// WithDotEnvPaths sets the .env files loaded before the environment is read.
// Missing files are skipped; variables already set in the environment win.
func (l *Loader) WithDotEnvPaths(paths []string) *Loader {
	l.dotEnvPaths = paths
	return l
}

// Load builds the configuration in layers: defaults, .env files, the YAML file,
// then environment variables. The result is validated.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := l.loadDotEnv(); err != nil {
		return nil, err
	}

	configPath, explicit := l.resolvePath(path)
	if configPath != "" {
		// файл из стандартных мест не обязателен
		if err := l.loadFromFile(cfg, configPath); err != nil && explicit {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePath picks the config file: the argument, CONFIG_PATH, or the first
// existing standard location. explicit is false only for standard locations.
func (l *Loader) resolvePath(path string) (string, bool) {
	if path != "" {
		return path, true
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return envPath, true
	}
	for _, p := range l.configPaths {
		if _, err := os.Stat(p); err == nil {
			return p, false
		}
	}
	return "", false
}

// loadDotEnv loads the existing .env files into the process environment.
func (l *Loader) loadDotEnv() error {
	var existing []string
	for _, p := range l.dotEnvPaths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// loadFromFile decodes a YAML file over cfg.
func (l *Loader) loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	case err != nil:
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// IsDevelopment reports debug logging, which also turns on source locations in logs.
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Log.Level) == "debug"
}
