// Package bootstrap wires configured backends for the process entry points.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/actuality/internal/application/appcore"
	"github.com/lllypuk/actuality/internal/config"
	"github.com/lllypuk/actuality/internal/domain/aggregate"
	"github.com/lllypuk/actuality/internal/domain/event"
	"github.com/lllypuk/actuality/internal/infrastructure/codec"
	"github.com/lllypuk/actuality/internal/infrastructure/eventstore"
	"github.com/lllypuk/actuality/internal/infrastructure/healthcheck"
	"github.com/lllypuk/actuality/internal/infrastructure/metrics"
	mongodbinfra "github.com/lllypuk/actuality/internal/infrastructure/mongodb"
	"github.com/lllypuk/actuality/internal/infrastructure/natsconn"
	"github.com/lllypuk/actuality/internal/infrastructure/viewstore"
)

// Container initialization timeouts.
const (
	containerInitTimeout   = 30 * time.Second
	redisPingTimeout       = 5 * time.Second
	mongoDisconnectTimeout = 10 * time.Second
)

// ErrProcessLocalStore is returned when a tool asks for the events of the
// in-memory store, which only exists inside the process that wrote them.
var ErrProcessLocalStore = errors.New("memory store is process-local")

// RawStore is an event store read without knowing the event types.
type RawStore interface {
	appcore.EventStore[*aggregate.RawRoot, event.Raw]
	AggregateIDs(ctx context.Context) ([]string, error)
}

// Container holds the connections the configured backends need and manages
// their lifecycle. Only the clients a backend asks for are opened.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Infrastructure
	MongoDB *mongo.Client
	Redis   *redis.Client
	SQLite  *sql.DB
	NATS    natsconn.Connector

	// Observability
	Registry *prometheus.Registry
	Metrics  *metrics.CommandMetrics
	Health   *healthcheck.Registry
}

// ContainerOption configures the Container.
type ContainerOption func(*Container)

// WithLogger sets a custom logger for the container.
func WithLogger(logger *slog.Logger) ContainerOption {
	return func(c *Container) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// NewContainer connects to every backend cfg selects.
func NewContainer(cfg *config.Config, opts ...ContainerOption) (*Container, error) {
	c := &Container{
		Config:   cfg,
		Logger:   slog.Default(),
		Registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.NewCommandMetrics(c.Registry)
	c.Health = healthcheck.NewRegistry(0, c.Logger)

	if err := c.setupInfrastructure(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to setup infrastructure: %w", err)
	}

	return c, nil
}

func (c *Container) needsMongo() bool {
	return c.Config.Store.Backend == config.BackendMongoDB || c.Config.Views.Backend == config.BackendMongoDB
}

func (c *Container) needsRedis() bool {
	return strings.EqualFold(c.Config.EventBus.Type, "redis") || c.Config.Views.Backend == config.BackendRedis
}

// setupInfrastructure initializes the selected clients.
func (c *Container) setupInfrastructure() error {
	ctx, cancel := context.WithTimeout(context.Background(), containerInitTimeout)
	defer cancel()

	if c.needsMongo() {
		if err := c.setupMongoDB(ctx); err != nil {
			return fmt.Errorf("mongodb: %w", err)
		}
	}

	if c.needsRedis() {
		if err := c.setupRedis(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	if c.Config.Views.Backend == config.BackendSQLite {
		db, err := viewstore.OpenSQLite(ctx, c.Config.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		c.SQLite = db
		c.Health.Critical(healthcheck.NewFuncChecker("sqlite", db.PingContext))
	}

	if c.Config.Store.Backend == config.BackendJetStream {
		connect, err := natsconn.ConnectConfig(c.Config.JetStream)
		if err != nil {
			return fmt.Errorf("jetstream: %w", err)
		}
		c.NATS = natsconn.ReuseConnection(connect)
	}

	return nil
}

// setupMongoDB initializes the MongoDB client.
func (c *Container) setupMongoDB(ctx context.Context) error {
	clientOpts := options.Client().
		ApplyURI(c.Config.MongoDB.URI).
		SetMaxPoolSize(c.Config.MongoDB.MaxPoolSize)

	client, connectErr := mongo.Connect(clientOpts)
	if connectErr != nil {
		return fmt.Errorf("failed to connect: %w", connectErr)
	}
	c.MongoDB = client

	pingCtx, cancel := context.WithTimeout(ctx, c.Config.MongoDB.Timeout)
	defer cancel()

	if pingErr := client.Ping(pingCtx, nil); pingErr != nil {
		return fmt.Errorf("failed to ping: %w", pingErr)
	}

	c.Logger.InfoContext(ctx, "connected to MongoDB",
		slog.String("database", c.Config.MongoDB.Database),
	)
	c.Health.Critical(healthcheck.NewMongoChecker(client))

	return nil
}

// setupRedis initializes the Redis client.
func (c *Container) setupRedis(ctx context.Context) error {
	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
		PoolSize: c.Config.Redis.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if pingErr := c.Redis.Ping(pingCtx).Err(); pingErr != nil {
		return fmt.Errorf("failed to ping: %w", pingErr)
	}

	c.Logger.InfoContext(ctx, "connected to Redis",
		slog.String("addr", c.Config.Redis.Addr),
	)
	c.Health.Critical(healthcheck.NewRedisChecker(c.Redis))

	return nil
}

// RawStore opens the configured event store for one aggregate type and runs Init.
func (c *Container) RawStore(ctx context.Context, aggregateType string) (RawStore, error) {
	opts := []eventstore.Option{
		eventstore.WithLogger(c.Logger),
		eventstore.WithSystemID(c.Config.App.SystemID),
	}

	var store RawStore
	switch c.Config.Store.Backend {
	case config.BackendMongoDB:
		store = eventstore.NewMongoStore(
			c.MongoDB,
			c.Config.MongoDB.Database,
			aggregate.RawFactory(aggregateType),
			codec.Codec[event.Raw](codec.RawCodec{}),
			opts...,
		)
	case config.BackendJetStream:
		opts = append(opts,
			eventstore.WithStream(c.Config.JetStream.Stream, c.Config.JetStream.SubjectPrefix),
			eventstore.WithStreamSettings(StreamSettings(c.Config.JetStream)),
		)
		store = eventstore.NewJetStreamStore(
			c.NATS,
			aggregate.RawFactory(aggregateType),
			codec.Codec[event.Raw](codec.RawCodec{}),
			opts...,
		)
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrProcessLocalStore, c.Config.Store.Backend)
	}

	sc := appcore.StoreContext{ServiceName: c.Config.App.Name, SystemID: c.Config.App.SystemID}
	if err := store.Init(ctx, sc); err != nil {
		return nil, fmt.Errorf("failed to init %s store: %w", c.Config.Store.Backend, err)
	}

	if c.Config.Store.Backend == config.BackendMongoDB {
		db := c.MongoDB.Database(c.Config.MongoDB.Database)
		if err := mongodbinfra.CreateIndexes(ctx, db, mongodbinfra.GetEventIndexes(mongodbinfra.CollectionEvents)); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// StreamSettings maps the configured stream settings to the JetStream store.
func StreamSettings(cfg config.JetStreamConfig) eventstore.StreamSettings {
	storage := jetstream.FileStorage
	if strings.EqualFold(cfg.Storage, "memory") {
		storage = jetstream.MemoryStorage
	}
	return eventstore.StreamSettings{
		Storage:         storage,
		Replicas:        cfg.Replicas,
		MaxMsgSize:      cfg.MaxMsgSize,
		DuplicateWindow: cfg.DuplicateWindow,
	}
}

// ViewRepository builds the configured view repository for one view type.
// Every view type gets its own collection, key space or table partition.
func ViewRepository[V any](ctx context.Context, c *Container, viewType string) (appcore.ViewRepository[V], error) {
	namespace := c.Config.Views.Namespace
	opts := []viewstore.Option{viewstore.WithLogger(c.Logger)}

	switch c.Config.Views.Backend {
	case config.BackendMongoDB:
		collection := namespace + "_" + viewType
		db := c.MongoDB.Database(c.Config.MongoDB.Database)
		if err := mongodbinfra.CreateIndexes(ctx, db, mongodbinfra.GetViewIndexes(collection)); err != nil {
			return nil, err
		}
		return viewstore.NewMongoRepository[V](db.Collection(collection), opts...), nil
	case config.BackendRedis:
		return viewstore.NewRedisRepository[V](c.Redis, namespace+":"+viewType+":", opts...), nil
	case config.BackendSQLite:
		return viewstore.NewSQLiteRepository[V](c.SQLite, viewType, opts...), nil
	default:
		return viewstore.NewMemoryRepository[V](opts...), nil
	}
}

// Close closes all opened clients.
func (c *Container) Close() error {
	var errs []error

	if c.SQLite != nil {
		if err := c.SQLite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sqlite close: %w", err))
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		} else {
			c.Logger.Debug("redis connection closed")
		}
	}

	if c.MongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		defer cancel()
		if err := c.MongoDB.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect: %w", err))
		} else {
			c.Logger.Debug("mongodb connection closed")
		}
	}

	return errors.Join(errs...)
}

// SetupLogger creates and configures the structured logger based on configuration.
func SetupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     ParseLogLevel(cfg.Log.Level),
		AddSource: cfg.IsDevelopment(),
	}

	switch cfg.Log.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("app", cfg.App.Name))
	slog.SetDefault(logger)

	return logger
}

// ParseLogLevel converts a string log level to slog.Level.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
