package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoDB test configuration constants
const (
	mongoCtxTimeout                = 10 * time.Second
	mongoContainerStartupTimeout   = 120 * time.Second
	mongoContainerTerminateTimeout = 10 * time.Second
	mongoPingTimeout               = 2 * time.Second
	mongoRetryDelay                = 500 * time.Millisecond
	mongoPrimaryRetries            = 60
	mongoContainerMemoryLimit      = 512 * 1024 * 1024 // 512MB
	maxTestNameLength              = 40
)

// shared MongoDB container (singleton)
var (
	sharedMongo     *SharedMongoContainer
	sharedMongoOnce sync.Once
	errSharedMongo  error
)

// SharedMongoContainer is a single-node replica set reused by all tests of a package.
// Transactions need a replica set, so a standalone server is not enough.
type SharedMongoContainer struct {
	Container testcontainers.Container
	URI       string
}

// GetSharedMongoContainer returns a singleton MongoDB container.
// The container is started once and reused across all tests.
func GetSharedMongoContainer(ctx context.Context) (*SharedMongoContainer, error) {
	sharedMongoOnce.Do(func() {
		sharedMongo, errSharedMongo = startMongoContainer(ctx)
	})
	return sharedMongo, errSharedMongo
}

// startMongoContainer starts mongod with --replSet and initiates the replica set
func startMongoContainer(ctx context.Context) (*SharedMongoContainer, error) {
	startupCtx, cancel := context.WithTimeout(ctx, mongoContainerStartupTimeout)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:8",
		ExposedPorts: []string{"27017/tcp"},
		Cmd:          []string{"--replSet", "rs0", "--bind_ip_all"},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.Memory = mongoContainerMemoryLimit
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("Waiting for connections"),
			wait.ForListeningPort("27017/tcp"),
		).WithDeadline(mongoContainerStartupTimeout),
	}

	cont, err := testcontainers.GenericContainer(startupCtx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start MongoDB container: %w", err)
	}

	code, _, err := cont.Exec(startupCtx, []string{
		"mongosh", "--quiet", "--eval",
		`rs.initiate({_id: "rs0", members: [{_id: 0, host: "localhost:27017"}]})`,
	})
	if err != nil || code != 0 {
		_ = cont.Terminate(context.Background())
		return nil, fmt.Errorf("failed to initiate replica set (exit %d): %w", code, err)
	}

	host, err := cont.Host(startupCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := cont.MappedPort(startupCtx, "27017")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	// directConnection: the member is announced as localhost:27017 inside the container
	uri := fmt.Sprintf("mongodb://%s/?directConnection=true", net.JoinHostPort(host, port.Port()))
	if err = waitForPrimary(startupCtx, uri); err != nil {
		_ = cont.Terminate(context.Background())
		return nil, err
	}

	return &SharedMongoContainer{Container: cont, URI: uri}, nil
}

// waitForPrimary polls hello until the node is a writable primary
func waitForPrimary(ctx context.Context, uri string) error {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	var hello struct {
		IsWritablePrimary bool `bson:"isWritablePrimary"`
	}
	for range mongoPrimaryRetries {
		pingCtx, cancel := context.WithTimeout(ctx, mongoPingTimeout)
		err = client.Database("admin").RunCommand(pingCtx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello)
		cancel()
		if err == nil && hello.IsWritablePrimary {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(mongoRetryDelay):
		}
	}
	return fmt.Errorf("replica set did not elect a primary: %w", err)
}

// SetupTestMongoDB creates a client and an isolated database in the shared container.
// The database is dropped after the test.
func SetupTestMongoDB(t *testing.T) (*mongo.Client, *mongo.Database) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), mongoContainerStartupTimeout)
	defer cancel()

	cont, err := GetSharedMongoContainer(ctx)
	if err != nil {
		t.Fatalf("Failed to get shared MongoDB container: %v", err)
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cont.URI))
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), mongoCtxTimeout)
	defer pingCancel()
	if err = client.Ping(pingCtx, nil); err != nil {
		t.Fatalf("Failed to ping MongoDB: %v", err)
	}

	db := client.Database(TestDBName(t.Name()))

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), mongoCtxTimeout)
		defer cleanupCancel()
		_ = db.Drop(cleanupCtx)
		_ = client.Disconnect(cleanupCtx)
	})

	return client, db
}

var invalidDBChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// TestDBName creates a valid database name from a test name
func TestDBName(testName string) string {
	name := invalidDBChars.ReplaceAllString(testName, "_")
	if len(name) > maxTestNameLength {
		// MongoDB limit: 63 chars
		hash := sha256.Sum256([]byte(testName))
		name = name[:20] + "_" + hex.EncodeToString(hash[:])[:12]
	}
	return "actuality_test_" + name
}

// CleanupSharedMongoContainer terminates the shared container.
// This is typically called from TestMain.
func CleanupSharedMongoContainer() {
	if sharedMongo != nil && sharedMongo.Container != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mongoContainerTerminateTimeout)
		defer cancel()
		_ = sharedMongo.Container.Terminate(ctx)
	}
}
