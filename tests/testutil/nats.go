package testutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lllypuk/actuality/internal/config"
	"github.com/lllypuk/actuality/internal/infrastructure/natsconn"
)

const natsPort = "4222/tcp"

// StartNATS starts a NATS server with JetStream enabled and returns a connector
// to it. Server flags are rendered from cfg, the client port is always 4222 inside
// the container. The container is terminated after the test.
func StartNATS(t *testing.T, cfg config.BrokerConfig) natsconn.Connector {
	t.Helper()

	cfg.Server.Port = 4222
	cfg.JetStream.Enabled = true
	require.NoError(t, cfg.Validate())

	natsC, err := testcontainers.Run(
		t.Context(), "nats:2.11-alpine",
		testcontainers.WithCmd(cfg.Flags()...),
		testcontainers.WithExposedPorts(natsPort),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort(natsPort),
			wait.ForLog("Server is ready"),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(natsC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	host, err := natsC.Host(t.Context())
	require.NoError(t, err)
	mapped, err := natsC.MappedPort(t.Context(), natsPort)
	require.NoError(t, err)

	url := "nats://" + net.JoinHostPort(host, mapped.Port())
	t.Logf("nats url: %s", url)
	return natsconn.ConnectURL(url)
}
