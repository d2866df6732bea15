package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartMosquitto runs a disposable MQTT broker accepting anonymous clients
// and returns its tcp:// URL. The test is skipped under -short.
func StartMosquitto(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping mqtt integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokerC, err := testcontainers.Run(
		ctx, "eclipse-mosquitto:2",
		testcontainers.WithExposedPorts("1883/tcp"),
		// The image ships this config; the default one only listens on localhost.
		testcontainers.WithCmd("mosquitto", "-c", "/mosquitto-no-auth.conf"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("1883/tcp").WithStartupTimeout(time.Minute),
		),
	)
	testcontainers.CleanupContainer(t, brokerC)
	require.NoError(t, err)

	endpoint, err := brokerC.Endpoint(ctx, "tcp")
	require.NoError(t, err)

	return endpoint
}
