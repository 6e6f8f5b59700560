package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testDBImage    = "postgres:15-alpine"
	testDBName     = "acmeforge_test"
	testDBUser     = "acmeforge"
	testDBPassword = "acmeforge-test-pw"
)

// SetupTestDB starts a disposable PostgreSQL container for storage tests.
// It returns the DSN for the database and a cleanup function the caller
// should defer to terminate the container.
func SetupTestDB(t *testing.T) (string, func()) {
	t.Helper()

	ctx := context.Background()

	// Wait until the server both logs readiness and accepts connections;
	// the image restarts once during init, so the log line alone is not enough.
	ready := wait.ForAll(
		wait.ForLog("database system is ready to accept connections").
			WithOccurrence(1).
			WithStartupTimeout(time.Minute),
		wait.ForListeningPort(nat.Port("5432/tcp")).
			WithStartupTimeout(time.Minute),
	).WithDeadline(2 * time.Minute)

	container, err := postgres.Run(ctx,
		testDBImage,
		postgres.WithDatabase(testDBName),
		postgres.WithUsername(testDBUser),
		postgres.WithPassword(testDBPassword),
		testcontainers.WithWaitStrategy(ready),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %s", err)
	}

	cleanup := func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer stopCancel()
		if err := container.Terminate(stopCtx); err != nil {
			t.Logf("WARN: Failed to terminate postgres container: %s", err)
		}
	}

	dsnCtx, dsnCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dsnCancel()
	dsn, err := container.ConnectionString(dsnCtx, "sslmode=disable")
	if err != nil {
		cleanup()
		t.Fatalf("Failed to get connection string: %s", err)
	}

	return dsn, cleanup
}
