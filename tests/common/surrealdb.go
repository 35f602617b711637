// Package common holds container fixtures shared by stockgen integration tests.
package common

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DefaultSurrealImage is the SurrealDB image the storage tests run against.
const DefaultSurrealImage = "surrealdb/surrealdb:v3.0.0"

var (
	surrealOnce sync.Once
	surreal     *SurrealDB
	surrealErr  error
)

// SurrealDB is a running SurrealDB container shared by every test in the process.
type SurrealDB struct {
	container testcontainers.Container
	address   string
}

// StartSurrealDB returns the shared container, starting it on first use.
// Tests are skipped under -short or when STOCKGEN_SKIP_CONTAINERS is set, so
// the badger-backed suites still run on machines without Docker.
// STOCKGEN_TEST_SURREAL_IMAGE overrides the image.
func StartSurrealDB(t *testing.T) *SurrealDB {
	t.Helper()
	if testing.Short() || os.Getenv("STOCKGEN_SKIP_CONTAINERS") != "" {
		t.Skip("container tests disabled")
	}

	surrealOnce.Do(func() {
		surreal, surrealErr = startSurrealDB(context.Background(), surrealImage())
	})
	if surrealErr != nil {
		t.Fatalf("SurrealDB container failed: %v", surrealErr)
	}
	return surreal
}

func surrealImage() string {
	if img := os.Getenv("STOCKGEN_TEST_SURREAL_IMAGE"); img != "" {
		return img
	}
	return DefaultSurrealImage
}

func startSurrealDB(ctx context.Context, image string) (*SurrealDB, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--user", "root", "--pass", "root"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("8000/tcp"),
				wait.ForLog("Started web server"),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "8000/tcp")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("container port: %w", err)
	}

	return &SurrealDB{
		container: container,
		address:   fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()),
	}, nil
}

// Address returns the WebSocket RPC address.
func (s *SurrealDB) Address() string {
	return s.address
}

// Terminate stops the container. Safe on nil.
func (s *SurrealDB) Terminate() {
	if s != nil && s.container != nil {
		s.container.Terminate(context.Background())
	}
}
