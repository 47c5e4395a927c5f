//go:build integration

package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupCatalog(t *testing.T, ctx context.Context) string {
	t.Helper()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("catalog_test"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresWriter_RecordRun(t *testing.T) {
	ctx := context.Background()
	dsn := setupCatalog(t, ctx)

	w, err := NewPostgresWriter(ctx, CatalogConfig{PostgresDSN: dsn})
	require.NoError(t, err)
	defer w.Close()

	run := NewRunRecord(testManifest(), 2, 0)
	require.NoError(t, w.RecordRun(ctx, run))

	n, err := w.CountFiles(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The run id is the primary key, so a second insert rolls back whole.
	assert.Error(t, w.RecordRun(ctx, run))
	n, err = w.CountFiles(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPostgresWriter_SchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dsn := setupCatalog(t, ctx)

	first, err := NewPostgresWriter(ctx, CatalogConfig{PostgresDSN: dsn})
	require.NoError(t, err)
	first.Close()

	second, err := NewPostgresWriter(ctx, CatalogConfig{PostgresDSN: dsn})
	require.NoError(t, err)
	second.Close()
}
