package postgres_test

import (
	"context"
	"testing"

	"github.com/phrazzld/safe-notify/internal/ciutil"
	"github.com/phrazzld/safe-notify/internal/clock"
	"github.com/phrazzld/safe-notify/internal/platform/postgres"
	"github.com/phrazzld/safe-notify/internal/store"
	"github.com/phrazzld/safe-notify/internal/store/storetest"
	"github.com/stretchr/testify/require"
)

// TestPostgresTaskStoreContract runs the shared store contract against a real
// database at NOTIFY_TEST_DATABASE_URL, skipping outside CI when it is unset.
func TestPostgresTaskStoreContract(t *testing.T) {
	url := ciutil.RequireTestDatabaseURL(t)

	ctx := context.Background()
	db, err := postgres.Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, postgres.Migrate(ctx, db, "up", nil))

	storetest.RunTaskStoreTests(t, func(t *testing.T, clk clock.Clock) store.TaskStore {
		_, err := db.ExecContext(ctx, "TRUNCATE notification_tasks")
		require.NoError(t, err)
		return postgres.NewPostgresTaskStore(db, clk, nil)
	})
}
