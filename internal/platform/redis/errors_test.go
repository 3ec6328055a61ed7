package redis

import (
	"errors"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/safe-notify/internal/store"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, MapError(nil))
	assert.ErrorIs(t, MapError(goredis.Nil), store.ErrNotFound)
	assert.ErrorIs(t, MapError(goredis.TxFailedErr), store.ErrConflict)

	other := errors.New("dial tcp: connection refused")
	assert.Same(t, other, MapError(other))
}

func TestKeys(t *testing.T) {
	t.Parallel()

	k := keys{prefix: "notify"}
	assert.Equal(t, "notify:task:abc", k.task("abc"))
	assert.Equal(t, "notify:idem:ticket_escalated:T-1:EMAIL:a@b.co", k.idempotency("ticket_escalated:T-1:EMAIL:a@b.co"))
	assert.Equal(t, "notify:tasks:updated", k.updated())
	assert.Equal(t, "notify:tasks:due", k.due())
	assert.Equal(t, "notify:tasks:processing", k.processing())
}
