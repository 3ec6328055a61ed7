package redis

import (
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/safe-notify/internal/store"
)

// MapError maps a go-redis error to the matching store error. Errors that
// are already store errors pass through untouched.
func MapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, goredis.Nil):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case errors.Is(err, goredis.TxFailedErr):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}
