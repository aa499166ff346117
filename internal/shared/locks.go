package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PaymentLockKey builds redis keys for payment allocation critical sections.
func PaymentLockKey(kind string, paymentID int64) string {
	return fmt.Sprintf("finance:%s:%d:lock", kind, paymentID)
}

// ErrLockHeld indicates another command currently owns the lock.
var ErrLockHeld = &Error{Code: CodeConflict, Message: "another command is processing this document"}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker hands out short-lived redis locks keyed by document.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewLocker constructs a Locker. A zero ttl defaults to 30 seconds.
func NewLocker(client redis.UniversalClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, ttl: ttl}
}

// Acquire takes the lock for key and returns the release func. It fails with
// ErrLockHeld instead of waiting when the key is already owned.
func (l *Locker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("locker not initialised")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld.WithDetail("key", key)
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}
