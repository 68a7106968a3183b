package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/ec-cart-consistency/internal/model"
)

const (
	keyPrefix     = "cart:lock:"
	retryInterval = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewClient connects to a single Redis node and checks it answers.
func NewClient(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, pkgerrors.Wrapf(err, "ping redis %s", addr)
	}
	return client, nil
}

// Locker is a lock.Locker shared by every API replica. A held lock expires
// after ttl so a crashed holder cannot wedge an owner's cart.
type Locker struct {
	client goredis.Cmdable
	ttl    time.Duration
	logger zerolog.Logger
}

func NewLocker(client goredis.Cmdable, ttl time.Duration, logger zerolog.Logger) *Locker {
	return &Locker{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "redis_locker").Logger(),
	}
}

func lockKey(owner model.OwnerKey) string {
	return keyPrefix + owner.String()
}

// Lock implements lock.Locker.
func (l *Locker) Lock(ctx context.Context, owner model.OwnerKey) (func(), error) {
	key := lockKey(owner)
	token := uuid.NewString()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "acquire %s", key)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		// Release with a fresh context so a cancelled request still frees the key.
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("failed to release lock")
		}
	}, nil
}
