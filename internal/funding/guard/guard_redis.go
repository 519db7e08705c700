package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"fundpool/pkg/platform/sentinel"
)

const (
	defaultLeaseKey = "fundpool:withdrawal:lease"
	defaultLeaseTTL = 30 * time.Second
)

// releaseScript deletes the lease only if it still carries our token, so an
// expired lease re-acquired by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares the guard across processes with a SET NX PX lease. The
// TTL bounds how long a crashed holder can block withdrawals.
type RedisGuard struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// RedisOption configures a RedisGuard.
type RedisOption func(*RedisGuard)

// WithKey overrides the lease key.
func WithKey(key string) RedisOption {
	return func(g *RedisGuard) {
		if key != "" {
			g.key = key
		}
	}
}

// WithTTL overrides the lease TTL.
func WithTTL(ttl time.Duration) RedisOption {
	return func(g *RedisGuard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// NewRedisGuard creates a guard on client.
func NewRedisGuard(client redis.UniversalClient, opts ...RedisOption) *RedisGuard {
	g := &RedisGuard{
		client: client,
		key:    defaultLeaseKey,
		ttl:    defaultLeaseTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *RedisGuard) Acquire(ctx context.Context) (Lease, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire withdrawal lease: %w: %w", sentinel.ErrUnavailable, err)
	}
	if !ok {
		return nil, errConflict
	}
	return &redisLease{client: g.client, key: g.key, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release withdrawal lease: %w", err)
	}
	return nil
}
