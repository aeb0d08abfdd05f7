// Package lease serializes turns per conversation. A turn holds the
// conversation's lease from before the history read until after the final
// write, so concurrent requests cannot interleave appends.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrHeld is returned when another turn currently owns the conversation.
var ErrHeld = errors.New("conversation is busy")

// leaseTTL bounds how long a crashed holder can block a conversation.
const leaseTTL = 5 * time.Minute

// Guard hands out per-conversation leases. Acquire returns a release func
// that must be called on every exit path of the turn.
type Guard interface {
	Acquire(ctx context.Context, conversationID int64) (func(), error)
}

// releaseScript deletes the lease only when the token still matches, so a
// holder whose lease expired cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0`)

// RedisGuard coordinates leases across replicas through a shared Redis.
type RedisGuard struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisGuard(rdb *redis.Client, logger *zap.Logger) *RedisGuard {
	return &RedisGuard{rdb: rdb, logger: logger}
}

func (g *RedisGuard) Acquire(ctx context.Context, conversationID int64) (func(), error) {
	key := fmt.Sprintf("scout:lease:%d", conversationID)
	token := uuid.NewString()

	ok, err := g.rdb.SetNX(ctx, key, token, leaseTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lease for conversation %d: %w", conversationID, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	release := func() {
		// The turn's context may already be cancelled; the release still
		// has to go out.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, g.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			g.logger.Warn("failed to release conversation lease",
				zap.Int64("conversation_id", conversationID),
				zap.Error(err))
		}
	}
	return release, nil
}

// LocalGuard serializes turns within a single process. It is the fallback
// when no Redis is configured.
type LocalGuard struct {
	held sync.Map
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{}
}

func (g *LocalGuard) Acquire(_ context.Context, conversationID int64) (func(), error) {
	token := uuid.NewString()
	if _, loaded := g.held.LoadOrStore(conversationID, token); loaded {
		return nil, ErrHeld
	}
	return func() {
		g.held.CompareAndDelete(conversationID, token)
	}, nil
}
