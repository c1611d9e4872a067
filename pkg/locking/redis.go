package locking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/uploadkit/tusk/pkg/logger"
	"github.com/uploadkit/tusk/pkg/tuserr"
	"github.com/uploadkit/tusk/pkg/types"
)

// DefaultLeaseTTL bounds how long a crashed holder can wedge an upload
// id when locking through redis.
const DefaultLeaseTTL = 5 * time.Minute

const redisKeyPrefix = "tusk:lock:"

// releaseScript deletes the lock only when the stored token matches, so
// a lease that expired and was re-acquired by another request is never
// released by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes requests across multiple server processes with
// SET NX leases. Stale recovery comes from the lease TTL itself, so
// CleanupStaleLocks is a no-op.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisLocker creates a locker on the given client. A ttl of zero
// selects DefaultLeaseTTL.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func redisKey(id types.UploadID) string {
	return redisKeyPrefix + id.String()
}

func (l *RedisLocker) LockUpload(ctx context.Context, id types.UploadID) (Lock, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey(id), token, l.ttl).Result()
	if err != nil {
		return nil, tuserr.ErrLockUnavailable.WithMessage(
			fmt.Sprintf("redis lock acquire failed: %v", err))
	}
	if !ok {
		lockContention.Inc()
		return nil, tuserr.ErrLockAcquire
	}
	locksAcquired.Inc()

	return &redisLock{locker: l, id: id, token: token}, nil
}

func (l *RedisLocker) IsLocked(id types.UploadID) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := l.client.Exists(ctx, redisKey(id)).Result()
	if err != nil {
		// Treat unknown state as locked so the expiry sweep never
		// removes an upload that may have an in-flight request.
		logger.Warn().Err(err).Str("upload_id", id.String()).Msg("redis lock state unknown")
		return true
	}
	return n > 0
}

// CleanupStaleLocks is a no-op: leases expire on their own.
func (l *RedisLocker) CleanupStaleLocks() error {
	return nil
}

func (l *RedisLocker) release(id types.UploadID, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{redisKey(id)}, token).Err(); err != nil && err != redis.Nil {
		logger.Warn().Err(err).Str("upload_id", id.String()).Msg("failed to release redis lock")
	}
}

type redisLock struct {
	locker *RedisLocker
	id     types.UploadID
	token  string
	once   sync.Once
}

func (r *redisLock) Release() {
	r.once.Do(func() { r.locker.release(r.id, r.token) })
}
