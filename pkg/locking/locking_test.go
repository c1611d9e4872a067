package locking

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uploadkit/tusk/pkg/tuserr"
	"github.com/uploadkit/tusk/pkg/types"
)

func newLockers(t *testing.T) map[string]Locker {
	t.Helper()

	disk, err := NewDiskLocker(t.TempDir(), 0)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Locker{
		"memory": NewMemoryLocker(),
		"disk":   disk,
		"redis":  NewRedisLocker(client, 0),
	}
}

func TestLocker_AcquireRelease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, l := range newLockers(t) {
		t.Run(name, func(t *testing.T) {
			id := types.UploadID("upload-1-" + name)

			lock, err := l.LockUpload(ctx, id)
			require.NoError(t, err)
			assert.True(t, l.IsLocked(id))

			lock.Release()
			assert.False(t, l.IsLocked(id))

			// Re-acquirable after release.
			lock, err = l.LockUpload(ctx, id)
			require.NoError(t, err)
			lock.Release()
		})
	}
}

func TestLocker_ContentionFailsFast(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, l := range newLockers(t) {
		t.Run(name, func(t *testing.T) {
			id := types.UploadID("upload-2-" + name)

			lock, err := l.LockUpload(ctx, id)
			require.NoError(t, err)
			defer lock.Release()

			_, err = l.LockUpload(ctx, id)
			assert.ErrorIs(t, err, tuserr.ErrLockAcquire)
		})
	}
}

func TestLocker_DifferentIDsProceedInParallel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, l := range newLockers(t) {
		t.Run(name, func(t *testing.T) {
			a, err := l.LockUpload(ctx, types.UploadID("a-"+name))
			require.NoError(t, err)
			defer a.Release()

			b, err := l.LockUpload(ctx, types.UploadID("b-"+name))
			require.NoError(t, err)
			defer b.Release()
		})
	}
}

func TestLocker_DoubleReleaseIsSafe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, l := range newLockers(t) {
		t.Run(name, func(t *testing.T) {
			lock, err := l.LockUpload(ctx, types.UploadID("d-"+name))
			require.NoError(t, err)
			lock.Release()
			lock.Release()
		})
	}
}

func TestMemoryLocker_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := NewMemoryLocker()
	id := types.UploadID("contended")

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lock, err := l.LockUpload(ctx, id); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
				lock.Release()
			}
		}()
	}
	wg.Wait()

	// At least one winner, and the lock is free afterwards.
	assert.Greater(t, won, 0)
	assert.False(t, l.IsLocked(id))
}

func TestDiskLocker_StaleCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := NewDiskLocker(dir, time.Minute)
	require.NoError(t, err)

	// A lock file left behind by a dead process.
	stalePath := filepath.Join(dir, "dead-upload.lock")
	require.NoError(t, os.WriteFile(stalePath, nil, 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stalePath, old, old))

	assert.True(t, l.IsLocked(types.UploadID("dead-upload")))

	require.NoError(t, l.CleanupStaleLocks())
	assert.False(t, l.IsLocked(types.UploadID("dead-upload")))
}

func TestDiskLocker_StaleCleanupSparesFreshAndHeld(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	l, err := NewDiskLocker(dir, time.Minute)
	require.NoError(t, err)

	held, err := l.LockUpload(ctx, types.UploadID("held"))
	require.NoError(t, err)
	defer held.Release()

	freshPath := filepath.Join(dir, "fresh.lock")
	require.NoError(t, os.WriteFile(freshPath, nil, 0o644))

	require.NoError(t, l.CleanupStaleLocks())

	assert.True(t, l.IsLocked(types.UploadID("held")))
	assert.True(t, l.IsLocked(types.UploadID("fresh")))
}

func TestDiskLocker_CrossInstanceContention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	l1, err := NewDiskLocker(dir, 0)
	require.NoError(t, err)
	l2, err := NewDiskLocker(dir, 0)
	require.NoError(t, err)

	lock, err := l1.LockUpload(ctx, types.UploadID("shared"))
	require.NoError(t, err)

	_, err = l2.LockUpload(ctx, types.UploadID("shared"))
	assert.ErrorIs(t, err, tuserr.ErrLockAcquire)

	lock.Release()
	lock2, err := l2.LockUpload(ctx, types.UploadID("shared"))
	require.NoError(t, err)
	lock2.Release()
}

func TestRedisLocker_LeaseExpiryRecoversLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLocker(client, time.Second)

	_, err := l.LockUpload(ctx, types.UploadID("leased"))
	require.NoError(t, err)
	assert.True(t, l.IsLocked(types.UploadID("leased")))

	// Simulate the holder crashing and the lease running out.
	mr.FastForward(2 * time.Second)

	lock, err := l.LockUpload(ctx, types.UploadID("leased"))
	require.NoError(t, err)
	lock.Release()
}

func TestRedisLocker_StaleReleaseDoesNotStealNewLease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLocker(client, time.Second)

	old, err := l.LockUpload(ctx, types.UploadID("steal"))
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := l.LockUpload(ctx, types.UploadID("steal"))
	require.NoError(t, err)

	// The expired holder releasing must not drop the new lease.
	old.Release()
	assert.True(t, l.IsLocked(types.UploadID("steal")))

	fresh.Release()
	assert.False(t, l.IsLocked(types.UploadID("steal")))
}
