package locking

import (
	"context"
	"sync"

	"github.com/uploadkit/tusk/pkg/tuserr"
	"github.com/uploadkit/tusk/pkg/types"
)

// MemoryLocker keeps the lock registry in process memory. Suitable for
// single-node deployments; locks die with the process, so stale cleanup
// is a no-op.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[types.UploadID]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[types.UploadID]struct{})}
}

func (l *MemoryLocker) LockUpload(ctx context.Context, id types.UploadID) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[id]; taken {
		lockContention.Inc()
		return nil, tuserr.ErrLockAcquire
	}
	l.held[id] = struct{}{}
	locksAcquired.Inc()

	return &memoryLock{locker: l, id: id}, nil
}

func (l *MemoryLocker) IsLocked(id types.UploadID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, taken := l.held[id]
	return taken
}

func (l *MemoryLocker) CleanupStaleLocks() error {
	return nil
}

func (l *MemoryLocker) release(id types.UploadID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}

type memoryLock struct {
	locker *MemoryLocker
	id     types.UploadID
	once   sync.Once
}

func (m *memoryLock) Release() {
	m.once.Do(func() { m.locker.release(m.id) })
}
