package locking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/uploadkit/tusk/pkg/logger"
	"github.com/uploadkit/tusk/pkg/tuserr"
	"github.com/uploadkit/tusk/pkg/types"
)

// DefaultStaleThreshold is how old a lock file must be before the stale
// sweep force-releases it.
const DefaultStaleThreshold = 15 * time.Minute

const lockSuffix = ".lock"

// DiskLocker represents held locks as exclusively-created lock files, so
// multiple processes sharing a filesystem serialize on the same upload.
// A crashed holder leaves its file behind; CleanupStaleLocks reclaims
// files older than the threshold. The heuristic is purely time based: a
// request slower than the threshold can lose its lock. Size the
// threshold well above the longest expected request.
type DiskLocker struct {
	dir       string
	staleness time.Duration

	// Files alone cannot serialize two goroutines in one process that
	// race between Exists and Create; the in-process registry closes
	// that window.
	local *MemoryLocker
	mu    sync.Mutex
}

// NewDiskLocker creates a locker storing lock files in dir. A
// staleness of zero selects DefaultStaleThreshold.
func NewDiskLocker(dir string, staleness time.Duration) (*DiskLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	if staleness <= 0 {
		staleness = DefaultStaleThreshold
	}
	return &DiskLocker{dir: dir, staleness: staleness, local: NewMemoryLocker()}, nil
}

func (l *DiskLocker) path(id types.UploadID) string {
	return filepath.Join(l.dir, id.String()+lockSuffix)
}

func (l *DiskLocker) LockUpload(ctx context.Context, id types.UploadID) (Lock, error) {
	inner, err := l.local.LockUpload(ctx, id)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(l.path(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		inner.Release()
		if os.IsExist(err) {
			lockContention.Inc()
			return nil, tuserr.ErrLockAcquire
		}
		return nil, tuserr.ErrLockUnavailable.WithMessage(
			fmt.Sprintf("cannot create lock file: %v", err))
	}
	f.Close()

	return &diskLock{locker: l, id: id, inner: inner}, nil
}

func (l *DiskLocker) IsLocked(id types.UploadID) bool {
	if l.local.IsLocked(id) {
		return true
	}
	_, err := os.Stat(l.path(id))
	return err == nil
}

// CleanupStaleLocks removes lock files older than the staleness
// threshold. Locks held by this process are never reclaimed.
func (l *DiskLocker) CleanupStaleLocks() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read lock dir: %w", err)
	}

	cutoff := time.Now().Add(-l.staleness)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, lockSuffix) {
			continue
		}
		id := types.UploadID(strings.TrimSuffix(name, lockSuffix))
		if l.local.IsLocked(id) {
			continue
		}
		fi, err := e.Info()
		if err != nil || fi.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, name)); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("upload_id", id.String()).Msg("failed to remove stale lock")
			continue
		}
		staleLocksReleased.Inc()
		logger.Info().Str("upload_id", id.String()).Msg("released stale lock")
	}
	return nil
}

func (l *DiskLocker) release(id types.UploadID) {
	if err := os.Remove(l.path(id)); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("upload_id", id.String()).Msg("failed to remove lock file")
	}
}

type diskLock struct {
	locker *DiskLocker
	id     types.UploadID
	inner  Lock
	once   sync.Once
}

func (d *diskLock) Release() {
	d.once.Do(func() {
		d.locker.release(d.id)
		d.inner.Release()
	})
}
