// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

// Package locking provides per-upload-id mutual exclusion for request
// processing. A lock covers one request's whole validate-and-process
// pipeline; requests for different ids never contend.
package locking

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uploadkit/tusk/pkg/debug"
	"github.com/uploadkit/tusk/pkg/types"
)

// Lock is a held per-upload lock. Release must be called exactly once on
// every exit path; implementations tolerate double release.
type Lock interface {
	Release()
}

// Locker serializes requests per upload id.
type Locker interface {
	// LockUpload acquires the lock for id, failing fast with
	// tuserr.ErrLockAcquire when another request holds it and with
	// tuserr.ErrLockUnavailable when the lock state cannot be
	// determined.
	LockUpload(ctx context.Context, id types.UploadID) (Lock, error)

	// IsLocked reports, without blocking, whether id is currently held.
	IsLocked(id types.UploadID) bool

	// CleanupStaleLocks force-releases locks whose holder is presumed
	// dead. Implementations with self-expiring leases may no-op.
	CleanupStaleLocks() error
}

var (
	locksAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "locking",
		Name:      "acquired_total",
		Help:      "Total number of upload locks acquired",
	})

	lockContention = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "locking",
		Name:      "contention_total",
		Help:      "Total number of lock acquisitions rejected because the lock was held",
	})

	staleLocksReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tusk",
		Subsystem: "locking",
		Name:      "stale_released_total",
		Help:      "Total number of stale locks force-released",
	})
)

func init() {
	debug.Registry().MustRegister(locksAcquired, lockContention, staleLocksReleased)
}
