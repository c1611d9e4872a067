// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

// Package store implements the upload storage service: it owns the
// persisted upload records and their payloads, and enforces the offset,
// length and max-size invariants on every mutation.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/uploadkit/tusk/pkg/logger"
	"github.com/uploadkit/tusk/pkg/storage/index"
	"github.com/uploadkit/tusk/pkg/tuserr"
	"github.com/uploadkit/tusk/pkg/types"
	"github.com/uploadkit/tusk/pkg/upload"
)

// LockChecker is the slice of the locking service the expiry sweep
// needs. A held lock vetoes removal.
type LockChecker interface {
	IsLocked(id types.UploadID) bool
}

// Concatenator resolves the payload of a concatenated upload. Set after
// construction to break the construction cycle between store and the
// concatenation service.
type Concatenator interface {
	// ConcatenatedReader returns the ordered payload stream of a
	// concatenated upload, or nil when any constituent is incomplete.
	ConcatenatedReader(ctx context.Context, info *types.UploadInfo) (io.ReadCloser, error)
}

// Config holds UploadStore construction parameters.
type Config struct {
	Backend types.BackendStorage
	Index   index.Indexer[types.UploadID, types.UploadInfo]
	IDs     upload.IDFactory

	// MaxUploadSize bounds any single upload; zero or negative means
	// unlimited.
	MaxUploadSize int64

	// ExpirationPeriod is added to now on every mutating touch; zero
	// means uploads never expire.
	ExpirationPeriod time.Duration
}

// UploadStore is the storage service. Callers must hold the per-upload
// lock around read-then-write sequences; the store additionally
// revalidates the persisted offset before appending.
type UploadStore struct {
	backend types.BackendStorage
	index   index.Indexer[types.UploadID, types.UploadInfo]
	ids     upload.IDFactory

	mu           sync.RWMutex
	maxSize      int64
	expirePeriod time.Duration

	concatMu sync.RWMutex
	concat   Concatenator

	onExpired func(types.UploadInfo)
}

// New creates an UploadStore.
func New(cfg Config) (*UploadStore, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("store: backend is required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("store: index is required")
	}
	if cfg.IDs == nil {
		return nil, fmt.Errorf("store: id factory is required")
	}

	return &UploadStore{
		backend:      cfg.Backend,
		index:        cfg.Index,
		ids:          cfg.IDs,
		maxSize:      cfg.MaxUploadSize,
		expirePeriod: cfg.ExpirationPeriod,
	}, nil
}

// SetConcatenator wires the concatenation service.
func (s *UploadStore) SetConcatenator(c Concatenator) {
	s.concatMu.Lock()
	defer s.concatMu.Unlock()
	s.concat = c
}

// SetOnExpired registers a callback invoked for every upload removed by
// the expiry sweep, after its payload and record are gone.
func (s *UploadStore) SetOnExpired(fn func(types.UploadInfo)) {
	s.concatMu.Lock()
	defer s.concatMu.Unlock()
	s.onExpired = fn
}

func (s *UploadStore) expiredCallback() func(types.UploadInfo) {
	s.concatMu.RLock()
	defer s.concatMu.RUnlock()
	return s.onExpired
}

func (s *UploadStore) concatenator() Concatenator {
	s.concatMu.RLock()
	defer s.concatMu.RUnlock()
	return s.concat
}

// SetMaxUploadSize updates the global size bound; zero or negative means
// unlimited.
func (s *UploadStore) SetMaxUploadSize(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSize = n
}

// MaxUploadSize returns the configured size bound.
func (s *UploadStore) MaxUploadSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// SetExpirationPeriod updates the expiration period; zero means never.
func (s *UploadStore) SetExpirationPeriod(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expirePeriod = d
}

// ExpirationPeriod returns the configured expiration period.
func (s *UploadStore) ExpirationPeriod() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expirePeriod
}

// Create assigns a fresh id, persists the record with offset zero and
// returns an independent copy.
func (s *UploadStore) Create(ctx context.Context, info *types.UploadInfo, ownerKey string) (*types.UploadInfo, error) {
	rec := info.Clone()
	rec.ID = s.ids.NewID()
	rec.Offset = 0
	rec.OwnerKey = ownerKey
	rec.CreatedAt = time.Now()
	rec.Touch(s.ExpirationPeriod())

	if err := s.index.PutSync(rec.ID, *rec); err != nil {
		return nil, fmt.Errorf("persist upload record: %w", err)
	}

	uploadsCreated.Inc()
	logger.Ctx(ctx).Debug().
		Str("upload_id", rec.ID.String()).
		Str("type", rec.Type.String()).
		Msg("upload created")

	return rec.Clone(), nil
}

// GetUploadInfo returns a copy of the record, or tuserr.ErrNotFound when
// the id is unknown or the owner key does not match. The two cases are
// indistinguishable so existence never leaks across owners.
func (s *UploadStore) GetUploadInfo(ctx context.Context, id types.UploadID, ownerKey string) (*types.UploadInfo, error) {
	rec, err := s.index.Get(id)
	if err != nil {
		if errors.Is(err, index.ErrKeyNotFound) {
			return nil, tuserr.ErrNotFound
		}
		return nil, fmt.Errorf("read upload record: %w", err)
	}
	if rec.OwnerKey != ownerKey {
		return nil, tuserr.ErrNotFound
	}
	return rec.Clone(), nil
}

// GetUploadInfoByURI resolves a request path to an upload id and loads
// its record.
func (s *UploadStore) GetUploadInfoByURI(ctx context.Context, uri, ownerKey string) (*types.UploadInfo, error) {
	id, ok := s.ids.FromURI(uri)
	if !ok {
		return nil, tuserr.ErrNotFound
	}
	return s.GetUploadInfo(ctx, id, ownerKey)
}

// Update persists mutated record fields for an existing upload.
func (s *UploadStore) Update(ctx context.Context, info *types.UploadInfo) error {
	if _, err := s.index.Get(info.ID); err != nil {
		if errors.Is(err, index.ErrKeyNotFound) {
			return tuserr.ErrNotFound
		}
		return fmt.Errorf("read upload record: %w", err)
	}
	if err := s.index.PutSync(info.ID, *info); err != nil {
		return fmt.Errorf("persist upload record: %w", err)
	}
	return nil
}

// Append writes bytes at the current offset. The persisted offset must
// equal info.Offset or the append is rejected without writing. Bytes
// beyond the declared length or the max upload size are drained and
// discarded, never written and never an error. The returned record's
// offset always reflects exactly the durably written bytes, including
// when an I/O error interrupts the copy.
func (s *UploadStore) Append(ctx context.Context, info *types.UploadInfo, data io.Reader) (*types.UploadInfo, error) {
	rec, err := s.index.Get(info.ID)
	if err != nil {
		if errors.Is(err, index.ErrKeyNotFound) {
			return nil, tuserr.ErrNotFound
		}
		return nil, fmt.Errorf("read upload record: %w", err)
	}
	if rec.OwnerKey != info.OwnerKey {
		return nil, tuserr.ErrNotFound
	}
	if rec.Offset != info.Offset {
		return nil, tuserr.ErrMismatchedOffset.WithMessage(fmt.Sprintf(
			"the persisted offset is %d but the append assumed %d", rec.Offset, info.Offset))
	}

	writable := s.writableBytes(&rec)

	var written int64
	var appendErr error
	if writable > 0 {
		written, appendErr = s.backend.Append(ctx, rec.ID.String(), io.LimitReader(data, writable))
	}

	if written > 0 {
		rec.Offset += written
		bytesWritten.Add(float64(written))
	}
	rec.Touch(s.ExpirationPeriod())
	if err := s.index.PutSync(rec.ID, rec); err != nil {
		return nil, fmt.Errorf("persist upload record: %w", err)
	}

	if appendErr != nil {
		// The offset already reflects the durable prefix; the caller
		// rolls nothing back and the client retries from rec.Offset.
		return rec.Clone(), fmt.Errorf("append payload: %w", appendErr)
	}

	// Drain whatever the bounds excluded so the client connection is
	// never left with an unconsumed body.
	if drained, err := io.Copy(io.Discard, data); err == nil && drained > 0 {
		bytesDiscarded.Add(float64(drained))
	}

	if rec.HasLength() && !rec.InProgress() {
		uploadsCompleted.Inc()
	}
	return rec.Clone(), nil
}

// writableBytes returns how many more bytes may be stored for rec,
// honoring the declared length and the global max size.
func (s *UploadStore) writableBytes(rec *types.UploadInfo) int64 {
	bound := int64(-1)
	if rec.HasLength() {
		bound = *rec.Length
	}
	if limit := s.MaxUploadSize(); limit > 0 && (bound < 0 || limit < bound) {
		bound = limit
	}
	if bound < 0 {
		// Unlimited: cap at a value LimitReader accepts.
		const unbounded = int64(1) << 62
		return unbounded
	}
	if bound <= rec.Offset {
		return 0
	}
	return bound - rec.Offset
}

// RemoveLastBytes truncates n bytes off the stored payload and
// decrements the offset accordingly. n larger than the current payload
// clamps to a full truncate.
func (s *UploadStore) RemoveLastBytes(ctx context.Context, info *types.UploadInfo, n int64) (*types.UploadInfo, error) {
	if n <= 0 {
		return info.Clone(), nil
	}
	rec, err := s.index.Get(info.ID)
	if err != nil {
		if errors.Is(err, index.ErrKeyNotFound) {
			return nil, tuserr.ErrNotFound
		}
		return nil, fmt.Errorf("read upload record: %w", err)
	}

	newOffset := rec.Offset - n
	if newOffset < 0 {
		newOffset = 0
	}
	if err := s.backend.Truncate(ctx, rec.ID.String(), newOffset); err != nil {
		return nil, fmt.Errorf("truncate payload: %w", err)
	}
	rec.Offset = newOffset
	if err := s.index.PutSync(rec.ID, rec); err != nil {
		return nil, fmt.Errorf("persist upload record: %w", err)
	}
	return rec.Clone(), nil
}

// GetUploadedBytes returns a stream over the complete stored payload.
// For concatenated uploads the constituents are stitched in order; nil
// is returned (without error) while any constituent is incomplete.
func (s *UploadStore) GetUploadedBytes(ctx context.Context, uri, ownerKey string) (io.ReadCloser, error) {
	info, err := s.GetUploadInfoByURI(ctx, uri, ownerKey)
	if err != nil {
		return nil, err
	}
	return s.uploadReader(ctx, info)
}

func (s *UploadStore) uploadReader(ctx context.Context, info *types.UploadInfo) (io.ReadCloser, error) {
	if info.Type == types.UploadTypeConcatenated {
		c := s.concatenator()
		if c == nil {
			return nil, fmt.Errorf("no concatenation service configured")
		}
		return c.ConcatenatedReader(ctx, info)
	}

	r, err := s.backend.Read(ctx, info.ID.String())
	if err != nil {
		// A record without payload is an upload that never received
		// bytes; surface an empty stream rather than an error.
		if exists, exErr := s.backend.Exists(ctx, info.ID.String()); exErr == nil && !exists {
			return io.NopCloser(strings.NewReader("")), nil
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return r, nil
}

// PayloadReader returns a stream over the stored payload of a regular
// or partial upload, without concatenation resolution. The
// concatenation service uses it to read constituents.
func (s *UploadStore) PayloadReader(ctx context.Context, info *types.UploadInfo) (io.ReadCloser, error) {
	if info.Type == types.UploadTypeConcatenated {
		return nil, fmt.Errorf("concatenated upload has no direct payload")
	}
	return s.uploadReader(ctx, info)
}

// CopyUploadTo streams the payload into w.
func (s *UploadStore) CopyUploadTo(ctx context.Context, info *types.UploadInfo, w io.Writer) error {
	r, err := s.uploadReader(ctx, info)
	if err != nil {
		return err
	}
	if r == nil {
		return tuserr.ErrUploadNotFinished
	}
	defer r.Close()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copy payload: %w", err)
	}
	return nil
}

// Terminate removes the record and payload. A nil info is a no-op.
func (s *UploadStore) Terminate(ctx context.Context, info *types.UploadInfo) error {
	if err := s.remove(ctx, info); err != nil {
		return err
	}
	if info != nil {
		uploadsTerminated.Inc()
	}
	return nil
}

// remove deletes payload and record without counting; Terminate and the
// expiry sweep count separately so one removal never shows up as both.
func (s *UploadStore) remove(ctx context.Context, info *types.UploadInfo) error {
	if info == nil {
		return nil
	}

	if err := s.backend.Delete(ctx, info.ID.String()); err != nil {
		return fmt.Errorf("delete payload: %w", err)
	}
	if err := s.index.DeleteSync(info.ID); err != nil {
		return fmt.Errorf("delete upload record: %w", err)
	}

	logger.Ctx(ctx).Debug().Str("upload_id", info.ID.String()).Msg("upload removed")
	return nil
}

// CleanupExpired removes every expired upload that is not currently
// locked. A held lock is a hard veto: the sweep never touches an upload
// with an in-flight request.
func (s *UploadStore) CleanupExpired(ctx context.Context, locks LockChecker) error {
	var expired []types.UploadInfo
	err := s.index.Iterate(func(id types.UploadID, rec types.UploadInfo) error {
		if rec.IsExpired() && !locks.IsLocked(id) {
			expired = append(expired, rec)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan upload records: %w", err)
	}

	for i := range expired {
		rec := &expired[i]
		// The lock state may have changed since the scan.
		if locks.IsLocked(rec.ID) {
			continue
		}
		if err := s.remove(ctx, rec); err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("upload_id", rec.ID.String()).
				Msg("failed to remove expired upload")
			continue
		}
		uploadsExpired.Inc()
		if fn := s.expiredCallback(); fn != nil {
			fn(*rec)
		}
	}

	if len(expired) > 0 {
		logger.Ctx(ctx).Info().Int("count", len(expired)).Msg("expiry sweep completed")
	}
	return nil
}
