// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

// Package concat maintains the derived state of concatenated uploads:
// their offset and length are always recomputed from the constituent
// partial uploads, never accepted from a client.
package concat

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/uploadkit/tusk/pkg/logger"
	"github.com/uploadkit/tusk/pkg/types"
)

// Store is the slice of the storage service the concatenation logic
// needs.
type Store interface {
	GetUploadInfo(ctx context.Context, id types.UploadID, ownerKey string) (*types.UploadInfo, error)
	Update(ctx context.Context, info *types.UploadInfo) error
	PayloadReader(ctx context.Context, info *types.UploadInfo) (io.ReadCloser, error)
	ExpirationPeriod() time.Duration
}

// Service recomputes and serves the derived view of concatenated
// uploads.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// PartialUploads resolves the parent's constituent ids, in declared
// order, under the parent's owner key. Any missing constituent fails
// the whole resolution.
func (s *Service) PartialUploads(ctx context.Context, parent *types.UploadInfo) ([]*types.UploadInfo, error) {
	parts := make([]*types.UploadInfo, 0, len(parent.PartIDs))
	for _, id := range parent.PartIDs {
		part, err := s.store.GetUploadInfo(ctx, id, parent.OwnerKey)
		if err != nil {
			return nil, fmt.Errorf("resolve constituent %s: %w", id, err)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// Merge recomputes the parent's derived length and offset from its
// constituents and persists the parent when either changed.
//
// The length is the sum of constituent lengths, known only once every
// constituent has a known length. The offset is all-or-nothing: it
// becomes the total only when every constituent is fully written, and
// stays zero while any constituent is still in progress, so a
// concatenated upload is never partially exposed.
//
// An empty constituent list leaves the parent permanently in progress
// with an unset length.
func (s *Service) Merge(ctx context.Context, parent *types.UploadInfo) (*types.UploadInfo, error) {
	parts, err := s.PartialUploads(ctx, parent)
	if err != nil {
		return nil, err
	}

	merged := parent.Clone()
	recomputeLength(merged, parts)
	recomputeOffset(merged, parts)

	if changed(parent, merged) {
		if err := s.store.Update(ctx, merged); err != nil {
			return nil, fmt.Errorf("persist merged parent: %w", err)
		}
	}

	// Every merge extends the window of the parent and of constituents
	// that already finished, so an early-finished partial does not
	// expire while its siblings are still uploading.
	s.refreshExpiration(ctx, merged, parts)

	return merged, nil
}

func recomputeLength(parent *types.UploadInfo, parts []*types.UploadInfo) {
	if len(parts) == 0 {
		parent.Length = nil
		return
	}
	var total int64
	for _, p := range parts {
		if !p.HasLength() {
			// One deferred constituent keeps the whole length deferred.
			parent.Length = nil
			return
		}
		total += *p.Length
	}
	parent.SetLength(total)
}

// recomputeOffset sets the derived offset: the constituent total once
// every one is fully written, zero before that.
func recomputeOffset(parent *types.UploadInfo, parts []*types.UploadInfo) {
	if len(parts) == 0 {
		parent.Offset = 0
		return
	}
	var total int64
	for _, p := range parts {
		if p.InProgress() {
			parent.Offset = 0
			return
		}
		total += p.Offset
	}
	parent.Offset = total
}

func changed(before, after *types.UploadInfo) bool {
	if before.Offset != after.Offset {
		return true
	}
	if before.HasLength() != after.HasLength() {
		return true
	}
	return before.HasLength() && *before.Length != *after.Length
}

// refreshExpiration gives the parent and its completed constituents a
// fresh expiration window. A constituent still in progress is never
// touched; it may be receiving writes elsewhere.
func (s *Service) refreshExpiration(ctx context.Context, parent *types.UploadInfo, parts []*types.UploadInfo) {
	period := s.store.ExpirationPeriod()
	if period <= 0 {
		return
	}

	parent.Touch(period)
	if err := s.store.Update(ctx, parent); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("upload_id", parent.ID.String()).
			Msg("failed to refresh expiration on concatenated upload")
	}

	for _, p := range parts {
		if p.InProgress() {
			continue
		}
		p.Touch(period)
		if err := s.store.Update(ctx, p); err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("upload_id", p.ID.String()).
				Msg("failed to refresh expiration on constituent")
		}
	}
}

// ConcatenatedReader returns the ordered byte stream over all
// constituents once every one of them is complete, and nil (without
// error) while any is still in progress.
func (s *Service) ConcatenatedReader(ctx context.Context, parent *types.UploadInfo) (io.ReadCloser, error) {
	parts, err := s.PartialUploads(ctx, parent)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, nil
	}
	for _, p := range parts {
		if p.InProgress() {
			return nil, nil
		}
	}

	readers := make([]io.Reader, 0, len(parts))
	closers := make([]io.Closer, 0, len(parts))
	for _, p := range parts {
		r, err := s.store.PayloadReader(ctx, p)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, fmt.Errorf("open constituent %s: %w", p.ID, err)
		}
		readers = append(readers, r)
		closers = append(closers, r)
	}

	return &multiReadCloser{Reader: io.MultiReader(readers...), closers: closers}, nil
}

type multiReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
