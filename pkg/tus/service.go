// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/uploadkit/tusk/pkg/concat"
	"github.com/uploadkit/tusk/pkg/hooks"
	"github.com/uploadkit/tusk/pkg/locking"
	"github.com/uploadkit/tusk/pkg/logger"
	"github.com/uploadkit/tusk/pkg/storage/store"
	"github.com/uploadkit/tusk/pkg/tuserr"
	"github.com/uploadkit/tusk/pkg/types"
	"github.com/uploadkit/tusk/pkg/upload"
)

// Config holds Service construction parameters.
type Config struct {
	Store  *store.UploadStore
	Locker locking.Locker
	Concat *concat.Service
	IDs    upload.IDFactory

	// Hooks emits upload lifecycle events. Nil disables emission.
	Hooks *hooks.Emitter

	// BasePath is the endpoint path uploads live under, e.g. "/files".
	BasePath string

	// DisabledExtensions lists optional extension names to leave out.
	// The core protocol cannot be disabled.
	DisabledExtensions []string
}

// Service is the protocol front: it serializes requests per upload id,
// runs the validator and handler pipelines of every enabled extension
// and guarantees a terminal response on every path.
type Service struct {
	store  *store.UploadStore
	locker locking.Locker
	concat *concat.Service
	ids    upload.IDFactory
	hooks  *hooks.Emitter

	basePath        string
	extensions      []Extension
	supported       map[string]struct{}
	checksumEnabled bool
}

// NewService builds the Service with its extensions in protocol order.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("tus: store is required")
	}
	if cfg.Locker == nil {
		return nil, fmt.Errorf("tus: locker is required")
	}
	if cfg.IDs == nil {
		return nil, fmt.Errorf("tus: id factory is required")
	}

	disabled := make(map[string]struct{}, len(cfg.DisabledExtensions))
	for _, name := range cfg.DisabledExtensions {
		if name == "core" {
			return nil, fmt.Errorf("tus: the core protocol cannot be disabled")
		}
		disabled[name] = struct{}{}
	}

	all := []Extension{
		coreExtension{},
		creationExtension{},
		checksumExtension{},
		terminationExtension{},
		expirationExtension{},
		concatenationExtension{},
		downloadExtension{},
	}

	emitter := cfg.Hooks
	if emitter == nil {
		emitter = hooks.NoopEmitter()
	}

	s := &Service{
		store:     cfg.Store,
		locker:    cfg.Locker,
		ids:       cfg.IDs,
		hooks:     emitter,
		basePath:  cfg.BasePath,
		supported: make(map[string]struct{}),
	}
	cfg.Store.SetOnExpired(func(rec types.UploadInfo) {
		s.hooks.Emit(context.Background(), hooks.NewEvent(hooks.EventUploadExpired, &rec))
	})
	known := make(map[string]struct{}, len(all))
	for _, ext := range all {
		known[ext.Name()] = struct{}{}
		if _, off := disabled[ext.Name()]; off {
			continue
		}
		s.extensions = append(s.extensions, ext)
		for _, m := range ext.Methods() {
			s.supported[m] = struct{}{}
		}
		if ext.Name() == "checksum" {
			s.checksumEnabled = true
		}
		if ext.Name() == "concatenation" {
			if cfg.Concat == nil {
				cfg.Concat = concat.NewService(cfg.Store)
			}
			s.concat = cfg.Concat
			cfg.Store.SetConcatenator(cfg.Concat)
		}
	}
	for name := range disabled {
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("tus: unknown extension %q", name)
		}
	}

	return s, nil
}

// extensionTokens returns the Tus-Extension values in protocol order.
func (s *Service) extensionTokens() []string {
	var tokens []string
	for _, ext := range s.extensions {
		tokens = append(tokens, ext.Tokens()...)
	}
	return tokens
}

func (s *Service) uploadLocation(id types.UploadID) string {
	base := s.basePath
	if base == "" || base[len(base)-1] != '/' {
		base += "/"
	}
	return base + id.String()
}

// Handler adapts the Service to net/http. When ownerKeyHeader is
// non-empty, its request header value partitions uploads per caller.
func (s *Service) Handler(ownerKeyHeader string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ownerKey string
		if ownerKeyHeader != "" {
			ownerKey = r.Header.Get(ownerKeyHeader)
		}
		s.Process(w, r, ownerKey)
	})
}

// Process runs one request through the pipeline: acquire the per-id
// lock, validate, handle, and always send a response.
func (s *Service) Process(w http.ResponseWriter, r *http.Request, ownerKey string) {
	ctx := r.Context()
	req := NewHTTPRequest(r)
	resp := NewHTTPResponse(w)
	resp.SetHeader(HeaderTusResumable, Version)

	requestsTotal.WithLabelValues(req.Method()).Inc()

	err := func() error {
		if _, ok := s.supported[req.Method()]; !ok {
			return tuserr.ErrUnsupportedMethod
		}

		// Requests addressing an individual upload are serialized on
		// its id for the whole validate-and-process pipeline.
		if id, ok := s.ids.FromURI(req.Path()); ok {
			lock, err := s.locker.LockUpload(ctx, id)
			if err != nil {
				return err
			}
			defer lock.Release()
		}

		if err := s.validate(ctx, req, ownerKey); err != nil {
			return err
		}
		return s.handle(ctx, req, resp, ownerKey)
	}()
	if err != nil {
		s.handleError(ctx, req, resp, err)
	} else if req.completed && req.info != nil {
		s.hooks.Emit(ctx, hooks.NewEvent(hooks.EventUploadCompleted, req.info))
	}

	if err := resp.Flush(); err != nil {
		logger.Ctx(ctx).Debug().Err(err).Msg("failed to write response")
	}
}

func (s *Service) validate(ctx context.Context, req *HTTPRequest, ownerKey string) error {
	for _, ext := range s.extensions {
		for _, v := range ext.Validators() {
			if !v.Supports(req.Method()) {
				continue
			}
			if err := v.Validate(ctx, req, s, ownerKey); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) handle(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, ownerKey string) error {
	for _, ext := range s.extensions {
		for _, h := range ext.Handlers() {
			if !h.Supports(req.Method()) || req.alreadyProcessed(h) {
				continue
			}
			req.markProcessed(h)
			if err := h.Process(ctx, req, resp, s, ownerKey); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleError gives every extension a chance to react, then overwrites
// the buffered response with the error outcome. Failures while handling
// the failure are logged and swallowed so a response is always sent.
func (s *Service) handleError(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, cause error) {
	for _, ext := range s.extensions {
		if err := ext.HandleError(ctx, req, resp, cause); err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("extension", ext.Name()).
				Msg("extension error handling failed")
		}
	}

	protocolErrors.WithLabelValues(errorCode(cause)).Inc()
	if !tuserr.IsProtocol(cause) {
		logger.Ctx(ctx).Error().Err(cause).
			Str("method", req.Method()).
			Str("path", req.Path()).
			Msg("request failed")
	} else {
		logger.Ctx(ctx).Debug().Err(cause).
			Str("method", req.Method()).
			Str("path", req.Path()).
			Msg("request rejected")
	}

	resp.SetStatus(tuserr.Status(cause))
	resp.SetBodyString(tuserr.Message(cause))
}

func errorCode(err error) string {
	var te tuserr.Error
	if errors.As(err, &te) {
		return te.Code
	}
	return tuserr.ErrInternal.Code
}

// currentInfo returns the request's resolved record, recomputing the
// derived view first for concatenated uploads.
func (s *Service) currentInfo(ctx context.Context, req *HTTPRequest) (*types.UploadInfo, error) {
	if req.info == nil {
		return nil, tuserr.ErrNotFound
	}
	if req.info.Type == types.UploadTypeConcatenated && s.concat != nil {
		merged, err := s.concat.Merge(ctx, req.info)
		if err != nil {
			return nil, err
		}
		req.info = merged
	}
	return req.info, nil
}

// GetUploadInfo returns the current record for uri, merged for
// concatenated uploads, under the per-id lock.
func (s *Service) GetUploadInfo(ctx context.Context, uri, ownerKey string) (*types.UploadInfo, error) {
	info, release, err := s.lockedInfo(ctx, uri, ownerKey)
	if err != nil {
		return nil, err
	}
	defer release()
	return info, nil
}

// GetUploadedBytes returns a stream over the complete payload of uri,
// under the per-id lock. For a concatenated upload with incomplete
// constituents the stream is nil.
func (s *Service) GetUploadedBytes(ctx context.Context, uri, ownerKey string) (io.ReadCloser, error) {
	_, release, err := s.lockedInfo(ctx, uri, ownerKey)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.store.GetUploadedBytes(ctx, uri, ownerKey)
}

// DeleteUpload terminates the upload addressed by uri, under the
// per-id lock.
func (s *Service) DeleteUpload(ctx context.Context, uri, ownerKey string) error {
	info, release, err := s.lockedInfo(ctx, uri, ownerKey)
	if err != nil {
		return err
	}
	defer release()
	if err := s.store.Terminate(ctx, info); err != nil {
		return err
	}
	s.hooks.Emit(ctx, hooks.NewEvent(hooks.EventUploadTerminated, info))
	return nil
}

func (s *Service) lockedInfo(ctx context.Context, uri, ownerKey string) (*types.UploadInfo, func(), error) {
	id, ok := s.ids.FromURI(uri)
	if !ok {
		return nil, nil, tuserr.ErrNotFound
	}
	lock, err := s.locker.LockUpload(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	info, err := s.store.GetUploadInfo(ctx, id, ownerKey)
	if err != nil {
		lock.Release()
		return nil, nil, err
	}
	if info.Type == types.UploadTypeConcatenated && s.concat != nil {
		if info, err = s.concat.Merge(ctx, info); err != nil {
			lock.Release()
			return nil, nil, err
		}
	}
	return info, lock.Release, nil
}

// Cleanup releases stale locks and removes expired, unlocked uploads.
// Meant to run periodically.
func (s *Service) Cleanup(ctx context.Context) error {
	if err := s.locker.CleanupStaleLocks(); err != nil {
		return fmt.Errorf("cleanup stale locks: %w", err)
	}
	return s.store.CleanupExpired(ctx, s.locker)
}
