// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/uploadkit/tusk/pkg/logger"
	"github.com/uploadkit/tusk/pkg/tuserr"
	"github.com/uploadkit/tusk/pkg/types"
)

// coreExtension implements the mandatory part of the protocol: version
// negotiation, HEAD status queries, PATCH byte appends and OPTIONS
// discovery.
type coreExtension struct{}

func (coreExtension) Name() string      { return "core" }
func (coreExtension) Tokens() []string  { return nil }
func (coreExtension) Methods() []string { return []string{http.MethodHead, http.MethodPatch, http.MethodOptions} }

func (coreExtension) Validators() []RequestValidator {
	return []RequestValidator{
		versionValidator{},
		contentTypeValidator{},
		idExistsValidator{},
		offsetValidator{},
		contentLengthValidator{},
	}
}

func (coreExtension) Handlers() []RequestHandler {
	return []RequestHandler{
		&headHandler{},
		&patchHandler{},
		&optionsHandler{},
	}
}

func (coreExtension) HandleError(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, cause error) error {
	if errors.Is(cause, tuserr.ErrUnsupportedVersion) {
		resp.SetHeader(HeaderTusVersion, Version)
	}
	return nil
}

// versionValidator requires Tus-Resumable: 1.0.0 on every request
// except discovery and downloads.
type versionValidator struct{}

func (versionValidator) Supports(method string) bool {
	return method != http.MethodOptions && method != http.MethodGet
}

func (versionValidator) Validate(ctx context.Context, req *HTTPRequest, svc *Service, ownerKey string) error {
	if req.Header(HeaderTusResumable) != Version {
		return tuserr.ErrUnsupportedVersion
	}
	return nil
}

// contentTypeValidator requires the offset stream content type on
// appends.
type contentTypeValidator struct{}

func (contentTypeValidator) Supports(method string) bool { return method == http.MethodPatch }

func (contentTypeValidator) Validate(ctx context.Context, req *HTTPRequest, svc *Service, ownerKey string) error {
	ct := req.Header(HeaderContentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if !strings.EqualFold(ct, ContentTypeOffsetStream) {
		return tuserr.ErrInvalidContentType
	}
	return nil
}

// idExistsValidator resolves the addressed upload and caches the record
// on the request. Owner mismatches surface as not-found.
type idExistsValidator struct{}

var idMethods = methods(http.MethodHead, http.MethodPatch, http.MethodDelete, http.MethodGet)

func (idExistsValidator) Supports(method string) bool { return idMethods.contains(method) }

func (idExistsValidator) Validate(ctx context.Context, req *HTTPRequest, svc *Service, ownerKey string) error {
	id, ok := svc.ids.FromURI(req.Path())
	if !ok {
		return tuserr.ErrNotFound
	}
	info, err := svc.store.GetUploadInfo(ctx, id, ownerKey)
	if err != nil {
		return err
	}
	req.info = info
	return nil
}

// offsetValidator requires the client's Upload-Offset to equal the
// stored offset exactly. Concatenated uploads are left to the
// modify-final guard.
type offsetValidator struct{}

func (offsetValidator) Supports(method string) bool { return method == http.MethodPatch }

func (offsetValidator) Validate(ctx context.Context, req *HTTPRequest, svc *Service, ownerKey string) error {
	if req.info == nil || req.info.Type == types.UploadTypeConcatenated {
		return nil
	}
	offset, ok := req.Int64Header(HeaderUploadOffset)
	if !ok || offset < 0 {
		return tuserr.ErrInvalidOffset
	}
	if offset != req.info.Offset {
		return tuserr.ErrMismatchedOffset
	}
	return nil
}

// contentLengthValidator rejects appends whose declared body would
// overshoot the upload length.
type contentLengthValidator struct{}

func (contentLengthValidator) Supports(method string) bool { return method == http.MethodPatch }

func (contentLengthValidator) Validate(ctx context.Context, req *HTTPRequest, svc *Service, ownerKey string) error {
	if req.info == nil || req.info.Type == types.UploadTypeConcatenated {
		return nil
	}
	cl := req.ContentLength()
	if cl < 0 {
		// Chunked bodies are bounded by the append clamp instead.
		return nil
	}
	if req.info.HasLength() && req.info.Offset+cl > *req.info.Length {
		return tuserr.ErrInvalidContentLength
	}
	return nil
}

// headHandler answers status queries with the current offset, length
// and metadata.
type headHandler struct{}

func (*headHandler) Supports(method string) bool { return method == http.MethodHead }

func (*headHandler) Process(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, svc *Service, ownerKey string) error {
	info, err := svc.currentInfo(ctx, req)
	if err != nil {
		return err
	}

	resp.SetHeader("Cache-Control", "no-store")
	resp.SetInt64Header(HeaderUploadOffset, info.Offset)
	if info.HasLength() {
		resp.SetInt64Header(HeaderUploadLength, *info.Length)
	} else if info.Type != types.UploadTypeConcatenated {
		resp.SetHeader(HeaderUploadDeferLength, "1")
	}
	if info.EncodedMetadata != "" {
		resp.SetHeader(HeaderUploadMetadata, info.EncodedMetadata)
	}
	resp.SetHeader(HeaderContentLength, "0")
	resp.SetStatus(http.StatusNoContent)
	return nil
}

// patchHandler appends the request body at the validated offset.
type patchHandler struct{}

func (*patchHandler) Supports(method string) bool { return method == http.MethodPatch }

func (*patchHandler) Process(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, svc *Service, ownerKey string) error {
	if req.info.Type == types.UploadTypeConcatenated {
		return tuserr.ErrModifyFinal
	}

	before := req.info.Offset
	updated, err := svc.store.Append(ctx, req.info, req.Body())
	if err != nil {
		return err
	}
	req.appended = updated.Offset - before
	req.info = updated

	resp.SetInt64Header(HeaderUploadOffset, updated.Offset)
	resp.SetStatus(http.StatusNoContent)

	if !updated.InProgress() {
		req.completed = true
		logger.Ctx(ctx).Info().
			Str("upload_id", updated.ID.String()).
			Int64("length", *updated.Length).
			Msg("upload completed")
	}
	return nil
}

// optionsHandler answers protocol discovery.
type optionsHandler struct{}

func (*optionsHandler) Supports(method string) bool { return method == http.MethodOptions }

func (*optionsHandler) Process(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, svc *Service, ownerKey string) error {
	resp.SetHeader(HeaderTusVersion, Version)
	if tokens := svc.extensionTokens(); len(tokens) > 0 {
		resp.SetHeader(HeaderTusExtension, strings.Join(tokens, ","))
	}
	if maxSize := svc.store.MaxUploadSize(); maxSize > 0 {
		resp.SetInt64Header(HeaderTusMaxSize, maxSize)
	}
	if svc.checksumEnabled {
		resp.SetHeader(HeaderTusChecksumAlgo, strings.Join(ChecksumAlgorithms(), ","))
	}
	resp.SetStatus(http.StatusNoContent)
	return nil
}
