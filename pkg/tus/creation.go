// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import (
	"context"
	"net/http"
	"strings"

	"github.com/uploadkit/tusk/pkg/hooks"
	"github.com/uploadkit/tusk/pkg/logger"
	"github.com/uploadkit/tusk/pkg/tuserr"
	"github.com/uploadkit/tusk/pkg/types"
)

// creationExtension implements upload creation, creation-with-upload
// and deferred-length resolution.
type creationExtension struct{}

func (creationExtension) Name() string { return "creation" }

func (creationExtension) Tokens() []string {
	return []string{"creation", "creation-with-upload", "creation-defer-length"}
}

func (creationExtension) Methods() []string { return []string{http.MethodPost} }

func (creationExtension) Validators() []RequestValidator {
	return []RequestValidator{
		postLengthValidator{},
		patchLengthValidator{},
	}
}

func (creationExtension) Handlers() []RequestHandler {
	return []RequestHandler{
		&postHandler{},
		&resolveLengthHandler{},
	}
}

func (creationExtension) HandleError(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, cause error) error {
	return nil
}

// postLengthValidator checks the length declaration of a creation
// request: exactly one of Upload-Length and Upload-Defer-Length, except
// for final concatenation requests which carry neither.
type postLengthValidator struct{}

func (postLengthValidator) Supports(method string) bool { return method == http.MethodPost }

func (postLengthValidator) Validate(ctx context.Context, req *HTTPRequest, svc *Service, ownerKey string) error {
	hasLength := req.HasHeader(HeaderUploadLength)
	hasDefer := req.HasHeader(HeaderUploadDeferLength)
	finalConcat := strings.HasPrefix(req.Header(HeaderUploadConcat), "final")

	if hasDefer {
		if req.Header(HeaderUploadDeferLength) != "1" {
			return tuserr.ErrInvalidDeferLength
		}
		if hasLength {
			return tuserr.ErrAmbiguousUploadLength
		}
		return nil
	}

	if !hasLength {
		if finalConcat {
			return nil
		}
		return tuserr.ErrInvalidUploadLength
	}

	length, ok := req.Int64Header(HeaderUploadLength)
	if !ok || length < 0 {
		return tuserr.ErrInvalidUploadLength
	}
	if maxSize := svc.store.MaxUploadSize(); maxSize > 0 && length > maxSize {
		return tuserr.ErrMaxSizeExceeded
	}
	return nil
}

// patchLengthValidator governs deferred-length resolution: a length on
// PATCH is only valid while the stored length is unset, and must cover
// the bytes already stored plus the incoming body.
type patchLengthValidator struct{}

func (patchLengthValidator) Supports(method string) bool { return method == http.MethodPatch }

func (patchLengthValidator) Validate(ctx context.Context, req *HTTPRequest, svc *Service, ownerKey string) error {
	if req.HasHeader(HeaderUploadDeferLength) {
		return tuserr.ErrInvalidDeferLength.WithMessage("Upload-Defer-Length is only valid on creation")
	}
	if !req.HasHeader(HeaderUploadLength) {
		return nil
	}
	if req.info != nil && req.info.HasLength() {
		return tuserr.ErrUploadLengthAlreadySet
	}

	length, ok := req.Int64Header(HeaderUploadLength)
	if !ok || length < 0 {
		return tuserr.ErrInvalidUploadLength
	}
	if maxSize := svc.store.MaxUploadSize(); maxSize > 0 && length > maxSize {
		return tuserr.ErrMaxSizeExceeded
	}
	if req.info != nil {
		floor := req.info.Offset
		if cl := req.ContentLength(); cl > 0 {
			floor += cl
		}
		if length < floor {
			return tuserr.ErrInvalidUploadLength.WithMessage("Upload-Length is smaller than the bytes being stored")
		}
	}
	return nil
}

// postHandler creates the upload record and, for creation-with-upload,
// appends the request body immediately.
type postHandler struct{}

func (*postHandler) Supports(method string) bool { return method == http.MethodPost }

func (*postHandler) Process(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, svc *Service, ownerKey string) error {
	info := &types.UploadInfo{
		Type:            types.UploadTypeRegular,
		EncodedMetadata: req.Header(HeaderUploadMetadata),
	}
	if length, ok := req.Int64Header(HeaderUploadLength); ok {
		info.SetLength(length)
	}

	if concat := req.Header(HeaderUploadConcat); concat != "" && svc.concat != nil {
		if err := applyConcatHeader(info, concat, svc); err != nil {
			return err
		}
	}

	created, err := svc.store.Create(ctx, info, ownerKey)
	if err != nil {
		return err
	}
	req.info = created

	resp.SetHeader(HeaderLocation, svc.uploadLocation(created.ID))
	resp.SetStatus(http.StatusCreated)

	svc.hooks.Emit(ctx, hooks.NewEvent(hooks.EventUploadCreated, created))
	logger.Ctx(ctx).Info().
		Str("upload_id", created.ID.String()).
		Str("type", created.Type.String()).
		Msg("upload created")

	// Creation-with-upload: an offset stream body is appended in the
	// same request.
	ct := req.Header(HeaderContentType)
	if strings.EqualFold(ct, ContentTypeOffsetStream) && created.Type != types.UploadTypeConcatenated {
		updated, err := svc.store.Append(ctx, created, req.Body())
		if err != nil {
			return err
		}
		req.appended = updated.Offset
		req.info = updated
		req.completed = !updated.InProgress()
		resp.SetInt64Header(HeaderUploadOffset, updated.Offset)
	}

	return nil
}

// applyConcatHeader translates the Upload-Concat value into the record
// type and constituent list.
func applyConcatHeader(info *types.UploadInfo, value string, svc *Service) error {
	switch {
	case value == "partial":
		info.Type = types.UploadTypePartial
	case value == "final" || strings.HasPrefix(value, "final;"):
		info.Type = types.UploadTypeConcatenated
		info.ConcatHeader = value
		for _, uri := range strings.Fields(strings.TrimPrefix(strings.TrimPrefix(value, "final"), ";")) {
			id, ok := svc.ids.FromURI(uri)
			if !ok {
				return tuserr.ErrInvalidConcat.WithMessage("unresolvable partial upload reference " + uri)
			}
			info.PartIDs = append(info.PartIDs, id)
		}
	default:
		return tuserr.ErrInvalidConcat
	}
	return nil
}

// resolveLengthHandler fixes a deferred length when a PATCH carries
// Upload-Length. It runs after the append so the completion state it
// persists is final for this request.
type resolveLengthHandler struct{}

func (*resolveLengthHandler) Supports(method string) bool { return method == http.MethodPatch }

func (*resolveLengthHandler) Process(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, svc *Service, ownerKey string) error {
	if !req.HasHeader(HeaderUploadLength) || req.info == nil || req.info.HasLength() {
		return nil
	}
	length, ok := req.Int64Header(HeaderUploadLength)
	if !ok {
		return tuserr.ErrInvalidUploadLength
	}
	// A chunked PATCH bypasses the validator's floor check, so the
	// appended offset has to be re-checked here.
	if length < req.info.Offset {
		return tuserr.ErrInvalidUploadLength.WithMessage("Upload-Length is smaller than the received bytes")
	}

	updated := req.info.Clone()
	updated.SetLength(length)
	if err := svc.store.Update(ctx, updated); err != nil {
		return err
	}
	req.info = updated
	resp.SetInt64Header(HeaderUploadLength, length)

	if !updated.InProgress() {
		req.completed = true
		logger.Ctx(ctx).Info().
			Str("upload_id", updated.ID.String()).
			Int64("length", length).
			Msg("upload completed")
	}
	return nil
}
