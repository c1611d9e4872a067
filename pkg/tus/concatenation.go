// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import (
	"context"
	"net/http"
	"strings"

	"github.com/uploadkit/tusk/pkg/tuserr"
	"github.com/uploadkit/tusk/pkg/types"
)

// concatenationExtension implements partial and final uploads: the
// Upload-Concat creation rules, the modify-final guard and the derived
// view of concatenated uploads.
type concatenationExtension struct{}

func (concatenationExtension) Name() string      { return "concatenation" }
func (concatenationExtension) Tokens() []string  { return []string{"concatenation"} }
func (concatenationExtension) Methods() []string { return nil }

func (concatenationExtension) Validators() []RequestValidator {
	return []RequestValidator{
		modifyFinalValidator{},
		concatPostValidator{},
	}
}

func (concatenationExtension) Handlers() []RequestHandler {
	return []RequestHandler{
		&mergeOnCreateHandler{},
		&concatHeadHandler{},
	}
}

func (concatenationExtension) HandleError(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, cause error) error {
	return nil
}

// modifyFinalValidator rejects byte appends against a concatenated
// upload; only its constituents accept bytes.
type modifyFinalValidator struct{}

func (modifyFinalValidator) Supports(method string) bool { return method == http.MethodPatch }

func (modifyFinalValidator) Validate(ctx context.Context, req *HTTPRequest, svc *Service, ownerKey string) error {
	if req.info != nil && req.info.Type == types.UploadTypeConcatenated {
		return tuserr.ErrModifyFinal
	}
	return nil
}

// concatPostValidator checks final creation requests: no declared
// length, and every referenced constituent must exist as a partial
// upload under the caller's owner key.
type concatPostValidator struct{}

func (concatPostValidator) Supports(method string) bool { return method == http.MethodPost }

func (concatPostValidator) Validate(ctx context.Context, req *HTTPRequest, svc *Service, ownerKey string) error {
	value := req.Header(HeaderUploadConcat)
	if value == "" || value == "partial" {
		return nil
	}
	if value != "final" && !strings.HasPrefix(value, "final;") {
		return tuserr.ErrInvalidConcat
	}
	if req.HasHeader(HeaderUploadLength) {
		return tuserr.ErrInvalidConcat.WithMessage("a final upload's length is derived, not declared")
	}

	for _, uri := range strings.Fields(strings.TrimPrefix(strings.TrimPrefix(value, "final"), ";")) {
		id, ok := svc.ids.FromURI(uri)
		if !ok {
			return tuserr.ErrInvalidConcat.WithMessage("unresolvable partial upload reference " + uri)
		}
		part, err := svc.store.GetUploadInfo(ctx, id, ownerKey)
		if err != nil {
			return err
		}
		if part.Type != types.UploadTypePartial {
			return tuserr.ErrInvalidConcat.WithMessage("upload " + id.String() + " is not a partial upload")
		}
	}
	return nil
}

// mergeOnCreateHandler derives the freshly created final upload's
// length and offset from its constituents.
type mergeOnCreateHandler struct{}

func (*mergeOnCreateHandler) Supports(method string) bool { return method == http.MethodPost }

func (*mergeOnCreateHandler) Process(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, svc *Service, ownerKey string) error {
	if req.info == nil || req.info.Type != types.UploadTypeConcatenated {
		return nil
	}
	merged, err := svc.concat.Merge(ctx, req.info)
	if err != nil {
		return err
	}
	req.info = merged
	return nil
}

// concatHeadHandler decorates status queries: the Upload-Concat echo
// and, for concatenated uploads, the merged offset and length computed
// by the preceding head handler.
type concatHeadHandler struct{}

func (*concatHeadHandler) Supports(method string) bool { return method == http.MethodHead }

func (*concatHeadHandler) Process(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, svc *Service, ownerKey string) error {
	switch req.info.Type {
	case types.UploadTypePartial:
		resp.SetHeader(HeaderUploadConcat, "partial")
	case types.UploadTypeConcatenated:
		resp.SetHeader(HeaderUploadConcat, req.info.ConcatHeader)
	}
	return nil
}
