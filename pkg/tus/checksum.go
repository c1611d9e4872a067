// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import (
	"context"
	"net/http"

	"github.com/uploadkit/tusk/pkg/logger"
	"github.com/uploadkit/tusk/pkg/tuserr"
)

// checksumExtension verifies Upload-Checksum digests over appended
// bytes and rolls back rejected writes.
type checksumExtension struct{}

func (checksumExtension) Name() string      { return "checksum" }
func (checksumExtension) Tokens() []string  { return []string{"checksum"} }
func (checksumExtension) Methods() []string { return nil }

func (checksumExtension) Validators() []RequestValidator {
	return []RequestValidator{checksumValidator{}}
}

func (checksumExtension) Handlers() []RequestHandler {
	return []RequestHandler{&verifyChecksumHandler{}}
}

func (checksumExtension) HandleError(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, cause error) error {
	return nil
}

// checksumValidator rejects unsupported or malformed Upload-Checksum
// headers before any byte is stored.
type checksumValidator struct{}

func (checksumValidator) Supports(method string) bool { return method == http.MethodPatch }

func (checksumValidator) Validate(ctx context.Context, req *HTTPRequest, svc *Service, ownerKey string) error {
	v := req.Header(HeaderUploadChecksum)
	if v == "" {
		return nil
	}
	algo, _, ok := parseChecksumHeader(v)
	if !ok {
		return tuserr.ErrChecksumUnsupported.WithMessage("malformed Upload-Checksum header")
	}
	if _, supported := checksumAlgorithms[algo]; !supported {
		return tuserr.ErrChecksumUnsupported.WithMessage("unsupported Upload-Checksum algorithm " + algo)
	}
	return nil
}

// verifyChecksumHandler runs after the append: on digest mismatch the
// just-written bytes are removed again before the request fails.
type verifyChecksumHandler struct{}

func (*verifyChecksumHandler) Supports(method string) bool { return method == http.MethodPatch }

func (*verifyChecksumHandler) Process(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, svc *Service, ownerKey string) error {
	if !req.HasChecksum() || req.ChecksumMatches() {
		return nil
	}

	if req.appended > 0 && req.info != nil {
		rolled, err := svc.store.RemoveLastBytes(ctx, req.info, req.appended)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("upload_id", req.info.ID.String()).
				Int64("bytes", req.appended).
				Msg("failed to roll back rejected bytes")
		} else {
			req.info = rolled
			req.appended = 0
			req.completed = false
		}
	}
	return tuserr.ErrChecksumMismatch
}
