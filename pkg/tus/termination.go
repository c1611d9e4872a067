// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import (
	"context"
	"net/http"

	"github.com/uploadkit/tusk/pkg/hooks"
	"github.com/uploadkit/tusk/pkg/logger"
)

// terminationExtension deletes uploads on DELETE.
type terminationExtension struct{}

func (terminationExtension) Name() string                   { return "termination" }
func (terminationExtension) Tokens() []string               { return []string{"termination"} }
func (terminationExtension) Methods() []string              { return []string{http.MethodDelete} }
func (terminationExtension) Validators() []RequestValidator { return nil }

func (terminationExtension) Handlers() []RequestHandler {
	return []RequestHandler{&deleteHandler{}}
}

func (terminationExtension) HandleError(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, cause error) error {
	return nil
}

type deleteHandler struct{}

func (*deleteHandler) Supports(method string) bool { return method == http.MethodDelete }

func (*deleteHandler) Process(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, svc *Service, ownerKey string) error {
	if err := svc.store.Terminate(ctx, req.info); err != nil {
		return err
	}
	svc.hooks.Emit(ctx, hooks.NewEvent(hooks.EventUploadTerminated, req.info))
	logger.Ctx(ctx).Info().Str("upload_id", req.info.ID.String()).Msg("upload terminated")
	resp.SetStatus(http.StatusNoContent)
	return nil
}
