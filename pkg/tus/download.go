// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import (
	"context"
	"net/http"
	"strconv"

	"github.com/uploadkit/tusk/pkg/tuserr"
)

// downloadExtension serves the bytes of finished uploads over GET.
type downloadExtension struct{}

func (downloadExtension) Name() string                   { return "download" }
func (downloadExtension) Tokens() []string               { return []string{"download"} }
func (downloadExtension) Methods() []string              { return []string{http.MethodGet} }
func (downloadExtension) Validators() []RequestValidator { return nil }

func (downloadExtension) Handlers() []RequestHandler {
	return []RequestHandler{&getHandler{}}
}

func (downloadExtension) HandleError(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, cause error) error {
	return nil
}

type getHandler struct{}

func (*getHandler) Supports(method string) bool { return method == http.MethodGet }

func (*getHandler) Process(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, svc *Service, ownerKey string) error {
	info, err := svc.currentInfo(ctx, req)
	if err != nil {
		return err
	}
	if info.InProgress() {
		return tuserr.ErrUploadInProgress
	}

	r, err := svc.store.GetUploadedBytes(ctx, req.Path(), ownerKey)
	if err != nil {
		return err
	}
	if r == nil {
		return tuserr.ErrUploadNotFinished
	}

	contentType := info.MimeType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	resp.SetHeader(HeaderContentType, contentType)
	resp.SetInt64Header(HeaderContentLength, info.Offset)
	resp.SetHeader("Content-Disposition", "attachment; filename="+strconv.Quote(info.FileName()))
	resp.SetStatus(http.StatusOK)
	resp.SetBodyReader(r)
	return nil
}
