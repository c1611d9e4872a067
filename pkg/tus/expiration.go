// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import (
	"context"
	"net/http"
)

// expirationExtension advertises the Upload-Expires deadline on
// creating and mutating requests.
type expirationExtension struct{}

func (expirationExtension) Name() string                   { return "expiration" }
func (expirationExtension) Tokens() []string               { return []string{"expiration"} }
func (expirationExtension) Methods() []string              { return nil }
func (expirationExtension) Validators() []RequestValidator { return nil }

func (expirationExtension) Handlers() []RequestHandler {
	return []RequestHandler{&expiresHandler{}}
}

func (expirationExtension) HandleError(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, cause error) error {
	return nil
}

type expiresHandler struct{}

var expiresMethods = methods(http.MethodPost, http.MethodPatch, http.MethodHead)

func (*expiresHandler) Supports(method string) bool { return expiresMethods.contains(method) }

func (*expiresHandler) Process(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, svc *Service, ownerKey string) error {
	if req.info == nil || req.info.ExpiresAt == nil {
		return nil
	}
	resp.SetHeader(HeaderUploadExpires, req.info.ExpiresAt.UTC().Format(http.TimeFormat))
	return nil
}
