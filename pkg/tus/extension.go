// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import "context"

// RequestValidator is a stateless precondition check executed before
// any handler mutates state.
type RequestValidator interface {
	// Supports reports whether the validator applies to the method.
	Supports(method string) bool

	// Validate fails fast with a tuserr error when the precondition
	// does not hold.
	Validate(ctx context.Context, req *HTTPRequest, svc *Service, ownerKey string) error
}

// RequestHandler processes one aspect of a request after all
// validators passed. Handlers of all extensions run in registration
// order; each handler runs at most once per request.
type RequestHandler interface {
	Supports(method string) bool
	Process(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, svc *Service, ownerKey string) error
}

// Extension is one protocol feature: its validators, its handlers, the
// methods it enables and its reaction to a failed request.
type Extension interface {
	// Name identifies the extension in logs and in the disable list.
	Name() string

	// Tokens are the Tus-Extension values the extension advertises;
	// nil for the core protocol.
	Tokens() []string

	// Methods are the HTTP methods the extension enables.
	Methods() []string

	Validators() []RequestValidator
	Handlers() []RequestHandler

	// HandleError lets the extension react to a failed request before
	// the error response is written. Errors returned here are logged
	// and swallowed.
	HandleError(ctx context.Context, req *HTTPRequest, resp *HTTPResponse, cause error) error
}

// methodSet is a small helper for Supports implementations.
type methodSet map[string]struct{}

func methods(ms ...string) methodSet {
	set := make(methodSet, len(ms))
	for _, m := range ms {
		set[m] = struct{}{}
	}
	return set
}

func (s methodSet) contains(method string) bool {
	_, ok := s[method]
	return ok
}
