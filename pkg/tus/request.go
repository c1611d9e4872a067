// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

// Package tus implements the tus v1.0.0 protocol core: request
// validation, the extension pipeline and the HTTP shell around the
// storage, locking and concatenation services.
package tus

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"hash"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/uploadkit/tusk/pkg/types"
)

// Version is the implemented tus protocol version.
const Version = "1.0.0"

// Protocol header names.
const (
	HeaderTusResumable      = "Tus-Resumable"
	HeaderTusVersion        = "Tus-Version"
	HeaderTusExtension      = "Tus-Extension"
	HeaderTusMaxSize        = "Tus-Max-Size"
	HeaderTusChecksumAlgo   = "Tus-Checksum-Algorithm"
	HeaderUploadOffset      = "Upload-Offset"
	HeaderUploadLength      = "Upload-Length"
	HeaderUploadDeferLength = "Upload-Defer-Length"
	HeaderUploadMetadata    = "Upload-Metadata"
	HeaderUploadConcat      = "Upload-Concat"
	HeaderUploadChecksum    = "Upload-Checksum"
	HeaderUploadExpires     = "Upload-Expires"
	HeaderMethodOverride    = "X-HTTP-Method-Override"
	HeaderLocation          = "Location"
	HeaderContentType       = "Content-Type"
	HeaderContentLength     = "Content-Length"
)

// ContentTypeOffsetStream is the required Content-Type for byte appends.
const ContentTypeOffsetStream = "application/offset+octet-stream"

var checksumAlgorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// ChecksumAlgorithms returns the supported Upload-Checksum algorithm
// names in the order they are advertised.
func ChecksumAlgorithms() []string {
	return []string{"md5", "sha1", "sha256", "sha384", "sha512"}
}

// HTTPRequest adapts an incoming http.Request for the protocol
// pipeline: normalized method, header access, a counting body reader
// and the checksum capture for Upload-Checksum requests.
type HTTPRequest struct {
	raw    *http.Request
	method string
	body   *countingReader

	// Checksum capture, wired when Upload-Checksum names a supported
	// algorithm.
	checksumAlgo string
	expectedSum  string
	digest       hash.Hash

	// Mutable per-request processing state.
	info      *types.UploadInfo
	appended  int64
	completed bool
	processed map[RequestHandler]struct{}
}

// tus methods eligible for X-HTTP-Method-Override.
var overridableMethods = map[string]struct{}{
	http.MethodHead:    {},
	http.MethodPatch:   {},
	http.MethodPost:    {},
	http.MethodDelete:  {},
	http.MethodGet:     {},
	http.MethodOptions: {},
}

// NewHTTPRequest wraps r, applying the method-override header and
// wiring the checksum capture when requested.
func NewHTTPRequest(r *http.Request) *HTTPRequest {
	method := strings.ToUpper(r.Method)
	if o := strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderMethodOverride))); o != "" {
		if _, ok := overridableMethods[o]; ok {
			method = o
		}
	}

	req := &HTTPRequest{
		raw:       r,
		method:    method,
		body:      &countingReader{r: r.Body},
		processed: make(map[RequestHandler]struct{}),
	}

	if algo, sum, ok := parseChecksumHeader(r.Header.Get(HeaderUploadChecksum)); ok {
		if newHash, supported := checksumAlgorithms[algo]; supported {
			req.checksumAlgo = algo
			req.expectedSum = sum
			req.digest = newHash()
			req.body.tee = req.digest
		}
	}

	return req
}

// parseChecksumHeader splits an "algorithm base64digest" header value.
func parseChecksumHeader(v string) (algo, sum string, ok bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", "", false
	}
	parts := strings.SplitN(v, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.ToLower(parts[0]), strings.TrimSpace(parts[1]), true
}

// Method returns the normalized request method.
func (r *HTTPRequest) Method() string { return r.method }

// Path returns the request path.
func (r *HTTPRequest) Path() string { return r.raw.URL.Path }

// Header returns the trimmed header value, empty when absent.
func (r *HTTPRequest) Header(name string) string {
	return strings.TrimSpace(r.raw.Header.Get(name))
}

// HasHeader reports whether the header is present at all.
func (r *HTTPRequest) HasHeader(name string) bool {
	_, ok := r.raw.Header[http.CanonicalHeaderKey(name)]
	return ok
}

// Int64Header parses the header as a base-10 integer. The second result
// is false when the header is absent or malformed.
func (r *HTTPRequest) Int64Header(name string) (int64, bool) {
	v := r.Header(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ContentLength returns the declared body size, -1 when unknown.
func (r *HTTPRequest) ContentLength() int64 { return r.raw.ContentLength }

// Body returns the counting (and, with a checksum, digesting) body
// reader.
func (r *HTTPRequest) Body() io.Reader { return r.body }

// BytesRead returns how many body bytes have been consumed so far.
func (r *HTTPRequest) BytesRead() int64 { return r.body.n }

// HasChecksum reports whether a supported Upload-Checksum was wired.
func (r *HTTPRequest) HasChecksum() bool { return r.digest != nil }

// ChecksumMatches compares the digest of the consumed body bytes
// against the client-declared value.
func (r *HTTPRequest) ChecksumMatches() bool {
	if r.digest == nil {
		return false
	}
	computed := base64.StdEncoding.EncodeToString(r.digest.Sum(nil))
	return computed == r.expectedSum
}

func (r *HTTPRequest) markProcessed(h RequestHandler) { r.processed[h] = struct{}{} }

func (r *HTTPRequest) alreadyProcessed(h RequestHandler) bool {
	_, ok := r.processed[h]
	return ok
}

// countingReader counts consumed bytes and optionally tees them into a
// digest.
type countingReader struct {
	r   io.Reader
	tee io.Writer
	n   int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.r == nil {
		return 0, io.EOF
	}
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		if c.tee != nil {
			c.tee.Write(p[:n])
		}
	}
	return n, err
}
