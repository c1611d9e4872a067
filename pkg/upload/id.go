// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

// Package upload provides the pluggable upload-id factories used to
// mint new ids and to extract ids from request paths.
package upload

import (
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/uploadkit/tusk/pkg/types"
)

// IDFactory mints upload ids and resolves them from request URIs.
type IDFactory interface {
	// NewID returns a fresh, URL-path-safe upload id.
	NewID() types.UploadID

	// FromURI extracts the upload id from a request path under the
	// configured base path. The second result is false when the path
	// does not address an individual upload.
	FromURI(uri string) (types.UploadID, bool)
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-5][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// UUIDFactory mints random UUID4 ids.
type UUIDFactory struct {
	basePath string
}

// NewUUIDFactory creates a factory whose ids live under basePath,
// e.g. "/files".
func NewUUIDFactory(basePath string) *UUIDFactory {
	return &UUIDFactory{basePath: normalizeBasePath(basePath)}
}

func (f *UUIDFactory) NewID() types.UploadID {
	return types.UploadID(uuid.NewString())
}

func (f *UUIDFactory) FromURI(uri string) (types.UploadID, bool) {
	token, ok := lastSegment(uri, f.basePath)
	if !ok || !uuidPattern.MatchString(token) {
		return "", false
	}
	return types.UploadID(token), true
}

// TimeBasedFactory mints ids from the creation timestamp plus a
// process-local counter, yielding sortable ids.
type TimeBasedFactory struct {
	basePath string
	counter  atomic.Uint64
}

var timeBasedPattern = regexp.MustCompile(`^[0-9]{10,}$`)

// NewTimeBasedFactory creates a time-based factory under basePath.
func NewTimeBasedFactory(basePath string) *TimeBasedFactory {
	return &TimeBasedFactory{basePath: normalizeBasePath(basePath)}
}

func (f *TimeBasedFactory) NewID() types.UploadID {
	// Nanos alone can collide under concurrency; the counter breaks ties.
	n := f.counter.Add(1) % 1000
	return types.UploadID(strconv.FormatInt(time.Now().UnixNano(), 10) + strconv.FormatUint(n+1000, 10)[1:])
}

func (f *TimeBasedFactory) FromURI(uri string) (types.UploadID, bool) {
	token, ok := lastSegment(uri, f.basePath)
	if !ok || !timeBasedPattern.MatchString(token) {
		return "", false
	}
	return types.UploadID(token), true
}

func normalizeBasePath(p string) string {
	p = strings.TrimSuffix(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// lastSegment returns the path segment following basePath, stripping any
// query string.
func lastSegment(uri, basePath string) (string, bool) {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		uri = uri[:i]
	}
	uri = strings.TrimSuffix(uri, "/")
	if basePath != "" {
		if !strings.HasPrefix(uri, basePath) {
			return "", false
		}
		uri = uri[len(basePath):]
	}
	if uri == "" || uri == "/" {
		return "", false
	}
	token := uri[strings.LastIndexByte(uri, '/')+1:]
	if token == "" {
		return "", false
	}
	return token, true
}
