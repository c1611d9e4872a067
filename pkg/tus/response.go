// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package tus

import (
	"io"
	"net/http"
	"strconv"
)

// HTTPResponse buffers headers, status and body source until Flush, so
// handlers running later in the pipeline can still overwrite what an
// earlier handler set.
type HTTPResponse struct {
	w       http.ResponseWriter
	header  http.Header
	status  int
	body    io.ReadCloser
	literal []byte
	flushed bool
}

// NewHTTPResponse wraps w.
func NewHTTPResponse(w http.ResponseWriter) *HTTPResponse {
	return &HTTPResponse{w: w, header: make(http.Header)}
}

// SetHeader sets a header, replacing any earlier value.
func (r *HTTPResponse) SetHeader(name, value string) {
	r.header.Set(name, value)
}

// SetInt64Header sets a header to a base-10 integer.
func (r *HTTPResponse) SetInt64Header(name string, value int64) {
	r.header.Set(name, strconv.FormatInt(value, 10))
}

// Header returns the buffered value of a header.
func (r *HTTPResponse) Header(name string) string {
	return r.header.Get(name)
}

// SetStatus sets the response status; the last call wins.
func (r *HTTPResponse) SetStatus(code int) { r.status = code }

// Status returns the buffered status, zero when unset.
func (r *HTTPResponse) Status() int { return r.status }

// SetBodyReader streams rc as the response body on Flush; rc is closed
// after copying. It replaces any literal body.
func (r *HTTPResponse) SetBodyReader(rc io.ReadCloser) {
	if r.body != nil {
		r.body.Close()
	}
	r.body = rc
	r.literal = nil
}

// SetBodyString sets a literal body, replacing any streamed one.
func (r *HTTPResponse) SetBodyString(s string) {
	if r.body != nil {
		r.body.Close()
		r.body = nil
	}
	r.literal = []byte(s)
}

// Flush writes the buffered headers, status and body to the underlying
// writer. Only the first call has effect.
func (r *HTTPResponse) Flush() error {
	if r.flushed {
		return nil
	}
	r.flushed = true

	dst := r.w.Header()
	for name, values := range r.header {
		dst[name] = values
	}

	status := r.status
	if status == 0 {
		status = http.StatusNoContent
	}
	if len(r.literal) > 0 && r.Header(HeaderContentLength) == "" {
		dst.Set(HeaderContentLength, strconv.Itoa(len(r.literal)))
	}
	r.w.WriteHeader(status)

	if r.body != nil {
		defer r.body.Close()
		_, err := io.Copy(r.w, r.body)
		return err
	}
	if len(r.literal) > 0 {
		_, err := r.w.Write(r.literal)
		return err
	}
	return nil
}
