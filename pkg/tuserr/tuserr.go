// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

// Package tuserr defines the protocol-level error taxonomy. Every error
// carries a stable machine code and the HTTP status the response layer
// should emit.
package tuserr

import (
	"errors"
	"net/http"
)

// Error is a tus protocol error.
type Error struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// New creates a protocol error value.
func New(code, message string, status int) Error {
	return Error{Code: code, Message: message, HTTPStatus: status}
}

// WithMessage returns a copy of e with a more specific message. The code
// and status are preserved so errors.Is still matches the base value.
func (e Error) WithMessage(message string) Error {
	e.Message = message
	return e
}

// Is matches on the stable code, so detail messages added via
// WithMessage do not break classification.
func (e Error) Is(target error) bool {
	var te Error
	if errors.As(target, &te) {
		return te.Code == e.Code
	}
	return false
}

var (
	ErrUnsupportedVersion       = New("ERR_UNSUPPORTED_VERSION", "missing, invalid or unsupported Tus-Resumable header", http.StatusPreconditionFailed)
	ErrUnsupportedMethod        = New("ERR_UNSUPPORTED_METHOD", "HTTP method not supported by the enabled extensions", http.StatusMethodNotAllowed)
	ErrNotFound                 = New("ERR_UPLOAD_NOT_FOUND", "upload not found", http.StatusNotFound)
	ErrMismatchedOffset         = New("ERR_MISMATCHED_OFFSET", "mismatched offset", http.StatusConflict)
	ErrInvalidOffset            = New("ERR_INVALID_OFFSET", "missing or invalid Upload-Offset header", http.StatusBadRequest)
	ErrInvalidContentType       = New("ERR_INVALID_CONTENT_TYPE", "missing or invalid Content-Type header", http.StatusBadRequest)
	ErrInvalidContentLength     = New("ERR_INVALID_CONTENT_LENGTH", "Content-Length exceeds the declared upload length", http.StatusBadRequest)
	ErrInvalidUploadLength      = New("ERR_INVALID_UPLOAD_LENGTH", "missing or invalid Upload-Length header", http.StatusBadRequest)
	ErrInvalidDeferLength       = New("ERR_INVALID_UPLOAD_LENGTH_DEFER", "invalid Upload-Defer-Length header", http.StatusBadRequest)
	ErrAmbiguousUploadLength    = New("ERR_AMBIGUOUS_UPLOAD_LENGTH", "provided both Upload-Length and Upload-Defer-Length", http.StatusBadRequest)
	ErrUploadLengthAlreadySet   = New("ERR_UPLOAD_LENGTH_ALREADY_SET", "the upload length was already set and cannot change", http.StatusBadRequest)
	ErrMaxSizeExceeded          = New("ERR_MAX_SIZE_EXCEEDED", "maximum upload size exceeded", http.StatusRequestEntityTooLarge)
	ErrModifyFinal              = New("ERR_MODIFY_FINAL", "modifying a concatenated upload is not allowed", http.StatusForbidden)
	ErrInvalidConcat            = New("ERR_INVALID_CONCAT", "invalid Upload-Concat header", http.StatusBadRequest)
	ErrUploadNotFinished        = New("ERR_UPLOAD_NOT_FINISHED", "one of the partial uploads is not finished", http.StatusBadRequest)
	ErrUploadInProgress         = New("ERR_UPLOAD_IN_PROGRESS", "upload is still in progress", http.StatusForbidden)
	ErrChecksumMismatch         = New("ERR_CHECKSUM_MISMATCH", "checksum of the received bytes does not match", 460)
	ErrChecksumUnsupported      = New("ERR_CHECKSUM_ALGORITHM_UNSUPPORTED", "unsupported Upload-Checksum algorithm", http.StatusBadRequest)
	ErrLockAcquire              = New("ERR_LOCK_ACQUIRE", "upload is currently locked by another request", http.StatusLocked)
	ErrLockUnavailable          = New("ERR_LOCK_UNAVAILABLE", "lock state could not be determined", http.StatusInternalServerError)
	ErrInternal                 = New("ERR_INTERNAL", "internal server error", http.StatusInternalServerError)
)

// Status returns the HTTP status for any error, falling back to
// ErrInternal's for errors outside the protocol taxonomy.
func Status(err error) int {
	var te Error
	if errors.As(err, &te) {
		return te.HTTPStatus
	}
	return ErrInternal.HTTPStatus
}

// Message returns the user-facing message for an error.
func Message(err error) string {
	var te Error
	if errors.As(err, &te) {
		return te.Message
	}
	return ErrInternal.Message
}

// IsProtocol reports whether err belongs to the protocol taxonomy.
func IsProtocol(err error) bool {
	var te Error
	return errors.As(err, &te)
}
