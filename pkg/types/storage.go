// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"io"
)

// StorageType identifies a payload backend implementation.
type StorageType string

const (
	StorageTypeLocal  StorageType = "local"
	StorageTypeMemory StorageType = "memory"
)

// BackendConfig configures a payload backend.
type BackendConfig struct {
	Type StorageType
	// Path is the base directory for local backends.
	Path string
}

// BackendStorage stores raw upload payloads keyed by an opaque string.
// Append must flush every chunk so that the returned byte count always
// reflects durable bytes, even when it also returns an error.
type BackendStorage interface {
	Type() StorageType

	// Write creates or replaces the payload at key.
	Write(ctx context.Context, key string, data io.Reader) error

	// Append adds bytes at the end of the payload, creating it when
	// absent. It returns the number of bytes durably written.
	Append(ctx context.Context, key string, data io.Reader) (int64, error)

	// Truncate shrinks the payload to size bytes.
	Truncate(ctx context.Context, key string, size int64) error

	Read(ctx context.Context, key string) (io.ReadCloser, error)
	ReadRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Size(ctx context.Context, key string) (int64, error)
	Close() error
}
