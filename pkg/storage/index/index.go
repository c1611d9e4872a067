// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

// Package index provides the persistent key/value index used for upload
// records.
package index

import (
	"errors"
	"io"
)

// ErrKeyNotFound is returned by Get for unknown keys.
var ErrKeyNotFound = errors.New("index: key not found")

// Indexer is a small typed key/value store.
type Indexer[K comparable, V any] interface {
	io.Closer

	Put(key K, value V) error
	Get(key K) (V, error)
	Delete(key K) error
	Iterate(fn func(key K, value V) error) error

	// PutSync writes with immediate fsync. Use for offset updates, where
	// losing the write would desynchronize record and payload.
	PutSync(key K, value V) error

	// DeleteSync deletes with immediate fsync.
	DeleteSync(key K) error

	// Destroy removes the underlying store.
	Destroy() error
}
