// Copyright 2025 Tusk Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/uploadkit/tusk/pkg/types"
)

func init() {
	Register(types.StorageTypeLocal, NewLocal)
}

// appendChunkSize bounds how many bytes may be buffered between fsyncs
// during an append. The durable offset never trails the reported offset
// by more than one chunk, and never leads it.
const appendChunkSize = 256 * 1024

// Local stores payloads on the local filesystem, one directory per key
// holding a single "data" file.
type Local struct {
	basePath string
}

// NewLocal creates a local filesystem backend rooted at cfg.Path.
func NewLocal(cfg types.BackendConfig) (types.BackendStorage, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path required for local backend")
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}

	return &Local{basePath: cfg.Path}, nil
}

func (l *Local) Type() types.StorageType {
	return types.StorageTypeLocal
}

func (l *Local) dataPath(key string) string {
	return filepath.Join(l.basePath, key, "data")
}

func (l *Local) Write(ctx context.Context, key string, data io.Reader) error {
	path := l.dataPath(key)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create data file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		os.Remove(path)
		return fmt.Errorf("write data: %w", err)
	}

	return f.Sync()
}

func (l *Local) Append(ctx context.Context, key string, data io.Reader) (int64, error) {
	path := l.dataPath(key)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create upload dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open data file: %w", err)
	}
	defer f.Close()

	// Copy in bounded chunks and fsync after each one so the returned
	// count always equals the durable byte count, even mid-failure.
	var written int64
	buf := make([]byte, appendChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := data.Read(buf)
		if n > 0 {
			wn, writeErr := f.Write(buf[:n])
			if wn > 0 {
				if syncErr := f.Sync(); syncErr != nil {
					return written, fmt.Errorf("sync data file: %w", syncErr)
				}
				written += int64(wn)
			}
			if writeErr != nil {
				return written, fmt.Errorf("append data: %w", writeErr)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("read request body: %w", readErr)
		}
	}
}

func (l *Local) Truncate(ctx context.Context, key string, size int64) error {
	if size < 0 {
		size = 0
	}
	if err := os.Truncate(l.dataPath(key), size); err != nil {
		return fmt.Errorf("truncate data file: %w", err)
	}
	return nil
}

func (l *Local) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(l.dataPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("key not found: %s", key)
		}
		return nil, err
	}
	return f, nil
}

func (l *Local) ReadRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(l.dataPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("key not found: %s", key)
		}
		return nil, err
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek: %w", err)
	}

	if length > 0 {
		return &limitedReadCloser{
			Reader: io.LimitReader(f, length),
			Closer: f,
		}, nil
	}
	return f, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	path := l.dataPath(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	// Drop the upload directory once it holds nothing else.
	if err := os.Remove(filepath.Dir(path)); err != nil && !os.IsNotExist(err) {
		// Directory still holds the info record; the index removes it.
		return nil
	}
	return nil
}

func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(l.dataPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (l *Local) Size(ctx context.Context, key string) (int64, error) {
	info, err := os.Stat(l.dataPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("key not found: %s", key)
		}
		return 0, err
	}
	return info.Size(), nil
}

func (l *Local) Close() error {
	return nil
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}
