package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/uploadkit/tusk/pkg/types"
)

func init() {
	Register(types.StorageTypeMemory, func(types.BackendConfig) (types.BackendStorage, error) {
		return NewMemory(), nil
	})
}

// Memory keeps payloads in process memory. Used by tests and ephemeral
// deployments.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Type() types.StorageType {
	return types.StorageTypeMemory
}

func (m *Memory) Write(ctx context.Context, key string, data io.Reader) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = buf
	return nil
}

func (m *Memory) Append(ctx context.Context, key string, data io.Reader) (int64, error) {
	buf, err := io.ReadAll(data)

	m.mu.Lock()
	m.data[key] = append(m.data[key], buf...)
	m.mu.Unlock()

	return int64(len(buf)), err
}

func (m *Memory) Truncate(ctx context.Context, key string, size int64) error {
	if size < 0 {
		size = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.data[key]; ok && int64(len(cur)) > size {
		m.data[key] = cur[:size]
	}
	return nil
}

func (m *Memory) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	buf, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), buf...))), nil
}

func (m *Memory) ReadRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	buf, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", key)
	}
	if offset > int64(len(buf)) {
		offset = int64(len(buf))
	}
	tail := buf[offset:]
	if length > 0 && length < int64(len(tail)) {
		tail = tail[:length]
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), tail...))), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *Memory) Size(ctx context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	buf, ok := m.data[key]
	if !ok {
		return 0, fmt.Errorf("key not found: %s", key)
	}
	return int64(len(buf)), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}
