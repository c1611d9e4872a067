package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/uploadkit/tusk/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackends(t *testing.T) map[string]types.BackendStorage {
	t.Helper()

	local, err := NewLocal(types.BackendConfig{Type: types.StorageTypeLocal, Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	mem := NewMemory()
	t.Cleanup(func() { mem.Close() })

	return map[string]types.BackendStorage{
		"local":  local,
		"memory": mem,
	}
}

func TestRegistry_New(t *testing.T) {
	t.Parallel()

	b, err := New(types.BackendConfig{Type: types.StorageTypeMemory})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, types.StorageTypeMemory, b.Type())

	_, err = New(types.BackendConfig{Type: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage type")
}

func TestNewLocal_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewLocal(types.BackendConfig{Type: types.StorageTypeLocal})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path required")
}

func TestBackend_AppendGrowsPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			n, err := b.Append(ctx, "up1", strings.NewReader("hello "))
			require.NoError(t, err)
			assert.Equal(t, int64(6), n)

			n, err = b.Append(ctx, "up1", strings.NewReader("world"))
			require.NoError(t, err)
			assert.Equal(t, int64(5), n)

			r, err := b.Read(ctx, "up1")
			require.NoError(t, err)
			defer r.Close()
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(data))

			size, err := b.Size(ctx, "up1")
			require.NoError(t, err)
			assert.Equal(t, int64(11), size)
		})
	}
}

// failingReader yields some bytes and then errors, simulating a client
// disconnect mid-body.
type failingReader struct {
	data []byte
	read bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.read {
		f.read = true
		n := copy(p, f.data)
		return n, nil
	}
	return 0, errors.New("connection reset")
}

func TestBackend_AppendReportsDurableBytesOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			n, err := b.Append(ctx, "up2", &failingReader{data: []byte("partial")})
			require.Error(t, err)
			assert.Equal(t, int64(7), n)

			size, err := b.Size(ctx, "up2")
			require.NoError(t, err)
			assert.Equal(t, int64(7), size)
		})
	}
}

func TestBackend_Truncate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Append(ctx, "up3", strings.NewReader("0123456789"))
			require.NoError(t, err)

			require.NoError(t, b.Truncate(ctx, "up3", 4))

			size, err := b.Size(ctx, "up3")
			require.NoError(t, err)
			assert.Equal(t, int64(4), size)

			// Negative size clamps to zero.
			require.NoError(t, b.Truncate(ctx, "up3", -5))
			size, err = b.Size(ctx, "up3")
			require.NoError(t, err)
			assert.Equal(t, int64(0), size)
		})
	}
}

func TestBackend_ReadRange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Append(ctx, "up4", strings.NewReader("0123456789"))
			require.NoError(t, err)

			r, err := b.ReadRange(ctx, "up4", 3, 4)
			require.NoError(t, err)
			defer r.Close()
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "3456", string(data))
		})
	}
}

func TestBackend_DeleteAndExists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Append(ctx, "up5", strings.NewReader("x"))
			require.NoError(t, err)

			ok, err := b.Exists(ctx, "up5")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, b.Delete(ctx, "up5"))

			ok, err = b.Exists(ctx, "up5")
			require.NoError(t, err)
			assert.False(t, ok)

			// Deleting an absent key is a no-op.
			assert.NoError(t, b.Delete(ctx, "up5"))
		})
	}
}

func TestBackend_Read_NotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Read(ctx, "nope")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "key not found")
		})
	}
}

func TestBackend_Write_Replaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Write(ctx, "up6", strings.NewReader("first")))
			require.NoError(t, b.Write(ctx, "up6", bytes.NewReader([]byte("second"))))

			r, err := b.Read(ctx, "up6")
			require.NoError(t, err)
			defer r.Close()
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "second", string(data))
		})
	}
}
