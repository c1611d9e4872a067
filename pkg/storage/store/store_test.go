package store

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/uploadkit/tusk/pkg/storage/backend"
	"github.com/uploadkit/tusk/pkg/storage/index"
	"github.com/uploadkit/tusk/pkg/tuserr"
	"github.com/uploadkit/tusk/pkg/types"
	"github.com/uploadkit/tusk/pkg/upload"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...func(*Config)) *UploadStore {
	t.Helper()

	cfg := Config{
		Backend: backend.NewMemory(),
		Index:   index.NewMemoryIndexer[types.UploadID, types.UploadInfo](),
		IDs:     upload.NewUUIDFactory("/files"),
	}
	for _, o := range opts {
		o(&cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func withLength(n int64) *types.UploadInfo {
	info := &types.UploadInfo{}
	info.SetLength(n)
	return info
}

type noLocks struct{}

func (noLocks) IsLocked(types.UploadID) bool { return false }

type allLocked struct{}

func (allLocked) IsLocked(types.UploadID) bool { return true }

func TestCreate_AssignsIDAndZeroOffset(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, withLength(10), "owner-a")
	require.NoError(t, err)
	assert.False(t, created.ID.IsZero())
	assert.Equal(t, int64(0), created.Offset)
	assert.Equal(t, "owner-a", created.OwnerKey)
	assert.True(t, created.InProgress())
	assert.Nil(t, created.ExpiresAt)
}

func TestCreate_SetsExpirationWhenConfigured(t *testing.T) {
	t.Parallel()
	s := newStore(t, func(c *Config) { c.ExpirationPeriod = time.Hour })
	ctx := context.Background()

	created, err := s.Create(ctx, withLength(10), "")
	require.NoError(t, err)
	require.NotNil(t, created.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *created.ExpiresAt, time.Minute)
}

func TestGetUploadInfo_OwnerIsolation(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, withLength(10), "owner-a")
	require.NoError(t, err)

	_, err = s.GetUploadInfo(ctx, created.ID, "owner-b")
	assert.ErrorIs(t, err, tuserr.ErrNotFound)

	_, err = s.GetUploadInfo(ctx, created.ID, "")
	assert.ErrorIs(t, err, tuserr.ErrNotFound)

	got, err := s.GetUploadInfo(ctx, created.ID, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestGetUploadInfo_ReturnsIndependentCopy(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, withLength(10), "")
	require.NoError(t, err)

	got, err := s.GetUploadInfo(ctx, created.ID, "")
	require.NoError(t, err)
	got.Offset = 999
	got.SetLength(999)

	again, err := s.GetUploadInfo(ctx, created.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.Offset)
	assert.Equal(t, int64(10), *again.Length)
}

func TestGetUploadInfoByURI(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, withLength(5), "")
	require.NoError(t, err)

	got, err := s.GetUploadInfoByURI(ctx, "/files/"+created.ID.String(), "")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = s.GetUploadInfoByURI(ctx, "/files/not-an-id", "")
	assert.ErrorIs(t, err, tuserr.ErrNotFound)
}

func TestAppend_AdvancesOffset(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	info, err := s.Create(ctx, withLength(10), "")
	require.NoError(t, err)

	info, err = s.Append(ctx, info, strings.NewReader("hello "))
	require.NoError(t, err)
	assert.Equal(t, int64(6), info.Offset)
	assert.True(t, info.InProgress())

	info, err = s.Append(ctx, info, strings.NewReader("tusk"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Offset)
	assert.False(t, info.InProgress())

	r, err := s.GetUploadedBytes(ctx, "/files/"+info.ID.String(), "")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello tusk", string(data))
}

func TestAppend_StaleOffsetRejected(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	info, err := s.Create(ctx, withLength(10), "")
	require.NoError(t, err)

	stale := info.Clone()

	_, err = s.Append(ctx, info, strings.NewReader("abcde"))
	require.NoError(t, err)

	// Retrying with the pre-append offset must not double-apply.
	_, err = s.Append(ctx, stale, strings.NewReader("abcde"))
	assert.ErrorIs(t, err, tuserr.ErrMismatchedOffset)

	got, err := s.GetUploadInfo(ctx, info.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Offset)
}

func TestAppend_ClampsAtDeclaredLengthAndDrains(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	info, err := s.Create(ctx, withLength(4), "")
	require.NoError(t, err)

	body := strings.NewReader("0123456789")
	info, err = s.Append(ctx, info, body)
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Offset)
	// The excess was fully drained, not left on the stream.
	assert.Equal(t, 0, body.Len())

	r, err := s.GetUploadedBytes(ctx, "/files/"+info.ID.String(), "")
	require.NoError(t, err)
	defer r.Close()
	data, _ := io.ReadAll(r)
	assert.Equal(t, "0123", string(data))
}

func TestAppend_ClampsAtMaxUploadSize(t *testing.T) {
	t.Parallel()
	s := newStore(t, func(c *Config) { c.MaxUploadSize = 3 })
	ctx := context.Background()

	info, err := s.Create(ctx, &types.UploadInfo{}, "")
	require.NoError(t, err)

	info, err = s.Append(ctx, info, strings.NewReader("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Offset)
}

func TestAppend_ZeroMaxSizeMeansUnlimited(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	info, err := s.Create(ctx, &types.UploadInfo{}, "")
	require.NoError(t, err)

	big := bytes.Repeat([]byte("x"), 1<<20)
	info, err = s.Append(ctx, info, bytes.NewReader(big))
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), info.Offset)
}

type brokenReader struct {
	prefix []byte
	done   bool
}

func (b *brokenReader) Read(p []byte) (int, error) {
	if !b.done {
		b.done = true
		return copy(p, b.prefix), nil
	}
	return 0, io.ErrUnexpectedEOF
}

func TestAppend_OffsetReflectsDurableBytesOnError(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	info, err := s.Create(ctx, withLength(100), "")
	require.NoError(t, err)

	got, err := s.Append(ctx, info, &brokenReader{prefix: []byte("abc")})
	require.Error(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.Offset)

	persisted, err := s.GetUploadInfo(ctx, info.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), persisted.Offset)
}

func TestRemoveLastBytes(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	info, err := s.Create(ctx, withLength(10), "")
	require.NoError(t, err)
	info, err = s.Append(ctx, info, strings.NewReader("0123456789"))
	require.NoError(t, err)

	info, err = s.RemoveLastBytes(ctx, info, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), info.Offset)

	r, err := s.GetUploadedBytes(ctx, "/files/"+info.ID.String(), "")
	require.NoError(t, err)
	defer r.Close()
	data, _ := io.ReadAll(r)
	assert.Equal(t, "012345", string(data))
}

func TestRemoveLastBytes_ClampsToZero(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	info, err := s.Create(ctx, withLength(10), "")
	require.NoError(t, err)
	info, err = s.Append(ctx, info, strings.NewReader("abc"))
	require.NoError(t, err)

	info, err = s.RemoveLastBytes(ctx, info, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Offset)
}

func TestUpdate_SetsDeferredLength(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	info, err := s.Create(ctx, &types.UploadInfo{}, "")
	require.NoError(t, err)
	assert.False(t, info.HasLength())
	assert.True(t, info.InProgress())

	info.SetLength(9)
	require.NoError(t, s.Update(ctx, info))

	got, err := s.GetUploadInfo(ctx, info.ID, "")
	require.NoError(t, err)
	require.True(t, got.HasLength())
	assert.Equal(t, int64(9), *got.Length)
}

func TestUpdate_UnknownUpload(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	err := s.Update(ctx, &types.UploadInfo{ID: "ghost"})
	assert.ErrorIs(t, err, tuserr.ErrNotFound)
}

func TestTerminate(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	info, err := s.Create(ctx, withLength(5), "")
	require.NoError(t, err)
	_, err = s.Append(ctx, info, strings.NewReader("abcde"))
	require.NoError(t, err)

	require.NoError(t, s.Terminate(ctx, info))

	_, err = s.GetUploadInfo(ctx, info.ID, "")
	assert.ErrorIs(t, err, tuserr.ErrNotFound)

	// Nil is a no-op, not an error.
	assert.NoError(t, s.Terminate(ctx, nil))
}

func TestCleanupExpired_RemovesExpiredUnlocked(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	info, err := s.Create(ctx, withLength(5), "")
	require.NoError(t, err)

	// Force the record into the past.
	past := time.Now().Add(-time.Minute)
	info.ExpiresAt = &past
	require.NoError(t, s.Update(ctx, info))

	fresh, err := s.Create(ctx, withLength(5), "")
	require.NoError(t, err)

	require.NoError(t, s.CleanupExpired(ctx, noLocks{}))

	_, err = s.GetUploadInfo(ctx, info.ID, "")
	assert.ErrorIs(t, err, tuserr.ErrNotFound)

	_, err = s.GetUploadInfo(ctx, fresh.ID, "")
	assert.NoError(t, err)
}

func TestCleanupExpired_LockVetoes(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	info, err := s.Create(ctx, withLength(5), "")
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)
	info.ExpiresAt = &past
	require.NoError(t, s.Update(ctx, info))

	require.NoError(t, s.CleanupExpired(ctx, allLocked{}))

	_, err = s.GetUploadInfo(ctx, info.ID, "")
	assert.NoError(t, err, "locked upload must survive the sweep")
}

func TestGetUploadedBytes_EmptyUpload(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	info, err := s.Create(ctx, withLength(5), "")
	require.NoError(t, err)

	r, err := s.GetUploadedBytes(ctx, "/files/"+info.ID.String(), "")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestCopyUploadTo(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	info, err := s.Create(ctx, withLength(5), "")
	require.NoError(t, err)
	info, err = s.Append(ctx, info, strings.NewReader("abcde"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.CopyUploadTo(ctx, info, &buf))
	assert.Equal(t, "abcde", buf.String())
}

// Not parallel: reads package-level counters.
func TestCleanupExpired_CountsExpiredNotTerminated(t *testing.T) {
	s := newStore(t, func(c *Config) { c.ExpirationPeriod = time.Millisecond })
	ctx := context.Background()

	created, err := s.Create(ctx, withLength(5), "owner-a")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	expiredBefore := testutil.ToFloat64(uploadsExpired)
	terminatedBefore := testutil.ToFloat64(uploadsTerminated)

	require.NoError(t, s.CleanupExpired(ctx, noLocks{}))

	_, err = s.GetUploadInfo(ctx, created.ID, "owner-a")
	assert.ErrorIs(t, err, tuserr.ErrNotFound)
	assert.Equal(t, expiredBefore+1, testutil.ToFloat64(uploadsExpired))
	assert.Equal(t, terminatedBefore, testutil.ToFloat64(uploadsTerminated))
}
