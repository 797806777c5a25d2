package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func TestFSStore_PutAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte(`[{"id":1,"etag":"a"}]`)
	hash := hashBytes(data)

	err := s.Put(ctx, hash, bytes.NewReader(data), Info{Type: "USER", Rows: 1})
	require.NoError(t, err)

	reader, info, err := s.Get(ctx, hash)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, hash, info.Hash)
	assert.Equal(t, 1, info.Rows)
	assert.EqualValues(t, "USER", info.Type)
	assert.False(t, info.CreatedAt.IsZero())

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFSStore_Has(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	has, err := s.Has(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, has)

	data := []byte("test")
	hash := hashBytes(data)
	require.NoError(t, s.Put(ctx, hash, bytes.NewReader(data), Info{}))

	has, err = s.Has(ctx, hash)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestFSStore_Put_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("test")
	hash := hashBytes(data)

	require.NoError(t, s.Put(ctx, hash, bytes.NewReader(data), Info{Rows: 1}))
	require.NoError(t, s.Put(ctx, hash, bytes.NewReader(data), Info{Rows: 1}))
}

func TestFSStore_Put_HashMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	wrongHash := "0000000000000000000000000000000000000000000000000000000000000000"
	err := s.Put(ctx, wrongHash, bytes.NewReader([]byte("test")), Info{})
	assert.ErrorIs(t, err, ErrHashMismatch)

	has, err := s.Has(ctx, wrongHash)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestFSStore_Get_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, _, err := s.Get(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	_, _, err = s.Get(ctx, hashBytes([]byte("never stored")))
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestFSStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("test")
	hash := hashBytes(data)
	require.NoError(t, s.Put(ctx, hash, bytes.NewReader(data), Info{}))

	require.NoError(t, s.Delete(ctx, hash))

	has, err := s.Has(ctx, hash)
	require.NoError(t, err)
	assert.False(t, has)

	// Deleting a missing blob is fine
	assert.NoError(t, s.Delete(ctx, "nonexistent"))
}

func TestFSStore_ListHashesAndCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	hashes, err := s.ListHashes(ctx)
	require.NoError(t, err)
	assert.Empty(t, hashes)

	var expected []string
	for i := 0; i < 3; i++ {
		data := []byte{byte(i), byte(i + 10), byte(i + 20)}
		hash := hashBytes(data)
		require.NoError(t, s.Put(ctx, hash, bytes.NewReader(data), Info{}))
		expected = append(expected, hash)
	}

	hashes, err = s.ListHashes(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, expected, hashes)

	count, err := s.TotalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestPutBytesAndParseURL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte(`[]`)
	url, err := PutBytes(ctx, s, data, Info{Type: "USER"})
	require.NoError(t, err)
	assert.Equal(t, URL(hashBytes(data)), url)

	hash, err := ParseURL(url)
	require.NoError(t, err)
	assert.Equal(t, hashBytes(data), hash)

	for _, bad := range []string{"", "s3://bucket/key", "blob://short", "blob://" + hash + "x"} {
		_, err := ParseURL(bad)
		assert.ErrorIs(t, err, ErrInvalidURL, bad)
	}
}
