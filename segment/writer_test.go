// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/corelogio/seglog/types"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.log")
	w, err := CreateWriter(path, 0, types.DefaultMaxFileSize, v1Codec{}, log.NewNopLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, path
}

func TestWriterPutReturnsIncreasingOffsets(t *testing.T) {
	w, _ := newTestWriter(t)

	p1, err := w.Put(1, 1, &types.Event{Body: []byte("a")})
	require.NoError(t, err)
	p2, err := w.Put(2, 2, &types.Event{Body: []byte("bb")})
	require.NoError(t, err)

	require.Equal(t, int32(0), p1.Offset)
	require.Greater(t, p2.Offset, p1.Offset)
	require.Greater(t, w.Position(), int64(p2.Offset))
}

func TestWriterPreallocatesTailWithSentinel(t *testing.T) {
	w, path := newTestWriter(t)

	// A body bigger than one chunk forces preallocate to run.
	body := make([]byte, types.ChunkSize+1)
	_, err := w.Put(1, 1, &types.Event{Body: body})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	tail := make([]byte, 16)
	_, err = f.ReadAt(tail, w.Position())
	require.NoError(t, err)
	for _, b := range tail {
		require.Equal(t, byte(types.OpEOF), b)
	}
}

func TestWriterCloseIsIdempotent(t *testing.T) {
	w, _ := newTestWriter(t)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err := w.Put(1, 1, &types.Event{Body: []byte("x")})
	require.ErrorIs(t, err, types.ErrStateClosed)
}

func TestWriterIsRollRequired(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.log")
	w, err := CreateWriter(path, 0, types.ChunkSize, v1Codec{}, log.NewNopLogger(), nil)
	require.NoError(t, err)
	defer w.Close()

	require.False(t, w.IsRollRequired(100))
	require.True(t, w.IsRollRequired(types.ChunkSize*2))
}

func TestWriterRejectsOffsetOverflow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.log")
	w, err := CreateWriter(path, 0, types.DefaultMaxFileSize, v1Codec{}, log.NewNopLogger(), nil)
	require.NoError(t, err)
	defer w.Close()
	w.position = types.OffsetCeiling - 10
	w.fileSize = types.OffsetCeiling

	_, err = w.Put(1, 1, &types.Event{Body: []byte("x")})
	require.ErrorIs(t, err, types.ErrOffsetOverflow)
}

func TestRecoverWriterResumesAtKnownPosition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.log")
	w, err := CreateWriter(path, 0, types.DefaultMaxFileSize, v1Codec{}, log.NewNopLogger(), nil)
	require.NoError(t, err)
	_, err = w.Put(1, 1, &types.Event{Body: []byte("a")})
	require.NoError(t, err)
	pos := w.Position()
	require.NoError(t, w.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)

	w2, err := RecoverWriter(path, 0, types.DefaultMaxFileSize, v1Codec{}, pos, info.Size(), log.NewNopLogger(), nil)
	require.NoError(t, err)
	defer w2.Close()
	require.Equal(t, pos, w2.Position())
}
