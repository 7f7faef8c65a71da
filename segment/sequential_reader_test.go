// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/corelogio/seglog/types"
)

func TestSequentialReaderReplaysInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.log")
	w, err := CreateWriter(path, 7, types.DefaultMaxFileSize, v1Codec{}, log.NewNopLogger(), nil)
	require.NoError(t, err)

	bodies := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	var offsets []int32
	for i, b := range bodies {
		ptr, err := w.Put(int64(i), int64(i), &types.Event{Body: b})
		require.NoError(t, err)
		offsets = append(offsets, ptr.Offset)
	}
	require.NoError(t, w.Commit(int64(len(bodies)), int64(len(bodies))))
	require.NoError(t, w.Close())

	sr, err := OpenSequentialReader(path, 7, v1Codec{}, 0, 0, log.NewNopLogger())
	require.NoError(t, err)
	defer sr.Close()

	for i, b := range bodies {
		rec, err := sr.Next()
		require.NoError(t, err)
		require.NotNil(t, rec)
		require.Equal(t, offsets[i], rec.Offset)
		require.Equal(t, types.RecordPut, rec.Record.Type)
		require.Equal(t, b, rec.Record.Event.Body)
	}
	// One more record: the commit marker.
	rec, err := sr.Next()
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, types.RecordCommit, rec.Record.Type)

	// Then clean termination.
	rec, err = sr.Next()
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestSequentialReaderSkipsToCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.log")
	w, err := CreateWriter(path, 0, types.DefaultMaxFileSize, v1Codec{}, log.NewNopLogger(), nil)
	require.NoError(t, err)
	_, err = w.Put(1, 1, &types.Event{Body: []byte("a")})
	require.NoError(t, err)
	checkpointPos := w.Position()
	_, err = w.Put(2, 2, &types.Event{Body: []byte("b")})
	require.NoError(t, err)
	require.NoError(t, w.Commit(2, 2))
	require.NoError(t, w.Close())

	sr, err := OpenSequentialReader(path, 0, v1Codec{}, checkpointPos, 1, log.NewNopLogger())
	require.NoError(t, err)
	defer sr.Close()
	sr.SkipToLastCheckpointPosition(5)

	rec, err := sr.Next()
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, []byte("b"), rec.Record.Event.Body)
}

func TestSequentialReaderIgnoresStaleCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.log")
	w, err := CreateWriter(path, 0, types.DefaultMaxFileSize, v1Codec{}, log.NewNopLogger(), nil)
	require.NoError(t, err)
	_, err = w.Put(1, 1, &types.Event{Body: []byte("a")})
	require.NoError(t, err)
	checkpointPos := w.Position()
	require.NoError(t, w.Close())

	// requestedWoid (0) is older than the checkpoint's writeOrderID (10):
	// the checkpoint must be ignored, replay starts from 0.
	sr, err := OpenSequentialReader(path, 0, v1Codec{}, checkpointPos, 10, log.NewNopLogger())
	require.NoError(t, err)
	defer sr.Close()
	sr.SkipToLastCheckpointPosition(0)

	rec, err := sr.Next()
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, int32(0), rec.Offset)
}

func TestSequentialReaderStopsAtEOFSentinel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.log")
	w, err := CreateWriter(path, 0, types.ChunkSize, v1Codec{}, log.NewNopLogger(), nil)
	require.NoError(t, err)
	_, err = w.Put(1, 1, &types.Event{Body: []byte("a")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	sr, err := OpenSequentialReader(path, 0, v1Codec{}, 0, 0, log.NewNopLogger())
	require.NoError(t, err)
	defer sr.Close()

	rec, err := sr.Next()
	require.NoError(t, err)
	require.NotNil(t, rec)

	rec, err = sr.Next()
	require.NoError(t, err)
	require.Nil(t, rec)
}
