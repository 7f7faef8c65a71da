// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/corelogio/seglog/types"
)

func TestRandomReaderGetReturnsPutEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.log")
	w, err := CreateWriter(path, 0, types.DefaultMaxFileSize, v1Codec{}, log.NewNopLogger(), nil)
	require.NoError(t, err)
	ptr, err := w.Put(1, 1, &types.Event{Body: []byte("hello")})
	require.NoError(t, err)
	require.NoError(t, w.Commit(1, 1))

	r := OpenRandomReader(path, 0, v1Codec{}, log.NewNopLogger(), nil)
	defer r.Close()

	ev, err := r.Get(ptr.Offset)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), ev.Body)
}

func TestRandomReaderRejectsNonPutRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.log")
	w, err := CreateWriter(path, 0, types.DefaultMaxFileSize, v1Codec{}, log.NewNopLogger(), nil)
	require.NoError(t, err)
	before := w.Position()
	require.NoError(t, w.Rollback(1, 1))
	require.NoError(t, w.Commit(1, 1))

	r := OpenRandomReader(path, 0, v1Codec{}, log.NewNopLogger(), nil)
	defer r.Close()

	_, err = r.Get(int32(before))
	require.ErrorIs(t, err, types.ErrUnexpectedRecordKind)
}

func TestRandomReaderGetAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.log")
	w, err := CreateWriter(path, 0, types.DefaultMaxFileSize, v1Codec{}, log.NewNopLogger(), nil)
	require.NoError(t, err)
	ptr, err := w.Put(1, 1, &types.Event{Body: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, w.Commit(1, 1))

	r := OpenRandomReader(path, 0, v1Codec{}, log.NewNopLogger(), nil)
	require.NoError(t, r.Close())

	_, err = r.Get(ptr.Offset)
	require.ErrorIs(t, err, types.ErrStateClosed)
}

func TestRandomReaderPoolStaysWithinCapacityUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000000.log")
	w, err := CreateWriter(path, 0, types.DefaultMaxFileSize, v1Codec{}, log.NewNopLogger(), nil)
	require.NoError(t, err)
	ptr, err := w.Put(1, 1, &types.Event{Body: []byte("concurrent")})
	require.NoError(t, err)
	require.NoError(t, w.Commit(1, 1))

	r := OpenRandomReader(path, 0, v1Codec{}, log.NewNopLogger(), nil)
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Get(ptr.Offset)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, r.opened, int32(types.ReaderPoolCapacity))
}
