// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package metadb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreLoadOnFreshSidecarReportsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0000000000.meta")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, found, err := s.Load()
	require.NoError(t, err)
	require.False(t, found)
}

func TestStoreMarkCheckpointRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0000000000.meta")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.MarkCheckpoint(1, 100, 5))

	cp, found, err := s.Load()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint8(1), cp.Version)
	require.Equal(t, int64(100), cp.Offset)
	require.Equal(t, int64(5), cp.WriteOrderID)
}

func TestStoreMarkCheckpointWriteOrderIDKeepsOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0000000000.meta")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.MarkCheckpoint(1, 100, 5))
	require.NoError(t, s.MarkCheckpointWriteOrderID(9))

	cp, found, err := s.Load()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(100), cp.Offset)
	require.Equal(t, int64(9), cp.WriteOrderID)
}

func TestStoreMarkCheckpointWriteOrderIDBeforeAnyCheckpointFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0000000000.meta")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	err = s.MarkCheckpointWriteOrderID(1)
	require.Error(t, err)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0000000000.meta")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.MarkCheckpoint(1, 42, 3))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	cp, found, err := s2.Load()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(42), cp.Offset)
}
