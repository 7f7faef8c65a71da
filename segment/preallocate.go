// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"os"

	"github.com/coreos/etcd/pkg/fileutil"
	"github.com/corelogio/seglog/types"
)

// sentinelChunk is a single process-wide immutable buffer of ChunkSize bytes,
// every one of them the OpEOF fill byte. It is never mutated after init, so
// unlike a buffer with an internal write cursor it needs no lock: any number
// of preallocate calls can read from it concurrently.
var sentinelChunk = func() []byte {
	b := make([]byte, types.ChunkSize)
	for i := range b {
		b[i] = byte(types.OpEOF)
	}
	return b
}()

// preallocate grows f so that its length is at least newSize, filling the
// newly added region with the OpEOF sentinel so that a sequential reader
// that walks into it sees clean logical end-of-stream (invariant I4/T4)
// rather than zero bytes.
//
// It always grows by a whole ChunkSize at a time even when the shortfall is
// smaller, accepting slack to amortize inode updates and avoid a mid-write
// ENOSPC, per §4.1.
func preallocate(f *os.File, currentSize, newSize int64) error {
	for size := currentSize; size < newSize; size += types.ChunkSize {
		target := size + types.ChunkSize
		// Reserve the blocks first. On filesystems that support it this
		// asks the OS to find the space up front instead of discovering
		// ENOSPC mid-write; on others it degrades to a zero-fill extend.
		if err := fileutil.Preallocate(f, target, true); err != nil {
			return err
		}
		// Preallocate's own fill (zero bytes, or whatever the OS backs
		// sparse regions with) is not a legal frame op. Stamp the sentinel
		// over the same region so every byte in [currentSize, newSize) in
		// the next read is unambiguously OpEOF.
		if _, err := f.WriteAt(sentinelChunk, size); err != nil {
			return err
		}
	}
	return nil
}
