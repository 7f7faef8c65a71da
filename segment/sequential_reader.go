// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/corelogio/seglog/types"
)

// SequentialReader is a single-threaded, single-use cursor over a segment,
// used for replay from offset 0 or from a remembered checkpoint. It is
// never shared between goroutines so it needs no locking (§4.4, §5).
type SequentialReader struct {
	logFileID int32
	file      types.ReadableFile
	codec     Codec
	logger    log.Logger

	pos    int64
	closed bool

	lastCheckpointPosition    int64
	lastCheckpointWriteOrderID int64
}

// OpenSequentialReader opens a segment file for sequential replay. lastCheckpointPosition
// and lastCheckpointWriteOrderID come from the segment's metadata sidecar, or are zero if
// there is none.
func OpenSequentialReader(path string, logFileID int32, codec Codec, lastCheckpointPosition, lastCheckpointWriteOrderID int64, logger log.Logger) (*SequentialReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &SequentialReader{
		logFileID:                  logFileID,
		file:                       f,
		codec:                      codec,
		logger:                     logger,
		lastCheckpointPosition:     lastCheckpointPosition,
		lastCheckpointWriteOrderID: lastCheckpointWriteOrderID,
	}, nil
}

// SkipToLastCheckpointPosition fast-forwards the cursor to the segment's
// remembered checkpoint, provided that checkpoint is not newer than
// requestedWoid. If the sidecar is ahead of what the caller asked for, the
// position is left unchanged (at 0) and the caller must replay from the
// start; this is logged, not an error.
func (r *SequentialReader) SkipToLastCheckpointPosition(requestedWoid int64) {
	if r.lastCheckpointPosition > 0 && r.lastCheckpointWriteOrderID <= requestedWoid {
		r.pos = r.lastCheckpointPosition
		return
	}
	level.Debug(r.logger).Log("msg", "sidecar checkpoint is ahead of requested write-order id, replaying from start",
		"logFileID", r.logFileID, "checkpointWoid", r.lastCheckpointWriteOrderID, "requestedWoid", requestedWoid)
}

// Next returns the next LogRecord, or (nil, nil) on any terminal condition:
// true EOF, the OpEOF sentinel, an unrecognized op byte, or a record that
// fails to decode. The caller cannot tell these apart; only the last three
// are logged (true EOF is silent). Replay halts cleanly either way and the
// caller decides what, if anything, to do about it.
func (r *SequentialReader) Next() (*types.LogRecord, error) {
	if r.closed {
		return nil, types.ErrStateClosed
	}
	if r.pos < 0 {
		return nil, fmt.Errorf("seglog: negative cursor position %d in segment %d", r.pos, r.logFileID)
	}
	if r.pos > types.DefaultMaxFileSize {
		level.Warn(r.logger).Log("msg", "sequential reader position beyond default max file size", "logFileID", r.logFileID, "pos", r.pos)
	}

	offset := r.pos
	var opBuf [1]byte
	n, err := r.file.ReadAt(opBuf[:], offset)
	if n == 0 && err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}

	op := types.Op(int8(opBuf[0]))
	if op == types.OpEOF {
		level.Debug(r.logger).Log("msg", "reached preallocated tail", "logFileID", r.logFileID, "offset", offset)
		return nil, nil
	}
	if op != types.OpRecord {
		level.Warn(r.logger).Log("msg", "non-record op byte encountered, stopping replay", "logFileID", r.logFileID, "offset", offset, "op", opBuf[0])
		return nil, nil
	}

	tr, consumed, err := r.codec.DecodeTransactionRecord(r.file, offset+1)
	if err != nil {
		level.Warn(r.logger).Log("msg", "failed to decode record, stopping replay", "logFileID", r.logFileID, "offset", offset, "err", err)
		return nil, nil
	}

	r.pos = offset + 1 + consumed
	return &types.LogRecord{Offset: int32(offset), Record: tr}, nil
}

// Position reports the reader's current cursor, the offset the next Next
// call will read from.
func (r *SequentialReader) Position() int64 { return r.pos }

// Close releases the single handle held by this reader.
func (r *SequentialReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}
