// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/corelogio/seglog/types"
)

// Writer owns the write handle of one active segment. All of its methods
// are serialized under mu: the spec allows exactly one writer per segment
// (§5), so there is no need for anything finer grained than a mutex here.
type Writer struct {
	mu sync.Mutex

	file        *os.File
	logFileID   int32
	maxFileSize int64
	codec       Codec

	position int64 // logical write position; bytes [position, fileSize) are sentinel
	fileSize int64

	closed bool

	logger  log.Logger
	metrics *WriterMetrics
}

// CreateWriter creates a brand new, empty segment file at path and returns a
// Writer positioned at offset 0.
func CreateWriter(path string, logFileID int32, maxFileSize int64, codec Codec, logger log.Logger, metrics *WriterMetrics) (*Writer, error) {
	if maxFileSize <= 0 || maxFileSize > types.DefaultMaxFileSize {
		maxFileSize = types.DefaultMaxFileSize
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("seglog: create segment %d: %w", logFileID, err)
	}
	return &Writer{
		file:        f,
		logFileID:   logFileID,
		maxFileSize: maxFileSize,
		codec:       codec,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// RecoverWriter reopens an existing segment file for continued appends,
// resuming at knownPosition (typically discovered by scanning the file with
// a SequentialReader until the first OpEOF or true EOF). fileSize must be
// the file's current length so preallocation headroom is computed correctly.
func RecoverWriter(path string, logFileID int32, maxFileSize int64, codec Codec, knownPosition, fileSize int64, logger log.Logger, metrics *WriterMetrics) (*Writer, error) {
	if maxFileSize <= 0 || maxFileSize > types.DefaultMaxFileSize {
		maxFileSize = types.DefaultMaxFileSize
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("seglog: recover segment %d: %w", logFileID, err)
	}
	return &Writer{
		file:        f,
		logFileID:   logFileID,
		maxFileSize: maxFileSize,
		codec:       codec,
		position:    knownPosition,
		fileSize:    fileSize,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Put appends a PUT transaction record and returns the pointer to its first
// byte. Only Put returns a pointer: TAKE frames carry their own back-pointer
// to the PUT they consume, and ROLLBACK/COMMIT need none.
func (w *Writer) Put(txnID, woid int64, ev *types.Event) (types.EventPointer, error) {
	tr := types.TransactionRecord{TransactionID: txnID, LogWriteOrderID: woid, Type: types.RecordPut, Event: ev}
	offset, err := w.append(tr)
	if err != nil {
		return types.EventPointer{}, err
	}
	if w.metrics != nil {
		w.metrics.puts.Inc()
	}
	return types.EventPointer{LogFileID: w.logFileID, Offset: int32(offset)}, nil
}

// Take appends a TAKE transaction record referencing an earlier PUT.
func (w *Writer) Take(txnID, woid int64, target types.EventPointer) error {
	tr := types.TransactionRecord{TransactionID: txnID, LogWriteOrderID: woid, Type: types.RecordTake, Take: target}
	if _, err := w.append(tr); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.takes.Inc()
	}
	return nil
}

// Rollback appends a ROLLBACK transaction record.
func (w *Writer) Rollback(txnID, woid int64) error {
	tr := types.TransactionRecord{TransactionID: txnID, LogWriteOrderID: woid, Type: types.RecordRollback}
	if _, err := w.append(tr); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.rollbacks.Inc()
	}
	return nil
}

// Commit appends a COMMIT transaction record and then forces every byte
// appended so far, not just the commit frame, to stable storage. put/take/
// rollback bytes before it stay in the page cache so that a batch of
// operations amortizes a single fsync.
func (w *Writer) Commit(txnID, woid int64) error {
	tr := types.TransactionRecord{TransactionID: txnID, LogWriteOrderID: woid, Type: types.RecordCommit}
	if _, err := w.append(tr); err != nil {
		return err
	}
	w.mu.Lock()
	err := w.file.Sync()
	w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("seglog: fsync segment %d: %w", w.logFileID, err)
	}
	if w.metrics != nil {
		w.metrics.commits.Inc()
	}
	return nil
}

// append implements the algorithm common to put/take/rollback/commit: check
// open, assert the offset ceiling, preallocate if the frame doesn't fit in
// the current file size, and write op+payload in one positional write.
func (w *Writer) append(tr types.TransactionRecord) (int64, error) {
	payload, err := w.codec.EncodeTransactionRecord(tr)
	if err != nil {
		return 0, err
	}
	frame := encodeFrame(payload)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, types.ErrStateClosed
	}

	offset := w.position
	newPosition := offset + int64(len(frame))
	if newPosition >= types.OffsetCeiling {
		return 0, types.ErrOffsetOverflow
	}

	if newPosition > w.fileSize {
		if err := preallocate(w.file, w.fileSize, newPosition); err != nil {
			return 0, fmt.Errorf("seglog: preallocate segment %d: %w", w.logFileID, err)
		}
		// preallocate grows by whole ChunkSize multiples.
		grown := w.fileSize
		for grown < newPosition {
			grown += types.ChunkSize
		}
		w.fileSize = grown
	}

	n, err := w.file.WriteAt(frame, offset)
	if err != nil {
		return 0, fmt.Errorf("seglog: write segment %d: %w", w.logFileID, err)
	}
	if n != len(frame) {
		return 0, fmt.Errorf("seglog: short write to segment %d: wrote %d of %d bytes", w.logFileID, n, len(frame))
	}

	w.position = newPosition
	if w.metrics != nil {
		w.metrics.bytesWritten.Add(float64(len(frame)))
	}
	return offset, nil
}

// IsRollRequired reports whether appending a frame of frameCapacity bytes
// (1 op byte + codec payload length) would push position past maxFileSize.
// It does not itself roll the segment; the caller must do that.
func (w *Writer) IsRollRequired(frameCapacity int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	return w.position+frameCapacity > w.maxFileSize
}

// Position returns the current logical write position.
func (w *Writer) Position() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.position
}

// LogFileID returns the segment identifier this writer owns.
func (w *Writer) LogFileID() int32 {
	return w.logFileID
}

// Close flushes data and releases the handle. It is idempotent and best
// effort: I/O errors encountered here are logged, not surfaced, because
// closing must always make progress.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		level.Error(w.logger).Log("msg", "error syncing segment on close", "logFileID", w.logFileID, "err", err)
	}
	if err := w.file.Close(); err != nil {
		level.Error(w.logger).Log("msg", "error closing segment", "logFileID", w.logFileID, "err", err)
	}
	return nil
}
