// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package types holds the data model and sentinel errors shared by the
// segment, metadb and root packages so that none of them need to import
// each other just to pass values around.
package types

import (
	"errors"
	"io"
)

// Sentinel errors surfaced to callers. They are wrapped with fmt.Errorf at
// the point of detection so callers can still errors.Is against these.
var (
	// ErrStateClosed is returned for any operation attempted on a writer or
	// reader after Close has been called on it.
	ErrStateClosed = errors.New("seglog: operation on closed segment")

	// ErrOffsetOverflow is returned when an append would push position past
	// the 32-bit offset ceiling. The caller is expected to have rolled the
	// segment via IsRollRequired beforehand.
	ErrOffsetOverflow = errors.New("seglog: append would overflow 32-bit offset")

	// ErrCorrupt is returned by a random reader when the op byte at the
	// requested offset is not OpRecord, and by the codec when a record's
	// type or a length field is invalid.
	ErrCorrupt = errors.New("seglog: corrupt record")

	// ErrUnexpectedRecordKind is returned by a random reader's Get when the
	// decoded record is not a PUT.
	ErrUnexpectedRecordKind = errors.New("seglog: unexpected record kind")

	// ErrUnsupportedVersion is returned by the codec factory when a segment
	// or its sidecar names a version with no registered codec.
	ErrUnsupportedVersion = errors.New("seglog: unsupported segment version")

	// ErrNotFound is returned when a pointer names a segment the log does
	// not have.
	ErrNotFound = errors.New("seglog: event not found")
)

// Op is the one-byte frame discriminator. These two values are the only
// legal op bytes; any other byte read where an op is expected is corruption.
type Op int8

const (
	// OpRecord marks the start of a transaction record frame.
	OpRecord Op = 127
	// OpEOF is the preallocation fill byte. A sequential reader that
	// encounters it treats it as logical end-of-stream.
	OpEOF Op = -128
)

const (
	// ChunkSize is the size of the preallocation unit: every time a
	// segment's file runs out of preallocated room, it grows by exactly
	// this much, filled with OpEOF.
	ChunkSize = 1 << 20 // 1 MiB

	// DefaultMaxFileSize is the default cap on a segment's logical size.
	// It sits comfortably under the 2^31 offset ceiling so that a segment
	// which is exactly full still has every valid offset representable as
	// a signed 32-bit int.
	DefaultMaxFileSize int64 = (1 << 31) - (2 * ChunkSize)

	// OffsetCeiling is the hard limit: position must never reach it.
	OffsetCeiling int64 = 1 << 31

	// ReaderPoolCapacity bounds the number of concurrently open read
	// handles a single RandomReader may hold for its segment.
	ReaderPoolCapacity = 50
)

// RecordType discriminates the transaction-record variants carried by an
// OpRecord frame.
type RecordType int16

const (
	RecordPut RecordType = iota + 1
	RecordTake
	RecordRollback
	RecordCommit
)

func (t RecordType) String() string {
	switch t {
	case RecordPut:
		return "PUT"
	case RecordTake:
		return "TAKE"
	case RecordRollback:
		return "ROLLBACK"
	case RecordCommit:
		return "COMMIT"
	default:
		return "UNKNOWN"
	}
}

// EventPointer identifies a PUT frame's first byte within its segment.
type EventPointer struct {
	LogFileID int32
	Offset    int32
}

// Event is the payload of a PUT record: an opaque body plus string headers,
// the same shape Flume's Event carries through its channel.
type Event struct {
	Headers map[string]string
	Body    []byte
}

// TransactionRecord is the tagged union stored after the OpRecord byte.
// Event is populated for PUT and Take for TAKE; ROLLBACK and COMMIT carry
// neither.
type TransactionRecord struct {
	TransactionID   int64
	LogWriteOrderID int64
	Type            RecordType
	Event           *Event
	Take            EventPointer
}

// LogRecord pairs a decoded TransactionRecord with the offset its frame
// started at, as yielded by a sequential reader.
type LogRecord struct {
	Offset int32
	Record TransactionRecord
}

// ReadableFile is the subset of *os.File a random or sequential reader
// needs. Satisfied by *os.File; narrowed here so neither reader depends on
// anything beyond positional reads and close, the way the teacher's own
// segment reader holds its handle as a types.ReadableFile rather than a
// concrete *os.File.
type ReadableFile interface {
	io.ReaderAt
	io.Closer
}
