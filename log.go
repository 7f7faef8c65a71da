// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package seglog implements a segmented, append-only log for a durable
// transactional event channel: producers append PUT/TAKE/ROLLBACK/COMMIT
// records to the active segment, random readers dereference PUT pointers,
// and sequential readers replay a segment from scratch or from a
// checkpoint recorded in its metadata sidecar.
//
// The surrounding transaction state machine, in-memory event store and
// take-queue are intentionally not part of this package; Log only gives
// that higher layer a place to put bytes durably and get them back.
package seglog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/immutable"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/corelogio/seglog/metadb"
	"github.com/corelogio/seglog/segment"
	"github.com/corelogio/seglog/types"
)

const (
	segmentExt = ".log"
	sidecarExt = ".meta"
)

// Option configures a Log at Open time, the same functional-option shape
// the teacher's WAL uses for walOpt.
type Option func(*Log)

// WithMaxFileSize sets the cap on each segment's logical size. Values above
// types.DefaultMaxFileSize are clamped.
func WithMaxFileSize(n int64) Option {
	return func(l *Log) { l.maxFileSize = n }
}

// WithLogger sets the go-kit logger used for every warning/error the design
// says to log rather than surface.
func WithLogger(logger log.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithRegisterer sets the Prometheus registerer metrics are registered
// against. Defaults to prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(l *Log) { l.reg = reg }
}

// segmentHandle bundles everything Log tracks about one segment.
type segmentHandle struct {
	logFileID int32
	sealed    bool
	codec     segment.Codec
	meta      *metadb.Store
	reader    *segment.RandomReader
	writer    *segment.Writer // non-nil only while this is the active (unsealed) segment
}

// Log is the orchestrator that owns a directory of segments: it routes
// appends to the active segment, routes Get by logFileID to the right
// random reader, recovers the tail segment's write position on Open, and
// drives replay across every segment through Replay.
type Log struct {
	dir         string
	maxFileSize int64
	logger      log.Logger
	reg         prometheus.Registerer
	metrics     *logMetrics

	// writeMu serializes rotation and directory mutation. Reads of the
	// segment directory snapshot never take it: segments is an
	// immutable.SortedMap swapped atomically, the same lock-free read
	// pattern the teacher's WAL uses for its own segment map.
	writeMu sync.Mutex

	segments segDirValue
	activeID int32
	nextID   int32
	closed   bool
}

// segDirValue is a tiny typed wrapper around atomic.Value holding the
// current segment directory snapshot, the same store-a-new-immutable-map
// pattern the teacher's WAL uses for its own `s atomic.Value`.
type segDirValue struct {
	v atomic.Value
}

func (s *segDirValue) Store(m *immutable.SortedMap[int32, *segmentHandle]) {
	s.v.Store(m)
}

func (s *segDirValue) Load() *immutable.SortedMap[int32, *segmentHandle] {
	return s.v.Load().(*immutable.SortedMap[int32, *segmentHandle])
}

// Open opens the segmented log rooted at dir, creating it if empty and
// recovering the active segment's write position if not.
func Open(dir string, opts ...Option) (*Log, error) {
	l := &Log{
		dir:         dir,
		maxFileSize: types.DefaultMaxFileSize,
		logger:      log.NewNopLogger(),
		reg:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.maxFileSize <= 0 || l.maxFileSize > types.DefaultMaxFileSize {
		l.maxFileSize = types.DefaultMaxFileSize
	}
	l.metrics = newLogMetrics(l.reg)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("seglog: create directory %s: %w", dir, err)
	}

	ids, err := discoverSegmentIDs(dir)
	if err != nil {
		return nil, err
	}

	dirMap := &immutable.SortedMap[int32, *segmentHandle]{}
	var activeID int32
	if len(ids) == 0 {
		sh, err := l.createSegment(0)
		if err != nil {
			return nil, err
		}
		dirMap = dirMap.Set(0, sh)
		activeID = 0
		l.nextID = 1
	} else {
		for i, id := range ids {
			sealed := i < len(ids)-1
			sh, err := l.openSegment(id, sealed)
			if err != nil {
				return nil, err
			}
			dirMap = dirMap.Set(id, sh)
		}
		activeID = ids[len(ids)-1]
		l.nextID = activeID + 1
	}

	l.segments.Store(dirMap)
	l.activeID = activeID
	return l, nil
}

func discoverSegmentIDs(dir string) ([]int32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("seglog: list directory %s: %w", dir, err)
	}
	var ids []int32
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), segmentExt) {
			continue
		}
		base := strings.TrimSuffix(e.Name(), segmentExt)
		n, err := strconv.ParseInt(base, 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, int32(n))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func segmentPath(dir string, id int32) string {
	return filepath.Join(dir, fmt.Sprintf("%010d%s", id, segmentExt))
}

func sidecarPath(dir string, id int32) string {
	return filepath.Join(dir, fmt.Sprintf("%010d%s", id, sidecarExt))
}

// createSegment creates a brand new, empty segment with the latest codec
// version, an empty checkpoint sidecar and a random reader.
func (l *Log) createSegment(id int32) (*segmentHandle, error) {
	codec, err := segment.CodecForVersion(segment.LatestVersion)
	if err != nil {
		return nil, err
	}
	w, err := segment.CreateWriter(segmentPath(l.dir, id), id, l.maxFileSize, codec, l.logger, segment.NewWriterMetrics(l.reg, id))
	if err != nil {
		return nil, err
	}
	meta, err := metadb.Open(sidecarPath(l.dir, id))
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	reader := segment.OpenRandomReader(segmentPath(l.dir, id), id, codec, l.logger, segment.NewRandomReaderMetrics(l.reg, id))
	return &segmentHandle{logFileID: id, codec: codec, meta: meta, reader: reader, writer: w}, nil
}

// openSegment reopens an existing segment file discovered on disk. Sealed
// segments get a random reader only; the unsealed tail also gets its writer
// recovered by sequentially scanning to the last good frame.
func (l *Log) openSegment(id int32, sealed bool) (*segmentHandle, error) {
	meta, err := metadb.Open(sidecarPath(l.dir, id))
	if err != nil {
		return nil, err
	}
	cp, found, err := meta.Load()
	if err != nil {
		_ = meta.Close()
		return nil, err
	}
	version := segment.LatestVersion
	if found {
		version = cp.Version
	}
	codec, err := segment.CodecForVersion(version)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}

	sh := &segmentHandle{logFileID: id, sealed: sealed, codec: codec, meta: meta}
	sh.reader = segment.OpenRandomReader(segmentPath(l.dir, id), id, codec, l.logger, segment.NewRandomReaderMetrics(l.reg, id))

	if !sealed {
		pos, fileSize, err := recoverTailPosition(segmentPath(l.dir, id), id, codec, l.logger)
		if err != nil {
			_ = meta.Close()
			return nil, err
		}
		w, err := segment.RecoverWriter(segmentPath(l.dir, id), id, l.maxFileSize, codec, pos, fileSize, l.logger, segment.NewWriterMetrics(l.reg, id))
		if err != nil {
			_ = meta.Close()
			return nil, err
		}
		sh.writer = w
	}
	return sh, nil
}

// recoverTailPosition walks an unsealed segment from 0 with a throwaway
// sequential reader to find the last byte written by a previous process,
// since the metadata sidecar's checkpoint is only a replay optimization and
// may be stale relative to what was actually fsynced.
func recoverTailPosition(path string, id int32, codec segment.Codec, logger log.Logger) (position, fileSize int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, fmt.Errorf("seglog: stat segment %d: %w", id, err)
	}
	sr, err := segment.OpenSequentialReader(path, id, codec, 0, 0, logger)
	if err != nil {
		return 0, 0, err
	}
	defer sr.Close()
	for {
		rec, err := sr.Next()
		if err != nil {
			return 0, 0, err
		}
		if rec == nil {
			break
		}
	}
	return sr.Position(), info.Size(), nil
}

func (l *Log) snapshot() *immutable.SortedMap[int32, *segmentHandle] {
	return l.segments.Load()
}

func (l *Log) activeHandle() (*segmentHandle, error) {
	if l.closed {
		return nil, types.ErrStateClosed
	}
	sh, ok := l.snapshot().Get(l.activeID)
	if !ok || sh.writer == nil {
		return nil, fmt.Errorf("seglog: no active segment")
	}
	return sh, nil
}

// Put appends a PUT record to the active segment.
func (l *Log) Put(txnID, woid int64, ev *types.Event) (types.EventPointer, error) {
	sh, err := l.activeHandle()
	if err != nil {
		return types.EventPointer{}, err
	}
	return sh.writer.Put(txnID, woid, ev)
}

// Take appends a TAKE record to the active segment.
func (l *Log) Take(txnID, woid int64, target types.EventPointer) error {
	sh, err := l.activeHandle()
	if err != nil {
		return err
	}
	return sh.writer.Take(txnID, woid, target)
}

// Rollback appends a ROLLBACK record to the active segment.
func (l *Log) Rollback(txnID, woid int64) error {
	sh, err := l.activeHandle()
	if err != nil {
		return err
	}
	return sh.writer.Rollback(txnID, woid)
}

// Commit appends a COMMIT record to the active segment and fsyncs it.
func (l *Log) Commit(txnID, woid int64) error {
	sh, err := l.activeHandle()
	if err != nil {
		return err
	}
	return sh.writer.Commit(txnID, woid)
}

// IsRollRequired reports whether the active segment lacks room for a frame
// of frameCapacity bytes. The caller must call Roll before the next append if
// this returns true; Log never auto-rolls (§4.2).
func (l *Log) IsRollRequired(frameCapacity int64) (bool, error) {
	sh, err := l.activeHandle()
	if err != nil {
		return false, err
	}
	return sh.writer.IsRollRequired(frameCapacity), nil
}

// Get dereferences an event pointer, routing to the segment it names.
func (l *Log) Get(ptr types.EventPointer) (types.Event, error) {
	sh, ok := l.snapshot().Get(ptr.LogFileID)
	if !ok {
		return types.Event{}, fmt.Errorf("%w: segment %d", types.ErrNotFound, ptr.LogFileID)
	}
	return sh.reader.Get(ptr.Offset)
}

// Roll seals the active segment (closing its writer and keeping its random
// reader) and makes a freshly created segment the new active one.
func (l *Log) Roll() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.closed {
		return types.ErrStateClosed
	}

	dirMap := l.snapshot()
	oldID := l.activeID
	old, ok := dirMap.Get(oldID)
	if !ok {
		return fmt.Errorf("seglog: active segment %d missing from directory", oldID)
	}

	if err := old.writer.Close(); err != nil {
		level.Error(l.logger).Log("msg", "error closing segment on roll", "logFileID", oldID, "err", err)
	}
	sealed := &segmentHandle{
		logFileID: oldID,
		sealed:    true,
		codec:     old.codec,
		meta:      old.meta,
		reader:    old.reader,
	}
	dirMap = dirMap.Set(oldID, sealed)

	newID := l.nextID
	l.nextID++
	newSeg, err := l.createSegment(newID)
	if err != nil {
		return err
	}
	dirMap = dirMap.Set(newID, newSeg)

	l.segments.Store(dirMap)
	l.activeID = newID
	l.metrics.segmentRotations.Inc()
	return nil
}

// MarkCheckpoint persists (offset, writeOrderID) to logFileID's metadata
// sidecar.
func (l *Log) MarkCheckpoint(logFileID int32, offset, woid int64) error {
	sh, ok := l.snapshot().Get(logFileID)
	if !ok {
		return fmt.Errorf("seglog: no such segment %d", logFileID)
	}
	if err := sh.meta.MarkCheckpoint(sh.codec.Version(), offset, woid); err != nil {
		return err
	}
	l.metrics.checkpoints.Inc()
	return nil
}

// MarkCheckpointWriteOrderID advances a segment's checkpoint write-order id
// without changing its offset.
func (l *Log) MarkCheckpointWriteOrderID(logFileID int32, woid int64) error {
	sh, ok := l.snapshot().Get(logFileID)
	if !ok {
		return fmt.Errorf("seglog: no such segment %d", logFileID)
	}
	if err := sh.meta.MarkCheckpointWriteOrderID(woid); err != nil {
		return err
	}
	l.metrics.checkpoints.Inc()
	return nil
}

// Visitor is called once per replayed record. Returning an error stops the
// replay: Replay returns that error and later segments are not visited.
type Visitor func(logFileID int32, rec types.LogRecord) error

// Replay walks every segment, in ascending logFileID order, fast-forwarding
// each one past its recorded checkpoint when that checkpoint is not newer
// than requestedWoid, then yielding every remaining record to visit.
func (l *Log) Replay(requestedWoid int64, visit Visitor) error {
	dirMap := l.snapshot()
	it := dirMap.Iterator()
	for !it.Done() {
		id, sh, _ := it.Next()

		cp, found, err := sh.meta.Load()
		var checkpointPos, checkpointWoid int64
		if found {
			checkpointPos, checkpointWoid = cp.Offset, cp.WriteOrderID
		}
		if err != nil {
			return fmt.Errorf("seglog: load checkpoint for segment %d: %w", id, err)
		}

		sr, err := segment.OpenSequentialReader(segmentPath(l.dir, id), id, sh.codec, checkpointPos, checkpointWoid, l.logger)
		if err != nil {
			return fmt.Errorf("seglog: open sequential reader for segment %d: %w", id, err)
		}
		sr.SkipToLastCheckpointPosition(requestedWoid)

		for {
			rec, err := sr.Next()
			if err != nil {
				sr.Close()
				return fmt.Errorf("seglog: replay segment %d: %w", id, err)
			}
			if rec == nil {
				break
			}
			l.metrics.replayRecords.WithLabelValues(rec.Record.Type.String()).Inc()
			if err := visit(id, *rec); err != nil {
				sr.Close()
				return err
			}
		}
		sr.Close()
	}
	return nil
}

// Close closes the active writer and every segment's random reader and
// metadata sidecar. It is idempotent.
func (l *Log) Close() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	dirMap := l.snapshot()
	it := dirMap.Iterator()
	for !it.Done() {
		id, sh, _ := it.Next()
		if sh.writer != nil {
			if err := sh.writer.Close(); err != nil {
				level.Error(l.logger).Log("msg", "error closing segment writer", "logFileID", id, "err", err)
			}
		}
		if sh.reader != nil {
			if err := sh.reader.Close(); err != nil {
				level.Error(l.logger).Log("msg", "error closing segment reader", "logFileID", id, "err", err)
			}
		}
		if err := sh.meta.Close(); err != nil {
			level.Error(l.logger).Log("msg", "error closing segment metadata", "logFileID", id, "err", err)
		}
	}
	return nil
}
