// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package seglog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// logMetrics holds the log-wide counters that aren't tied to any one
// segment: rotations, checkpoint writes and replayed records by type.
// Per-segment counters (bytes written, puts, takes, gets, ...) live in
// segment.WriterMetrics/RandomReaderMetrics instead, one instance per
// segment, the same split the teacher keeps between its top-level
// walMetrics and the counters its segment writer bumps directly.
type logMetrics struct {
	segmentRotations prometheus.Counter
	checkpoints      prometheus.Counter
	replayRecords    *prometheus.CounterVec
}

func newLogMetrics(reg prometheus.Registerer) *logMetrics {
	return &logMetrics{
		segmentRotations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "segment_rotations",
			Help: "segment_rotations counts how many times the active segment has been sealed and replaced.",
		}),
		checkpoints: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "checkpoints_written",
			Help: "checkpoints_written counts calls to MarkCheckpoint/MarkCheckpointWriteOrderID across all segments.",
		}),
		replayRecords: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "replay_records",
				Help: "replay_records counts records yielded during Replay, labeled by record type.",
			},
			[]string{"record_type"},
		),
	}
}
