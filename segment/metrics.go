// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WriterMetrics and RandomReaderMetrics are the per-segment counters a
// Writer/RandomReader updates as it works. One instance is created per
// segment, labeled with that segment's logFileID, mirroring the
// newXMetrics(reg) constructor shape used throughout the teacher's
// top-level metrics.go. They are exported so the orchestrating Log in the
// root package, which knows segment lifetimes, can create one per segment.
type WriterMetrics struct {
	bytesWritten prometheus.Counter
	puts         prometheus.Counter
	takes        prometheus.Counter
	rollbacks    prometheus.Counter
	commits      prometheus.Counter
}

// NewWriterMetrics registers (or re-registers, for a recovered segment) the
// counters for one segment's writer.
func NewWriterMetrics(reg prometheus.Registerer, logFileID int32) *WriterMetrics {
	labels := prometheus.Labels{"log_file_id": strconv.Itoa(int(logFileID))}
	return &WriterMetrics{
		bytesWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "seglog_segment_bytes_written_total",
			Help:        "seglog_segment_bytes_written_total counts frame bytes (op byte plus payload) appended to this segment.",
			ConstLabels: labels,
		}),
		puts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "seglog_segment_puts_total",
			Help:        "seglog_segment_puts_total counts PUT frames appended to this segment.",
			ConstLabels: labels,
		}),
		takes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "seglog_segment_takes_total",
			Help:        "seglog_segment_takes_total counts TAKE frames appended to this segment.",
			ConstLabels: labels,
		}),
		rollbacks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "seglog_segment_rollbacks_total",
			Help:        "seglog_segment_rollbacks_total counts ROLLBACK frames appended to this segment.",
			ConstLabels: labels,
		}),
		commits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "seglog_segment_commits_total",
			Help:        "seglog_segment_commits_total counts COMMIT frames appended to this segment.",
			ConstLabels: labels,
		}),
	}
}

// RandomReaderMetrics holds the counters for one segment's random reader.
type RandomReaderMetrics struct {
	gets prometheus.Counter
}

// NewRandomReaderMetrics registers the counters for one segment's random
// reader.
func NewRandomReaderMetrics(reg prometheus.Registerer, logFileID int32) *RandomReaderMetrics {
	labels := prometheus.Labels{"log_file_id": strconv.Itoa(int(logFileID))}
	return &RandomReaderMetrics{
		gets: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "seglog_segment_random_gets_total",
			Help:        "seglog_segment_random_gets_total counts successful positional Get calls against this segment.",
			ConstLabels: labels,
		}),
	}
}
