// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Command replay scans a single segment file front to back and prints one
// line per record it decodes, followed by a summary of how many of each
// kind it saw. It talks directly to the segment package rather than to Log,
// since it is meant to work on a single file even when the rest of the
// directory (sibling segments, sidecars) is unavailable or untrusted.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/spf13/cobra"

	"github.com/corelogio/seglog/segment"
	"github.com/corelogio/seglog/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <segment-file>",
		Short: "Replay a single segment file and print its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.OutOrStdout(), args[0])
		},
		SilenceUsage: true,
	}
	return cmd
}

func runReplay(out io.Writer, path string) error {
	codec, err := segment.CodecForVersion(segment.LatestVersion)
	if err != nil {
		return err
	}

	logFileID := segmentIDFromName(path)
	logger := log.NewLogfmtLogger(os.Stderr)
	sr, err := segment.OpenSequentialReader(path, logFileID, codec, 0, 0, logger)
	if err != nil {
		return fmt.Errorf("replay: open %s: %w", path, err)
	}
	defer sr.Close()

	var counts [5]int // index 0: total read; 1-4: by types.RecordType
	for {
		rec, err := sr.Next()
		if err != nil {
			return fmt.Errorf("replay: %s: %w", path, err)
		}
		if rec == nil {
			break
		}

		tr := rec.Record
		counts[0]++ // total read
		if int(tr.Type) < len(counts) {
			counts[tr.Type]++
		}

		var pointer string
		if tr.Type == types.RecordTake {
			pointer = fmt.Sprintf(", %d:%d", tr.Take.LogFileID, tr.Take.Offset)
		}
		fmt.Fprintf(out, "%d, %d, %d, %d, %s%s\n",
			tr.TransactionID, tr.LogWriteOrderID, logFileID, rec.Offset, tr.Type, pointer)
	}

	fmt.Fprintf(out, "read=%d, put=%d, take=%d, rollback=%d, commit=%d\n",
		counts[0], counts[types.RecordPut], counts[types.RecordTake], counts[types.RecordRollback], counts[types.RecordCommit])
	return nil
}

// segmentIDFromName recovers the logFileID from a segment file named the
// way Log lays them out ("%010d.log"); files named some other way replay as
// logFileID 0, since the id is only used for display (a TAKE record's
// pointer is printed from the record itself).
func segmentIDFromName(path string) int32 {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	n, err := strconv.ParseInt(base, 10, 32)
	if err != nil {
		return 0
	}
	return int32(n)
}
