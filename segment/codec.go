// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/corelogio/seglog/types"
)

// Codec encodes and decodes the version-specific transaction-record payload
// that follows the (version-invariant) OpRecord byte. Versions differ only
// in this payload layout; the op-byte framing never changes, so it lives
// outside the codec in frame.go.
type Codec interface {
	// Version is the byte stamped into a segment's metadata sidecar so the
	// factory in version.go can rebind the right Codec on recovery.
	Version() uint8

	// EncodeTransactionRecord returns the payload bytes for tr, not
	// including the leading op byte.
	EncodeTransactionRecord(tr types.TransactionRecord) ([]byte, error)

	// DecodeTransactionRecord reads a transaction record starting at offset
	// in r (the byte immediately after the op byte) and returns it along
	// with the number of bytes consumed.
	DecodeTransactionRecord(r io.ReaderAt, offset int64) (types.TransactionRecord, int64, error)
}

// v1Codec is the one concrete version required by the external interface in
// spec §6: (transactionID:i64, logWriteOrderID:i64, recordType:i16, body).
type v1Codec struct{}

const v1Version uint8 = 1

// v1HeaderLen is the length of the fixed portion common to every record:
// transactionID(8) + logWriteOrderID(8) + recordType(2).
const v1HeaderLen = 8 + 8 + 2

func (v1Codec) Version() uint8 { return v1Version }

func (v1Codec) EncodeTransactionRecord(tr types.TransactionRecord) ([]byte, error) {
	body, err := encodeV1Body(tr)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, v1HeaderLen+len(body))
	binary.BigEndian.PutUint64(buf[0:8], uint64(tr.TransactionID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(tr.LogWriteOrderID))
	binary.BigEndian.PutUint16(buf[16:18], uint16(tr.Type))
	copy(buf[v1HeaderLen:], body)
	return buf, nil
}

func encodeV1Body(tr types.TransactionRecord) ([]byte, error) {
	switch tr.Type {
	case types.RecordPut:
		if tr.Event == nil {
			return nil, fmt.Errorf("seglog: PUT record missing event")
		}
		return encodeEvent(tr.Event), nil
	case types.RecordTake:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint32(buf[0:4], uint32(tr.Take.LogFileID))
		binary.BigEndian.PutUint32(buf[4:8], uint32(tr.Take.Offset))
		return buf, nil
	case types.RecordRollback, types.RecordCommit:
		return nil, nil
	default:
		return nil, fmt.Errorf("seglog: unknown record type %d", tr.Type)
	}
}

// encodeEvent lays out an event as:
//
//	headerCount:i16
//	  ( keyLen:i16 key  valLen:i32 val ) * headerCount
//	bodyLen:i32 body
func encodeEvent(ev *types.Event) []byte {
	size := 2
	for k, v := range ev.Headers {
		size += 2 + len(k) + 4 + len(v)
	}
	size += 4 + len(ev.Body)

	buf := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint16(buf[off:], uint16(len(ev.Headers)))
	off += 2
	for k, v := range ev.Headers {
		binary.BigEndian.PutUint16(buf[off:], uint16(len(k)))
		off += 2
		off += copy(buf[off:], k)
		binary.BigEndian.PutUint32(buf[off:], uint32(len(v)))
		off += 4
		off += copy(buf[off:], v)
	}
	binary.BigEndian.PutUint32(buf[off:], uint32(len(ev.Body)))
	off += 4
	off += copy(buf[off:], ev.Body)
	return buf
}

func (v1Codec) DecodeTransactionRecord(r io.ReaderAt, offset int64) (types.TransactionRecord, int64, error) {
	var tr types.TransactionRecord

	hdr := make([]byte, v1HeaderLen)
	if err := readFullAt(r, hdr, offset); err != nil {
		return tr, 0, err
	}
	tr.TransactionID = int64(binary.BigEndian.Uint64(hdr[0:8]))
	tr.LogWriteOrderID = int64(binary.BigEndian.Uint64(hdr[8:16]))
	tr.Type = types.RecordType(binary.BigEndian.Uint16(hdr[16:18]))

	consumed := int64(v1HeaderLen)
	switch tr.Type {
	case types.RecordPut:
		ev, n, err := decodeEvent(r, offset+consumed)
		if err != nil {
			return tr, 0, err
		}
		tr.Event = ev
		consumed += n
	case types.RecordTake:
		buf := make([]byte, 8)
		if err := readFullAt(r, buf, offset+consumed); err != nil {
			return tr, 0, err
		}
		tr.Take.LogFileID = int32(binary.BigEndian.Uint32(buf[0:4]))
		tr.Take.Offset = int32(binary.BigEndian.Uint32(buf[4:8]))
		consumed += 8
	case types.RecordRollback, types.RecordCommit:
		// no body
	default:
		return tr, 0, fmt.Errorf("%w: unknown record type %d", types.ErrCorrupt, tr.Type)
	}
	return tr, consumed, nil
}

// maxDecodeFieldLen bounds any single length-prefixed field decodeEvent will
// allocate for. No header key/value or PUT body can legitimately be larger
// than the segment file that contains it, so a length field beyond this is
// corruption, not a large-but-valid record; rejecting it here keeps a single
// bad length byte from requesting a multi-gigabyte allocation before
// readFullAt ever gets a chance to fail on the actual read.
const maxDecodeFieldLen = types.DefaultMaxFileSize

func decodeEvent(r io.ReaderAt, offset int64) (*types.Event, int64, error) {
	var consumed int64

	cbuf := make([]byte, 2)
	if err := readFullAt(r, cbuf, offset+consumed); err != nil {
		return nil, 0, err
	}
	headerCount := binary.BigEndian.Uint16(cbuf)
	consumed += 2

	var headers map[string]string
	if headerCount > 0 {
		headers = make(map[string]string, headerCount)
	}
	for i := uint16(0); i < headerCount; i++ {
		lbuf := make([]byte, 2)
		if err := readFullAt(r, lbuf, offset+consumed); err != nil {
			return nil, 0, err
		}
		keyLen := binary.BigEndian.Uint16(lbuf)
		consumed += 2

		key := make([]byte, keyLen)
		if err := readFullAt(r, key, offset+consumed); err != nil {
			return nil, 0, err
		}
		consumed += int64(keyLen)

		vlbuf := make([]byte, 4)
		if err := readFullAt(r, vlbuf, offset+consumed); err != nil {
			return nil, 0, err
		}
		valLen := binary.BigEndian.Uint32(vlbuf)
		if int64(valLen) > maxDecodeFieldLen {
			return nil, 0, fmt.Errorf("%w: header value length %d exceeds max segment size", types.ErrCorrupt, valLen)
		}
		consumed += 4

		val := make([]byte, valLen)
		if err := readFullAt(r, val, offset+consumed); err != nil {
			return nil, 0, err
		}
		consumed += int64(valLen)

		headers[string(key)] = string(val)
	}

	blbuf := make([]byte, 4)
	if err := readFullAt(r, blbuf, offset+consumed); err != nil {
		return nil, 0, err
	}
	bodyLen := binary.BigEndian.Uint32(blbuf)
	if int64(bodyLen) > maxDecodeFieldLen {
		return nil, 0, fmt.Errorf("%w: body length %d exceeds max segment size", types.ErrCorrupt, bodyLen)
	}
	consumed += 4

	body := make([]byte, bodyLen)
	if err := readFullAt(r, body, offset+consumed); err != nil {
		return nil, 0, err
	}
	consumed += int64(bodyLen)

	return &types.Event{Headers: headers, Body: body}, consumed, nil
}

// readFullAt reads exactly len(buf) bytes at offset, tolerating the case
// where ReadAt returns io.EOF alongside a full read (common for the last
// read in a file that ends exactly at buf's end).
func readFullAt(r io.ReaderAt, buf []byte, offset int64) error {
	n, err := r.ReadAt(buf, offset)
	if err == io.EOF && n == len(buf) {
		return nil
	}
	return err
}
