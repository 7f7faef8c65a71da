// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import "github.com/corelogio/seglog/types"

// frameHeaderLen is the size of everything in a frame before the codec
// payload: just the one op byte. Kept as a named constant, matching the
// style of the fixed-header constants in codec.go, rather than a bare 1
// scattered through the package.
const frameHeaderLen = 1

// encodeFrame prepends the OpRecord byte to an already-encoded payload,
// returning a single contiguous buffer suitable for one WriteAt call, as
// required by the append algorithm in §4.2.
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, frameHeaderLen+len(payload))
	buf[0] = byte(types.OpRecord)
	copy(buf[frameHeaderLen:], payload)
	return buf
}
