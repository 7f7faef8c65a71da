// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"fmt"

	"github.com/corelogio/seglog/types"
)

// registry maps a codec version byte to its implementation. Versions differ
// only in transaction-record payload layout; the OpRecord/OpEOF framing is
// version-invariant and lives outside any Codec (frame.go).
var registry = map[uint8]Codec{
	v1Version: v1Codec{},
}

// LatestVersion is the codec version bound to any segment this process
// creates from scratch, and so the version its sidecar records once a
// checkpoint is written.
const LatestVersion = v1Version

// CodecForVersion returns the registered Codec for version v, or
// ErrUnsupportedVersion if no codec was ever registered for it.
func CodecForVersion(v uint8) (Codec, error) {
	c, ok := registry[v]
	if !ok {
		return nil, fmt.Errorf("%w: version %d", types.ErrUnsupportedVersion, v)
	}
	return c, nil
}
