package common

import (
	"bytes"
	"context"
	"errors"
)

// SectorSize is the traditional block-device sector: request offsets and lengths must be
// a multiple of it, independent of whether a request also falls within a device's bounds.
// A logical page can still be read-modify-written at sub-page granularity, just never at
// sub-sector granularity.
const SectorSize = 512

func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func ContiguousBytes(in [][]byte) []byte {
	if len(in) == 0 {
		return nil
	} else if len(in) == 1 {
		return in[0] // bytes.Join does a copy in this case, otherwise we could just use that
	} else {
		return bytes.Join(in, nil)
	}
}
