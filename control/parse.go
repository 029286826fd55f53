// Package control implements the text-attribute control surface: parsing the small
// human-readable command grammar (writeback mode strings, idle/new directives, boolean
// and integer attributes) and formatting the whitespace-delimited stat tuples read back
// from it. It holds no device state of its own.
package control

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vramfs/zram/common"
	"github.com/vramfs/zram/writeback"
)

// ParseWriteback parses the "writeback" attribute's write value: "huge", "idle", or
// "idle <wb_max> [<wb_idle_min>]".
func ParseWriteback(s string) (writeback.Request, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return writeback.Request{}, common.NewError(common.KindValidation, "empty writeback command")
	}
	switch fields[0] {
	case "huge":
		if len(fields) != 1 {
			return writeback.Request{}, common.NewError(common.KindValidation, "writeback huge takes no arguments")
		}
		return writeback.Request{Mode: writeback.ModeHuge}, nil
	case "idle":
		req := writeback.Request{Mode: writeback.ModeIdle, IdleMin: 1}
		if len(fields) >= 2 {
			max, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return writeback.Request{}, common.WrapError(common.KindValidation, "bad wb_max", err)
			}
			req.Max = max
		}
		if len(fields) >= 3 {
			min, err := strconv.ParseUint(fields[2], 10, 32)
			if err != nil {
				return writeback.Request{}, common.WrapError(common.KindValidation, "bad wb_idle_min", err)
			}
			req.IdleMin = uint32(min)
		}
		if len(fields) > 3 {
			return writeback.Request{}, common.NewError(common.KindValidation, "too many writeback arguments")
		}
		return req, nil
	default:
		return writeback.Request{}, common.NewError(common.KindValidation, fmt.Sprintf("unknown writeback mode %q", fields[0]))
	}
}

// ParseAll reports whether s is the literal directive "all", used by the idle and new
// attributes.
func ParseAll(s string) bool {
	return strings.TrimSpace(s) == "all"
}

// ParseBool parses the handful of boolean spellings the tunables accept.
func ParseBool(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "1", "true", "Y", "y":
		return true, nil
	case "0", "false", "N", "n", "":
		return false, nil
	default:
		return false, common.NewError(common.KindValidation, fmt.Sprintf("bad boolean %q", s))
	}
}

// ParseSize parses a byte count, accepting a trailing newline the way every sysfs-style
// attribute does.
func ParseSize(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, common.WrapError(common.KindValidation, "bad size", err)
	}
	if n < 0 {
		return 0, common.NewError(common.KindValidation, "negative size")
	}
	return n, nil
}
