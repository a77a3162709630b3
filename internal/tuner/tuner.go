// Package tuner models the tuner descriptor and the per-vendor gain tables
// and control quirks that the Radio Controller needs to dispatch on.
package tuner

import (
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Descriptor identifies the analog RF front-end chip behind an opened
// device. It is set once at device open and is immutable thereafter.
type Descriptor uint32

// Wire codes match the greeting's tuner-type field in the rtl_tcp protocol.
const (
	Unknown Descriptor = 0
	E4000   Descriptor = 1
	FC0012  Descriptor = 2
	FC0013  Descriptor = 3
	FC2580  Descriptor = 4
	R820T   Descriptor = 5
	R828D   Descriptor = 6
)

func (d Descriptor) String() string {
	switch d {
	case E4000:
		return "E4000"
	case FC0012:
		return "FC0012"
	case FC0013:
		return "FC0013"
	case FC2580:
		return "FC2580"
	case R820T:
		return "R820T"
	case R828D:
		return "R828D"
	default:
		return "UNKNOWN"
	}
}

// Parse maps a tuner name from configuration to its Descriptor. Unknown
// names map to Unknown.
func Parse(name string) Descriptor {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "E4000":
		return E4000
	case "FC0012":
		return FC0012
	case "FC0013":
		return FC0013
	case "FC2580":
		return FC2580
	case "R820T":
		return R820T
	case "R828D":
		return R828D
	default:
		return Unknown
	}
}

// GainTable returns the ordered list of tuner gains, in tenths of a dB, for
// the given descriptor. Values are the real librtlsdr tables hardcoded so
// they're available without a physically attached device.
func GainTable(d Descriptor) []int {
	switch d {
	case E4000:
		return []int{-10, 15, 40, 65, 90, 115, 140, 165, 190, 215, 240, 290,
			340, 420}
	case FC0012:
		return []int{-99, -40, 71, 179, 192}
	case FC0013:
		return []int{-99, -73, -65, -63, -60, -58, -54, 58, 61, 63, 65, 67, 68,
			70, 71, 179, 181, 182, 184, 186, 188, 191, 197}
	case FC2580:
		return []int{0}
	case R820T, R828D:
		return []int{0, 9, 14, 27, 37, 77, 87, 125, 144, 157, 166, 197, 207,
			229, 254, 280, 297, 328, 338, 364, 372, 386, 402, 421, 434, 439,
			445, 480, 496}
	default:
		return []int{0}
	}
}

// NearestGainIndex returns the index into GainTable(d) whose value is
// closest to requestedTenthsDB. Used by command 0x04 (set manual gain),
// which selects the nearest supported table entry.
func NearestGainIndex(d Descriptor, requestedTenthsDB int) int {
	table := GainTable(d)
	asFloat := make([]float64, len(table))
	for i, v := range table {
		asFloat[i] = float64(v)
	}
	return floats.NearestIdx(asFloat, float64(requestedTenthsDB))
}

// SupportsOffsetTuning reports whether a set-offset-tuning request should be
// forwarded to the driver. On R820T/R828D tuners, offset tuning is not a
// meaningful concept; the request is accepted and silently ignored rather
// than rejected, matching the reference rtl_tcp server.
func SupportsOffsetTuning(d Descriptor) bool {
	return d != R820T && d != R828D
}

// SupportsIFGainStage reports whether the tuner exposes a separate IF gain
// stage (command 0x06). Only the E4000 does.
func SupportsIFGainStage(d Descriptor) bool {
	return d == E4000
}
