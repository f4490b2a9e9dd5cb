package shairport

import (
	"fmt"
	"strconv"
	"strings"
)

// rtpClockHz is the RTP clock rate of AirPlay audio streams.
const rtpClockHz = 44100

// Progress is a decoded prgr record.
type Progress struct {
	Duration float64 // track length in seconds
	Position float64 // elapsed seconds
}

// ParseProgress decodes a prgr payload of the form "start/current/end",
// three RTP timestamps on a 44.1 kHz clock.
func ParseProgress(payload []byte) (Progress, error) {
	parts := strings.Split(strings.TrimSpace(string(payload)), "/")
	if len(parts) != 3 {
		return Progress{}, fmt.Errorf("progress payload %q: expected start/current/end", payload)
	}

	vals := make([]uint64, 3)
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return Progress{}, fmt.Errorf("progress field %q: %w", part, err)
		}
		vals[i] = v
	}

	start, current, end := vals[0], vals[1], vals[2]
	if end < start || current < start {
		return Progress{}, fmt.Errorf("progress timestamps out of order: %d/%d/%d", start, current, end)
	}

	return Progress{
		Duration: float64(end-start) / rtpClockHz,
		Position: float64(current-start) / rtpClockHz,
	}, nil
}
