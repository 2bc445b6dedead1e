// Package mpegts extracts presentation timestamps from MPEG-2 transport
// stream data. It tolerates truncated input so that callers can probe the
// leading bytes of a segment without downloading all of it. Packets that
// do not start a payload unit, or carry no payload, are skipped while
// looking for the first PES header; a range cut mid-PES therefore still
// yields the next timestamp instead of an error.
package mpegts

import (
	"errors"
	"fmt"
)

const (
	syncByte = 0x47

	// Timescale is the MPEG-2 system clock rate used by PTS/DTS values.
	Timescale = 90000

	// RolloverTicks is the modulus of the 33-bit PTS counter.
	RolloverTicks = uint64(1) << 33
)

// RolloverSeconds is the period after which a PTS wraps to zero.
const RolloverSeconds = float64(RolloverTicks) / Timescale

// Packet sizes tried, in order, when locating the next sync byte.
var packetSizes = []int{188, 192, 204}

var (
	ErrNoSync = errors.New("mpegts: sync byte not found")
	ErrNoPTS  = errors.New("mpegts: no PES packet carrying a PTS")
)

// FirstPTS returns the first PTS found in data, in 90kHz ticks.
func FirstPTS(data []byte) (uint64, error) {
	start := 0
	for {
		if start >= len(data) {
			return 0, ErrNoPTS
		}
		if data[start] != syncByte {
			return 0, fmt.Errorf("%w at offset %d", ErrNoSync, start)
		}

		pts, found, err := ptsFromPacket(data[start:])
		if err != nil {
			return 0, err
		}
		if found {
			return pts, nil
		}

		next, ok := nextPacket(data, start)
		if !ok {
			return 0, ErrNoPTS
		}
		start = next
	}
}

// FirstPTSSeconds is FirstPTS divided by the 90kHz timescale.
func FirstPTSSeconds(data []byte) (float64, error) {
	pts, err := FirstPTS(data)
	if err != nil {
		return 0, err
	}
	return float64(pts) / Timescale, nil
}

func nextPacket(data []byte, start int) (int, bool) {
	for _, size := range packetSizes {
		n := start + size
		if n < len(data) && data[n] == syncByte {
			return n, true
		}
	}
	return 0, false
}

// ptsFromPacket reports found=false for packets that do not open a PES
// packet (continuations, PSI tables, adaptation-only packets).
func ptsFromPacket(pkt []byte) (uint64, bool, error) {
	if len(pkt) < 4 {
		return 0, false, nil
	}
	pusi := pkt[1]&0x40 != 0
	hasAdaptation := pkt[3]&0x20 != 0
	hasPayload := pkt[3]&0x10 != 0
	if !pusi || !hasPayload {
		return 0, false, nil
	}

	offset := 4
	if hasAdaptation {
		if offset >= len(pkt) {
			return 0, false, nil
		}
		offset += 1 + int(pkt[offset])
	}

	payload := pkt[min(offset, len(pkt)):]
	if len(payload) < 9 || payload[0] != 0x00 || payload[1] != 0x00 || payload[2] != 0x01 {
		return 0, false, nil
	}

	indicator := payload[7] >> 6
	if indicator == 0 || indicator == 1 {
		return 0, false, fmt.Errorf("%w: PES header has PTS_DTS_flags=%d", ErrNoPTS, indicator)
	}
	if len(payload) < 14 {
		return 0, false, fmt.Errorf("%w: PES header truncated", ErrNoPTS)
	}
	return decodeTimestamp(payload[9:14]), true, nil
}

// decodeTimestamp unpacks the 33-bit marker-interleaved PTS/DTS field.
func decodeTimestamp(b []byte) uint64 {
	return uint64(b[0]>>1&0x07)<<30 |
		uint64(b[1])<<22 |
		uint64(b[2]>>1&0x7F)<<15 |
		uint64(b[3])<<7 |
		uint64(b[4]>>1&0x7F)
}
