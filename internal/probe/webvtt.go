package probe

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmylchreest/hlsindex/internal/codec"
	"github.com/jmylchreest/hlsindex/internal/mpegts"
)

var (
	ErrNotWebVTT = errors.New("probe: missing WEBVTT header")
	ErrNoCues    = errors.New("probe: no cue timing found")
)

// WebVTT probes text/vtt segments: the first cue start, shifted by the
// X-TIMESTAMP-MAP header when HLS maps cue time onto the MPEG-TS clock.
type WebVTT struct{}

// IsTypeSupported implements TextProber.
func (WebVTT) IsTypeSupported(fullMimeType string) bool {
	return codec.EssenceType(fullMimeType) == "text/vtt"
}

// StartTime implements TextProber.
func (WebVTT) StartTime(_ string, data []byte) (float64, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	scanner := bufio.NewScanner(bytes.NewReader(data))

	if !scanner.Scan() || !strings.HasPrefix(scanner.Text(), "WEBVTT") {
		return 0, ErrNotWebVTT
	}

	var offset float64
	mapped := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if v, ok := strings.CutPrefix(line, "X-TIMESTAMP-MAP="); ok {
			o, err := parseTimestampMap(v)
			if err != nil {
				return 0, err
			}
			offset, mapped = o, true
			continue
		}
		start, _, ok := strings.Cut(line, "-->")
		if !ok {
			continue
		}
		t, err := parseCueTime(strings.TrimSpace(start))
		if err != nil {
			return 0, err
		}
		return t + offset, nil
	}

	// A segment can legitimately carry no cues; the mapping alone still
	// anchors it on the transport clock.
	if mapped {
		return offset, nil
	}
	return 0, ErrNoCues
}

// parseTimestampMap reads "MPEGTS:<ticks>,LOCAL:<cue time>" in either order.
func parseTimestampMap(v string) (float64, error) {
	var (
		ticks uint64
		local float64
		err   error
	)
	for _, part := range strings.Split(v, ",") {
		key, val, _ := strings.Cut(strings.TrimSpace(part), ":")
		switch key {
		case "MPEGTS":
			ticks, err = strconv.ParseUint(val, 10, 64)
		case "LOCAL":
			local, err = parseCueTime(val)
		}
		if err != nil {
			return 0, fmt.Errorf("probe: bad X-TIMESTAMP-MAP %q: %w", v, err)
		}
	}
	return float64(ticks)/mpegts.Timescale - local, nil
}

// parseCueTime parses "hh:mm:ss.ttt" or "mm:ss.ttt".
func parseCueTime(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("probe: bad cue time %q", s)
	}
	secs, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("probe: bad cue time %q: %w", s, err)
	}
	total := secs
	mult := 60.0
	for i := len(parts) - 2; i >= 0; i-- {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return 0, fmt.Errorf("probe: bad cue time %q: %w", s, err)
		}
		total += float64(n) * mult
		mult *= 60
	}
	return total, nil
}
