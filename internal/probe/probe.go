// Package probe recovers the first presentation timestamp of a media segment
// from its container: ISO BMFF (tfdt over mdhd timescale), MPEG-TS (first
// PES PTS) or a text format handled by a TextProber.
package probe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmylchreest/hlsindex/internal/codec"
	"github.com/jmylchreest/hlsindex/internal/mp4box"
	"github.com/jmylchreest/hlsindex/internal/mpegts"
)

// ErrUnsupportedMimeType is returned for containers no probe understands.
var ErrUnsupportedMimeType = errors.New("probe: unsupported mime type")

// Kind is the probing strategy for a container MIME type.
type Kind int

const (
	// KindUnsupported cannot be probed.
	KindUnsupported Kind = iota
	// KindZero has no in-band timestamps; its origin is taken as 0.
	KindZero
	// KindMP4 needs the init segment for the timescale.
	KindMP4
	// KindTS reads the first PTS.
	KindTS
	// KindText delegates to the TextProber.
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindZero:
		return "zero"
	case KindMP4:
		return "mp4"
	case KindTS:
		return "mpegts"
	case KindText:
		return "text"
	default:
		return "unsupported"
	}
}

// KindFor classifies a container MIME type (without parameters).
func KindFor(mimeType string) Kind {
	switch mimeType {
	case "audio/mpeg":
		return KindZero
	case "video/mp4", "audio/mp4":
		return KindMP4
	case "video/mp2t":
		return KindTS
	case "application/mp4":
		return KindText
	}
	if strings.HasPrefix(mimeType, "text/") {
		return KindText
	}
	return KindUnsupported
}

// TextProber determines the start time of text segments. It stands in for a
// subtitle engine that understands more formats than the built-in WebVTT
// prober.
type TextProber interface {
	IsTypeSupported(fullMimeType string) bool
	StartTime(fullMimeType string, data []byte) (float64, error)
}

// Prober dispatches by container kind.
type Prober struct {
	text TextProber
}

// New returns a Prober. A nil text prober selects the built-in WebVTT one.
func New(text TextProber) *Prober {
	if text == nil {
		text = WebVTT{}
	}
	return &Prober{text: text}
}

// StartTime returns the first timestamp in seconds. init may be nil, in which
// case MP4 media is treated as self-initializing.
func (p *Prober) StartTime(mimeType, codecs string, init, media []byte) (float64, error) {
	switch KindFor(mimeType) {
	case KindZero:
		return 0, nil
	case KindMP4:
		if init == nil {
			init = media
		}
		return MP4StartTime(init, media)
	case KindTS:
		return mpegts.FirstPTSSeconds(media)
	case KindText:
		full := codec.FullMimeType(mimeType, codecs)
		if !p.text.IsTypeSupported(full) {
			// Unplayable text is filtered later; its start is irrelevant.
			return 0, nil
		}
		return p.text.StartTime(full, media)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMimeType, mimeType)
	}
}

// MP4StartTime divides the fragment's baseMediaDecodeTime by the init
// segment's media timescale.
func MP4StartTime(init, media []byte) (float64, error) {
	timescale, err := mp4box.Timescale(init)
	if err != nil {
		return 0, err
	}
	if timescale == 0 {
		return 0, mp4box.ErrTimescaleNotFound
	}
	bmdt, err := mp4box.BaseMediaDecodeTime(media)
	if err != nil {
		return 0, err
	}
	return float64(bmdt) / float64(timescale), nil
}
