package hls

import (
	"github.com/jmylchreest/hlsindex/internal/codec"
	"github.com/jmylchreest/hlsindex/internal/drm"
	"github.com/jmylchreest/hlsindex/internal/segment"
	"github.com/jmylchreest/hlsindex/internal/timeline"
)

// KindSubtitle is the Kind of every SUBTITLES rendition.
const KindSubtitle = "subtitle"

// Stream is one media playlist of the presentation. Segment lookups go
// through the live index, so they reflect the latest update.
type Stream struct {
	ID         int64
	OriginalID string
	Type       codec.ContentType
	MimeType   string
	Codecs     string
	Kind       string
	Language   string
	Label      string
	Primary    bool

	Encrypted bool
	KeyID     string
	DRMInfos  []drm.Info

	ChannelsCount int
	// ClosedCaptions maps INSTREAM-ID to language for video streams.
	ClosedCaptions map[string]string

	Width     int
	Height    int
	FrameRate float64

	// PresentationTimeOffset is what a consumer subtracts from media
	// timestamps to land on the presentation timeline.
	PresentationTimeOffset float64

	InitSegment *segment.InitReference

	index *segment.Index
}

// FindSegmentPosition returns the position of the segment covering t
// seconds on the presentation timeline.
func (s *Stream) FindSegmentPosition(t float64) (int64, bool) {
	return s.index.Find(t)
}

// GetSegmentReference returns the segment at position.
func (s *Stream) GetSegmentReference(position int64) (segment.Reference, bool) {
	return s.index.Get(position)
}

// Segments returns the current addressable window.
func (s *Stream) Segments() segment.Window {
	return s.index.Window()
}

// Variant pairs at most one audio and one video stream.
type Variant struct {
	ID        int64
	Language  string
	Primary   bool
	Bandwidth int64
	Audio     *Stream
	Video     *Stream
	DRMInfos  []drm.Info
}

// Period is the single logical period of an HLS presentation.
type Period struct {
	StartTime   float64
	Variants    []*Variant
	TextStreams []*Stream
}

// Manifest is the parsed presentation.
type Manifest struct {
	Timeline *timeline.Timeline
	Periods  []*Period
}

// Streams returns every distinct stream in variant order followed by text
// streams.
func (m *Manifest) Streams() []*Stream {
	seen := make(map[int64]struct{})
	var out []*Stream
	add := func(s *Stream) {
		if s == nil {
			return
		}
		if _, ok := seen[s.ID]; ok {
			return
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	for _, p := range m.Periods {
		for _, v := range p.Variants {
			add(v.Video)
			add(v.Audio)
		}
		for _, s := range p.TextStreams {
			add(s)
		}
	}
	return out
}

// Stream returns the stream with the given ID.
func (m *Manifest) Stream(id int64) (*Stream, bool) {
	for _, s := range m.Streams() {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// streamInfo is the parser's record for one resolved media playlist.
type streamInfo struct {
	stream   *Stream
	index    *segment.Index
	drmInfos []drm.Info

	// verbatimURI is the URI as written in the master playlist; it keys the
	// arena so that redirects do not create duplicates.
	verbatimURI string
	absoluteURI string

	minTimestamp float64
	maxTimestamp float64
	duration     float64

	// offset is the total shift applied to index times after construction.
	offset float64
}
