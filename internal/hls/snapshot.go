package hls

import (
	"github.com/jmylchreest/hlsindex/internal/codec"
	"github.com/jmylchreest/hlsindex/internal/drm"
	"github.com/jmylchreest/hlsindex/internal/segment"
	"github.com/jmylchreest/hlsindex/internal/timeline"
)

// ManifestSnapshot is a serializable point-in-time view of a presentation.
type ManifestSnapshot struct {
	PresentationType timeline.PresentationType `json:"presentationType" yaml:"presentation_type"`
	UpdateDelay      float64                   `json:"updateDelay" yaml:"update_delay"`
	Timeline         timeline.Snapshot         `json:"timeline" yaml:"timeline"`
	Variants         []VariantSnapshot         `json:"variants" yaml:"variants"`
	TextStreams      []StreamSnapshot          `json:"textStreams" yaml:"text_streams"`
}

// VariantSnapshot describes one variant.
type VariantSnapshot struct {
	ID        int64           `json:"id" yaml:"id"`
	Language  string          `json:"language" yaml:"language"`
	Primary   bool            `json:"primary" yaml:"primary"`
	Bandwidth int64           `json:"bandwidth" yaml:"bandwidth"`
	Audio     *StreamSnapshot `json:"audio,omitempty" yaml:"audio,omitempty"`
	Video     *StreamSnapshot `json:"video,omitempty" yaml:"video,omitempty"`
	DRMInfos  []drm.Info      `json:"drmInfos,omitempty" yaml:"drm_infos,omitempty"`
}

// StreamSnapshot describes one stream and its current segment window.
type StreamSnapshot struct {
	ID                     int64             `json:"id" yaml:"id"`
	Type                   string            `json:"type" yaml:"type"`
	MimeType               string            `json:"mimeType" yaml:"mime_type"`
	Codecs                 string            `json:"codecs" yaml:"codecs"`
	CodecFamilies          []string          `json:"codecFamilies,omitempty" yaml:"codec_families,omitempty"`
	Kind                   string            `json:"kind,omitempty" yaml:"kind,omitempty"`
	Language               string            `json:"language" yaml:"language"`
	Label                  string            `json:"label,omitempty" yaml:"label,omitempty"`
	Primary                bool              `json:"primary" yaml:"primary"`
	Encrypted              bool              `json:"encrypted" yaml:"encrypted"`
	KeyID                  string            `json:"keyId,omitempty" yaml:"key_id,omitempty"`
	Width                  int               `json:"width,omitempty" yaml:"width,omitempty"`
	Height                 int               `json:"height,omitempty" yaml:"height,omitempty"`
	FrameRate              float64           `json:"frameRate,omitempty" yaml:"frame_rate,omitempty"`
	ChannelsCount          int               `json:"channelsCount,omitempty" yaml:"channels_count,omitempty"`
	ClosedCaptions         map[string]string `json:"closedCaptions,omitempty" yaml:"closed_captions,omitempty"`
	PresentationTimeOffset float64           `json:"presentationTimeOffset" yaml:"presentation_time_offset"`
	InitSegment            *SegmentSnapshot  `json:"initSegment,omitempty" yaml:"init_segment,omitempty"`
	Segments               segment.Window    `json:"segments" yaml:"segments"`
}

// SegmentSnapshot describes one segment or init segment.
type SegmentSnapshot struct {
	Position  int64    `json:"position" yaml:"position"`
	StartTime float64  `json:"startTime" yaml:"start_time"`
	EndTime   float64  `json:"endTime" yaml:"end_time"`
	URIs      []string `json:"uris" yaml:"uris"`
	StartByte int64    `json:"startByte" yaml:"start_byte"`
	EndByte   int64    `json:"endByte" yaml:"end_byte"`
}

// NewSegmentSnapshot converts a reference.
func NewSegmentSnapshot(ref segment.Reference) SegmentSnapshot {
	return SegmentSnapshot{
		Position:  ref.Position,
		StartTime: ref.StartTime,
		EndTime:   ref.EndTime,
		URIs:      ref.URIs(),
		StartByte: ref.StartByte,
		EndByte:   ref.EndByte,
	}
}

// Snapshot captures the stream's attributes and segment window.
func (s *Stream) Snapshot() StreamSnapshot {
	out := StreamSnapshot{
		ID:                     s.ID,
		Type:                   string(s.Type),
		MimeType:               s.MimeType,
		Codecs:                 s.Codecs,
		CodecFamilies:          codec.Families(s.Codecs),
		Kind:                   s.Kind,
		Language:               s.Language,
		Label:                  s.Label,
		Primary:                s.Primary,
		Encrypted:              s.Encrypted,
		KeyID:                  s.KeyID,
		Width:                  s.Width,
		Height:                 s.Height,
		FrameRate:              s.FrameRate,
		ChannelsCount:          s.ChannelsCount,
		ClosedCaptions:         s.ClosedCaptions,
		PresentationTimeOffset: s.PresentationTimeOffset,
		Segments:               s.Segments(),
	}
	if s.InitSegment != nil {
		out.InitSegment = &SegmentSnapshot{
			URIs:      s.InitSegment.URIs(),
			StartByte: s.InitSegment.StartByte,
			EndByte:   s.InitSegment.EndByte,
		}
	}
	return out
}

func streamSnapshot(s *Stream) *StreamSnapshot {
	if s == nil {
		return nil
	}
	snap := s.Snapshot()
	return &snap
}

// Snapshot captures the parser's current manifest. ok is false before Start
// completes and after Stop.
func (p *Parser) Snapshot() (snap ManifestSnapshot, ok bool) {
	m := p.Manifest()
	if m == nil {
		return ManifestSnapshot{}, false
	}

	snap = ManifestSnapshot{
		PresentationType: p.PresentationType(),
		UpdateDelay:      p.UpdateDelay().Seconds(),
		Timeline:         m.Timeline.Snapshot(),
		Variants:         []VariantSnapshot{},
		TextStreams:      []StreamSnapshot{},
	}
	for _, period := range m.Periods {
		for _, v := range period.Variants {
			snap.Variants = append(snap.Variants, VariantSnapshot{
				ID:        v.ID,
				Language:  v.Language,
				Primary:   v.Primary,
				Bandwidth: v.Bandwidth,
				Audio:     streamSnapshot(v.Audio),
				Video:     streamSnapshot(v.Video),
				DRMInfos:  v.DRMInfos,
			})
		}
		for _, s := range period.TextStreams {
			snap.TextStreams = append(snap.TextStreams, s.Snapshot())
		}
	}
	return snap, true
}
