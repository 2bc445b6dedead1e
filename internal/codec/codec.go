// Package codec classifies RFC 6381 codec strings as they appear in HLS
// CODECS attributes. It maps codec strings to content types and to canonical
// codec families, and picks container MIME types by file extension.
package codec

import "strings"

// Video represents a video codec family.
type Video string

// Video codec constants.
const (
	VideoH264 Video = "h264" // H.264/AVC
	VideoH265 Video = "h265" // H.265/HEVC
	VideoVP8  Video = "vp8"
	VideoVP9  Video = "vp9"
	VideoAV1  Video = "av1"
)

// Audio represents an audio codec family.
type Audio string

// Audio codec constants.
const (
	AudioAAC    Audio = "aac"
	AudioMP3    Audio = "mp3"
	AudioAC3    Audio = "ac3"  // Dolby Digital (AC-3)
	AudioEAC3   Audio = "eac3" // Dolby Digital Plus (E-AC-3)
	AudioOpus   Audio = "opus"
	AudioVorbis Audio = "vorbis"
	AudioFLAC   Audio = "flac"
)

// Text represents a subtitle codec family.
type Text string

// Text codec constants.
const (
	TextWebVTT Text = "webvtt"
	TextTTML   Text = "ttml"
)

// String returns the string representation of the video codec.
func (v Video) String() string {
	return string(v)
}

// String returns the string representation of the audio codec.
func (a Audio) String() string {
	return string(a)
}

// String returns the string representation of the text codec.
func (t Text) String() string {
	return string(t)
}

// videoInfo describes a video codec family.
type videoInfo struct {
	Name Video
	// Sample entry names and common aliases, matched against the part of
	// the codec string before the first '.'.
	Aliases []string
}

// audioInfo describes an audio codec family.
type audioInfo struct {
	Name    Audio
	Aliases []string
	// Full codec strings that map to this family even though their base
	// belongs to another one (mp4a.40.34 is MP3 carried in MP4).
	Exact []string
}

var videoRegistry = map[Video]*videoInfo{
	VideoH264: {Name: VideoH264, Aliases: []string{"h264", "avc", "avc1", "avc3"}},
	VideoH265: {Name: VideoH265, Aliases: []string{"h265", "hevc", "hev1", "hvc1"}},
	VideoVP8:  {Name: VideoVP8, Aliases: []string{"vp8", "vp08"}},
	VideoVP9:  {Name: VideoVP9, Aliases: []string{"vp9", "vp09"}},
	VideoAV1:  {Name: VideoAV1, Aliases: []string{"av1", "av01"}},
}

var audioRegistry = map[Audio]*audioInfo{
	AudioAAC:    {Name: AudioAAC, Aliases: []string{"aac", "mp4a"}},
	AudioMP3:    {Name: AudioMP3, Aliases: []string{"mp3"}, Exact: []string{"mp4a.40.34", "mp4a.6b", "mp4a.69"}},
	AudioAC3:    {Name: AudioAC3, Aliases: []string{"ac3", "ac-3"}},
	AudioEAC3:   {Name: AudioEAC3, Aliases: []string{"eac3", "ec-3"}},
	AudioOpus:   {Name: AudioOpus, Aliases: []string{"opus"}},
	AudioVorbis: {Name: AudioVorbis, Aliases: []string{"vorbis"}},
	AudioFLAC:   {Name: AudioFLAC, Aliases: []string{"flac", "fla"}},
}

var textRegistry = map[string]Text{
	"vtt":  TextWebVTT,
	"wvtt": TextWebVTT,
	"stpp": TextTTML,
}

// videoAliasIndex maps all aliases to their canonical codec.
var videoAliasIndex map[string]Video

// audioAliasIndex maps all aliases to their canonical codec.
var audioAliasIndex map[string]Audio

// audioExactIndex maps full codec strings that override the alias lookup.
var audioExactIndex map[string]Audio

func init() {
	videoAliasIndex = make(map[string]Video)
	for codec, info := range videoRegistry {
		for _, alias := range info.Aliases {
			videoAliasIndex[alias] = codec
		}
	}

	audioAliasIndex = make(map[string]Audio)
	audioExactIndex = make(map[string]Audio)
	for codec, info := range audioRegistry {
		for _, alias := range info.Aliases {
			audioAliasIndex[alias] = codec
		}
		for _, exact := range info.Exact {
			audioExactIndex[exact] = codec
		}
	}
}

// ParseVideo maps a codec string such as "avc1.64001f" to its family.
func ParseVideo(s string) (Video, bool) {
	codec, ok := videoAliasIndex[Base(strings.ToLower(strings.TrimSpace(s)))]
	return codec, ok
}

// ParseAudio maps a codec string such as "mp4a.40.2" to its family.
func ParseAudio(s string) (Audio, bool) {
	lower := strings.ToLower(strings.TrimSpace(s))
	if codec, ok := audioExactIndex[lower]; ok {
		return codec, true
	}
	codec, ok := audioAliasIndex[Base(lower)]
	return codec, ok
}

// Normalize returns the canonical family name for an HLS codec string, or
// the input unchanged if it is not recognized.
func Normalize(name string) string {
	if name == "" {
		return name
	}
	if v, ok := ParseVideo(name); ok {
		return string(v)
	}
	if a, ok := ParseAudio(name); ok {
		return string(a)
	}
	if t, ok := textRegistry[Base(strings.ToLower(name))]; ok {
		return string(t)
	}
	return name
}

// Families normalizes each entry of a CODECS value, e.g.
// "avc1.64001f,mp4a.40.2" gives ["h264", "aac"]. Duplicate families are
// reported once.
func Families(codecs string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, c := range Split(codecs) {
		f := Normalize(c)
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Base returns the codec string up to the first '.', e.g. "avc1" for
// "avc1.4d401f".
func Base(codec string) string {
	base, _, _ := strings.Cut(codec, ".")
	return base
}
