package codec

import (
	"errors"
	"regexp"
	"strings"
)

// ContentType is the media type a stream carries.
type ContentType string

const (
	ContentAudio ContentType = "audio"
	ContentVideo ContentType = "video"
	ContentText  ContentType = "text"
)

// DefaultCodecs is assumed when a variant has no CODECS attribute:
// H.264 baseline level 3.0 plus AAC-LC.
const DefaultCodecs = "avc1.42E01E,mp4a.40.2"

// ErrCouldNotGuess is returned when no codec in the list fits the content type.
var ErrCouldNotGuess = errors.New("codec: could not guess codecs")

var patternsByContentType = map[ContentType][]*regexp.Regexp{
	ContentVideo: {
		regexp.MustCompile(`^avc`),
		regexp.MustCompile(`^hev`),
		regexp.MustCompile(`^hvc`),
		regexp.MustCompile(`^vp0?[89]`),
		regexp.MustCompile(`^av1$`),
	},
	ContentAudio: {
		regexp.MustCompile(`^vorbis$`),
		regexp.MustCompile(`^opus$`),
		regexp.MustCompile(`^flac$`),
		regexp.MustCompile(`^mp4a`),
		regexp.MustCompile(`^[ae]c-3$`),
	},
	ContentText: {
		regexp.MustCompile(`^vtt$`),
		regexp.MustCompile(`^wvtt`),
		regexp.MustCompile(`^stpp`),
	},
}

var mimeByExtension = map[ContentType]map[string]string{
	ContentAudio: {
		"mp4": "audio/mp4",
		"m4s": "audio/mp4",
		"m4i": "audio/mp4",
		"m4a": "audio/mp4",
		// MPEG-2 TS audio is still video/mp2t.
		"ts": "video/mp2t",
	},
	ContentVideo: {
		"mp4": "video/mp4",
		"m4s": "video/mp4",
		"m4i": "video/mp4",
		"m4v": "video/mp4",
		"ts":  "video/mp2t",
	},
	ContentText: {
		"mp4":  "application/mp4",
		"m4s":  "application/mp4",
		"m4i":  "application/mp4",
		"vtt":  "text/vtt",
		"ttml": "application/ttml+xml",
	},
}

var splitPattern = regexp.MustCompile(`\s*,\s*`)

// Split breaks a CODECS attribute into its entries.
func Split(codecs string) []string {
	if strings.TrimSpace(codecs) == "" {
		return nil
	}
	return splitPattern.Split(strings.TrimSpace(codecs), -1)
}

// FilterDuplicates keeps the first codec of each base, so "avc1.4d401f" and
// "avc1.640028" in one list collapse to the first.
func FilterDuplicates(codecs []string) []string {
	seen := make(map[string]struct{}, len(codecs))
	out := make([]string, 0, len(codecs))
	for _, c := range codecs {
		base := Base(c)
		if _, ok := seen[base]; ok {
			continue
		}
		seen[base] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Matches reports whether codec belongs to the content type's family.
func Matches(ct ContentType, codec string) bool {
	for _, re := range patternsByContentType[ct] {
		if re.MatchString(strings.TrimSpace(codec)) {
			return true
		}
	}
	return false
}

// GuessSafe returns the first codec matching the content type. Patterns take
// priority over list order. Text content matches "" when nothing fits since
// text streams need no codec string.
func GuessSafe(ct ContentType, codecs []string) (string, bool) {
	for _, re := range patternsByContentType[ct] {
		for _, c := range codecs {
			if c = strings.TrimSpace(c); re.MatchString(c) {
				return c, true
			}
		}
	}
	if ct == ContentText {
		return "", true
	}
	return "", false
}

// Guess is GuessSafe except that a single codec is taken as-is and a miss is
// an error.
func Guess(ct ContentType, codecs []string) (string, error) {
	if len(codecs) == 1 {
		return codecs[0], nil
	}
	if c, ok := GuessSafe(ct, codecs); ok {
		return c, nil
	}
	return "", ErrCouldNotGuess
}

// Remove returns codecs without the first occurrence of codec.
func Remove(codecs []string, codec string) []string {
	for i, c := range codecs {
		if c == codec {
			out := make([]string, 0, len(codecs)-1)
			out = append(out, codecs[:i]...)
			return append(out, codecs[i+1:]...)
		}
	}
	return codecs
}

// FilterLegacy drops mp4a.40.34, a vendor codec string that MSE
// implementations outside Safari reject.
func FilterLegacy(codecs string) string {
	parts := strings.Split(codecs, ",")
	out := parts[:0]
	for _, p := range parts {
		if p != "mp4a.40.34" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}

// MimeTypeForExtension maps a segment file extension to a container MIME type.
func MimeTypeForExtension(ct ContentType, ext string) (string, bool) {
	m, ok := mimeByExtension[ct][strings.ToLower(ext)]
	return m, ok
}

// TextMimeFallback picks a MIME type for text streams whose extension is
// unknown: WebVTT when there is no codec or the codec is "vtt", otherwise
// MP4-embedded text.
func TextMimeFallback(codecs string) string {
	if codecs == "" || codecs == "vtt" {
		return "text/vtt"
	}
	return "application/mp4"
}

// FullMimeType appends a codecs parameter to mimeType when codecs is set.
func FullMimeType(mimeType, codecs string) string {
	if codecs == "" {
		return mimeType
	}
	return mimeType + `; codecs="` + codecs + `"`
}

// EssenceType strips parameters from a Content-Type value.
func EssenceType(contentType string) string {
	essence, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(essence)
}
