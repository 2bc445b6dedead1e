// Package m3u8 tokenizes HLS playlists into tags and segments.
// Attribute lists and byte ranges are decoded with gohlslib's primitives;
// the semantic interpretation of the tags is left to the caller.
package m3u8

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist/primitives"
	"github.com/ulikunitz/xz"
)

// Type identifies whether a playlist lists variants or segments.
type Type int

const (
	// TypeMaster is a multivariant playlist (EXT-X-STREAM-INF, EXT-X-MEDIA).
	TypeMaster Type = iota
	// TypeMedia is a playlist of segments (EXTINF).
	TypeMedia
)

func (t Type) String() string {
	if t == TypeMedia {
		return "media"
	}
	return "master"
}

// Errors returned by Parse.
var (
	ErrMissingHeader = errors.New("m3u8: playlist does not start with #EXTM3U")
	ErrInvalidTag    = errors.New("m3u8: invalid tag")
	ErrDanglingURI   = errors.New("m3u8: segment tags without a URI")
	ErrMixedContent  = errors.New("m3u8: playlist mixes master and media tags")
)

// Tags whose content is a single value rather than an attribute list.
var valueTags = map[string]struct{}{
	"EXTINF":                       {},
	"EXT-X-VERSION":                {},
	"EXT-X-TARGETDURATION":         {},
	"EXT-X-MEDIA-SEQUENCE":         {},
	"EXT-X-DISCONTINUITY-SEQUENCE": {},
	"EXT-X-PLAYLIST-TYPE":          {},
	"EXT-X-BYTERANGE":              {},
	"EXT-X-PROGRAM-DATE-TIME":      {},
}

// Tags that belong to the segment that follows them.
var segmentTags = map[string]struct{}{
	"EXTINF":                  {},
	"EXT-X-BYTERANGE":         {},
	"EXT-X-DISCONTINUITY":     {},
	"EXT-X-PROGRAM-DATE-TIME": {},
	"EXT-X-KEY":               {},
	"EXT-X-DATERANGE":         {},
}

// Tags that only appear in media playlists.
var mediaPlaylistTags = map[string]struct{}{
	"EXT-X-TARGETDURATION":         {},
	"EXT-X-MEDIA-SEQUENCE":         {},
	"EXT-X-DISCONTINUITY-SEQUENCE": {},
	"EXT-X-PLAYLIST-TYPE":          {},
	"EXT-X-MAP":                    {},
	"EXT-X-I-FRAMES-ONLY":          {},
	"EXT-X-ENDLIST":                {},
}

// Tags that only appear in master playlists.
var masterPlaylistTags = map[string]struct{}{
	"EXT-X-MEDIA":              {},
	"EXT-X-STREAM-INF":         {},
	"EXT-X-I-FRAME-STREAM-INF": {},
	"EXT-X-SESSION-DATA":       {},
	"EXT-X-SESSION-KEY":        {},
}

// tagIDs is shared by every parse so that IDs stay unique across playlists.
var tagIDs atomic.Int64

// Tag is a single #EXT line.
type Tag struct {
	// ID is unique for the life of the process.
	ID int64

	// Name is the tag name without the leading '#'.
	Name string

	// Value holds the raw content after ':' for single-value tags.
	Value string

	attributes map[string]string
}

// Attribute returns the named attribute and whether it was present.
func (t *Tag) Attribute(name string) (string, bool) {
	v, ok := t.attributes[name]
	return v, ok
}

// AttributeOr returns the named attribute or def when it is absent.
func (t *Tag) AttributeOr(name, def string) string {
	if v, ok := t.attributes[name]; ok {
		return v
	}
	return def
}

// Attributes returns a copy of the attribute list.
func (t *Tag) Attributes() map[string]string {
	out := make(map[string]string, len(t.attributes))
	for k, v := range t.attributes {
		out[k] = v
	}
	return out
}

func (t *Tag) String() string {
	if t.Value != "" {
		return "#" + t.Name + ":" + t.Value
	}
	if len(t.attributes) == 0 {
		return "#" + t.Name
	}
	parts := make([]string, 0, len(t.attributes))
	for k, v := range t.attributes {
		parts = append(parts, k+"="+v)
	}
	return "#" + t.Name + ":" + strings.Join(parts, ",")
}

// Segment is a media URI together with the tags that precede it.
type Segment struct {
	AbsoluteURI string
	VerbatimURI string
	Tags        []*Tag
}

// Playlist is the tokenized form of a master or media playlist.
type Playlist struct {
	AbsoluteURI string
	Type        Type
	Tags        []*Tag
	Segments    []*Segment
}

// Parse tokenizes data fetched from absoluteURI. Compressed input (gzip,
// bzip2 or xz) is detected by its magic bytes.
func Parse(data []byte, absoluteURI string) (*Playlist, error) {
	r, err := decompress(data)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(r)
	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	pl := &Playlist{AbsoluteURI: absoluteURI, Type: TypeMaster}
	var pending []*Tag
	sawMedia, sawMaster := false, false
	first := true

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			if line != "#EXTM3U" {
				return nil, ErrMissingHeader
			}
			first = false
			continue
		}
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "#") {
			if !sawMaster || len(pending) > 0 {
				pl.Segments = append(pl.Segments, &Segment{
					AbsoluteURI: ResolveURI(absoluteURI, line),
					VerbatimURI: line,
					Tags:        pending,
				})
				pending = nil
				continue
			}
			// URI lines following EXT-X-STREAM-INF are attached to that tag.
			if last := lastTag(pl.Tags); last != nil && last.Name == "EXT-X-STREAM-INF" {
				last.attributes["URI"] = line
			}
			continue
		}

		if !strings.HasPrefix(line, "#EXT") {
			continue
		}

		tag, err := parseTag(line)
		if err != nil {
			return nil, err
		}

		if _, ok := mediaPlaylistTags[tag.Name]; ok {
			sawMedia = true
		}
		if _, ok := masterPlaylistTags[tag.Name]; ok {
			sawMaster = true
		}

		if _, ok := segmentTags[tag.Name]; ok {
			if tag.Name == "EXTINF" {
				sawMedia = true
			}
			pending = append(pending, tag)
			continue
		}
		pl.Tags = append(pl.Tags, tag)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("m3u8: reading playlist: %w", err)
	}
	if first {
		return nil, ErrMissingHeader
	}

	// Trailing segment tags that carry playlist-wide meaning are kept.
	for _, tag := range pending {
		if tag.Name == "EXTINF" || tag.Name == "EXT-X-BYTERANGE" {
			return nil, ErrDanglingURI
		}
		pl.Tags = append(pl.Tags, tag)
	}

	if sawMedia && sawMaster {
		return nil, ErrMixedContent
	}
	if sawMedia {
		pl.Type = TypeMedia
	}
	return pl, nil
}

func lastTag(tags []*Tag) *Tag {
	if len(tags) == 0 {
		return nil
	}
	return tags[len(tags)-1]
}

// ParseTag parses a single "#NAME[:content]" line.
func ParseTag(line string) (*Tag, error) {
	if !strings.HasPrefix(line, "#") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTag, line)
	}
	return parseTag(line)
}

func parseTag(line string) (*Tag, error) {
	body := line[1:]
	tag := &Tag{ID: tagIDs.Add(1), attributes: map[string]string{}}

	name, content, hasContent := strings.Cut(body, ":")
	tag.Name = name
	if name == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTag, line)
	}
	if !hasContent {
		return tag, nil
	}

	if _, ok := valueTags[name]; ok || !strings.Contains(content, "=") {
		tag.Value = content
		return tag, nil
	}

	var attrs primitives.Attributes
	if err := attrs.Unmarshal(content); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTag, name, err)
	}
	tag.attributes = map[string]string(attrs)
	return tag, nil
}

func decompress(data []byte) (io.Reader, error) {
	switch {
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		gzr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("m3u8: creating gzip reader: %w", err)
		}
		return gzr, nil
	case len(data) >= 3 && data[0] == 'B' && data[1] == 'Z' && data[2] == 'h':
		return bzip2.NewReader(bytes.NewReader(data)), nil
	case len(data) >= 6 && bytes.Equal(data[:6], []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		xzr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("m3u8: creating xz reader: %w", err)
		}
		return xzr, nil
	}
	return bytes.NewReader(data), nil
}

// ResolveURI resolves ref against base. Unparseable input is returned as-is.
func ResolveURI(base, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() || base == "" {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// ParseByteRange decodes an EXT-X-BYTERANGE value ("n[@o]").
func ParseByteRange(v string) (length uint64, offset *uint64, err error) {
	var br primitives.ByteRange
	if err := br.Unmarshal(v); err != nil {
		return 0, nil, err
	}
	return br.Length, br.Start, nil
}

// FilterByName returns the tags called name, in order.
func FilterByName(tags []*Tag, name string) []*Tag {
	var out []*Tag
	for _, t := range tags {
		if t.Name == name {
			out = append(out, t)
		}
	}
	return out
}

// FirstByName returns the first tag called name, or nil.
func FirstByName(tags []*Tag, name string) *Tag {
	for _, t := range tags {
		if t.Name == name {
			return t
		}
	}
	return nil
}
