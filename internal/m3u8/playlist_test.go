package m3u8

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

const masterPlaylist = `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="en",NAME="English",URI="audio/en.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=1280000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=640x360,AUDIO="aud"
video/360p.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2560000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=1280x720,AUDIO="aud"
video/720p.m3u8
`

const mediaPlaylist = `#EXTM3U
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:7
#EXT-X-MAP:URI="init.mp4",BYTERANGE="720@0"
#EXTINF:10.0,
seg7.m4s
#EXT-X-BYTERANGE:1000@200
#EXTINF:9.5,title
seg8.m4s
#EXT-X-ENDLIST
`

func TestParse_Master(t *testing.T) {
	pl, err := Parse([]byte(masterPlaylist), "https://example.com/live/master.m3u8")
	require.NoError(t, err)

	assert.Equal(t, TypeMaster, pl.Type)
	assert.Empty(t, pl.Segments)

	variants := FilterByName(pl.Tags, "EXT-X-STREAM-INF")
	require.Len(t, variants, 2)

	uri, ok := variants[0].Attribute("URI")
	require.True(t, ok)
	assert.Equal(t, "video/360p.m3u8", uri)
	assert.Equal(t, "avc1.4d401f,mp4a.40.2", variants[0].AttributeOr("CODECS", ""))
	assert.Equal(t, "640x360", variants[0].AttributeOr("RESOLUTION", ""))
	assert.NotEqual(t, variants[0].ID, variants[1].ID)

	media := FirstByName(pl.Tags, "EXT-X-MEDIA")
	require.NotNil(t, media)
	assert.Equal(t, "AUDIO", media.AttributeOr("TYPE", ""))
	assert.Equal(t, "audio/en.m3u8", media.AttributeOr("URI", ""))
	assert.Equal(t, "fallback", media.AttributeOr("CHANNELS", "fallback"))
}

func TestParse_Media(t *testing.T) {
	pl, err := Parse([]byte(mediaPlaylist), "https://example.com/live/video/360p.m3u8")
	require.NoError(t, err)

	assert.Equal(t, TypeMedia, pl.Type)
	require.Len(t, pl.Segments, 2)

	seg := pl.Segments[0]
	assert.Equal(t, "https://example.com/live/video/seg7.m4s", seg.AbsoluteURI)
	assert.Equal(t, "seg7.m4s", seg.VerbatimURI)
	require.Len(t, seg.Tags, 1)
	assert.Equal(t, "EXTINF", seg.Tags[0].Name)
	assert.Equal(t, "10.0,", seg.Tags[0].Value)

	second := pl.Segments[1]
	require.Len(t, second.Tags, 2)
	br := FirstByName(second.Tags, "EXT-X-BYTERANGE")
	require.NotNil(t, br)
	assert.Equal(t, "1000@200", br.Value)

	assert.Equal(t, "7", FirstByName(pl.Tags, "EXT-X-MEDIA-SEQUENCE").Value)
	assert.NotNil(t, FirstByName(pl.Tags, "EXT-X-ENDLIST"))

	m := FirstByName(pl.Tags, "EXT-X-MAP")
	require.NotNil(t, m)
	assert.Equal(t, "init.mp4", m.AttributeOr("URI", ""))
	assert.Equal(t, "720@0", m.AttributeOr("BYTERANGE", ""))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", ErrMissingHeader},
		{"no header", "#EXTINF:10,\nseg.ts\n", ErrMissingHeader},
		{"dangling extinf", "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10,\n", ErrDanglingURI},
		{"mixed", "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\na.m3u8\n#EXTINF:10,\nseg.ts\n", ErrMixedContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input), "https://example.com/a.m3u8")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_Compressed(t *testing.T) {
	var gz bytes.Buffer
	gzw := gzip.NewWriter(&gz)
	_, _ = gzw.Write([]byte(mediaPlaylist))
	require.NoError(t, gzw.Close())

	var bz bytes.Buffer
	bzw, err := bzip2.NewWriter(&bz, nil)
	require.NoError(t, err)
	_, _ = bzw.Write([]byte(mediaPlaylist))
	require.NoError(t, bzw.Close())

	var xzBuf bytes.Buffer
	xzw, err := xz.NewWriter(&xzBuf)
	require.NoError(t, err)
	_, _ = xzw.Write([]byte(mediaPlaylist))
	require.NoError(t, xzw.Close())

	for name, data := range map[string][]byte{"gzip": gz.Bytes(), "bzip2": bz.Bytes(), "xz": xzBuf.Bytes()} {
		t.Run(name, func(t *testing.T) {
			pl, err := Parse(data, "https://example.com/v.m3u8")
			require.NoError(t, err)
			assert.Equal(t, TypeMedia, pl.Type)
			assert.Len(t, pl.Segments, 2)
		})
	}
}

func TestResolveURI(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/a/b/c.ts", ResolveURI("https://cdn.example.com/a/b/index.m3u8", "c.ts"))
	assert.Equal(t, "https://cdn.example.com/x.ts", ResolveURI("https://cdn.example.com/a/b/index.m3u8", "/x.ts"))
	assert.Equal(t, "https://other.example.com/y.ts", ResolveURI("https://cdn.example.com/a/index.m3u8", "https://other.example.com/y.ts"))
	assert.Equal(t, "data:text/plain;base64,AAAA", ResolveURI("https://cdn.example.com/a/index.m3u8", "data:text/plain;base64,AAAA"))
}

func TestParseByteRange(t *testing.T) {
	length, offset, err := ParseByteRange("1000@200")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), length)
	require.NotNil(t, offset)
	assert.Equal(t, uint64(200), *offset)

	length, offset, err = ParseByteRange("512")
	require.NoError(t, err)
	assert.Equal(t, uint64(512), length)
	assert.Nil(t, offset)
}

func TestParseByteRange_Invalid(t *testing.T) {
	_, _, err := ParseByteRange("abc")
	assert.Error(t, err)

	_, _, err = ParseByteRange("100@x")
	assert.Error(t, err)
}

func TestParse_AttributeList(t *testing.T) {
	pl, err := Parse([]byte("#EXTM3U\n"+
		"#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID=\"subs\",NAME=\"English, SDH\",DEFAULT=YES,URI=\"subs/en.m3u8\"\n"+
		"#EXT-X-STREAM-INF:BANDWIDTH=1,CODECS=\"avc1.4d401f,mp4a.40.2\",SUBTITLES=\"subs\"\n"+
		"v.m3u8\n"), "https://example.com/master.m3u8")
	require.NoError(t, err)

	media := FirstByName(pl.Tags, "EXT-X-MEDIA")
	require.NotNil(t, media)
	assert.Equal(t, map[string]string{
		"TYPE":     "SUBTITLES",
		"GROUP-ID": "subs",
		"NAME":     "English, SDH",
		"DEFAULT":  "YES",
		"URI":      "subs/en.m3u8",
	}, media.Attributes())
}
