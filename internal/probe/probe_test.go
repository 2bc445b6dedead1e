package probe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsindex/internal/mp4box"
	"github.com/jmylchreest/hlsindex/internal/mpegts"
	"github.com/jmylchreest/hlsindex/internal/testutil"
)

func TestKindFor(t *testing.T) {
	tests := map[string]Kind{
		"audio/mpeg":      KindZero,
		"video/mp4":       KindMP4,
		"audio/mp4":       KindMP4,
		"video/mp2t":      KindTS,
		"application/mp4": KindText,
		"text/vtt":        KindText,
		"text/anything":   KindText,
		"video/webm":      KindUnsupported,
		"audio/aac":       KindUnsupported,
	}
	for mime, want := range tests {
		assert.Equal(t, want, KindFor(mime), mime)
	}
	assert.Equal(t, "mpegts", KindTS.String())
}

func TestProber_MP4(t *testing.T) {
	p := New(nil)

	t.Run("one second", func(t *testing.T) {
		got, err := p.StartTime("video/mp4", "avc1.4d401f", testutil.MP4Init(90000), testutil.MP4Fragment(90000))
		require.NoError(t, err)
		assert.Equal(t, 1.0, got)
	})

	t.Run("self initializing", func(t *testing.T) {
		seg := append(testutil.MP4Init(48000), testutil.MP4Fragment(96000)...)
		got, err := p.StartTime("audio/mp4", "mp4a.40.2", nil, seg)
		require.NoError(t, err)
		assert.Equal(t, 2.0, got)
	})

	t.Run("missing timescale", func(t *testing.T) {
		for name, init := range map[string][]byte{
			"ftyp only": testutil.Box("ftyp", []byte("iso6\x00\x00\x00\x00iso6")),
			"free only": testutil.Box("free", []byte{0, 0, 0, 0}),
		} {
			_, err := p.StartTime("video/mp4", "", init, testutil.MP4Fragment(1))
			assert.ErrorIs(t, err, mp4box.ErrTimescaleNotFound, name)
		}
	})

	t.Run("truncated init segment", func(t *testing.T) {
		init := testutil.MP4Init(90000)
		_, err := p.StartTime("video/mp4", "", init[:len(init)-8], testutil.MP4Fragment(1))
		require.Error(t, err)
		assert.NotErrorIs(t, err, mp4box.ErrTimescaleNotFound)
		assert.ErrorContains(t, err, "mp4box: reading mdhd")
	})

	t.Run("missing tfdt", func(t *testing.T) {
		_, err := p.StartTime("video/mp4", "", testutil.MP4Init(1000), testutil.Box("mdat", []byte{1, 2, 3}))
		assert.ErrorIs(t, err, mp4box.ErrBaseDecodeTimeNotFound)
	})
}

func TestProber_TS(t *testing.T) {
	got, err := New(nil).StartTime("video/mp2t", "", nil, testutil.TSPacket(900000))
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)

	_, err = New(nil).StartTime("video/mp2t", "", nil, []byte{0x00, 0x01})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, mpegts.ErrNoSync) || errors.Is(err, mpegts.ErrNoPTS))
}

func TestProber_Zero(t *testing.T) {
	got, err := New(nil).StartTime("audio/mpeg", "mp3", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestProber_Unsupported(t *testing.T) {
	_, err := New(nil).StartTime("video/webm", "vp9", nil, []byte{1})
	assert.ErrorIs(t, err, ErrUnsupportedMimeType)
}

type stubText struct {
	supported bool
	start     float64
	seen      string
}

func (s *stubText) IsTypeSupported(full string) bool { s.seen = full; return s.supported }
func (s *stubText) StartTime(string, []byte) (float64, error) {
	return s.start, nil
}

func TestProber_Text(t *testing.T) {
	t.Run("delegates with full mime", func(t *testing.T) {
		stub := &stubText{supported: true, start: 42}
		got, err := New(stub).StartTime("application/mp4", "stpp.ttml.im1t", nil, []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, 42.0, got)
		assert.Equal(t, `application/mp4; codecs="stpp.ttml.im1t"`, stub.seen)
	})

	t.Run("unsupported text is zero", func(t *testing.T) {
		got, err := New(&stubText{}).StartTime("text/x-unknown", "", nil, []byte("x"))
		require.NoError(t, err)
		assert.Zero(t, got)
	})

	t.Run("builtin webvtt", func(t *testing.T) {
		got, err := New(nil).StartTime("text/vtt", "", nil, []byte("WEBVTT\n\n00:00:05.500 --> 00:00:07.000\nhi\n"))
		require.NoError(t, err)
		assert.Equal(t, 5.5, got)
	})
}
