package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsindex/internal/config"
	"github.com/jmylchreest/hlsindex/internal/hls"
	"github.com/jmylchreest/hlsindex/internal/observability"
	"github.com/jmylchreest/hlsindex/internal/testutil"
	"github.com/jmylchreest/hlsindex/internal/timeline"
)

const masterURL = "https://cdn.test/hls/master.m3u8"

func newOrigin(live bool) *testutil.Origin {
	o := testutil.NewOrigin()
	o.SetString(masterURL, "#EXTM3U\n"+
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,CODECS=\"avc1.4d001f\",RESOLUTION=640x360\n"+
		"video.m3u8\n")
	o.Set("https://cdn.test/hls/v0.ts", testutil.TSSegment(0, 2))
	o.Set("https://cdn.test/hls/v1.ts", testutil.TSSegment(0, 2))
	o.SetString("https://cdn.test/hls/video.m3u8", testutil.MediaPlaylist{
		TargetDuration: 4,
		Segments:       []string{"v0.ts", "v1.ts"},
		Duration:       4,
		EndList:        !live,
	}.String())
	return o
}

func newService(o *testutil.Origin, max int) *PresentationService {
	s := NewPresentationService(o, config.Default().Manifest, max).WithLogger(observability.Discard())
	return s
}

func TestPresentationService_StartGetStop(t *testing.T) {
	s := newService(newOrigin(false), 0)
	defer s.Close()

	p, err := s.Start(context.Background(), masterURL)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, masterURL, p.URL)
	assert.NotEmpty(t, p.CorrelationID())

	got, err := s.Get(p.ID)
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.Equal(t, 1, s.Count())

	snap, ok := p.Snapshot()
	require.True(t, ok)
	assert.Equal(t, timeline.VOD, snap.PresentationType)
	require.Len(t, snap.Variants, 1)

	stream, ok := p.Stream(snap.Variants[0].Video.ID)
	require.True(t, ok)
	assert.Equal(t, "avc1.4d001f", stream.Codecs)
	_, ok = p.Stream(999)
	assert.False(t, ok)

	require.NoError(t, s.Stop(p.ID))
	_, err = s.Get(p.ID)
	assert.ErrorIs(t, err, ErrPresentationNotFound)
	assert.ErrorIs(t, s.Stop(p.ID), ErrPresentationNotFound)

	_, ok = p.Snapshot()
	assert.False(t, ok)
}

func TestPresentationService_StartFailure(t *testing.T) {
	o := testutil.NewOrigin()
	s := newService(o, 1)
	defer s.Close()

	_, err := s.Start(context.Background(), masterURL)
	require.Error(t, err)
	e, ok := hls.AsError(err)
	require.True(t, ok)
	assert.Equal(t, hls.CodeHTTPError, e.Code)
	assert.Zero(t, s.Count())

	// The failed start does not hold a slot.
	o.SetString(masterURL, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1,CODECS=\"mp4a.40.2\"\na.m3u8\n")
	o.Set("https://cdn.test/hls/a0.ts", testutil.TSSegment(0, 1))
	o.SetString("https://cdn.test/hls/a.m3u8", testutil.MediaPlaylist{
		TargetDuration: 4, PlaylistType: "VOD", Segments: []string{"a0.ts"}, Duration: 4, EndList: true,
	}.String())
	_, err = s.Start(context.Background(), masterURL)
	assert.NoError(t, err)
}

func TestPresentationService_UnsupportedURL(t *testing.T) {
	s := newService(newOrigin(false), 0)
	defer s.Close()

	_, err := s.Start(context.Background(), "https://cdn.test/manifest.mpd")
	assert.ErrorIs(t, err, ErrUnsupportedURL)
}

func TestPresentationService_MaxSessions(t *testing.T) {
	s := newService(newOrigin(false), 2)
	defer s.Close()

	for range 2 {
		_, err := s.Start(context.Background(), masterURL)
		require.NoError(t, err)
	}
	_, err := s.Start(context.Background(), masterURL)
	assert.ErrorIs(t, err, ErrTooManyPresentations)

	list := s.List()
	require.Len(t, list, 2)
	assert.False(t, list[1].StartedAt.Before(list[0].StartedAt))

	require.NoError(t, s.Stop(list[0].ID))
	_, err = s.Start(context.Background(), masterURL)
	assert.NoError(t, err)
}

func TestPresentationService_CloseStopsLiveParsers(t *testing.T) {
	o := newOrigin(true)
	s := newService(o, 0)

	p, err := s.Start(context.Background(), masterURL)
	require.NoError(t, err)
	snap, ok := p.Snapshot()
	require.True(t, ok)
	assert.Equal(t, timeline.Live, snap.PresentationType)
	assert.InDelta(t, 4.0, snap.UpdateDelay, 1e-9)

	s.Close()
	assert.Zero(t, s.Count())
	_, ok = p.Snapshot()
	assert.False(t, ok)

	_, err = s.Start(context.Background(), masterURL)
	assert.ErrorIs(t, err, hls.ErrOperationAborted)
}

func TestPresentationService_RecordsUpdateErrors(t *testing.T) {
	o := newOrigin(true)
	o.SetString("https://cdn.test/hls/video.m3u8", testutil.MediaPlaylist{
		TargetDuration: 1,
		Segments:       []string{"v0.ts", "v1.ts"},
		Duration:       1,
	}.String())

	s := newService(o, 0)
	defer s.Close()

	p, err := s.Start(context.Background(), masterURL)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return p.Updates() > 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Nil(t, p.LastError())

	o.SetString("https://cdn.test/hls/video.m3u8", "garbage")
	require.Eventually(t, func() bool { return p.LastError() != nil }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, hls.SeverityRecoverable, p.LastError().Severity)
}
