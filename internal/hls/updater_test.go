package hls

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsindex/internal/config"
	"github.com/jmylchreest/hlsindex/internal/mpegts"
	"github.com/jmylchreest/hlsindex/internal/observability"
	"github.com/jmylchreest/hlsindex/internal/testutil"
	"github.com/jmylchreest/hlsindex/internal/timeline"
)

func liveMaster() string {
	return master(`#EXT-X-STREAM-INF:BANDWIDTH=1,CODECS="avc1.4d001f",RESOLUTION=640x360`, "video.m3u8")
}

func TestParser_LiveTimeline(t *testing.T) {
	o := testutil.NewOrigin()
	o.SetString(uri("master.m3u8"), liveMaster())
	o.SetString(uri("video.m3u8"), testutil.MediaPlaylist{
		TargetDuration: 6,
		Segments:       serveTS(o, "v", 10, 3),
		Duration:       6,
	}.String())

	p := newTestParser(o)
	m := start(t, p)

	assert.Equal(t, timeline.Live, p.PresentationType())
	assert.Equal(t, 6*time.Second, p.UpdateDelay())
	assert.False(t, m.Timeline.IsStatic())
	assert.InDelta(t, 18.0, m.Timeline.Delay(), 1e-9)
	assert.InDelta(t, 18.0, m.Timeline.SegmentAvailabilityDuration(), 1e-9)

	// Live streams keep their media timestamps.
	v := m.Periods[0].Variants[0].Video
	assert.Zero(t, v.PresentationTimeOffset)
	first, ok := v.GetSegmentReference(0)
	require.True(t, ok)
	assert.InDelta(t, 10.0, first.StartTime, 1e-9)
	assertContiguous(t, v)
}

func TestParser_LiveOverrides(t *testing.T) {
	o := testutil.NewOrigin()
	o.SetString(uri("master.m3u8"), liveMaster())
	o.SetString(uri("video.m3u8"), testutil.MediaPlaylist{
		TargetDuration: 6,
		Segments:       serveTS(o, "v", 0, 2),
		Duration:       6,
	}.String())

	cfg := config.Default().Manifest
	cfg.PresentationDelayOverride = 30 * time.Second
	cfg.AvailabilityWindowOverride = 120 * time.Second

	p := New(o, cfg).WithLogger(observability.Discard())
	m := start(t, p)

	assert.InDelta(t, 30.0, m.Timeline.Delay(), 1e-9)
	assert.InDelta(t, 120.0, m.Timeline.SegmentAvailabilityDuration(), 1e-9)
}

func TestParser_EventBecomesVOD(t *testing.T) {
	o := testutil.NewOrigin()
	names := serveTS(o, "v", 10, 4)
	o.SetString(uri("master.m3u8"), liveMaster())
	o.SetString(uri("video.m3u8"), testutil.MediaPlaylist{
		TargetDuration: 6,
		PlaylistType:   "EVENT",
		Segments:       names[:2],
		Duration:       6,
	}.String())

	var updates atomic.Int32
	p := newTestParser(o).WithUpdateHandler(func(*Manifest) { updates.Add(1) })
	m := start(t, p)
	require.Equal(t, timeline.Event, p.PresentationType())
	require.Equal(t, 6*time.Second, p.UpdateDelay())

	o.SetString(uri("video.m3u8"), testutil.MediaPlaylist{
		TargetDuration: 6,
		PlaylistType:   "EVENT",
		Segments:       names,
		Duration:       6,
		EndList:        true,
	}.String())

	next, ok := p.onUpdate(context.Background())
	assert.False(t, ok, "the loop ends once the presentation is VOD")
	assert.Zero(t, next)
	assert.Equal(t, int32(1), updates.Load())

	assert.Equal(t, timeline.VOD, p.PresentationType())
	assert.Zero(t, p.UpdateDelay())
	assert.True(t, m.Timeline.IsStatic())
	assert.InDelta(t, 34.0, m.Timeline.Duration(), 1e-9)

	v := m.Periods[0].Variants[0].Video
	assert.Equal(t, 4, v.Segments().Count)
	assertContiguous(t, v)

	// The first segment's start came from the existing index.
	assert.Equal(t, 1, o.Count(uri("v0.ts")))

	playlistFetches := o.Count(uri("video.m3u8"))
	require.NoError(t, p.Update(context.Background()))
	assert.Equal(t, playlistFetches, o.Count(uri("video.m3u8")), "updates stop after VOD")
}

func TestParser_SlidingWindowReusesStart(t *testing.T) {
	o := testutil.NewOrigin()
	names := serveTS(o, "v", 10, 4)
	o.SetString(uri("master.m3u8"), liveMaster())
	o.SetString(uri("video.m3u8"), testutil.MediaPlaylist{
		TargetDuration: 4,
		Segments:       names[:3],
		Duration:       4,
	}.String())

	p := newTestParser(o)
	m := start(t, p)

	o.SetString(uri("video.m3u8"), testutil.MediaPlaylist{
		TargetDuration: 4,
		MediaSequence:  1,
		Segments:       names[1:],
		Duration:       4,
	}.String())
	require.NoError(t, p.Update(context.Background()))

	v := m.Periods[0].Variants[0].Video
	refs := v.index.References()
	require.Len(t, refs, 3)
	assert.Equal(t, int64(1), refs[0].Position)
	assert.InDelta(t, 14.0, refs[0].StartTime, 1e-9)
	assert.InDelta(t, 26.0, refs[2].EndTime, 1e-9)
	assert.Zero(t, o.Count(uri("v1.ts")), "known segment is not fetched again")
	assert.Equal(t, timeline.Live, p.PresentationType())
}

func TestParser_UpdateProbesUnknownPosition(t *testing.T) {
	o := testutil.NewOrigin()
	o.SetString(uri("master.m3u8"), liveMaster())
	o.SetString(uri("video.m3u8"), testutil.MediaPlaylist{
		TargetDuration: 4,
		Segments:       serveTS(o, "v", 10, 2),
		Duration:       4,
	}.String())

	p := newTestParser(o)
	m := start(t, p)

	o.Set(uri("late.ts"), testutil.TSSegment(uint64(40*mpegts.Timescale), 1))
	o.SetString(uri("video.m3u8"), testutil.MediaPlaylist{
		TargetDuration: 4,
		MediaSequence:  50,
		Segments:       []string{"late.ts"},
		Duration:       4,
	}.String())
	require.NoError(t, p.Update(context.Background()))

	ref, ok := m.Periods[0].Variants[0].Video.GetSegmentReference(50)
	require.True(t, ok)
	assert.InDelta(t, 40.0, ref.StartTime, 1e-9)
	assert.Equal(t, 1, o.Count(uri("late.ts")))
}

func TestParser_EmptyUpdateKeepsIndex(t *testing.T) {
	o := testutil.NewOrigin()
	o.SetString(uri("master.m3u8"), liveMaster())
	o.SetString(uri("video.m3u8"), testutil.MediaPlaylist{
		TargetDuration: 4,
		Segments:       serveTS(o, "v", 0, 2),
		Duration:       4,
	}.String())

	p := newTestParser(o)
	m := start(t, p)

	o.SetString(uri("video.m3u8"), testutil.MediaPlaylist{TargetDuration: 4}.String())
	require.NoError(t, p.Update(context.Background()))
	assert.Equal(t, 2, m.Periods[0].Variants[0].Video.Segments().Count)
}

func TestParser_FailedUpdateIsRecoverable(t *testing.T) {
	o := testutil.NewOrigin()
	o.SetString(uri("master.m3u8"), liveMaster())
	o.SetString(uri("video.m3u8"), testutil.MediaPlaylist{
		TargetDuration: 4,
		Segments:       serveTS(o, "v", 0, 2),
		Duration:       4,
	}.String())

	errs := make(chan *Error, 1)
	p := newTestParser(o).WithErrorHandler(func(err *Error) { errs <- err })
	start(t, p)

	o.SetString(uri("video.m3u8"), "not a playlist")
	next, ok := p.onUpdate(context.Background())
	assert.True(t, ok)
	assert.Equal(t, config.Default().Manifest.UpdateRetryDelay, next)

	select {
	case err := <-errs:
		assert.Equal(t, SeverityRecoverable, err.Severity)
		assert.Equal(t, CodePlaylistParseFailed, err.Code)
	default:
		t.Fatal("error handler was not called")
	}
	assert.Equal(t, timeline.Live, p.PresentationType())
}

func TestParser_UpdateLoop(t *testing.T) {
	o := testutil.NewOrigin()
	o.SetString(uri("master.m3u8"), liveMaster())
	o.SetString(uri("video.m3u8"), testutil.MediaPlaylist{
		TargetDuration: 1,
		Segments:       serveTS(o, "v", 0, 3),
		Duration:       1,
	}.String())

	var updates atomic.Int32
	p := newTestParser(o).WithUpdateHandler(func(*Manifest) { updates.Add(1) })
	start(t, p)

	require.Eventually(t, func() bool { return updates.Load() >= 2 }, 5*time.Second, 20*time.Millisecond)

	p.Stop()
	after := o.Count(uri("video.m3u8"))
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, after, o.Count(uri("video.m3u8")), "no fetches after Stop")
	assert.Nil(t, p.Manifest())

	next, ok := p.onUpdate(context.Background())
	assert.False(t, ok)
	assert.Zero(t, next)
}

func TestParser_StopDuringUpdate(t *testing.T) {
	o := testutil.NewOrigin()
	o.SetString(uri("master.m3u8"), liveMaster())
	o.SetString(uri("video.m3u8"), testutil.MediaPlaylist{
		TargetDuration: 4,
		Segments:       serveTS(o, "v", 0, 2),
		Duration:       4,
	}.String())

	p := newTestParser(o)
	start(t, p)

	o.Block()
	errCh := make(chan error, 1)
	go func() { errCh <- p.Update(context.Background()) }()

	require.Eventually(t, func() bool { return o.Count(uri("video.m3u8")) > 1 }, time.Second, 5*time.Millisecond)
	p.Stop()

	select {
	case err := <-errCh:
		assert.True(t, IsAborted(err), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Update did not return after Stop")
	}
}

func TestParser_RolloverAlignment(t *testing.T) {
	o := testutil.NewOrigin()
	o.SetString(uri("master.m3u8"), master(
		`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",URI="audio.m3u8"`,
		`#EXT-X-STREAM-INF:BANDWIDTH=1,CODECS="avc1.4d001f,mp4a.40.2",AUDIO="aud"`,
		"video.m3u8",
	))
	o.SetString(uri("video.m3u8"), testutil.MediaPlaylist{
		TargetDuration: 4,
		Segments:       serveTS(o, "v", 100, 2),
		Duration:       4,
	}.String())

	o.Set(uri("init.mp4"), testutil.MP4Init(mpegts.Timescale))
	o.Set(uri("a0.mp4"), testutil.MP4Fragment(mpegts.RolloverTicks+100*mpegts.Timescale))
	o.Set(uri("a1.mp4"), testutil.MP4Fragment(0))
	o.SetString(uri("audio.m3u8"), testutil.MediaPlaylist{
		TargetDuration: 4,
		Map:            "init.mp4",
		Segments:       []string{"a0.mp4", "a1.mp4"},
		Duration:       4,
	}.String())

	m := start(t, newTestParser(o))
	v := m.Periods[0].Variants[0]
	require.NotNil(t, v.Audio)
	require.NotNil(t, v.Video)

	assert.InDelta(t, -mpegts.RolloverSeconds, v.Video.PresentationTimeOffset, 1e-6)
	assert.Zero(t, v.Audio.PresentationTimeOffset)

	vfirst, ok := v.Video.GetSegmentReference(0)
	require.True(t, ok)
	afirst, ok := v.Audio.GetSegmentReference(0)
	require.True(t, ok)
	assert.InDelta(t, afirst.StartTime, vfirst.StartTime, 1e-6)
	assert.InDelta(t, mpegts.RolloverSeconds+100, vfirst.StartTime, 1e-6)
}

func TestRolloverOffset(t *testing.T) {
	r := mpegts.RolloverSeconds
	tests := []struct {
		first float64
		want  float64
	}{
		{0, 0},
		{100, 0},
		{r - 0.001, 0},
		{r, r},
		{r + 100, r},
		{2*r + 5, 2 * r},
	}
	for _, tt := range tests {
		got := rolloverOffset(tt.first)
		assert.InDelta(t, tt.want, got, 1e-9, "first=%v", tt.first)
		assert.GreaterOrEqual(t, tt.first, got)
		assert.Less(t, tt.first-got, r)
		assert.Zero(t, math.Mod(got, r))
	}
}
