package timeline

import (
	"math"
	"sync"
	"time"

	"github.com/jmylchreest/hlsindex/internal/segment"
)

// Timeline maps every stream of a presentation onto one clock.
type Timeline struct {
	mu sync.RWMutex

	startTime *float64
	delay     float64

	duration             float64
	availabilityDuration float64
	maxSegmentDuration   float64
	minSegmentStart      *float64
	maxSegmentEnd        *float64
	static               bool

	now func() time.Time
}

// New creates a timeline. A nil startTime means the live edge is derived
// from segment times rather than from the wall clock.
func New(startTime *float64, delay float64) *Timeline {
	return &Timeline{
		startTime:            startTime,
		delay:                delay,
		duration:             math.Inf(1),
		availabilityDuration: math.Inf(1),
		maxSegmentDuration:   1,
		static:               true,
		now:                  time.Now,
	}
}

// SetStatic marks the presentation as finished (true) or still growing.
func (tl *Timeline) SetStatic(static bool) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.static = static
}

func (tl *Timeline) IsStatic() bool {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.static
}

// SetDuration fixes the presentation length in seconds.
func (tl *Timeline) SetDuration(d float64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.duration = d
}

// Duration is +Inf until known.
func (tl *Timeline) Duration() float64 {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.duration
}

// Delay is the distance kept from the live edge.
func (tl *Timeline) Delay() float64 {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.delay
}

// SetSegmentAvailabilityDuration bounds how far behind the live edge
// segments stay addressable.
func (tl *Timeline) SetSegmentAvailabilityDuration(d float64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.availabilityDuration = d
}

func (tl *Timeline) SegmentAvailabilityDuration() float64 {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.availabilityDuration
}

// UsingPresentationStartTime reports whether the live edge follows the
// wall clock.
func (tl *Timeline) UsingPresentationStartTime() bool {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.startTime != nil && !tl.static
}

// NotifySegments records the time span covered by refs.
func (tl *Timeline) NotifySegments(refs []segment.Reference) {
	if len(refs) == 0 {
		return
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()

	for _, r := range refs {
		tl.maxSegmentDuration = math.Max(tl.maxSegmentDuration, r.Duration())
	}
	if tl.minSegmentStart == nil {
		v := refs[0].StartTime
		tl.minSegmentStart = &v
	}
	end := refs[len(refs)-1].EndTime
	if tl.maxSegmentEnd == nil || end > *tl.maxSegmentEnd {
		tl.maxSegmentEnd = &end
	}
}

// Offset shifts the recorded segment span by delta seconds.
func (tl *Timeline) Offset(delta float64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.minSegmentStart != nil {
		v := *tl.minSegmentStart + delta
		tl.minSegmentStart = &v
	}
	if tl.maxSegmentEnd != nil {
		v := *tl.maxSegmentEnd + delta
		tl.maxSegmentEnd = &v
	}
}

// MaxSegmentDuration is the longest segment seen, at least 1 second.
func (tl *Timeline) MaxSegmentDuration() float64 {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.maxSegmentDuration
}

// IsLive reports an open-ended presentation.
func (tl *Timeline) IsLive() bool {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.isLive()
}

// IsInProgress reports a growing presentation with a known duration.
func (tl *Timeline) IsInProgress() bool {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.isInProgress()
}

func (tl *Timeline) isLive() bool {
	return math.IsInf(tl.duration, 1) && !tl.static
}

func (tl *Timeline) isInProgress() bool {
	return !math.IsInf(tl.duration, 1) && !tl.static
}

// AvailabilityStart is the earliest addressable time.
func (tl *Timeline) AvailabilityStart() float64 {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	if math.IsInf(tl.availabilityDuration, 1) {
		if tl.minSegmentStart != nil && !tl.static {
			return math.Max(0, *tl.minSegmentStart)
		}
		return 0
	}
	return math.Max(0, tl.availabilityEnd()-tl.availabilityDuration)
}

// AvailabilityEnd is the latest addressable time.
func (tl *Timeline) AvailabilityEnd() float64 {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.availabilityEnd()
}

func (tl *Timeline) availabilityEnd() float64 {
	if !tl.isLive() && !tl.isInProgress() {
		return tl.duration
	}
	return math.Min(tl.liveEdge(), tl.duration)
}

func (tl *Timeline) liveEdge() float64 {
	if tl.startTime != nil {
		now := float64(tl.now().UnixMilli()) / 1000
		return math.Max(0, now-tl.maxSegmentDuration-*tl.startTime)
	}
	if tl.maxSegmentEnd != nil {
		return *tl.maxSegmentEnd
	}
	return 0
}

// SeekRangeEnd is the availability end held back by the delay for live
// content.
func (tl *Timeline) SeekRangeEnd() float64 {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	end := tl.availabilityEnd()
	if tl.isLive() || tl.isInProgress() {
		end -= tl.delay
	}
	return math.Max(0, end)
}

// Snapshot is a serializable view of the timeline. Infinite values are
// reported as -1.
type Snapshot struct {
	Static               bool    `json:"static" yaml:"static"`
	Duration             float64 `json:"duration" yaml:"duration"`
	Delay                float64 `json:"delay" yaml:"delay"`
	AvailabilityDuration float64 `json:"availabilityDuration" yaml:"availability_duration"`
	AvailabilityStart    float64 `json:"availabilityStart" yaml:"availability_start"`
	AvailabilityEnd      float64 `json:"availabilityEnd" yaml:"availability_end"`
	SeekRangeEnd         float64 `json:"seekRangeEnd" yaml:"seek_range_end"`
	MaxSegmentDuration   float64 `json:"maxSegmentDuration" yaml:"max_segment_duration"`
}

// Snapshot captures the current state.
func (tl *Timeline) Snapshot() Snapshot {
	s := Snapshot{
		AvailabilityStart: tl.AvailabilityStart(),
		AvailabilityEnd:   finite(tl.AvailabilityEnd()),
		SeekRangeEnd:      finite(tl.SeekRangeEnd()),
	}
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	s.Static = tl.static
	s.Duration = finite(tl.duration)
	s.Delay = tl.delay
	s.AvailabilityDuration = finite(tl.availabilityDuration)
	s.MaxSegmentDuration = tl.maxSegmentDuration
	return s
}

func finite(v float64) float64 {
	if math.IsInf(v, 0) {
		return -1
	}
	return v
}
