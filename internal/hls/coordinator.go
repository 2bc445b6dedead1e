package hls

import (
	"log/slog"
	"math"
	"time"

	"github.com/jmylchreest/hlsindex/internal/codec"
	"github.com/jmylchreest/hlsindex/internal/mpegts"
	"github.com/jmylchreest/hlsindex/internal/timeline"
)

// presentationDelayTargets is how many target durations a live playhead
// stays behind the newest segment.
const presentationDelayTargets = 3

// streamBounds aggregates per-stream timing across the presentation.
type streamBounds struct {
	minFirst    float64
	maxFirst    float64
	maxLast     float64
	minDuration float64
}

func boundsOf(infos []*streamInfo) streamBounds {
	b := streamBounds{minFirst: math.Inf(1), minDuration: math.Inf(1)}
	for _, info := range infos {
		b.minFirst = math.Min(b.minFirst, info.minTimestamp)
		b.maxFirst = math.Max(b.maxFirst, info.minTimestamp)
		b.maxLast = math.Max(b.maxLast, info.maxTimestamp)
		if info.stream.Type != codec.ContentText {
			b.minDuration = math.Min(b.minDuration, info.duration)
		}
	}
	return b
}

// rolloverOffset returns the whole number of MPEG-TS clock wraps contained
// in first, in seconds.
func rolloverOffset(first float64) float64 {
	wraps := math.Floor(first / mpegts.RolloverSeconds)
	if wraps <= 0 {
		return 0
	}
	return wraps * mpegts.RolloverSeconds
}

// coordinate creates the presentation timeline and aligns every stream to it.
func (p *Parser) coordinate(period *Period) *Manifest {
	infos := p.streams.all()
	b := boundsOf(infos)

	p.mu.Lock()
	live := p.presentationType != timeline.VOD
	if live {
		delay := presentationDelayTargets * p.maxTargetDuration
		if p.cfg.PresentationDelayOverride > 0 {
			delay = p.cfg.PresentationDelayOverride.Seconds()
		}
		p.timeline = timeline.New(nil, delay)
		p.timeline.SetStatic(false)
		p.updateDelay = time.Duration(p.minTargetDuration * float64(time.Second))
	} else {
		p.timeline = timeline.New(nil, 0)
		p.timeline.SetStatic(true)
	}
	for _, refs := range p.pendingSegments {
		p.timeline.NotifySegments(refs)
	}
	p.pendingSegments = nil
	tl := p.timeline
	presentationType := p.presentationType
	p.mu.Unlock()

	if live {
		if presentationType == timeline.Live {
			window := tl.Delay()
			if p.cfg.AvailabilityWindowOverride > 0 {
				window = p.cfg.AvailabilityWindowOverride.Seconds()
			}
			tl.SetSegmentAvailabilityDuration(window)
		}

		if offset := rolloverOffset(b.maxFirst); offset > 0 {
			p.logger.Debug("offsetting live streams to compensate for rollover",
				slog.Float64("offset", offset))
			for _, info := range infos {
				if info.minTimestamp >= mpegts.RolloverSeconds {
					p.logger.Debug("rollover offset not applied", slog.String("type", string(info.stream.Type)))
					continue
				}
				info.stream.PresentationTimeOffset = -offset
				info.index.Offset(offset)
				info.offset += offset
			}
		}
	} else {
		tl.SetDuration(b.minDuration)
		tl.Offset(-b.minFirst)
		for _, info := range infos {
			info.stream.PresentationTimeOffset = b.minFirst
			info.index.Offset(-b.minFirst)
			info.offset -= b.minFirst
			info.index.Fit(b.minDuration)
		}
	}

	return &Manifest{Timeline: tl, Periods: []*Period{period}}
}
