package hls

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/hlsindex/internal/m3u8"
	"github.com/jmylchreest/hlsindex/internal/observability"
	"github.com/jmylchreest/hlsindex/internal/timeline"
)

const defaultUpdateRetryDelay = 100 * time.Millisecond

// startUpdates launches the update loop. The next cycle is always scheduled
// from the end of the previous one.
func (p *Parser) startUpdates(delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.loop.Add(1)
	go p.runUpdates(p.ctx, delay)
}

func (p *Parser) runUpdates(ctx context.Context, delay time.Duration) {
	defer p.loop.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next, ok := p.onUpdate(ctx)
		if !ok {
			return
		}
		timer.Reset(next)
	}
}

// onUpdate runs one scheduled cycle and returns the delay before the next.
// ok is false once the presentation has ended or the parser is stopping.
func (p *Parser) onUpdate(ctx context.Context) (next time.Duration, ok bool) {
	if p.isStopped() || !p.isLive() {
		return 0, false
	}
	p.logger.Info("updating manifest")

	err := p.Update(ctx)
	switch {
	case err == nil:
		if p.updateHandler != nil {
			if m := p.Manifest(); m != nil {
				p.updateHandler(m)
			}
		}
		delay := p.UpdateDelay()
		return delay, delay > 0
	case IsAborted(err) || ctx.Err() != nil:
		return 0, false
	default:
		rerr := recoverable(err)
		p.logger.Warn("manifest update failed; retrying", slog.String("error", rerr.Error()))
		if p.errorHandler != nil {
			p.errorHandler(rerr)
		}
		retry := p.cfg.UpdateRetryDelay
		if retry <= 0 {
			retry = defaultUpdateRetryDelay
		}
		return retry, true
	}
}

// Update re-reads every media playlist of a live presentation and replaces
// each stream's segment index. It does nothing once the presentation is VOD.
func (p *Parser) Update(ctx context.Context) (err error) {
	if !p.isLive() || p.Manifest() == nil {
		return nil
	}

	p.updateMu.Lock()
	defer p.updateMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(p.ctx, cancel)()

	done := observability.TimedOperationWithError(ctx, p.logger, "manifest_update", &err)
	defer done()

	g, gctx := errgroup.WithContext(ctx)
	for _, info := range p.streams.all() {
		g.Go(func() error {
			return p.updateStream(gctx, info)
		})
	}
	return g.Wait()
}

func (p *Parser) updateStream(ctx context.Context, info *streamInfo) error {
	resp, err := p.requestManifest(ctx, info.absoluteURI)
	if err != nil {
		return err
	}
	playlist, err := m3u8.Parse(resp.Data, resp.URI)
	if err != nil {
		return newError(CategoryManifest, CodePlaylistParseFailed, err, resp.URI)
	}
	if playlist.Type != m3u8.TypeMedia {
		return manifestError(CodeInvalidPlaylistHierarchy, resp.URI)
	}
	if len(playlist.Segments) == 0 {
		p.logger.Debug("media playlist has no segments; keeping previous index",
			slog.String("uri", resp.URI))
		return nil
	}

	initRef, err := initReference(playlist)
	if err != nil {
		return err
	}
	stream := info.stream
	refs, err := p.createSegments(ctx, info.verbatimURI, playlist, mediaSequence(playlist),
		stream.MimeType, stream.Codecs, initRef)
	if err != nil {
		return err
	}
	info.index.Replace(refs)

	if m3u8.FirstByName(playlist.Tags, "EXT-X-ENDLIST") != nil {
		p.setPresentationType(timeline.VOD)
		if m := p.Manifest(); m != nil {
			m.Timeline.SetDuration(refs[len(refs)-1].EndTime)
		}
	}
	return nil
}
