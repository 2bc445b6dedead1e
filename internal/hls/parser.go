// Package hls turns an HLS master playlist into a time-aligned manifest of
// variants and text streams, and keeps live presentations current by
// re-reading their media playlists.
package hls

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/hlsindex/internal/config"
	"github.com/jmylchreest/hlsindex/internal/drm"
	"github.com/jmylchreest/hlsindex/internal/fetch"
	"github.com/jmylchreest/hlsindex/internal/m3u8"
	"github.com/jmylchreest/hlsindex/internal/observability"
	"github.com/jmylchreest/hlsindex/internal/probe"
	"github.com/jmylchreest/hlsindex/internal/segment"
	"github.com/jmylchreest/hlsindex/internal/timeline"
)

// ErrorHandler receives recoverable errors from live updates. It runs on
// the update goroutine and must not call Stop synchronously.
type ErrorHandler func(err *Error)

// UpdateHandler is called after every successful live update.
type UpdateHandler func(m *Manifest)

// Parser builds and maintains one presentation. A Parser is single-use:
// Start it once, Stop it once.
type Parser struct {
	mu sync.Mutex

	fetcher       fetch.Fetcher
	cfg           config.ManifestConfig
	logger        *slog.Logger
	drm           *drm.Registry
	prober        *probe.Prober
	errorHandler  ErrorHandler
	updateHandler UpdateHandler

	correlationID string

	ctx     context.Context
	cancel  context.CancelFunc
	ops     sync.WaitGroup
	loop    sync.WaitGroup
	started bool
	stopped bool

	// updateMu serializes update cycles.
	updateMu sync.Mutex

	masterURI      string
	streams        *arena
	closedCaptions map[string]map[string]string
	variantKeys    map[string]struct{}
	ids            atomic.Int64
	aesEncrypted   atomic.Bool

	presentationType  timeline.PresentationType
	minTargetDuration float64
	maxTargetDuration float64
	timeline          *timeline.Timeline
	pendingSegments   [][]segment.Reference
	manifest          *Manifest
	updateDelay       time.Duration
}

// New returns a parser that retrieves playlists and segments via fetcher.
func New(fetcher fetch.Fetcher, cfg config.ManifestConfig) *Parser {
	return &Parser{
		fetcher:           fetcher,
		cfg:               cfg,
		logger:            slog.Default(),
		drm:               drm.NewRegistry(),
		prober:            probe.New(nil),
		streams:           newArena(),
		closedCaptions:    make(map[string]map[string]string),
		variantKeys:       make(map[string]struct{}),
		minTargetDuration: math.Inf(1),
		correlationID:     uuid.NewString(),
	}
}

// WithLogger sets a custom logger.
func (p *Parser) WithLogger(logger *slog.Logger) *Parser {
	p.logger = logger
	return p
}

// WithDRMRegistry replaces the KEYFORMAT registry.
func (p *Parser) WithDRMRegistry(r *drm.Registry) *Parser {
	p.drm = r
	return p
}

// WithTextProber sets the prober used for subtitle segments.
func (p *Parser) WithTextProber(t probe.TextProber) *Parser {
	p.prober = probe.New(t)
	return p
}

// WithErrorHandler registers a handler for recoverable update errors.
func (p *Parser) WithErrorHandler(h ErrorHandler) *Parser {
	p.errorHandler = h
	return p
}

// WithUpdateHandler registers a handler called after each live update.
func (p *Parser) WithUpdateHandler(h UpdateHandler) *Parser {
	p.updateHandler = h
	return p
}

// CorrelationID identifies this parser in logs.
func (p *Parser) CorrelationID() string {
	return p.correlationID
}

// Start fetches and parses the master playlist at uri. ctx bounds the
// initial parse only; live updates continue in the background until Stop.
func (p *Parser) Start(ctx context.Context, uri string) (manifest *Manifest, err error) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil, fmt.Errorf("hls: parser already started")
	}
	p.started = true
	p.logger = observability.WithCorrelationID(observability.WithComponent(p.logger, "hls"), p.correlationID)
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	pctx := p.ctx
	p.mu.Unlock()

	// Cancelling ctx during the initial parse tears the parser down.
	release := context.AfterFunc(ctx, p.cancel)
	defer release()

	done := observability.TimedOperationWithError(pctx, p.logger, "manifest_parse", &err)
	defer done()

	resp, err := p.requestManifest(pctx, uri)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.masterURI = resp.URI
	p.mu.Unlock()

	manifest, err = p.parseManifest(pctx, resp.Data)
	if err != nil {
		return nil, err
	}

	if delay := p.UpdateDelay(); delay > 0 {
		p.startUpdates(delay)
	}
	return manifest, nil
}

func (p *Parser) parseManifest(ctx context.Context, data []byte) (*Manifest, error) {
	master, err := m3u8.Parse(data, p.masterURI)
	if err != nil {
		return nil, newError(CategoryManifest, CodePlaylistParseFailed, err, p.masterURI)
	}
	if master.Type != m3u8.TypeMaster {
		return nil, manifestError(CodeMasterPlaylistNotProvided)
	}

	period, err := p.buildPeriod(ctx, master)
	if err != nil {
		return nil, err
	}

	if p.isStopped() {
		return nil, abortedError(nil)
	}
	if p.aesEncrypted.Load() && len(period.Variants) == 0 {
		p.logger.Info("no streams created: AES-128 encryption is not supported")
		return nil, manifestError(CodeAES128NotSupported)
	}

	m := p.coordinate(period)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, abortedError(nil)
	}
	p.manifest = m
	return m, nil
}

// Stop cancels every outstanding fetch, waits for the update loop to exit
// and releases parser state. It is safe to call more than once.
func (p *Parser) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.ops.Wait()
	p.loop.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams.clear()
	clear(p.closedCaptions)
	clear(p.variantKeys)
	p.pendingSegments = nil
	p.manifest = nil
	p.logger.Debug("parser stopped")
}

// Manifest returns the current manifest, or nil before Start completes and
// after Stop.
func (p *Parser) Manifest() *Manifest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manifest
}

// PresentationType returns the current presentation type.
func (p *Parser) PresentationType() timeline.PresentationType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.presentationType
}

// UpdateDelay is the pause between live updates; zero for VOD.
func (p *Parser) UpdateDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updateDelay
}

func (p *Parser) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *Parser) isLive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.presentationType != timeline.VOD
}

func (p *Parser) nextID() int64 {
	return p.ids.Add(1) - 1
}

// setPresentationType applies a guarded transition. Rejected transitions
// keep the current type.
func (p *Parser) setPresentationType(next timeline.PresentationType) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, err := p.presentationType.TransitionTo(next)
	if err != nil {
		p.logger.Debug("ignoring presentation type change", slog.String("error", err.Error()))
		return
	}
	p.presentationType = t
	live := t != timeline.VOD
	if p.timeline != nil {
		p.timeline.SetStatic(!live)
	}
	if !live {
		p.updateDelay = 0
	}
}

// request runs one fetch as a tracked operation. Once Stop has begun no new
// operation is admitted.
func (p *Parser) request(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, abortedError(nil)
	}
	p.ops.Add(1)
	p.mu.Unlock()
	defer p.ops.Done()

	resp, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

func (p *Parser) requestManifest(ctx context.Context, uri string) (*fetch.Response, error) {
	return p.request(ctx, fetch.NewRequest(uri))
}

// notifySegments forwards refs to the timeline, holding them until the
// timeline exists.
func (p *Parser) notifySegments(refs []segment.Reference) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timeline == nil {
		p.pendingSegments = append(p.pendingSegments, refs)
		return
	}
	p.timeline.NotifySegments(refs)
}
