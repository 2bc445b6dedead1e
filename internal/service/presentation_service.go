// Package service owns the running HLS parsers behind the inspection API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/hlsindex/internal/config"
	"github.com/jmylchreest/hlsindex/internal/fetch"
	"github.com/jmylchreest/hlsindex/internal/hls"
	"github.com/jmylchreest/hlsindex/internal/observability"
	"github.com/jmylchreest/hlsindex/internal/timeline"
)

// ErrPresentationNotFound is returned for an unknown presentation ID.
var ErrPresentationNotFound = errors.New("presentation not found")

// ErrTooManyPresentations is returned when MaxSessions parsers are running.
var ErrTooManyPresentations = errors.New("too many presentations")

// ErrUnsupportedURL is returned for URLs that are not HLS playlists.
var ErrUnsupportedURL = errors.New("url is not an HLS playlist")

// Presentation is one running parser.
type Presentation struct {
	ID        uuid.UUID
	URL       string
	StartedAt time.Time

	parser  *hls.Parser
	updates atomic.Int64

	mu        sync.RWMutex
	lastError *hls.Error
}

// Snapshot returns the current manifest view. ok is false once stopped.
func (p *Presentation) Snapshot() (hls.ManifestSnapshot, bool) {
	return p.parser.Snapshot()
}

// Stream looks up a stream of the current manifest by ID.
func (p *Presentation) Stream(id int64) (*hls.Stream, bool) {
	m := p.parser.Manifest()
	if m == nil {
		return nil, false
	}
	return m.Stream(id)
}

// PresentationType returns the parser's current presentation type.
func (p *Presentation) PresentationType() timeline.PresentationType {
	return p.parser.PresentationType()
}

// Updates returns how many live updates have completed.
func (p *Presentation) Updates() int64 {
	return p.updates.Load()
}

// LastError returns the most recent recoverable update error, if any.
func (p *Presentation) LastError() *hls.Error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastError
}

// CorrelationID is the parser's log correlation ID.
func (p *Presentation) CorrelationID() string {
	return p.parser.CorrelationID()
}

func (p *Presentation) setLastError(err *hls.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastError = err
}

// PresentationService starts, tracks and stops parsers.
type PresentationService struct {
	fetcher     fetch.Fetcher
	cfg         config.ManifestConfig
	maxSessions int
	logger      *slog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Presentation
	pending  int
	closed   bool
}

// NewPresentationService creates a service. maxSessions <= 0 means no limit.
func NewPresentationService(fetcher fetch.Fetcher, cfg config.ManifestConfig, maxSessions int) *PresentationService {
	return &PresentationService{
		fetcher:     fetcher,
		cfg:         cfg,
		maxSessions: maxSessions,
		logger:      slog.Default(),
		sessions:    make(map[uuid.UUID]*Presentation),
	}
}

// WithLogger sets the logger for the service.
func (s *PresentationService) WithLogger(logger *slog.Logger) *PresentationService {
	s.logger = observability.WithComponent(logger, "service")
	return s
}

// Start parses the playlist at url and keeps it updated until Stop. ctx
// bounds the initial parse only.
func (s *PresentationService) Start(ctx context.Context, url string) (*Presentation, error) {
	if !hls.Supports(url) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, url)
	}
	if err := s.reserve(); err != nil {
		return nil, err
	}

	p := &Presentation{
		ID:        uuid.New(),
		URL:       url,
		StartedAt: time.Now(),
	}
	p.parser = hls.New(s.fetcher, s.cfg).
		WithLogger(s.logger.With(slog.String("presentation_id", p.ID.String()))).
		WithErrorHandler(p.setLastError).
		WithUpdateHandler(func(*hls.Manifest) { p.updates.Add(1) })

	if _, err := p.parser.Start(ctx, url); err != nil {
		p.parser.Stop()
		s.release(nil)
		return nil, err
	}

	if !s.release(p) {
		p.parser.Stop()
		return nil, fmt.Errorf("starting presentation: %w", hls.ErrOperationAborted)
	}

	s.logger.Info("presentation started",
		slog.String("id", p.ID.String()),
		slog.String("url", url),
		slog.String("correlation_id", p.CorrelationID()),
	)
	return p, nil
}

func (s *PresentationService) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("starting presentation: %w", hls.ErrOperationAborted)
	}
	if s.maxSessions > 0 && len(s.sessions)+s.pending >= s.maxSessions {
		return ErrTooManyPresentations
	}
	s.pending++
	return nil
}

// release frees a reservation and registers p when non-nil. It reports
// false if the service closed meanwhile.
func (s *PresentationService) release(p *Presentation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	if p == nil || s.closed {
		return false
	}
	s.sessions[p.ID] = p
	return true
}

// Get returns a running presentation.
func (s *PresentationService) Get(id uuid.UUID) (*Presentation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.sessions[id]
	if !ok {
		return nil, ErrPresentationNotFound
	}
	return p, nil
}

// List returns every running presentation, oldest first.
func (s *PresentationService) List() []*Presentation {
	s.mu.RLock()
	out := make([]*Presentation, 0, len(s.sessions))
	for _, p := range s.sessions {
		out = append(out, p)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Presentation) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}

// Stop stops and forgets a presentation.
func (s *PresentationService) Stop(id uuid.UUID) error {
	s.mu.Lock()
	p, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrPresentationNotFound
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	p.parser.Stop()
	s.logger.Info("presentation stopped", slog.String("id", id.String()))
	return nil
}

// Close stops every presentation. Later Starts fail.
func (s *PresentationService) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[uuid.UUID]*Presentation)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.parser.Stop()
		}()
	}
	wg.Wait()
}

// Count returns the number of running presentations.
func (s *PresentationService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
