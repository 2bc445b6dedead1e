package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/jmylchreest/hlsindex/internal/hls"
	"github.com/jmylchreest/hlsindex/internal/service"
)

// PresentationHandler exposes running parsers over the API.
type PresentationHandler struct {
	service *service.PresentationService
	logger  *slog.Logger
}

// NewPresentationHandler creates a new presentation handler.
func NewPresentationHandler(svc *service.PresentationService) *PresentationHandler {
	return &PresentationHandler{
		service: svc,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *PresentationHandler) WithLogger(logger *slog.Logger) *PresentationHandler {
	h.logger = logger
	return h
}

// Register registers the presentation routes with the API.
func (h *PresentationHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createPresentation",
		Method:        "POST",
		Path:          "/api/v1/presentations",
		Summary:       "Start parsing a playlist",
		Description:   "Parses an HLS master playlist and keeps live presentations updated until deleted",
		Tags:          []string{"Presentations"},
		DefaultStatus: 201,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listPresentations",
		Method:      "GET",
		Path:        "/api/v1/presentations",
		Summary:     "List presentations",
		Tags:        []string{"Presentations"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getPresentation",
		Method:      "GET",
		Path:        "/api/v1/presentations/{id}",
		Summary:     "Get presentation",
		Description: "Returns the timeline, variants, text streams and per-stream segment windows",
		Tags:        []string{"Presentations"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "findSegment",
		Method:      "GET",
		Path:        "/api/v1/presentations/{id}/streams/{streamId}/segments",
		Summary:     "Find the segment containing a time",
		Tags:        []string{"Presentations"},
	}, h.FindSegment)

	huma.Register(api, huma.Operation{
		OperationID:   "deletePresentation",
		Method:        "DELETE",
		Path:          "/api/v1/presentations/{id}",
		Summary:       "Stop a presentation",
		Tags:          []string{"Presentations"},
		DefaultStatus: 204,
	}, h.Delete)
}

// ErrorInfo describes a parser error.
type ErrorInfo struct {
	Code     string `json:"code"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func errorInfo(e *hls.Error) *ErrorInfo {
	if e == nil {
		return nil
	}
	return &ErrorInfo{
		Code:     string(e.Code),
		Category: e.Category.String(),
		Severity: e.Severity.String(),
		Message:  e.Error(),
	}
}

// PresentationResponse is a running presentation and its current manifest.
type PresentationResponse struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	StartedAt     time.Time  `json:"started_at"`
	CorrelationID string     `json:"correlation_id"`
	Updates       int64      `json:"updates"`
	LastError     *ErrorInfo `json:"last_error,omitempty"`
	hls.ManifestSnapshot
}

// PresentationSummary is a list entry.
type PresentationSummary struct {
	ID               string    `json:"id"`
	URL              string    `json:"url"`
	StartedAt        time.Time `json:"started_at"`
	PresentationType string    `json:"presentation_type"`
	Updates          int64     `json:"updates"`
}

func presentationResponse(p *service.Presentation) (PresentationResponse, bool) {
	snap, ok := p.Snapshot()
	if !ok {
		return PresentationResponse{}, false
	}
	return PresentationResponse{
		ID:               p.ID.String(),
		URL:              p.URL,
		StartedAt:        p.StartedAt,
		CorrelationID:    p.CorrelationID(),
		Updates:          p.Updates(),
		LastError:        errorInfo(p.LastError()),
		ManifestSnapshot: snap,
	}, true
}

// CreatePresentationInput is the input for starting a presentation.
type CreatePresentationInput struct {
	Body struct {
		URL string `json:"url" minLength:"1" doc:"HLS master playlist URL" example:"https://example.com/live/master.m3u8"`
	}
}

// PresentationOutput wraps a single presentation.
type PresentationOutput struct {
	Body PresentationResponse
}

// Create starts a parser. The request context bounds the initial parse.
func (h *PresentationHandler) Create(ctx context.Context, input *CreatePresentationInput) (*PresentationOutput, error) {
	p, err := h.service.Start(ctx, input.Body.URL)
	if err != nil {
		return nil, h.mapError("failed to start presentation", err)
	}
	resp, ok := presentationResponse(p)
	if !ok {
		return nil, huma.Error404NotFound("presentation stopped")
	}
	return &PresentationOutput{Body: resp}, nil
}

// ListPresentationsInput is the input for listing presentations.
type ListPresentationsInput struct{}

// ListPresentationsOutput is the output for listing presentations.
type ListPresentationsOutput struct {
	Body struct {
		Presentations []PresentationSummary `json:"presentations"`
		Count         int                   `json:"count"`
	}
}

// List returns every running presentation.
func (h *PresentationHandler) List(ctx context.Context, input *ListPresentationsInput) (*ListPresentationsOutput, error) {
	out := &ListPresentationsOutput{}
	out.Body.Presentations = []PresentationSummary{}
	for _, p := range h.service.List() {
		out.Body.Presentations = append(out.Body.Presentations, PresentationSummary{
			ID:               p.ID.String(),
			URL:              p.URL,
			StartedAt:        p.StartedAt,
			PresentationType: p.PresentationType().String(),
			Updates:          p.Updates(),
		})
	}
	out.Body.Count = len(out.Body.Presentations)
	return out, nil
}

// PresentationIDInput identifies a presentation.
type PresentationIDInput struct {
	ID string `path:"id" doc:"Presentation ID"`
}

// Get returns a presentation snapshot.
func (h *PresentationHandler) Get(ctx context.Context, input *PresentationIDInput) (*PresentationOutput, error) {
	p, err := h.lookup(input.ID)
	if err != nil {
		return nil, err
	}
	resp, ok := presentationResponse(p)
	if !ok {
		return nil, huma.Error404NotFound("presentation stopped")
	}
	return &PresentationOutput{Body: resp}, nil
}

// FindSegmentInput locates a segment by presentation time.
type FindSegmentInput struct {
	ID       string  `path:"id" doc:"Presentation ID"`
	StreamID int64   `path:"streamId" doc:"Stream ID"`
	Time     float64 `query:"time" doc:"Presentation time in seconds"`
}

// FindSegmentOutput is the segment containing the requested time.
type FindSegmentOutput struct {
	Body struct {
		StreamID int64               `json:"stream_id"`
		Time     float64             `json:"time"`
		Segment  hls.SegmentSnapshot `json:"segment"`
	}
}

// FindSegment resolves a time to a position and returns that segment.
func (h *PresentationHandler) FindSegment(ctx context.Context, input *FindSegmentInput) (*FindSegmentOutput, error) {
	p, err := h.lookup(input.ID)
	if err != nil {
		return nil, err
	}
	stream, ok := p.Stream(input.StreamID)
	if !ok {
		return nil, huma.Error404NotFound("stream not found")
	}
	pos, ok := stream.FindSegmentPosition(input.Time)
	if !ok {
		return nil, huma.Error404NotFound("no segment at the requested time")
	}
	ref, ok := stream.GetSegmentReference(pos)
	if !ok {
		// The window slid between the two lookups.
		return nil, huma.Error404NotFound("segment no longer available")
	}

	out := &FindSegmentOutput{}
	out.Body.StreamID = input.StreamID
	out.Body.Time = input.Time
	out.Body.Segment = hls.NewSegmentSnapshot(ref)
	return out, nil
}

// DeletePresentationOutput is empty; the status is 204.
type DeletePresentationOutput struct{}

// Delete stops a presentation.
func (h *PresentationHandler) Delete(ctx context.Context, input *PresentationIDInput) (*DeletePresentationOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	if err := h.service.Stop(id); err != nil {
		return nil, h.mapError("failed to stop presentation", err)
	}
	return &DeletePresentationOutput{}, nil
}

func (h *PresentationHandler) lookup(raw string) (*service.Presentation, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	p, err := h.service.Get(id)
	if err != nil {
		return nil, h.mapError("failed to get presentation", err)
	}
	return p, nil
}

func (h *PresentationHandler) mapError(msg string, err error) error {
	switch {
	case errors.Is(err, service.ErrPresentationNotFound):
		return huma.Error404NotFound("presentation not found")
	case errors.Is(err, service.ErrTooManyPresentations):
		return huma.Error429TooManyRequests(err.Error())
	case errors.Is(err, service.ErrUnsupportedURL):
		return huma.Error400BadRequest(err.Error())
	}

	if e, ok := hls.AsError(err); ok {
		switch e.Code {
		case hls.CodeHTTPError:
			return huma.Error502BadGateway(msg, err)
		case hls.CodeOperationAborted:
			return huma.Error503ServiceUnavailable(msg, err)
		}
		return huma.Error422UnprocessableEntity(msg, err)
	}

	h.logger.Error(msg, slog.String("error", err.Error()))
	return huma.Error500InternalServerError(msg, err)
}
