package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/jmylchreest/hlsindex/internal/fetch"
)

// Resource is one object served by an Origin.
type Resource struct {
	Body        []byte
	ContentType string
	// RedirectTo makes the origin report this URI as the final location.
	RedirectTo string
	// RejectRanges fails any ranged request with HTTP 416.
	RejectRanges bool
}

// Origin is an in-memory fetch.Fetcher. Resources can be swapped while a
// parser is running to simulate live playlist updates.
type Origin struct {
	mu        sync.Mutex
	resources map[string]Resource
	requests  []fetch.Request
	block     chan struct{}
}

// NewOrigin returns an empty origin.
func NewOrigin() *Origin {
	return &Origin{resources: make(map[string]Resource)}
}

// Set serves body at uri.
func (o *Origin) Set(uri string, body []byte) *Origin {
	return o.SetResource(uri, Resource{Body: body})
}

// SetString serves s at uri.
func (o *Origin) SetString(uri, s string) *Origin {
	return o.Set(uri, []byte(s))
}

// SetResource serves r at uri.
func (o *Origin) SetResource(uri string, r Resource) *Origin {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resources[uri] = r
	return o
}

// Block makes every subsequent fetch wait until ctx is cancelled.
func (o *Origin) Block() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.block = make(chan struct{})
}

// Requests returns a copy of every request seen so far.
func (o *Origin) Requests() []fetch.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]fetch.Request(nil), o.requests...)
}

// Count returns how many requests targeted uri.
func (o *Origin) Count(uri string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.requests {
		for _, u := range r.URIs {
			if u == uri {
				n++
			}
		}
	}
	return n
}

// Fetch implements fetch.Fetcher.
func (o *Origin) Fetch(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	o.mu.Lock()
	o.requests = append(o.requests, req)
	block := o.block
	o.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", fetch.ErrAborted, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", fetch.ErrAborted, err)
	}

	for _, uri := range req.URIs {
		o.mu.Lock()
		r, ok := o.resources[uri]
		o.mu.Unlock()
		if !ok {
			continue
		}
		if r.RejectRanges && req.HasRange() {
			return nil, &fetch.StatusError{URI: uri, StatusCode: http.StatusRequestedRangeNotSatisfiable}
		}

		final := uri
		if r.RedirectTo != "" {
			final = r.RedirectTo
		}
		headers := http.Header{}
		if r.ContentType != "" {
			headers.Set("Content-Type", r.ContentType)
		}
		if req.Method == http.MethodHead {
			return &fetch.Response{URI: final, Headers: headers}, nil
		}
		return &fetch.Response{URI: final, Data: slice(r.Body, req), Headers: headers}, nil
	}
	return nil, &fetch.StatusError{URI: req.URIs[0], StatusCode: http.StatusNotFound}
}

func slice(data []byte, req fetch.Request) []byte {
	if !req.HasRange() {
		return data
	}
	start := min(req.StartByte, int64(len(data)))
	end := int64(len(data))
	if req.EndByte >= 0 && req.EndByte+1 < end {
		end = req.EndByte + 1
	}
	return data[start:end]
}
