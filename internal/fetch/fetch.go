// Package fetch defines how playlists and segment byte ranges are retrieved
// and provides the default implementation for http(s), file and data URIs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrAborted marks a fetch that stopped because its context was cancelled.
// Callers must not treat it as a transport failure.
var ErrAborted = errors.New("fetch: operation aborted")

// ErrNoURIs is returned for a request without candidate URIs.
var ErrNoURIs = errors.New("fetch: request has no URIs")

// Request describes one logical fetch. URIs are alternatives tried in order.
type Request struct {
	URIs   []string
	Method string

	// StartByte and EndByte select an inclusive byte range. EndByte < 0
	// means "to the end of the resource".
	StartByte int64
	EndByte   int64
}

// NewRequest returns a GET request for the whole resource.
func NewRequest(uris ...string) Request {
	return Request{URIs: uris, Method: http.MethodGet, EndByte: -1}
}

// NewRangeRequest returns a GET request for bytes [start, end].
func NewRangeRequest(uris []string, start, end int64) Request {
	return Request{URIs: uris, Method: http.MethodGet, StartByte: start, EndByte: end}
}

// HasRange reports whether only part of the resource is wanted.
func (r Request) HasRange() bool {
	return r.StartByte > 0 || r.EndByte >= 0
}

// Response is the result of a successful fetch.
type Response struct {
	// URI is the final URI after redirects.
	URI     string
	Data    []byte
	Headers http.Header
}

// Fetcher retrieves resources.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req Request) (*Response, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// StatusError is returned when the origin answers with a non-2xx status.
type StatusError struct {
	URI        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s returned HTTP %d", e.URI, e.StatusCode)
}

// IsAborted reports whether err came from cancellation.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

func aborted(err error) error {
	return fmt.Errorf("%w: %v", ErrAborted, err)
}
