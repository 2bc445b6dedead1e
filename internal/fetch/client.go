package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/jmylchreest/hlsindex/pkg/httpclient"
)

// Client is the default Fetcher. It serves http and https through a
// resilient httpclient.Client, file URIs from the local filesystem, and
// data URIs inline.
type Client struct {
	http     *httpclient.Client
	logger   *slog.Logger
	maxBytes int64
}

// Option configures a Client.
type Option func(*Client)

// WithMaxBytes caps the size of any single response body. 0 disables it.
func WithMaxBytes(n int64) Option {
	return func(c *Client) { c.maxBytes = n }
}

// NewClient returns a Fetcher backed by hc.
func NewClient(hc *httpclient.Client, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{http: hc, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch tries each URI in turn and returns the first success.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	if len(req.URIs) == 0 {
		return nil, ErrNoURIs
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	var lastErr error
	for _, uri := range req.URIs {
		if err := ctx.Err(); err != nil {
			return nil, aborted(err)
		}

		resp, err := c.fetchOne(ctx, req, uri)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, aborted(err)
		}
		c.logger.Debug("fetch failed",
			slog.String("uri", uri),
			slog.String("method", req.Method),
			slog.String("error", err.Error()),
		)
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) fetchOne(ctx context.Context, req Request, uri string) (*Response, error) {
	switch {
	case strings.HasPrefix(uri, "data:"):
		return fetchData(req, uri)
	case strings.HasPrefix(uri, "file:"):
		return fetchFile(req, uri)
	default:
		return c.fetchHTTP(ctx, req, uri)
	}
}

func (c *Client) fetchHTTP(ctx context.Context, req Request, uri string) (*Response, error) {
	resp, err := c.send(ctx, req, uri)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URI: uri, StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if c.maxBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading %s: %w", uri, err)
	}

	final := uri
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &Response{URI: final, Data: data, Headers: resp.Header}, nil
}

func (c *Client) send(ctx context.Context, req Request, uri string) (*http.Response, error) {
	switch {
	case req.Method == http.MethodHead:
		return c.http.Head(ctx, uri)
	case req.HasRange():
		return c.http.GetRange(ctx, uri, req.StartByte, req.EndByte)
	default:
		return c.http.Get(ctx, uri)
	}
}

func fetchData(req Request, uri string) (*Response, error) {
	d, err := ParseDataURI(uri)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Content-Type", d.MediaType)
	if req.Method == http.MethodHead {
		return &Response{URI: uri, Headers: headers}, nil
	}
	return &Response{URI: uri, Data: sliceRange(d.Data, req), Headers: headers}, nil
}

func fetchFile(req Request, uri string) (*Response, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("fetch: parsing %s: %w", uri, err)
	}
	data, err := os.ReadFile(u.Path)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading %s: %w", u.Path, err)
	}
	headers := http.Header{}
	if ct := http.DetectContentType(data); ct != "" {
		headers.Set("Content-Type", ct)
	}
	if req.Method == http.MethodHead {
		return &Response{URI: uri, Headers: headers}, nil
	}
	return &Response{URI: uri, Data: sliceRange(data, req), Headers: headers}, nil
}

func sliceRange(data []byte, req Request) []byte {
	if !req.HasRange() {
		return data
	}
	start := min(max(req.StartByte, 0), int64(len(data)))
	end := int64(len(data))
	if req.EndByte >= 0 && req.EndByte+1 < end {
		end = req.EndByte + 1
	}
	if end < start {
		end = start
	}
	return data[start:end]
}
