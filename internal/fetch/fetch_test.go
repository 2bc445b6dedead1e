package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsindex/pkg/httpclient"
)

func newTestClient() *Client {
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	return NewClient(httpclient.New(cfg), nil)
}

func TestClient_FetchHTTP(t *testing.T) {
	payload := bytes.Repeat([]byte{0x47}, 4096)
	mux := http.NewServeMux()
	mux.HandleFunc("/seg.ts", func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "seg.ts", time.Time{}, bytes.NewReader(payload))
	})
	mux.HandleFunc("/redirect.m3u8", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final.m3u8", http.StatusFound)
	})
	mux.HandleFunc("/final.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n"))
	})
	var seen *http.Request
	mux.HandleFunc("/echo.ts", func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(context.Background())
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write([]byte("ok"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient()

	t.Run("range request headers", func(t *testing.T) {
		_, err := c.Fetch(context.Background(), NewRangeRequest([]string{server.URL + "/echo.ts"}, 100, 2147))
		require.NoError(t, err)
		require.NotNil(t, seen)
		assert.Equal(t, http.MethodGet, seen.Method)
		assert.Equal(t, "bytes=100-2147", seen.Header.Get("Range"))
		assert.Equal(t, "identity", seen.Header.Get("Accept-Encoding"))
	})

	t.Run("open ended range", func(t *testing.T) {
		_, err := c.Fetch(context.Background(), NewRangeRequest([]string{server.URL + "/echo.ts"}, 512, -1))
		require.NoError(t, err)
		assert.Equal(t, "bytes=512-", seen.Header.Get("Range"))
	})

	t.Run("plain get has no range", func(t *testing.T) {
		_, err := c.Fetch(context.Background(), NewRequest(server.URL+"/echo.ts"))
		require.NoError(t, err)
		assert.Equal(t, http.MethodGet, seen.Method)
		assert.Empty(t, seen.Header.Get("Range"))
	})

	t.Run("head", func(t *testing.T) {
		req := NewRequest(server.URL + "/echo.ts")
		req.Method = http.MethodHead
		resp, err := c.Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, http.MethodHead, seen.Method)
		assert.Equal(t, "video/mp2t", resp.Headers.Get("Content-Type"))
		assert.Empty(t, resp.Data)
	})

	t.Run("range", func(t *testing.T) {
		resp, err := c.Fetch(context.Background(), NewRangeRequest([]string{server.URL + "/seg.ts"}, 0, 2047))
		require.NoError(t, err)
		assert.Len(t, resp.Data, 2048)
	})

	t.Run("redirect reports final uri", func(t *testing.T) {
		resp, err := c.Fetch(context.Background(), NewRequest(server.URL+"/redirect.m3u8"))
		require.NoError(t, err)
		assert.Equal(t, server.URL+"/final.m3u8", resp.URI)
		assert.Equal(t, "#EXTM3U\n", string(resp.Data))
	})

	t.Run("status error", func(t *testing.T) {
		_, err := c.Fetch(context.Background(), NewRequest(server.URL+"/missing"))
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusNotFound, se.StatusCode)
		assert.False(t, IsAborted(err))
	})

	t.Run("falls through to next uri", func(t *testing.T) {
		resp, err := c.Fetch(context.Background(), NewRequest(server.URL+"/missing", server.URL+"/final.m3u8"))
		require.NoError(t, err)
		assert.Equal(t, "#EXTM3U\n", string(resp.Data))
	})

	t.Run("cancelled context is aborted", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.Fetch(ctx, NewRequest(server.URL+"/final.m3u8"))
		assert.ErrorIs(t, err, ErrAborted)
		assert.True(t, IsAborted(err))
	})
}

func TestClient_FetchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "media.m3u8")
	require.NoError(t, os.WriteFile(path, []byte("#EXTM3U\n#EXT-X-ENDLIST\n"), 0o600))

	c := newTestClient()
	resp, err := c.Fetch(context.Background(), NewRequest("file://"+path))
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n#EXT-X-ENDLIST\n", string(resp.Data))

	resp, err = c.Fetch(context.Background(), NewRangeRequest([]string{"file://" + path}, 1, 6))
	require.NoError(t, err)
	assert.Equal(t, "EXTM3U", string(resp.Data))
}

func TestClient_FetchData(t *testing.T) {
	c := newTestClient()
	resp, err := c.Fetch(context.Background(), NewRequest("data:text/plain;base64,aGVsbG8="))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(resp.Data))
	assert.Equal(t, "text/plain", resp.Headers.Get("Content-Type"))

	head := NewRequest("data:video/mp2t;base64,AAAA")
	head.Method = http.MethodHead
	resp, err = c.Fetch(context.Background(), head)
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
	assert.Equal(t, "video/mp2t", resp.Headers.Get("Content-Type"))
}

func TestParseDataURI(t *testing.T) {
	tests := []struct {
		name      string
		uri       string
		mediaType string
		data      string
		wantErr   bool
	}{
		{"base64", "data:application/octet-stream;base64,AAECAw==", "application/octet-stream", "\x00\x01\x02\x03", false},
		{"unpadded base64", "data:;base64,AAECAw", "text/plain", "\x00\x01\x02\x03", false},
		{"percent encoded", "data:text/plain,a%20b", "text/plain", "a b", false},
		{"no comma", "data:text/plain;base64", "", "", true},
		{"wrong scheme", "http://example.com", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDataURI(tt.uri)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDataURI)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mediaType, d.MediaType)
			assert.Equal(t, []byte(tt.data), d.Data)
		})
	}
}

func TestFetcherFunc(t *testing.T) {
	var f Fetcher = FetcherFunc(func(ctx context.Context, req Request) (*Response, error) {
		return &Response{URI: req.URIs[0], Data: []byte("x")}, nil
	})
	resp, err := f.Fetch(context.Background(), NewRequest("mem://a"))
	require.NoError(t, err)
	assert.Equal(t, "mem://a", resp.URI)
}
