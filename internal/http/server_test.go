package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsindex/internal/config"
	"github.com/jmylchreest/hlsindex/internal/http/handlers"
	"github.com/jmylchreest/hlsindex/internal/http/middleware"
	"github.com/jmylchreest/hlsindex/internal/observability"
	"github.com/jmylchreest/hlsindex/internal/service"
	"github.com/jmylchreest/hlsindex/internal/testutil"
)

const masterURL = "https://cdn.test/hls/master.m3u8"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	o := testutil.NewOrigin()
	o.SetString(masterURL, "#EXTM3U\n"+
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,CODECS=\"avc1.4d001f\"\n"+
		"video.m3u8\n")
	o.Set("https://cdn.test/hls/v0.ts", testutil.TSSegment(0, 2))
	o.SetString("https://cdn.test/hls/video.m3u8", testutil.MediaPlaylist{
		TargetDuration: 6, Segments: []string{"v0.ts"}, Duration: 6, EndList: true,
	}.String())

	svc := service.NewPresentationService(o, config.Default().Manifest, 0).
		WithLogger(observability.Discard())
	t.Cleanup(svc.Close)

	srv := NewServer(DefaultServerConfig(), observability.Discard(), "test")
	handlers.NewHealthHandler("test").WithSessions(svc).Register(srv.API())
	handlers.NewPresentationHandler(svc).WithLogger(observability.Discard()).Register(srv.API())
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_PresentationRoutes(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/presentations", `{"url":"`+masterURL+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "VOD", created["presentationType"])
	assert.Contains(t, created, "timeline")
	assert.Contains(t, created, "variants")

	rec = do(t, srv, http.MethodGet, "/api/v1/presentations/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	variants := created["variants"].([]any)
	video := variants[0].(map[string]any)["video"].(map[string]any)
	streamID := int64(video["id"].(float64))

	rec = do(t, srv, http.MethodGet,
		"/api/v1/presentations/"+id+"/streams/"+jsonInt(streamID)+"/segments?time=1.5", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var seg struct {
		Segment struct {
			StartTime float64  `json:"startTime"`
			EndTime   float64  `json:"endTime"`
			URIs      []string `json:"uris"`
		} `json:"segment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &seg))
	assert.Equal(t, 0.0, seg.Segment.StartTime)
	assert.Equal(t, 6.0, seg.Segment.EndTime)
	assert.Equal(t, []string{"https://cdn.test/hls/v0.ts"}, seg.Segment.URIs)

	rec = do(t, srv, http.MethodDelete, "/api/v1/presentations/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/presentations/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Validation(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/presentations", `{"url":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/presentations/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body handlers.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "test", body.Version)

	rec = do(t, srv, http.MethodGet, "/openapi.json", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hlsindex API")
}

func TestServerConfigFrom(t *testing.T) {
	cfg := ServerConfigFrom(config.ServerConfig{
		Host:        "127.0.0.1",
		Port:        9090,
		ReadTimeout: 5 * time.Second,
		CORSOrigins: []string{"https://ui.test"},
	})
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, []string{"https://ui.test"}, cfg.CORSOrigins)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
