package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/apilens/internal/conformance"
	"github.com/raysh454/apilens/internal/model"
	"github.com/raysh454/apilens/internal/pipeline"
	"github.com/raysh454/apilens/internal/reference"
	"github.com/raysh454/apilens/internal/report"
	"github.com/raysh454/apilens/internal/server"
	"github.com/raysh454/apilens/internal/testutil"
)

func newTestExtractor() *testutil.DummyExtractor {
	return &testutil.DummyExtractor{Services: map[string]testutil.ServiceFixture{
		"/src/orders": {
			Name:      "orders",
			Endpoints: []model.ExposedEndpoint{{Method: "POST", Path: "/orders", HandlerName: "create"}},
		},
	}}
}

func newTestParser() *testutil.DummyParser {
	return &testutil.DummyParser{Docs: map[string]reference.Content{
		"/docs/orders.md": {Service: "orders", ExposedAPIs: []string{"POST /orders"}},
	}}
}

func newTestServer(t *testing.T, ext *testutil.DummyExtractor) (*server.Server, *pipeline.Pipeline) {
	t.Helper()
	if ext == nil {
		ext = newTestExtractor()
	}
	logger := &testutil.DummyLogger{}
	p, err := pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{
		Store:      pipeline.NewMemoryStore(),
		Extractor:  ext,
		Parser:     newTestParser(),
		Comparator: conformance.NewComparator(conformance.DefaultOptions()),
		Logger:     logger,
	})
	require.NoError(t, err, "pipeline.New")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})

	s, err := server.NewServer(server.Config{ListenAddr: ":0"}, p, logger)
	require.NoError(t, err, "NewServer")
	return s, p
}

func doJSON(t *testing.T, s http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v), "decode JSON response (body: %s)", rec.Body.String())
}

func submit(t *testing.T, s http.Handler) string {
	t.Helper()
	rec := doJSON(t, s, "POST", "/analyses", `{"projects":["/src/orders"],"references":["/docs/orders.md"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp server.SubmitResponse
	decodeJSON(t, rec, &resp)
	require.NotEmpty(t, resp.AnalysisID)
	return resp.AnalysisID
}

func waitDone(t *testing.T, p *pipeline.Pipeline, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := p.Status(context.Background(), id); st.Terminal() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.FailNowf(t, "timeout", "job %s did not finish", id)
}

// ─── Construction ──────────────────────────────────────────────────────

func TestNewServer_RequiresAnalyses(t *testing.T) {
	t.Parallel()
	_, err := server.NewServer(server.DefaultConfig(), nil, nil)
	require.Error(t, err)
}

// ─── CORS ──────────────────────────────────────────────────────────────

func TestServer_CORS_HeaderPresent(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	rec := doJSON(t, s, "GET", "/analyses", "")

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_OptionsPreflight(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	rec := doJSON(t, s, "OPTIONS", "/analyses", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
}

// ─── Submit ────────────────────────────────────────────────────────────

func TestServer_Submit_InvalidJSON(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	rec := doJSON(t, s, "POST", "/analyses", `{invalid}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Submit_NoProjects(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	rec := doJSON(t, s, "POST", "/analyses", `{"projects":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Submit_AfterClose(t *testing.T) {
	t.Parallel()
	s, p := newTestServer(t, nil)
	_ = p.Close(context.Background())

	rec := doJSON(t, s, "POST", "/analyses", `{"projects":["/src/orders"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ─── Status and result ─────────────────────────────────────────────────

func TestServer_StatusAndResult_Lifecycle(t *testing.T) {
	t.Parallel()
	ext := newTestExtractor()
	ext.Gate = make(chan struct{})
	s, p := newTestServer(t, ext)

	id := submit(t, s)

	rec := doJSON(t, s, "GET", "/analyses/"+id+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st server.StatusResponse
	decodeJSON(t, rec, &st)
	require.False(t, st.Status.Terminal())
	require.NotEqual(t, pipeline.StatusNotFound, st.Status)

	rec = doJSON(t, s, "GET", "/analyses/"+id+"/result", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	close(ext.Gate)
	waitDone(t, p, id)

	rec = doJSON(t, s, "GET", "/analyses/"+id+"/result", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res report.AnalysisResult
	decodeJSON(t, rec, &res)
	require.Equal(t, id, res.AnalysisID)
	require.Len(t, res.Services, 1)
	require.EqualValues(t, 1.0, res.Services[0].Comparison.OverallScore)
}

func TestServer_Result_Failed(t *testing.T) {
	t.Parallel()
	s, p := newTestServer(t, nil)

	rec := doJSON(t, s, "POST", "/analyses", `{"projects":["/src/missing"]}`)
	var resp server.SubmitResponse
	decodeJSON(t, rec, &resp)
	waitDone(t, p, resp.AnalysisID)

	rec = doJSON(t, s, "GET", "/analyses/"+resp.AnalysisID+"/result", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var failed server.FailedResponse
	decodeJSON(t, rec, &failed)
	require.Equal(t, pipeline.KindExtractionFailed, failed.Error.Kind)
	require.Equal(t, "/src/missing", failed.Error.Path)
}

func TestServer_UnknownID(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	for _, path := range []string{"/analyses/nope/status", "/analyses/nope/result"} {
		rec := doJSON(t, s, "GET", path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		var st server.StatusResponse
		decodeJSON(t, rec, &st)
		assert.Equal(t, pipeline.StatusNotFound, st.Status)
	}

	rec := doJSON(t, s, "DELETE", "/analyses/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ─── Listing and eviction ──────────────────────────────────────────────

func TestServer_ListAndEvict(t *testing.T) {
	t.Parallel()
	s, p := newTestServer(t, nil)

	rec := doJSON(t, s, "GET", "/analyses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	id := submit(t, s)
	waitDone(t, p, id)

	rec = doJSON(t, s, "GET", "/analyses", "")
	var jobs []server.JobSummary
	decodeJSON(t, rec, &jobs)
	require.Len(t, jobs, 1)
	require.Equal(t, id, jobs[0].AnalysisID)
	require.Equal(t, pipeline.StatusCompleted, jobs[0].Status)

	rec = doJSON(t, s, "DELETE", "/analyses/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, s, "GET", "/analyses/"+id+"/status", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// ─── WebSocket ─────────────────────────────────────────────────────────

func TestServer_EventsWS_StreamsUntilTerminal(t *testing.T) {
	t.Parallel()
	ext := newTestExtractor()
	ext.Gate = make(chan struct{})
	s, _ := newTestServer(t, ext)
	ts := httptest.NewServer(s)
	defer ts.Close()

	id := submit(t, s)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/analyses/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "dial")
	defer conn.Close()
	close(ext.Gate)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var seen []pipeline.Status
	for {
		var ev pipeline.Event
		if err := conn.ReadJSON(&ev); err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "read (saw %v)", seen)
			break
		}
		require.Equal(t, id, ev.AnalysisID, "event for wrong job: %+v", ev)
		seen = append(seen, ev.Status)
	}
	require.NotEmpty(t, seen)
	require.Equal(t, pipeline.StatusCompleted, seen[len(seen)-1], "stream ended with %v", seen)
}

func TestServer_EventsWS_UnknownID(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/analyses/nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
