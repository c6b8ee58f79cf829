package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raysh454/apilens/internal/client"
	"github.com/raysh454/apilens/internal/conformance"
	"github.com/raysh454/apilens/internal/model"
	"github.com/raysh454/apilens/internal/pipeline"
	"github.com/raysh454/apilens/internal/reference"
	"github.com/raysh454/apilens/internal/server"
	"github.com/raysh454/apilens/internal/testutil"
)

func newTestClient(t *testing.T, ext *testutil.DummyExtractor) *client.Client {
	t.Helper()
	logger := &testutil.DummyLogger{}
	p, err := pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{
		Store:     pipeline.NewMemoryStore(),
		Extractor: ext,
		Parser: &testutil.DummyParser{Docs: map[string]reference.Content{
			"/docs/inventory.md": {Service: "inventory", ExposedAPIs: []string{"GET /items/{sku}"}},
		}},
		Comparator: conformance.NewComparator(conformance.DefaultOptions()),
		Logger:     logger,
	})
	require.NoError(t, err, "pipeline.New")
	s, err := server.NewServer(server.DefaultConfig(), p, logger)
	require.NoError(t, err, "NewServer")
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return client.New(ts.URL+"/", ts.Client(), logger)
}

func inventoryExtractor() *testutil.DummyExtractor {
	return &testutil.DummyExtractor{Services: map[string]testutil.ServiceFixture{
		"/src/inventory": {
			Name:      "inventory",
			Endpoints: []model.ExposedEndpoint{{Method: "GET", Path: "/items/{sku}", HandlerName: "getItem"}},
		},
	}}
}

// ─── Round trip ────────────────────────────────────────────────────────

func TestClient_SubmitAndWait(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, inventoryExtractor())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := c.Submit(ctx, []string{"/src/inventory"}, []string{"/docs/inventory.md"})
	require.NoError(t, err, "Submit")
	res, err := c.WaitForResult(ctx, id, 5*time.Millisecond)
	require.NoError(t, err, "WaitForResult")
	require.Equal(t, id, res.AnalysisID)
	require.Len(t, res.Services, 1)
	require.Equal(t, "inventory", res.Services[0].Name)

	st, err := c.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusCompleted, st)

	jobs, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, id, jobs[0].AnalysisID)
}

func TestClient_PendingWhileRunning(t *testing.T) {
	t.Parallel()
	ext := inventoryExtractor()
	ext.Gate = make(chan struct{})
	c := newTestClient(t, ext)
	ctx := context.Background()

	id, err := c.Submit(ctx, []string{"/src/inventory"}, []string{"/docs/inventory.md"})
	require.NoError(t, err, "Submit")
	out, err := c.Result(ctx, id)
	require.NoError(t, err, "Result")
	require.Equal(t, pipeline.OutcomePending, out.Kind)
	require.False(t, out.Status.Terminal())
	close(ext.Gate)
}

// ─── Failures ──────────────────────────────────────────────────────────

func TestClient_WaitForResult_Failed(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, inventoryExtractor())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := c.Submit(ctx, []string{"/src/unknown"}, nil)
	require.NoError(t, err, "Submit")
	_, err = c.WaitForResult(ctx, id, 5*time.Millisecond)
	var failed *client.FailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, pipeline.KindExtractionFailed, failed.Detail.Kind)
}

func TestClient_UnknownID(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, inventoryExtractor())
	ctx := context.Background()

	st, err := c.Status(ctx, "nope")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusNotFound, st)
	_, err = c.WaitForResult(ctx, "nope", time.Millisecond)
	require.ErrorIs(t, err, pipeline.ErrJobNotFound)
}

func TestClient_SubmitRejected(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, inventoryExtractor())

	_, err := c.Submit(context.Background(), nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP 400")
}

func TestClient_WaitForResult_ContextDeadline(t *testing.T) {
	t.Parallel()
	ext := inventoryExtractor()
	ext.Gate = make(chan struct{})
	defer close(ext.Gate)
	c := newTestClient(t, ext)

	id, err := c.Submit(context.Background(), []string{"/src/inventory"}, nil)
	require.NoError(t, err, "Submit")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = c.WaitForResult(ctx, id, 5*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_ServerError(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"store offline"}`))
	}))
	defer ts.Close()

	c := client.New(ts.URL, nil, nil)
	_, err := c.Status(context.Background(), "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "store offline")
}
