package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/apilens/internal/conformance"
	"github.com/raysh454/apilens/internal/diagram"
	"github.com/raysh454/apilens/internal/model"
	"github.com/raysh454/apilens/internal/pipeline"
	"github.com/raysh454/apilens/internal/reference"
	"github.com/raysh454/apilens/internal/testutil"
)

var now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// fakeJobs records Abort and Evict calls against a fixed job list.
type fakeJobs struct {
	mu       sync.Mutex
	jobs     []*pipeline.Job
	listErr  error
	abortErr map[string]error
	aborted  map[string]pipeline.ErrorDetail
	evicted  []string
}

func (f *fakeJobs) List(context.Context) ([]*pipeline.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs, f.listErr
}

func (f *fakeJobs) Abort(_ context.Context, id string, _ int64, d pipeline.ErrorDetail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.abortErr[id]; err != nil {
		return err
	}
	if f.aborted == nil {
		f.aborted = map[string]pipeline.ErrorDetail{}
	}
	f.aborted[id] = d
	return nil
}

func (f *fakeJobs) Evict(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, id)
	return nil
}

func (f *fakeJobs) evictedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.evicted...)
}

func job(id string, st pipeline.Status, age time.Duration) *pipeline.Job {
	return &pipeline.Job{ID: id, Status: st, Version: 2, CreatedAt: now.Add(-age), UpdatedAt: now.Add(-age)}
}

// ─── Janitor ───────────────────────────────────────────────────────────

func TestJanitor_EvictsOnlyExpiredTerminalJobs(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobs{jobs: []*pipeline.Job{
		job("old-done", pipeline.StatusCompleted, 2*time.Hour),
		job("old-failed", pipeline.StatusError, 90*time.Minute),
		job("fresh-done", pipeline.StatusCompleted, time.Minute),
		job("old-running", pipeline.StatusComparingResults, 3*time.Hour),
	}}
	j := NewJanitor(jobs, time.Hour, &testutil.DummyLogger{})
	j.now = func() time.Time { return now }

	n, err := j.Sweep(context.Background())
	require.NoError(t, err, "Sweep")
	got := jobs.evictedIDs()
	require.EqualValues(t, 2, n)
	require.Len(t, got, 2)
	require.Equal(t, "old-done", got[0])
	require.Equal(t, "old-failed", got[1])
}

func TestJanitor_ZeroTTLKeepsEverything(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobs{jobs: []*pipeline.Job{job("a", pipeline.StatusCompleted, 24*time.Hour)}}
	n, err := NewJanitor(jobs, 0, nil).Sweep(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
	require.Len(t, jobs.evictedIDs(), 0)
}

func TestJanitor_ListError(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobs{listErr: errors.New("disk gone")}
	_, err := NewJanitor(jobs, time.Hour, nil).Sweep(context.Background())
	require.Error(t, err)
}

// ─── Watchdog ──────────────────────────────────────────────────────────

func TestWatchdog_AbortsStuckStages(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobs{jobs: []*pipeline.Job{
		job("stuck-parse", pipeline.StatusParsingFiles, 10*time.Minute),
		job("stuck-compare", pipeline.StatusComparingResults, 10*time.Minute),
		job("slow-uml", pipeline.StatusGeneratingUML, 10*time.Minute),
		job("young", pipeline.StatusParsingFiles, time.Second),
		job("done", pipeline.StatusCompleted, time.Hour),
	}}
	w := NewWatchdog(jobs, 5*time.Minute, &testutil.DummyLogger{})
	w.now = func() time.Time { return now }

	n, err := w.Sweep(context.Background())
	require.NoError(t, err, "Sweep")
	require.EqualValues(t, 2, n)
	for _, id := range []string{"stuck-parse", "stuck-compare"} {
		d, ok := jobs.aborted[id]
		assert.True(t, ok)
		assert.Equal(t, pipeline.KindTimeout, d.Kind)
	}
}

func TestWatchdog_IgnoresJobsThatMovedOn(t *testing.T) {
	t.Parallel()
	logger := &testutil.DummyLogger{}
	jobs := &fakeJobs{
		jobs: []*pipeline.Job{
			job("raced", pipeline.StatusParsingFiles, time.Hour),
			job("gone", pipeline.StatusParsingFiles, time.Hour),
			job("broken", pipeline.StatusParsingFiles, time.Hour),
		},
		abortErr: map[string]error{
			"raced":  pipeline.ErrConflict,
			"gone":   pipeline.ErrJobNotFound,
			"broken": errors.New("store offline"),
		},
	}
	w := NewWatchdog(jobs, time.Minute, logger)
	w.now = func() time.Time { return now }

	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
	require.Len(t, logger.Warns, 1)
	require.True(t, logger.Warned("abort failed"))
}

func TestWatchdog_AbortsRealPipelineJob(t *testing.T) {
	t.Parallel()
	ext := &testutil.DummyExtractor{Gate: make(chan struct{})}
	p, err := pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{
		Store:      pipeline.NewMemoryStore(),
		Extractor:  ext,
		Parser:     &testutil.DummyParser{},
		Comparator: conformance.NewComparator(conformance.DefaultOptions()),
		Logger:     &testutil.DummyLogger{},
	})
	require.NoError(t, err, "pipeline.New")
	ctx := context.Background()
	id, err := p.Submit(ctx, []string{"/src/a.zip"}, nil)
	require.NoError(t, err, "Submit")
	waitStatus(t, p, id, pipeline.StatusParsingFiles)

	w := NewWatchdog(p, time.Minute, nil)
	w.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	n, err := w.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "expected 1 abort")
	close(ext.Gate)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, p.Close(closeCtx), "Close")
	out, _ := p.Result(ctx, id)
	require.Equal(t, pipeline.OutcomeFailed, out.Kind)
	require.Equal(t, pipeline.KindTimeout, out.Error.Kind)

	j := NewJanitor(p, time.Minute, nil)
	j.now = w.now
	n, err = j.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "expected 1 eviction")
	st, _ := p.Status(ctx, id)
	require.Equal(t, pipeline.StatusNotFound, st)
}

// gatedDiagrams holds a job in GENERATING_UML until release is closed.
type gatedDiagrams struct {
	release chan struct{}
}

func (g gatedDiagrams) Generate(ctx context.Context, s model.Surface) (diagram.Diagrams, error) {
	select {
	case <-g.release:
		return diagram.Diagrams{Service: s.Name()}, nil
	case <-ctx.Done():
		return diagram.Diagrams{}, ctx.Err()
	}
}

// advancingJobs lets the job leave PARSING_FILES between the watchdog's
// List and its Abort.
type advancingJobs struct {
	*pipeline.Pipeline
	t        *testing.T
	gate     chan struct{}
	abortErr error
}

func (a *advancingJobs) Abort(ctx context.Context, id string, version int64, d pipeline.ErrorDetail) error {
	close(a.gate)
	waitStatus(a.t, a.Pipeline, id, pipeline.StatusGeneratingUML)
	a.abortErr = a.Pipeline.Abort(ctx, id, version, d)
	return a.abortErr
}

func TestWatchdog_LeavesJobThatAdvancedAfterList(t *testing.T) {
	t.Parallel()
	ext := &testutil.DummyExtractor{
		Services: map[string]testutil.ServiceFixture{"/src/a.zip": {Name: "a"}},
		Gate:     make(chan struct{}),
	}
	uml := gatedDiagrams{release: make(chan struct{})}
	logger := &testutil.DummyLogger{}
	p, err := pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{
		Store:      pipeline.NewMemoryStore(),
		Extractor:  ext,
		Parser:     &testutil.DummyParser{Docs: map[string]reference.Content{"/docs/a.md": {}}},
		Comparator: conformance.NewComparator(conformance.DefaultOptions()),
		Diagrams:   uml,
		Logger:     logger,
	})
	require.NoError(t, err, "pipeline.New")
	ctx := context.Background()
	id, err := p.Submit(ctx, []string{"/src/a.zip"}, []string{"/docs/a.md"})
	require.NoError(t, err, "Submit")
	waitStatus(t, p, id, pipeline.StatusParsingFiles)

	jobs := &advancingJobs{Pipeline: p, t: t, gate: ext.Gate}
	w := NewWatchdog(jobs, time.Minute, logger)
	w.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	n, err := w.Sweep(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
	require.ErrorIs(t, jobs.abortErr, pipeline.ErrConflict)
	require.False(t, logger.Warned("abort failed"), "a lost race is not a failure")
	close(uml.release)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, p.Close(closeCtx), "Close")
	st, _ := p.Status(ctx, id)
	require.Equal(t, pipeline.StatusCompleted, st)
}

func waitStatus(t *testing.T, p *pipeline.Pipeline, id string, want pipeline.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := p.Status(context.Background(), id); st == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.FailNowf(t, "timeout", "job %s never reached %s", id, want)
}

// ─── Lifecycle ─────────────────────────────────────────────────────────

func TestSupervisor_StartSweepsAndStops(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobs{jobs: []*pipeline.Job{job("ancient", pipeline.StatusCompleted, 48*time.Hour)}}
	s := New(Config{JobTTL: time.Hour, SweepInterval: 10 * time.Millisecond}, jobs, &testutil.DummyLogger{})

	require.NoError(t, s.Start(context.Background()), "Start")
	require.Error(t, s.Start(context.Background()))

	deadline := time.Now().Add(5 * time.Second)
	for len(jobs.evictedIDs()) == 0 {
		require.False(t, time.Now().After(deadline), "janitor never ran")
		time.Sleep(2 * time.Millisecond)
	}
	s.Stop()
	s.Stop()
}
