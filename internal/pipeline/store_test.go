package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raysh454/apilens/internal/report"
	"github.com/raysh454/apilens/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "state", "jobs.db"), &testutil.DummyLogger{})
	require.NoError(t, err, "OpenSQLiteStore")
	t.Cleanup(func() { s.Close() })
	return s
}

// storeFactories runs the shared contract against every backend.
func storeFactories() map[string]func(t *testing.T) JobStore {
	return map[string]func(t *testing.T) JobStore{
		"memory": func(*testing.T) JobStore { return NewMemoryStore() },
		"sqlite": func(t *testing.T) JobStore { return newTestSQLiteStore(t) },
	}
}

// ─── Contract ──────────────────────────────────────────────────────────

func TestStore_CreateGetAndConflict(t *testing.T) {
	t.Parallel()
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := open(t)
			ctx := context.Background()

			job := newJob("a1", []string{"/src/books.zip"}, []string{"/docs/books.md"}, t0)
			require.NoError(t, s.Create(ctx, job), "Create")
			require.ErrorIs(t, s.Create(ctx, job), ErrConflict)

			got, err := s.Get(ctx, "a1")
			require.NoError(t, err, "Get")
			require.Equal(t, StatusSubmitted, got.Status)
			require.EqualValues(t, 1, got.Version)
			require.Len(t, got.Projects, 1)
			require.Equal(t, "/src/books.zip", got.Projects[0], "projects not stored: %v", got.Projects)
			require.True(t, got.CreatedAt.Equal(t0), "created_at %v", got.CreatedAt)

			_, err = s.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestStore_PublishIsCompareAndSwap(t *testing.T) {
	t.Parallel()
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := open(t)
			ctx := context.Background()

			v1 := newJob("a1", []string{"/p"}, nil, t0)
			require.NoError(t, s.Create(ctx, v1), "Create")
			v2, _ := v1.next(StatusParsingFiles, t0.Add(time.Second))
			require.NoError(t, s.Publish(ctx, v2), "Publish v2")

			// A second writer that also started from v1 loses.
			stale, _ := v1.failed(ErrorDetail{Kind: KindTimeout, Message: "late"}, t0.Add(2*time.Second))
			require.ErrorIs(t, s.Publish(ctx, stale), ErrConflict)

			got, _ := s.Get(ctx, "a1")
			require.Equal(t, StatusParsingFiles, got.Status)
			require.EqualValues(t, 2, got.Version)
			require.Nil(t, got.Error, "stale write leaked: %+v", got)

			orphan, _ := newJob("ghost", []string{"/p"}, nil, t0).next(StatusParsingFiles, t0)
			require.ErrorIs(t, s.Publish(ctx, orphan), ErrJobNotFound)
		})
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	t.Parallel()
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := open(t)
			ctx := context.Background()

			for i, id := range []string{"c", "a", "b"} {
				require.NoError(t, s.Create(ctx, newJob(id, []string{"/p"}, nil, t0.Add(time.Duration(i)*time.Second))), "Create %s", id)
			}
			jobs, err := s.List(ctx)
			require.NoError(t, err, "List")
			require.Len(t, jobs, 3)
			require.Equal(t, "c", jobs[0].ID)
			require.Equal(t, "a", jobs[1].ID)
			require.Equal(t, "b", jobs[2].ID)

			require.NoError(t, s.Delete(ctx, "a"), "Delete")
			require.ErrorIs(t, s.Delete(ctx, "a"), ErrJobNotFound)
			jobs, _ = s.List(ctx)
			require.Len(t, jobs, 2)
		})
	}
}

func ids(jobs []*Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

// ─── SQLite specifics ──────────────────────────────────────────────────

func TestSQLiteStore_PersistsResultAndError(t *testing.T) {
	t.Parallel()
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	job := newJob("done", []string{"/p"}, []string{"/r"}, t0)
	require.NoError(t, s.Create(ctx, job), "Create")
	cur := job
	for _, st := range []Status{StatusParsingFiles, StatusGeneratingUML, StatusComparingResults, StatusCompleted} {
		next, err := cur.next(st, t0)
		require.NoError(t, err, "next %s", st)
		if st == StatusGeneratingUML {
			next.Services = []string{"books"}
		}
		if st == StatusCompleted {
			next.Result = report.Assemble(report.Input{AnalysisID: "done", GeneratedAt: t0})
		}
		require.NoError(t, s.Publish(ctx, next), "Publish %s", st)
		cur = next
	}

	got, err := s.Get(ctx, "done")
	require.NoError(t, err, "Get")
	require.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	require.Equal(t, "done", got.Result.AnalysisID, "result not persisted: %+v", got)
	require.Len(t, got.Services, 1)
	require.Equal(t, "books", got.Services[0], "services not persisted: %v", got.Services)

	bad := newJob("bad", []string{"/p"}, nil, t0)
	_ = s.Create(ctx, bad)
	failed, _ := bad.failed(ErrorDetail{Kind: KindExtractionFailed, Path: "/p", Message: "boom"}, t0)
	require.NoError(t, s.Publish(ctx, failed), "Publish failed")
	got, _ = s.Get(ctx, "bad")
	require.NotNil(t, got.Error)
	require.Equal(t, KindExtractionFailed, got.Error.Kind)
	require.Equal(t, "/p", got.Error.Path, "error not persisted: %+v", got.Error)
}

func TestSQLiteStore_RecoverInterrupted(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.db")
	ctx := context.Background()

	s, err := OpenSQLiteStore(path, nil)
	require.NoError(t, err, "OpenSQLiteStore")
	running := newJob("running", []string{"/p"}, nil, t0)
	_ = s.Create(ctx, running)
	parsing, _ := running.next(StatusParsingFiles, t0)
	_ = s.Publish(ctx, parsing)

	finished := newJob("finished", []string{"/p"}, nil, t0)
	_ = s.Create(ctx, finished)
	ended, _ := finished.failed(ErrorDetail{Kind: KindParseFailed, Message: "x"}, t0)
	_ = s.Publish(ctx, ended)
	s.Close()

	logger := &testutil.DummyLogger{}
	s, err = OpenSQLiteStore(path, logger)
	require.NoError(t, err, "reopen")
	defer s.Close()

	n, err := s.RecoverInterrupted(ctx, t0.Add(time.Minute))
	require.NoError(t, err, "RecoverInterrupted")
	require.EqualValues(t, 1, n)
	got, _ := s.Get(ctx, "running")
	require.Equal(t, StatusError, got.Status)
	require.Equal(t, KindTimeout, got.Error.Kind)
	got, _ = s.Get(ctx, "finished")
	require.Equal(t, KindParseFailed, got.Error.Kind, "terminal job was rewritten: %+v", got.Error)
	require.True(t, logger.Warned("recovered interrupted job"))
}

func TestPipeline_RunsOnSQLiteStore(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, Deps{Store: newTestSQLiteStore(t)})
	ctx := context.Background()

	id, err := p.Submit(ctx, batchProjects, batchRefs)
	require.NoError(t, err, "Submit")
	job := waitTerminal(t, p, id)
	require.Equal(t, StatusCompleted, job.Status)
	out, _ := p.Result(ctx, id)
	require.Equal(t, OutcomeReady, out.Kind)
	require.Len(t, out.Result.Services, 2)
}
