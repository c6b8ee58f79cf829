// Package pipeline drives analysis jobs through their state machine:
// extraction, diagram generation, link resolution and comparison, and report
// assembly. Each job runs in its own goroutine and publishes every
// transition to a JobStore as an immutable snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/apilens/internal/conformance"
	"github.com/raysh454/apilens/internal/diagram"
	"github.com/raysh454/apilens/internal/extractor"
	"github.com/raysh454/apilens/internal/logging"
	"github.com/raysh454/apilens/internal/model"
	"github.com/raysh454/apilens/internal/reference"
	"github.com/raysh454/apilens/internal/report"
)

// Config tunes a Pipeline.
type Config struct {
	// MaxConcurrency bounds concurrent extraction and parsing inside one job.
	MaxConcurrency int `yaml:"max_concurrency"`
	// EventBuffer is the channel size handed to each subscriber.
	EventBuffer int `yaml:"event_buffer"`
}

func DefaultConfig() Config {
	return Config{MaxConcurrency: 4, EventBuffer: 16}
}

// DiagramGenerator produces diagram text for one service.
type DiagramGenerator interface {
	Generate(ctx context.Context, s model.Surface) (diagram.Diagrams, error)
}

// QualityAnalyzer is an external static-analysis collaborator. Its metrics
// are passed into the report untouched.
type QualityAnalyzer interface {
	Analyze(ctx context.Context, projectPath string) (report.QualityMetrics, error)
}

// Deps are the collaborators of a Pipeline. Store, Extractor, Parser and
// Comparator are required.
type Deps struct {
	Store      JobStore
	Extractor  extractor.Extractor
	Parser     reference.Parser
	Comparator *conformance.Comparator
	Diagrams   DiagramGenerator
	Renderer   diagram.Renderer
	Quality    QualityAnalyzer
	Logger     logging.Logger

	Now   func() time.Time
	NewID func() string
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger logging.Logger
	events *broker

	wg     sync.WaitGroup
	mu     sync.Mutex // guards closed against wg.Add
	closed atomic.Bool
}

func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case deps.Parser == nil:
		return nil, errors.New("pipeline: reference parser is required")
	case deps.Comparator == nil:
		return nil, errors.New("pipeline: comparator is required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	if deps.Diagrams == nil {
		deps.Diagrams = &diagram.MermaidGenerator{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop{}
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return uuid.New().String() }
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With(logging.Field{Key: "component", Value: "pipeline"}),
		events: newBroker(cfg.EventBuffer),
	}, nil
}

// Submit creates a job in SUBMITTED and starts it. The returned id is
// immediately visible to Status. The job runs to a terminal state
// regardless of ctx being cancelled afterwards.
func (p *Pipeline) Submit(ctx context.Context, projects, references []string) (string, error) {
	if err := validatePaths(projects, references); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return "", ErrClosed
	}

	job := newJob(p.deps.NewID(), projects, references, p.deps.Now())
	if err := p.deps.Store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	p.logger.Info("job submitted",
		logging.Field{Key: "analysis_id", Value: job.ID},
		logging.Field{Key: "projects", Value: len(projects)},
		logging.Field{Key: "references", Value: len(references)})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(context.WithoutCancel(ctx), job)
	}()
	return job.ID, nil
}

func validatePaths(projects, references []string) error {
	if len(projects) == 0 {
		return fmt.Errorf("%w: at least one project is required", ErrInvalidRequest)
	}
	for _, list := range [][]string{projects, references} {
		for _, p := range list {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("%w: empty path", ErrInvalidRequest)
			}
		}
	}
	return nil
}

// Status returns the job's current status, or StatusNotFound.
func (p *Pipeline) Status(ctx context.Context, id string) (Status, error) {
	job, err := p.deps.Store.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		return StatusNotFound, nil
	}
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// OutcomeKind enumerates the mutually exclusive answers of Result.
type OutcomeKind string

const (
	OutcomeReady    OutcomeKind = "READY"
	OutcomePending  OutcomeKind = "PENDING"
	OutcomeFailed   OutcomeKind = "FAILED"
	OutcomeNotFound OutcomeKind = "NOT_FOUND"
)

// Outcome answers a result query. Result is set only for READY, Error only
// for FAILED.
type Outcome struct {
	Kind   OutcomeKind            `json:"kind"`
	Status Status                 `json:"status"`
	Result *report.AnalysisResult `json:"result,omitempty"`
	Error  *ErrorDetail           `json:"error,omitempty"`
}

// Result returns the finished result, the failure detail, or the status of a
// job still in progress. A READY result is a private copy.
func (p *Pipeline) Result(ctx context.Context, id string) (Outcome, error) {
	job, err := p.deps.Store.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		return Outcome{Kind: OutcomeNotFound, Status: StatusNotFound}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	switch job.Status {
	case StatusCompleted:
		return Outcome{Kind: OutcomeReady, Status: job.Status, Result: job.Result.Clone()}, nil
	case StatusError:
		detail := ErrorDetail{Message: "unknown failure"}
		if job.Error != nil {
			detail = *job.Error
		}
		return Outcome{Kind: OutcomeFailed, Status: job.Status, Error: &detail}, nil
	}
	return Outcome{Kind: OutcomePending, Status: job.Status}, nil
}

// Job returns a private copy of the current snapshot.
func (p *Pipeline) Job(ctx context.Context, id string) (*Job, error) {
	job, err := p.deps.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// List returns copies of every job, oldest first.
func (p *Pipeline) List(ctx context.Context) ([]*Job, error) {
	jobs, err := p.deps.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Job, len(jobs))
	for i, j := range jobs {
		out[i] = j.Clone()
	}
	return out, nil
}

// Subscribe streams the job's events, starting with its current status. The
// channel is closed at a terminal state, on eviction, or by cancel.
func (p *Pipeline) Subscribe(ctx context.Context, id string) (<-chan Event, func(), error) {
	return p.events.subscribe(id, func() (*Job, error) {
		return p.deps.Store.Get(ctx, id)
	})
}

// Abort moves a non-terminal job to ERROR, provided it is still at version,
// the snapshot the caller based its decision on; otherwise it returns
// ErrConflict. It is how an external supervisor imposes timeouts; the job's
// own runner loses its next publish and stops.
func (p *Pipeline) Abort(ctx context.Context, id string, version int64, detail ErrorDetail) error {
	cur, err := p.deps.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur.Version != version {
		return fmt.Errorf("%w: job %s is at version %d (%s), not %d", ErrConflict, id, cur.Version, cur.Status, version)
	}
	next, err := cur.failed(detail, p.deps.Now())
	if err != nil {
		return err
	}
	if err := p.deps.Store.Publish(ctx, next); err != nil {
		return err
	}
	p.logger.Warn("job aborted",
		logging.Field{Key: "analysis_id", Value: id},
		logging.Field{Key: "from", Value: string(cur.Status)},
		logging.Field{Key: "error", Value: detail.String()})
	p.events.publish(eventFor(next))
	return nil
}

// Evict removes a job from the store. Retention is an external policy; the
// pipeline never evicts on its own.
func (p *Pipeline) Evict(ctx context.Context, id string) error {
	if err := p.deps.Store.Delete(ctx, id); err != nil {
		return err
	}
	p.events.close(id)
	p.logger.Debug("job evicted", logging.Field{Key: "analysis_id", Value: id})
	return nil
}

// Close stops accepting submissions and waits for running jobs to reach a
// terminal state, or for ctx to end.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed.Store(true)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
