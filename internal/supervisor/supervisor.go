// Package supervisor applies retention and timeout policy to analysis jobs
// from outside the pipeline. Both loops act only through the pipeline's
// Abort and Evict, so a job's own runner notices on its next publish.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raysh454/apilens/internal/logging"
	"github.com/raysh454/apilens/internal/pipeline"
)

// Config is the retention section of the application config.
type Config struct {
	// JobTTL is how long a terminal job stays queryable.
	JobTTL time.Duration `yaml:"job_ttl"`
	// SweepInterval is the period of both loops.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// StageTimeout bounds PARSING_FILES and COMPARING_RESULTS. Zero disables
	// the watchdog.
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

func DefaultConfig() Config {
	return Config{JobTTL: time.Hour, SweepInterval: time.Minute}
}

// Jobs is the part of the pipeline a supervisor needs.
type Jobs interface {
	List(ctx context.Context) ([]*pipeline.Job, error)
	Abort(ctx context.Context, id string, version int64, detail pipeline.ErrorDetail) error
	Evict(ctx context.Context, id string) error
}

var _ Jobs = (*pipeline.Pipeline)(nil)

// ─── Janitor ───

// Janitor evicts terminal jobs older than the TTL.
type Janitor struct {
	jobs   Jobs
	ttl    time.Duration
	logger logging.Logger
	now    func() time.Time
}

func NewJanitor(jobs Jobs, ttl time.Duration, logger logging.Logger) *Janitor {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Janitor{
		jobs:   jobs,
		ttl:    ttl,
		logger: logger.With(logging.Field{Key: "component", Value: "janitor"}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sweep evicts every expired terminal job and returns how many went.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	if j.ttl <= 0 {
		return 0, nil
	}
	list, err := j.jobs.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	cutoff := j.now().Add(-j.ttl)
	n := 0
	for _, job := range list {
		if !job.Status.Terminal() || job.UpdatedAt.After(cutoff) {
			continue
		}
		if err := j.jobs.Evict(ctx, job.ID); err != nil {
			if errors.Is(err, pipeline.ErrJobNotFound) {
				continue
			}
			j.logger.Warn("evict failed",
				logging.Field{Key: "analysis_id", Value: job.ID},
				logging.Field{Key: "error", Value: err})
			continue
		}
		n++
	}
	if n > 0 {
		j.logger.Info("expired jobs evicted", logging.Field{Key: "count", Value: n})
	}
	return n, nil
}

// ─── Watchdog ───

// Watchdog fails jobs that stay in a long-running stage past the timeout.
type Watchdog struct {
	jobs    Jobs
	timeout time.Duration
	logger  logging.Logger
	now     func() time.Time
}

func NewWatchdog(jobs Jobs, timeout time.Duration, logger logging.Logger) *Watchdog {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Watchdog{
		jobs:    jobs,
		timeout: timeout,
		logger:  logger.With(logging.Field{Key: "component", Value: "watchdog"}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func watched(s pipeline.Status) bool {
	return s == pipeline.StatusParsingFiles || s == pipeline.StatusComparingResults
}

// Sweep aborts every job stuck in a watched stage and returns how many.
// Aborts are conditional on the listed version, so a job that moved on
// between List and Abort is left alone.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	if w.timeout <= 0 {
		return 0, nil
	}
	list, err := w.jobs.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	now := w.now()
	n := 0
	for _, job := range list {
		if !watched(job.Status) {
			continue
		}
		age := now.Sub(job.UpdatedAt)
		if age <= w.timeout {
			continue
		}
		detail := pipeline.ErrorDetail{
			Kind:    pipeline.KindTimeout,
			Message: fmt.Sprintf("%s exceeded %s", job.Status, w.timeout),
		}
		err := w.jobs.Abort(ctx, job.ID, job.Version, detail)
		var te *pipeline.TransitionError
		switch {
		case err == nil:
			n++
			w.logger.Warn("stage timeout",
				logging.Field{Key: "analysis_id", Value: job.ID},
				logging.Field{Key: "status", Value: string(job.Status)},
				logging.Field{Key: "age", Value: age.String()})
		case errors.Is(err, pipeline.ErrConflict), errors.Is(err, pipeline.ErrJobNotFound), errors.As(err, &te):
			// the job moved on
		default:
			w.logger.Warn("abort failed",
				logging.Field{Key: "analysis_id", Value: job.ID},
				logging.Field{Key: "error", Value: err})
		}
	}
	return n, nil
}

// ─── Lifecycle ───

// Supervisor runs the janitor and the watchdog on a shared ticker.
type Supervisor struct {
	cfg      Config
	janitor  *Janitor
	watchdog *Watchdog
	logger   logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, jobs Jobs, logger logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.Nop{}
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Supervisor{
		cfg:      cfg,
		janitor:  NewJanitor(jobs, cfg.JobTTL, logger),
		watchdog: NewWatchdog(jobs, cfg.StageTimeout, logger),
		logger:   logger.With(logging.Field{Key: "component", Value: "supervisor"}),
	}
}

// Start launches the loop. It runs one sweep immediately.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("supervisor already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)

	s.logger.Info("supervisor started",
		logging.Field{Key: "sweep_interval", Value: s.cfg.SweepInterval.String()},
		logging.Field{Key: "job_ttl", Value: s.cfg.JobTTL.String()},
		logging.Field{Key: "stage_timeout", Value: s.cfg.StageTimeout.String()})
	return nil
}

func (s *Supervisor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Supervisor) sweep(ctx context.Context) {
	if _, err := s.watchdog.Sweep(ctx); err != nil {
		s.logger.Error("watchdog sweep failed", logging.Field{Key: "error", Value: err})
	}
	if _, err := s.janitor.Sweep(ctx); err != nil {
		s.logger.Error("janitor sweep failed", logging.Field{Key: "error", Value: err})
	}
}

// Stop cancels the loop and waits for the current sweep to end.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("supervisor stopped")
}
