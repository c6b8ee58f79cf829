// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/raysh454/apilens/internal/diagram"
	"github.com/raysh454/apilens/internal/extractor"
	"github.com/raysh454/apilens/internal/logging"
	"github.com/raysh454/apilens/internal/model"
	"github.com/raysh454/apilens/internal/reference"
	"github.com/raysh454/apilens/internal/report"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// Warned reports whether msg was logged at warn level.
func (l *DummyLogger) Warned(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Contains(l.Warns, msg)
}

// ─── Extractor ─────────────────────────────────────────────────────────

// ServiceFixture describes the draft model a DummyExtractor returns for a path.
type ServiceFixture struct {
	Name      string
	BaseURL   string
	Endpoints []model.ExposedEndpoint
	Calls     []model.ExternalCall
}

// DummyExtractor implements extractor.Extractor from a fixed path table.
// Unknown paths fail with an *extractor.ExtractionError. When Gate is set,
// every call blocks until Gate is closed or ctx ends.
type DummyExtractor struct {
	Services map[string]ServiceFixture
	Fail     map[string]error
	Delay    time.Duration
	Gate     chan struct{}

	mu    sync.Mutex
	Calls []string
}

var _ extractor.Extractor = (*DummyExtractor)(nil)

func (d *DummyExtractor) Extract(ctx context.Context, path string) (*model.ServiceBuilder, error) {
	d.mu.Lock()
	d.Calls = append(d.Calls, path)
	d.mu.Unlock()

	if err := wait(ctx, d.Delay, d.Gate); err != nil {
		return nil, &extractor.ExtractionError{Path: path, Err: err}
	}
	if err, ok := d.Fail[path]; ok {
		return nil, &extractor.ExtractionError{Path: path, Err: err}
	}
	fx, ok := d.Services[path]
	if !ok {
		return nil, &extractor.ExtractionError{Path: path, Err: errors.New("no such project")}
	}
	b := model.NewServiceBuilder(fx.Name, fx.BaseURL)
	for _, e := range fx.Endpoints {
		if err := b.AddEndpoint(e); err != nil {
			return nil, &extractor.ExtractionError{Path: path, Err: err}
		}
	}
	for _, c := range fx.Calls {
		if err := b.AddCall(c); err != nil {
			return nil, &extractor.ExtractionError{Path: path, Err: err}
		}
	}
	return b, nil
}

// CallCount returns how many extractions were requested.
func (d *DummyExtractor) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

// ─── Reference parser ──────────────────────────────────────────────────

// DummyParser implements reference.Parser from a fixed path table.
type DummyParser struct {
	Docs  map[string]reference.Content
	Fail  map[string]error
	Delay time.Duration
}

var _ reference.Parser = (*DummyParser)(nil)

func (d *DummyParser) Parse(ctx context.Context, path string) (*reference.Model, error) {
	if err := wait(ctx, d.Delay, nil); err != nil {
		return nil, &reference.ParseError{Path: path, Err: err}
	}
	if err, ok := d.Fail[path]; ok {
		return nil, &reference.ParseError{Path: path, Err: err}
	}
	c, ok := d.Docs[path]
	if !ok {
		return nil, &reference.ParseError{Path: path, Err: errors.New("no such document")}
	}
	return reference.New(c), nil
}

// ─── Diagrams ──────────────────────────────────────────────────────────

// FailingDiagrams fails every generation with a *diagram.RenderError.
type FailingDiagrams struct{}

func (FailingDiagrams) Generate(_ context.Context, s model.Surface) (diagram.Diagrams, error) {
	return diagram.Diagrams{}, &diagram.RenderError{Service: s.Name(), Diagram: diagram.ClassDiagram, Err: errors.New("renderer unavailable")}
}

// StaticRenderer returns the same image for every diagram.
type StaticRenderer struct {
	Err error
}

func (r StaticRenderer) Render(_ context.Context, text string) (diagram.Image, error) {
	if r.Err != nil {
		return diagram.Image{}, r.Err
	}
	return diagram.Image{ContentType: "image/svg+xml", Data: []byte("<svg>" + text + "</svg>")}, nil
}

// ─── Quality ───────────────────────────────────────────────────────────

// DummyQuality returns Metrics[path], or Err for every path when set.
type DummyQuality struct {
	Metrics map[string]report.QualityMetrics
	Err     error
}

func (q *DummyQuality) Analyze(_ context.Context, path string) (report.QualityMetrics, error) {
	if q.Err != nil {
		return report.QualityMetrics{}, q.Err
	}
	return q.Metrics[path], nil
}

func wait(ctx context.Context, delay time.Duration, gate chan struct{}) error {
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
