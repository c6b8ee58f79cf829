package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/raysh454/apilens/internal/conformance"
	"github.com/raysh454/apilens/internal/diagram"
	"github.com/raysh454/apilens/internal/extractor"
	"github.com/raysh454/apilens/internal/linker"
	"github.com/raysh454/apilens/internal/logging"
	"github.com/raysh454/apilens/internal/model"
	"github.com/raysh454/apilens/internal/reference"
	"github.com/raysh454/apilens/internal/report"
)

// errSuperseded stops a runner whose job was published by someone else.
var errSuperseded = errors.New("job superseded")

// runner is the single writer of one job.
type runner struct {
	p      *Pipeline
	ctx    context.Context
	cur    *Job
	logger logging.Logger
}

// parsed is the joined output of the PARSING_FILES stage.
type parsed struct {
	builders []*model.ServiceBuilder
	refs     []*reference.Model
	quality  map[string]report.QualityMetrics
}

func (p *Pipeline) run(ctx context.Context, job *Job) {
	r := &runner{
		p:      p,
		ctx:    ctx,
		cur:    job,
		logger: p.logger.With(logging.Field{Key: "analysis_id", Value: job.ID}),
	}
	p.events.publish(eventFor(job))

	defer func() {
		if rec := recover(); rec != nil {
			stage := r.cur.Status
			r.logger.Error("job panicked",
				logging.Field{Key: "status", Value: string(stage)},
				logging.Field{Key: "panic", Value: fmt.Sprint(rec)})
			_ = r.fail(ErrorDetail{Kind: panicKind(stage), Message: fmt.Sprintf("internal error during %s: %v", stage, rec)})
		}
	}()

	if err := r.execute(); err != nil && !errors.Is(err, errSuperseded) {
		r.logger.Error("job stopped", logging.Field{Key: "error", Value: err})
	}
}

// panicKind attributes a runner panic to the stage it happened in.
func panicKind(stage Status) ErrorKind {
	switch stage {
	case StatusSubmitted, StatusParsingFiles:
		return KindExtractionFailed
	case StatusComparingResults:
		return KindComparisonInvariantViolation
	}
	return KindInternal
}

func (r *runner) execute() error {
	if err := r.advance(StatusParsingFiles, nil); err != nil {
		return err
	}
	in, detail := r.parse()
	if detail != nil {
		return r.fail(*detail)
	}

	names := make([]string, len(in.builders))
	for i, b := range in.builders {
		names[i] = b.Name()
	}
	if err := r.advance(StatusGeneratingUML, func(j *Job) { j.Services = names }); err != nil {
		return err
	}
	diagrams, images := r.generateDiagrams(in.builders)

	if err := r.advance(StatusComparingResults, nil); err != nil {
		return err
	}
	result, detail := r.compare(in, diagrams, images)
	if detail != nil {
		return r.fail(*detail)
	}

	return r.advance(StatusCompleted, func(j *Job) { j.Result = result })
}

// advance publishes the next status. ErrConflict means an external writer
// (a supervisor) got there first; the runner then stops.
func (r *runner) advance(to Status, mutate func(*Job)) error {
	next, err := r.cur.next(to, r.p.deps.Now())
	if err != nil {
		return err
	}
	if mutate != nil {
		mutate(next)
	}
	return r.publish(next)
}

func (r *runner) fail(detail ErrorDetail) error {
	next, err := r.cur.failed(detail, r.p.deps.Now())
	if err != nil {
		return err
	}
	r.logger.Warn("job failed", logging.Field{Key: "error", Value: detail.String()})
	return r.publish(next)
}

func (r *runner) publish(next *Job) error {
	if err := r.p.deps.Store.Publish(r.ctx, next); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrJobNotFound) {
			r.logger.Warn("job superseded",
				logging.Field{Key: "status", Value: string(next.Status)},
				logging.Field{Key: "error", Value: err})
			return errSuperseded
		}
		return fmt.Errorf("publish %s: %w", next.Status, err)
	}
	r.cur = next
	r.logger.Info("job transition", logging.Field{Key: "status", Value: string(next.Status)})
	r.p.events.publish(eventFor(next))
	return nil
}

// ─── PARSING_FILES ───

// parse extracts every project and parses every reference concurrently, and
// returns only after all of them finished. The first failure in input order
// (projects before references) decides the error detail.
func (r *runner) parse() (*parsed, *ErrorDetail) {
	projects, refPaths := r.cur.Projects, r.cur.References
	builders := make([]*model.ServiceBuilder, len(projects))
	projErrs := make([]error, len(projects))
	refs := make([]*reference.Model, len(refPaths))
	refErrs := make([]error, len(refPaths))
	metrics := make([]*report.QualityMetrics, len(projects))

	var g errgroup.Group
	g.SetLimit(r.p.cfg.MaxConcurrency)
	for i, path := range projects {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					builders[i], metrics[i] = nil, nil
					projErrs[i] = &extractor.ExtractionError{Path: path, Err: fmt.Errorf("panic: %v", rec)}
				}
			}()
			builders[i], projErrs[i] = r.p.deps.Extractor.Extract(r.ctx, path)
			if projErrs[i] == nil && r.p.deps.Quality != nil {
				q, err := r.p.deps.Quality.Analyze(r.ctx, path)
				if err != nil {
					r.logger.Warn("quality analysis failed",
						logging.Field{Key: "path", Value: path},
						logging.Field{Key: "error", Value: err})
				} else {
					metrics[i] = &q
				}
			}
			return nil
		})
	}
	for i, path := range refPaths {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					refs[i], refErrs[i] = nil, &reference.ParseError{Path: path, Err: fmt.Errorf("panic: %v", rec)}
				}
			}()
			refs[i], refErrs[i] = r.p.deps.Parser.Parse(r.ctx, path)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range projErrs {
		if err != nil {
			r.logger.Warn("extraction failed", logging.Field{Key: "path", Value: projects[i]}, logging.Field{Key: "error", Value: err})
			return nil, inputFailure(KindExtractionFailed, projects[i], err)
		}
	}
	for i, err := range refErrs {
		if err != nil {
			r.logger.Warn("reference parse failed", logging.Field{Key: "path", Value: refPaths[i]}, logging.Field{Key: "error", Value: err})
			return nil, inputFailure(KindParseFailed, refPaths[i], err)
		}
	}

	out := &parsed{builders: builders, refs: refs, quality: map[string]report.QualityMetrics{}}
	seen := map[string]string{}
	for i, b := range builders {
		if prev, dup := seen[b.Name()]; dup {
			return nil, &ErrorDetail{
				Kind:    KindDuplicateIdentity,
				Path:    projects[i],
				Service: b.Name(),
				Message: fmt.Sprintf("service %q is also extracted from %s", b.Name(), prev),
			}
		}
		seen[b.Name()] = projects[i]
		if metrics[i] != nil {
			out.quality[b.Name()] = *metrics[i]
		}
	}
	return out, nil
}

func inputFailure(kind ErrorKind, path string, err error) *ErrorDetail {
	if errors.Is(err, model.ErrDuplicateIdentity) {
		kind = KindDuplicateIdentity
	}
	var xe *extractor.ExtractionError
	var pe *reference.ParseError
	switch {
	case errors.As(err, &xe) && xe.Path != "":
		path = xe.Path
	case errors.As(err, &pe) && pe.Path != "":
		path = pe.Path
	}
	return &ErrorDetail{Kind: kind, Path: path, Message: err.Error()}
}

// ─── GENERATING_UML ───

// generateDiagrams never fails the job; a failed diagram is left empty.
func (r *runner) generateDiagrams(builders []*model.ServiceBuilder) (map[string]diagram.Diagrams, map[string][]diagram.Image) {
	diagrams := make(map[string]diagram.Diagrams, len(builders))
	images := make(map[string][]diagram.Image)
	for _, b := range builders {
		d, err := r.generate(b)
		if err != nil {
			r.logger.Warn("diagram generation failed",
				logging.Field{Key: "service", Value: b.Name()},
				logging.Field{Key: "error", Value: err})
			d = diagram.Diagrams{Service: b.Name()}
		}
		diagrams[b.Name()] = d

		if r.p.deps.Renderer == nil {
			continue
		}
		imgs, errs := r.render(d)
		for _, err := range errs {
			r.logger.Warn("diagram render failed",
				logging.Field{Key: "service", Value: b.Name()},
				logging.Field{Key: "error", Value: err})
		}
		if len(imgs) > 0 {
			images[b.Name()] = imgs
		}
	}
	return diagrams, images
}

// generate and render turn a collaborator panic into an ordinary failure.
func (r *runner) generate(b *model.ServiceBuilder) (d diagram.Diagrams, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("diagram generator panicked: %v", rec)
		}
	}()
	return r.p.deps.Diagrams.Generate(r.ctx, b)
}

func (r *runner) render(d diagram.Diagrams) (imgs []diagram.Image, errs []error) {
	defer func() {
		if rec := recover(); rec != nil {
			errs = append(errs, fmt.Errorf("diagram renderer panicked: %v", rec))
		}
	}()
	return diagram.RenderAll(r.ctx, r.p.deps.Renderer, d)
}

// ─── COMPARING_RESULTS ───

func (r *runner) compare(in *parsed, diagrams map[string]diagram.Diagrams, images map[string][]diagram.Image) (*report.AnalysisResult, *ErrorDetail) {
	surfaces := make([]model.Surface, len(in.builders))
	for i, b := range in.builders {
		surfaces[i] = b
	}
	graph, err := linker.Resolve(surfaces)
	if err != nil {
		return nil, &ErrorDetail{Kind: KindDuplicateIdentity, Message: err.Error()}
	}

	models := make([]*model.ServiceAPIModel, len(in.builders))
	for i, b := range in.builders {
		graph.Enrich(b)
		models[i] = b.Build()
	}

	refs, detail := r.pairReferences(models, in.refs)
	if detail != nil {
		return nil, detail
	}

	// The completed snapshot carries the analysed batch.
	batch := r.cur.Clone()
	batch.Models = models
	batch.ReferenceModels = in.refs
	r.cur = batch

	comparisons := make(map[string]*conformance.ComparisonResult, len(models))
	for _, m := range models {
		res, err := r.p.deps.Comparator.Compare(m, graph.EdgesFrom(m.Name()), refs[m.Name()])
		if err != nil {
			var iv *conformance.InvariantViolation
			svc := m.Name()
			if errors.As(err, &iv) {
				svc = iv.Service
			}
			return nil, &ErrorDetail{Kind: KindComparisonInvariantViolation, Service: svc, Message: err.Error()}
		}
		comparisons[m.Name()] = res
	}

	sum := graph.Summary()
	r.logger.Info("links resolved",
		logging.Field{Key: "edges", Value: sum.Total},
		logging.Field{Key: "resolved", Value: sum.Resolved},
		logging.Field{Key: "unresolved", Value: sum.Unresolved},
		logging.Field{Key: "ambiguous", Value: sum.Ambiguous})

	return report.Assemble(report.Input{
		AnalysisID:  r.cur.ID,
		GeneratedAt: r.p.deps.Now(),
		Services:    models,
		Graph:       graph,
		Comparisons: comparisons,
		Diagrams:    diagrams,
		Images:      images,
		Quality:     in.quality,
	}), nil
}

// pairReferences maps each service to its reference model:
//   - a batch of one project and one document always pairs the two;
//   - otherwise a document pairs with the service it names;
//   - a document that names no service (its name came from the file name)
//     and matches none pairs with the project at the same position.
//
// A service left without a reference violates the comparison's
// preconditions; documents left without a service are only logged.
func (r *runner) pairReferences(models []*model.ServiceAPIModel, refs []*reference.Model) (map[string]*reference.Model, *ErrorDetail) {
	out := make(map[string]*reference.Model, len(models))
	bind := func(m *model.ServiceAPIModel, ref *reference.Model) {
		if !strings.EqualFold(ref.Service(), m.Name()) {
			ref = ref.ForService(m.Name())
		}
		out[m.Name()] = ref.WithAnalysisID(r.cur.ID)
	}

	if len(models) == 1 && len(refs) == 1 {
		if !refs[0].ServiceInferred() && !strings.EqualFold(refs[0].Service(), models[0].Name()) {
			r.logger.Warn("reference names another service; paired by position",
				logging.Field{Key: "service", Value: models[0].Name()},
				logging.Field{Key: "reference_service", Value: refs[0].Service()},
				logging.Field{Key: "path", Value: r.cur.References[0]})
		}
		bind(models[0], refs[0])
		return out, nil
	}

	byName := make(map[string]*model.ServiceAPIModel, len(models))
	for _, m := range models {
		byName[strings.ToLower(m.Name())] = m
	}
	used := make([]bool, len(refs))
	for i, ref := range refs {
		m, ok := byName[strings.ToLower(ref.Service())]
		if !ok {
			continue
		}
		if _, dup := out[m.Name()]; dup {
			r.logger.Warn("duplicate reference ignored",
				logging.Field{Key: "service", Value: ref.Service()},
				logging.Field{Key: "path", Value: r.cur.References[i]})
			used[i] = true
			continue
		}
		bind(m, ref)
		used[i] = true
	}
	for i, ref := range refs {
		if used[i] || !ref.ServiceInferred() || i >= len(models) {
			continue
		}
		if _, taken := out[models[i].Name()]; taken {
			continue
		}
		bind(models[i], ref)
		used[i] = true
	}
	for i, ref := range refs {
		if !used[i] {
			r.logger.Warn("reference matches no submitted service",
				logging.Field{Key: "service", Value: ref.Service()},
				logging.Field{Key: "path", Value: r.cur.References[i]})
		}
	}

	var missing []string
	for _, m := range models {
		if _, ok := out[m.Name()]; !ok {
			missing = append(missing, m.Name())
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		v := &conformance.InvariantViolation{Service: missing[0], Reason: "reference model missing"}
		return nil, &ErrorDetail{
			Kind:    KindComparisonInvariantViolation,
			Service: missing[0],
			Message: fmt.Sprintf("%v (services without reference: %s)", v, strings.Join(missing, ", ")),
		}
	}
	return out, nil
}
