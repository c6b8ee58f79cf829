package conformance

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/raysh454/apilens/internal/linker"
	"github.com/raysh454/apilens/internal/model"
	"github.com/raysh454/apilens/internal/reference"
)

// Options tunes scoring.
type Options struct {
	// UndocumentedPenalty weighs the share of undocumented endpoints
	// subtracted from api-coverage.
	UndocumentedPenalty float64 `yaml:"undocumented_penalty"`
}

func DefaultOptions() Options {
	return Options{UndocumentedPenalty: 1.0}
}

// Comparator is stateless; one instance may serve concurrent comparisons.
type Comparator struct {
	opts Options
}

func NewComparator(opts Options) *Comparator {
	if opts.UndocumentedPenalty < 0 {
		opts.UndocumentedPenalty = 0
	}
	return &Comparator{opts: opts}
}

// comparison carries the state of one Compare call.
type comparison struct {
	svc       *model.ServiceAPIModel
	ref       *reference.Model
	endpoints []model.ExposedEndpoint // sorted by identity
	calls     []model.ExternalCall
	edges     []linker.CallGraphEdge
	found     []Discrepancy
}

// Compare scores one linked service against its reference model. edges must
// be the service's own outbound edges. The only error is an
// *InvariantViolation.
func (c *Comparator) Compare(svc *model.ServiceAPIModel, edges []linker.CallGraphEdge, ref *reference.Model) (*ComparisonResult, error) {
	if svc == nil {
		return nil, &InvariantViolation{Reason: "service model missing"}
	}
	if ref == nil {
		return nil, &InvariantViolation{Service: svc.Name(), Reason: "reference model missing"}
	}
	if ref.Service() != "" && !strings.EqualFold(ref.Service(), svc.Name()) {
		return nil, &InvariantViolation{Service: svc.Name(), Reason: fmt.Sprintf("reference model belongs to %q", ref.Service())}
	}

	calls := svc.Calls()
	known := make(map[model.CallID]struct{}, len(calls))
	for _, call := range calls {
		known[call.ID()] = struct{}{}
	}
	for _, e := range edges {
		if e.Call.Caller != svc.Name() {
			return nil, &InvariantViolation{Service: svc.Name(), Reason: fmt.Sprintf("edge %s belongs to another service", e.Call)}
		}
		if _, ok := known[e.Call]; !ok {
			return nil, &InvariantViolation{Service: svc.Name(), Reason: fmt.Sprintf("edge %s references an unknown call", e.Call)}
		}
	}

	endpoints := svc.Endpoints()
	sort.SliceStable(endpoints, func(i, j int) bool { return endpoints[i].ID().Less(endpoints[j].ID()) })

	cmp := &comparison{svc: svc, ref: ref, endpoints: endpoints, calls: calls, edges: edges}
	scores := map[Category]float64{
		APICoverage:              round(cmp.apiCoverage(c.opts.UndocumentedPenalty), 4),
		ParameterFidelity:        round(cmp.parameterFidelity(), 4),
		CallGraphIntegrity:       round(cmp.callGraphIntegrity(), 4),
		DocumentationConsistency: round(cmp.documentationConsistency(), 4),
	}

	var sum float64
	for _, cat := range Categories {
		sum += scores[cat]
	}
	sortDiscrepancies(cmp.found)
	return &ComparisonResult{
		service:       svc.Name(),
		overall:       round(sum/float64(len(Categories)), 2),
		scores:        scores,
		discrepancies: cmp.found,
	}, nil
}

func (cmp *comparison) add(cat Category, kind DiscrepancyKind, subject, detail string) {
	cmp.found = append(cmp.found, Discrepancy{Category: cat, Kind: kind, Subject: subject, Detail: detail})
}

// ─── api-coverage ───

func (cmp *comparison) apiCoverage(penalty float64) float64 {
	docs := cmp.ref.ExposedAPIs()
	documented := make([]bool, len(cmp.endpoints))
	matched := 0

	for _, text := range docs {
		subject := strings.TrimSpace(text)
		d, ok := parseDescriptor(text)
		if !ok {
			cmp.add(APICoverage, UnparseableDescriptor, subject, "no HTTP path found in descriptor")
			continue
		}
		hit := false
		for i, e := range cmp.endpoints {
			if d.matches(e.Method, e.Path) {
				documented[i] = true
				hit = true
			}
		}
		if hit {
			matched++
			continue
		}
		detail := "no exposed endpoint matches " + d.String()
		if near, ok := closest(d.String(), cmp.endpointLabels()); ok {
			detail += "; closest is " + near
		}
		cmp.add(APICoverage, MissingEndpoint, subject, detail)
	}

	undocumented := 0
	for i, e := range cmp.endpoints {
		if documented[i] {
			continue
		}
		undocumented++
		detail := "exposed but not documented"
		if h := handlerName(e.ClassName, e.HandlerName); h != "" {
			detail = "exposed by " + h + " but not documented"
		}
		cmp.add(APICoverage, UndocumentedEndpoint, endpointLabel(e), detail)
	}

	score := fraction(matched, len(docs))
	if len(cmp.endpoints) > 0 {
		score -= penalty * float64(undocumented) / float64(len(cmp.endpoints))
	}
	return clamp(score)
}

func (cmp *comparison) endpointLabels() []string {
	out := make([]string, len(cmp.endpoints))
	for i, e := range cmp.endpoints {
		out[i] = model.NormalizeMethod(e.Method) + " " + model.NormalizePath(e.Path)
	}
	return out
}

// ─── parameter-fidelity ───

func (cmp *comparison) parameterFidelity() float64 {
	compared, faithful := 0, 0
	for _, entry := range cmp.ref.APIEntries() {
		subject := handlerName(entry.ClassName, entry.MethodName)
		e, ok := cmp.endpointForEntry(entry)
		if !ok {
			cmp.add(ParameterFidelity, UnknownAPIEntry, subject, "no exposed endpoint is handled by "+subject)
			continue
		}
		compared++
		doc := parseSignature(entry.Parameters)
		actual := paramsFromModel(e.Parameters)
		if sameParams(doc, actual) {
			faithful++
			continue
		}
		docText, actualText := formatParams(doc), formatParams(actual)
		cmp.add(ParameterFidelity, ParameterMismatch, subject, fmt.Sprintf(
			"%s documented (%s), implemented (%s); diff %s",
			endpointLabel(e), docText, actualText, inlineDiff(docText, actualText)))
	}
	return fraction(faithful, compared)
}

// endpointForEntry finds the endpoint handled by the documented class and
// method. An entry without a class matches on the method name alone.
func (cmp *comparison) endpointForEntry(entry reference.APIEntry) (model.ExposedEndpoint, bool) {
	method := strings.TrimSpace(entry.MethodName)
	class := strings.TrimSpace(entry.ClassName)
	if method == "" {
		return model.ExposedEndpoint{}, false
	}
	for _, e := range cmp.endpoints {
		if !strings.EqualFold(e.HandlerName, method) {
			continue
		}
		if class == "" || strings.EqualFold(e.ClassName, class) {
			return e, true
		}
	}
	return model.ExposedEndpoint{}, false
}

// ─── call-graph-integrity ───

func (cmp *comparison) callGraphIntegrity() float64 {
	declared := make(map[model.CallID]model.ExternalCall, len(cmp.calls))
	for _, c := range cmp.calls {
		declared[c.ID()] = c
	}

	ok := 0
	for _, e := range cmp.edges {
		subject := callLabel(declared[e.Call])
		switch {
		case e.FullyCompatible():
			ok++
		case e.Outcome == linker.Unresolved:
			cmp.add(CallGraphIntegrity, UnresolvedCall, subject, "no exposed endpoint in the batch matches")
		case e.Outcome == linker.Ambiguous:
			ids := make([]string, len(e.Candidates))
			for i, id := range e.Candidates {
				ids[i] = id.String()
			}
			cmp.add(CallGraphIntegrity, AmbiguousCall, subject,
				fmt.Sprintf("%d candidate endpoints: %s", len(ids), strings.Join(ids, ", ")))
		default:
			cmp.add(CallGraphIntegrity, IncompatibleCall, subject,
				fmt.Sprintf("resolved to %s; %s", e.Target, strings.Join(e.Verdict.Mismatches, "; ")))
		}
	}
	return fraction(ok, len(cmp.edges))
}

// ─── documentation-consistency ───

func (cmp *comparison) documentationConsistency() float64 {
	steps := cmp.ref.SequenceSteps()
	externals := cmp.ref.ExternalAPIs()
	idents := cmp.identifiers()
	matched := 0

	// Step numbers share one width so subjects sort numerically.
	width := max(3, len(strconv.Itoa(len(steps))))
	for i, step := range steps {
		if cmp.stepMatches(step, idents) {
			matched++
			continue
		}
		cmp.add(DocumentationConsistency, UnmatchedSequenceStep, fmt.Sprintf("step %0*d", width, i+1),
			"no endpoint or call matches "+quote(step))
	}

	for _, text := range externals {
		if cmp.externalMatches(text) {
			matched++
			continue
		}
		detail := "no external call targets a service named in the descriptor"
		if d, ok := parseDescriptor(text); ok {
			detail = "no external call matches " + d.String()
			if near, ok := closest(d.String(), cmp.callLabels()); ok {
				detail += "; closest is " + near
			}
		}
		cmp.add(DocumentationConsistency, UnmatchedExternalAPI, strings.TrimSpace(text), detail)
	}
	return fraction(matched, len(steps)+len(externals))
}

// identifiers collects lower-cased implementation names a step may mention.
func (cmp *comparison) identifiers() []string {
	set := map[string]struct{}{}
	put := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if len(s) >= 3 {
			set[s] = struct{}{}
		}
	}
	for _, e := range cmp.endpoints {
		put(e.HandlerName)
		put(e.ClassName)
	}
	for _, c := range cmp.calls {
		put(c.TargetHint)
		put(c.CallingMethod)
		if i := strings.LastIndexByte(c.CallingMethod, '.'); i >= 0 {
			put(c.CallingMethod[i+1:])
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (cmp *comparison) stepMatches(step string, idents []string) bool {
	if d, ok := parseDescriptor(step); ok {
		for _, e := range cmp.endpoints {
			if d.matches(e.Method, e.Path) {
				return true
			}
		}
		for _, c := range cmp.calls {
			if d.matches(c.Method, c.Path) {
				return true
			}
		}
	}
	lower := strings.ToLower(step)
	for _, id := range idents {
		if strings.Contains(lower, id) {
			return true
		}
	}
	return false
}

// externalMatches matches on method and path when the descriptor has them,
// otherwise on a target service named in the text.
func (cmp *comparison) externalMatches(text string) bool {
	if d, ok := parseDescriptor(text); ok {
		for _, c := range cmp.calls {
			if d.matches(c.Method, c.Path) {
				return true
			}
		}
		return false
	}
	lower := strings.ToLower(text)
	for _, c := range cmp.calls {
		if h := strings.ToLower(strings.TrimSpace(c.TargetHint)); len(h) >= 3 && strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

func (cmp *comparison) callLabels() []string {
	out := make([]string, len(cmp.calls))
	for i, c := range cmp.calls {
		out[i] = strings.TrimSpace(model.NormalizeMethod(c.Method) + " " + model.NormalizePath(c.Path))
	}
	return out
}

// ─── helpers ───

func endpointLabel(e model.ExposedEndpoint) string {
	return model.NormalizeMethod(e.Method) + " " + e.Path
}

func callLabel(c model.ExternalCall) string {
	label := strings.TrimSpace(model.NormalizeMethod(c.Method) + " " + c.Path)
	if c.TargetHint != "" {
		label += " -> " + c.TargetHint
	}
	return label
}

func handlerName(class, method string) string {
	switch {
	case class == "":
		return method
	case method == "":
		return class
	}
	return class + "." + method
}

func quote(s string) string {
	return `"` + strings.TrimSpace(s) + `"`
}

// fraction is n/d, or 1 when there is nothing to measure.
func fraction(n, d int) float64 {
	if d == 0 {
		return 1
	}
	return float64(n) / float64(d)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(clamp(v)*p) / p
}
