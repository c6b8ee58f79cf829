// Package report folds the outputs of one analysis run into the
// AnalysisResult consumed by report renderers. It performs no comparison
// logic of its own.
package report

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/raysh454/apilens/internal/conformance"
	"github.com/raysh454/apilens/internal/diagram"
	"github.com/raysh454/apilens/internal/linker"
	"github.com/raysh454/apilens/internal/model"
)

// QualityMetrics is handed in by an external static-analysis tool and passed
// through untouched.
type QualityMetrics struct {
	Violations  int     `json:"violations"`
	Complexity  float64 `json:"complexity"`
	Duplication float64 `json:"duplication"`
}

type Endpoint struct {
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	ClassName   string            `json:"class_name,omitempty"`
	HandlerName string            `json:"handler_name,omitempty"`
	ReturnType  string            `json:"return_type,omitempty"`
	Parameters  []model.Parameter `json:"parameters"`
	Inferred    bool              `json:"inferred"`
	Async       bool              `json:"async"`

	CallTree       map[string][]string `json:"call_tree"`
	CallDepth      int                 `json:"call_depth"`
	DependencyTree map[string][]string `json:"dependency_tree"`
}

type Call struct {
	Target        string            `json:"target"`
	Method        string            `json:"method"`
	Path          string            `json:"path"`
	Kind          model.CommKind    `json:"kind"`
	Parameters    []model.Parameter `json:"parameters"`
	CallingMethod string            `json:"calling_method,omitempty"`
	Inferred      bool              `json:"inferred"`
}

type Comparison struct {
	OverallScore   float64                   `json:"overall_score"`
	DetailedScores map[string]float64        `json:"detailed_scores"`
	Discrepancies  []string                  `json:"discrepancies"`
	Findings       []conformance.Discrepancy `json:"findings"`
}

type Service struct {
	Name        string            `json:"name"`
	BaseURL     string            `json:"base_url,omitempty"`
	ServiceURLs map[string]string `json:"service_urls"`
	Endpoints   []Endpoint        `json:"endpoints"`
	Calls       []Call            `json:"calls"`
	Diagrams    diagram.Diagrams  `json:"diagrams"`
	Images      []diagram.Image   `json:"images"`
	Quality     *QualityMetrics   `json:"quality,omitempty"`
	Comparison  Comparison        `json:"comparison"`
}

type Edge struct {
	Caller     string             `json:"caller"`
	Target     string             `json:"target"`
	Method     string             `json:"method"`
	Path       string             `json:"path"`
	Async      bool               `json:"async"`
	Outcome    linker.Outcome     `json:"outcome"`
	Rule       linker.Rule        `json:"rule,omitempty"`
	ResolvedTo *model.EndpointID  `json:"resolved_to,omitempty"`
	Candidates []model.EndpointID `json:"candidates"`
	Compatible bool               `json:"compatible"`
	Mismatches []string           `json:"mismatches"`
}

// AnalysisResult is the final payload of a completed analysis. Every
// collection is non-nil so renderers can range over it unconditionally.
type AnalysisResult struct {
	AnalysisID   string         `json:"analysis_id"`
	GeneratedAt  time.Time      `json:"generated_at"`
	OverallScore float64        `json:"overall_score"`
	Services     []Service      `json:"services"`
	CallGraph    []Edge         `json:"call_graph"`
	Summary      linker.Summary `json:"summary"`
}

// Clone returns a deep copy.
func (r *AnalysisResult) Clone() *AnalysisResult {
	data, err := json.Marshal(r)
	if err != nil {
		panic("report: clone: " + err.Error())
	}
	var out AnalysisResult
	if err := json.Unmarshal(data, &out); err != nil {
		panic("report: clone: " + err.Error())
	}
	return &out
}

// Service returns the named service section.
func (r *AnalysisResult) Service(name string) (Service, bool) {
	for _, s := range r.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

// Input is everything one run produced. Maps are keyed by service name;
// missing entries yield empty sections.
type Input struct {
	AnalysisID  string
	GeneratedAt time.Time
	Services    []*model.ServiceAPIModel
	Graph       *linker.Graph
	Comparisons map[string]*conformance.ComparisonResult
	Diagrams    map[string]diagram.Diagrams
	Images      map[string][]diagram.Image
	Quality     map[string]QualityMetrics
}

// Assemble builds the result. Services are ordered by name.
func Assemble(in Input) *AnalysisResult {
	res := &AnalysisResult{
		AnalysisID:  in.AnalysisID,
		GeneratedAt: in.GeneratedAt.UTC(),
		Services:    []Service{},
		CallGraph:   []Edge{},
	}

	svcs := append([]*model.ServiceAPIModel(nil), in.Services...)
	sort.SliceStable(svcs, func(i, j int) bool { return svcs[i].Name() < svcs[j].Name() })

	var total float64
	for _, m := range svcs {
		s := serviceSection(m, in)
		total += s.Comparison.OverallScore
		res.Services = append(res.Services, s)
	}
	if len(svcs) > 0 {
		res.OverallScore = math.Round(total/float64(len(svcs))*100) / 100
	}

	if in.Graph != nil {
		res.Summary = in.Graph.Summary()
		for _, e := range in.Graph.Edges() {
			res.CallGraph = append(res.CallGraph, edgeRecord(e))
		}
	}
	return res
}

func serviceSection(m *model.ServiceAPIModel, in Input) Service {
	name := m.Name()
	s := Service{
		Name:        name,
		BaseURL:     m.BaseURL(),
		ServiceURLs: m.ServiceURLs(),
		Endpoints:   []Endpoint{},
		Calls:       []Call{},
		Diagrams:    in.Diagrams[name],
		Images:      append([]diagram.Image{}, in.Images[name]...),
		Comparison: Comparison{
			DetailedScores: map[string]float64{},
			Discrepancies:  []string{},
			Findings:       []conformance.Discrepancy{},
		},
	}
	s.Diagrams.Service = name
	if s.ServiceURLs == nil {
		s.ServiceURLs = map[string]string{}
	}
	if q, ok := in.Quality[name]; ok {
		s.Quality = &q
	}

	for _, id := range m.SortedEndpointIDs() {
		e, _ := m.Endpoint(id)
		s.Endpoints = append(s.Endpoints, Endpoint{
			Method:      id.Method,
			Path:        e.Path,
			ClassName:   e.ClassName,
			HandlerName: e.HandlerName,
			ReturnType:  e.ReturnType,
			Parameters:  nonNil(e.Parameters),
			Inferred:    e.Inferred,
			Async:       e.Async,

			CallTree:       tree(e.CallTree),
			CallDepth:      e.CallDepth(),
			DependencyTree: tree(e.DependencyTree),
		})
	}
	for _, c := range m.Calls() {
		s.Calls = append(s.Calls, Call{
			Target:        c.TargetHint,
			Method:        model.NormalizeMethod(c.Method),
			Path:          c.Path,
			Kind:          c.Kind,
			Parameters:    nonNil(c.Parameters),
			CallingMethod: c.CallingMethod,
			Inferred:      c.Inferred,
		})
	}

	if cmp := in.Comparisons[name]; cmp != nil {
		s.Comparison.OverallScore = cmp.OverallScore()
		for cat, v := range cmp.DetailedScores() {
			s.Comparison.DetailedScores[string(cat)] = v
		}
		s.Comparison.Discrepancies = cmp.DiscrepancyText()
		s.Comparison.Findings = cmp.Discrepancies()
	}
	return s
}

func edgeRecord(e linker.CallGraphEdge) Edge {
	out := Edge{
		Caller:     e.Call.Caller,
		Target:     e.Call.Target,
		Method:     e.Call.Method,
		Path:       e.Call.Path,
		Async:      e.Async,
		Outcome:    e.Outcome,
		Rule:       e.Rule,
		Candidates: append([]model.EndpointID{}, e.Candidates...),
		Compatible: e.FullyCompatible(),
		Mismatches: append([]string{}, e.Verdict.Mismatches...),
	}
	if e.Outcome == linker.Resolved {
		t := e.Target
		out.ResolvedTo = &t
	}
	return out
}

func nonNil(ps []model.Parameter) []model.Parameter {
	if ps == nil {
		return []model.Parameter{}
	}
	return ps
}

func tree(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string{}, v...)
	}
	return out
}
