// Package linker cross-references every external call in a batch against the
// endpoints the batch actually exposes and produces the verified call graph.
package linker

import (
	"sort"
	"strings"

	"github.com/raysh454/apilens/internal/model"
)

// Outcome is the resolution result of one external call.
type Outcome string

const (
	Resolved   Outcome = "RESOLVED"
	Unresolved Outcome = "UNRESOLVED"
	Ambiguous  Outcome = "AMBIGUOUS"
)

// Rule names the matching rule that produced the candidates of an edge.
type Rule string

const (
	RuleNone    Rule = ""
	RuleExact   Rule = "exact"
	RuleRelaxed Rule = "relaxed"
)

// Compatibility is the structural verdict for a resolved edge.
type Compatibility struct {
	MethodPathMatch bool     `json:"method_path_match"`
	ParamShapeMatch bool     `json:"param_shape_match"`
	AsyncMatch      bool     `json:"async_match"`
	Mismatches      []string `json:"mismatches,omitempty"`
}

// Compatible reports whether every structural check passed.
func (c Compatibility) Compatible() bool {
	return c.MethodPathMatch && c.ParamShapeMatch && c.AsyncMatch
}

// CallGraphEdge links one external call to what it targets. Target and
// Verdict are only meaningful when Outcome is Resolved; Candidates holds every
// remaining candidate for Resolved (one) and Ambiguous (several) edges.
type CallGraphEdge struct {
	Call       model.CallID
	Async      bool
	Outcome    Outcome
	Rule       Rule
	Target     model.EndpointID
	Candidates []model.EndpointID
	Verdict    Compatibility
}

// FullyCompatible reports a resolved edge with a clean verdict.
func (e CallGraphEdge) FullyCompatible() bool {
	return e.Outcome == Resolved && e.Verdict.Compatible()
}

func (e CallGraphEdge) clone() CallGraphEdge {
	e.Candidates = append([]model.EndpointID(nil), e.Candidates...)
	e.Verdict.Mismatches = append([]string(nil), e.Verdict.Mismatches...)
	return e
}

// Summary counts edges per outcome.
type Summary struct {
	Total      int `json:"total"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
	Ambiguous  int `json:"ambiguous"`
}

// Graph is the immutable result of one resolution run.
type Graph struct {
	edges    []CallGraphEdge
	summary  Summary
	baseURLs map[string]string
}

// Edges returns every edge: callers by name, calls in declaration order.
func (g *Graph) Edges() []CallGraphEdge {
	out := make([]CallGraphEdge, len(g.edges))
	for i, e := range g.edges {
		out[i] = e.clone()
	}
	return out
}

// EdgesFrom returns the outbound edges of one service.
func (g *Graph) EdgesFrom(service string) []CallGraphEdge {
	var out []CallGraphEdge
	for _, e := range g.edges {
		if e.Call.Caller == service {
			out = append(out, e.clone())
		}
	}
	return out
}

func (g *Graph) Summary() Summary { return g.summary }

// ResolvedURLs maps each service that caller reaches through a resolved edge
// to that service's base URL. Services without a base URL are skipped.
func (g *Graph) ResolvedURLs(caller string) map[string]string {
	out := map[string]string{}
	for _, e := range g.edges {
		if e.Call.Caller != caller || e.Outcome != Resolved {
			continue
		}
		if u := g.baseURLs[e.Target.Service]; u != "" {
			out[e.Target.Service] = u
		}
	}
	return out
}

// Enrich records resolved base URLs on the caller's builder. URLs the
// extractor already declared are left alone.
func (g *Graph) Enrich(b *model.ServiceBuilder) {
	declared := b.ServiceURLs()
	for svc, u := range g.ResolvedURLs(b.Name()) {
		if _, ok := declared[svc]; !ok {
			b.SetServiceURL(svc, u)
		}
	}
}

type candidate struct {
	id       model.EndpointID
	endpoint model.ExposedEndpoint
	owner    int
}

type target struct {
	name     string
	hostKey  string
	hostName string
}

// Resolve links every call of the batch. Service names must be unique.
func Resolve(batch []model.Surface) (*Graph, error) {
	services := append([]model.Surface(nil), batch...)
	sort.SliceStable(services, func(i, j int) bool { return services[i].Name() < services[j].Name() })

	g := &Graph{baseURLs: make(map[string]string, len(services))}
	targets := make([]target, len(services))
	var index []candidate
	for i, s := range services {
		if _, dup := g.baseURLs[s.Name()]; dup {
			return nil, &model.DuplicateIdentityError{Kind: "service", Identity: s.Name()}
		}
		g.baseURLs[s.Name()] = s.BaseURL()
		targets[i] = target{
			name:     strings.ToLower(s.Name()),
			hostKey:  model.HostKey(s.BaseURL()),
			hostName: model.HostName(s.BaseURL()),
		}
		for _, ep := range s.Endpoints() {
			index = append(index, candidate{id: ep.ID(), endpoint: ep, owner: i})
		}
	}
	sort.SliceStable(index, func(i, j int) bool { return index[i].id.Less(index[j].id) })

	for _, s := range services {
		urls := s.ServiceURLs()
		for _, call := range s.Calls() {
			e := resolveCall(call, urls, index, targets)
			g.edges = append(g.edges, e)
			g.summary.Total++
			switch e.Outcome {
			case Resolved:
				g.summary.Resolved++
			case Ambiguous:
				g.summary.Ambiguous++
			default:
				g.summary.Unresolved++
			}
		}
	}
	return g, nil
}

func resolveCall(call model.ExternalCall, urls map[string]string, index []candidate, targets []target) CallGraphEdge {
	method := model.NormalizeMethod(call.Method)
	path := model.NormalizePath(call.Path)
	edge := CallGraphEdge{Call: call.ID(), Async: call.Async(), Outcome: Unresolved}

	var relaxed, exact []candidate
	for _, c := range index {
		if method != "" && c.id.Method != method {
			continue
		}
		if !model.PathsMatch(path, c.id.Path) {
			continue
		}
		relaxed = append(relaxed, c)
		if isTarget(call, urls, targets[c.owner]) {
			exact = append(exact, c)
		}
	}

	picked, rule := exact, RuleExact
	if len(picked) == 0 {
		picked, rule = relaxed, RuleRelaxed
	}
	if len(picked) == 0 {
		return edge
	}

	edge.Rule = rule
	for _, c := range picked {
		edge.Candidates = append(edge.Candidates, c.id)
	}
	if len(picked) > 1 {
		edge.Outcome = Ambiguous
		return edge
	}
	edge.Outcome = Resolved
	edge.Target = picked[0].id
	edge.Verdict = verdict(call, method, picked[0].endpoint)
	return edge
}

// isTarget applies the exact rule: the hint names the service, maps to its
// base URL through the caller's service URLs, or is itself a URL or host of
// the service; or the call's base-URL hint points at the service.
func isTarget(call model.ExternalCall, urls map[string]string, t target) bool {
	hint := strings.TrimSpace(call.TargetHint)
	if hint != "" {
		if strings.ToLower(hint) == t.name {
			return true
		}
		if t.hostKey != "" {
			if u, ok := urls[hint]; ok && model.HostKey(u) == t.hostKey {
				return true
			}
			if model.HostKey(hint) == t.hostKey {
				return true
			}
		}
		if h := model.HostName(hint); h != "" && (h == t.name || (h == t.hostName && !hasPort(hint))) {
			return true
		}
	}
	if call.BaseURLHint != "" && t.hostKey != "" && model.HostKey(call.BaseURLHint) == t.hostKey {
		return true
	}
	return false
}

func hasPort(raw string) bool {
	key := model.HostKey(raw)
	return key != model.HostName(raw)
}
