// Package model holds the canonical in-memory representation of one
// project's API surface: the endpoints it exposes and the external calls it
// makes. Models are assembled through a ServiceBuilder, enriched while links
// are resolved, and then sealed into an immutable ServiceAPIModel.
package model

import (
	"maps"
	"slices"
	"sort"
)

// ParamSource tells where a parameter travels in the request.
type ParamSource string

const (
	ParamPath    ParamSource = "path"
	ParamQuery   ParamSource = "query"
	ParamBody    ParamSource = "body"
	ParamHeader  ParamSource = "header"
	ParamUnknown ParamSource = ""
)

// Parameter is one entry of an endpoint or call parameter list.
type Parameter struct {
	Name   string      `json:"name" yaml:"name"`
	Type   string      `json:"type" yaml:"type"`
	Source ParamSource `json:"source,omitempty" yaml:"source,omitempty"`
}

// CommKind is the communication style of an external call.
type CommKind string

const (
	CommSyncHTTP       CommKind = "SYNC_HTTP"
	CommAsyncMessaging CommKind = "ASYNC_MESSAGING"
	CommUnknown        CommKind = ""
)

// EndpointID identifies an exposed endpoint inside a batch.
type EndpointID struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Path    string `json:"path"`
}

func (id EndpointID) String() string {
	return id.Service + " " + id.Method + " " + id.Path
}

// Less orders identities by (service, path, method).
func (id EndpointID) Less(o EndpointID) bool {
	if id.Service != o.Service {
		return id.Service < o.Service
	}
	if id.Path != o.Path {
		return id.Path < o.Path
	}
	return id.Method < o.Method
}

// ExposedEndpoint is an API entry point actually implemented by a service.
type ExposedEndpoint struct {
	Service     string
	Method      string
	Path        string // template as declared, e.g. /books/{id}
	ClassName   string
	HandlerName string
	ReturnType  string
	Parameters  []Parameter

	// CallTree maps a calling method to the methods it invokes.
	CallTree map[string][]string
	// DependencyTree maps a module to the modules it depends on.
	DependencyTree map[string][]string

	Inferred bool
	Async    bool
}

// ID returns the endpoint identity with method and path normalized.
func (e ExposedEndpoint) ID() EndpointID {
	return EndpointID{Service: e.Service, Method: NormalizeMethod(e.Method), Path: NormalizePath(e.Path)}
}

// CallDepth is the length of the longest invocation chain in CallTree,
// starting from the handler when the tree names it and from every method
// nobody calls otherwise. Cycles end a chain. An empty tree has depth 0.
func (e ExposedEndpoint) CallDepth() int {
	if len(e.CallTree) == 0 {
		return 0
	}
	var roots []string
	for _, name := range []string{e.HandlerName, e.ClassName + "." + e.HandlerName} {
		if _, ok := e.CallTree[name]; ok && e.HandlerName != "" {
			roots = append(roots, name)
		}
	}
	if len(roots) == 0 {
		called := map[string]bool{}
		for _, tos := range e.CallTree {
			for _, to := range tos {
				called[to] = true
			}
		}
		for from := range e.CallTree {
			if !called[from] {
				roots = append(roots, from)
			}
		}
	}
	if len(roots) == 0 {
		for from := range e.CallTree {
			roots = append(roots, from)
		}
	}

	onPath := map[string]bool{}
	var walk func(string) int
	walk = func(m string) int {
		onPath[m] = true
		defer delete(onPath, m)
		best := 0
		for _, next := range e.CallTree[m] {
			if onPath[next] {
				continue
			}
			if d := 1 + walk(next); d > best {
				best = d
			}
		}
		return best
	}
	depth := 0
	for _, r := range roots {
		if d := walk(r); d > depth {
			depth = d
		}
	}
	return depth
}

func (e ExposedEndpoint) clone() ExposedEndpoint {
	e.Parameters = slices.Clone(e.Parameters)
	e.CallTree = cloneTree(e.CallTree)
	e.DependencyTree = cloneTree(e.DependencyTree)
	return e
}

// CallID identifies an external call inside a batch.
type CallID struct {
	Caller string `json:"caller"`
	Target string `json:"target"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (id CallID) String() string {
	return id.Caller + " -> " + id.Target + " " + id.Method + " " + id.Path
}

// Less orders identities by (caller, target, path, method).
func (id CallID) Less(o CallID) bool {
	if id.Caller != o.Caller {
		return id.Caller < o.Caller
	}
	if id.Target != o.Target {
		return id.Target < o.Target
	}
	if id.Path != o.Path {
		return id.Path < o.Path
	}
	return id.Method < o.Method
}

// ExternalCall is an outbound call toward another service's endpoint. The
// target is a name hint only; it is resolved later by the linker.
type ExternalCall struct {
	Caller        string
	TargetHint    string
	Method        string
	Path          string
	Kind          CommKind
	Parameters    []Parameter
	ReturnType    string
	CallingMethod string
	BaseURLHint   string
	Inferred      bool
}

// ID returns the call identity with method and path normalized.
func (c ExternalCall) ID() CallID {
	return CallID{Caller: c.Caller, Target: c.TargetHint, Method: NormalizeMethod(c.Method), Path: NormalizePath(c.Path)}
}

// Async reports whether the call goes over asynchronous messaging.
func (c ExternalCall) Async() bool {
	return c.Kind == CommAsyncMessaging
}

func (c ExternalCall) clone() ExternalCall {
	c.Parameters = slices.Clone(c.Parameters)
	return c
}

// Surface is the read-only view shared by a builder and a sealed model.
// The linker works on surfaces so it can run before models are sealed.
type Surface interface {
	Name() string
	BaseURL() string
	ServiceURLs() map[string]string
	Endpoints() []ExposedEndpoint
	Calls() []ExternalCall
}

// ServiceBuilder assembles a service model. Identity uniqueness is enforced
// on every Add call.
type ServiceBuilder struct {
	name        string
	baseURL     string
	endpoints   []ExposedEndpoint
	endpointIdx map[EndpointID]struct{}
	calls       []ExternalCall
	callIdx     map[CallID]struct{}
	serviceURLs map[string]string
}

var (
	_ Surface = (*ServiceBuilder)(nil)
	_ Surface = (*ServiceAPIModel)(nil)
)

func NewServiceBuilder(name, baseURL string) *ServiceBuilder {
	return &ServiceBuilder{
		name:        name,
		baseURL:     baseURL,
		endpointIdx: make(map[EndpointID]struct{}),
		callIdx:     make(map[CallID]struct{}),
		serviceURLs: make(map[string]string),
	}
}

// AddEndpoint appends an endpoint owned by this service. The endpoint's
// Service is forced to the builder's name.
func (b *ServiceBuilder) AddEndpoint(e ExposedEndpoint) error {
	e.Service = b.name
	id := e.ID()
	if _, dup := b.endpointIdx[id]; dup {
		return &DuplicateIdentityError{Kind: "endpoint", Identity: id.String()}
	}
	b.endpointIdx[id] = struct{}{}
	b.endpoints = append(b.endpoints, e.clone())
	return nil
}

// AddCall appends an external call declared by this service.
func (b *ServiceBuilder) AddCall(c ExternalCall) error {
	c.Caller = b.name
	id := c.ID()
	if _, dup := b.callIdx[id]; dup {
		return &DuplicateIdentityError{Kind: "call", Identity: id.String()}
	}
	b.callIdx[id] = struct{}{}
	b.calls = append(b.calls, c.clone())
	return nil
}

// SetServiceURL records the base URL this service uses to reach another one.
// Declared entries come from the extractor; resolved ones are added by the
// linker.
func (b *ServiceBuilder) SetServiceURL(service, baseURL string) {
	b.serviceURLs[service] = baseURL
}

func (b *ServiceBuilder) Name() string    { return b.name }
func (b *ServiceBuilder) BaseURL() string { return b.baseURL }

func (b *ServiceBuilder) ServiceURLs() map[string]string { return maps.Clone(b.serviceURLs) }

func (b *ServiceBuilder) Endpoints() []ExposedEndpoint { return cloneEndpoints(b.endpoints) }

func (b *ServiceBuilder) Calls() []ExternalCall { return cloneCalls(b.calls) }

// Build seals the current state into an immutable model. The builder stays
// usable; later changes do not affect models already built.
func (b *ServiceBuilder) Build() *ServiceAPIModel {
	m := &ServiceAPIModel{
		name:        b.name,
		baseURL:     b.baseURL,
		endpoints:   cloneEndpoints(b.endpoints),
		calls:       cloneCalls(b.calls),
		serviceURLs: maps.Clone(b.serviceURLs),
		byID:        make(map[EndpointID]int, len(b.endpoints)),
	}
	for i, e := range m.endpoints {
		m.byID[e.ID()] = i
	}
	return m
}

// ServiceAPIModel is the sealed, read-only model of one service. Accessors
// return copies.
type ServiceAPIModel struct {
	name        string
	baseURL     string
	endpoints   []ExposedEndpoint
	calls       []ExternalCall
	serviceURLs map[string]string
	byID        map[EndpointID]int
}

func (m *ServiceAPIModel) Name() string    { return m.name }
func (m *ServiceAPIModel) BaseURL() string { return m.baseURL }

func (m *ServiceAPIModel) ServiceURLs() map[string]string { return maps.Clone(m.serviceURLs) }

func (m *ServiceAPIModel) Endpoints() []ExposedEndpoint { return cloneEndpoints(m.endpoints) }

func (m *ServiceAPIModel) Calls() []ExternalCall { return cloneCalls(m.calls) }

// Endpoint looks an endpoint up by identity.
func (m *ServiceAPIModel) Endpoint(id EndpointID) (ExposedEndpoint, bool) {
	i, ok := m.byID[id]
	if !ok {
		return ExposedEndpoint{}, false
	}
	return m.endpoints[i].clone(), true
}

// SortedEndpointIDs returns every endpoint identity in natural order.
func (m *ServiceAPIModel) SortedEndpointIDs() []EndpointID {
	ids := make([]EndpointID, 0, len(m.endpoints))
	for _, e := range m.endpoints {
		ids = append(ids, e.ID())
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

func cloneEndpoints(in []ExposedEndpoint) []ExposedEndpoint {
	out := make([]ExposedEndpoint, len(in))
	for i, e := range in {
		out[i] = e.clone()
	}
	return out
}

func cloneCalls(in []ExternalCall) []ExternalCall {
	out := make([]ExternalCall, len(in))
	for i, c := range in {
		out[i] = c.clone()
	}
	return out
}

func cloneTree(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}
