package diagram

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/raysh454/apilens/internal/model"
)

// MermaidGenerator writes Mermaid text from a service surface.
type MermaidGenerator struct{}

// Generate builds both diagrams. Only cancellation makes it fail.
func (g *MermaidGenerator) Generate(ctx context.Context, s model.Surface) (Diagrams, error) {
	if err := ctx.Err(); err != nil {
		return Diagrams{}, &RenderError{Service: s.Name(), Diagram: ClassDiagram, Err: err}
	}
	return Diagrams{
		Service:  s.Name(),
		Class:    g.ClassDiagram(s),
		Sequence: g.SequenceDiagram(s),
	}, nil
}

// ClassDiagram lists handler classes with their endpoint methods, plus the
// module dependencies recorded on the endpoints.
func (g *MermaidGenerator) ClassDiagram(s model.Surface) string {
	endpoints := sortedEndpoints(s)
	if len(endpoints) == 0 {
		return ""
	}

	classes := map[string][]string{}
	deps := map[string]map[string]struct{}{}
	for _, e := range endpoints {
		class := e.ClassName
		if class == "" {
			class = s.Name()
		}
		classes[class] = append(classes[class], methodLine(e))
		for from, tos := range e.DependencyTree {
			if deps[from] == nil {
				deps[from] = map[string]struct{}{}
			}
			for _, to := range tos {
				deps[from][to] = struct{}{}
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("classDiagram\n")
	for _, class := range sortedKeys(classes) {
		fmt.Fprintf(&sb, "    class %s {\n", ident(class))
		for _, line := range classes[class] {
			fmt.Fprintf(&sb, "        %s\n", line)
		}
		sb.WriteString("    }\n")
	}
	for _, from := range sortedKeys(deps) {
		for _, to := range sortedKeys(deps[from]) {
			fmt.Fprintf(&sb, "    %s ..> %s : uses\n", ident(from), ident(to))
		}
	}
	return sb.String()
}

// SequenceDiagram shows each exposed endpoint being called and every
// declared outbound call, in declaration order.
func (g *MermaidGenerator) SequenceDiagram(s model.Surface) string {
	endpoints := sortedEndpoints(s)
	calls := s.Calls()
	if len(endpoints) == 0 && len(calls) == 0 {
		return ""
	}

	self := ident(s.Name())
	var sb strings.Builder
	sb.WriteString("sequenceDiagram\n")
	sb.WriteString("    participant Client\n")
	fmt.Fprintf(&sb, "    participant %s\n", self)

	seen := map[string]bool{self: true}
	for _, c := range calls {
		target := ident(targetName(c))
		if !seen[target] {
			seen[target] = true
			fmt.Fprintf(&sb, "    participant %s\n", target)
		}
	}

	for _, e := range endpoints {
		fmt.Fprintf(&sb, "    Client->>%s: %s %s\n", self, model.NormalizeMethod(e.Method), e.Path)
		if e.ReturnType != "" {
			fmt.Fprintf(&sb, "    %s-->>Client: %s\n", self, label(e.ReturnType))
		}
	}
	for _, c := range calls {
		arrow := "->>"
		if c.Async() {
			arrow = "-)"
		}
		text := strings.TrimSpace(model.NormalizeMethod(c.Method) + " " + c.Path)
		fmt.Fprintf(&sb, "    %s%s%s: %s\n", self, arrow, ident(targetName(c)), text)
	}
	return sb.String()
}

func methodLine(e model.ExposedEndpoint) string {
	name := e.HandlerName
	if name == "" {
		name = strings.ToLower(model.NormalizeMethod(e.Method)) + "Handler"
	}
	types := make([]string, len(e.Parameters))
	for i, p := range e.Parameters {
		types[i] = label(p.Type)
	}
	line := fmt.Sprintf("+%s(%s)", name, strings.Join(types, ", "))
	if e.ReturnType != "" {
		line += " " + label(e.ReturnType)
	}
	return line
}

func targetName(c model.ExternalCall) string {
	if c.TargetHint != "" {
		return c.TargetHint
	}
	if h := model.HostName(c.BaseURLHint); h != "" {
		return h
	}
	return "unknown"
}

var nonIdent = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// ident makes a name usable as a Mermaid identifier.
func ident(s string) string {
	out := strings.Trim(nonIdent.ReplaceAllString(s, "_"), "_")
	if out == "" {
		return "_"
	}
	return out
}

// label swaps generics brackets for Mermaid's tilde syntax.
func label(s string) string {
	return strings.NewReplacer("<", "~", ">", "~").Replace(s)
}

func sortedEndpoints(s model.Surface) []model.ExposedEndpoint {
	eps := s.Endpoints()
	sort.SliceStable(eps, func(i, j int) bool { return eps[i].ID().Less(eps[j].ID()) })
	return eps
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
