package extractor

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raysh454/apilens/internal/model"
)

// inventory is the file the source extractor writes for one project.
type inventory struct {
	Service     string            `yaml:"service"`
	BaseURL     string            `yaml:"base_url"`
	ServiceURLs map[string]string `yaml:"service_urls"`
	Endpoints   []endpointRecord  `yaml:"endpoints"`
	Calls       []callRecord      `yaml:"calls"`
}

type endpointRecord struct {
	Method         string              `yaml:"method"`
	Path           string              `yaml:"path"`
	Class          string              `yaml:"class"`
	Handler        string              `yaml:"handler"`
	Returns        string              `yaml:"returns"`
	Parameters     []model.Parameter   `yaml:"parameters"`
	CallTree       map[string][]string `yaml:"call_tree"`
	DependencyTree map[string][]string `yaml:"dependency_tree"`
	Inferred       bool                `yaml:"inferred"`
	Async          bool                `yaml:"async"`
}

type callRecord struct {
	Target        string            `yaml:"target"`
	Method        string            `yaml:"method"`
	Path          string            `yaml:"path"`
	Kind          string            `yaml:"kind"`
	Parameters    []model.Parameter `yaml:"parameters"`
	Returns       string            `yaml:"returns"`
	CallingMethod string            `yaml:"calling_method"`
	BaseURL       string            `yaml:"base_url"`
	Inferred      bool              `yaml:"inferred"`
}

// decodeInventory accepts YAML or JSON.
func decodeInventory(data []byte) (*inventory, error) {
	var inv inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}
	inv.Service = strings.TrimSpace(inv.Service)
	if inv.Service == "" {
		return nil, errors.New("inventory has no service name")
	}
	return &inv, nil
}

func (inv *inventory) builder() (*model.ServiceBuilder, error) {
	b := model.NewServiceBuilder(inv.Service, strings.TrimSpace(inv.BaseURL))

	names := make([]string, 0, len(inv.ServiceURLs))
	for name := range inv.ServiceURLs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.SetServiceURL(name, inv.ServiceURLs[name])
	}

	for i, e := range inv.Endpoints {
		if strings.TrimSpace(e.Method) == "" || strings.TrimSpace(e.Path) == "" {
			return nil, fmt.Errorf("endpoint %d: method and path are required", i)
		}
		err := b.AddEndpoint(model.ExposedEndpoint{
			Method:         e.Method,
			Path:           e.Path,
			ClassName:      e.Class,
			HandlerName:    e.Handler,
			ReturnType:     e.Returns,
			Parameters:     e.Parameters,
			CallTree:       sortedTree(e.CallTree),
			DependencyTree: sortedTree(e.DependencyTree),
			Inferred:       e.Inferred,
			Async:          e.Async,
		})
		if err != nil {
			return nil, err
		}
	}

	for i, c := range inv.Calls {
		if strings.TrimSpace(c.Path) == "" {
			return nil, fmt.Errorf("call %d: path is required", i)
		}
		err := b.AddCall(model.ExternalCall{
			TargetHint:    strings.TrimSpace(c.Target),
			Method:        c.Method,
			Path:          c.Path,
			Kind:          parseKind(c.Kind),
			Parameters:    c.Parameters,
			ReturnType:    c.Returns,
			CallingMethod: c.CallingMethod,
			BaseURLHint:   c.BaseURL,
			Inferred:      c.Inferred,
		})
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

func parseKind(s string) model.CommKind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "SYNC_HTTP", "HTTP", "REST", "SYNC":
		return model.CommSyncHTTP
	case "ASYNC_MESSAGING", "ASYNC", "MESSAGING", "KAFKA", "AMQP":
		return model.CommAsyncMessaging
	}
	return model.CommUnknown
}

// sortedTree dedupes and sorts each set so trees compare stably.
func sortedTree(in map[string][]string) map[string][]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, vs := range in {
		seen := map[string]struct{}{}
		set := make([]string, 0, len(vs))
		for _, v := range vs {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			set = append(set, v)
		}
		sort.Strings(set)
		out[k] = set
	}
	return out
}
