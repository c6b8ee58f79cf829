// Package reference models the human-authored design document a service is
// compared against, and parses it from Markdown, HTML or YAML files.
package reference

import (
	"errors"
	"fmt"
	"slices"
)

// ErrParse is matched by every *ParseError.
var ErrParse = errors.New("reference parse failed")

// ParseError wraps any failure to read or decode a reference document.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse reference %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }

// APIEntry is one documented API method.
type APIEntry struct {
	ClassName  string `yaml:"class" json:"class_name"`
	MethodName string `yaml:"method" json:"method_name"`
	ReturnType string `yaml:"returns" json:"return_type"`
	// Parameters is the signature as written, e.g. "id:Long, verbose:Boolean".
	Parameters string `yaml:"parameters" json:"parameters"`
}

// Content is the decoded body of a design document before it is sealed.
type Content struct {
	Service         string     `yaml:"service"`
	Title           string     `yaml:"title"`
	ClassDiagram    string     `yaml:"class_diagram"`
	SequenceDiagram string     `yaml:"sequence_diagram"`
	APIEntries      []APIEntry `yaml:"api_entries"`
	SequenceSteps   []string   `yaml:"sequence_steps"`
	ExposedAPIs     []string   `yaml:"exposed_apis"`
	ExternalAPIs    []string   `yaml:"external_apis"`
}

// Model is the immutable reference model of one service.
type Model struct {
	analysisID string
	c          Content
	// inferred is set when the service name came from the file name rather
	// than from the document.
	inferred bool
}

// New seals content into a Model.
func New(c Content) *Model {
	return &Model{c: cloneContent(c)}
}

// WithAnalysisID returns a copy bound to an analysis run.
func (m *Model) WithAnalysisID(id string) *Model {
	return &Model{analysisID: id, c: cloneContent(m.c), inferred: m.inferred}
}

// ForService returns a copy attributed to service. The name then counts as
// declared.
func (m *Model) ForService(service string) *Model {
	c := cloneContent(m.c)
	c.Service = service
	return &Model{analysisID: m.analysisID, c: c}
}

// ServiceInferred reports whether the document left its service unnamed, so
// Service is either empty or derived from the file name.
func (m *Model) ServiceInferred() bool { return m.inferred || m.c.Service == "" }

func (m *Model) AnalysisID() string      { return m.analysisID }
func (m *Model) Service() string         { return m.c.Service }
func (m *Model) Title() string           { return m.c.Title }
func (m *Model) ClassDiagram() string    { return m.c.ClassDiagram }
func (m *Model) SequenceDiagram() string { return m.c.SequenceDiagram }

func (m *Model) APIEntries() []APIEntry  { return slices.Clone(m.c.APIEntries) }
func (m *Model) SequenceSteps() []string { return slices.Clone(m.c.SequenceSteps) }
func (m *Model) ExposedAPIs() []string   { return slices.Clone(m.c.ExposedAPIs) }
func (m *Model) ExternalAPIs() []string  { return slices.Clone(m.c.ExternalAPIs) }

// Content returns a copy of the decoded content.
func (m *Model) Content() Content { return cloneContent(m.c) }

func cloneContent(c Content) Content {
	c.APIEntries = slices.Clone(c.APIEntries)
	c.SequenceSteps = slices.Clone(c.SequenceSteps)
	c.ExposedAPIs = slices.Clone(c.ExposedAPIs)
	c.ExternalAPIs = slices.Clone(c.ExternalAPIs)
	return c
}
