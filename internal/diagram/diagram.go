// Package diagram generates Mermaid class and sequence diagram text for a
// service model and defines the boundary to image renderers.
package diagram

import (
	"context"
	"errors"
	"fmt"
)

// Kind names one of the two diagrams kept per service.
type Kind string

const (
	ClassDiagram    Kind = "class"
	SequenceDiagram Kind = "sequence"
)

// ErrRender is matched by every *RenderError.
var ErrRender = errors.New("diagram render failed")

// RenderError reports a failure to produce diagram text or an image. It never
// fails an analysis; the diagram is left empty instead.
type RenderError struct {
	Service string
	Diagram Kind
	Err     error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s diagram for %s: %v", e.Diagram, e.Service, e.Err)
}

func (e *RenderError) Unwrap() []error { return []error{ErrRender, e.Err} }

// Diagrams holds the Mermaid text of one service.
type Diagrams struct {
	Service  string `json:"service"`
	Class    string `json:"class"`
	Sequence string `json:"sequence"`
}

// Image is a rendered diagram.
type Image struct {
	Service     string `json:"service"`
	Diagram     Kind   `json:"diagram"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Renderer turns diagram text into image bytes.
type Renderer interface {
	Render(ctx context.Context, text string) (Image, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, text string) (Image, error)

func (f RendererFunc) Render(ctx context.Context, text string) (Image, error) { return f(ctx, text) }

// RenderAll renders both diagrams of a service. Failures are returned
// alongside whatever rendered successfully.
func RenderAll(ctx context.Context, r Renderer, d Diagrams) ([]Image, []error) {
	var (
		images []Image
		errs   []error
	)
	for _, item := range []struct {
		kind Kind
		text string
	}{{ClassDiagram, d.Class}, {SequenceDiagram, d.Sequence}} {
		if item.text == "" {
			continue
		}
		img, err := r.Render(ctx, item.text)
		if err != nil {
			errs = append(errs, &RenderError{Service: d.Service, Diagram: item.kind, Err: err})
			continue
		}
		img.Service, img.Diagram = d.Service, item.kind
		images = append(images, img)
	}
	return images, errs
}
