// Package conformance diffs a linked service model against its reference
// document and scores the agreement in four fixed categories.
package conformance

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
)

// Category is one of the four fixed score categories.
type Category string

const (
	APICoverage              Category = "api-coverage"
	ParameterFidelity        Category = "parameter-fidelity"
	CallGraphIntegrity       Category = "call-graph-integrity"
	DocumentationConsistency Category = "documentation-consistency"
)

// Categories lists every category in reporting order.
var Categories = []Category{APICoverage, ParameterFidelity, CallGraphIntegrity, DocumentationConsistency}

func (c Category) rank() int {
	for i, x := range Categories {
		if x == c {
			return i
		}
	}
	return len(Categories)
}

// DiscrepancyKind is the closed taxonomy of findings.
type DiscrepancyKind string

const (
	// api-coverage
	MissingEndpoint       DiscrepancyKind = "MISSING_ENDPOINT"
	UndocumentedEndpoint  DiscrepancyKind = "UNDOCUMENTED_ENDPOINT"
	UnparseableDescriptor DiscrepancyKind = "UNPARSEABLE_DESCRIPTOR"

	// parameter-fidelity
	ParameterMismatch DiscrepancyKind = "PARAMETER_MISMATCH"
	UnknownAPIEntry   DiscrepancyKind = "UNKNOWN_API_ENTRY"

	// call-graph-integrity
	UnresolvedCall   DiscrepancyKind = "UNRESOLVED_CALL"
	AmbiguousCall    DiscrepancyKind = "AMBIGUOUS_CALL"
	IncompatibleCall DiscrepancyKind = "INCOMPATIBLE_CALL"

	// documentation-consistency
	UnmatchedSequenceStep DiscrepancyKind = "UNMATCHED_SEQUENCE_STEP"
	UnmatchedExternalAPI  DiscrepancyKind = "UNMATCHED_EXTERNAL_API"
)

// Discrepancy is one concrete mismatch.
type Discrepancy struct {
	Category Category        `json:"category"`
	Kind     DiscrepancyKind `json:"kind"`
	Subject  string          `json:"subject"`
	Detail   string          `json:"detail"`
}

// String is the stable text consumed by report renderers.
func (d Discrepancy) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", d.Category, d.Kind, d.Subject, d.Detail)
}

func sortDiscrepancies(ds []Discrepancy) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if ra, rb := a.Category.rank(), b.Category.rank(); ra != rb {
			return ra < rb
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Detail < b.Detail
	})
}

// ComparisonResult is the immutable outcome for one service.
type ComparisonResult struct {
	service       string
	overall       float64
	scores        map[Category]float64
	discrepancies []Discrepancy
}

func (r *ComparisonResult) Service() string       { return r.service }
func (r *ComparisonResult) OverallScore() float64 { return r.overall }

// Score returns one category score.
func (r *ComparisonResult) Score(c Category) float64 { return r.scores[c] }

// DetailedScores returns a copy keyed by category name.
func (r *ComparisonResult) DetailedScores() map[Category]float64 { return maps.Clone(r.scores) }

func (r *ComparisonResult) Discrepancies() []Discrepancy { return slices.Clone(r.discrepancies) }

// DiscrepancyText renders every discrepancy in order.
func (r *ComparisonResult) DiscrepancyText() []string {
	out := make([]string, len(r.discrepancies))
	for i, d := range r.discrepancies {
		out[i] = d.String()
	}
	return out
}

// ErrInvariantViolation is matched by every *InvariantViolation.
var ErrInvariantViolation = errors.New("comparison invariant violation")

// InvariantViolation is the only failure mode of a comparison and is fatal
// to the owning analysis.
type InvariantViolation struct {
	Service string
	Reason  string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("comparison invariant violated for %q: %s", e.Service, e.Reason)
}

func (e *InvariantViolation) Is(target error) bool { return target == ErrInvariantViolation }
