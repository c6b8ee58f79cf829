package pipeline

import (
	"errors"
	"fmt"
)

// Status is the state of an analysis job.
type Status string

const (
	StatusSubmitted        Status = "SUBMITTED"
	StatusParsingFiles     Status = "PARSING_FILES"
	StatusGeneratingUML    Status = "GENERATING_UML"
	StatusComparingResults Status = "COMPARING_RESULTS"
	StatusCompleted        Status = "COMPLETED"
	StatusError            Status = "ERROR"

	// StatusNotFound answers queries for unknown ids. No job is ever in it.
	StatusNotFound Status = "NOT_FOUND"
)

var forward = []Status{
	StatusSubmitted,
	StatusParsingFiles,
	StatusGeneratingUML,
	StatusComparingResults,
	StatusCompleted,
}

// Terminal reports COMPLETED and ERROR.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid reports whether s is a state a job can be in.
func (s Status) Valid() bool {
	return s == StatusError || s.rank() >= 0
}

func (s Status) rank() int {
	for i, x := range forward {
		if x == s {
			return i
		}
	}
	return -1
}

// CanTransition allows one step forward along the main chain, or ERROR from
// any non-terminal state.
func CanTransition(from, to Status) bool {
	if from.Terminal() || !from.Valid() {
		return false
	}
	if to == StatusError {
		return true
	}
	r := from.rank()
	return r >= 0 && to.rank() == r+1
}

var (
	ErrJobNotFound    = errors.New("analysis job not found")
	ErrConflict       = errors.New("analysis job was updated concurrently")
	ErrInvalidRequest = errors.New("invalid analysis request")
	ErrClosed         = errors.New("pipeline closed")
)

// TransitionError reports an attempt to move a job backwards or out of a
// terminal state.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// ErrorKind classifies why a job ended in ERROR.
type ErrorKind string

const (
	KindExtractionFailed             ErrorKind = "EXTRACTION_FAILED"
	KindParseFailed                  ErrorKind = "PARSE_FAILED"
	KindDuplicateIdentity            ErrorKind = "DUPLICATE_IDENTITY"
	KindComparisonInvariantViolation ErrorKind = "COMPARISON_INVARIANT_VIOLATION"
	KindTimeout                      ErrorKind = "TIMEOUT"
	// KindInternal is a runner panic outside extraction and comparison.
	KindInternal                     ErrorKind = "INTERNAL_ERROR"
)

// ErrorDetail is the structured failure attached to an ERROR job.
type ErrorDetail struct {
	Kind    ErrorKind `json:"kind"`
	Path    string    `json:"path,omitempty"`
	Service string    `json:"service,omitempty"`
	Message string    `json:"message"`
}

func (d ErrorDetail) String() string {
	s := string(d.Kind)
	if d.Path != "" {
		s += " " + d.Path
	}
	if d.Service != "" {
		s += " (" + d.Service + ")"
	}
	return s + ": " + d.Message
}
