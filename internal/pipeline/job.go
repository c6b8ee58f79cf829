package pipeline

import (
	"slices"
	"time"

	"github.com/raysh454/apilens/internal/model"
	"github.com/raysh454/apilens/internal/reference"
	"github.com/raysh454/apilens/internal/report"
)

// Job is an immutable snapshot of an analysis job. Every transition
// publishes a new snapshot with Version incremented; snapshots handed out by
// a JobStore are shared and must not be modified.
type Job struct {
	ID         string       `json:"id"`
	Status     Status       `json:"status"`
	Version    int64        `json:"version"`
	Projects   []string     `json:"projects"`
	References []string     `json:"references"`
	Services   []string     `json:"services,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`

	// Result is set only when Status is COMPLETED.
	Result *report.AnalysisResult `json:"-"`

	// The batch under analysis. Held in memory only.
	Models          []*model.ServiceAPIModel `json:"-"`
	ReferenceModels []*reference.Model       `json:"-"`
}

func newJob(id string, projects, refs []string, now time.Time) *Job {
	return &Job{
		ID:         id,
		Status:     StatusSubmitted,
		Version:    1,
		Projects:   slices.Clone(projects),
		References: slices.Clone(refs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// next returns a copy moved to status, or a *TransitionError.
func (j *Job) next(to Status, now time.Time) (*Job, error) {
	if !CanTransition(j.Status, to) {
		return nil, &TransitionError{From: j.Status, To: to}
	}
	n := *j
	n.Status = to
	n.Version = j.Version + 1
	n.UpdatedAt = now
	return &n, nil
}

// failed returns a copy moved to ERROR with detail. Result and the in-memory
// batch are dropped so a failed job never carries partial output.
func (j *Job) failed(detail ErrorDetail, now time.Time) (*Job, error) {
	n, err := j.next(StatusError, now)
	if err != nil {
		return nil, err
	}
	n.Error = &detail
	n.Result = nil
	n.Models = nil
	n.ReferenceModels = nil
	return n, nil
}

// Clone returns a copy that shares nothing mutable with j.
func (j *Job) Clone() *Job {
	n := *j
	n.Projects = slices.Clone(j.Projects)
	n.References = slices.Clone(j.References)
	n.Services = slices.Clone(j.Services)
	n.Models = slices.Clone(j.Models)
	n.ReferenceModels = slices.Clone(j.ReferenceModels)
	if j.Error != nil {
		e := *j.Error
		n.Error = &e
	}
	if j.Result != nil {
		n.Result = j.Result.Clone()
	}
	return &n
}
