package server

import (
	"time"

	"github.com/raysh454/apilens/internal/pipeline"
)

// SubmitRequest names the batch to analyse: project archives or directories
// and the design documents describing them.
type SubmitRequest struct {
	Projects   []string `json:"projects"`
	References []string `json:"references"`
}

// SubmitResponse is returned with 202 Accepted.
type SubmitResponse struct {
	AnalysisID string          `json:"analysis_id"`
	Status     pipeline.Status `json:"status"`
}

// StatusResponse answers status polls, and result polls of unfinished jobs.
type StatusResponse struct {
	AnalysisID string          `json:"analysis_id"`
	Status     pipeline.Status `json:"status"`
}

// FailedResponse answers result polls of a job that ended in ERROR.
type FailedResponse struct {
	AnalysisID string               `json:"analysis_id"`
	Status     pipeline.Status      `json:"status"`
	Error      pipeline.ErrorDetail `json:"error"`
}

// JobSummary is one entry of the job listing.
type JobSummary struct {
	AnalysisID string                `json:"analysis_id"`
	Status     pipeline.Status       `json:"status"`
	Projects   []string              `json:"projects"`
	References []string              `json:"references"`
	Services   []string              `json:"services"`
	Error      *pipeline.ErrorDetail `json:"error,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error"`
}

func summarize(j *pipeline.Job) JobSummary {
	s := JobSummary{
		AnalysisID: j.ID,
		Status:     j.Status,
		Projects:   j.Projects,
		References: j.References,
		Services:   j.Services,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	for _, p := range []*[]string{&s.Projects, &s.References, &s.Services} {
		if *p == nil {
			*p = []string{}
		}
	}
	return s
}
