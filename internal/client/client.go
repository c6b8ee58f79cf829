// Package client talks to a running apilens server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raysh454/apilens/internal/logging"
	"github.com/raysh454/apilens/internal/pipeline"
	"github.com/raysh454/apilens/internal/report"
	"github.com/raysh454/apilens/internal/server"
)

// FailedError is returned by WaitForResult when the job ended in ERROR.
type FailedError struct {
	AnalysisID string
	Detail     pipeline.ErrorDetail
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("analysis %s failed: %s", e.AnalysisID, e.Detail)
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// New returns a client for the server at baseURL. A nil httpClient uses a
// client with a 30s timeout.
func New(baseURL string, httpClient *http.Client, logger logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With(logging.Field{Key: "component", Value: "client"}),
	}
}

// Submit starts an analysis and returns its id.
func (c *Client) Submit(ctx context.Context, projects, references []string) (string, error) {
	data, err := json.Marshal(server.SubmitRequest{Projects: projects, References: references})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	code, body, err := c.do(ctx, http.MethodPost, "/analyses", data)
	if err != nil {
		return "", err
	}
	if code != http.StatusAccepted {
		return "", httpError(code, body)
	}
	var resp server.SubmitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w (body: %s)", err, string(body))
	}
	c.logger.Info("submitted analysis", logging.Field{Key: "analysis_id", Value: resp.AnalysisID})
	return resp.AnalysisID, nil
}

// Status returns the job status. Unknown ids yield StatusNotFound.
func (c *Client) Status(ctx context.Context, id string) (pipeline.Status, error) {
	code, body, err := c.do(ctx, http.MethodGet, "/analyses/"+id+"/status", nil)
	if err != nil {
		return "", err
	}
	if code != http.StatusOK && code != http.StatusNotFound {
		return "", httpError(code, body)
	}
	var resp server.StatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w (body: %s)", err, string(body))
	}
	return resp.Status, nil
}

// Result mirrors pipeline.Pipeline.Result over HTTP.
func (c *Client) Result(ctx context.Context, id string) (pipeline.Outcome, error) {
	code, body, err := c.do(ctx, http.MethodGet, "/analyses/"+id+"/result", nil)
	if err != nil {
		return pipeline.Outcome{}, err
	}

	switch code {
	case http.StatusOK:
		var res report.AnalysisResult
		if err := json.Unmarshal(body, &res); err != nil {
			return pipeline.Outcome{}, fmt.Errorf("unmarshal result: %w", err)
		}
		return pipeline.Outcome{Kind: pipeline.OutcomeReady, Status: pipeline.StatusCompleted, Result: &res}, nil
	case http.StatusUnprocessableEntity:
		var resp server.FailedResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return pipeline.Outcome{}, fmt.Errorf("unmarshal failure: %w", err)
		}
		return pipeline.Outcome{Kind: pipeline.OutcomeFailed, Status: resp.Status, Error: &resp.Error}, nil
	case http.StatusAccepted, http.StatusNotFound:
		var resp server.StatusResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return pipeline.Outcome{}, fmt.Errorf("unmarshal status: %w", err)
		}
		kind := pipeline.OutcomePending
		if code == http.StatusNotFound {
			kind = pipeline.OutcomeNotFound
		}
		return pipeline.Outcome{Kind: kind, Status: resp.Status}, nil
	}
	return pipeline.Outcome{}, httpError(code, body)
}

// List returns every job the server holds, oldest first.
func (c *Client) List(ctx context.Context) ([]server.JobSummary, error) {
	code, body, err := c.do(ctx, http.MethodGet, "/analyses", nil)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, httpError(code, body)
	}
	var jobs []server.JobSummary
	if err := json.Unmarshal(body, &jobs); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return jobs, nil
}

// WaitForResult polls every interval until the job is terminal. A failed
// job yields a *FailedError, an unknown or evicted one ErrJobNotFound.
func (c *Client) WaitForResult(ctx context.Context, id string, interval time.Duration) (*report.AnalysisResult, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		out, err := c.Result(ctx, id)
		if err != nil {
			return nil, err
		}
		switch out.Kind {
		case pipeline.OutcomeReady:
			return out.Result, nil
		case pipeline.OutcomeFailed:
			return nil, &FailedError{AnalysisID: id, Detail: *out.Error}
		case pipeline.OutcomeNotFound:
			return nil, fmt.Errorf("analysis %s: %w", id, pipeline.ErrJobNotFound)
		}
		c.logger.Debug("waiting for analysis",
			logging.Field{Key: "analysis_id", Value: id},
			logging.Field{Key: "status", Value: string(out.Status)})

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for analysis %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func httpError(code int, body []byte) error {
	var e server.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return fmt.Errorf("HTTP %d: %s", code, e.Error)
	}
	return fmt.Errorf("HTTP %d: %s", code, strings.TrimSpace(string(body)))
}
