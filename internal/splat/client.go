// Package splat drives the remote image-to-splat backend: job submission,
// in-memory tracking of outstanding requests, and status polling until a
// terminal state.
package splat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// Status is a remote job state as reported by the backend, plus the two
// locally derived terminal states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed_out"
)

// Terminal reports whether polling stops at this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// Result is the payload of a completed job.
type Result struct {
	AssetURL  string `json:"assetUrl"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"sizeBytes"`
}

// StatusResponse is one status observation.
type StatusResponse struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ClientConfig wires the backend endpoint and the tracker that records
// submitted jobs.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Tracker    *Tracker
	HTTPClient *http.Client
}

// Client talks to the splat generation backend.
type Client struct {
	baseURL    string
	apiKey     string
	tracker    *Tracker
	httpClient *http.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("splat backend URL required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("tracker required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		tracker:    cfg.Tracker,
		httpClient: httpClient,
	}, nil
}

// SubmitReference creates a job from a URL the backend can fetch and
// registers it in the tracker.
func (c *Client) SubmitReference(ctx context.Context, imageURL string) (string, error) {
	if strings.TrimSpace(imageURL) == "" {
		return "", &SubmissionError{Reason: "image URL required"}
	}
	payload, err := json.Marshal(map[string]string{"imageUrl": imageURL})
	if err != nil {
		return "", &SubmissionError{Reason: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs", bytes.NewReader(payload))
	if err != nil {
		return "", &SubmissionError{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.submit(req, imageURL)
}

// SubmitContent creates a job from raw image bytes via a multipart upload
// and registers it in the tracker.
func (c *Client) SubmitContent(ctx context.Context, data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", &SubmissionError{Reason: "empty image content"}
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", &SubmissionError{Reason: "build multipart form", Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return "", &SubmissionError{Reason: "write multipart form", Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &SubmissionError{Reason: "close multipart form", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs/upload", &buf)
	if err != nil {
		return "", &SubmissionError{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.submit(req, filename)
}

func (c *Client) submit(req *http.Request, imageRef string) (string, error) {
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SubmissionError{Reason: "backend unreachable", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", &SubmissionError{Reason: fmt.Sprintf("backend rejected submission: %s", errorMessage(resp))}
	}
	var out struct {
		RequestID string `json:"requestId"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", &SubmissionError{Reason: "decode response", Err: err}
	}
	if out.RequestID == "" {
		return "", &SubmissionError{Reason: "backend returned no request id"}
	}
	c.tracker.Register(out.RequestID, imageRef)
	return out.RequestID, nil
}

// Status queries a job. All failures here are transient: the poll loop
// retries them on its next tick without a state change.
func (c *Client) Status(ctx context.Context, requestID string) (StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/jobs/"+requestID, nil)
	if err != nil {
		return StatusResponse{}, transient(err)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return StatusResponse{}, transient(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return StatusResponse{}, transient(fmt.Errorf("status query: %s", errorMessage(resp)))
	}
	var out StatusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return StatusResponse{}, transient(fmt.Errorf("decode status: %w", err))
	}
	return out, nil
}

// Result fetches the completed job's asset descriptor. Failures are hard:
// the caller does not retry this call.
func (c *Client) Result(ctx context.Context, requestID string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/jobs/"+requestID+"/result", nil)
	if err != nil {
		return Result{}, err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("result fetch: %s", errorMessage(resp))
	}
	var out Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func errorMessage(resp *http.Response) string {
	var errResp struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&errResp)
	if errResp.Error != "" {
		return errResp.Error
	}
	return resp.Status
}
