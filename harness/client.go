// Package harness drives a running sr-api end to end: it executes the
// happy-path governance scenario over HTTP, records a deterministic
// transcript with invariant checks, and proves replay determinism.
package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client wraps the sr-api HTTP surface with separate HUMAN and SYSTEM
// credentials, matching the two actor kinds the scenario exercises.
type Client struct {
	BaseURL     string
	HumanToken  string
	SystemToken string

	http *http.Client
}

func NewClient(baseURL, humanToken, systemToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		HumanToken:  humanToken,
		SystemToken: systemToken,
		http:        &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError carries a non-2xx response body.
type apiError struct {
	Status int
	Body   string
}

func (e apiError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path, token string, body any, target any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return apiError{Status: resp.StatusCode, Body: string(data)}
	}
	if target != nil {
		return json.Unmarshal(data, target)
	}
	return nil
}

func (c *Client) CreateLoop(ctx context.Context, title, goal string) (string, error) {
	var out struct {
		LoopID string `json:"loop_id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/loops", c.HumanToken,
		map[string]any{"title": title, "goal": goal}, &out)
	return out.LoopID, err
}

func (c *Client) TransitionLoop(ctx context.Context, loopID, action, reason string) (string, error) {
	var out struct {
		State string `json:"state"`
	}
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/loops/"+loopID+"/"+action, c.HumanToken, body, &out)
	return out.State, err
}

func (c *Client) GetLoopState(ctx context.Context, loopID string) (string, error) {
	var out struct {
		State string `json:"state"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/loops/"+loopID, c.HumanToken, nil, &out)
	return out.State, err
}

// StartIteration records IterationStarted with the SYSTEM credential.
func (c *Client) StartIteration(ctx context.Context, loopID string) (string, error) {
	var out struct {
		IterationID string `json:"iteration_id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/iterations", c.SystemToken,
		map[string]any{"loop_id": loopID}, &out)
	return out.IterationID, err
}

func (c *Client) CompleteIteration(ctx context.Context, iterationID, outcome, candidateID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/iterations/"+iterationID+"/complete", c.HumanToken,
		map[string]any{"outcome": outcome, "candidate_id": candidateID}, nil)
}

func (c *Client) CreateCandidate(ctx context.Context, iterationID, gitSHA, contentHash string) (string, error) {
	var out struct {
		CandidateID string `json:"candidate_id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/candidates", c.HumanToken, map[string]any{
		"iteration_id": iterationID,
		"git_sha":      gitSHA,
		"content_hash": contentHash,
	}, &out)
	return out.CandidateID, err
}

func (c *Client) RegisterSuite(ctx context.Context, definition any) (string, error) {
	var out struct {
		SuiteHash string `json:"suite_hash"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/oracle-suites", c.HumanToken, definition, &out)
	return out.SuiteHash, err
}

func (c *Client) CreateRun(ctx context.Context, candidateID, suiteID string) (string, error) {
	var out struct {
		RunID string `json:"run_id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/runs", c.HumanToken, map[string]any{
		"candidate_id": candidateID,
		"suite_id":     suiteID,
	}, &out)
	return out.RunID, err
}

type runView struct {
	RunID       string `json:"run_id"`
	State       string `json:"state"`
	Verdict     string `json:"verdict"`
	BundleHash  string `json:"bundle_hash"`
	CandidateID string `json:"candidate_id"`
}

func (c *Client) GetRun(ctx context.Context, runID string) (*runView, error) {
	var out runView
	err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+runID, c.HumanToken, nil, &out)
	return &out, err
}

type storedEvidence struct {
	ContentHash string `json:"content_hash"`
	SizeBytes   int64  `json:"size_bytes"`
}

func (c *Client) StoreEvidence(ctx context.Context, manifest json.RawMessage, blobs map[string]string) (*storedEvidence, error) {
	var out storedEvidence
	err := c.do(ctx, http.MethodPost, "/api/v1/evidence", c.SystemToken, map[string]any{
		"manifest": manifest,
		"blobs":    blobs,
	}, &out)
	return &out, err
}

func (c *Client) GetEvidence(ctx context.Context, contentHash string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/v1/evidence/"+contentHash, c.HumanToken, nil, &out)
	return out, err
}

type verifyResult struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

func (c *Client) VerifyEvidence(ctx context.Context, contentHash string) (*verifyResult, error) {
	var out verifyResult
	err := c.do(ctx, http.MethodGet, "/api/v1/evidence/"+contentHash+"/verify", c.HumanToken, nil, &out)
	return &out, err
}

type completedRun struct {
	Verdict      string `json:"verdict"`
	Verification *struct {
		Status string `json:"status"`
	} `json:"verification"`
}

func (c *Client) CompleteRun(ctx context.Context, runID, verdict, bundleHash string) (*completedRun, error) {
	var out completedRun
	err := c.do(ctx, http.MethodPost, "/api/v1/runs/"+runID+"/complete", c.SystemToken, map[string]any{
		"verdict":     verdict,
		"bundle_hash": bundleHash,
	}, &out)
	return &out, err
}

type candidateView struct {
	CandidateID string `json:"candidate_id"`
	Verified    bool   `json:"verified"`
}

func (c *Client) GetCandidate(ctx context.Context, candidateID string) (*candidateView, error) {
	var out candidateView
	// Candidate ids carry provenance separators ("|", ":"), so escape them.
	err := c.do(ctx, http.MethodGet, "/api/v1/candidates/"+url.PathEscape(candidateID), c.HumanToken, nil, &out)
	return &out, err
}
