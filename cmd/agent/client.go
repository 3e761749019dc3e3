package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clusterguard/inspector/internal/agentplane"
	"github.com/clusterguard/inspector/internal/run"
)

// apiClient talks to the orchestration server's /agents surface (spec §6).
type apiClient struct {
	baseURL string
	agentID string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, agentID, token string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		agentID: agentID,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type registerRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	PrometheusURL string `json:"prometheus_url,omitempty"`
}

type registerResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

func registerAgent(baseURL, name, description, prometheusURL string) (registerResponse, error) {
	body, _ := json.Marshal(registerRequest{Name: name, Description: description, PrometheusURL: prometheusURL})
	resp, err := http.Post(baseURL+"/agents", "application/json", bytes.NewReader(body))
	if err != nil {
		return registerResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return registerResponse{}, apiError(resp)
	}
	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return registerResponse{}, err
	}
	return out, nil
}

func (c *apiClient) Heartbeat() error {
	resp, err := c.do(http.MethodPost, "/agents/"+c.agentID+"/heartbeat", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

func (c *apiClient) PullTasks() ([]agentplane.Task, error) {
	resp, err := c.do(http.MethodGet, "/agents/"+c.agentID+"/tasks", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var tasks []agentplane.Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

type submitResultRequest struct {
	RunID      string           `json:"run_id"`
	ItemID     string           `json:"item_id"`
	Status     run.ResultStatus `json:"status"`
	Detail     string           `json:"detail,omitempty"`
	Suggestion string           `json:"suggestion,omitempty"`
}

func (c *apiClient) SubmitResult(runID, itemID string, status run.ResultStatus, detail, suggestion string) error {
	body, _ := json.Marshal(submitResultRequest{
		RunID: runID, ItemID: itemID, Status: status, Detail: detail, Suggestion: suggestion,
	})
	resp, err := c.do(http.MethodPost, "/agents/"+c.agentID+"/results", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

type reportFailureRequest struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason,omitempty"`
}

func (c *apiClient) ReportFailure(runID, reason string) error {
	body, _ := json.Marshal(reportFailureRequest{RunID: runID, Reason: reason})
	resp, err := c.do(http.MethodPost, "/agents/"+c.agentID+"/fail", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

func (c *apiClient) do(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(data))
}
