package check

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PrometheusClient is a minimal instant-query client against an external
// Prometheus HTTP API, grounded in the original implementation's
// PrometheusClient.query/extract_value contract.
type PrometheusClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewPrometheusClient(baseURL string) *PrometheusClient {
	return &PrometheusClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type promSample struct {
	Metric map[string]string `json:"metric"`
	Value  []any             `json:"value"`
}

type promResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType"`
	Error     string `json:"error"`
	Data      struct {
		Result []promSample `json:"result"`
	} `json:"data"`
}

// Query executes an instant query. ok=false means the query itself failed
// (transport error, non-200, malformed body, or Prometheus-side error); an
// empty but successful result is ok=true with a zero-length slice.
func (c *PrometheusClient) Query(ctx context.Context, expression string) (ok bool, results []promSample, message string) {
	if c.BaseURL == "" {
		return false, nil, "Prometheus base URL is empty"
	}

	endpoint := fmt.Sprintf("%s/api/v1/query?query=%s&time=%s", trimTrailingSlash(c.BaseURL), url.QueryEscape(expression), strconv.FormatInt(time.Now().Unix(), 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, nil, fmt.Sprintf("building request: %v", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, nil, fmt.Sprintf("Prometheus request error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil, fmt.Sprintf("Prometheus returned HTTP %d", resp.StatusCode)
	}

	var parsed promResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, nil, "Prometheus response is not valid JSON"
	}
	if parsed.Status != "success" {
		return false, nil, fmt.Sprintf("Prometheus query failed: %s %s", parsed.ErrorType, parsed.Error)
	}
	return true, parsed.Data.Result, ""
}

// extractValue parses a sample's instant-query [timestamp, value] pair.
// NaN is returned as a valid float (not an error) so callers can apply the
// NaN-forces-failure rule for equality predicates (spec §4.3 edge case).
func extractValue(sample promSample) (float64, bool) {
	if len(sample.Value) < 2 {
		return 0, false
	}
	s, ok := sample.Value[1].(string)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
