package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AgentHealth is the body of GET /healthz.
type AgentHealth struct {
	Status string     `json:"status"`
	Pages  int        `json:"pages"`
	Sink   SinkHealth `json:"sink"`
}

// HTTPClient makes REST calls to the agent.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8765").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetPages fetches /api/pages.
func (c *HTTPClient) GetPages() ([]PageState, error) {
	var out []PageState
	if err := c.get("/api/pages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetHealth fetches /healthz.
func (c *HTTPClient) GetHealth() (*AgentHealth, error) {
	var h AgentHealth
	if err := c.get("/healthz", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HTTPClient) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
