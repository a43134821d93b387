// Package browser provides a client for the browser sidecar that drives the
// queue portal.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/wolfman30/patient-capture/pkg/logging"
)

// BookingNameSelector matches the patient name element on each booking card.
const BookingNameSelector = `[data-testid^="booking-patient-name-"]`

// HealthResponse is the health check response from the sidecar.
type HealthResponse struct {
	Status       string `json:"status"` // ok, degraded, error
	Version      string `json:"version"`
	BrowserReady bool   `json:"browserReady"`
	Uptime       int    `json:"uptime"` // seconds
}

// MonitorStartRequest opens the queue page and starts forwarding events.
type MonitorStartRequest struct {
	QueueURL string `json:"queueUrl"`
	Headless bool   `json:"headless"`
	// ResponseKeywords limits forwarded network responses to URLs containing
	// one of these substrings. Empty forwards everything.
	ResponseKeywords []string `json:"responseKeywords,omitempty"`
	Timeout          int      `json:"timeout,omitempty"` // milliseconds, default 30000
}

// MonitorStartResponse is returned when a monitor session is created.
type MonitorStartResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
	PageURL   string `json:"pageUrl"`
	Error     string `json:"error,omitempty"`
}

// ElementsRequest asks for elements matching a CSS selector.
type ElementsRequest struct {
	Selector string `json:"selector"`
	// ContainerDepth is how many ancestors to climb for ContainerText.
	ContainerDepth int `json:"containerDepth,omitempty"`
}

// Element is a rendered element's text and the text of its enclosing card.
type Element struct {
	Text          string `json:"text"`
	ContainerText string `json:"containerText"`
}

// ElementsResponse carries the matched elements.
type ElementsResponse struct {
	Success  bool      `json:"success"`
	Elements []Element `json:"elements"`
	Error    string    `json:"error,omitempty"`
}

// Client is an HTTP client for the browser sidecar service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new browser sidecar client.
// baseURL should be the sidecar service URL (e.g., "http://localhost:3000").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logging.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Health checks the health of the browser sidecar.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("browser: create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browser: health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("browser: health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("browser: decode health response: %w", err)
	}

	return &health, nil
}

// IsReady checks if the browser sidecar is ready to accept requests.
func (c *Client) IsReady(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// WaitReady polls /ready every interval until the sidecar answers or ctx is
// done.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if c.IsReady(ctx) {
			return nil
		}
		c.logger.Debug("browser sidecar not ready yet", "url", c.baseURL)
		select {
		case <-ctx.Done():
			return fmt.Errorf("browser: sidecar not ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// StartMonitorSession opens the queue page in the sidecar browser and starts
// forwarding Add Patient submissions and network responses as events.
func (c *Client) StartMonitorSession(ctx context.Context, req MonitorStartRequest) (*MonitorStartResponse, error) {
	if req.QueueURL == "" {
		return nil, fmt.Errorf("browser: queue url is required")
	}
	if req.Timeout == 0 {
		req.Timeout = 30000
	}

	c.logger.Info("starting monitor session", "url", req.QueueURL, "headless", req.Headless)

	var result MonitorStartResponse
	if err := c.postJSON(ctx, "/api/v1/monitor/start", req, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return &result, fmt.Errorf("browser: monitor session not started: %s", result.Error)
	}
	return &result, nil
}

// QueryElements returns the text of elements matching selector on the
// session's page.
func (c *Client) QueryElements(ctx context.Context, sessionID string, req ElementsRequest) ([]Element, error) {
	var result ElementsResponse
	path := "/api/v1/monitor/" + url.PathEscape(sessionID) + "/elements"
	if err := c.postJSON(ctx, path, req, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("browser: query elements failed: %s", result.Error)
	}
	return result.Elements, nil
}

// StopMonitorSession closes the session's page.
func (c *Client) StopMonitorSession(ctx context.Context, sessionID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/v1/monitor/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return fmt.Errorf("browser: create stop request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("browser: stop request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("browser: monitor session not found: %s", sessionID)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("browser: stop failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("browser: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("browser: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("browser: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("browser: %s failed with status %d: %s", path, resp.StatusCode, string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("browser: decode response: %w", err)
	}
	return nil
}
