package prop99sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Prop99 oracle HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Request represents the API request lifecycle model.
type Request struct {
	RequestID    string   `json:"request_id"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	DocumentCIDs []string `json:"document_cids,omitempty"`
	Stage        string   `json:"stage"`
	FailedStage  string   `json:"failed_stage,omitempty"`
	FailCause    string   `json:"fail_cause,omitempty"`
	Valuation    *float64 `json:"valuation,omitempty"`
	Confidence   *int     `json:"confidence,omitempty"`
	EvidenceCID  string   `json:"evidence_cid,omitempty"`
	TxHash       string   `json:"tx_hash,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// Evidence represents an archived evidence reference.
type Evidence struct {
	RequestID string `json:"request_id"`
	CID       string `json:"cid"`
	URL       string `json:"url,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// Event represents a log entry. Payload is the raw JSON payload.
type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts"`
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Stage     string `json:"stage"`
	Payload   string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitRequest queues a verification request.
func (c *Client) SubmitRequest(ctx context.Context, requestID string, latitude, longitude float64, documentCIDs []string) (Request, error) {
	body := map[string]any{
		"request_id":    requestID,
		"latitude":      latitude,
		"longitude":     longitude,
		"document_cids": documentCIDs,
	}
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests", body, &resp)
	return resp, err
}

// GetRequest fetches the lifecycle record for a request.
func (c *Client) GetRequest(ctx context.Context, requestID string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, "v0/requests/"+url.PathEscape(requestID), nil, &resp)
	return resp, err
}

// ListRequests lists requests, optionally filtered by stage.
func (c *Client) ListRequests(ctx context.Context, stage string, limit int) ([]Request, error) {
	endpoint := "v0/requests"
	q := url.Values{}
	if stage != "" {
		q.Set("stage", stage)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Request
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetEvidence fetches the evidence reference for a request.
func (c *Client) GetEvidence(ctx context.Context, requestID string) (Evidence, error) {
	var resp Evidence
	err := c.do(ctx, http.MethodGet, "v0/evidence/"+url.PathEscape(requestID), nil, &resp)
	return resp, err
}

// Events lists the event log for a request.
func (c *Client) Events(ctx context.Context, requestID string, limit int) ([]Event, error) {
	endpoint := "v0/requests/" + url.PathEscape(requestID) + "/events"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
