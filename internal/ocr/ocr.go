package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client extracts text from evidence documents through the OCR.space
// parse API. Extraction is preprocessing only: a failure degrades the
// evaluation package to document-less analysis, it never fails a request.
type Client struct {
	BaseURL    string
	APIKey     string
	GatewayURL string
	HTTPClient *http.Client
}

type parseResult struct {
	ParsedResults []struct {
		ParsedText   string `json:"ParsedText"`
		ErrorMessage string `json:"ErrorMessage"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool   `json:"IsErroredOnProcessing"`
	ErrorMessage          any    `json:"ErrorMessage"`
	OCRExitCode           int    `json:"OCRExitCode"`
	ProcessingTime        string `json:"ProcessingTimeInMilliseconds"`
}

func (c Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// ExtractAll fetches each content-addressed document through the gateway
// and extracts its text. Documents that fail extraction are returned as
// empty strings so positions stay aligned with the input references.
func (c Client) ExtractAll(ctx context.Context, cids []string) []string {
	texts := make([]string, len(cids))
	for i, cid := range cids {
		text, err := c.Extract(ctx, cid)
		if err != nil {
			continue
		}
		texts[i] = text
	}
	return texts
}

// Extract runs OCR over one document by its content reference.
func (c Client) Extract(ctx context.Context, cid string) (string, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return "", fmt.Errorf("ocr api key not configured")
	}
	gateway := c.GatewayURL
	if gateway == "" {
		gateway = "https://gateway.pinata.cloud/ipfs"
	}
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "https://api.ocr.space"
	}

	form := url.Values{}
	form.Set("url", strings.TrimRight(gateway, "/")+"/"+cid)
	form.Set("apikey", c.APIKey)
	form.Set("isOverlayRequired", "false")
	form.Set("OCREngine", "2")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/parse/image", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("ocr status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	var parsed parseResult
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	if parsed.IsErroredOnProcessing {
		return "", fmt.Errorf("ocr processing error: %v", parsed.ErrorMessage)
	}
	var b strings.Builder
	for _, r := range parsed.ParsedResults {
		if r.ParsedText != "" {
			b.WriteString(r.ParsedText)
			b.WriteString("\n")
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("ocr produced no text for %s", cid)
	}
	return text, nil
}
