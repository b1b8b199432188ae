package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Storage is the content-addressed storage boundary. Put returns an
// immutable, globally resolvable content reference for the document.
type Storage interface {
	Put(ctx context.Context, document any, nameHint string) (string, error)
}

// PinataStorage pins JSON documents to IPFS through the Pinata API.
type PinataStorage struct {
	BaseURL    string
	JWT        string
	HTTPClient *http.Client
}

type pinRequest struct {
	PinataContent  any            `json:"pinataContent"`
	PinataMetadata map[string]any `json:"pinataMetadata,omitempty"`
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

func (s PinataStorage) Put(ctx context.Context, document any, nameHint string) (string, error) {
	if strings.TrimSpace(s.JWT) == "" {
		return "", fmt.Errorf("pinata jwt not configured")
	}
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = "https://api.pinata.cloud"
	}
	body := pinRequest{PinataContent: document}
	if nameHint != "" {
		body.PinataMetadata = map[string]any{"name": nameHint}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/pinning/pinJSONToIPFS", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.JWT)
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("pinata status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	var parsed pinResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode pinata response: %w", err)
	}
	if parsed.IpfsHash == "" {
		return "", fmt.Errorf("pinata returned empty content hash")
	}
	return parsed.IpfsHash, nil
}
