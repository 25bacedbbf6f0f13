// Package renderer submits books to the layout service. The service
// answers 202 and later calls back with the asset ref, or 200 with the
// asset ref when it rendered synchronously.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"familybook/internal/apperr"
	"familybook/internal/domain/issues"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type produceResponse struct {
	AssetRef string `json:"asset_ref"`
}

func (c *Client) Produce(ctx context.Context, req issues.ProductionRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode production request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/books", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build production request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", "produce-"+req.BookID)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", apperr.Dependency("renderer_unreachable", "renderer request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	switch {
	case resp.StatusCode == http.StatusAccepted:
		return "", nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out produceResponse
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &out); err != nil {
				return "", apperr.Dependency("renderer_bad_response", "renderer returned malformed JSON", err)
			}
		}
		return out.AssetRef, nil
	default:
		return "", apperr.Dependency("renderer_rejected",
			fmt.Sprintf("renderer returned %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(raw))))
	}
}
