package cloudlog

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/MimeLyc/cloudml-magic/internal/gcp"
)

// Client queries the log API (v2 entries:list).
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("invalid configuration: base URL is required")
	}
	if httpClient == nil {
		return nil, fmt.Errorf("invalid configuration: http client is required")
	}
	return &Client{httpClient: httpClient, baseURL: baseURL}, nil
}

func (c *Client) ListEntries(ctx context.Context, req ListRequest) (*ListResponse, error) {
	var resp ListResponse
	if err := gcp.DoJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/v2/entries:list", req, &resp); err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	return &resp, nil
}
