package mlengine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MimeLyc/cloudml-magic/internal/gcp"
)

// Client talks to the training job API (v1 projects.jobs).
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient expects an already authenticated HTTP client.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("invalid configuration: base URL is required")
	}
	if httpClient == nil {
		return nil, fmt.Errorf("invalid configuration: http client is required")
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}, nil
}

// CreateJob submits job under parent ("projects/<id>").
func (c *Client) CreateJob(ctx context.Context, parent string, job Job) (*Job, error) {
	if job.JobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	var created Job
	endpoint := fmt.Sprintf("%s/v1/%s/jobs", c.baseURL, parent)
	if err := gcp.DoJSON(ctx, c.httpClient, http.MethodPost, endpoint, job, &created); err != nil {
		return nil, fmt.Errorf("create job %s: %w", job.JobID, err)
	}
	return &created, nil
}

func (c *Client) GetJob(ctx context.Context, parent, jobID string) (*Job, error) {
	var job Job
	endpoint := fmt.Sprintf("%s/v1/%s/jobs/%s", c.baseURL, parent, url.PathEscape(jobID))
	if err := gcp.DoJSON(ctx, c.httpClient, http.MethodGet, endpoint, nil, &job); err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return &job, nil
}
