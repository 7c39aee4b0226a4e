package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// APIError is the error envelope returned by Google REST APIs.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Status     string `json:"status"`
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("API request failed with status %d (%s): %s", e.HTTPStatus, e.Status, e.Message)
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.HTTPStatus, e.Message)
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// DoJSON sends payload as JSON and decodes a successful response into out.
// out may be nil when the body is not needed.
func DoJSON(ctx context.Context, client *http.Client, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return fmt.Errorf("request timed out: %w", err)
		}
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope errorEnvelope
		if err := json.Unmarshal(responseBody, &envelope); err == nil && envelope.Error != nil {
			envelope.Error.HTTPStatus = resp.StatusCode
			return envelope.Error
		}
		return &APIError{HTTPStatus: resp.StatusCode, Message: string(bytes.TrimSpace(responseBody))}
	}

	if out == nil || len(bytes.TrimSpace(responseBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
