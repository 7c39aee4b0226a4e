package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSON_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "ping", in["msg"])

		_, _ = w.Write([]byte(`{"msg":"pong"}`))
	}))
	defer server.Close()

	var out map[string]string
	err := DoJSON(context.Background(), server.Client(), http.MethodPost, server.URL, map[string]string{"msg": "ping"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "pong", out["msg"])
}

func TestDoJSON_GoogleErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":409,"message":"Field: job.job_id Error: A job with this id already exists.","status":"ALREADY_EXISTS"}}`))
	}))
	defer server.Close()

	err := DoJSON(context.Background(), server.Client(), http.MethodGet, server.URL, nil, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.HTTPStatus)
	assert.Equal(t, "ALREADY_EXISTS", apiErr.Status)
	assert.Contains(t, err.Error(), "already exists")
}

func TestDoJSON_PlainErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	err := DoJSON(context.Background(), server.Client(), http.MethodGet, server.URL, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream unavailable")
}

func TestDoJSON_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	var out map[string]any
	err := DoJSON(context.Background(), server.Client(), http.MethodGet, server.URL, nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse response")
}
