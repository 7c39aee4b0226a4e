package gcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_StaticToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewAuthenticator("tok-123", 5*time.Second).HTTPClient(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, client.Timeout)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestAuthenticator_MissingDefaultCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", filepath.Join(t.TempDir(), "missing.json"))

	_, err := NewAuthenticator("", time.Second).HTTPClient(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "application default credentials")
}

func TestAuthenticatorFunc(t *testing.T) {
	want := &http.Client{}
	got, err := AuthenticatorFunc(func(context.Context) (*http.Client, error) { return want, nil }).HTTPClient(context.Background())
	require.NoError(t, err)
	assert.Same(t, want, got)
}
