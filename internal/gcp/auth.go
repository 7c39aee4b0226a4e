package gcp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CloudPlatformScope grants access to the training and logging APIs.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Authenticator produces HTTP clients that attach credentials to every request.
type Authenticator interface {
	HTTPClient(ctx context.Context) (*http.Client, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context) (*http.Client, error)

func (f AuthenticatorFunc) HTTPClient(ctx context.Context) (*http.Client, error) {
	return f(ctx)
}

type ambient struct {
	accessToken string
	timeout     time.Duration
	scopes      []string
}

// NewAuthenticator uses accessToken when set, otherwise the application
// default credentials of the environment.
func NewAuthenticator(accessToken string, timeout time.Duration) Authenticator {
	return ambient{
		accessToken: accessToken,
		timeout:     timeout,
		scopes:      []string{CloudPlatformScope},
	}
}

func (a ambient) HTTPClient(ctx context.Context) (*http.Client, error) {
	ts, err := a.tokenSource(ctx)
	if err != nil {
		return nil, err
	}

	base := &http.Client{Timeout: a.timeout}
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), ts)
	client.Timeout = a.timeout
	return client, nil
}

func (a ambient) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if a.accessToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: a.accessToken,
			TokenType:   "Bearer",
		}), nil
	}

	creds, err := google.FindDefaultCredentials(ctx, a.scopes...)
	if err != nil {
		return nil, fmt.Errorf("find application default credentials: %w", err)
	}
	return creds.TokenSource, nil
}
