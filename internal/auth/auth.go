// Package auth builds HTTP clients authenticated against Sentinel Hub with
// OAuth2 client credentials.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrMissingCredentials is returned when client id or secret is empty.
var ErrMissingCredentials = errors.New("sentinel hub client id and secret are required")

// Credentials identify an OAuth client.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// NewHTTPClient returns a client that fetches and refreshes bearer tokens
// transparently. Token requests share the same transport and timeout.
func NewHTTPClient(ctx context.Context, creds Credentials, timeout time.Duration) (*http.Client, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}

	base := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	cfg := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	client := cfg.Client(ctx)
	client.Timeout = timeout
	return client, nil
}
