// Package token manages the short-lived upstream bearer token: one current
// token per process, refreshed ahead of expiry by a jittered background
// task, with concurrent refresh requests coalesced into a single acquire.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Acquirer obtains a fresh bearer token. The upstream's acquisition
// procedure is opaque to the manager.
type Acquirer interface {
	Acquire(ctx context.Context) (string, error)
}

// CredentialsAcquirer acquires tokens from an authentication endpoint with
// a username/password exchange.
type CredentialsAcquirer struct {
	http     *resty.Client
	username string
	password string
}

// NewCredentialsAcquirer creates an acquirer for the given auth endpoint.
func NewCredentialsAcquirer(authURL, username, password string, timeout time.Duration) *CredentialsAcquirer {
	return &CredentialsAcquirer{
		http: resty.New().
			SetBaseURL(authURL).
			SetTimeout(timeout).
			SetRetryCount(0),
		username: username,
		password: password,
	}
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

func (a *CredentialsAcquirer) Acquire(ctx context.Context) (string, error) {
	var parsed authResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(authRequest{Username: a.username, Password: a.password}).
		SetResult(&parsed).
		Post("")
	if err != nil {
		return "", fmt.Errorf("token acquisition failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token acquisition failed: status %d", resp.StatusCode())
	}

	token := parsed.Token
	if token == "" {
		token = parsed.AccessToken
	}
	if token == "" {
		return "", fmt.Errorf("token acquisition returned an empty token")
	}
	return token, nil
}
