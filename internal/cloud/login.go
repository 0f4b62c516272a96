package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// LoginStore implements CredentialStore against the vendor's login endpoint.
// Vendors in this class issue session tokens from a username/password login;
// "refresh" is simply a re-login with the same account.
type LoginStore struct {
	transport Transport
	username  string
	password  string
}

// NewLoginStore creates a credential store for the given account.
func NewLoginStore(transport Transport, username, password string) *LoginStore {
	return &LoginStore{
		transport: transport,
		username:  username,
		password:  password,
	}
}

type wireLoginResponse struct {
	Token     string `json:"token"`
	AccountID string `json:"accountId"`
	ExpiresIn int    `json:"expiresIn"`
}

// defaultTokenTTL is assumed when the login response carries no expiry.
const defaultTokenTTL = 24 * time.Hour

// Load implements CredentialStore by logging in.
func (s *LoginStore) Load(ctx context.Context) (Credentials, error) {
	body, err := json.Marshal(map[string]string{
		"username": s.username,
		"password": s.password,
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("encoding login request: %w", err)
	}

	resp, err := s.transport.Send(ctx, Request{
		Method: http.MethodPost,
		Path:   "/v1/user/login",
		Body:   body,
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("login request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("login rejected (status %d)", resp.StatusCode)
	}

	var wire wireLoginResponse
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return Credentials{}, fmt.Errorf("decoding login response: %w", err)
	}
	if wire.Token == "" {
		return Credentials{}, fmt.Errorf("login response missing token")
	}

	ttl := defaultTokenTTL
	if wire.ExpiresIn > 0 {
		ttl = time.Duration(wire.ExpiresIn) * time.Second
	}

	now := time.Now().UTC()
	return Credentials{
		Token:     wire.Token,
		AccountID: wire.AccountID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Refresh implements CredentialStore by re-logging in.
func (s *LoginStore) Refresh(ctx context.Context, _ Credentials) (Credentials, error) {
	return s.Load(ctx)
}
