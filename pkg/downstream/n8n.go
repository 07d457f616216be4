package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wrenfield/idbridge/pkg/identity"
)

// N8NClient provisions accounts over the n8n public API. n8n trusts the
// proxy-asserted headers for authentication itself, so there are no
// bridged sessions; this client only makes sure an account exists.
type N8NClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewN8NClient validates the configuration and returns a client.
func NewN8NClient(baseURL, apiKey string) (*N8NClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("n8n base URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("n8n API key is required")
	}
	return &N8NClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name identifies this target in breakers, logs, and metrics.
func (c *N8NClient) Name() string {
	return "n8n"
}

type n8nUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// EnsureUser returns the account matching the email, inviting a new member
// when no account exists yet.
func (c *N8NClient) EnsureUser(ctx context.Context, user identity.UserInfo) (*RemoteAccount, error) {
	if !user.IsActionable() {
		return nil, fmt.Errorf("cannot provision a user without an email")
	}

	if acct, err := c.findByEmail(ctx, user.Email); err != nil {
		return nil, err
	} else if acct != nil {
		return acct, nil
	}
	return c.inviteUser(ctx, user.Email)
}

func (c *N8NClient) findByEmail(ctx context.Context, email string) (*RemoteAccount, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/users?limit=250", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list n8n users: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("n8n user listing returned status %d", resp.StatusCode)
	}

	var listing struct {
		Data []n8nUser `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode n8n users: %w", err)
	}
	for _, u := range listing.Data {
		if strings.EqualFold(u.Email, email) {
			return &RemoteAccount{ID: u.ID, Email: u.Email}, nil
		}
	}
	return nil, nil
}

func (c *N8NClient) inviteUser(ctx context.Context, email string) (*RemoteAccount, error) {
	payload := []map[string]string{{"email": email, "role": "global:member"}}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/users", payload)
	if err != nil {
		return nil, fmt.Errorf("failed to invite n8n user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("n8n user invitation returned status %d", resp.StatusCode)
	}

	// The invite endpoint answers with one result per requested email.
	var results []struct {
		User  n8nUser `json:"user"`
		Error string  `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode n8n invitation: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("n8n invitation returned no results")
	}
	if results[0].Error != "" {
		return nil, fmt.Errorf("n8n invitation failed: %s", results[0].Error)
	}
	return &RemoteAccount{ID: results[0].User.ID, Email: results[0].User.Email}, nil
}

// CreateSession is not supported: n8n authenticates from the same proxy
// headers on its own.
func (c *N8NClient) CreateSession(ctx context.Context, accountID string) (*Session, error) {
	return nil, ErrNotSupported
}

func (c *N8NClient) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-N8N-API-KEY", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.client.Do(req)
}
