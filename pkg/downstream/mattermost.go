package downstream

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wrenfield/idbridge/pkg/identity"
)

// MattermostClient provisions accounts and sessions over the Mattermost
// admin API. Sessions are user access tokens; the forward-auth bridge
// delivers them to the browser as cookies.
type MattermostClient struct {
	baseURL    string
	adminToken string
	client     *http.Client
}

// NewMattermostClient validates the configuration and returns a client.
// The base URL is the server's internal address; the token must belong to
// an admin account allowed to create users and tokens.
func NewMattermostClient(baseURL, adminToken string) (*MattermostClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("mattermost base URL is required")
	}
	if adminToken == "" {
		return nil, fmt.Errorf("mattermost admin token is required")
	}
	return &MattermostClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminToken: adminToken,
		client:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name identifies this target in breakers, logs, and metrics.
func (c *MattermostClient) Name() string {
	return "mattermost"
}

type mattermostUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// EnsureUser returns the account matching the email, creating it when the
// lookup reports no such user.
func (c *MattermostClient) EnsureUser(ctx context.Context, user identity.UserInfo) (*RemoteAccount, error) {
	if !user.IsActionable() {
		return nil, fmt.Errorf("cannot provision a user without an email")
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/v4/users/email/"+url.PathEscape(user.Email), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to look up mattermost user: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var found mattermostUser
		if err := json.NewDecoder(resp.Body).Decode(&found); err != nil {
			return nil, fmt.Errorf("failed to decode mattermost user: %w", err)
		}
		return &RemoteAccount{ID: found.ID, Email: found.Email, Username: found.Username}, nil
	case http.StatusNotFound:
		return c.createUser(ctx, user)
	default:
		return nil, fmt.Errorf("mattermost user lookup returned status %d", resp.StatusCode)
	}
}

func (c *MattermostClient) createUser(ctx context.Context, user identity.UserInfo) (*RemoteAccount, error) {
	username := user.Username
	if username == "" {
		username = deriveUsername(user.Email)
	}
	// The account authenticates through the bridge; the password is never
	// handed to anyone.
	password, err := randomPassword()
	if err != nil {
		return nil, fmt.Errorf("failed to generate password: %w", err)
	}

	payload := map[string]string{
		"email":    user.Email,
		"username": username,
		"password": password,
	}
	if user.Name != "" {
		payload["nickname"] = user.Name
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v4/users", payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create mattermost user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mattermost user creation returned status %d", resp.StatusCode)
	}

	var created mattermostUser
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode created mattermost user: %w", err)
	}
	return &RemoteAccount{ID: created.ID, Email: created.Email, Username: created.Username}, nil
}

// CreateSession mints a user access token for the account.
func (c *MattermostClient) CreateSession(ctx context.Context, accountID string) (*Session, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	payload := map[string]string{"description": "idbridge bridged session"}
	resp, err := c.do(ctx, http.MethodPost, "/api/v4/users/"+url.PathEscape(accountID)+"/tokens", payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create mattermost session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("mattermost token creation returned status %d", resp.StatusCode)
	}

	var token struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode mattermost token: %w", err)
	}
	return &Session{ID: token.ID, Token: token.Token}, nil
}

func (c *MattermostClient) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
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
	req.Header.Set("Authorization", "Bearer "+c.adminToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.client.Do(req)
}

// deriveUsername builds a Mattermost-safe username from the email local
// part: lowercase, restricted alphabet, 3 to 22 characters, starting with
// a letter.
func deriveUsername(email string) string {
	local := email
	if at := strings.Index(email, "@"); at > 0 {
		local = email[:at]
	}
	local = strings.ToLower(local)

	var b strings.Builder
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}

	username := b.String()
	if username == "" || username[0] < 'a' || username[0] > 'z' {
		username = "u" + username
	}
	if len(username) > 22 {
		username = username[:22]
	}
	for len(username) < 3 {
		username += "0"
	}
	return username
}

func randomPassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
