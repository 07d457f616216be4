package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Identity is a normalized user identity asserted by an upstream provider.
// (Provider, Subject) is the natural key; Subject falls back to the email
// address when the provider supplies no stable identifier.
type Identity struct {
	Provider string `json:"provider"`
	Subject  string `json:"subject"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
}

// Valid reports whether the identity carries enough information to act on.
// An identity without an email is non-actionable.
func (i Identity) Valid() bool {
	return i.Email != "" && i.Provider != "" && i.Subject != ""
}

// ShadowUser is the durable projection of an Identity plus an open
// attribute bag (downstream account ids, usernames, group membership).
type ShadowUser struct {
	ID         string            `json:"id"`
	Identity   Identity          `json:"identity"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// UserInfo is the best-effort user record extracted from a provider event
// payload or a manual sync request. All fields are optional; extraction
// leaves unknown fields empty rather than guessing.
type UserInfo struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Subject  string `json:"subject,omitempty"`
}

// IsActionable reports whether the record can drive provisioning.
func (u UserInfo) IsActionable() bool {
	return strings.TrimSpace(u.Email) != ""
}

// Identity normalizes the record into an Identity for the given provider,
// applying the subject-falls-back-to-email rule.
func (u UserInfo) Identity(provider string) Identity {
	subject := u.Subject
	if subject == "" {
		subject = u.Email
	}
	return Identity{
		Provider: provider,
		Subject:  subject,
		Email:    u.Email,
		Name:     u.Name,
	}
}

// ShadowID derives the stable row id for a (provider, subject) pair. The
// derivation must not change: it is shared by every store implementation
// and survives restarts and store migrations.
func ShadowID(provider, subject string) string {
	sum := sha256.Sum256([]byte(provider + "\x00" + subject))
	return hex.EncodeToString(sum[:])[:32]
}
