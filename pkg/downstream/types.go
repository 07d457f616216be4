package downstream

import (
	"context"
	"errors"

	"github.com/wrenfield/idbridge/pkg/identity"
)

// ErrNotSupported is returned by CreateSession on targets that consume
// proxy-asserted headers directly instead of bridged session cookies.
var ErrNotSupported = errors.New("downstream does not support bridged sessions")

// RemoteAccount is an account in a downstream application.
type RemoteAccount struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

// Session is a minted downstream session credential.
type Session struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// Provisioner is the capability set one downstream target implements.
// EnsureUser is idempotent by email: repeated calls with the same email
// return the same account and never create duplicates.
type Provisioner interface {
	Name() string
	EnsureUser(ctx context.Context, user identity.UserInfo) (*RemoteAccount, error)
	CreateSession(ctx context.Context, accountID string) (*Session, error)
}

// renamed overrides a provisioner's target name so several instances of
// the same product keep distinct breakers, logs, and metric labels.
type renamed struct {
	Provisioner
	name string
}

// WithName returns a provisioner reporting the given name. The original is
// returned unchanged when the name is empty or already matches.
func WithName(p Provisioner, name string) Provisioner {
	if name == "" || name == p.Name() {
		return p
	}
	return &renamed{Provisioner: p, name: name}
}

func (r *renamed) Name() string {
	return r.name
}
