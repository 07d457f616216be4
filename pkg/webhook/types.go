package webhook

import "github.com/wrenfield/idbridge/pkg/identity"

// Action is the normalized lifecycle action of a provider event.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
	ActionLogin   Action = "login"
	ActionUnknown Action = "unknown"
)

// Provisions reports whether the action triggers provisioning. Deletions
// are recorded but never acted on; unknown actions are ignored.
func (a Action) Provisions() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionLogin:
		return true
	default:
		return false
	}
}

// Event is the normalized outcome of parsing one provider notification.
// It lives for the duration of a single request and is never persisted.
type Event struct {
	Action      Action            `json:"action"`
	IsUserEvent bool              `json:"is_user_event"`
	User        identity.UserInfo `json:"user"`

	// Model is the provider's declared model name, kept for log context.
	Model string `json:"model,omitempty"`
}
