package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/wrenfield/idbridge/pkg/identity"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
	SignatureHeader = "X-Webhook-Signature"

	// coreApp is the identity provider's core application label; events
	// declaring it are user-scoped even when the model name is qualified.
	coreApp = "authentik_core"
)

var (
	// ErrUnauthorized covers missing or mismatched webhook credentials.
	ErrUnauthorized = errors.New("webhook authentication failed")

	// ErrMalformedPayload covers bodies that are not valid JSON objects.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Parse authenticates and parses one inbound provider notification.
//
// When a secret is configured the request must carry either a bearer token
// equal to the secret or a signature header equal to the hex HMAC-SHA256 of
// the raw body keyed by the secret; nothing in the body is trusted before
// that check passes. An empty secret disables authentication, which is only
// acceptable in development.
func Parse(body []byte, header http.Header, secret string) (*Event, error) {
	if secret != "" {
		if err := authenticate(body, header, secret); err != nil {
			return nil, err
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	// Some transports wrap the event in an envelope.
	if inner, ok := payload["event"].(map[string]any); ok {
		payload = inner
	}

	rawAction := stringField(payload, "action")
	model := modelName(payload)
	action := classifyAction(rawAction)

	event := &Event{
		Action:      action,
		IsUserEvent: isUserEvent(payload, model, rawAction),
		Model:       model,
	}
	for _, extract := range extractors {
		extract(payload, &event.User)
	}
	return event, nil
}

func authenticate(body []byte, header http.Header, secret string) error {
	if token, ok := bearerToken(header); ok {
		if hmac.Equal([]byte(token), []byte(secret)) {
			return nil
		}
		return ErrUnauthorized
	}
	if sig := header.Get(SignatureHeader); sig != "" {
		if verifySignature(body, sig, secret) {
			return nil
		}
		return ErrUnauthorized
	}
	return ErrUnauthorized
}

func bearerToken(header http.Header) (string, bool) {
	authHeader := header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

// verifySignature accepts the bare hex digest as well as the common
// "sha256=<hex>" form some senders use.
func verifySignature(body []byte, signature, secret string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func classifyAction(raw string) Action {
	switch strings.ToLower(raw) {
	case "model_created":
		return ActionCreated
	case "model_updated", "user_write":
		return ActionUpdated
	case "model_deleted":
		return ActionDeleted
	case "login":
		return ActionLogin
	default:
		return ActionUnknown
	}
}

// isUserEvent applies the model-name rule; user_write and login events
// concern a user by nature and often carry no model at all.
func isUserEvent(payload map[string]any, model, rawAction string) bool {
	switch strings.ToLower(rawAction) {
	case "user_write", "login":
		return true
	}
	if strings.EqualFold(model, "user") {
		return true
	}
	app := stringField(payload, "app")
	if app == "" {
		if m, ok := payload["model"].(map[string]any); ok {
			app = stringField(m, "app")
		}
	}
	return app == coreApp && strings.Contains(strings.ToLower(model), "user")
}

func modelName(payload map[string]any) string {
	if name := stringField(payload, "model_name"); name != "" {
		return name
	}
	if m, ok := payload["model"].(map[string]any); ok {
		return stringField(m, "model_name")
	}
	return ""
}

// An extractor fills empty UserInfo fields from one payload shape. Order
// matters: earlier strategies win and later ones never overwrite.
type extractor func(payload map[string]any, user *identity.UserInfo)

var extractors = []extractor{
	extractNestedUser,
	extractContext,
	extractFlatFields,
}

func extractNestedUser(payload map[string]any, user *identity.UserInfo) {
	obj, ok := payload["user"].(map[string]any)
	if !ok {
		return
	}
	fillUser(obj, user)
}

func extractContext(payload map[string]any, user *identity.UserInfo) {
	ctx, ok := payload["context"].(map[string]any)
	if !ok {
		return
	}
	fillUser(ctx, user)
}

func extractFlatFields(payload map[string]any, user *identity.UserInfo) {
	setIfEmpty(&user.Email, stringField(payload, "event_user_email"))
	setIfEmpty(&user.Username, stringField(payload, "event_user_username"))
}

func fillUser(obj map[string]any, user *identity.UserInfo) {
	setIfEmpty(&user.Email, stringField(obj, "email"))
	setIfEmpty(&user.Username, stringField(obj, "username"))
	setIfEmpty(&user.Name, stringField(obj, "name"))
	setIfEmpty(&user.Subject, scalarField(obj, "pk"))
}

func setIfEmpty(dst *string, value string) {
	if *dst == "" && value != "" {
		*dst = value
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// scalarField renders strings and JSON numbers; provider primary keys show
// up as either.
func scalarField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
