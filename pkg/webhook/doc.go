// Package webhook parses and authenticates identity-provider event
// notifications.
//
// # Overview
//
// The identity provider pushes event notifications to this service over
// HTTP. Parse authenticates the raw request before any JSON decoding,
// either by a bearer token matching the shared secret or by a hex
// HMAC-SHA256 signature of the raw body keyed by that secret. Once
// authenticated, the payload is classified (user event or not, which
// lifecycle action) and a normalized user record is extracted.
//
// Providers emit several payload shapes for the same logical event. The
// extractor runs an ordered list of strategies (nested user object,
// flattened context map, flat event_user_* fields) and the first non-empty
// value wins per field, so a new payload variant is one more strategy, not
// a rewrite.
//
// # Usage Example
//
//	event, err := webhook.Parse(body, r.Header, cfg.WebhookSecret)
//	if errors.Is(err, webhook.ErrUnauthorized) {
//		httputil.WriteUnauthorized(w, "invalid webhook credentials")
//		return
//	}
//
// # Related Packages
//
//   - pkg/identity: the UserInfo record extracted here
//   - pkg/provision: acts on parsed events
package webhook
