// Package identity defines the normalized identity model shared by the
// webhook ingestor, the shadow store, and the forward-auth bridge.
//
// # Overview
//
// Every identity observed by the service, whether it arrived in a provider
// webhook or in proxy-asserted request headers, is normalized into an
// Identity keyed by (provider, subject). The durable projection of an
// Identity is a ShadowUser, whose id is a deterministic function of the key
// so that repeated observations are idempotent and a store migration never
// orphans rows.
//
// # Usage Example
//
//	id := identity.Identity{
//		Provider: "authentik",
//		Subject:  "42",
//		Email:    "jane@example.com",
//		Name:     "Jane Doe",
//	}
//	shadowID := identity.ShadowID(id.Provider, id.Subject)
//
// # Related Packages
//
//   - pkg/webhook: extracts UserInfo from provider event payloads
//   - pkg/store: persists ShadowUser rows
//   - pkg/bridge: reconciles identities asserted by the reverse proxy
package identity
