// Package downstream provisions accounts in the applications the bridge
// fronts.
//
// # Overview
//
// Each downstream application implements the Provisioner capability set:
// EnsureUser makes an account exist for an email without ever creating
// duplicates, and CreateSession mints a session credential for targets that
// use bridged cookies. Targets that authenticate from proxy headers on
// their own (n8n) return ErrNotSupported from CreateSession.
//
// Implementations are plain admin-API HTTP clients. They do not retry and
// they do not interpret downstream failures; callers route every error
// through the target's circuit breaker.
//
// # Targets
//
// Mattermost: accounts looked up by email and created over the admin API;
// sessions are user access tokens, delivered to the browser as cookies by
// the forward-auth bridge.
//
// n8n: accounts looked up via the public API and created as invitations.
// No sessions; n8n consumes the same proxy headers directly.
//
// # Usage Example
//
//	mm, err := downstream.NewMattermostClient(cfg.MattermostURL, cfg.MattermostToken)
//	if err != nil {
//		return err
//	}
//	cached := downstream.NewCachedProvisioner(mm, 512, 5*time.Minute, metrics)
//	acct, err := cached.EnsureUser(ctx, user)
package downstream
