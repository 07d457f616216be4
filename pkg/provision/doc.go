// Package provision orchestrates identity provisioning across the shadow
// store and the configured downstream targets.
//
// # Overview
//
// The pipeline is the convergence point of the three write paths: webhook
// events, manual sync requests, and the forward-auth bridge all end up
// upserting the shadow store and ensuring downstream accounts through the
// same code. Every downstream call is guarded by that target's circuit
// breaker; a failing target is skipped, never retried in-request, and never
// fails the webhook response once the shadow row is safely stored.
//
// # Usage Example
//
//	pipeline := provision.NewPipeline(store, []provision.Target{
//		{Client: mattermost, Breaker: mmBreaker},
//		{Client: n8n, Breaker: n8nBreaker},
//	}, logger, metrics, auditLog)
//
//	result, err := pipeline.HandleEvent(ctx, "authentik", event)
//
// # Related Packages
//
//   - pkg/webhook: produces the events the pipeline consumes
//   - pkg/store: shadow identity persistence
//   - pkg/downstream: per-target provisioning clients
//   - pkg/breaker: circuit breakers guarding downstream calls
package provision
