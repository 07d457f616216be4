// Package audit records the identity-lifecycle events the bridge produces:
// webhooks received, users provisioned, forward-auth decisions, breaker
// transitions, and token issuance.
//
// # Overview
//
// Events flow through the Logger interface. Three implementations ship:
//
//   - FileLogger: newline-delimited JSON on disk with size-based rotation
//   - DBLogger: a lazily created audit_events table in PostgreSQL
//   - MultiLogger: fan-out to several loggers at once
//
// The read side is the Store interface: searching, statistics, JSON/CSV
// export, and retention cleanup. S3Archiver uploads expiring events as
// NDJSON batches before the retention sweep deletes them.
//
// # Usage Example
//
//	logger, err := audit.NewFileLogger(audit.FileLoggerConfig{BasePath: "/var/log/idbridge/audit"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	event := audit.NewEvent(audit.EventTypeUserProvisioned, audit.StatusSuccess)
//	event.Provider = "idp"
//	event.Email = "dana@example.com"
//	event.Downstream = "mattermost"
//	logger.Log(ctx, event)
//
// # Related Packages
//
//   - pkg/provision: emits provisioning and webhook events
//   - pkg/bridge: emits forward-auth decision events
//   - pkg/maintenance: runs the retention sweep
package audit
