// Package maintenance schedules the bridge's periodic background jobs.
//
// # Overview
//
// Two jobs run on cron schedules: a gauge refresh that counts the shadow
// identity store and republishes each circuit breaker's open state, and a
// nightly sweep deleting audit events past the configured retention
// period. The refresh methods are also callable directly, which Start
// uses to prime the gauges before the first tick.
//
// # Usage Example
//
//	scheduler, err := maintenance.NewScheduler(maintenance.Config{
//		Store:      st,
//		AuditStore: auditStore,
//		Retention:  audit.RetentionPolicy{RetentionDays: cfg.Audit.RetentionDays},
//		Logger:     logger,
//		Metrics:    metrics,
//	})
//	if err != nil {
//		return err
//	}
//	scheduler.Start()
//	defer scheduler.Stop()
//
// # Related Packages
//
//   - pkg/store: the shadow store being counted
//   - pkg/audit: retention policy and the store being swept
package maintenance
