// Package breaker implements a per-downstream failure-count circuit breaker.
//
// # Overview
//
// Each downstream target gets its own Breaker instance, constructed once at
// startup and passed by reference to every handler that calls that target.
// Consecutive failures up to a threshold open the breaker for a cooldown
// window; while open, calls are rejected without touching the downstream.
// Once the window elapses the next Allow resets the counter and admits the
// call unconditionally, so the breaker self-heals without operator action.
//
// # Usage Example
//
//	br := breaker.New("mattermost", 3, 30*time.Second)
//	if !br.Allow() {
//		return fmt.Errorf("mattermost unavailable, retry in %s", br.Remaining())
//	}
//	if err := callDownstream(ctx); err != nil {
//		if br.RecordFailure() {
//			log.Warn("breaker opened for mattermost")
//		}
//		return err
//	}
//	br.RecordSuccess()
package breaker
