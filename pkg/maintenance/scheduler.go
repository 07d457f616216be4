package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/wrenfield/idbridge/pkg/audit"
	"github.com/wrenfield/idbridge/pkg/breaker"
	"github.com/wrenfield/idbridge/pkg/observability"
	"github.com/wrenfield/idbridge/pkg/store"
)

const (
	// DefaultGaugeSchedule refreshes the state gauges every 5 minutes.
	DefaultGaugeSchedule = "*/5 * * * *"

	// DefaultRetentionSchedule sweeps expired audit events nightly at
	// 03:30 UTC, outside most providers' sync windows.
	DefaultRetentionSchedule = "30 3 * * *"
)

// Config assembles a Scheduler.
type Config struct {
	Store store.Store

	// Breakers are exported as state gauges alongside the shadow count.
	Breakers []*breaker.Breaker

	// AuditStore enables the retention sweep when set.
	AuditStore audit.Store
	Retention  audit.RetentionPolicy

	// GaugeSchedule and RetentionSchedule are standard 5-field cron
	// expressions; empty strings select the defaults.
	GaugeSchedule     string
	RetentionSchedule string

	Logger  *logrus.Logger
	Metrics *observability.Metrics
}

// Scheduler runs the bridge's periodic jobs: keeping the shadow-user and
// breaker gauges current and deleting audit events past retention. Jobs run
// in the cron scheduler's own goroutines; Stop waits for any running job to
// finish.
type Scheduler struct {
	cron *cron.Cron

	store      store.Store
	breakers   []*breaker.Breaker
	auditStore audit.Store
	retention  audit.RetentionPolicy

	logger  *logrus.Logger
	metrics *observability.Metrics
}

// NewScheduler creates the scheduler and registers its jobs. The audit
// retention sweep is only scheduled when an audit store is configured.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.GaugeSchedule == "" {
		cfg.GaugeSchedule = DefaultGaugeSchedule
	}
	if cfg.RetentionSchedule == "" {
		cfg.RetentionSchedule = DefaultRetentionSchedule
	}
	// A zero retention would compute a cutoff of "now" and sweep the
	// entire trail.
	if cfg.Retention.RetentionDays <= 0 {
		cfg.Retention = audit.DefaultRetentionPolicy()
	}

	s := &Scheduler{
		cron:       cron.New(),
		store:      cfg.Store,
		breakers:   cfg.Breakers,
		auditStore: cfg.AuditStore,
		retention:  cfg.Retention,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}

	if _, err := s.cron.AddFunc(cfg.GaugeSchedule, func() {
		if err := s.RefreshShadowGauge(context.Background()); err != nil {
			s.logger.WithError(err).Warn("Failed to refresh shadow user gauge")
		}
		s.RefreshBreakerGauges()
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule gauge refresh: %w", err)
	}

	if s.auditStore != nil {
		if _, err := s.cron.AddFunc(cfg.RetentionSchedule, func() {
			if err := s.SweepAuditEvents(context.Background()); err != nil {
				s.logger.WithError(err).Warn("Audit retention sweep failed")
			}
		}); err != nil {
			return nil, fmt.Errorf("failed to schedule audit retention sweep: %w", err)
		}
	}

	return s, nil
}

// Start begins running the scheduled jobs and primes the gauges so they
// are correct before the first tick.
func (s *Scheduler) Start() {
	if err := s.RefreshShadowGauge(context.Background()); err != nil {
		s.logger.WithError(err).Warn("Failed to prime shadow user gauge")
	}
	s.RefreshBreakerGauges()

	s.cron.Start()
	s.logger.Info("Maintenance scheduler started")
}

// Stop halts the scheduler and blocks until running jobs complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Maintenance scheduler stopped")
}

// RefreshShadowGauge counts the shadow store and updates the gauge.
func (s *Scheduler) RefreshShadowGauge(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	users, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list shadow users: %w", err)
	}

	s.metrics.ShadowUsersTotal.Set(float64(len(users)))
	s.logger.WithField("count", len(users)).Debug("Shadow user gauge refreshed")
	return nil
}

// RefreshBreakerGauges republishes each breaker's open state. Transitions
// update the gauge inline; this pass also clears it once a cooldown expires
// without any traffic observing the close.
func (s *Scheduler) RefreshBreakerGauges() {
	for _, b := range s.breakers {
		state := 0.0
		if b.IsOpen() {
			state = 1.0
		}
		s.metrics.BreakerOpen.WithLabelValues(b.Name()).Set(state)
	}
}

// SweepAuditEvents deletes audit events older than the retention period.
func (s *Scheduler) SweepAuditEvents(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	removed, err := s.auditStore.Cleanup(ctx, s.retention)
	if err != nil {
		return fmt.Errorf("failed to clean up audit events: %w", err)
	}

	if removed > 0 {
		s.logger.WithFields(logrus.Fields{
			"removed":        removed,
			"retention_days": s.retention.RetentionDays,
		}).Info("Expired audit events removed")
	}
	return nil
}
