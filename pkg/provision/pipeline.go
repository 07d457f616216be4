package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wrenfield/idbridge/pkg/audit"
	"github.com/wrenfield/idbridge/pkg/breaker"
	"github.com/wrenfield/idbridge/pkg/downstream"
	"github.com/wrenfield/idbridge/pkg/identity"
	"github.com/wrenfield/idbridge/pkg/observability"
	"github.com/wrenfield/idbridge/pkg/store"
	"github.com/wrenfield/idbridge/pkg/webhook"
)

// ErrNoEmail is returned when a sync request carries no email address.
var ErrNoEmail = errors.New("user record carries no email")

// Status is the pipeline outcome reported to webhook callers.
type Status string

const (
	// StatusProvisioned means the shadow store was updated and downstream
	// provisioning ran.
	StatusProvisioned Status = "provisioned"

	// StatusIgnored means the event required no action.
	StatusIgnored Status = "ignored"

	// StatusNoted means the event was recorded but deliberately not acted
	// on, such as an upstream deletion.
	StatusNoted Status = "noted"
)

// Result describes what the pipeline did with one event.
type Result struct {
	Status Status `json:"status"`
	Email  string `json:"email,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Target pairs a downstream client with the breaker guarding it.
type Target struct {
	Client  downstream.Provisioner
	Breaker *breaker.Breaker
}

// Pipeline routes identity changes to the shadow store and the downstream
// targets. It is safe for concurrent use.
type Pipeline struct {
	store    store.Store
	targets  []Target
	logger   *observability.Logger
	metrics  *observability.Metrics
	auditLog audit.Logger
}

// NewPipeline creates a provisioning pipeline over the given store and
// targets. A nil audit logger disables auditing.
func NewPipeline(st store.Store, targets []Target, logger *observability.Logger, metrics *observability.Metrics, auditLog audit.Logger) *Pipeline {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Pipeline{
		store:    st,
		targets:  targets,
		logger:   logger.WithComponent("provision"),
		metrics:  metrics,
		auditLog: auditLog,
	}
}

// Targets returns the configured downstream targets.
func (p *Pipeline) Targets() []Target {
	return p.targets
}

// HandleEvent applies one parsed provider event. Classification outcomes
// are reported in the Result; only store failures surface as errors.
func (p *Pipeline) HandleEvent(ctx context.Context, provider string, event *webhook.Event) (*Result, error) {
	if event == nil {
		return &Result{Status: StatusIgnored, Reason: "empty event"}, nil
	}

	logger := p.logger.WithFields(map[string]interface{}{
		"provider": provider,
		"action":   string(event.Action),
	})

	if !event.IsUserEvent {
		logger.Debug("ignoring non-user event")
		return &Result{Status: StatusIgnored, Reason: "not a user event"}, nil
	}

	switch {
	case event.Action == webhook.ActionDeleted:
		// Deletions are recorded, never acted on: the shadow row and the
		// downstream accounts stay.
		logger.WithField("email", event.User.Email).Info("provider reported user deletion, keeping shadow row")
		deleted := audit.NewEvent(audit.EventTypeUserDeleted, audit.StatusSuccess)
		deleted.Provider = provider
		deleted.Subject = event.User.Subject
		deleted.Email = event.User.Email
		deleted.Message = "upstream deletion noted, no downstream action taken"
		p.record(ctx, deleted)
		return &Result{Status: StatusNoted, Email: event.User.Email}, nil

	case !event.Action.Provisions():
		logger.Debug("ignoring unsupported action")
		return &Result{Status: StatusIgnored, Reason: "unsupported action"}, nil

	case !event.User.IsActionable():
		logger.Debug("user event carries no email")
		return &Result{Status: StatusIgnored, Reason: "event carries no email"}, nil
	}

	return p.provision(ctx, provider, event.User)
}

// SyncUser provisions one user outside the webhook flow. The caller
// supplies the user record directly, typically from a manual sync request.
func (p *Pipeline) SyncUser(ctx context.Context, provider string, user identity.UserInfo) (*Result, error) {
	if !user.IsActionable() {
		return nil, ErrNoEmail
	}

	sync := audit.NewEvent(audit.EventTypeSyncRequested, audit.StatusSuccess)
	sync.Provider = provider
	sync.Email = user.Email
	p.record(ctx, sync)

	return p.provision(ctx, provider, user)
}

// provision is the shared write path: upsert the shadow row first, then
// ensure downstream accounts, then record the assigned account ids.
func (p *Pipeline) provision(ctx context.Context, provider string, user identity.UserInfo) (*Result, error) {
	id := user.Identity(provider)
	attrs := attributesFor(user)

	if err := p.upsert(ctx, id, attrs); err != nil {
		return nil, err
	}

	accounts := p.ensureAccounts(ctx, user)
	if len(accounts) > 0 {
		for name, accountID := range accounts {
			attrs[AccountAttribute(name)] = accountID
		}
		// The row already exists; losing the account ids is not worth
		// failing the whole request over.
		if err := p.upsert(ctx, id, attrs); err != nil {
			p.logger.WithError(err).WithField("email", user.Email).Warn("failed to record downstream account ids")
		}
	}

	return &Result{Status: StatusProvisioned, Email: user.Email}, nil
}

// ensureAccounts calls EnsureUser on every healthy target and returns the
// account ids by target name. Failures are breaker-accounted and logged but
// never abort the loop.
func (p *Pipeline) ensureAccounts(ctx context.Context, user identity.UserInfo) map[string]string {
	accounts := make(map[string]string)

	for _, target := range p.targets {
		if target.Client == nil {
			continue
		}
		name := target.Client.Name()
		logger := p.logger.WithFields(map[string]interface{}{
			"target": name,
			"email":  user.Email,
		})

		if target.Breaker != nil && !target.Breaker.Allow() {
			logger.WithField("retry_after", target.Breaker.Remaining().String()).
				Warn("skipping downstream, circuit breaker open")
			continue
		}

		start := time.Now()
		account, err := target.Client.EnsureUser(ctx, user)
		p.metrics.DownstreamCallDuration.WithLabelValues(name, "ensure_user").Observe(time.Since(start).Seconds())

		if err != nil {
			p.recordFailure(ctx, target, user.Email, err)
			logger.WithError(err).Error("failed to ensure downstream user")
			continue
		}

		p.recordSuccess(target)
		p.metrics.UsersProvisionedTotal.WithLabelValues(name).Inc()
		accounts[name] = account.ID

		provisioned := audit.NewEvent(audit.EventTypeUserProvisioned, audit.StatusSuccess)
		provisioned.Email = user.Email
		provisioned.Username = account.Username
		provisioned.Downstream = name
		provisioned.AccountID = account.ID
		p.record(ctx, provisioned)

		logger.WithField("account_id", account.ID).Info("downstream user ensured")
	}

	return accounts
}

func (p *Pipeline) recordSuccess(target Target) {
	if target.Breaker == nil {
		return
	}
	target.Breaker.RecordSuccess()
	p.metrics.BreakerOpen.WithLabelValues(target.Client.Name()).Set(0)
}

func (p *Pipeline) recordFailure(ctx context.Context, target Target, email string, cause error) {
	name := target.Client.Name()
	p.metrics.ProvisionErrorsTotal.WithLabelValues(name).Inc()

	failed := audit.NewEvent(audit.EventTypeUserProvisioned, audit.StatusFailure)
	failed.Email = email
	failed.Downstream = name
	failed.ErrorMessage = cause.Error()
	p.record(ctx, failed)

	if target.Breaker == nil {
		return
	}
	if target.Breaker.RecordFailure() {
		p.metrics.BreakerOpen.WithLabelValues(name).Set(1)
		p.metrics.BreakerOpensTotal.WithLabelValues(name).Inc()
		p.logger.WithFields(map[string]interface{}{
			"target":   name,
			"cooldown": target.Breaker.Remaining().String(),
		}).Warn("circuit breaker opened")

		opened := audit.NewEvent(audit.EventTypeBreakerOpened, audit.StatusFailure)
		opened.Downstream = name
		opened.ErrorMessage = cause.Error()
		p.record(ctx, opened)
	}
}

// upsert writes the shadow row and counts the operation.
func (p *Pipeline) upsert(ctx context.Context, id identity.Identity, attrs map[string]string) error {
	backend := p.store.Backend()
	if _, err := p.store.Upsert(ctx, id, attrs); err != nil {
		p.metrics.StoreOperationsTotal.WithLabelValues("upsert", backend, "error").Inc()
		return fmt.Errorf("failed to upsert shadow user: %w", err)
	}
	p.metrics.StoreOperationsTotal.WithLabelValues("upsert", backend, "success").Inc()
	return nil
}

// record writes an audit event, counting it and downgrading audit sink
// failures to log warnings.
func (p *Pipeline) record(ctx context.Context, event *audit.Event) {
	p.metrics.AuditEventsTotal.WithLabelValues(string(event.EventType)).Inc()
	if err := p.auditLog.Log(ctx, event); err != nil {
		p.logger.WithError(err).Warn("failed to record audit event")
	}
}

// attributesFor seeds the shadow attribute bag from the user record.
func attributesFor(user identity.UserInfo) map[string]string {
	attrs := make(map[string]string)
	if user.Username != "" {
		attrs["username"] = user.Username
	}
	return attrs
}

// AccountAttribute names the shadow attribute holding a downstream's
// account id, such as "mattermost_account_id".
func AccountAttribute(target string) string {
	return target + "_account_id"
}
