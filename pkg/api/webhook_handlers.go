package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wrenfield/idbridge/pkg/audit"
	"github.com/wrenfield/idbridge/pkg/httputil"
	"github.com/wrenfield/idbridge/pkg/webhook"
)

// handleWebhook handles POST /webhook/{provider}. The response status
// reflects only authentication, parsing, and the shadow store write;
// downstream provisioning failures are logged and breaker-accounted but
// never fail the webhook, because the provider retries deliveries and the
// upsert already succeeded.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	logger := s.logger.WithField("provider", provider)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.metrics.WebhooksReceivedTotal.WithLabelValues(provider, "invalid").Inc()
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	event, err := webhook.Parse(body, r.Header, s.webhookSecret())
	if err != nil {
		rejected := audit.NewRequestEvent(r, audit.EventTypeWebhookRejected, audit.StatusDenied)
		rejected.Provider = provider
		rejected.ErrorMessage = err.Error()
		s.record(r, rejected)

		if errors.Is(err, webhook.ErrUnauthorized) {
			s.metrics.WebhooksReceivedTotal.WithLabelValues(provider, "unauthorized").Inc()
			logger.Warn("rejected webhook with bad credentials")
			httputil.WriteUnauthorized(w, "webhook authentication failed")
			return
		}
		s.metrics.WebhooksReceivedTotal.WithLabelValues(provider, "invalid").Inc()
		logger.WithError(err).Warn("rejected malformed webhook")
		httputil.WriteBadRequest(w, "malformed webhook payload")
		return
	}

	received := audit.NewRequestEvent(r, audit.EventTypeWebhookReceived, audit.StatusSuccess)
	received.Provider = provider
	received.Email = event.User.Email
	s.record(r, received)

	result, err := s.pipeline.HandleEvent(r.Context(), provider, event)
	if err != nil {
		s.metrics.WebhooksReceivedTotal.WithLabelValues(provider, "error").Inc()
		logger.WithError(err).Error("failed to process webhook")
		httputil.WriteInternalError(w, errors.New("failed to process webhook"))
		return
	}

	s.metrics.WebhooksReceivedTotal.WithLabelValues(provider, string(result.Status)).Inc()
	httputil.WriteSuccess(w, result)
}
