package api

import (
	"crypto/hmac"
	"net/http"
	"strings"
	"time"

	"github.com/wrenfield/idbridge/pkg/audit"
	"github.com/wrenfield/idbridge/pkg/httputil"
)

// tokenRequest is the body of POST /api/v1/tokens.
type tokenRequest struct {
	Subject    string         `json:"subject"`
	Audience   []string       `json:"audience"`
	TTLSeconds int            `json:"ttl_seconds"`
	Claims     map[string]any `json:"claims"`
}

// handleIssueToken handles POST /api/v1/tokens. The endpoint is for
// service-to-service callers and shares the webhook secret as its bearer
// credential.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeServiceCall(r) {
		denied := audit.NewRequestEvent(r, audit.EventTypeAuthDenied, audit.StatusDenied)
		denied.Message = "token mint with bad credentials"
		s.record(r, denied)

		httputil.WriteUnauthorized(w, "invalid service credentials")
		return
	}

	var req tokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Subject, "subject") {
		return
	}

	ttl := s.tokenDefaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if ttl > s.tokenMaxTTL {
		httputil.WriteBadRequest(w, "requested ttl exceeds the maximum")
		return
	}

	token, err := s.issuer.Issue(req.Subject, req.Audience, ttl, req.Claims)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	issued := audit.NewRequestEvent(r, audit.EventTypeTokenIssued, audit.StatusSuccess)
	issued.Subject = req.Subject
	s.record(r, issued)
	s.metrics.TokensIssuedTotal.Inc()

	httputil.WriteSuccess(w, token)
}

// authorizeServiceCall checks the bearer credential on service endpoints.
func (s *Server) authorizeServiceCall(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	secret := s.webhookSecret()
	return secret != "" && hmac.Equal([]byte(token), []byte(secret))
}
