package api

import (
	"errors"
	"net/http"

	"github.com/wrenfield/idbridge/pkg/httputil"
	"github.com/wrenfield/idbridge/pkg/identity"
	"github.com/wrenfield/idbridge/pkg/provision"
)

// syncRequest is the body of POST /api/v1/sync.
type syncRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Subject  string `json:"subject"`
}

// handleSync handles POST /api/v1/sync, the manual provisioning path for
// users that predate the webhook wiring.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}

	user := identity.UserInfo{
		Email:    req.Email,
		Username: req.Username,
		Name:     req.Name,
		Subject:  req.Subject,
	}

	result, err := s.pipeline.SyncUser(r.Context(), SyncProvider, user)
	if err != nil {
		if errors.Is(err, provision.ErrNoEmail) {
			httputil.WriteBadRequest(w, "email is required")
			return
		}
		s.logger.WithError(err).WithField("email", req.Email).Error("manual sync failed")
		httputil.WriteInternalError(w, errors.New("failed to sync user"))
		return
	}

	httputil.WriteSuccess(w, result)
}

// handleListShadowUsers handles GET /api/v1/shadow-users.
func (s *Server) handleListShadowUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.List(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("failed to list shadow users")
		httputil.WriteServiceUnavailable(w, "identity store unavailable")
		return
	}
	if users == nil {
		users = []*identity.ShadowUser{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}
