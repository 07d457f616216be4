package bridge

import (
	"net/http"
	"strings"

	"github.com/wrenfield/idbridge/pkg/identity"
)

// Identity header chains in trust order: provider-specific headers first,
// then generic auth-request headers, then the legacy forwarded set.
var (
	emailHeaders = []string{
		"X-Authentik-Email",
		"X-Auth-Request-Email",
		"X-Forwarded-Email",
	}
	usernameHeaders = []string{
		"X-Authentik-Username",
		"X-Auth-Request-Preferred-Username",
		"X-Auth-Request-User",
		"X-Forwarded-User",
		"Remote-User",
	}
	nameHeaders = []string{
		"X-Authentik-Name",
		"X-Auth-Request-Name",
	}
	subjectHeaders = []string{
		"X-Authentik-Uid",
	}
)

// FromHeaders extracts the proxy-asserted identity from the request
// headers. The first non-empty value wins per field; later sources never
// overwrite an earlier one.
func FromHeaders(h http.Header) identity.UserInfo {
	return identity.UserInfo{
		Email:    firstHeader(h, emailHeaders),
		Username: firstHeader(h, usernameHeaders),
		Name:     firstHeader(h, nameHeaders),
		Subject:  firstHeader(h, subjectHeaders),
	}
}

func firstHeader(h http.Header, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}
