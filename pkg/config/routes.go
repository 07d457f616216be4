package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Route kinds understood by the composition root.
const (
	RouteKindMattermost = "mattermost"
	RouteKindN8N        = "n8n"
)

// RouteFile declares additional downstream targets beyond the two
// built-ins, for installs bridging more than one instance of a product.
type RouteFile struct {
	Routes []Route `yaml:"routes"`
}

// Route is one declared downstream target.
type Route struct {
	// Name is the path segment under /auth/ and the metric label.
	Name string `yaml:"name"`

	// Kind selects the client implementation: "mattermost" or "n8n".
	Kind string `yaml:"kind"`

	BaseURL string `yaml:"base_url"`

	// InternalURL optionally overrides BaseURL for admin API calls.
	InternalURL string `yaml:"internal_url"`

	// Token carries the admin token (mattermost) or API key (n8n).
	Token string `yaml:"token"`

	// Soft marks the target as header-trusting: bridge failures pass
	// through instead of blocking.
	Soft bool `yaml:"soft"`

	AuthCookie    string `yaml:"auth_cookie"`
	AccountCookie string `yaml:"account_cookie"`
	CookieDomain  string `yaml:"cookie_domain"`
}

// APIURL returns the endpoint admin calls use for this route.
func (r Route) APIURL() string {
	if r.InternalURL != "" {
		return r.InternalURL
	}
	return r.BaseURL
}

// LoadRoutes reads and validates a route declaration file.
func LoadRoutes(path string) ([]Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}

	var file RouteFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse routes file: %w", err)
	}

	seen := make(map[string]bool)
	for i, route := range file.Routes {
		if route.Name == "" {
			return nil, fmt.Errorf("route %d: name is required", i)
		}
		if seen[route.Name] {
			return nil, fmt.Errorf("route %q declared twice", route.Name)
		}
		seen[route.Name] = true

		if route.Kind != RouteKindMattermost && route.Kind != RouteKindN8N {
			return nil, fmt.Errorf("route %q: unknown kind %q", route.Name, route.Kind)
		}
		if route.BaseURL == "" {
			return nil, fmt.Errorf("route %q: base_url is required", route.Name)
		}
		if route.Token == "" {
			return nil, fmt.Errorf("route %q: token is required", route.Name)
		}
	}

	return file.Routes, nil
}
