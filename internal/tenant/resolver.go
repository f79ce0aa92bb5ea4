// Package tenant provides resolution of request origins to the tenant and
// landing-page scope they were provisioned under. Resolution is pure and
// deterministic; the origin mapping is configuration data.
package tenant

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnknownOrigin is returned when an origin maps to no provisioned scope.
var ErrUnknownOrigin = errors.New("origin does not resolve to a known tenant")

// Scope identifies the customer and landing-page context a claim and its
// resulting memory belong to.
type Scope struct {
	Tenant string `koanf:"tenant" json:"tenant"`
	LpID   string `koanf:"lp_id" json:"lp_id"`
}

// Config holds the origin-to-scope mapping assigned at provisioning time.
type Config struct {
	// BaseDomain enables the {lp_id}.{tenant}.{base_domain} subdomain convention.
	BaseDomain string `koanf:"base_domain"`

	// Origins maps explicit origin hosts (e.g. custom domains) to scopes.
	// Keys are bare hosts without scheme or port.
	Origins map[string]Scope `koanf:"origins"`
}

// Resolver maps request origins to tenant scopes.
type Resolver struct {
	baseDomain string
	origins    map[string]Scope
}

// NewResolver creates a Resolver from provisioning configuration.
func NewResolver(cfg Config) *Resolver {
	origins := make(map[string]Scope, len(cfg.Origins))
	for host, scope := range cfg.Origins {
		origins[strings.ToLower(host)] = scope
	}
	return &Resolver{
		baseDomain: strings.ToLower(strings.TrimPrefix(cfg.BaseDomain, ".")),
		origins:    origins,
	}
}

// Resolve maps an origin (URL or bare host) to its provisioned scope.
// Explicit origin mappings take precedence over the subdomain convention.
// Returns ErrUnknownOrigin when neither applies.
func (r *Resolver) Resolve(origin string) (Scope, error) {
	host, err := originHost(origin)
	if err != nil {
		return Scope{}, err
	}

	if scope, ok := r.origins[host]; ok {
		return scope, nil
	}

	if r.baseDomain != "" {
		suffix := "." + r.baseDomain
		if rest, ok := strings.CutSuffix(host, suffix); ok {
			// Convention: {lp_id}.{tenant}.{base_domain}
			parts := strings.Split(rest, ".")
			if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
				return Scope{Tenant: parts[1], LpID: parts[0]}, nil
			}
		}
	}

	return Scope{}, fmt.Errorf("%w: %s", ErrUnknownOrigin, host)
}

// Matches reports whether the origin resolves to exactly the given tenant and
// landing page, by value equality on both fields.
func (r *Resolver) Matches(origin, tenant, lpID string) bool {
	scope, err := r.Resolve(origin)
	if err != nil {
		return false
	}
	return scope.Tenant == tenant && scope.LpID == lpID
}

// originHost extracts the lowercase host from an origin string, accepting
// both full URLs and bare hosts, and stripping any port.
func originHost(origin string) (string, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "", fmt.Errorf("%w: empty origin", ErrUnknownOrigin)
	}

	host := origin
	if strings.Contains(origin, "://") {
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("%w: unparseable origin %q", ErrUnknownOrigin, origin)
		}
		host = u.Host
	}

	// Strip port if present.
	if i := strings.LastIndex(host, ":"); i != -1 && !strings.Contains(host, "]") {
		host = host[:i]
	}

	return strings.ToLower(host), nil
}
