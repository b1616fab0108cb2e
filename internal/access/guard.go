// Package access gates every widget-facing store call behind the widget key
// and origin allow-list check.
//
// The store used for widget traffic is trusted and unscoped, so the session,
// event and conversion components accept a Grant instead of a raw project id.
// A Grant can only be produced by Guard.
package access

import (
	"context"
	"crypto/subtle"
	"net/url"
	"strings"

	"vidbranch/internal/apperr"
	"vidbranch/internal/db"
	"vidbranch/internal/logging"
)

// Grant proves that a request passed the guard for one project.
type Grant struct {
	project *db.Project
	origin  string
}

func (g Grant) ProjectID() string {
	if g.project == nil {
		return ""
	}
	return g.project.ID
}

func (g Grant) OrganizationID() string {
	if g.project == nil {
		return ""
	}
	return g.project.OrganizationID
}

// Project returns the authorized project with its organization loaded.
func (g Grant) Project() *db.Project { return g.project }

// Origin is the request origin the grant was issued for, possibly empty.
func (g Grant) Origin() string { return g.origin }

// Valid reports whether g was issued by a Guard.
func (g Grant) Valid() bool { return g.project != nil }

// Guard checks widget credentials against a project's organization.
type Guard struct {
	store      *db.Store
	production bool
}

func NewGuard(store *db.Store, production bool) *Guard {
	return &Guard{store: store, production: production}
}

// Authorize loads projectID and checks the presented key and origin.
//
// A non-empty key must match the organization's widget key. In production
// a non-empty origin must be on the project's allow-list, and a request
// without an origin must carry a valid key.
func (g *Guard) Authorize(ctx context.Context, projectID, widgetKey, origin string) (Grant, error) {
	if strings.TrimSpace(projectID) == "" {
		return Grant{}, apperr.Validation("project_id is required")
	}
	p, err := g.store.Project(ctx, projectID)
	if err != nil {
		return Grant{}, err
	}
	return g.check(p, widgetKey, origin)
}

// AuthorizeSession resolves the project through an existing session, then
// applies the same checks as Authorize.
func (g *Guard) AuthorizeSession(ctx context.Context, sessionID, widgetKey, origin string) (Grant, *db.WidgetSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Grant{}, nil, apperr.Validation("session_id is required")
	}
	ws, err := g.store.Session(ctx, sessionID)
	if err != nil {
		return Grant{}, nil, err
	}
	grant, err := g.Authorize(ctx, ws.ProjectID, widgetKey, origin)
	if err != nil {
		return Grant{}, nil, err
	}
	return grant, ws, nil
}

func (g *Guard) check(p *db.Project, widgetKey, origin string) (Grant, error) {
	keyOK := false
	if widgetKey != "" {
		if !KeyMatches(p.Organization.WidgetKey, widgetKey) {
			deny(p.ID, origin, "widget key mismatch")
			return Grant{}, apperr.Authorization("invalid widget key")
		}
		keyOK = true
	}

	if g.production {
		switch {
		case origin != "":
			if !OriginAllowed(p.AllowedOrigins, origin) {
				deny(p.ID, origin, "origin not allowed")
				return Grant{}, apperr.Authorization("origin not allowed")
			}
		case !keyOK:
			deny(p.ID, origin, "no credentials")
			return Grant{}, apperr.Authorization("widget key or allowed origin required")
		}
	}
	return Grant{project: p, origin: origin}, nil
}

func deny(projectID, origin, reason string) {
	logging.Warn().Str("project_id", projectID).Str("origin", origin).Msg("widget access denied: " + reason)
}

// KeyMatches compares widget keys in constant time.
func KeyMatches(want, got string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// OriginAllowed reports whether origin is on the allow-list. Entries are
// compared after normalization; "*" allows everything.
func OriginAllowed(allowed []string, origin string) bool {
	o := NormalizeOrigin(origin)
	if o == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || NormalizeOrigin(a) == o {
			return true
		}
	}
	return false
}

// NormalizeOrigin lowercases scheme and host and drops default ports, paths
// and trailing slashes. Unparseable input is returned trimmed and lowercased.
func NormalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(raw), "/")
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}
