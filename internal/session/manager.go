// Package session maps a visiting browser onto a WidgetSession row.
package session

import (
	"context"
	"time"

	"vidbranch/internal/access"
	"vidbranch/internal/apperr"
	"vidbranch/internal/db"
	"vidbranch/internal/logging"
	"vidbranch/internal/metrics"
)

// Meta is the optional viewer metadata stored on a new session.
type Meta struct {
	VisitorID  string
	DeviceType string
	Browser    string
	Referrer   string
}

// Manager opens, reuses and closes widget sessions for authorized projects.
//
// Two requests racing on the same unknown session id may both create a row;
// callers get at least one session per visit, not exactly one.
type Manager struct {
	store *db.Store
	now   func() time.Time
}

func NewManager(store *db.Store) *Manager {
	return &Manager{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// OpenOrValidate reuses existingID when it names a session of the granted
// project and otherwise creates a new one. created reports which path ran;
// when true the caller must hand the new id back to the widget.
func (m *Manager) OpenOrValidate(ctx context.Context, grant access.Grant, existingID string, meta Meta) (id string, created bool, err error) {
	if !grant.Valid() {
		return "", false, apperr.Authorization("widget access not granted")
	}

	if existingID != "" {
		ws, err := m.store.Session(ctx, existingID)
		switch {
		case err == nil && ws.ProjectID == grant.ProjectID():
			return ws.ID, false, nil
		case err == nil:
			logging.Debug().Str("session_id", existingID).Str("project_id", grant.ProjectID()).
				Msg("session belongs to another project, creating a new one")
		case !apperr.Is(err, apperr.KindNotFound):
			return "", false, err
		}
	}

	ws := &db.WidgetSession{
		ProjectID:      grant.ProjectID(),
		OrganizationID: grant.OrganizationID(),
		VisitorID:      meta.VisitorID,
		StartedAt:      m.now(),
		DeviceType:     meta.DeviceType,
		Browser:        meta.Browser,
		Referrer:       meta.Referrer,
	}
	if err := m.store.CreateSession(ctx, ws); err != nil {
		return "", false, err
	}
	metrics.SessionsStarted.WithLabelValues(ws.ProjectID).Inc()
	return ws.ID, true, nil
}

// Close ends the session. Closing an already closed session is a no-op.
func (m *Manager) Close(ctx context.Context, grant access.Grant, sessionID string) error {
	if !grant.Valid() {
		return apperr.Authorization("widget access not granted")
	}
	ws, err := m.store.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if ws.ProjectID != grant.ProjectID() {
		return apperr.NotFound("session")
	}
	_, err = m.store.CloseSession(ctx, sessionID, m.now())
	return err
}
