package client

import (
	"context"
	"time"

	"github.com/sluggisty/dashboard/internal/domain/entities"
	"github.com/sluggisty/dashboard/internal/pkg/metrics"
)

// Session timeout reasons, used in the login redirect
const (
	ReasonIdle    = "idle"
	ReasonExpired = "expired"
)

// Session returns a copy of the active session
func (m *TokenManager) Session() (entities.AuthSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return entities.AuthSession{}, false
	}
	return *m.session, true
}

// SetUser records who the session belongs to
func (m *TokenManager) SetUser(ctx context.Context, userID, username string) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return nil
	}
	m.session.UserID = userID
	m.session.Username = username
	snapshot := *m.session
	m.mu.Unlock()
	return m.writeJSON(ctx, KeyAuthSession, snapshot)
}

// RecordActivity marks the session as active now
func (m *TokenManager) RecordActivity(ctx context.Context) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return
	}
	m.session.LastActivity = m.now()
	snapshot := *m.session
	m.mu.Unlock()

	if err := m.writeJSON(ctx, KeyAuthSession, snapshot); err != nil {
		m.log.Warn("failed to persist session activity", "error", err)
	}
}

// CheckSession ends the session if it has been idle too long or has passed
// its maximum age. It returns ErrSessionIdle or ErrSessionExpired in that case.
func (m *TokenManager) CheckSession(ctx context.Context) error {
	m.mu.Lock()
	session := m.session
	now := m.now()
	m.mu.Unlock()

	if session == nil {
		return nil
	}

	var reason string
	var err error
	switch {
	case !now.Before(session.ExpiresAt):
		reason, err = ReasonExpired, ErrSessionExpired
	case session.IdleFor(now) >= m.cfg.IdleTimeout:
		reason, err = ReasonIdle, ErrSessionIdle
	default:
		return nil
	}

	m.log.Info("session ended", "reason", reason, "session_id", session.SessionID)
	metrics.SessionTimeouts.WithLabelValues(reason).Inc()
	if clearErr := m.ClearTokens(ctx); clearErr != nil {
		m.log.Warn("failed to clear tokens", "error", clearErr)
	}
	m.cfg.Events.Emit(Event{
		Type:     EventSessionTimeout,
		Reason:   reason,
		Redirect: "/login?reason=" + reason,
	})
	return err
}

// Start runs CheckSession every CheckInterval until Stop or ctx is done
func (m *TokenManager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.monitorCancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.monitorCancel = cancel
	m.monitorDone = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = m.CheckSession(ctx)
			}
		}
	}()
}

// Stop halts the session monitor and any scheduled refresh
func (m *TokenManager) Stop() {
	m.mu.Lock()
	cancel, done := m.monitorCancel, m.monitorDone
	m.monitorCancel, m.monitorDone = nil, nil
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
