package session

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/sluggisty/dashboard/internal/app"
	"github.com/sluggisty/dashboard/internal/infrastructure/store"
)

// CookieStore implements store.Store on top of the request's session cookie.
// It must be created per request since it writes to the response.
type CookieStore struct {
	manager *Manager
	request *http.Request
	writer  http.ResponseWriter
	mu      sync.Mutex
}

// NewCookieStore creates a session-backed store for one request
func NewCookieStore(manager *Manager, r *http.Request, w http.ResponseWriter) *CookieStore {
	return &CookieStore{
		manager: manager,
		request: r,
		writer:  w,
	}
}

// Get returns the value stored under key in the session
func (s *CookieStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.manager.GetSession(s.request).Values[statePrefix+key].(string)
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

// Set stores value under key and saves the session
func (s *CookieStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.manager.GetSession(s.request)
	session.Values[statePrefix+key] = value
	return session.Save(s.request, s.writer)
}

// Remove deletes key and saves the session
func (s *CookieStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.manager.GetSession(s.request)
	if _, ok := session.Values[statePrefix+key]; !ok {
		return nil
	}
	delete(session.Values, statePrefix+key)
	return session.Save(s.request, s.writer)
}

// Clear removes every value written through the store. The session id and
// flashes are kept.
func (s *CookieStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.manager.GetSession(s.request)
	for key := range session.Values {
		if name, ok := key.(string); ok && strings.HasPrefix(name, statePrefix) {
			delete(session.Values, key)
		}
	}
	return session.Save(s.request, s.writer)
}

// Open builds the client session for this request. State lives in the shared
// backend when it supports per-session namespaces, otherwise in the cookie.
func (m *Manager) Open(w http.ResponseWriter, r *http.Request, svc *app.Services) (*app.Session, error) {
	id, created := m.ID(r)
	if created {
		if err := m.Save(r, w); err != nil {
			return nil, err
		}
	}

	st, ok := svc.SessionStore(id)
	if !ok {
		st = store.Instrument("cookie", NewCookieStore(m, r, w))
	}
	return svc.NewSession(r.Context(), st, id)
}
