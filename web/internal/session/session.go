package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

const (
	// SessionName is the name of the session cookie
	SessionName = "sluggisty_session"

	// IDKey is the session key for the client session id
	IDKey = "sid"

	// UserKey is the session key for the signed-in user's display info
	UserKey = "user"

	// statePrefix marks values written through the Store adapter
	statePrefix = "state:"
)

// Manager wraps gorilla/sessions for our use case
type Manager struct {
	store *sessions.CookieStore
}

// NewManager creates a new session manager
// secretKey should be 32 bytes for AES-256
func NewManager(secretKey []byte, secure bool, maxAge time.Duration) *Manager {
	store := sessions.NewCookieStore(secretKey)

	if maxAge <= 0 {
		maxAge = 8 * time.Hour
	}
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	// Token info and session metadata can outgrow the default 4096 bytes
	for _, c := range store.Codecs {
		if codec, ok := c.(*securecookie.SecureCookie); ok {
			codec.MaxLength(8192)
		}
	}

	return &Manager{
		store: store,
	}
}

// GetSession returns the request's session, starting a new one when the
// cookie is missing or cannot be decoded
func (m *Manager) GetSession(r *http.Request) *sessions.Session {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		session, _ = m.store.New(r, SessionName)
	}
	return session
}

// ID returns the client session id, assigning one if the session has none.
// The caller must save the session for a new id to stick.
func (m *Manager) ID(r *http.Request) (id string, created bool) {
	session := m.GetSession(r)
	if id, ok := session.Values[IDKey].(string); ok && id != "" {
		return id, false
	}
	id = uuid.NewString()
	session.Values[IDKey] = id
	return id, true
}

// SetUser stores who is signed in, for page chrome and role checks
func (m *Manager) SetUser(r *http.Request, w http.ResponseWriter, u User) error {
	session := m.GetSession(r)
	session.Values[UserKey] = u.encode()
	return session.Save(r, w)
}

// User returns the signed-in user recorded by SetUser
func (m *Manager) User(r *http.Request) (User, bool) {
	raw, ok := m.GetSession(r).Values[UserKey].(string)
	if !ok {
		return User{}, false
	}
	return decodeUser(raw)
}

// AddFlash queues a one-shot message for the next rendered page
func (m *Manager) AddFlash(r *http.Request, w http.ResponseWriter, msg string) error {
	session := m.GetSession(r)
	session.AddFlash(msg)
	return session.Save(r, w)
}

// Flashes returns and consumes queued messages
func (m *Manager) Flashes(r *http.Request, w http.ResponseWriter) []string {
	session := m.GetSession(r)
	raw := session.Flashes()
	if len(raw) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			msgs = append(msgs, s)
		}
	}
	_ = session.Save(r, w)
	return msgs
}

// Clear removes the session (logout)
func (m *Manager) Clear(r *http.Request, w http.ResponseWriter) error {
	session := m.GetSession(r)
	for key := range session.Values {
		delete(session.Values, key)
	}
	// Set MaxAge to -1 to delete the session
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// Save writes pending session changes
func (m *Manager) Save(r *http.Request, w http.ResponseWriter) error {
	return m.GetSession(r).Save(r, w)
}
