package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sluggisty/dashboard/internal/app"
	"github.com/sluggisty/dashboard/internal/auth"
	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/web/internal/session"
)

type sessionKey struct{}

// WithSession stores the per-request client session in ctx
func WithSession(ctx context.Context, s *app.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the client session opened by RequireAuth
func SessionFromContext(ctx context.Context) (*app.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*app.Session)
	return s, ok && s != nil
}

// LoginURL builds the login redirect, carrying the reason and where to
// return afterwards
func LoginURL(reason, next string) string {
	q := url.Values{}
	if reason != "" {
		q.Set("reason", reason)
	}
	if next = auth.SanitizeRedirect(next); next != "/" {
		q.Set("next", next)
	}
	if len(q) == 0 {
		return "/login"
	}
	return "/login?" + q.Encode()
}

// AuthMiddleware handles authentication checks for requests
type AuthMiddleware struct {
	sessions *session.Manager
	services *app.Services
	log      *slog.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(sessions *session.Manager, services *app.Services, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
		services: services,
		log:      logger.With(slog.String("component", "auth_middleware")),
	}
}

// RequireAuth ensures the user is signed in. It opens the client session,
// ends it when idle or too old, refreshes the token when close to expiry
// and records activity.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.sessions.Open(w, r, m.services)
		if err != nil {
			m.log.Error("failed to open session", slog.String("error", err.Error()))
			m.deny(w, r, "")
			return
		}
		// Opening the session attaches the cookie registry to r's context
		ctx := r.Context()

		if err := sess.Tokens.CheckSession(ctx); err != nil {
			reason := client.ReasonIdle
			if errors.Is(err, client.ErrSessionExpired) {
				reason = client.ReasonExpired
			}
			m.deny(w, r, reason)
			return
		}

		token, err := sess.Tokens.ValidToken(ctx)
		if err != nil || token == "" {
			reason := ""
			if err != nil {
				m.log.Info("token refresh failed", slog.String("error", err.Error()))
				reason = "expired"
			}
			m.deny(w, r, reason)
			return
		}

		user, ok := m.sessions.User(r)
		if !ok {
			me, err := sess.Auth.GetMe(ctx)
			if err != nil {
				m.log.Info("failed to load current user", slog.String("error", err.Error()))
				m.deny(w, r, "unauthorized")
				return
			}
			user = session.UserFrom(me)
			if err := m.sessions.SetUser(r, w, user); err != nil {
				m.log.Warn("failed to save user to session", slog.String("error", err.Error()))
			}
		}

		sess.Tokens.RecordActivity(ctx)

		userCtx := user.Context(sess.ID)
		noteUser(ctx, userCtx)
		ctx = auth.SetUserInContext(ctx, userCtx)
		ctx = WithSession(ctx, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// deny clears the cookie and sends the browser to the login page
func (m *AuthMiddleware) deny(w http.ResponseWriter, r *http.Request, reason string) {
	if err := m.sessions.Clear(r, w); err != nil {
		m.log.Error("error clearing session", slog.String("error", err.Error()))
	}
	next := ""
	if r.Method == http.MethodGet {
		next = r.URL.RequestURI()
	}
	http.Redirect(w, r, LoginURL(reason, next), http.StatusSeeOther)
}
