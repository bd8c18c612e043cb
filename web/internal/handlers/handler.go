package handlers

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sluggisty/dashboard/internal/app"
	"github.com/sluggisty/dashboard/internal/auth"
	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/web/internal/boundary"
	"github.com/sluggisty/dashboard/web/internal/middleware"
	"github.com/sluggisty/dashboard/web/internal/render"
	"github.com/sluggisty/dashboard/web/internal/session"
)

// Handler holds dependencies for all web handlers
type Handler struct {
	services       *app.Services
	sessionManager *session.Manager
	templates      *render.TemplateSet
	boundary       *boundary.Boundary
	log            *slog.Logger
}

// New creates a new handler with dependencies
func New(services *app.Services, sessionManager *session.Manager, templates *render.TemplateSet, logger *slog.Logger) *Handler {
	h := &Handler{
		services:       services,
		sessionManager: sessionManager,
		templates:      templates,
		log:            logger.With(slog.String("component", "web_handler")),
	}
	h.boundary = boundary.New("page",
		boundary.WithRenderer(h.renderFailure),
		boundary.WithInterceptor(h.interceptAuth),
		boundary.WithReporter(services.Reporter),
		boundary.WithLogger(logger),
	)
	return h
}

// Page wraps a page handler in an error boundary named after component
func (h *Handler) Page(component string, fn boundary.HandlerFunc) http.Handler {
	return h.boundary.For(component).Wrap(fn)
}

// Boundary returns the handler's root error boundary
func (h *Handler) Boundary() *boundary.Boundary {
	return h.boundary
}

// clientSession returns the session opened by the auth middleware
func (h *Handler) clientSession(r *http.Request) (*app.Session, error) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		return nil, client.ErrNoToken
	}
	return sess, nil
}

// newTemplateData creates a new template data map with standard fields populated
// Callers can add page-specific fields to the returned map
func (h *Handler) newTemplateData(w http.ResponseWriter, r *http.Request, page string) map[string]interface{} {
	var user *auth.UserContext
	if u, err := auth.GetUserFromContext(r.Context()); err == nil {
		user = u
	}
	return map[string]interface{}{
		"User":        user,
		"CurrentPage": page,
		"Flashes":     h.sessionManager.Flashes(r, w),
		"Error":       "",
		"Fields":      map[string]string(nil),
	}
}

// renderTemplate renders a template with data
func (h *Handler) renderTemplate(w http.ResponseWriter, status int, name string, data interface{}) error {
	if h.templates == nil {
		return errors.New("templates not loaded")
	}
	h.log.Debug("rendering template", slog.String("template", name))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var buf bytes.Buffer
	if err := h.templates.Execute(&buf, name, data); err != nil {
		return err
	}
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// renderFailure is the error boundary's fallback page
func (h *Handler) renderFailure(w http.ResponseWriter, r *http.Request, ec boundary.ErrorContext) {
	data := h.newTemplateData(w, r, "")
	data["Failure"] = ec
	if err := h.renderTemplate(w, ec.Status, "error.html", data); err != nil {
		h.log.Error("template rendering failed",
			slog.String("template", "error.html"),
			slog.String("error", err.Error()))
		boundary.PlainRenderer(w, r, ec)
	}
}

// interceptAuth sends the browser back to the login page when the API
// no longer accepts the session
func (h *Handler) interceptAuth(w http.ResponseWriter, r *http.Request, err error) bool {
	if !isAuthError(err) {
		return false
	}
	h.clearSessionAndRedirect(w, r, "unauthorized")
	return true
}

// isAuthError checks if an error means the session is no longer valid
func isAuthError(err error) bool {
	return client.IsKind(err, client.KindAuthentication) ||
		errors.Is(err, client.ErrNoToken) ||
		errors.Is(err, client.ErrTokenExpired)
}

// clearSessionAndRedirect clears the session and redirects to login
func (h *Handler) clearSessionAndRedirect(w http.ResponseWriter, r *http.Request, reason string) {
	h.log.Info("clearing invalid session and redirecting to login", slog.String("reason", reason))
	if err := h.sessionManager.Clear(r, w); err != nil {
		h.log.Error("error clearing session", slog.String("error", err.Error()))
	}
	next := ""
	if r.Method == http.MethodGet {
		next = r.URL.RequestURI()
	}
	http.Redirect(w, r, middleware.LoginURL(reason, next), http.StatusSeeOther)
}

// fail handles an error from a form submission: authentication failures go
// through the boundary, everything else becomes a flash message on back
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, back string) error {
	if isAuthError(err) {
		return err
	}
	h.flash(w, r, formMessage(err))
	http.Redirect(w, r, back, http.StatusSeeOther)
	return nil
}

// formMessage describes a failed submission. Validation errors list the
// offending fields.
func formMessage(err error) string {
	apiErr, ok := client.AsAPIError(err)
	if !ok || apiErr.Kind != client.KindValidation || len(apiErr.FieldErrors) == 0 {
		return client.UserMessage(err)
	}
	parts := make([]string, 0, len(apiErr.FieldErrors))
	for _, field := range apiErr.Fields() {
		parts = append(parts, strings.ReplaceAll(field, "_", " ")+" "+apiErr.FieldError(field))
	}
	return apiErr.Message + ": " + strings.Join(parts, "; ")
}

// flash queues a message for the next page
func (h *Handler) flash(w http.ResponseWriter, r *http.Request, msg string) {
	if err := h.sessionManager.AddFlash(r, w, msg); err != nil {
		h.log.Warn("failed to save flash message", slog.String("error", err.Error()))
	}
}
