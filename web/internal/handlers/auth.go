package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sluggisty/dashboard/internal/app"
	"github.com/sluggisty/dashboard/internal/auth"
	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/internal/domain/entities"
	"github.com/sluggisty/dashboard/web/internal/session"
)

// loginNotices explain why the user landed on the login page
var loginNotices = map[string]string{
	client.ReasonIdle:    "You were signed out after a period of inactivity.",
	client.ReasonExpired: "Your session has expired. Please sign in again.",
	"unauthorized":       "Please sign in to continue.",
	"logout":             "You have been signed out.",
}

// Login shows the login page
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) error {
	// If already logged in with valid token, redirect to home
	if sess, err := h.sessionManager.Open(w, r, h.services); err == nil && sess.Auth.IsAuthenticated(r.Context()) {
		if _, ok := h.sessionManager.User(r); ok {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return nil
		}
	}

	data := h.newTemplateData(w, r, "login")
	data["Notice"] = loginNotices[r.URL.Query().Get("reason")]
	data["Next"] = auth.SanitizeRedirect(r.URL.Query().Get("next"))
	data["Username"] = ""
	return h.renderTemplate(w, http.StatusOK, "login.html", data)
}

// LoginSubmit signs the user in and redirects to the requested page
func (h *Handler) LoginSubmit(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return err
	}
	username := strings.TrimSpace(r.PostFormValue("username"))
	next := auth.SanitizeRedirect(r.PostFormValue("next"))

	sess, err := h.sessionManager.Open(w, r, h.services)
	if err != nil {
		return err
	}

	resp, err := sess.Auth.Login(r.Context(), username, r.PostFormValue("password"))
	if err != nil {
		data := h.newTemplateData(w, r, "login")
		data["Notice"] = ""
		data["Next"] = next
		data["Username"] = username
		return h.renderFormError(w, "login.html", data, err)
	}

	if err := h.signIn(w, r, sess, resp); err != nil {
		return err
	}
	h.log.Info("user logged in", slog.String("username", username), slog.String("session_id", sess.ID))
	http.Redirect(w, r, next, http.StatusSeeOther)
	return nil
}

// Register shows the registration page
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) error {
	data := h.newTemplateData(w, r, "register")
	data["Form"] = entities.RegisterRequest{}
	return h.renderTemplate(w, http.StatusOK, "register.html", data)
}

// RegisterSubmit creates an account and signs it in
func (h *Handler) RegisterSubmit(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return err
	}
	req := entities.RegisterRequest{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
		OrgName:  strings.TrimSpace(r.PostFormValue("org_name")),
	}

	sess, err := h.sessionManager.Open(w, r, h.services)
	if err != nil {
		return err
	}

	resp, err := sess.Auth.Register(r.Context(), req)
	if err != nil {
		data := h.newTemplateData(w, r, "register")
		req.Password = ""
		data["Form"] = req
		return h.renderFormError(w, "register.html", data, err)
	}

	if err := h.signIn(w, r, sess, resp); err != nil {
		return err
	}
	h.log.Info("user registered", slog.String("username", req.Username))
	h.flash(w, r, "Welcome to Sluggisty, "+req.Username+"!")
	http.Redirect(w, r, "/", http.StatusSeeOther)
	return nil
}

// Logout ends the session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) error {
	if sess, err := h.sessionManager.Open(w, r, h.services); err == nil {
		if err := sess.Auth.Logout(r.Context()); err != nil {
			h.log.Warn("failed to clear client session", slog.String("error", err.Error()))
		}
	}
	if err := h.sessionManager.Clear(r, w); err != nil {
		h.log.Error("error clearing session", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, "/login?reason=logout", http.StatusSeeOther)
	return nil
}

// signIn records the authenticated user in the cookie
func (h *Handler) signIn(w http.ResponseWriter, r *http.Request, sess *app.Session, resp *entities.AuthResponse) error {
	user := resp.User
	if user == nil {
		me, err := sess.Auth.GetMe(r.Context())
		if err != nil {
			return err
		}
		user = me
	}
	return h.sessionManager.SetUser(r, w, session.UserFrom(user))
}

// renderFormError re-renders a form page with the API's complaint.
// Errors that are not API errors go to the error boundary.
func (h *Handler) renderFormError(w http.ResponseWriter, page string, data map[string]interface{}, err error) error {
	apiErr, ok := client.AsAPIError(err)
	if !ok {
		return err
	}

	status := apiErr.Status
	if status < 400 || status >= 500 {
		status = http.StatusBadGateway
	}

	switch apiErr.Kind {
	case client.KindAuthentication:
		// on a sign-in form a 401 means bad credentials, not an expired session
		data["Error"] = apiErr.Message
		if apiErr.Message == "" {
			data["Error"] = "Invalid username or password"
		}
		status = http.StatusUnauthorized
	case client.KindValidation:
		data["Error"] = apiErr.Message
		data["Fields"] = apiErr.FieldErrors
	default:
		data["Error"] = apiErr.UserMessage()
	}
	return h.renderTemplate(w, status, page, data)
}
