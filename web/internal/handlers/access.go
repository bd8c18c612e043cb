package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/sluggisty/dashboard/internal/app"
	"github.com/sluggisty/dashboard/internal/auth"
	"github.com/sluggisty/dashboard/internal/client"
	"github.com/sluggisty/dashboard/internal/domain/entities"
)

const accessPath = "/access"

// Access shows users (for admins) and the caller's API keys
func (h *Handler) Access(w http.ResponseWriter, r *http.Request) error {
	return h.renderAccess(w, r, http.StatusOK, nil)
}

// renderAccess loads users and keys and renders the access page.
// newKey is shown once, right after creation.
func (h *Handler) renderAccess(w http.ResponseWriter, r *http.Request, status int, newKey *entities.CreateAPIKeyResponse) error {
	sess, err := h.clientSession(r)
	if err != nil {
		return err
	}
	user, _ := auth.GetUserFromContext(r.Context())

	var (
		users []entities.User
		keys  []entities.APIKey
	)
	g, ctx := errgroup.WithContext(r.Context())
	if user.IsAdmin() {
		g.Go(func() error {
			list, err := sess.API.Users.List(ctx)
			if client.IsKind(err, client.KindAuthorization) {
				// role changed since sign-in
				h.log.Info("user list forbidden", slog.String("username", user.Username))
				return nil
			}
			if err != nil {
				return err
			}
			users = list.Users
			return nil
		})
	}
	g.Go(func() error {
		list, err := sess.API.APIKeys.List(ctx)
		if err != nil {
			return err
		}
		keys = list.APIKeys
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	data := h.newTemplateData(w, r, "access")
	data["Users"] = users
	data["APIKeys"] = keys
	data["Roles"] = entities.Roles()
	data["NewKey"] = newKey
	return h.renderTemplate(w, status, "access.html", data)
}

// CreateUser adds an account. Admins only.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) error {
	sess, err := h.adminSession(w, r)
	if sess == nil || err != nil {
		return err
	}
	if err := r.ParseForm(); err != nil {
		return err
	}

	req := entities.CreateUserRequest{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
		Role:     entities.Role(r.PostFormValue("role")),
	}
	created, err := sess.API.Users.Create(r.Context(), req)
	if err != nil {
		return h.fail(w, r, err, accessPath)
	}

	h.log.Info("user created", slog.String("username", created.Username), slog.String("role", string(created.Role)))
	h.flash(w, r, "Created "+created.Username)
	http.Redirect(w, r, accessPath, http.StatusSeeOther)
	return nil
}

// UpdateUserRole changes a user's role. Admins only.
func (h *Handler) UpdateUserRole(w http.ResponseWriter, r *http.Request) error {
	sess, err := h.adminSession(w, r)
	if sess == nil || err != nil {
		return err
	}
	if err := r.ParseForm(); err != nil {
		return err
	}

	id := mux.Vars(r)["id"]
	updated, err := sess.API.Users.UpdateRole(r.Context(), id, entities.Role(r.PostFormValue("role")))
	if err != nil {
		return h.fail(w, r, err, accessPath)
	}

	h.flash(w, r, updated.Username+" is now "+string(updated.Role))
	http.Redirect(w, r, accessPath, http.StatusSeeOther)
	return nil
}

// DeleteUser removes an account. Admins only.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) error {
	sess, err := h.adminSession(w, r)
	if sess == nil || err != nil {
		return err
	}

	id := mux.Vars(r)["id"]
	if err := sess.API.Users.Delete(r.Context(), id); err != nil {
		return h.fail(w, r, err, accessPath)
	}

	h.log.Info("user deleted", slog.String("user_id", id))
	h.flash(w, r, "User deleted")
	http.Redirect(w, r, accessPath, http.StatusSeeOther)
	return nil
}

// CreateKey issues an API key and shows its secret once
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) error {
	sess, err := h.clientSession(r)
	if err != nil {
		return err
	}
	if err := r.ParseForm(); err != nil {
		return err
	}

	req := entities.CreateAPIKeyRequest{Name: strings.TrimSpace(r.PostFormValue("name"))}
	if days := strings.TrimSpace(r.PostFormValue("expires_in_days")); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil {
			h.flash(w, r, "Expiry must be a number of days")
			http.Redirect(w, r, accessPath, http.StatusSeeOther)
			return nil
		}
		req.ExpiresInDays = n
	}

	created, err := sess.API.APIKeys.Create(r.Context(), req)
	if err != nil {
		return h.fail(w, r, err, accessPath)
	}

	h.log.Info("api key created", slog.String("key_id", created.APIKey.ID), slog.String("prefix", created.APIKey.Prefix))
	w.Header().Set("Cache-Control", "no-store")
	return h.renderAccess(w, r, http.StatusCreated, created)
}

// DeleteKey revokes an API key
func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) error {
	sess, err := h.clientSession(r)
	if err != nil {
		return err
	}

	id := mux.Vars(r)["id"]
	if err := sess.API.APIKeys.Delete(r.Context(), id); err != nil {
		return h.fail(w, r, err, accessPath)
	}

	h.flash(w, r, "API key revoked")
	http.Redirect(w, r, accessPath, http.StatusSeeOther)
	return nil
}

// adminSession returns the client session when the caller is an admin.
// Otherwise it responds itself and returns a nil session.
func (h *Handler) adminSession(w http.ResponseWriter, r *http.Request) (*app.Session, error) {
	sess, err := h.clientSession(r)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireAdmin(r.Context()); err != nil {
		h.flash(w, r, "Admin access required")
		http.Redirect(w, r, accessPath, http.StatusSeeOther)
		return nil, nil
	}
	return sess, nil
}
