package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sluggisty/dashboard/web/internal/middleware"
	"github.com/sluggisty/dashboard/web/internal/render"
	"github.com/sluggisty/dashboard/web/static"
)

// Routes sets up the HTTP router with all routes and middleware
func (h *Handler) Routes(authMw *middleware.AuthMiddleware, logMw *middleware.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(logMw.LogRequest)
	router.Use(h.boundary.For("router").Middleware)

	// Static files with version path: /static/{version}/...
	files := http.FileServer(http.FS(static.FS))
	router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Remove version from path (format: {version}/file.ext)
		parts := strings.SplitN(r.URL.Path, "/", 2)
		if len(parts) == 2 {
			r.URL.Path = "/" + parts[1]
		}
		// Set aggressive cache headers for versioned assets
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		files.ServeHTTP(w, r)
	}))).Methods("GET")

	// Health check endpoint (no auth required)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")

	// Version info endpoint
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"version":%q}`, render.Version)
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Public routes (no auth required)
	router.Handle("/login", h.Page("login", h.Login)).Methods("GET")
	router.Handle("/login", h.Page("login", h.LoginSubmit)).Methods("POST")
	router.Handle("/register", h.Page("register", h.Register)).Methods("GET")
	router.Handle("/register", h.Page("register", h.RegisterSubmit)).Methods("POST")
	router.Handle("/logout", h.Page("logout", h.Logout)).Methods("POST")

	protected := func(component string, fn func(http.ResponseWriter, *http.Request) error) http.Handler {
		return authMw.RequireAuth(h.Page(component, fn))
	}

	router.Handle("/", protected("dashboard", h.Dashboard)).Methods("GET")

	// Host routes (auth required)
	router.Handle("/hosts", protected("hosts", h.Hosts)).Methods("GET")
	router.Handle("/hosts/{id}", protected("host", h.Host)).Methods("GET")
	router.Handle("/hosts/{id}/delete", protected("host", h.HostDelete)).Methods("POST")

	// Access routes (auth required)
	router.Handle("/access", protected("access", h.Access)).Methods("GET")
	router.Handle("/access/users", protected("access", h.CreateUser)).Methods("POST")
	router.Handle("/access/users/{id}/role", protected("access", h.UpdateUserRole)).Methods("POST")
	router.Handle("/access/users/{id}/delete", protected("access", h.DeleteUser)).Methods("POST")
	router.Handle("/access/keys", protected("access", h.CreateKey)).Methods("POST")
	router.Handle("/access/keys/{id}/delete", protected("access", h.DeleteKey)).Methods("POST")

	return router
}
