// Package fakeapi is an in-memory stand-in for the Sluggisty REST API, used by
// tests and local development of the dashboard.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sluggisty/dashboard/internal/auth"
	"github.com/sluggisty/dashboard/internal/domain/entities"
)

// BasePath is where the API is mounted
const BasePath = "/api/v1"

type account struct {
	user     entities.User
	password string
}

type failure struct {
	status int
	body   any
	left   int
}

// Server holds fake API state. The zero value is not usable; use New.
type Server struct {
	// TokenTTL is the lifetime of issued access tokens
	TokenTTL time.Duration
	// NewToken generates access and refresh token strings
	NewToken func() string
	// RequireCSRF rejects mutating requests without a matching X-CSRF-Token
	RequireCSRF bool
	// Signer, when set, issues signed JWT access tokens and leaves
	// expires_at out of token responses so clients read the exp claim
	Signer  *auth.JWTManager
	Version string

	mu       sync.Mutex
	now      func() time.Time
	accounts map[string]*account // by username
	tokens   map[string]string   // access token -> username
	refresh  map[string]string   // refresh token -> username
	hosts    map[string]entities.Host
	reports  map[string]entities.Report
	keys     map[string]map[string]entities.APIKey // username -> id -> key
	csrf     string
	calls    map[string]int
	failures map[string]*failure
}

// New creates an empty fake API
func New() *Server {
	return &Server{
		TokenTTL: time.Hour,
		NewToken: func() string { return uuid.NewString() },
		Version:  "fake",
		now:      time.Now,
		accounts: make(map[string]*account),
		tokens:   make(map[string]string),
		refresh:  make(map[string]string),
		hosts:    make(map[string]entities.Host),
		reports:  make(map[string]entities.Report),
		keys:     make(map[string]map[string]entities.APIKey),
		csrf:     uuid.NewString(),
		calls:    make(map[string]int),
		failures: make(map[string]*failure),
	}
}

// Handler returns the API router mounted at BasePath
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix(BasePath).Subrouter()
	api.Use(s.count, s.inject)

	api.HandleFunc("/health", s.health).Methods("GET")
	api.HandleFunc("/auth/login", s.login).Methods("POST")
	api.HandleFunc("/auth/register", s.register).Methods("POST")
	api.HandleFunc("/auth/refresh", s.refreshToken).Methods("POST")
	api.HandleFunc("/auth/me", s.authed(s.me)).Methods("GET")
	api.HandleFunc("/auth/csrf-token", s.authed(s.csrfToken)).Methods("GET")

	api.HandleFunc("/hosts", s.authed(s.listHosts)).Methods("GET")
	api.HandleFunc("/hosts/{id}", s.authed(s.getHost)).Methods("GET")
	api.HandleFunc("/hosts/{id}", s.authed(s.mutating(s.deleteHost))).Methods("DELETE")

	api.HandleFunc("/users", s.authed(s.listUsers)).Methods("GET")
	api.HandleFunc("/users", s.authed(s.mutating(s.createUser))).Methods("POST")
	api.HandleFunc("/users/{id}/role", s.authed(s.mutating(s.updateRole))).Methods("PUT")
	api.HandleFunc("/users/{id}", s.authed(s.mutating(s.deleteUser))).Methods("DELETE")

	api.HandleFunc("/api-keys", s.authed(s.listKeys)).Methods("GET")
	api.HandleFunc("/api-keys", s.authed(s.mutating(s.createKey))).Methods("POST")
	api.HandleFunc("/api-keys/{id}", s.authed(s.mutating(s.deleteKey))).Methods("DELETE")

	return router
}

// SetNow overrides the clock
func (s *Server) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddUser creates an account
func (s *Server) AddUser(username, password string, role entities.Role) entities.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, password, role)
}

func (s *Server) addUserLocked(username, password string, role entities.Role) entities.User {
	u := entities.User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     username + "@example.com",
		Role:      role,
		IsActive:  true,
		CreatedAt: s.now(),
	}
	s.accounts[username] = &account{user: u, password: password}
	return u
}

// AddHost stores a host and its latest report
func (s *Server) AddHost(h entities.Host, r entities.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Meta.HostID == "" {
		r.Meta.HostID = h.HostID
		r.Meta.Hostname = h.Hostname
	}
	s.hosts[h.HostID] = h
	s.reports[h.HostID] = r
}

// IssueToken logs username in out of band and returns its access token
func (s *Server) IssueToken(username string) entities.TokenInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(username)
}

// RevokeTokens invalidates every access token, forcing 401s
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]string)
}

// CSRF returns the token issued by GET /auth/csrf-token
func (s *Server) CSRF() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csrf
}

// Fail makes the next times requests for method and path (relative to
// BasePath) return status with an error body
func (s *Server) Fail(method, path string, status, times int) {
	s.FailWith(method, path, status, times, entities.ErrorBody{Error: http.StatusText(status)})
}

// FailWith is Fail with a custom JSON body
func (s *Server) FailWith(method, path string, status, times int, body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = &failure{status: status, body: body, left: times}
}

// Calls returns how many requests reached method and path
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

func routeKey(r *http.Request) string {
	return r.Method + " " + strings.TrimPrefix(r.URL.Path, BasePath)
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[routeKey(r)]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		f, ok := s.failures[routeKey(r)]
		if ok && f.left > 0 {
			f.left--
			status, body := f.status, f.body
			s.mu.Unlock()
			writeJSON(w, status, body)
			return
		}
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

type userHandler func(w http.ResponseWriter, r *http.Request, caller *account)

func (s *Server) authed(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-API-Key")
		s.mu.Lock()
		username, ok := s.tokens[token]
		acct := s.accounts[username]
		s.mu.Unlock()
		if token == "" || !ok || acct == nil {
			writeError(w, http.StatusUnauthorized, "Authentication required", nil)
			return
		}
		next(w, r, acct)
	}
}

func (s *Server) mutating(next userHandler) userHandler {
	return func(w http.ResponseWriter, r *http.Request, caller *account) {
		if s.RequireCSRF && r.Header.Get("X-CSRF-Token") != s.CSRF() {
			writeError(w, http.StatusForbidden, "Invalid CSRF token", nil)
			return
		}
		next(w, r, caller)
	}
}

func requireAdmin(w http.ResponseWriter, caller *account) bool {
	if caller.user.Role != entities.RoleAdmin {
		writeError(w, http.StatusForbidden, "Admin access required", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, details map[string]any) {
	writeJSON(w, status, entities.ErrorBody{Error: msg, Details: details})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return false
	}
	return true
}

func (s *Server) issueLocked(username string) entities.TokenInfo {
	now := s.now()
	info := entities.TokenInfo{
		Token:        s.NewToken(),
		RefreshToken: s.NewToken(),
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.TokenTTL),
	}
	if s.Signer != nil {
		if acct, ok := s.accounts[username]; ok {
			if signed, _, err := s.Signer.GenerateToken(acct.user, now); err == nil {
				info.Token = signed
				info.ExpiresAt = time.Time{}
			}
		}
	}
	s.tokens[info.Token] = username
	s.refresh[info.RefreshToken] = username
	return info
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, entities.Health{Status: "ok", Version: s.Version, Timestamp: s.now()})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req entities.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[req.Username]
	if !ok || acct.password != req.Password {
		writeError(w, http.StatusUnauthorized, "Invalid username or password", nil)
		return
	}
	now := s.now()
	acct.user.LastLogin = &now
	user := acct.user
	writeJSON(w, http.StatusOK, entities.AuthResponse{User: &user, TokenInfo: s.issueLocked(req.Username)})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req entities.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	fields := map[string]any{}
	if len(req.Username) < 3 {
		fields["username"] = "must be at least 3 characters"
	}
	if len(req.Password) < 8 {
		fields["password"] = "must be at least 8 characters"
	}
	if !strings.Contains(req.Email, "@") {
		fields["email"] = "must be a valid email address"
	}
	if len(fields) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "Validation failed", fields)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[req.Username]; exists {
		writeError(w, http.StatusConflict, "Username already taken", nil)
		return
	}
	role := entities.RoleViewer
	if len(s.accounts) == 0 {
		role = entities.RoleAdmin
	}
	u := s.addUserLocked(req.Username, req.Password, role)
	u.Email = req.Email
	s.accounts[req.Username].user.Email = req.Email
	writeJSON(w, http.StatusCreated, entities.AuthResponse{User: &u, TokenInfo: s.issueLocked(req.Username)})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	var req entities.RefreshRequest
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.refresh[req.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token", nil)
		return
	}
	delete(s.refresh, req.RefreshToken)
	writeJSON(w, http.StatusOK, entities.AuthResponse{TokenInfo: s.issueLocked(username)})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request, caller *account) {
	s.mu.Lock()
	u := caller.user
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) csrfToken(w http.ResponseWriter, r *http.Request, caller *account) {
	writeJSON(w, http.StatusOK, entities.CSRFResponse{CSRFToken: s.CSRF()})
}

func (s *Server) listHosts(w http.ResponseWriter, r *http.Request, caller *account) {
	s.mu.Lock()
	list := entities.HostList{Hosts: make([]entities.Host, 0, len(s.hosts))}
	for _, h := range s.hosts {
		list.Hosts = append(list.Hosts, h)
	}
	s.mu.Unlock()
	sort.Slice(list.Hosts, func(i, j int) bool {
		return list.Hosts[i].LastSeen.After(list.Hosts[j].LastSeen)
	})
	list.Total = len(list.Hosts)
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getHost(w http.ResponseWriter, r *http.Request, caller *account) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	report, ok := s.reports[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Host not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) deleteHost(w http.ResponseWriter, r *http.Request, caller *account) {
	if !caller.user.CanEdit() {
		writeError(w, http.StatusForbidden, "Editor access required", nil)
		return
	}
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	_, ok := s.hosts[id]
	delete(s.hosts, id)
	delete(s.reports, id)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Host not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request, caller *account) {
	if !requireAdmin(w, caller) {
		return
	}
	s.mu.Lock()
	list := entities.UserList{Users: make([]entities.User, 0, len(s.accounts))}
	for _, a := range s.accounts {
		list.Users = append(list.Users, a.user)
	}
	s.mu.Unlock()
	sort.Slice(list.Users, func(i, j int) bool { return list.Users[i].Username < list.Users[j].Username })
	list.Total = len(list.Users)
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) findUserLocked(id string) *account {
	for _, a := range s.accounts {
		if a.user.ID == id {
			return a
		}
	}
	return nil
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request, caller *account) {
	if !requireAdmin(w, caller) {
		return
	}
	var req entities.CreateUserRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Role.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "Validation failed", map[string]any{"role": "must be admin, editor or viewer"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[req.Username]; exists {
		writeError(w, http.StatusConflict, "Username already taken", nil)
		return
	}
	u := s.addUserLocked(req.Username, req.Password, req.Role)
	s.accounts[req.Username].user.Email = req.Email
	u.Email = req.Email
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) updateRole(w http.ResponseWriter, r *http.Request, caller *account) {
	if !requireAdmin(w, caller) {
		return
	}
	var req entities.UpdateRoleRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Role.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "Validation failed", map[string]any{"role": "must be admin, editor or viewer"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.findUserLocked(mux.Vars(r)["id"])
	if a == nil {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}
	a.user.Role = req.Role
	writeJSON(w, http.StatusOK, a.user)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request, caller *account) {
	if !requireAdmin(w, caller) {
		return
	}
	id := mux.Vars(r)["id"]
	if id == caller.user.ID {
		writeError(w, http.StatusBadRequest, "You cannot delete your own account", nil)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.findUserLocked(id)
	if a == nil {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}
	delete(s.accounts, a.user.Username)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request, caller *account) {
	s.mu.Lock()
	list := entities.APIKeyList{APIKeys: []entities.APIKey{}}
	for _, k := range s.keys[caller.user.Username] {
		list.APIKeys = append(list.APIKeys, k)
	}
	s.mu.Unlock()
	sort.Slice(list.APIKeys, func(i, j int) bool { return list.APIKeys[i].CreatedAt.Before(list.APIKeys[j].CreatedAt) })
	list.Total = len(list.APIKeys)
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createKey(w http.ResponseWriter, r *http.Request, caller *account) {
	var req entities.CreateAPIKeyRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusUnprocessableEntity, "Validation failed", map[string]any{"name": "is required"})
		return
	}
	secret := "sk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entities.APIKey{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Prefix:    secret[:11],
		CreatedAt: s.now(),
	}
	if req.ExpiresInDays > 0 {
		exp := key.CreatedAt.AddDate(0, 0, req.ExpiresInDays)
		key.ExpiresAt = &exp
	}
	if s.keys[caller.user.Username] == nil {
		s.keys[caller.user.Username] = make(map[string]entities.APIKey)
	}
	s.keys[caller.user.Username][key.ID] = key
	writeJSON(w, http.StatusCreated, entities.CreateAPIKeyResponse{APIKey: key, Key: secret})
}

func (s *Server) deleteKey(w http.ResponseWriter, r *http.Request, caller *account) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.keys[caller.user.Username]
	if _, ok := keys[id]; !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("API key %s not found", id), nil)
		return
	}
	delete(keys, id)
	w.WriteHeader(http.StatusNoContent)
}
