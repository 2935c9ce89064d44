package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cartshare/internal/app"
	"cartshare/internal/hub"
	"cartshare/internal/ratelimit"
	"cartshare/internal/token"
	"cartshare/internal/util"
	"cartshare/pkg/domain"
)

const rateWindow = time.Minute

// Config wires required dependencies for the HTTP server.
type Config struct {
	App    *app.App
	Hub    *hub.Hub
	Tokens *token.Manager

	RedisAddr     string
	RedisPassword string
	RegisterLimit int
	LoginLimit    int
	JoinLimit     int
}

// Server exposes the HTTP and WebSocket endpoints.
type Server struct {
	app    *app.App
	hub    *hub.Hub
	tokens *token.Manager
	mux    *http.ServeMux

	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	joinLimiter     *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: App is required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("server: Hub is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("server: Tokens is required")
	}
	newLimiter := func(name string, limit int, fallback int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			limit = fallback
		}
		prefix := "cartshare:ratelimit:" + name
		return ratelimit.NewFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
	}
	registerLimiter, err := newLimiter("register", cfg.RegisterLimit, 10)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", cfg.LoginLimit, 20)
	if err != nil {
		return nil, err
	}
	joinLimiter, err := newLimiter("join", cfg.JoinLimit, 30)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:             cfg.App,
		hub:             cfg.Hub,
		tokens:          cfg.Tokens,
		mux:             http.NewServeMux(),
		registerLimiter: registerLimiter,
		loginLimiter:    loginLimiter,
		joinLimiter:     joinLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler wrapped with the shared middleware.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithSecurityHeaders(util.WithCORS(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.Handle("/api/auth/me", s.authenticated(s.handleMe))

	// lists & items
	s.mux.Handle("/api/lists", s.authenticated(s.handleLists))
	s.mux.Handle("/api/lists/", s.authenticated(s.handleListSubtree))

	// realtime
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "api.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	tok, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	claims, err := s.tokens.Verify(tok)
	if err != nil {
		s.audit(r, "api.token.verify", "fail", "reason", "invalid_signature_or_claims")
		return domain.User{}, false
	}
	user, err := s.app.UserByID(r.Context(), claims.UserID)
	if err != nil {
		s.audit(r, "api.token.verify", "fail", "reason", "unknown_user")
		return domain.User{}, false
	}
	return user, true
}

// auth handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many signup attempts") {
		s.audit(r, "api.register", "rate_limited")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tok, err := s.app.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.register", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: tok, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "api.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tok, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.login", "fail")
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: tok, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// list handlers
func (s *Server) handleLists(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		var req createListRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		detail, err := s.app.CreateList(r.Context(), user.ID, req.Name)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, detail)
	case http.MethodGet:
		lists, err := s.app.MyLists(r.Context(), user.ID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": lists,
			"count": len(lists),
		})
	default:
		methodNotAllowed(w)
	}
}

// handleListSubtree dispatches everything under /api/lists/: the join
// endpoint, a single list, and its items.
func (s *Server) handleListSubtree(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/lists/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "join":
		s.handleJoin(w, r, user)
	case len(parts) == 1 && parts[0] != "":
		s.handleListByID(w, r, user, parts[0])
	case len(parts) == 2 && parts[1] == "items":
		s.handleItems(w, r, user, parts[0])
	case len(parts) == 3 && parts[1] == "items":
		s.handleItemByID(w, r, user, parts[0], parts[2])
	case len(parts) == 4 && parts[1] == "items" && parts[3] == "toggle":
		s.handleToggle(w, r, user, parts[0], parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.joinLimiter, "too many join attempts") {
		s.audit(r, "api.lists.join", "rate_limited", "user_id", user.ID)
		return
	}
	var req joinRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	summary, err := s.app.JoinList(r.Context(), user.ID, req.InviteCode)
	if err != nil {
		s.audit(r, "api.lists.join", "fail", "user_id", user.ID)
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "api.lists.join", "success", "user_id", user.ID, "list_id", summary.ID)
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListByID(w http.ResponseWriter, r *http.Request, user domain.User, listID string) {
	switch r.Method {
	case http.MethodGet:
		detail, err := s.app.GetList(r.Context(), user.ID, listID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case http.MethodDelete:
		if err := s.app.DeleteList(r.Context(), user.ID, listID); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// item handlers
func (s *Server) handleItems(w http.ResponseWriter, r *http.Request, user domain.User, listID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req addItemRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	item, err := s.app.AddItem(r.Context(), user.ID, listID, req.Name, req.Quantity, req.Unit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleItemByID(w http.ResponseWriter, r *http.Request, user domain.User, listID, itemID string) {
	switch r.Method {
	case http.MethodPut:
		var req updateItemRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		item, err := s.app.UpdateItem(r.Context(), user.ID, listID, itemID, app.ItemUpdate{
			Name:     req.Name,
			Quantity: req.Quantity,
			Unit:     req.Unit,
			Checked:  req.Checked,
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodDelete:
		if err := s.app.DeleteItem(r.Context(), user.ID, listID, itemID); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, user domain.User, listID, itemID string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	item, err := s.app.ToggleItem(r.Context(), user.ID, listID, itemID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// writeAppError maps application errors to HTTP responses. Access
// denials share the not-found response so list ids stay unguessable.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound), errors.Is(err, app.ErrAccessDenied):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrAlreadyMember):
		writeError(w, http.StatusConflict, "already a member of this list")
	case errors.Is(err, app.ErrEmailExists):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, app.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed",
			"path", r.URL.Path, "method", r.Method, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type createListRequest struct {
	Name string `json:"name"`
}

type joinRequest struct {
	InviteCode string `json:"inviteCode"`
}

type addItemRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit"`
}

type updateItemRequest struct {
	Name     *string `json:"name"`
	Quantity *int    `json:"quantity"`
	Unit     *string `json:"unit"`
	Checked  *bool   `json:"checked"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if tok == "" {
		return "", false
	}
	return tok, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
