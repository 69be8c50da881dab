// Package webserver exposes the task API over HTTP: REST endpoints for
// users and tasks, a websocket change feed, and a health summary at the
// root. Handlers stay thin; mutations go through the coordinator and
// reads go straight to the store.
package webserver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ShehabShan/TaskGuru-server/internal/coordinator"
	"github.com/ShehabShan/TaskGuru-server/internal/registry"
	"github.com/ShehabShan/TaskGuru-server/internal/store"
)

type TLSConfig struct {
	Mode     string // "self-signed", "manual", or "" (disabled)
	CertFile string
	KeyFile  string
	CacheDir string
}

type AuthConfig struct {
	JWTSecret    string
	TokenTTL     string
	RequireToken bool
}

type Config struct {
	Host string
	Port int
	TLS  TLSConfig
	Auth AuthConfig
}

type Server struct {
	store  *store.Store
	coord  *coordinator.Coordinator
	reg    *registry.Registry
	cfg    Config
	logger *slog.Logger
	http   *http.Server
}

func New(st *store.Store, coord *coordinator.Coordinator, reg *registry.Registry, cfg Config, logger *slog.Logger) *Server {
	return &Server{
		store:  st,
		coord:  coord,
		reg:    reg,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users", s.handleCreateUser)
	mux.HandleFunc("POST /auth/token", s.handleIssueToken)
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("POST /tasks", s.handleCreateTask)
	mux.HandleFunc("PUT /tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("DELETE /tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("GET /ws", s.handleRealtime)
	mux.HandleFunc("GET /{$}", s.handleHealth)
	return mux
}

// Start binds the listener and serves in the background. Bind and TLS
// setup failures are reported synchronously; use Shutdown to stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	tlsCfg, err := s.tlsConfig()
	if err != nil {
		return err
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		var serveErr error
		if tlsCfg != nil {
			serveErr = s.http.ServeTLS(ln, "", "")
		} else {
			serveErr = s.http.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("webserver: serve failed", "err", serveErr)
		}
	}()
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	switch s.cfg.TLS.Mode {
	case "":
		return nil, nil
	case "self-signed":
		return selfSignedTLS(s.cfg.TLS.CacheDir)
	case "manual":
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
	default:
		return nil, fmt.Errorf("unknown tls mode %q", s.cfg.TLS.Mode)
	}
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	u := &store.User{Email: body.Email, Name: body.Name}
	if body.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		u.PasswordHash = string(hash)
	}
	created, err := s.store.CreateUser(r.Context(), u)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasksByOwner(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var t store.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	created, err := s.coord.SubmitCreate(r.Context(), &t)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch store.Task
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	updated, err := s.coord.SubmitUpdate(r.Context(), id, &patch)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.coord.SubmitDelete(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

type healthResponse struct {
	StoreReachable     bool `json:"storeReachable"`
	ActiveSessionCount int  `json:"activeSessionCount"`
}

// handleHealth reports the last observed store state and the live session
// count. It reads cached state only; a health check never issues a probe
// of its own.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		StoreReachable:     s.store.Reachable(),
		ActiveSessionCount: s.reg.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps the store's error taxonomy onto HTTP statuses.
// Unavailable and unclassified errors hide their detail behind a generic
// message; the detail goes to the log instead.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, registry.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	default:
		s.logger.Error("webserver: request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "store unavailable")
	}
}
