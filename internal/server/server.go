// Package server exposes the agentdeck HTTP surface: the per-session
// terminal WebSocket, the file-tail SSE channel, and the collaborator REST
// endpoints backed by the session store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/agentdeck/agentdeck/internal/bus"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/files"
	"github.com/agentdeck/agentdeck/internal/otel"
	"github.com/agentdeck/agentdeck/internal/pty"
	"github.com/agentdeck/agentdeck/internal/store"
)

type Config struct {
	Store *store.Store
	PTYs  *pty.Manager
	Files *files.Service
	Bus   *bus.Bus

	// Metrics may be nil; instrumentation is then skipped.
	Metrics *otel.Metrics

	Tail config.TailConfig

	// ConfigFingerprint is the hash of active config exposed on /healthz.
	ConfigFingerprint string
}

type Server struct {
	cfg Config

	clientsMu sync.RWMutex
	clients   map[*termClient]struct{}
}

func New(cfg Config) *Server {
	return &Server{
		cfg:     cfg,
		clients: map[*termClient]struct{}{},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/terminal", s.handleTerminalWS)
	mux.HandleFunc("/events/tail", s.handleTailSSE)
	mux.HandleFunc("/healthz", s.handleHealthz)
	// REST API endpoints.
	mux.HandleFunc("/api/sessions", s.handleAPISessions)
	mux.HandleFunc("/api/sessions/", s.handleAPISessionByID)
	mux.HandleFunc("/api/tree", s.handleAPITree)
	mux.HandleFunc("/api/file", s.handleAPIFile)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dbOK := true
	sessionCount, err := s.cfg.Store.Count(ctx)
	if err != nil {
		dbOK = false
	}

	s.clientsMu.RLock()
	terminalCount := len(s.clients)
	s.clientsMu.RUnlock()

	payload := map[string]any{
		"healthy":        dbOK,
		"db_ok":          dbOK,
		"session_count":  sessionCount,
		"pty_count":      s.cfg.PTYs.Count(),
		"terminal_count": terminalCount,
		"config_hash":    s.cfg.ConfigFingerprint,
	}
	w.Header().Set("Content-Type", "application/json")
	if !dbOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleAPISessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		sessions, err := s.cfg.Store.List(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"sessions": sessions})
	case http.MethodPost:
		var p struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			Workdir string `json:"workdir"`
		}
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		sess, err := s.cfg.Store.Register(r.Context(), p.ID, p.Title, p.Workdir)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Info("api: session registered", "session_id", sess.ID, "workdir", sess.Workdir)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(sess)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAPISessionByID(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		sess, err := s.cfg.Store.Get(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sess)
	case http.MethodDelete:
		// Destroy the PTY first so a racing attach cannot revive the session.
		s.cfg.PTYs.Destroy(sessionID)
		if err := s.cfg.Store.Remove(r.Context(), sessionID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		slog.Info("api: session removed", "session_id", sessionID)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"removed": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAPITree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	root := r.URL.Query().Get("root")
	if root == "" {
		http.Error(w, "root required", http.StatusBadRequest)
		return
	}
	tree, err := s.cfg.Files.Tree(root)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tree)
}

func (s *Server) handleAPIFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path required", http.StatusBadRequest)
		return
	}
	content, err := s.cfg.Files.Fetch(path)
	if err != nil {
		if errors.Is(err, files.ErrBinary) {
			http.Error(w, "binary file", http.StatusUnsupportedMediaType)
			return
		}
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(content)
}

func (s *Server) addClient(c *termClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *termClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}

func (s *Server) publish(topic string, payload any) {
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(topic, payload)
	}
}

func (s *Server) touch(ctx context.Context, sessionID string) {
	if err := s.cfg.Store.Touch(ctx, sessionID); err != nil {
		slog.Warn("api: touch failed", "session_id", sessionID, "error", err)
	}
}
