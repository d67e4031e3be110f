package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"aridialer/internal/dialer"
	"aridialer/internal/logging"
	"aridialer/internal/metrics"
)

// SessionSource provides the read-only list of active calls
type SessionSource interface {
	Snapshot() []dialer.SessionInfo
}

// Server exposes health, metrics, live events and the active call list
type Server struct {
	addr     string
	hub      *Hub
	sessions SessionSource
	http     *http.Server
	log      *logrus.Entry
}

func NewServer(addr string, hub *Hub, sessions SessionSource) *Server {
	s := &Server{
		addr:     addr,
		hub:      hub,
		sessions: sessions,
		log:      logging.Component("monitor"),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/sessions", s.handleSessions)
	mux.Handle("/ws", s.hub)
	metrics.RegisterHandler(mux)
	return s.recoverMiddleware(mux)
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.log.Infof("Monitor listening on %s", s.addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Errorf("PANIC RECOVERED on %s: %v", r.URL.Path, rec)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": len(s.sessions.Snapshot()),
		"watchers": s.hub.ClientCount(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	list := s.sessions.Snapshot()
	if list == nil {
		list = []dialer.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
