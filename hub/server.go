package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Status is the snapshot served on /api/run.
type Status struct {
	RunID      string            `json:"runId"`
	App        string            `json:"app"`
	Stage      string            `json:"stage"`
	Status     string            `json:"status"`
	Stages     map[string]string `json:"stages"`
	Events     int               `json:"events"`
	InstanceID string            `json:"instanceId,omitempty"`
	ImageID    string            `json:"imageId,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Tracker keeps the latest run status for the HTTP API.
type Tracker struct {
	mu sync.RWMutex
	st Status
}

func NewTracker(runID, app string) *Tracker {
	return &Tracker{st: Status{RunID: runID, App: app, Status: "running", Stages: map[string]string{}}}
}

func (t *Tracker) Update(fn func(*Status)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.st)
}

func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := t.st
	st.Stages = make(map[string]string, len(t.st.Stages))
	for k, v := range t.st.Stages {
		st.Stages[k] = v
	}
	return st
}

// Router serves the websocket feed and the status API. A nil auth leaves
// both open.
func Router(h *Hub, tr *Tracker, allowedOrigins []string, auth *TokenAuth) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: append([]string{"http://localhost:5173", "http://localhost:3000"}, allowedOrigins...),
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))
	if auth != nil {
		r.Use(auth.Middleware)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"status": "ok", "clients": h.Clients()})
		})
		r.Get("/run", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tr.Snapshot())
		})
	})
	r.Get("/ws", h.HandleConnect)
	return r
}

// Server runs the hub and its HTTP listener for the duration of a bake.
type Server struct {
	Hub     *Hub
	Tracker *Tracker
	srv     *http.Server
	ln      net.Listener
}

// Listen binds addr and starts serving in the background.
func Listen(addr string, h *Hub, tr *Tracker, allowedOrigins []string, auth *TokenAuth) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Hub:     h,
		Tracker: tr,
		ln:      ln,
		srv:     &http.Server{Handler: Router(h, tr, allowedOrigins, auth), ReadHeaderTimeout: 10 * time.Second},
	}
	go h.Run()
	go func() {
		log.Printf("hub: listening on %s", ln.Addr())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("hub: server: %v", err)
		}
	}()
	return s, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	s.Hub.Stop()
	if werr := s.Hub.Wait(ctx); werr != nil {
		log.Printf("hub: %v", werr)
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
