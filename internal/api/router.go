// Package api exposes the engine to admin/monitoring collaborators over
// HTTP. It is a thin layer: every operation maps onto one store, stats or
// sweeper call; the engine's own loops never go through it.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"storyd/internal/stats"
	"storyd/internal/store"
	"storyd/internal/sweep"
	logx "storyd/pkg/logx"
)

type Config struct {
	Addr        string
	Token       string
	CORSOrigins []string
}

const DefaultAddr = "127.0.0.1:8787"

type Server struct {
	cfg   Config
	st    *store.Store
	aggr  *stats.Aggregator
	sweep *sweep.Sweeper
	log   logx.Logger

	now func() time.Time
}

func NewServer(cfg Config, st *store.Store, aggr *stats.Aggregator, sw *sweep.Sweeper, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, st: st, aggr: aggr, sweep: sw, log: log, now: time.Now}
}

// SetNow overrides the server clock. Tests only.
func (s *Server) SetNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

func (s *Server) Addr() string { return s.cfg.Addr }

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireToken(s.cfg.Token))

		r.Post("/stories", s.createStory)
		r.Get("/stories", s.listStories)
		r.Get("/stories/{id}", s.getStory)
		r.Post("/stories/{id}/finalize", s.finalizeStory)
		r.Delete("/stories/{id}", s.cancelStory)
		r.Get("/stories/{id}/events", s.storyEvents)

		r.Get("/owners/{chatID}/stats", s.ownerStats)
		r.Get("/owners/{chatID}/stats/errors", s.ownerErrorTrend)

		r.Post("/admin/cleanup", s.runCleanup)
	})

	return r
}

// requireToken enforces a static bearer token when one is configured.
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") || strings.TrimPrefix(h, "Bearer ") != token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
