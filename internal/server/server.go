// Package server assembles the HTTP API and runs the listener.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/amiantos/ursceal/internal/chub"
	"github.com/amiantos/ursceal/internal/config"
	"github.com/amiantos/ursceal/internal/engine"
	httpapi "github.com/amiantos/ursceal/internal/http"
	"github.com/amiantos/ursceal/internal/store"
)

// Server owns the HTTP mux, the listener, and the request-level policy
// (CORS, rate limiting). Config values that matter per request are read
// under the lock so a config reload takes effect without a restart.
type Server struct {
	stores *store.Stores
	engine *engine.Engine

	mu  sync.RWMutex
	cfg *config.Config

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	httpServer *http.Server
	mux        *http.ServeMux
}

func New(cfg *config.Config, stores *store.Stores, eng *engine.Engine) *Server {
	return &Server{
		cfg:      cfg,
		stores:   stores,
		engine:   eng,
		limiters: make(map[string]*rate.Limiter),
	}
}

// ApplyConfig swaps in a freshly loaded config. Origins and rate limits
// apply immediately; listener address changes need a restart.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.limiterMu.Lock()
	s.limiters = make(map[string]*rate.Limiter)
	s.limiterMu.Unlock()

	slog.Info("server.config_reloaded", "rate_limit_rpm", cfg.Server.RateLimitRPM)
}

// BuildMux creates and caches the mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	httpapi.NewStoriesHandler(s.stores).RegisterRoutes(mux)
	httpapi.NewCharactersHandler(s.stores).RegisterRoutes(mux)
	httpapi.NewLorebooksHandler(s.stores).RegisterRoutes(mux)
	httpapi.NewPresetsHandler(s.stores).RegisterRoutes(mux)
	httpapi.NewSettingsHandler(s.stores).RegisterRoutes(mux)
	httpapi.NewChubHandler(s.stores, chub.NewImporter()).RegisterRoutes(mux)
	httpapi.NewGenerateHandler(s.engine).RegisterRoutes(mux)

	s.mux = mux
	return mux
}

// Handler returns the mux wrapped in the CORS and rate-limit middleware,
// exactly as Start serves it.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.rateLimitMiddleware(s.BuildMux()))
}

// Start listens until ctx is cancelled, then shuts down gracefully. SSE
// responses are long-lived, so the drain window is generous.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()

	s.mu.RLock()
	addr := s.cfg.ListenAddr()
	s.mu.RUnlock()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("server.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// originAllowed checks the Origin header against the configured whitelist.
// No configured origins means allow all (dev mode); an empty Origin header
// (CLI clients, curl) is always allowed.
func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	s.mu.RLock()
	allowed := s.cfg.Security.CORS.Origins
	s.mu.RUnlock()
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !s.originAllowed(origin) {
			slog.Warn("security.cors_rejected", "origin", origin)
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimited marks the endpoints that reach paid upstream APIs.
func rateLimited(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	p := r.URL.Path
	return p == "/api/generate" ||
		strings.HasSuffix(p, "/continue") ||
		strings.HasSuffix(p, "/continue-with-instruction") ||
		strings.HasSuffix(p, "/rewrite-third-person")
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rateLimited(r) {
			s.mu.RLock()
			rpm := s.cfg.Server.RateLimitRPM
			s.mu.RUnlock()
			if rpm > 0 && !s.limiterFor(clientKey(r), rpm).Allow() {
				slog.Warn("server.rate_limited", "client", clientKey(r), "path", r.URL.Path)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// limiterFor returns the per-client token bucket, creating it on first
// sight. Buckets allow a burst of 5 on top of the steady rate.
func (s *Server) limiterFor(key string, rpm int) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 5)
		s.limiters[key] = lim
	}
	return lim
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
