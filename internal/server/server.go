// Package server exposes the memory store over HTTP: a JSON API for store,
// recall, deletion, reset scheduling, and profiles, plus a websocket feed of
// mutation events.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/echoatlas/atlasmem/internal/config"
	"github.com/echoatlas/atlasmem/internal/engine"
)

// Server wires the engine and reset manager into an HTTP handler.
type Server struct {
	cfg    config.ServerConfig
	engine *engine.Engine
	resets *engine.ResetManager
	wsHub  *WebSocketHub
}

// New creates a server. resets may be nil for backends without a reset
// marker (the reset endpoints then report not-configured).
func New(cfg config.ServerConfig, eng *engine.Engine, resets *engine.ResetManager) *Server {
	origins := []string{
		fmt.Sprintf("localhost:%d", cfg.Port),
		fmt.Sprintf("127.0.0.1:%d", cfg.Port),
	}

	s := &Server{
		cfg:    cfg,
		engine: eng,
		resets: resets,
		wsHub:  NewWebSocketHub(origins),
	}

	// Mutation events stream to websocket subscribers.
	eng.OnEvent(func(ev engine.Event) {
		s.wsHub.Broadcast(ev)
	})

	return s
}

// Handler builds the routing table with auth, rate limiting, and security
// headers applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/interactions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.handleStore(w, r)
		case http.MethodGet:
			s.handleRecall(w, r)
		case http.MethodDelete:
			s.handleDeleteScope(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/clear", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleClearAll(w, r)
	})
	apiMux.HandleFunc("/api/reset", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.handleScheduleReset(w, r)
		case http.MethodGet:
			s.handleResetStatus(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	apiMux.HandleFunc("/api/regions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleRegions(w, r)
	})
	apiMux.HandleFunc("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleProfile(w, r)
	})
	apiMux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleStats(w, r)
	})

	// Health endpoint stays outside auth for monitoring.
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleHealth(w, r)
	})

	mux.Handle("/api/", RequireAuth(apiMux, s.cfg.APIToken))
	mux.Handle("/ws", s.wsHub)

	rateLimit := s.cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 25
	}
	burst := s.cfg.RateBurst
	if burst <= 0 {
		burst = 50
	}

	handler := RateLimitMiddleware(mux, NewRateLimiter(rateLimit, burst))
	return securityHeadersMiddleware(handler)
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully. It returns the bound address, which differs from the
// configured one when port 0 is requested.
func (s *Server) Start(ctx context.Context) (string, error) {
	go s.wsHub.Run()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		grace := s.cfg.ShutdownGrace
		if grace == 0 {
			grace = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown error: %v", err)
		}
		s.wsHub.Stop()
	}()

	log.Printf("server: listening on %s", actualAddr)
	return actualAddr, nil
}
