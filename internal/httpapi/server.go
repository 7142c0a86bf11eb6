// Package httpapi wires the HTTP and WebSocket surface together:
// exchange/venue metadata, login/registration, TWAP order placement
// and the /ws subscription endpoint (spec §6). Routing follows the
// teacher repository's api/server.go in spirit — small handlers
// grouped by concern — but uses gorilla/mux for path variables instead
// of hand-rolled prefix matching.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/quantrail/twapbook/internal/auth"
	"github.com/quantrail/twapbook/internal/cache"
	"github.com/quantrail/twapbook/internal/hub"
	"github.com/quantrail/twapbook/internal/repository"
	"github.com/quantrail/twapbook/internal/twap"
	"github.com/quantrail/twapbook/internal/venue"
)

// Server holds every dependency the handlers need.
type Server struct {
	registry *venue.Registry
	auth     auth.Gate
	repo     repository.Repository
	hub      *hub.Hub
	book     twap.BookSource
	cache    *cache.Cache
	log      zerolog.Logger

	router *mux.Router
}

func NewServer(registry *venue.Registry, authGate auth.Gate, repo repository.Repository, h *hub.Hub, book twap.BookSource, c *cache.Cache, log zerolog.Logger) *Server {
	s := &Server{
		registry: registry,
		auth:     authGate,
		repo:     repo,
		hub:      h,
		book:     book,
		cache:    c,
		log:      log.With().Str("component", "httpapi").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	r.HandleFunc("/exchanges", s.handleExchanges).Methods(http.MethodGet)
	r.HandleFunc("/{venue}/symbols", s.handleSymbols).Methods(http.MethodGet)
	r.HandleFunc("/klines/{venue}/{symbol}", s.handleKlines).Methods(http.MethodGet)

	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)

	r.Handle("/unregister", s.requireAdmin(http.HandlerFunc(s.handleUnregister))).Methods(http.MethodPost)
	r.Handle("/users", s.requireAdmin(http.HandlerFunc(s.handleUsers))).Methods(http.MethodGet)
	r.Handle("/secure", s.requireAuth(http.HandlerFunc(s.handleSecure))).Methods(http.MethodGet)

	r.Handle("/orders/twap", s.requireAuth(http.HandlerFunc(s.handleCreateTWAP))).Methods(http.MethodPost)
	r.Handle("/orders", s.requireAuth(http.HandlerFunc(s.handleListOrders))).Methods(http.MethodGet)
	r.Handle("/orders/{order_id}", s.requireAuth(http.HandlerFunc(s.handleGetOrder))).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleWS)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("elapsed", time.Since(start)).Msg("request")
	})
}
