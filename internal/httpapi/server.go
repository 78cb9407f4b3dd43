// Package httpapi exposes a duel authority as named-parameter RPC plus a
// websocket feed per match.
package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/park285/mathlab-pvp/internal/domain"
	"github.com/park285/mathlab-pvp/internal/match"
	"github.com/park285/mathlab-pvp/internal/tournament"
	"github.com/park285/mathlab-pvp/pkg/dueldto"
)

// Backend is the authority served over HTTP.
type Backend interface {
	match.Authority
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
	Profile(ctx context.Context, playerID string) (*domain.Profile, error)
	MatchesByPlayer(ctx context.Context, playerID string) ([]*domain.Match, error)
}

type Tournaments interface {
	Create(ctx context.Context, name string, participants []string) (*tournament.Bracket, error)
	Get(ctx context.Context, id string) (*tournament.Bracket, error)
}

type Config struct {
	// APIKey, when set, is required as the apikey header, a bearer token or,
	// for browser websockets, the apikey query parameter.
	APIKey         string
	AllowedOrigins []string
	RequestTimeout time.Duration
	// MatchSize is used by create_match when neither size nor ids are given.
	MatchSize int
}

type Server struct {
	cfg         Config
	backend     Backend
	tournaments Tournaments
	logger      *zap.Logger
	router      *chi.Mux
}

// NewServer builds the router. tournaments may be nil, in which case the
// tournament procedures report unknown_procedure.
func NewServer(cfg Config, backend Backend, tournaments Tournaments, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MatchSize <= 0 {
		cfg.MatchSize = 10
	}
	s := &Server{cfg: cfg, backend: backend, tournaments: tournaments, logger: logger}
	s.setupRouter()
	return s
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "apikey", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.With(middleware.Timeout(s.cfg.RequestTimeout)).Post("/rpc/{procedure}", s.handleRPC)
		// feeds are long lived and stay outside the request timeout
		r.Get("/realtime/matches/{id}", s.handleRealtime)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" || s.keyMatches(r) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, dueldto.Error{Code: dueldto.CodeUnauthorized, Message: "missing or invalid api key"})
	})
}

func (s *Server) keyMatches(r *http.Request) bool {
	candidates := []string{
		r.Header.Get("apikey"),
		strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		r.URL.Query().Get("apikey"),
	}
	for _, c := range candidates {
		if c != "" && subtle.ConstantTimeCompare([]byte(strings.TrimSpace(c)), []byte(s.cfg.APIKey)) == 1 {
			return true
		}
	}
	return false
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
