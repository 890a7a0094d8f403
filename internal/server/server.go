// Package server exposes the asset lifecycle service as a JSON HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"filippo.io/csrf"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	httpmiddleware "github.com/wolfeidau/qrtrack/internal/http"
	"github.com/wolfeidau/qrtrack/internal/identity"
	"github.com/wolfeidau/qrtrack/internal/lifecycle"
	"github.com/wolfeidau/qrtrack/internal/models"
)

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config controls the outer HTTP stack.
type Config struct {
	// CORSOrigins lists browser origins allowed to call the API. They are
	// also trusted by cross-origin protection.
	CORSOrigins []string

	// TrustProxy honours X-Forwarded-For and X-Real-IP.
	TrustProxy bool
}

// Server routes API requests to the lifecycle service.
type Server struct {
	svc    *lifecycle.Service
	health Pinger
	auth   identity.Authenticator
	cfg    Config
}

// NewServer creates a server. Every route except /health resolves its
// principal through auth.
func NewServer(svc *lifecycle.Service, health Pinger, auth identity.Authenticator, cfg Config) *Server {
	return &Server{svc: svc, health: health, auth: auth, cfg: cfg}
}

// Routes returns the bare API mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("POST /api/assets", s.authed(s.handleCreate))
	mux.Handle("POST /api/assets/bulk", s.authed(s.handleCreateBulk))
	mux.Handle("POST /api/assets/activate", s.authed(s.handleActivate))
	mux.Handle("POST /api/assets/complete", s.authed(s.handleComplete))

	mux.Handle("GET /api/assets", s.authed(s.handleListAll))
	mux.Handle("GET /api/assets/inactive", s.authed(s.handleListInactive))
	mux.Handle("GET /api/assets/mine", s.authed(s.handleListMine))
	mux.Handle("GET /api/assets/status/{status}", s.authed(s.handleListByStatus))
	mux.Handle("GET /api/assets/code/{code}", s.authed(s.handleGetByCode))
	mux.Handle("GET /api/assets/id/{id}", s.authed(s.handleDetails))
	mux.Handle("GET /api/assets/id/{id}/history", s.authed(s.handleHistory))

	return mux
}

// Handler returns the full stack: logging, client ip, panic recovery, CORS,
// cross-origin protection, compression and metrics around the routes.
func (s *Server) Handler(logger zerolog.Logger) http.Handler {
	protection := csrf.New()
	for _, origin := range s.cfg.CORSOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			logger.Warn().Err(err).Str("origin", origin).Msg("Ignoring invalid trusted origin")
		}
	}

	return httpmiddleware.Chain(s.Routes(),
		httpmiddleware.RequestLogger(logger),
		httpmiddleware.ClientIPMiddleware(s.cfg.TrustProxy),
		httpmiddleware.Recoverer(),
		withCORS(s.cfg.CORSOrigins),
		protection.Handler,
		compress,
		httpmiddleware.Metrics(routePattern),
	)
}

// withCORS allows the listed origins; with none, no CORS headers are sent.
func withCORS(allowedOrigins []string) httpmiddleware.Middleware {
	if len(allowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "If-None-Match"},
		ExposedHeaders: []string{"ETag"},
		MaxAge:         int((2 * time.Hour).Seconds()),
	})
	return middleware.Handler
}

func compress(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

// routePattern reads the pattern the mux matched; Metrics wraps the mux
// directly so the request it sees is the one the mux annotates.
func routePattern(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}

type authedHandler func(w http.ResponseWriter, r *http.Request, actor models.Principal)

// authed resolves the bearer token into a principal before calling h.
func (s *Server) authed(h authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := identity.BearerToken(r)
		if !ok {
			writeError(w, r, lifecycle.ReasonUnauthenticated, "authentication required")
			return
		}

		actor, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Rejected bearer token")
			writeError(w, r, lifecycle.ReasonUnauthenticated, "invalid credentials")
			return
		}

		zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("principal_id", actor.ID).Str("role", actor.Role.String())
		})

		h(w, r, actor)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.health.Ping(ctx); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Health check failed")
		writeJSON(w, r, http.StatusServiceUnavailable, Envelope{Message: "store unavailable", Reason: lifecycle.ReasonSystemFault})
		return
	}
	writeJSON(w, r, http.StatusOK, Envelope{Success: true, Message: "ok"})
}
