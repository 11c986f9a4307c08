// Package api exposes the HTTP surface: auth endpoints, the
// leaderboard, health and metrics, and the websocket game endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"aiventure/internal/auth"
	"aiventure/internal/config"
	"aiventure/internal/game"
	"aiventure/internal/metrics"
	"aiventure/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

type contextKey string

const userContextKey contextKey = "user"

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	auth     *auth.Service
	store    game.Store
	registry *game.Registry
	metrics  *metrics.Collector
	gatherer prometheus.Gatherer
	mux      *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, authSvc *auth.Service, store game.Store, registry *game.Registry, collector *metrics.Collector, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		auth:     authSvc,
		store:    store,
		registry: registry,
		metrics:  collector,
		gatherer: gatherer,
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))

	r.Route("/v1", func(r chi.Router) {
		// The websocket endpoint authenticates during its own
		// handshake and must not inherit the request timeout.
		r.Get("/game/ws", s.handleGameSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
			r.Get("/leaderboard", s.handleLeaderboard)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/auth/me", s.handleMe)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.ResolveIdentity(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (model.User, error) {
	user, ok := ctx.Value(userContextKey).(model.User)
	if !ok || user.ID == "" {
		return model.User{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := s.auth.Register(r.Context(), in.Email, in.Password)
	if errors.Is(err, auth.ErrEmailTaken) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, expires, err := s.auth.Login(r.Context(), in.Email, in.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"expires_at":   expires.UTC(),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	labs, err := s.store.TopLabsByValuation(r.Context(), game.LeaderboardLimit)
	if err != nil {
		s.log.Error("leaderboard query", "error", err)
		writeError(w, http.StatusInternalServerError, "leaderboard unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"labs": labs})
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
