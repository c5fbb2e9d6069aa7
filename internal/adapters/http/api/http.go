// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	app "github.com/okian/kicker/internal/app"
	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/rating"
	"github.com/okian/kicker/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Register(ctx context.Context, name string) (model.Player, error)
	Player(ctx context.Context, ref app.PlayerRef) (model.Player, error)
	Players(ctx context.Context) ([]model.Player, error)

	Match(ctx context.Context, id int64) (model.Match, error)
	Matches(ctx context.Context, f model.MatchFilter) ([]model.Match, int64, error)
	Preview(ctx context.Context, a, b [rating.TeamSize]app.PlayerRef) (app.Preview, error)
	Submit(ctx context.Context, sub app.Submission) (app.Result, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	pingHandler    *PingHandler
	playersHandler *PlayersHandler
	matchesHandler *MatchesHandler

	token  string
	logger logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	cfg := serverConfig{version: "dev", logger: logger.Named("api")}
	for _, opt := range opts {
		opt(&cfg)
	}
	e := errorWriter{logger: cfg.logger}
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		pingHandler:    NewPingHandler(cfg.version),
		playersHandler: NewPlayersHandler(deps, e),
		matchesHandler: NewMatchesHandler(deps, e),
		token:          cfg.token,
		logger:         cfg.logger,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	s.handle(mux, "GET /ping", "ping", s.pingHandler.HandlePing)
	s.handle(mux, "GET /healthz", "healthz", s.healthHandler.HandleHealth)
	s.handle(mux, "GET /stats", "stats", s.statsHandler.HandleStats)

	s.handle(mux, "POST /players", "players", s.guard(s.playersHandler.HandleCreate))
	s.handle(mux, "GET /players", "players", s.playersHandler.HandleList)
	s.handle(mux, "GET /players/{id}", "player", s.playersHandler.HandleGet)
	s.handle(mux, "GET /players/{id}/matches", "player_matches", s.playersHandler.HandleMatches)

	s.handle(mux, "POST /matches", "matches", s.guard(s.matchesHandler.HandleSubmit))
	s.handle(mux, "GET /matches", "matches", s.matchesHandler.HandleList)
	s.handle(mux, "GET /matches/preview", "preview", s.matchesHandler.HandlePreview)
	s.handle(mux, "GET /matches/{id}", "match", s.matchesHandler.HandleGet)

	s.logger.Debug(ctx, "api routes registered", logger.Bool("auth", s.token != ""))
}

func (s *Server) handle(mux *http.ServeMux, pattern, endpoint string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, RequestIDMiddleware(MetricsMiddleware(h, endpoint)))
}

func (s *Server) guard(h http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return h
	}
	return AuthMiddleware(h, s.token)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// errorWriter renders domain errors and logs the ones that point at a
// server-side defect.
type errorWriter struct {
	logger logger.Logger
}

func (e errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		e.logger.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.String("code", code),
			logger.Error(err),
		)
	}
	writeError(w, status, code, err)
}

// decodeJSON reads a single JSON document from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request, op string) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, WrapKind(op, ErrBadRequest, errInvalidID(raw))
	}
	return id, nil
}

func queryInt64(r *http.Request, op, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, WrapKind(op, ErrBadRequest, errInvalidQuery(key, raw))
	}
	return v, nil
}
