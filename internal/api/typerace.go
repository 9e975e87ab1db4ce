package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-typerace/internal/anticheat"
	"github.com/npezzotti/go-typerace/internal/config"
	"github.com/npezzotti/go-typerace/internal/database"
	"github.com/npezzotti/go-typerace/internal/server"
	"github.com/npezzotti/go-typerace/internal/statscache"
	"github.com/npezzotti/go-typerace/internal/submission"
)

type TypeRaceApp struct {
	log            *log.Logger
	db             database.TypeRaceRepository
	mux            *http.Server
	rooms          *server.RoomRegistry
	pipeline       *submission.Pipeline
	cache          *statscache.Cache
	sessions       *anticheat.SessionStore
	signingKey     []byte
	allowedOrigins []string
}

func NewTypeRaceApp(mux *http.ServeMux, logger *log.Logger, rooms *server.RoomRegistry, db database.TypeRaceRepository,
	pipeline *submission.Pipeline, cache *statscache.Cache, sessions *anticheat.SessionStore, cfg *config.Config) *TypeRaceApp {
	s := &TypeRaceApp{
		log:            logger,
		db:             db,
		rooms:          rooms,
		pipeline:       pipeline,
		cache:          cache,
		sessions:       sessions,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("/api/account", s.authMiddleware(s.account))
	mux.HandleFunc("POST /api/sessions", s.authMiddleware(s.startSession))
	mux.HandleFunc("POST /api/sessions/resume", s.authMiddleware(s.resumeSession))
	mux.HandleFunc("POST /api/sessions/progress", s.authMiddleware(s.recordProgress))
	mux.HandleFunc("POST /api/results", s.authMiddleware(s.submitResult))
	mux.HandleFunc("DELETE /api/results", s.authMiddleware(s.deleteResult))
	mux.HandleFunc("GET /api/results", s.authMiddleware(s.listResults))
	mux.HandleFunc("GET /api/stats", s.authMiddleware(s.userStats))
	mux.HandleFunc("GET /api/leaderboard", s.leaderboard)
	mux.HandleFunc("GET /ws", s.optionalAuth(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(s.requestLogger(h))

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *TypeRaceApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *TypeRaceApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
