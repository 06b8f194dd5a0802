package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-flashroom/internal/auth"
	"github.com/npezzotti/go-flashroom/internal/config"
	"github.com/npezzotti/go-flashroom/internal/database"
	"github.com/npezzotti/go-flashroom/internal/server"
	"github.com/npezzotti/go-flashroom/internal/types"
	"github.com/sirupsen/logrus"
)

// Sessions issues and resolves login sessions.
type Sessions interface {
	auth.Resolver
	Issue(ctx context.Context, id auth.Identity) (string, error)
	Revoke(ctx context.Context, token string) error
	TTL() time.Duration
}

// Rooms is the room directory as seen by the HTTP handlers.
type Rooms interface {
	CreateRoom(ctx context.Context, name string, creatorId int) (types.Room, error)
	LookupRoom(ctx context.Context, code string) (types.Room, error)
	History(ctx context.Context, code string) ([]types.Message, error)
}

type FlashroomApp struct {
	log            *logrus.Logger
	db             database.Repository
	rooms          Rooms
	sessions       Sessions
	cs             *server.ChatServer
	srv            *http.Server
	accessLog      io.WriteCloser
	allowedOrigins []string
}

func NewFlashroomApp(mux *http.ServeMux, logger *logrus.Logger, cs *server.ChatServer, db database.Repository, rooms Rooms, sessions Sessions, cfg *config.Config) *FlashroomApp {
	s := &FlashroomApp{
		log:            logger,
		db:             db,
		rooms:          rooms,
		sessions:       sessions,
		cs:             cs,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("POST /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("GET /api/user", s.authMiddleware(s.currentUser))
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("GET /api/rooms/{code}", s.authMiddleware(s.getRoom))
	mux.Handle("GET /api/rooms/{code}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /ws", s.sessionGate(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	s.accessLog = logger.WriterLevel(logrus.InfoLevel)
	h = handlers.CombinedLoggingHandler(s.accessLog, h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *FlashroomApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *FlashroomApp) Start() error {
	s.log.WithField("addr", s.srv.Addr).Info("starting server")
	return s.srv.ListenAndServe()
}

func (s *FlashroomApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server...")
	defer s.accessLog.Close()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
