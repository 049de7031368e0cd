package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/myzymo/realtime/internal/config"
	"github.com/myzymo/realtime/internal/server"
	"github.com/myzymo/realtime/internal/store"
)

type RelayApp struct {
	log        *log.Logger
	store      store.MessageStore
	relay      *server.RelayServer
	srv        *http.Server
	signingKey []byte
	upgrader   websocket.Upgrader
}

func NewRelayApp(mux *http.ServeMux, logger *log.Logger, rs *server.RelayServer, ms store.MessageStore, cfg *config.Config) *RelayApp {
	s := &RelayApp{
		log:        logger,
		store:      ms,
		relay:      rs,
		signingKey: cfg.SigningKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}

	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("GET /healthz", s.healthz)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

func (s *RelayApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *RelayApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
