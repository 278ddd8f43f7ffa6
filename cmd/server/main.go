package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vedran77/converse/internal/config"
	"github.com/vedran77/converse/internal/docstore"
	"github.com/vedran77/converse/internal/presence"
	"github.com/vedran77/converse/internal/repository/docstorerepo"
	"github.com/vedran77/converse/internal/service"
	"github.com/vedran77/converse/internal/transport/http/handlers"
	"github.com/vedran77/converse/internal/transport/http/middleware"
	"github.com/vedran77/converse/internal/transport/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	// Durable store
	store, err := docstore.Open(cfg.DataDir, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()
	log.Printf("Opened store at %s", cfg.DataDir)

	// Repositories
	userRepo := docstorerepo.NewUserRepo(store)
	convRepo := docstorerepo.NewConversationRepo(store)
	msgRepo := docstorerepo.NewMessageRepo(store)

	// Ephemeral state
	presenceStore := presence.NewStore(logger)
	typing := service.NewTypingSignal(cfg.TypingExpiry)
	defer typing.Close()

	// Services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret)
	convService := service.NewConversationService(store, convRepo, msgRepo, userRepo)
	msgService := service.NewMessageService(store, msgRepo, convRepo)

	// WebSocket hub
	hub := ws.NewHub(presenceStore, typing, msgService, convRepo, msgRepo, userRepo)
	go hub.Run()

	// Handlers
	authHandler := handlers.NewAuthHandler(authService)
	convHandler := handlers.NewConversationHandler(convService)
	msgHandler := handlers.NewMessageHandler(msgService)

	// Auth middleware
	auth := middleware.Auth(cfg.JWTSecret)

	// Routes
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	// Protected - Users
	mux.Handle("GET /api/v1/users/me", auth(http.HandlerFunc(authHandler.Me)))
	mux.Handle("PATCH /api/v1/users/me", auth(http.HandlerFunc(authHandler.UpdateProfile)))
	mux.Handle("GET /api/v1/users", auth(http.HandlerFunc(authHandler.ListUsers)))

	// Protected - Conversations
	mux.Handle("POST /api/v1/conversations/direct", auth(http.HandlerFunc(convHandler.FindOrCreateDirect)))
	mux.Handle("POST /api/v1/conversations/groups", auth(http.HandlerFunc(convHandler.CreateGroup)))
	mux.Handle("GET /api/v1/conversations", auth(http.HandlerFunc(convHandler.List)))
	mux.Handle("GET /api/v1/conversations/{id}", auth(http.HandlerFunc(convHandler.Get)))
	mux.Handle("PATCH /api/v1/conversations/{id}", auth(http.HandlerFunc(convHandler.Rename)))
	mux.Handle("DELETE /api/v1/conversations/{id}", auth(http.HandlerFunc(convHandler.Delete)))
	mux.Handle("POST /api/v1/conversations/{id}/members", auth(http.HandlerFunc(convHandler.AddMembers)))
	mux.Handle("DELETE /api/v1/conversations/{id}/members/{uid}", auth(http.HandlerFunc(convHandler.RemoveMember)))
	mux.Handle("POST /api/v1/conversations/{id}/leave", auth(http.HandlerFunc(convHandler.Leave)))

	// Protected - Messages
	mux.Handle("POST /api/v1/conversations/{id}/messages", auth(http.HandlerFunc(msgHandler.Send)))
	mux.Handle("GET /api/v1/conversations/{id}/messages", auth(http.HandlerFunc(msgHandler.List)))
	mux.Handle("POST /api/v1/conversations/{id}/read", auth(http.HandlerFunc(msgHandler.MarkRead)))
	mux.Handle("POST /api/v1/conversations/{id}/seen", auth(http.HandlerFunc(msgHandler.MarkSeen)))

	// WebSocket
	mux.HandleFunc("GET /api/v1/ws", ws.ServeWS(hub, cfg.JWTSecret))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: middleware.CORS(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
