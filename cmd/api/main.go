package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/calls"
	"chat-relay/internal/config"
	"chat-relay/internal/directory"
	"chat-relay/internal/gateway"
	"chat-relay/internal/heartbeat"
	"chat-relay/internal/messages"
	"chat-relay/internal/registry"
	"chat-relay/internal/signaling"
	"chat-relay/pkg/logger"
	"chat-relay/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// membershipCacheTTL bounds how stale conversation membership may be on
// the delivery path.
const membershipCacheTTL = time.Minute

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Relay core: one registry and one call tracker per process. Both
	// are in-memory by design; multi-process deployments would need to
	// externalize them.
	reg := registry.New()
	tracker := signaling.NewCallTracker()

	msgStore := messages.NewStore(db)
	callStore := calls.NewStore(db)
	memberships := messages.NewMembershipCache(msgStore, membershipCacheTTL)
	dir := directory.NewService(db, rdb, log)

	router := signaling.NewRouter(reg, tracker, msgStore, callStore, memberships, dir, log)

	ws := &gateway.Handler{
		Auth:            authManager,
		Registry:        reg,
		Router:          router,
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
		Log:             log,
	}

	monitor := heartbeat.NewMonitor(reg, cfg.WS.HeartbeatInterval, log)
	go monitor.Run(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, ws)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		// No ReadTimeout/WriteTimeout: the signaling connections held by
		// this server are long-lived by design.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("relay listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Shutdown does not wait on hijacked websocket connections; close
	// whatever is still registered so clients see a clean teardown.
	for _, c := range reg.Snapshot() {
		_ = c.Close()
		reg.Remove(c.UserID(), c)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
