package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"cartshare/internal/app"
	"cartshare/internal/config"
	"cartshare/internal/hub"
	"cartshare/internal/server"
	"cartshare/internal/token"
	"cartshare/internal/util"
)

func main() {
	cfg, err := config.Load(os.Getenv("CARTSHARE_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)

	h := hub.New()
	tokens := token.NewManager(cfg.JWTSecret, sessionTTL)

	appCore, err := app.New(app.Config{
		DatabaseURL:      cfg.DatabaseURL,
		Hub:              h,
		Tokens:           tokens,
		InviteCodeLength: cfg.InviteCodeLength,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:           appCore,
		Hub:           h,
		Tokens:        tokens,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RegisterLimit: cfg.RegisterRateLimitPerMin,
		LoginLimit:    cfg.LoginRateLimitPerMin,
		JoinLimit:     cfg.JoinRateLimitPerMin,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", addr, err)
	}
	if cfg.MaxConns > 0 {
		listener = netutil.LimitListener(listener, cfg.MaxConns)
	}

	shutdownTimeout := 10 * time.Second
	if cfg.ShutdownTimeoutSeconds > 0 {
		shutdownTimeout = time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		h.Close()
		return appCore.Close()
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
