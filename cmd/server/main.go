package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"Pairline/internal/auth"
	"Pairline/internal/config"
	"Pairline/internal/handlers"
	"Pairline/internal/healthservice"
	"Pairline/internal/storage"
	"Pairline/internal/websocket"
)

func main() {
	// Загружаем переменные окружения из .env
	config.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.NewLogger(os.Stderr))

	if err := run(cfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logger := slog.With("component", "server")
	logger.Info("Starting Pairline collaboration server", "addr", cfg.Addr, "grpc_addr", cfg.GRPCAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verifier, closeVerifier, err := setupVerifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeVerifier()

	// Метаданные сессий необязательны: без базы комнаты стартуют с пустым документом
	var sessions handlers.SessionStore
	if cfg.DBConn != "" {
		store, err := storage.NewStorage(cfg.DBConn)
		if err != nil {
			return err
		}
		defer store.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = store.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		sessions = store
		logger.Info("Database connection established")
	} else {
		logger.Warn("PAIRLINE_DB_CONN is not set, session metadata will not be loaded")
	}

	// Создаем Hub - единственного владельца состояния комнат
	hub := websocket.NewHub(websocket.WithChatLimit(cfg.ChatHistory))
	go hub.Run()
	logger.Info("WebSocket Hub started")

	collabHandler := handlers.NewCollabHandler(hub, verifier, sessions, cfg.AllowedOrigins)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      collabHandler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	if cfg.TLSEnabled() {
		tlsConfig, err := setupTLS(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsConfig
	}

	health := healthservice.New(hub)
	grpcServer := healthservice.NewServer(health)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go health.Watch(watchCtx, healthservice.DefaultInterval)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server is listening", "address", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		var err error
		if cfg.TLSEnabled() {
			logger.Info("HTTPS server is listening", "address", cfg.Addr)
			err = srv.ListenAndServeTLS("", "")
		} else {
			logger.Info("HTTP server is listening", "address", cfg.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errCh:
		logger.Error("Server stopped unexpectedly", "error", runErr)
	}

	// Сначала health переходит в NOT_SERVING, чтобы балансировщик увел трафик
	stopWatch()
	health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	stopGRPC(grpcServer, 5*time.Second, logger)

	hub.Stop()
	logger.Info("Server stopped")
	return runErr
}

// setupVerifier выбирает проверку токенов: Redis, если задан адрес, иначе без проверки
func setupVerifier(ctx context.Context, cfg config.Config, logger *slog.Logger) (auth.Verifier, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn("PAIRLINE_REDIS_URL is not set, tokens will not be verified")
		return auth.AllowAll{}, func() {}, nil
	}

	rdb, err := auth.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Redis connection established")
	return auth.NewRedisVerifier(rdb), func() { rdb.Close() }, nil
}

func stopGRPC(grpcServer *grpc.Server, timeout time.Duration, logger *slog.Logger) {
	shutdownTimer := time.NewTimer(timeout)
	defer shutdownTimer.Stop()

	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("gRPC server stopped gracefully")
	case <-shutdownTimer.C:
		logger.Warn("Force stopping gRPC server")
		grpcServer.Stop()
	}
}

func setupTLS(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}, nil
}
