package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aegisway/tollguard/internal/tollsvc"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	logger := mustBuildLogger(envOrDefault("TOLLGUARD_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	cfg := tollsvc.Config{
		PolicyPath:      os.Getenv("TOLLGUARD_POLICY_PATH"),
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		ClickHouseDSN:   os.Getenv("CLICKHOUSE_DSN"),
		LedgerDSN:       os.Getenv("LEDGER_URL"),
		AdminKey:        os.Getenv("TOLLGUARD_ADMIN_KEY"),
		MasterKeyHex:    os.Getenv("TOLLGUARD_MASTER_KEY_HEX"),
		VDFWorkerCount:  envOrDefaultInt("TOLLGUARD_VDF_WORKERS", 4),
		AnchorTickEvery: time.Duration(envOrDefaultInt("TOLLGUARD_ANCHOR_TICK_MS", 500)) * time.Millisecond,
	}
	if cfg.AdminKey == "" {
		logger.Fatal("TOLLGUARD_ADMIN_KEY must be set")
	}

	port := envOrDefault("TOLLGUARD_PORT", "8080")

	logger.Info("starting tollguard server",
		zap.String("port", port),
		zap.Int("vdf_workers", cfg.VDFWorkerCount),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := tollsvc.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build service", zap.Error(err))
	}
	defer svc.Close()

	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: svc.NewHandler(),
	}

	go func() {
		if err := svc.Run(ctx, cfg); err != nil {
			logger.Error("background workers stopped with error", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("tollguard server listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
