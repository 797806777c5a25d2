// Command stackmig-server runs a reference stack exposing the migration admin API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote/blobstore"
	"github.com/kilupskalvis/stackmig/internal/remote/metastore"
	"github.com/kilupskalvis/stackmig/internal/remote/server"
)

func main() {
	listen := flag.String("listen", envOrDefault("STACKMIG_LISTEN", "0.0.0.0:8730"), "Listen address")
	dataDir := flag.String("data-dir", envOrDefault("STACKMIG_DATA_DIR", "/var/lib/stackmig-server"), "Data directory")
	blobDir := flag.String("blob-dir", os.Getenv("STACKMIG_BLOB_DIR"), "Backup artifact directory, shared between stacks (default <data-dir>/blobs)")
	types := flag.String("types", envOrDefault("STACKMIG_TYPES", "ORGANIZATION,USER"), "Comma-separated migration types in dependency order")
	adminToken := flag.String("admin-token", os.Getenv("STACKMIG_ADMIN_TOKEN"), "Admin API token")
	rateLimit := flag.String("rate-limit", envOrDefault("STACKMIG_RATE_LIMIT", "50"), "Row API requests per second per client (0 disables)")
	logLevel := flag.String("log-level", envOrDefault("STACKMIG_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", envOrDefault("STACKMIG_LOG_FORMAT", "json"), "Log format (json, text)")
	tlsCert := flag.String("tls-cert", os.Getenv("STACKMIG_TLS_CERT"), "TLS certificate file")
	tlsKey := flag.String("tls-key", os.Getenv("STACKMIG_TLS_KEY"), "TLS key file")
	webhookURLs := flag.String("webhook-urls", os.Getenv("STACKMIG_WEBHOOK_URLS"), "Comma-separated webhook URLs receiving fired change messages")
	flag.Parse()

	// Setup logger
	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	migrationTypes := parseTypes(*types)
	if len(migrationTypes) == 0 {
		logger.Error("no migration types configured")
		os.Exit(1)
	}

	// Validate data dir
	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "error", err, "path", *dataDir)
		os.Exit(1)
	}
	if *blobDir == "" {
		*blobDir = filepath.Join(*dataDir, "blobs")
	}

	rows, err := metastore.NewSQLiteRowStore(filepath.Join(*dataDir, "rows.db"), migrationTypes)
	if err != nil {
		logger.Error("failed to open row store", "error", err)
		os.Exit(1)
	}
	defer rows.Close()

	jobs, err := metastore.NewBboltJobStore(filepath.Join(*dataDir, "jobs.db"))
	if err != nil {
		logger.Error("failed to open job store", "error", err)
		os.Exit(1)
	}
	defer jobs.Close()

	blobs, err := blobstore.NewFSStore(*blobDir)
	if err != nil {
		logger.Error("failed to open blob store", "error", err, "path", *blobDir)
		os.Exit(1)
	}

	// Server config
	cfg := server.DefaultServerConfig()
	cfg.AdminToken = *adminToken
	if rps, err := strconv.ParseFloat(*rateLimit, 64); err == nil {
		cfg.RequestsPerSecond = rps
	} else {
		logger.Warn("invalid rate limit, using default", "value", *rateLimit, "default", cfg.RequestsPerSecond)
	}

	// Webhooks
	if urls := splitList(*webhookURLs); len(urls) > 0 {
		cfg.Webhooks = server.NewWebhookNotifier(&server.WebhookConfig{URLs: urls}, logger)
		logger.Info("webhooks configured", "count", len(urls))
	}

	// Handler
	stack := &server.Stack{Rows: rows, Jobs: jobs, Blobs: blobs}
	h, handlerCleanup := server.Handler(stack, cfg, logger)

	// HTTP server
	srv := &http.Server{
		Addr:         *listen,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return context.Background() },
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting stackmig-server", "listen", *listen, "data_dir", *dataDir, "blob_dir", *blobDir, "types", migrationTypes)
		var err error
		if *tlsCert != "" && *tlsKey != "" {
			err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	handlerCleanup()
	logger.Info("server stopped")
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseTypes(s string) []models.MigrationType {
	var types []models.MigrationType
	for _, name := range splitList(s) {
		types = append(types, models.MigrationType(strings.ToUpper(name)))
	}
	return types
}
