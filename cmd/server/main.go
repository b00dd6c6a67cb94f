package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/mrveiss/AutoBot-AI-sub016/internal/api"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/config"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/engine"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/executor"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/logging"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/mcp"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/notify"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/repository"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/services"
	"github.com/mrveiss/AutoBot-AI-sub016/internal/tls"
)

func main() {
	ctx := context.Background()

	// Initialize logging
	logger := logging.NewLogger()

	// Parse command line flags
	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}
	logger.Info("Configuration loaded",
		"store_backend", cfg.Store.Backend,
		"addr", cfg.Server.Addr,
		"config_file", viper.ConfigFileUsed(),
	)

	logger.Info("Starting Workflow Orchestration Service")

	// Initialize the workflow store
	store, closeStore, err := initStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize store: %v", err)
		log.Fatalf("Store initialization failed: %v", err)
	}
	defer closeStore()

	logger.Info("Workflow store ready", "backend", cfg.Store.Backend)

	// Approval notifications: webhook when configured, log otherwise
	var notifier notify.Notifier = &notify.LogNotifier{Logger: logger}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL)
		logger.Info("Approval webhook configured", "url", cfg.Notify.WebhookURL)
	}

	// Initialize the orchestration engine
	eng := engine.New(store, &executor.ShellExecutor{}, notifier, logger, engine.Config{
		MaxParallel:          cfg.Engine.MaxParallel,
		AdaptivePromoteAfter: cfg.Engine.AdaptivePromoteAfter,
	})
	defer eng.Close()

	// Respawn schedulers for workflows interrupted by a restart
	if err := eng.Recover(ctx); err != nil {
		logger.Error("Failed to recover workflows: %v", err)
		log.Fatalf("Workflow recovery failed: %v", err)
	}

	history := services.NewHistoryService(store)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Mount REST API handlers
	api.NewServer(eng, history).RegisterHandlers(e)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(eng)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(mcpHandlers))
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				serverErrors <- fmt.Errorf("tls enabled but cert/key file not provided")
				return
			}
			if generated, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
				logger.Error("failed to generate self-signed cert", "error", err)
			} else if generated {
				logger.Info("Generated self-signed certificate", "cert", cfg.TLS.CertFile)
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error: %v", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
}

// initStore builds the configured workflow store, wrapped in transient-error
// retries. The returned func releases the underlying connection handle.
func initStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.WorkflowStore, func(), error) {
	var (
		inner     repository.WorkflowStore
		closeFunc = func() {}
	)

	switch cfg.Store.Backend {
	case "postgres":
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		pg := repository.NewPostgresWorkflowStore(pool)
		if err := pg.InitSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		inner = pg
		closeFunc = pool.Close

	case "sqlite":
		db, err := sql.Open("sqlite", "file:"+cfg.Store.Path+"?_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		st, err := repository.NewSQLiteWorkflowStore(db)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		inner = st
		closeFunc = func() { db.Close() }

	default: // memory
		inner = repository.NewMemoryWorkflowStore()
	}

	return repository.NewRetryingStore(inner, cfg.Engine.PersistAttempts, 100*time.Millisecond, logger), closeFunc, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
