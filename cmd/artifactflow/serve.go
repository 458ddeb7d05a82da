package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/artifactflow/artifactflow/internal/agents"
	"github.com/artifactflow/artifactflow/internal/artifacts"
	"github.com/artifactflow/artifactflow/internal/auth"
	"github.com/artifactflow/artifactflow/internal/config"
	"github.com/artifactflow/artifactflow/internal/controller"
	"github.com/artifactflow/artifactflow/internal/conversations"
	"github.com/artifactflow/artifactflow/internal/httpapi"
	"github.com/artifactflow/artifactflow/internal/llm"
	"github.com/artifactflow/artifactflow/internal/observability"
	"github.com/artifactflow/artifactflow/internal/storage"
	"github.com/artifactflow/artifactflow/internal/streams"
	"github.com/artifactflow/artifactflow/internal/tasks"
	"github.com/artifactflow/artifactflow/internal/tools"
)

// buildServeCmd creates the "serve" command that starts the API server.
// This is the primary command for running ArtifactFlow in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		migrate    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ArtifactFlow API server",
		Long: `Start the ArtifactFlow API server.

The server will:
1. Load configuration from the specified file (or the environment)
2. Open the configured database, or fall back to in-memory stores
3. Initialize LLM providers and the agent roster
4. Start the HTTP server for the REST + SSE API

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  artifactflow serve

  # Start with custom config
  artifactflow serve --config /etc/artifactflow/production.yaml

  # Apply pending migrations, then serve
  artifactflow serve --migrate

  # Start with debug logging
  artifactflow serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, debug, migrate)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML/JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	cmd.Flags().BoolVar(&migrate, "migrate", false,
		"Apply pending database migrations before serving")

	return cmd
}

// runServe implements the serve command logic.
// It handles configuration loading, service initialization, and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug, migrate bool) error {
	// Adjust log level if debug mode is enabled.
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	slog.Info("starting ArtifactFlow server",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	// Load and validate configuration.
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Debug = true
		cfg.Logging.Level = "debug"
	}

	slog.Info("configuration loaded",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"llm_provider", cfg.LLM.DefaultProvider,
		"database", databaseLabel(cfg),
	)

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	tracer, stopTracer := observability.NewTracer(traceConfig(cfg))
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopTracer(flushCtx); err != nil {
			slog.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	stores, closeStores, err := openStores(ctx, cfg, migrate)
	if err != nil {
		return err
	}
	defer closeStores()

	llms, err := buildLLMRegistry(cfg)
	if err != nil {
		return err
	}

	toolReg := tools.NewRegistry()
	if err := toolReg.RegisterAll(tools.ArtifactTools(stores.artifacts)...); err != nil {
		return fmt.Errorf("register artifact tools: %w", err)
	}
	if err := toolReg.RegisterAll(&tools.CallSubagentTool{}); err != nil {
		return fmt.Errorf("register subagent tool: %w", err)
	}

	agentReg, err := agents.NewLoader(llms, toolReg, cfg.LLM, logger).Load(cfg.Agents)
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	defer agentReg.Close()
	if err := agentReg.StartWatching(ctx); err != nil {
		return fmt.Errorf("watch agents file: %w", err)
	}

	str := streams.NewManager(cfg.Streams.TTL, slog.Default(), metrics)
	tsk := tasks.NewManager(cfg.Tasks.MaxConcurrent, slog.Default())

	jwt := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	authSvc := auth.NewService(stores.users, jwt, logger)

	ctrl := controller.New(cfg, stores.conversations, stores.artifacts, str, tsk, agentReg, logger, metrics, tracer)
	api := httpapi.New(cfg, authSvc, ctrl, stores.conversations, stores.artifacts, str, logger, metrics)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Create a context that cancels on shutdown signals.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	slog.Info("ArtifactFlow server started",
		"addr", addr,
		"agents", agentReg.Names(),
	)

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	slog.Info("shutdown signal received, initiating graceful shutdown")

	// Create a timeout context for graceful shutdown. The HTTP drain
	// goes first so no new runs arrive, then in-flight runs get their
	// grace period, then the stream buffers terminate.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP drain incomplete", "error", err)
	}
	if err := tsk.Shutdown(cfg.Tasks.ShutdownTimeout); err != nil {
		slog.Warn("task drain incomplete", "error", err)
	}
	str.Shutdown()

	slog.Info("ArtifactFlow server stopped gracefully")
	return nil
}

// storeSet bundles the three persistence surfaces behind one backend
// choice.
type storeSet struct {
	users         auth.UserStore
	conversations conversations.Store
	artifacts     artifacts.Store
}

// openStores selects the storage backend from the database URL: empty
// means in-memory, postgres:// means lib/pq, anything else is a SQLite
// path. With migrate set, pending migrations run before the stores
// prepare their statements.
func openStores(ctx context.Context, cfg *config.Config, migrate bool) (*storeSet, func(), error) {
	if strings.TrimSpace(cfg.Database.URL) == "" {
		slog.Warn("no database configured, state is lost on restart")
		return &storeSet{
			users:         auth.NewMemoryUserStore(),
			conversations: conversations.NewMemoryStore(),
			artifacts:     artifacts.NewMemoryStore(),
		}, func() {}, nil
	}

	db, dialect, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			slog.Warn("database close failed", "error", err)
		}
	}

	if migrate {
		if err := storage.Migrate(ctx, db, dialect); err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	set := &storeSet{}
	switch dialect {
	case storage.DialectPostgres:
		users, err := auth.NewPostgresUserStore(db)
		if err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("user store: %w", err)
		}
		convs, err := conversations.NewPostgresStore(db)
		if err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("conversation store: %w", err)
		}
		arts, err := artifacts.NewPostgresStore(db)
		if err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("artifact store: %w", err)
		}
		set.users, set.conversations, set.artifacts = users, convs, arts
	default:
		set.users = auth.NewSQLiteUserStore(db)
		set.conversations = conversations.NewSQLiteStore(db)
		set.artifacts = artifacts.NewSQLiteStore(db)
	}
	return set, closeDB, nil
}

// buildLLMRegistry constructs the configured providers. The keyless
// "scripted" provider serves development deployments without burning
// API credit.
func buildLLMRegistry(cfg *config.Config) (*llm.Registry, error) {
	if cfg.LLM.DefaultProvider == "scripted" {
		scripted := llm.NewScriptedProvider("scripted", llm.ScriptedTurn{
			Content: "This deployment runs the scripted development provider; configure llm.providers for real completions.",
		}).Loop()
		return llm.NewRegistryWith(scripted), nil
	}
	return llm.NewRegistry(cfg.LLM)
}

func traceConfig(cfg *config.Config) observability.TraceConfig {
	tc := observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	}
	if cfg.Tracing.Enabled {
		tc.Endpoint = cfg.Tracing.Endpoint
	}
	return tc
}

// databaseLabel names the backend for logs without leaking credentials
// embedded in the URL.
func databaseLabel(cfg *config.Config) string {
	url := strings.TrimSpace(cfg.Database.URL)
	switch {
	case url == "":
		return "memory"
	case strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://"):
		return "postgres"
	default:
		return "sqlite"
	}
}
