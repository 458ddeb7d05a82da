// Package main provides the CLI entry point for the ArtifactFlow
// orchestration server.
//
// ArtifactFlow runs LLM agent teams behind a REST + SSE API: a lead
// agent coordinates subagents, tool calls execute under permission
// gates, and generated artifacts are versioned per conversation.
//
// # Basic Usage
//
// Start the server:
//
//	artifactflow serve --config artifactflow.yaml
//
// Manage database migrations:
//
//	artifactflow migrate up
//	artifactflow migrate status
//
// Create the first admin account:
//
//	artifactflow users create --username admin --admin
//
// # Environment Variables
//
// Configuration can be provided via environment variables; values
// override the config file:
//
//   - ARTIFACTFLOW_CONFIG: Path to configuration file (default: artifactflow.yaml)
//   - ARTIFACTFLOW_JWT_SECRET: HMAC secret for access tokens (required)
//   - ARTIFACTFLOW_DATABASE_URL: postgres:// URL or SQLite path (default: in-memory)
//   - ARTIFACTFLOW_PORT: HTTP listen port (default: 8080)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/artifactflow/artifactflow/internal/config"
	"github.com/artifactflow/artifactflow/internal/storage"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// defaultConfigName is picked up from the working directory when
// neither --config nor ARTIFACTFLOW_CONFIG names a file.
const defaultConfigName = "artifactflow.yaml"

func main() {
	// Configure structured logging with JSON output for production parsing.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	// Execute the CLI - Cobra handles argument parsing and command routing.
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "artifactflow",
		Short: "ArtifactFlow - multi-agent orchestration server",
		Long: `ArtifactFlow runs LLM agent teams behind a REST + SSE API.

A lead agent coordinates subagents, tool calls execute under permission
gates, and generated artifacts are versioned per conversation with
optimistic locking.

Supported LLM providers: Anthropic (Claude), OpenAI (GPT)
Storage backends: PostgreSQL, SQLite, in-memory`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildUsersCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

// resolveConfigPath applies the config file precedence: the explicit
// flag, then ARTIFACTFLOW_CONFIG, then artifactflow.yaml in the working
// directory. Empty means no file: configuration comes from environment
// variables alone.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv(config.EnvPrefix + "CONFIG")); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName
	}
	return ""
}

// loadConfig loads the resolved config file, falling back to a pure
// environment-variable configuration when no file is present.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

// openDatabase opens the configured database and verifies connectivity
// before handing it to a store or migrator.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, storage.Dialect, error) {
	if strings.TrimSpace(cfg.Database.URL) == "" {
		return nil, "", fmt.Errorf("database.url is required (set %sDATABASE_URL)", config.EnvPrefix)
	}
	db, dialect, err := storage.Open(cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.ConnMaxLifetime)
	if err != nil {
		return nil, "", err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping database: %w", err)
	}
	return db, dialect, nil
}
