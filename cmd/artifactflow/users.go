package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/artifactflow/artifactflow/internal/auth"
	"github.com/artifactflow/artifactflow/internal/observability"
	"github.com/artifactflow/artifactflow/internal/storage"
	"github.com/artifactflow/artifactflow/pkg/models"
)

// buildUsersCmd creates the "users" command group for account
// administration against the configured database.
func buildUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
		Long: `Manage user accounts in the configured database.

The API has no self-registration: accounts are created here or through
the admin endpoints. The first account should be an admin created with
"users create --admin".`,
	}
	cmd.AddCommand(buildUsersCreateCmd(), buildUsersListCmd())
	return cmd
}

func buildUsersCreateCmd() *cobra.Command {
	var (
		configPath string
		username   string
		password   string
		admin      bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Long: `Create a user account.

The password is prompted for when not passed via --password. Passwords
must be at least 8 characters.`,
		Example: `  # Create the initial admin account
  artifactflow users create --username admin --admin

  # Create a regular user non-interactively
  artifactflow users create --username alice --password 'correct horse'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runUsersCreate(cmd, configPath, username, password, admin)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username for the new account")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin role")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func buildUsersListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		offset     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runUsersList(cmd, configPath, limit, offset)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of accounts to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of accounts to skip")

	return cmd
}

// runUsersCreate handles the users create command. The first admin goes
// through Bootstrap; anything after that is a plain create.
func runUsersCreate(cmd *cobra.Command, configPath, username, password string, admin bool) error {
	if password == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Password for %s: ", username)
		reader := bufio.NewReader(cmd.InOrStdin())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	svc, cleanup, err := openUserService(cmd, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	role := models.RoleUser
	if admin {
		role = models.RoleAdmin
	}

	var user *models.User
	if admin {
		user, err = svc.Bootstrap(cmd.Context(), username, password)
		if err != nil {
			return err
		}
	}
	if user == nil {
		user, err = svc.CreateUser(cmd.Context(), username, password, role)
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "User created: %s (%s)\n", user.Username, user.Role)
	fmt.Fprintf(cmd.OutOrStdout(), "  ID: %s\n", user.ID)
	return nil
}

// runUsersList handles the users list command.
func runUsersList(cmd *cobra.Command, configPath string, limit, offset int) error {
	svc, cleanup, err := openUserService(cmd, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	users, err := svc.ListUsers(cmd.Context(), limit, offset)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(users) == 0 {
		fmt.Fprintln(out, "No users found.")
		return nil
	}
	fmt.Fprintln(out, "Users:")
	for _, u := range users {
		status := "active"
		if !u.Active {
			status = "disabled"
		}
		fmt.Fprintf(out, "  - %s (%s, %s) created %s\n",
			u.Username, u.Role, status, u.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

// openUserService loads the config and wires an auth service against
// the configured database. User administration needs a persistent
// store, so an empty database.url is an error here rather than a
// fallback to memory.
func openUserService(cmd *cobra.Command, configPath string) (*auth.Service, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, dialect, err := openDatabase(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = db.Close() }

	var store auth.UserStore
	switch dialect {
	case storage.DialectPostgres:
		pg, err := auth.NewPostgresUserStore(db)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("user store: %w", err)
		}
		store = pg
	default:
		store = auth.NewSQLiteUserStore(db)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	jwt := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	return auth.NewService(store, jwt, logger), cleanup, nil
}
