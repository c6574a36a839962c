package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/config"
	"github.com/sakif/storefront/internal/mirror"
	sqliteRepo "github.com/sakif/storefront/internal/repository/sqlite"
	"github.com/sakif/storefront/internal/server"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Open the database at DB_PATH and apply every migration that has not
run yet. The server does the same on start; this is for deploy pipelines
that migrate before rolling out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", cfg.DBPath)
			return nil
		},
	}
}

func syncOrdersCmd() *cobra.Command {
	var orderID string

	cmd := &cobra.Command{
		Use:   "sync-orders",
		Short: "Mirror orders to the document store",
		Long: `Without --order-id, reconcile every order: create missing documents,
update changed ones and delete orphans and duplicates. With --order-id,
mirror that one order. The result is printed as JSON.

Examples:
  storectl sync-orders
  storectl sync-orders --order-id ck3v9b2m0000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := openEngine(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := engine.Sync(cmd.Context(), orderID)
			if res != nil {
				if werr := printJSON(cmd.OutOrStdout(), res); werr != nil {
					return werr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&orderID, "order-id", "", "mirror only this order")
	return cmd
}

func syncStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-state",
		Short: "Show the outcome of the last full reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := openEngine(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			state, err := engine.State(cmd.Context())
			if err != nil {
				return err
			}
			if state == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no reconciliation has run yet")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), state)
		},
	}
}

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key KEY",
		Short: "Hash an operator API key for SYNC_API_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.NewKeyHasher().Hash(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		email string
		name  string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token SUBJECT",
		Short: "Sign a shopper token with JWT_SECRET",
		Long: `Sign a bearer token for SUBJECT (the identity provider's user id).
Useful for calling the shopper routes from curl against a local server.

Example:
  curl -H "Authorization: Bearer $(storectl token auth0|42 --email ada@example.com)" \
    localhost:8080/api/orders`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer)
			if err != nil {
				return err
			}
			tok, err := tokens.Generate(auth.Identity{Subject: args[0], Email: email, Name: name}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&name, "name", "", "name claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func openDB(cfg *config.Config) (*sqliteRepo.DB, error) {
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	return sqliteRepo.New(cfg.DBPath)
}

// openEngine builds the mirror engine from the environment. Progress and
// per-document failures are logged to logOut.
func openEngine(logOut io.Writer) (*mirror.Engine, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.MirrorEnabled() {
		return nil, nil, errors.New("order mirror is not configured: set SANITY_PROJECT_ID")
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	store, err := server.NewDocumentStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	engine := mirror.NewEngine(db, store, cfg.SyncConcurrency, logger)
	return engine, func() { db.Close() }, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
