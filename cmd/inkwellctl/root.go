package main

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"inkwell-backend/internal/config"
	"inkwell-backend/internal/database"
	"inkwell-backend/internal/logger"
	"inkwell-backend/internal/repository"
)

var (
	databaseURL   string
	migrationsDir string
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:           "inkwellctl",
	Short:         "Administer the Inkwell interaction store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL (defaults to $DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "migrations", "migrations", "Directory holding the schema migrations")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every step")

	rootCmd.AddCommand(migrateCmd, seedUsersCmd, purgeReviewsCmd, clearCmd)
}

func cliLogger() *logger.Logger {
	if !verbose {
		return logger.Nop()
	}
	log, err := logger.New("development")
	if err != nil {
		return logger.Nop()
	}
	return log
}

func connect() (*pgxpool.Pool, error) {
	url := databaseURL
	if url == "" {
		url = config.LoadDatabaseURL()
	}
	if url == "" {
		return nil, errors.New("no database configured (set DATABASE_URL or pass --database-url)")
	}
	return database.NewPostgresPool(url)
}

// openStore is swapped out by tests.
var openStore = func() (repository.Store, error) {
	pool, err := connect()
	if err != nil {
		return nil, err
	}
	return repository.NewPostgresStore(pool, 30*time.Second), nil
}
