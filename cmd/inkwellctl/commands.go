package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"inkwell-backend/internal/database"
	"inkwell-backend/internal/services"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, err := connect()
		if err != nil {
			return err
		}
		defer pool.Close()

		applied, err := database.RunMigrations(pool, migrationsDir)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
		}
		return nil
	},
}

var seedFile string

var seedUsersCmd = &cobra.Command{
	Use:   "seed-users",
	Short: "Create or update accounts from a YAML file",
	Long:  "Reads a users file (username, password, role, no_ai) and upserts every account. Existing users keep their IDs.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedFile == "" {
			return errors.New("--file is required")
		}
		seed, err := services.LoadSeedFile(seedFile)
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := services.SeedUsers(cmd.Context(), store, seed, cliLogger())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d users\n", n)
		return nil
	},
}

var purgeReviewsCmd = &cobra.Command{
	Use:   "purge-reviews",
	Short: "Delete book reviews that are empty or nearly so",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.PurgeShortReviews(cmd.Context(), services.ShortReviewMaxLength)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d empty book reviews\n", n)
		return nil
	},
}

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every interaction, story, review and letter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearYes {
			return errors.New("refusing to clear without --yes")
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ClearAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All interactions cleared")
		return nil
	},
}

func init() {
	seedUsersCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML users file")
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "Confirm deleting everything")
}
