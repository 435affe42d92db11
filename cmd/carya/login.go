package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"carya/internal/apiclient"
	"carya/internal/config"
	"carya/internal/journal"
	"carya/internal/repository"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the remote workspace and save the session token.",
	Run: func(cmd *cobra.Command, args []string) {
		repo, err := repository.New()
		if err != nil {
			log.Fatalf("Failed to resolve repository: %v", err)
		}
		if !repo.Exists() {
			fmt.Fprintln(os.Stderr, "Error: not a Carya workspace. Run 'carya init' first.")
			os.Exit(1)
		}

		cfg, err := config.Load(repo.CaryaPath())
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if cfg.WorkspaceName == "" || cfg.WorkspacePass == "" {
			fmt.Fprintln(os.Stderr, "Error: workspace name/password not set. Re-run 'carya init' with --workspace and --password.")
			os.Exit(1)
		}

		store, err := journal.Open(repo.JournalPath())
		if err != nil {
			log.Fatalf("Failed to open journal: %v", err)
		}
		defer store.Close()

		api := apiclient.NewHTTPClient(baseURL(cfg), nil)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		token, err := api.Login(ctx, cfg.WorkspaceName, cfg.WorkspacePass)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: login failed: %v\n", err)
			os.Exit(1)
		}

		if err := store.SaveToken(token); err != nil {
			log.Fatalf("Failed to save token: %v", err)
		}

		fmt.Println("✓ Logged in to", cfg.Domain)
	},
}

func baseURL(cfg *config.Config) string {
	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}
	return scheme + "://" + cfg.Domain
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
