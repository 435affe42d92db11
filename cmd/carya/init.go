package main

import (
	"fmt"
	"log"
	"os"

	"carya/internal/config"
	"carya/internal/repository"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Carya workspace in the current directory.",
	Long:  `Creates the .carya directory and writes its configuration. Run 'carya start' afterward to begin syncing.`,
	Run: func(cmd *cobra.Command, args []string) {
		repo, err := repository.New()
		if err != nil {
			log.Fatalf("Failed to resolve repository: %v", err)
		}

		if repo.Exists() {
			fmt.Println("Already a Carya workspace.")
			return
		}

		if err := repo.EnsureExists(); err != nil {
			log.Fatalf("Failed to create .carya directory: %v", err)
		}

		cfg := config.Default()
		cfg.Domain, _ = cmd.Flags().GetString("domain")
		cfg.UseTLS, _ = cmd.Flags().GetBool("tls")
		cfg.WorkspaceName, _ = cmd.Flags().GetString("workspace")
		cfg.WorkspacePass, _ = cmd.Flags().GetString("password")
		policy, _ := cmd.Flags().GetString("conflict")
		if policy != "" {
			cfg.ConflictResolution = config.ConflictResolution(policy)
		}

		if !cfg.Valid() {
			fmt.Fprintf(os.Stderr, "Error: unrecognized --conflict value %q\n", cfg.ConflictResolution)
			os.Exit(1)
		}

		if err := cfg.Save(repo.CaryaPath()); err != nil {
			log.Fatalf("Failed to save configuration: %v", err)
		}

		fmt.Println("Initialized Carya workspace in", repo.CaryaPath())
		fmt.Println("Run 'carya login' to authenticate, then 'carya start' to begin syncing.")
	},
}

func init() {
	initCmd.Flags().String("domain", "localhost:8443", "server host:port")
	initCmd.Flags().Bool("tls", true, "connect over TLS (https/wss)")
	initCmd.Flags().String("workspace", "", "remote workspace name")
	initCmd.Flags().String("password", "", "remote workspace password")
	initCmd.Flags().String("conflict", string(config.ConflictMerge), "startup conflict policy: remote, local, or merge")

	rootCmd.AddCommand(initCmd)
}
