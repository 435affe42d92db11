package main

import (
	"fmt"
	"os"

	"carya/internal/journal"
	"carya/internal/repository"
	"carya/internal/snapshotui"

	"github.com/spf13/cobra"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Browse synced files and their operation history",
	Long:  `Opens an interactive browser over the local journal: file list on the left, applied operations on the right.`,
	Run: func(cmd *cobra.Command, args []string) {
		journalPath, _ := cmd.Flags().GetString("journal")

		if journalPath == "" {
			repo, err := repository.New()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error initializing repository: %v\n", err)
				os.Exit(1)
			}

			if !repo.Exists() {
				fmt.Fprintf(os.Stderr, "Error: Not a Carya workspace. Run 'carya init' first.\n")
				os.Exit(1)
			}

			journalPath = repo.JournalPath()
		}

		if _, err := os.Stat(journalPath); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error: journal not found at %s\n", journalPath)
			os.Exit(1)
		}

		store, err := journal.Open(journalPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening journal: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		if err := snapshotui.Run(store); err != nil {
			fmt.Fprintf(os.Stderr, "Error running browser: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	viewCmd.Flags().StringP("journal", "j", "", "Path to the journal database (default: .carya/journal.db)")

	rootCmd.AddCommand(viewCmd)
}
