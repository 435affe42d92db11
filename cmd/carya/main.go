// Package main provides the command-line interface for Carya, a
// background sync client that keeps a workspace of notes mirrored
// against a remote server in real time.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "carya",
	Short: "Carya keeps a local notes workspace synced in real time.",
	Long:  `Carya watches a local directory, reconciles it against a remote workspace over a persistent connection, and resolves edits made on both sides character by character.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Carya is running. Use 'carya --help' for a list of commands.")
	},
}

// Execute runs the root command and handles any errors that occur during execution.
// It prints errors to stderr and exits with code 1 if an error occurs.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// main is the entry point for the Carya CLI application.
func main() {
	Execute()
}
