// Package main implements fathomd, the semantic code and document search
// daemon, plus client subcommands for driving a running instance.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// serverURL is the base URL client subcommands talk to.
	serverURL string
	// configPath overrides the default config file location.
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "fathomd",
	Short: "Project-scoped semantic search over code and documents",
	Long: `fathomd indexes codebases and web pages into hybrid dense+sparse
vector collections and answers natural-language queries against them.

Run "fathomd serve" to start the daemon; the other subcommands are thin
clients against a running instance.`,
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9620", "fathomd server URL")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fathomd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}
