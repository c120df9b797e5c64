// Answerd is a question-answering daemon combining a semantic response
// cache, retrieval-augmented generation over a vector store, and
// pluggable LLM backends behind an HTTP API.
//
// Usage:
//
//	# Start the server with defaults
//	answerd serve
//
//	# Start with an explicit config file
//	answerd serve --config /etc/answerd/config.yaml
//
//	# Evict cache entries unused for 30 days
//	answerd cache evict --days 30
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "answerd",
	Short: "Hybrid question-answering daemon",
	Long: `answerd serves question-answering requests over HTTP, combining a
semantic response cache, retrieval-augmented generation over an indexed
knowledge base, and pluggable LLM providers.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("answerd %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ~/.config/answerd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
