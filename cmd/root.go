// Package cmd implements the helixbridge CLI using cobra.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/helixbridge/helixbridge/internal/config"
)

const version = "0.1.0"
const logo = "🧬"

var (
	flagWorkspace string
	flagRegistry  string
	flagVerbose   bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "helixbridge",
	Short: logo + " helixbridge — multi-transport tool mediator",
	Long: logo + ` helixbridge — a client-side mediator that connects to MCP-variant
tool servers over WebSocket, HTTP and SSE, discovers their tools, and routes
tool calls to the right server or to a built-in handler.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		level := slog.LevelWarn
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&flagWorkspace, "workspace", config.DefaultWorkspace(), "Workspace directory")
	rootCmd.PersistentFlags().StringVar(&flagRegistry, "registry", "", "Tool registry root (default <workspace>/tools)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(toolsCmd)
}

func registryRoot() string {
	if flagRegistry != "" {
		return flagRegistry
	}
	return filepath.Join(flagWorkspace, "tools")
}
