// Command mediahub connects to an Emby or Jellyfin server and keeps a live
// view of its sessions and libraries.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/germanamz/mediahub/pkg/hub"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "mediahub",
		Short: "Live connector for Emby and Jellyfin media servers",
		Long: `mediahub keeps a push connection to an Emby or Jellyfin server and
mirrors its playback sessions and library changes.

Quick Start:
  mediahub watch                 # Stream availability, session and library events
  mediahub sessions              # List active sessions
  mediahub users                 # List server accounts
  mediahub mcp --read-only       # Serve server queries to an MCP client on stdio
  mediahub tool --list           # Show the tools, or call one with "tool <name> '<json>'"`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadDotEnv(g.envFile)
		},
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "mediahub.yaml", "path to configuration file")
	root.PersistentFlags().StringVar(&g.envFile, "env", ".env", "path to .env file (ignored if missing)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newWatchCmd(g),
		newSessionsCmd(g),
		newUsersCmd(g),
		newLibrariesCmd(g),
		newMCPCmd(g),
		newToolCmd(g),
	)

	return root
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// newLogger writes text logs to w. Debug records appear only when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openHub loads the configuration and builds a hub. Logs go to stderr so
// stdout stays clean for command output.
func openHub(g *globalFlags, reg prometheus.Registerer) (*hub.Hub, *slog.Logger, error) {
	cfg, err := hub.LoadConfig(g.configPath)
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger(os.Stderr, g.verbose)
	h, err := hub.New(cfg, hub.Options{Logger: logger, Registerer: reg})
	if err != nil {
		return nil, nil, err
	}

	return h, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
