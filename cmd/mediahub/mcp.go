package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/germanamz/mediahub/pkg/hub"
	"github.com/germanamz/mediahub/pkg/tools/mcpserver"
)

func newMCPCmd(g *globalFlags) *cobra.Command {
	var (
		readOnly bool
		tools    []string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve server queries and controls as MCP tools on stdio",
		Long: `Connect to the server and expose its sessions, users, libraries and
player controls as Model Context Protocol tools on stdin/stdout.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			h, logger, err := openHub(g, nil)
			if err != nil {
				return err
			}
			defer h.Stop()

			if err := h.Start(ctx); err != nil {
				return err
			}

			tb := h.Tools()
			if readOnly {
				tb = tb.Filter(hub.ReadOnlyTools)
			}
			tb = tb.Filter(tools)

			srv := mcpserver.New("mediahub", version, logger)
			srv.Register(tb)

			err = srv.ServeStdio(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&readOnly, "read-only", false, "expose only tools that do not change server or player state")
	cmd.Flags().StringSliceVar(&tools, "tools", nil, "expose only these tools (comma separated)")

	return cmd
}
