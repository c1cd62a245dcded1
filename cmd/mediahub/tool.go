package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/germanamz/mediahub/pkg/hub"
	"github.com/germanamz/mediahub/pkg/tools/toolbox"
)

func newToolCmd(g *globalFlags) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "tool [name] [json-args]",
		Short: "Call one of the MCP tools once and print its result",
		Example: `  mediahub tool --list
  mediahub tool latest_items '{"item_type":"Movie"}'
  mediahub tool play_command '{"session_id":"abc","command":"Pause"}'`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				return oneShot(g, func(_ context.Context, h *hub.Hub) error {
					return printTools(cmd.OutOrStdout(), h.Tools())
				})
			}
			if len(args) == 0 {
				return errors.New("tool name is required")
			}

			var input json.RawMessage
			if len(args) == 2 {
				input = json.RawMessage(args[1])
				if !json.Valid(input) {
					return fmt.Errorf("arguments for %s are not valid JSON", args[0])
				}
			}

			return oneShot(g, func(ctx context.Context, h *hub.Hub) error {
				return callTool(ctx, cmd.OutOrStdout(), h.Tools(), args[0], input)
			})
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list available tools")

	return cmd
}

func callTool(ctx context.Context, w io.Writer, tb *toolbox.ToolBox, name string, input json.RawMessage) error {
	res := tb.Call(ctx, name, input)
	if res.IsError {
		return fmt.Errorf("%s: %s", name, res.Content)
	}
	_, err := fmt.Fprintln(w, res.Content)
	return err
}

func printTools(w io.Writer, tb *toolbox.ToolBox) error {
	for _, t := range tb.Tools() {
		if _, err := fmt.Fprintf(w, "%s  %s\n", headerStyle.Render(t.Name), t.Description); err != nil {
			return err
		}
	}
	return nil
}
