package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/germanamz/mediahub/pkg/hub"
	"github.com/germanamz/mediahub/pkg/models"
)

// oneShot opens a hub for a single query. No push channel is opened.
func oneShot(g *globalFlags, fn func(ctx context.Context, h *hub.Hub) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	h, _, err := openHub(g, nil)
	if err != nil {
		return err
	}
	defer h.Stop()

	if _, err := h.Verify(ctx); err != nil {
		return err
	}
	return fn(ctx, h)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSessionsCmd(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List active playback sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return oneShot(g, func(ctx context.Context, h *hub.Hub) error {
				sessions, err := h.Sessions(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), sessions)
				}
				return printSessions(cmd.OutOrStdout(), sessions)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")

	return cmd
}

func printSessions(w io.Writer, sessions []models.Session) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, dimStyle.Render("no active sessions"))
		return err
	}

	_, _ = fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d sessions", len(sessions))))
	for _, s := range sessions {
		if _, err := fmt.Fprintln(w, "  "+renderSession(s)); err != nil {
			return err
		}
	}
	return nil
}

func newUsersCmd(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "users",
		Short: "List server accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return oneShot(g, func(ctx context.Context, h *hub.Hub) error {
				users, err := h.Users(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), users)
				}
				return printUsers(cmd.OutOrStdout(), users)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")

	return cmd
}

func printUsers(w io.Writer, users []models.User) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tID\tADMIN\tDISABLED\tALL LIBRARIES")
	for _, u := range users {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			u.Name, u.ID,
			strconv.FormatBool(u.Policy.IsAdministrator),
			strconv.FormatBool(u.Policy.IsDisabled),
			strconv.FormatBool(u.Policy.EnableAllFolders))
	}
	return tw.Flush()
}

func newLibrariesCmd(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "libraries",
		Short: "List media folders and channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return oneShot(g, func(ctx context.Context, h *hub.Hub) error {
				libs, err := h.Libraries(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), libs)
				}
				return printLibraries(cmd.OutOrStdout(), libs)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")

	return cmd
}

func printLibraries(w io.Writer, libs []models.Item) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tID\tTYPE")
	for _, l := range libs {
		kind := l.CollectionType
		if kind == "" {
			kind = l.Type
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Name, l.ID, kind)
	}
	return tw.Flush()
}
