package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"

	"github.com/germanamz/mediahub/pkg/librarycache"
	"github.com/germanamz/mediahub/pkg/models"
	"github.com/germanamz/mediahub/pkg/tools/toolbox"
)

// ReadOnlyTools names the tools that never change server state.
var ReadOnlyTools = []string{"server_info", "sessions", "users", "libraries", "latest_items"}

type sessionInput struct {
	SessionID string `json:"session_id"`
}

type playCommandInput struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
	SeekTicks int64  `json:"seek_position_ticks,omitempty"`
}

type commandInput struct {
	SessionID string            `json:"session_id"`
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

type playInput struct {
	SessionID string   `json:"session_id"`
	ItemIDs   []string `json:"item_ids"`
	Command   string   `json:"command,omitempty"`
}

type latestInput struct {
	LibraryID string `json:"library_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	ItemType  string `json:"item_type"`
}

type libraryInput struct {
	LibraryID string `json:"library_id"`
}

type noInput struct{}

// Tools returns the hub's operations as tools. Use ReadOnlyTools with
// ToolBox.Filter to drop the ones that control players or the server.
func (h *Hub) Tools() *toolbox.ToolBox {
	tb := h.queryTools()
	tb.Merge(h.controlTools())
	return tb
}

func (h *Hub) queryTools() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(
		toolbox.Tool{
			Name:        "server_info",
			Description: "Identity and availability of the connected media server.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			Handler: toolbox.JSON(func(context.Context, noInput) (any, error) {
				return struct {
					models.ServerIdentity
					Available bool   `json:"Available"`
					State     string `json:"State"`
				}{h.Identity(), h.Available(), h.State().String()}, nil
			}),
		},
		toolbox.Tool{
			Name:        "sessions",
			Description: "Active playback sessions, with what each one is playing.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			Handler: toolbox.JSON(func(ctx context.Context, _ noInput) (any, error) {
				sessions, err := h.Sessions(ctx)
				if err != nil {
					return h.LastSessions(ctx), nil
				}
				return sessions, nil
			}),
		},
		toolbox.Tool{
			Name:        "users",
			Description: "Server user accounts.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			Handler: toolbox.JSON(func(ctx context.Context, _ noInput) (any, error) {
				return h.Users(ctx)
			}),
		},
		toolbox.Tool{
			Name:        "libraries",
			Description: "Media folders and channels.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			Handler: toolbox.JSON(func(ctx context.Context, _ noInput) (any, error) {
				return h.Libraries(ctx)
			}),
		},
		toolbox.Tool{
			Name:        "latest_items",
			Description: "Most recently added items of a type, optionally within one library.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"library_id":{"type":"string"},"user_id":{"type":"string"},"item_type":{"type":"string","description":"e.g. Movie, Episode, Audio"}},"required":["item_type"]}`),
			Handler: toolbox.JSON(func(ctx context.Context, in latestInput) (any, error) {
				if in.ItemType == "" {
					return nil, errors.New("item_type is required")
				}
				key := LibraryConfig{LibraryID: in.LibraryID, UserID: in.UserID, ItemType: in.ItemType}.Key()
				user := key.UserID
				if user == models.Wildcard {
					user = ""
				}
				res, err := h.UserItems(ctx, user, librarycache.Query(key))
				if err != nil {
					return nil, err
				}
				return res.Items, nil
			}),
		},
	)
	return tb
}

func (h *Hub) controlTools() *toolbox.ToolBox {
	tb := toolbox.New()
	tb.Register(
		toolbox.Tool{
			Name:        "play",
			Description: "Start playing items on a session.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"session_id":{"type":"string"},"item_ids":{"type":"array","items":{"type":"string"}},"command":{"type":"string","enum":["PlayNow","PlayNext","PlayLast"]}},"required":["session_id","item_ids"]}`),
			Handler: toolbox.JSON(func(ctx context.Context, in playInput) (any, error) {
				if in.SessionID == "" || len(in.ItemIDs) == 0 {
					return nil, errors.New("session_id and item_ids are required")
				}
				cmd := in.Command
				if cmd == "" {
					cmd = "PlayNow"
				}
				q := url.Values{}
				for _, id := range in.ItemIDs {
					q.Add("ItemIds", id)
				}
				q.Set("PlayCommand", cmd)
				return "ok", h.Play(ctx, in.SessionID, q)
			}),
		},
		toolbox.Tool{
			Name:        "play_command",
			Description: "Send a transport command (Pause, Unpause, PlayPause, Stop, NextTrack, PreviousTrack, Seek) to a session.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"session_id":{"type":"string"},"command":{"type":"string"},"seek_position_ticks":{"type":"integer"}},"required":["session_id","command"]}`),
			Handler: toolbox.JSON(func(ctx context.Context, in playCommandInput) (any, error) {
				if in.SessionID == "" || in.Command == "" {
					return nil, errors.New("session_id and command are required")
				}
				var q url.Values
				if in.Command == "Seek" {
					q = url.Values{"SeekPositionTicks": {strconv.FormatInt(in.SeekTicks, 10)}}
				}
				return "ok", h.PlayCommand(ctx, in.SessionID, in.Command, q)
			}),
		},
		toolbox.Tool{
			Name:        "command",
			Description: "Send a general command (SetVolume, Mute, Unmute, DisplayMessage, ...) to a session.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"session_id":{"type":"string"},"name":{"type":"string"},"arguments":{"type":"object","additionalProperties":{"type":"string"}}},"required":["session_id","name"]}`),
			Handler: toolbox.JSON(func(ctx context.Context, in commandInput) (any, error) {
				if in.SessionID == "" || in.Name == "" {
					return nil, errors.New("session_id and name are required")
				}
				return "ok", h.Command(ctx, in.SessionID, in.Name, in.Arguments)
			}),
		},
		toolbox.Tool{
			Name:        "stop_session",
			Description: "Stop playback on a session.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"session_id":{"type":"string"}},"required":["session_id"]}`),
			Handler: toolbox.JSON(func(ctx context.Context, in sessionInput) (any, error) {
				if in.SessionID == "" {
					return nil, errors.New("session_id is required")
				}
				return "ok", h.PlayCommand(ctx, in.SessionID, "Stop", nil)
			}),
		},
		toolbox.Tool{
			Name:        "rescan",
			Description: "Start a scan of all libraries on the server.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			Handler: toolbox.JSON(func(ctx context.Context, _ noInput) (any, error) {
				return "ok", h.Rescan(ctx)
			}),
		},
		toolbox.Tool{
			Name:        "refresh_library",
			Description: "Re-query the tracked latest-items lists of one library and notify subscribers.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"library_id":{"type":"string"}},"required":["library_id"]}`),
			Handler: toolbox.JSON(func(ctx context.Context, in libraryInput) (any, error) {
				if in.LibraryID == "" {
					return nil, errors.New("library_id is required")
				}
				return "ok", h.ForceLibraryChange(ctx, in.LibraryID)
			}),
		},
	)
	return tb
}
