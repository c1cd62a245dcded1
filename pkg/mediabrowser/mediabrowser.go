// Package mediabrowser is the typed REST surface of an Emby or Jellyfin
// server. Each method is one server operation; authentication and error
// mapping happen in the rest.Invoker underneath.
package mediabrowser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/germanamz/mediahub/pkg/models"
)

// Server paths.
const (
	PathPing           = "/System/Ping"
	PathInfo           = "/System/Info"
	PathRestart        = "/System/Restart"
	PathShutdown       = "/System/Shutdown"
	PathActivityLog    = "/System/ActivityLog/Entries"
	PathSessions       = "/Sessions"
	PathItems          = "/Items"
	PathUsers          = "/Users"
	PathAuthenticate   = "/Users/AuthenticateByName"
	PathAuthKeys       = "/Auth/Keys"
	PathMediaFolders   = "/Library/MediaFolders"
	PathChannels       = "/Channels"
	PathLibraryRefresh = "/Library/Refresh"
)

// Invoker is the transport the client needs. *rest.Invoker implements it.
type Invoker interface {
	GetJSON(ctx context.Context, path string, query url.Values, dest any) error
	GetText(ctx context.Context, path string, query url.Values) (string, error)
	GetRaw(ctx context.Context, path string, query url.Values) ([]byte, error)
	PostJSON(ctx context.Context, path string, query url.Values, payload, dest any) error
	PostText(ctx context.Context, path string, query url.Values, payload any) (string, error)
}

// Client issues typed calls against one server.
type Client struct {
	inv Invoker
}

// New returns a client on top of inv.
func New(inv Invoker) *Client {
	return &Client{inv: inv}
}

// Ping returns the server's ping body, which names the server flavour.
func (c *Client) Ping(ctx context.Context) (string, error) {
	return c.inv.GetText(ctx, PathPing, nil)
}

// Info returns the server identity.
func (c *Client) Info(ctx context.Context) (models.ServerIdentity, error) {
	var info models.ServerIdentity
	err := c.inv.GetJSON(ctx, PathInfo, nil, &info)
	return info, err
}

// Sessions lists the server's active sessions.
func (c *Client) Sessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	if err := c.inv.GetJSON(ctx, PathSessions, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Items runs a server-wide item query.
func (c *Client) Items(ctx context.Context, query url.Values) (models.LibraryResult, error) {
	return c.itemQuery(ctx, PathItems, query)
}

// UserItems runs an item query as userID.
func (c *Client) UserItems(ctx context.Context, userID string, query url.Values) (models.LibraryResult, error) {
	return c.itemQuery(ctx, PathUsers+"/"+url.PathEscape(userID)+PathItems, query)
}

func (c *Client) itemQuery(ctx context.Context, path string, query url.Values) (models.LibraryResult, error) {
	raw, err := c.inv.GetRaw(ctx, path, query)
	if err != nil {
		return models.LibraryResult{}, err
	}

	var res models.LibraryResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return models.LibraryResult{}, fmt.Errorf("mediabrowser: %s: decode response: %w", path, err)
	}
	res.Raw = raw

	return res, nil
}

// Users lists the server accounts visible to the current token.
func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := c.inv.GetJSON(ctx, PathUsers, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Libraries returns the visible media folders followed by the channels.
func (c *Client) Libraries(ctx context.Context) ([]models.Item, error) {
	var folders models.LibraryResult
	if err := c.inv.GetJSON(ctx, PathMediaFolders, url.Values{"IsHidden": {"false"}}, &folders); err != nil {
		return nil, err
	}

	var channels models.LibraryResult
	if err := c.inv.GetJSON(ctx, PathChannels, nil, &channels); err != nil {
		return nil, err
	}

	return append(folders.Items, channels.Items...), nil
}

// PlaybackInfo asks the server how userID may play itemID. The reply is
// returned undecoded.
func (c *Client) PlaybackInfo(ctx context.Context, itemID, userID string) (json.RawMessage, error) {
	payload := map[string]any{
		"UserId":             userID,
		"AutoOpenLiveStream": true,
		"IsPlayback":         true,
	}

	var out json.RawMessage
	err := c.inv.PostJSON(ctx, PathItems+"/"+url.PathEscape(itemID)+"/PlaybackInfo", nil, payload, &out)
	return out, err
}

// Play starts playback on a session. Typical query keys are ItemIds and
// PlayCommand.
func (c *Client) Play(ctx context.Context, sessionID string, query url.Values) error {
	_, err := c.inv.PostText(ctx, sessionPath(sessionID)+"/Playing", query, nil)
	return err
}

// PlayCommand sends a transport command such as Pause, Unpause, Stop,
// NextTrack or Seek to a session.
func (c *Client) PlayCommand(ctx context.Context, sessionID, command string, query url.Values) error {
	_, err := c.inv.PostText(ctx, sessionPath(sessionID)+"/Playing/"+url.PathEscape(command), query, nil)
	return err
}

// Command sends a general command such as SetVolume or Mute to a session.
func (c *Client) Command(ctx context.Context, sessionID, name string, args map[string]string) error {
	payload := map[string]any{"Name": name, "Arguments": args}
	_, err := c.inv.PostText(ctx, sessionPath(sessionID)+"/Command", nil, payload)
	return err
}

func sessionPath(id string) string {
	return PathSessions + "/" + url.PathEscape(id)
}

// Restart restarts the server.
func (c *Client) Restart(ctx context.Context) error {
	_, err := c.inv.PostText(ctx, PathRestart, nil, nil)
	return err
}

// Shutdown stops the server.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.inv.PostText(ctx, PathShutdown, nil, nil)
	return err
}

// LibraryRefresh starts a scan of every library.
func (c *Client) LibraryRefresh(ctx context.Context) error {
	_, err := c.inv.PostText(ctx, PathLibraryRefresh, nil, nil)
	return err
}

// AuthenticateByName logs in with a username and password.
func (c *Client) AuthenticateByName(ctx context.Context, username, password string) (models.AuthResult, error) {
	var res models.AuthResult
	err := c.inv.PostJSON(ctx, PathAuthenticate, nil, map[string]string{"Username": username, "Pw": password}, &res)
	return res, err
}

// AuthKeys lists API keys. It succeeds only for administrator tokens and is
// used to validate a token.
func (c *Client) AuthKeys(ctx context.Context) error {
	_, err := c.inv.GetRaw(ctx, PathAuthKeys, nil)
	return err
}

// ActivityLogEntries queries the server activity log.
func (c *Client) ActivityLogEntries(ctx context.Context, query url.Values) (models.ActivityLogResult, error) {
	var res models.ActivityLogResult
	err := c.inv.GetJSON(ctx, PathActivityLog, query, &res)
	return res, err
}
