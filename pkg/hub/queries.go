package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"

	"github.com/germanamz/mediahub/pkg/apierr"
	"github.com/germanamz/mediahub/pkg/models"
	"github.com/germanamz/mediahub/pkg/reconcile"
)

// withAuth runs call with a validated token. A 401 triggers one fresh login
// and one retry; a 401 on the retry is fatal.
func withAuth[T any](ctx context.Context, h *Hub, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := h.auth.Ensure(ctx); err != nil {
		return zero, err
	}

	v, err := call(ctx)
	if !errors.Is(err, apierr.ErrUnauthorized) {
		return v, err
	}

	h.logger.Warn("request rejected, re-authenticating", "err", err)
	if err := h.auth.Reauthenticate(ctx); err != nil {
		return zero, err
	}

	v, err = call(ctx)
	if errors.Is(err, apierr.ErrUnauthorized) {
		return v, apierr.Fatal(err)
	}
	return v, err
}

// do is withAuth for calls without a result.
func (h *Hub) do(ctx context.Context, call func(ctx context.Context) error) error {
	_, err := withAuth(ctx, h, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, call(ctx)
	})
	return err
}

// Sessions fetches the live session list, without the connector's own
// sessions or ignored player classes, ordered by session key.
func (h *Hub) Sessions(ctx context.Context) ([]models.Session, error) {
	all, err := withAuth(ctx, h, h.api.Sessions)
	if err != nil {
		return nil, err
	}
	return reconcile.Reconcile(nil, all, h.filter).Added, nil
}

// LastSessions returns the live session list while the server is
// available, and the last pushed snapshot otherwise or when the live
// query fails.
func (h *Hub) LastSessions(ctx context.Context) []models.Session {
	if h.Available() {
		sessions, err := h.Sessions(ctx)
		if err == nil {
			return sessions
		}
		h.logger.Debug("live sessions failed, using snapshot", "err", err)
	}

	h.frameMu.Lock()
	defer h.frameMu.Unlock()

	return reconcile.Sorted(h.sessions)
}

// Items runs a server-wide item query.
func (h *Hub) Items(ctx context.Context, query url.Values) (models.LibraryResult, error) {
	return withAuth(ctx, h, func(ctx context.Context) (models.LibraryResult, error) {
		return h.api.Items(ctx, query)
	})
}

// UserItems runs an item query as userID. An empty userID means the query
// user. It is also the library cache's fetcher, so refreshes re-authenticate
// like any other query.
func (h *Hub) UserItems(ctx context.Context, userID string, query url.Values) (models.LibraryResult, error) {
	return withAuth(ctx, h, func(ctx context.Context) (models.LibraryResult, error) {
		return h.api.UserItems(ctx, h.userOrQueryUser(userID), query)
	})
}

// userOrQueryUser resolves after login, when the query user is known.
func (h *Hub) userOrQueryUser(userID string) string {
	if userID != "" {
		return userID
	}
	return h.creds.QueryUser()
}

// Users lists server accounts.
func (h *Hub) Users(ctx context.Context) ([]models.User, error) {
	return withAuth(ctx, h, h.api.Users)
}

// Libraries lists media folders and channels.
func (h *Hub) Libraries(ctx context.Context) ([]models.Item, error) {
	return withAuth(ctx, h, h.api.Libraries)
}

// PlaybackInfo returns the server's playback info for an item. An empty
// userID means the query user.
func (h *Hub) PlaybackInfo(ctx context.Context, itemID, userID string) (json.RawMessage, error) {
	return withAuth(ctx, h, func(ctx context.Context) (json.RawMessage, error) {
		return h.api.PlaybackInfo(ctx, itemID, h.userOrQueryUser(userID))
	})
}

// Play asks a session to play items, e.g. ItemIds and PlayCommand.
func (h *Hub) Play(ctx context.Context, sessionID string, query url.Values) error {
	return h.do(ctx, func(ctx context.Context) error {
		return h.api.Play(ctx, sessionID, query)
	})
}

// PlayCommand sends a transport command such as Pause or Seek.
func (h *Hub) PlayCommand(ctx context.Context, sessionID, command string, query url.Values) error {
	return h.do(ctx, func(ctx context.Context) error {
		return h.api.PlayCommand(ctx, sessionID, command, query)
	})
}

// Command sends a general command such as SetVolume or DisplayMessage.
func (h *Hub) Command(ctx context.Context, sessionID, name string, args map[string]string) error {
	return h.do(ctx, func(ctx context.Context) error {
		return h.api.Command(ctx, sessionID, name, args)
	})
}

func (h *Hub) Restart(ctx context.Context) error  { return h.do(ctx, h.api.Restart) }
func (h *Hub) Shutdown(ctx context.Context) error { return h.do(ctx, h.api.Shutdown) }

// Rescan starts a library scan on the server.
func (h *Hub) Rescan(ctx context.Context) error { return h.do(ctx, h.api.LibraryRefresh) }

// ForceLibraryChange refreshes every tracked query of one library and
// publishes all of them, changed or not.
func (h *Hub) ForceLibraryChange(ctx context.Context, libraryID string) error {
	h.frameMu.Lock()
	defer h.frameMu.Unlock()

	return h.refreshLibraries(ctx, []string{libraryID}, true)
}

// Library returns the cached result of a tracked query.
func (h *Hub) Library(key models.LibraryKey) (models.LibraryResult, bool) {
	return h.cache.Get(key)
}

// Reauthenticate forces a fresh login.
func (h *Hub) Reauthenticate(ctx context.Context) error {
	return h.auth.Reauthenticate(ctx)
}
