package hub

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/mediahub/pkg/apierr"
	"github.com/germanamz/mediahub/pkg/dispatch"
	"github.com/germanamz/mediahub/pkg/message"
	"github.com/germanamz/mediahub/pkg/models"
	"github.com/germanamz/mediahub/pkg/pushlink"
)

const ownDevice = "hub-device"

func testConfig(f *fakeServer) Config {
	return Config{
		Server: ServerConfig{URL: f.URL, Username: "alice", Password: "secret"},
		Client: ClientConfig{Name: "mediahub-test", DeviceID: ownDevice},
	}
}

func newTestHub(t *testing.T, cfg Config) *Hub {
	t.Helper()

	h, err := New(cfg, Options{})
	require.NoError(t, err)
	h.link.SetSleepFunc(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })
	t.Cleanup(h.Stop)

	return h
}

func session(device string, paused bool) models.Session {
	return models.Session{
		ID:       "id-" + device,
		Client:   "Emby Theater",
		DeviceID: device,
		UserName: "alice",
		PlayState: &models.PlayState{
			IsPaused: paused,
		},
		NowPlayingItem: &models.NowPlayingItem{Item: models.Item{ID: "movie-1", Name: "Big Buck Bunny"}},
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{}, Options{})
	assert.ErrorContains(t, err, "server url is required")
}

func TestHub_ConnectsAndPublishesSessions(t *testing.T) {
	f := newFakeServer(t)
	f.setSessions(session("s1", false), session(ownDevice, false))

	reg := prometheus.NewRegistry()
	h, err := New(testConfig(f), Options{Registerer: reg})
	require.NoError(t, err)
	t.Cleanup(h.Stop)

	avail := make(chan bool, 4)
	snapshots := make(chan []models.Session, 4)
	changes := make(chan SessionChange, 4)
	h.OnAvailabilityChanged(func(_ context.Context, v bool) error { avail <- v; return nil })
	h.OnSessionsChanged(func(_ context.Context, s []models.Session) error { snapshots <- s; return nil })
	h.OnSessionChanged(func(_ context.Context, c SessionChange) error { changes <- c; return nil })

	require.NoError(t, h.Start(context.Background()))
	assert.ErrorIs(t, h.Start(context.Background()), ErrStarted)

	conn := f.nextConn(t)

	// The connector's own session is never visible.
	snap := recv(t, snapshots)
	require.Len(t, snap, 1)
	assert.Equal(t, "s1", snap[0].DeviceID)

	added := recv(t, changes)
	assert.Nil(t, added.Old)
	require.NotNil(t, added.New)
	assert.Equal(t, "s1", added.New.DeviceID)

	assert.True(t, recv(t, avail))
	assert.True(t, h.Available())
	assert.Equal(t, pushlink.Connected, h.State())

	id := h.Identity()
	assert.Equal(t, "srv1", id.ID)
	assert.Equal(t, "Test Server", id.ServerName)
	assert.Equal(t, "emby", id.Dialect)

	// s1 pauses.
	push(t, conn, message.TypeSessions, []models.Session{session("s1", true), session(ownDevice, true)})

	recv(t, snapshots)
	updated := recv(t, changes)
	require.NotNil(t, updated.Old)
	require.NotNil(t, updated.New)
	assert.False(t, updated.Old.PlayState.IsPaused)
	assert.True(t, updated.New.PlayState.IsPaused)

	// Same state again: a snapshot but no change.
	push(t, conn, message.TypeSessions, []models.Session{session("s1", true)})
	recv(t, snapshots)
	quiet(t, changes)

	n, err := testutil.GatherAndCount(reg, "mediahub_push_frames_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h.Stop()
	assert.False(t, recv(t, avail))
	assert.NoError(t, h.Err())
}

func TestHub_LibraryChanged(t *testing.T) {
	f := newFakeServer(t)
	f.setItems("lib1", models.Item{ID: "m1", Name: "First"})

	h := newTestHub(t, testConfig(f))

	key := models.LibraryKey{LibraryID: "lib1", UserID: models.Wildcard, ItemType: "Movie"}
	other := models.LibraryKey{LibraryID: "lib2", UserID: models.Wildcard, ItemType: "Movie"}

	results := make(chan models.LibraryResult, 4)
	otherResults := make(chan models.LibraryResult, 4)
	messages := make(chan map[string]any, 4)
	h.OnLibraryChanged(key, func(_ context.Context, r models.LibraryResult) error { results <- r; return nil })
	h.OnLibraryChanged(other, func(_ context.Context, r models.LibraryResult) error { otherResults <- r; return nil })
	h.OnMessage(func(_ context.Context, typ string, data map[string]any) error {
		if typ == MessageLibraryChanged {
			messages <- data
		}
		return nil
	})

	require.NoError(t, h.Start(context.Background()))
	conn := f.nextConn(t)

	push(t, conn, message.TypeLibraryChanged, map[string]any{"CollectionFolders": []string{"lib1"}})

	res := recv(t, results)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "m1", res.Items[0].ID)
	quiet(t, otherResults)

	msg := recv(t, messages)
	assert.Equal(t, "srv1", msg["server_id"])
	assert.Contains(t, msg, MessageLibraryChanged)

	cached, ok := h.Library(key)
	require.True(t, ok)
	assert.Equal(t, "First", cached.Items[0].Name)

	// Unchanged results are not republished.
	push(t, conn, message.TypeLibraryChanged, map[string]any{"CollectionFolders": []string{"lib1"}})
	recv(t, messages)
	quiet(t, results)

	// A forced refresh always is.
	require.NoError(t, h.ForceLibraryChange(context.Background(), "lib1"))
	recv(t, results)
}

func TestHub_LibraryRefreshFailureLoggedOnce(t *testing.T) {
	f := newFakeServer(t)

	var logs bytes.Buffer
	h, err := New(testConfig(f), Options{Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	require.NoError(t, err)
	t.Cleanup(h.Stop)

	// No such user on the server: the refresh query fails with 404.
	key := models.LibraryKey{LibraryID: "lib1", UserID: "u9", ItemType: "Movie"}
	h.OnLibraryChanged(key, func(context.Context, models.LibraryResult) error { return nil })

	err = h.ForceLibraryChange(context.Background(), "lib1")
	require.ErrorIs(t, err, apierr.ErrNotFound)
	assert.Equal(t, 1, strings.Count(logs.String(), "library refresh incomplete"))
}

func TestHub_UnsubscribeReleasesLibrary(t *testing.T) {
	f := newFakeServer(t)
	h := newTestHub(t, testConfig(f))

	key := models.LibraryKey{LibraryID: "lib1", UserID: models.Wildcard, ItemType: "Movie"}
	sub := h.OnLibraryChanged(key, func(context.Context, models.LibraryResult) error { return nil })
	assert.Equal(t, []models.LibraryKey{key}, h.cache.Keys())

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	assert.Empty(t, h.cache.Keys())
}

func TestHub_ConfiguredLibrariesAreTracked(t *testing.T) {
	f := newFakeServer(t)
	cfg := testConfig(f)
	cfg.Libraries = []LibraryConfig{{LibraryID: "lib1", ItemType: "Movie"}}

	h := newTestHub(t, cfg)
	assert.Equal(t, []models.LibraryKey{{LibraryID: "lib1", UserID: models.Wildcard, ItemType: "Movie"}}, h.cache.Keys())
}

func TestHub_ServerMismatchIsFatal(t *testing.T) {
	f := newFakeServer(t)
	cfg := testConfig(f)
	cfg.Server.ServerID = "some-other-server"

	h := newTestHub(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.Run(ctx)
	assert.ErrorIs(t, err, apierr.ErrServerMismatch)
	assert.True(t, apierr.IsFatal(err))
	assert.Equal(t, pushlink.Disconnected, h.State())
}

func TestHub_BadCredentialsAreFatal(t *testing.T) {
	f := newFakeServer(t)
	cfg := testConfig(f)
	cfg.Server.Password = "wrong"

	h := newTestHub(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.Run(ctx)
	assert.ErrorIs(t, err, apierr.ErrUnauthorized)
	assert.True(t, apierr.IsFatal(err))
}

func TestHub_StopBeforeStart(t *testing.T) {
	f := newFakeServer(t)
	h := newTestHub(t, testConfig(f))

	h.Stop()
	assert.NotPanics(t, h.Stop)
}

func TestHub_StopFromSubscriber(t *testing.T) {
	f := newFakeServer(t)
	h := newTestHub(t, testConfig(f))

	stopped := make(chan struct{})
	h.OnAvailabilityChanged(func(_ context.Context, v bool) error {
		if v {
			h.Stop()
			close(stopped)
		}
		return nil
	})

	require.NoError(t, h.Start(context.Background()))
	f.nextConn(t)

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop called from a subscriber did not return")
	}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("push link still running after Stop")
	}
	select {
	case <-h.Drained():
	case <-time.After(time.Second):
		t.Fatal("events not drained after Stop")
	}
	assert.False(t, h.Available())
	assert.NoError(t, h.Err())
}

func TestHub_VerifyWithoutPushChannel(t *testing.T) {
	f := newFakeServer(t)
	h := newTestHub(t, testConfig(f))

	id, err := h.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "srv1", id.ID)
	assert.Equal(t, "emby", id.Dialect)
	assert.Equal(t, id, h.Identity())
	assert.False(t, h.Available())
}

func TestHub_QueryRetriesOnceAfterUnauthorized(t *testing.T) {
	f := newFakeServer(t)
	h := newTestHub(t, testConfig(f))
	ctx := context.Background()

	_, err := h.Users(ctx)
	require.NoError(t, err)

	f.mu.Lock()
	f.rejectUsers = 1
	f.mu.Unlock()

	users, err := h.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Name)

	f.mu.Lock()
	assert.Equal(t, 2, f.authCalls)
	f.rejectUsers = 2
	f.mu.Unlock()

	_, err = h.Users(ctx)
	assert.ErrorIs(t, err, apierr.ErrUnauthorized)
	assert.True(t, apierr.IsFatal(err))
}

func TestHub_LibraryRefreshReauthenticatesAfterTokenRotation(t *testing.T) {
	f := newFakeServer(t)
	f.setItems("lib1", models.Item{ID: "m1", Name: "First"})
	h := newTestHub(t, testConfig(f))

	key := models.LibraryKey{LibraryID: "lib1", UserID: models.Wildcard, ItemType: "Movie"}
	results := make(chan models.LibraryResult, 4)
	h.OnLibraryChanged(key, func(_ context.Context, r models.LibraryResult) error { results <- r; return nil })

	require.NoError(t, h.Start(context.Background()))
	conn := f.nextConn(t)

	f.rotateToken("tok2")
	push(t, conn, message.TypeLibraryChanged, map[string]any{"CollectionFolders": []string{"lib1"}})

	res := recv(t, results)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "m1", res.Items[0].ID)

	f.mu.Lock()
	assert.Equal(t, 2, f.authCalls)
	f.mu.Unlock()
}

func TestHub_LastSessionsUsesSnapshotWhenUnavailable(t *testing.T) {
	f := newFakeServer(t)
	f.setSessions(session("live", false))
	h := newTestHub(t, testConfig(f))

	h.frameMu.Lock()
	h.applySessions([]models.Session{session("b", false), session("a", true), session(ownDevice, false)})
	h.frameMu.Unlock()

	got := h.LastSessions(context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].DeviceID)
	assert.Equal(t, "b", got[1].DeviceID)

	live, err := h.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "live", live[0].DeviceID)
}

func TestHub_ActivityLogFollower(t *testing.T) {
	f := newFakeServer(t)
	cfg := testConfig(f)
	cfg.Events.ActivityLog = true
	h := newTestHub(t, cfg)
	ctx := context.Background()

	entries := make(chan models.ActivityLogEntry, 8)
	h.OnMessage(func(_ context.Context, typ string, data map[string]any) error {
		if typ == MessageActivityLogEntry {
			entries <- data[MessageActivityLogEntry].(models.ActivityLogEntry)
		}
		return nil
	})

	f.mu.Lock()
	f.activity = []models.ActivityLogEntry{{ID: 3, Name: "third", Date: "2024-01-01T10:00:03Z"}}
	f.mu.Unlock()

	h.HandleMessage(ctx, message.ActivityLogEntry{})
	assert.Equal(t, int64(3), recv(t, entries).ID)

	// The server returns the boundary entry again, out of order.
	f.mu.Lock()
	f.activity = []models.ActivityLogEntry{
		{ID: 5, Name: "fifth", Date: "2024-01-01T10:00:05Z"},
		{ID: 3, Name: "third", Date: "2024-01-01T10:00:03Z"},
		{ID: 4, Name: "fourth", Date: "2024-01-01T10:00:04Z"},
	}
	f.mu.Unlock()

	h.HandleMessage(ctx, message.ActivityLogEntry{})
	assert.Equal(t, int64(4), recv(t, entries).ID)
	assert.Equal(t, int64(5), recv(t, entries).ID)
	quiet(t, entries)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.activityQuery, 2)
	assert.Equal(t, "1", f.activityQuery[0].Get("Limit"))
	assert.Equal(t, "2024-01-01T10:00:03Z", f.activityQuery[1].Get("MinDate"))
}

func TestHub_PassthroughToggles(t *testing.T) {
	f := newFakeServer(t)
	cfg := testConfig(f)
	cfg.Events.Other = true
	h := newTestHub(t, cfg)
	ctx := context.Background()

	types := make(chan string, 8)
	h.OnMessage(func(_ context.Context, typ string, _ map[string]any) error {
		types <- typ
		return nil
	})

	h.HandleMessage(ctx, message.ScheduledTaskInfo{})
	h.HandleMessage(ctx, message.ActivityLogEntry{})
	h.HandleMessage(ctx, message.UserDataChanged{UserID: "u1"})
	h.HandleMessage(ctx, message.Unknown{MessageType: "RefreshProgress"})

	assert.Equal(t, MessageUserDataChanged, recv(t, types))
	assert.Equal(t, "refresh_progress", recv(t, types))
	quiet(t, types)
}

func TestHub_SessionChangedMessages(t *testing.T) {
	f := newFakeServer(t)
	cfg := testConfig(f)
	cfg.Events.Sessions = true
	h := newTestHub(t, cfg)

	got := make(chan SessionChange, 4)
	h.OnMessage(func(_ context.Context, typ string, data map[string]any) error {
		if typ == MessageSessionChanged {
			got <- data[MessageSessionChanged].(SessionChange)
		}
		return nil
	})

	h.HandleMessage(context.Background(), message.Sessions{Sessions: []models.Session{session("s1", false)}})
	h.HandleMessage(context.Background(), message.Sessions{})

	added := recv(t, got)
	assert.Nil(t, added.Old)
	removed := recv(t, got)
	assert.Nil(t, removed.New)
	assert.Equal(t, "s1", removed.Old.DeviceID)
}

func TestHub_SubscriberFailureIsIsolated(t *testing.T) {
	f := newFakeServer(t)
	h := newTestHub(t, testConfig(f))

	h.Subscribe(dispatch.All(), func(context.Context, dispatch.Event) error { panic("bad subscriber") })
	snapshots := make(chan []models.Session, 1)
	h.OnSessionsChanged(func(_ context.Context, s []models.Session) error { snapshots <- s; return nil })

	h.HandleMessage(context.Background(), message.Sessions{Sessions: []models.Session{session("s1", false)}})
	assert.Len(t, recv(t, snapshots), 1)
}
