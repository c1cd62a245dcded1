package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/mediahub/pkg/models"
)

func sess(id, device, client string) models.Session {
	return models.Session{ID: id, DeviceID: device, Client: client}
}

func snapshot(sessions ...models.Session) map[models.SessionKey]models.Session {
	m := make(map[models.SessionKey]models.Session, len(sessions))
	for _, s := range sessions {
		m[s.Key()] = s
	}
	return m
}

func ids(sessions []models.Session) []string {
	out := make([]string, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.ID)
	}
	return out
}

func TestReconcile_PausedScenario(t *testing.T) {
	prev := snapshot(sess("s1", "d1", "c1"))

	next := sess("s1", "d1", "c1")
	next.PlayState = &models.PlayState{IsPaused: true}

	d := Reconcile(prev, []models.Session{next}, Filter{})

	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
	require.Len(t, d.Updated, 1)
	assert.Equal(t, "s1", d.Updated[0].New.ID)
	assert.Nil(t, d.Updated[0].Old.PlayState)
	assert.True(t, d.Updated[0].New.PlayState.IsPaused)
}

func TestReconcile_Partitions(t *testing.T) {
	a := sess("a", "da", "c")
	b := sess("b", "db", "c")
	c := sess("c", "dc", "c")
	bChanged := b
	bChanged.UserName = "alice"

	prev := snapshot(a, b)
	d := Reconcile(prev, []models.Session{bChanged, c}, Filter{})

	assert.Equal(t, []string{"c"}, ids(d.Added))
	assert.Equal(t, []string{"a"}, ids(d.Removed))
	require.Len(t, d.Updated, 1)
	assert.Equal(t, "alice", d.Updated[0].New.UserName)
	assert.Len(t, d.Current, 2)
}

func TestReconcile_Idempotent(t *testing.T) {
	list := []models.Session{sess("a", "da", "c"), sess("b", "db", "c")}
	list[0].PlayState = &models.PlayState{PositionTicks: 100}
	list[1].NowPlayingItem = &models.NowPlayingItem{Item: models.Item{ID: "i1"}}

	first := Reconcile(nil, list, Filter{})
	require.Len(t, first.Added, 2)

	again := Reconcile(first.Current, list, Filter{})
	assert.True(t, again.Empty())

	// Same inputs, same output.
	assert.Equal(t, Reconcile(nil, list, Filter{}), first)
}

func TestReconcile_SortedByKey(t *testing.T) {
	d := Reconcile(nil, []models.Session{sess("3", "z", "c"), sess("1", "a", "c"), sess("2", "m", "c")}, Filter{})
	assert.Equal(t, []string{"1", "2", "3"}, ids(d.Added))
}

func TestReconcile_DuplicateKeyLastWins(t *testing.T) {
	d := Reconcile(nil, []models.Session{sess("old", "d", "c"), sess("new", "d", "c")}, Filter{})
	assert.Equal(t, []string{"new"}, ids(d.Added))
}

func TestMonitoredEqual_IgnoresUnmonitoredFields(t *testing.T) {
	a := sess("s", "d", "c")
	a.PlayState = &models.PlayState{PlayMethod: "DirectPlay", MediaSourceID: "m1"}
	a.NowPlayingItem = &models.NowPlayingItem{Item: models.Item{ID: "i", Name: "Old Title"}}

	b := a
	b.PlayState = &models.PlayState{PlayMethod: "Transcode", MediaSourceID: "m2"}
	b.NowPlayingItem = &models.NowPlayingItem{Item: models.Item{ID: "i", Name: "New Title", RunTimeTicks: 5}}
	b.IsActive = true
	b.SupportsMediaControl = true
	b.PlayableMediaTypes = []string{"Audio"}

	assert.True(t, MonitoredEqual(a, b))

	d := Reconcile(snapshot(a), []models.Session{b}, Filter{})
	assert.True(t, d.Empty())
}

func TestMonitoredEqual_MonitoredFields(t *testing.T) {
	base := sess("s", "d", "c")
	base.PlayState = &models.PlayState{}
	base.NowPlayingItem = &models.NowPlayingItem{Item: models.Item{ID: "i"}}

	mutations := map[string]func(*models.Session){
		"last activity":  func(s *models.Session) { s.LastActivityDate = "now" },
		"user id":        func(s *models.Session) { s.UserID = "u" },
		"device name":    func(s *models.Session) { s.DeviceName = "tv" },
		"app version":    func(s *models.Session) { s.ApplicationVersion = "2" },
		"remote":         func(s *models.Session) { s.RemoteEndPoint = "1.2.3.4" },
		"remote control": func(s *models.Session) { s.SupportsRemoteControl = true },
		"icon":           func(s *models.Session) { s.AppIconURL = "x" },
		"commands":       func(s *models.Session) { s.SupportedCommands = []string{"Mute"} },
		"playlist index": func(s *models.Session) { s.PlaylistIndex = 2 },
		"playlist len":   func(s *models.Session) { s.PlaylistLength = 9 },
		"can seek":       func(s *models.Session) { s.PlayState = &models.PlayState{CanSeek: true} },
		"muted":          func(s *models.Session) { s.PlayState = &models.PlayState{IsMuted: true} },
		"position":       func(s *models.Session) { s.PlayState = &models.PlayState{PositionTicks: 1} },
		"volume":         func(s *models.Session) { s.PlayState = &models.PlayState{VolumeLevel: 50} },
		"repeat":         func(s *models.Session) { s.PlayState = &models.PlayState{RepeatMode: "RepeatAll"} },
		"no play state":  func(s *models.Session) { s.PlayState = nil },
		"item id":        func(s *models.Session) { s.NowPlayingItem = &models.NowPlayingItem{Item: models.Item{ID: "j"}} },
		"stopped":        func(s *models.Session) { s.NowPlayingItem = nil },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			other := base
			mutate(&other)
			assert.False(t, MonitoredEqual(base, other))
		})
	}
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		client string
		device string
		want   bool
	}{
		{"own device", Filter{DeviceID: "me"}, "Kodi", "me", false},
		{"own client", Filter{ClientName: "Hub"}, "Hub", "x", false},
		{"other", Filter{DeviceID: "me", ClientName: "Hub"}, "Kodi", "x", true},
		{"web kept", Filter{}, "Emby Web", "x", true},
		{"web ignored", Filter{IgnoreWeb: true}, "Jellyfin Web", "x", false},
		{"dlna ignored", Filter{IgnoreDLNA: true}, "DLNA", "x", false},
		{"mobile ignored", Filter{IgnoreMobile: true}, "Emby for Android", "x", false},
		{"mobile by name", Filter{IgnoreMobile: true}, "Finamp", "x", false},
		{"app ignored", Filter{IgnoreApp: true}, "Jellyfin Media Player", "x", false},
		{"app flag spares web", Filter{IgnoreApp: true}, "Emby Web", "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Allow(models.Session{Client: tt.client, DeviceID: tt.device}))
		})
	}
}

func TestReconcile_FilterHidesOwnSession(t *testing.T) {
	d := Reconcile(nil, []models.Session{sess("mine", "me", "Hub"), sess("tv", "tv", "Kodi")}, Filter{DeviceID: "me"})

	assert.Equal(t, []string{"tv"}, ids(d.Added))
	assert.NotContains(t, d.Current, models.SessionKey{DeviceID: "me", Client: "Hub"})
}

func TestSorted(t *testing.T) {
	got := Sorted(snapshot(sess("b", "2", "c"), sess("a", "1", "c")))
	assert.Equal(t, []string{"a", "b"}, ids(got))
}
