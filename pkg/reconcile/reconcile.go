// Package reconcile compares consecutive session snapshots. It is pure: the
// same inputs always give the same Diff, and nothing is retained between
// calls.
package reconcile

import (
	"slices"
	"sort"
	"strings"

	"github.com/germanamz/mediahub/pkg/models"
)

// Change is one session present in both snapshots whose monitored fields
// differ.
type Change struct {
	Old models.Session
	New models.Session
}

// Diff classifies the difference between two snapshots. All slices are
// sorted by session key.
type Diff struct {
	Added   []models.Session
	Removed []models.Session
	Updated []Change

	// Current is the filtered incoming snapshot, to be passed as previous
	// on the next call.
	Current map[models.SessionKey]models.Session
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// Reconcile diffs incoming against previous. Incoming sessions rejected by
// filter are dropped before comparison; when two incoming sessions share a
// key the later one wins.
func Reconcile(previous map[models.SessionKey]models.Session, incoming []models.Session, filter Filter) Diff {
	current := make(map[models.SessionKey]models.Session, len(incoming))
	for _, s := range incoming {
		if filter.Allow(s) {
			current[s.Key()] = s
		}
	}

	d := Diff{Current: current}

	for _, k := range sortedKeys(current) {
		s := current[k]
		old, ok := previous[k]
		switch {
		case !ok:
			d.Added = append(d.Added, s)
		case !MonitoredEqual(old, s):
			d.Updated = append(d.Updated, Change{Old: old, New: s})
		}
	}

	for _, k := range sortedKeys(previous) {
		if _, ok := current[k]; !ok {
			d.Removed = append(d.Removed, previous[k])
		}
	}

	return d
}

// Sorted returns the sessions of a snapshot ordered by key.
func Sorted(snapshot map[models.SessionKey]models.Session) []models.Session {
	out := make([]models.Session, 0, len(snapshot))
	for _, k := range sortedKeys(snapshot) {
		out = append(out, snapshot[k])
	}
	return out
}

func sortedKeys(m map[models.SessionKey]models.Session) []models.SessionKey {
	keys := make([]models.SessionKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// MonitoredEqual compares only the fields whose change is worth reporting.
// Everything else, such as media stream details or image tags, is ignored.
func MonitoredEqual(a, b models.Session) bool {
	if a.ID != b.ID ||
		a.LastActivityDate != b.LastActivityDate ||
		a.UserID != b.UserID ||
		a.UserName != b.UserName ||
		a.Client != b.Client ||
		a.DeviceName != b.DeviceName ||
		a.DeviceID != b.DeviceID ||
		a.ApplicationVersion != b.ApplicationVersion ||
		a.RemoteEndPoint != b.RemoteEndPoint ||
		a.SupportsRemoteControl != b.SupportsRemoteControl ||
		a.AppIconURL != b.AppIconURL ||
		a.PlaylistIndex != b.PlaylistIndex ||
		a.PlaylistLength != b.PlaylistLength ||
		!slices.Equal(a.SupportedCommands, b.SupportedCommands) {
		return false
	}

	if (a.PlayState == nil) != (b.PlayState == nil) {
		return false
	}
	if a.PlayState != nil {
		pa, pb := a.PlayState, b.PlayState
		if pa.CanSeek != pb.CanSeek ||
			pa.IsPaused != pb.IsPaused ||
			pa.IsMuted != pb.IsMuted ||
			pa.PositionTicks != pb.PositionTicks ||
			pa.VolumeLevel != pb.VolumeLevel ||
			pa.RepeatMode != pb.RepeatMode {
			return false
		}
	}

	if (a.NowPlayingItem == nil) != (b.NowPlayingItem == nil) {
		return false
	}
	if a.NowPlayingItem != nil && a.NowPlayingItem.ID != b.NowPlayingItem.ID {
		return false
	}

	return true
}

// Filter decides which sessions are visible to consumers. The connector's
// own sessions are always hidden.
type Filter struct {
	DeviceID   string
	ClientName string

	IgnoreWeb    bool
	IgnoreDLNA   bool
	IgnoreMobile bool
	IgnoreApp    bool
}

// Known client names that the substring heuristics on models.Session miss.
var (
	webClients    = []string{"emby web", "jellyfin web"}
	mobileClients = []string{"emby for android", "emby for ios", "jellyfin android", "jellyfin ios", "finamp", "swiftfin", "findroid"}
	appClients    = []string{"emby theater", "emby for windows", "emby for macos", "emby for linux", "jellyfin media player", "jellyfin desktop", "jellyfin mpv shim", "kodi", "jellycon"}
)

// Allow reports whether s passes the filter.
func (f Filter) Allow(s models.Session) bool {
	if f.DeviceID != "" && s.DeviceID == f.DeviceID {
		return false
	}
	if f.ClientName != "" && s.Client == f.ClientName {
		return false
	}

	client := strings.ToLower(s.Client)
	switch {
	case f.IgnoreWeb && (s.IsWeb() || slices.Contains(webClients, client)):
		return false
	case f.IgnoreDLNA && s.IsDLNA():
		return false
	case f.IgnoreMobile && (s.IsMobile() || slices.Contains(mobileClients, client)):
		return false
	case f.IgnoreApp && slices.Contains(appClients, client):
		return false
	}
	return true
}
