package hub

import (
	"context"
	"net/url"
	"sort"
	"strconv"

	"github.com/germanamz/mediahub/pkg/dispatch"
	"github.com/germanamz/mediahub/pkg/message"
	"github.com/germanamz/mediahub/pkg/models"
	"github.com/germanamz/mediahub/pkg/reconcile"
)

// Passthrough message types.
const (
	MessageLibraryChanged    = "library_changed"
	MessageScheduledTaskInfo = "scheduled_task_info"
	MessageUserDataChanged   = "user_data_changed"
	MessageSessionChanged    = "session_changed"
	MessageActivityLogEntry  = "activity_log_entry"
)

// SessionChange is the payload of session_changed events. Old is nil for an
// added session, New is nil for a removed one.
type SessionChange struct {
	Old *models.Session `json:"old"`
	New *models.Session `json:"new"`
}

// HandleMessage implements pushlink.Handler. Frames are handled one at a
// time under frameMu.
func (h *Hub) HandleMessage(ctx context.Context, msg message.Message) {
	h.frameMu.Lock()
	defer h.frameMu.Unlock()

	switch m := msg.(type) {
	case message.Sessions:
		h.applySessions(m.Sessions)
	case message.LibraryChanged:
		h.refreshLibraries(ctx, m.CollectionFolders, false)
		h.passthrough(MessageLibraryChanged, m)
	case message.ActivityLogEntry:
		if h.cfg.Events.ActivityLog {
			h.followActivityLog(ctx)
		}
	case message.ScheduledTaskInfo:
		if h.cfg.Events.Tasks {
			h.passthrough(MessageScheduledTaskInfo, m.Raw)
		}
	case message.UserDataChanged:
		h.passthrough(MessageUserDataChanged, m)
	case message.Unknown:
		if h.cfg.Events.Other {
			h.passthrough(message.SnakeCase(m.MessageType), m.Raw)
		}
	default:
		h.logger.Debug("unhandled push message", "type", msg.Type())
	}
}

// applySessions reconciles a full session list against the previous
// snapshot and publishes the result. Callers hold frameMu.
func (h *Hub) applySessions(incoming []models.Session) {
	diff := reconcile.Reconcile(h.sessions, incoming, h.filter)
	h.sessions = diff.Current

	h.publish(dispatch.Event{Kind: dispatch.KindSessions, Data: reconcile.Sorted(diff.Current)})

	if diff.Empty() {
		return
	}

	changes := make([]SessionChange, 0, len(diff.Added)+len(diff.Removed)+len(diff.Updated))
	for _, s := range diff.Added {
		changes = append(changes, SessionChange{New: &s})
	}
	for _, s := range diff.Removed {
		changes = append(changes, SessionChange{Old: &s})
	}
	for _, c := range diff.Updated {
		changes = append(changes, SessionChange{Old: &c.Old, New: &c.New})
	}

	for _, c := range changes {
		h.publish(dispatch.Event{Kind: dispatch.KindSessionChanged, Data: c})
		if h.cfg.Events.Sessions {
			h.passthrough(MessageSessionChanged, c)
		}
	}
}

// refreshLibraries re-runs the cached queries affected by a change and
// publishes one library event per changed key. Callers hold frameMu.
func (h *Hub) refreshLibraries(ctx context.Context, libraryIDs []string, force bool) error {
	updates, err := h.cache.OnLibraryChanged(ctx, libraryIDs, force)
	for _, u := range updates {
		h.publish(dispatch.Event{Kind: dispatch.KindLibrary, Library: &u.Key, Data: u.Result})
	}

	return err
}

// followActivityLog publishes the activity log entries added since the last
// one seen. Without a watermark only the newest entry is fetched. Callers
// hold frameMu.
func (h *Hub) followActivityLog(ctx context.Context) {
	query := url.Values{}
	seen := h.activityMarker != ""
	if seen {
		query.Set("MinDate", h.activityMarker)
	} else {
		query.Set("Limit", strconv.Itoa(1))
	}

	res, err := withAuth(ctx, h, func(ctx context.Context) (models.ActivityLogResult, error) {
		return h.api.ActivityLogEntries(ctx, query)
	})
	if err != nil {
		h.logger.Warn("activity log fetch failed", "err", err)
		return
	}

	entries := res.Items
	if len(entries) == 0 {
		return
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Date < entries[j].Date })

	if newest := entries[len(entries)-1].Date; newest != "" {
		h.activityMarker = newest
	}

	// MinDate is inclusive: the first entry is the one already published.
	if seen {
		entries = entries[1:]
	}
	for _, e := range entries {
		h.passthrough(MessageActivityLogEntry, e)
	}
}

// passthrough publishes a message event shaped as
// {"server_id": id, "<type>": data}.
func (h *Hub) passthrough(messageType string, data any) {
	id := h.serverID()
	h.publish(dispatch.Event{
		Kind:     dispatch.KindMessage,
		Type:     messageType,
		ServerID: id,
		Data: map[string]any{
			"server_id": id,
			messageType: data,
		},
	})
}
