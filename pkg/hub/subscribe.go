package hub

import (
	"context"
	"fmt"

	"github.com/germanamz/mediahub/pkg/dispatch"
	"github.com/germanamz/mediahub/pkg/models"
)

// Subscribe registers a raw event handler.
func (h *Hub) Subscribe(filter dispatch.Filter, fn dispatch.Handler) *dispatch.Subscription {
	return h.events.Subscribe(filter, fn)
}

// Unsubscribe removes a subscription made through the hub. A library
// subscription also releases its cached query. It is idempotent.
func (h *Hub) Unsubscribe(sub *dispatch.Subscription) {
	h.events.Unsubscribe(sub)

	h.mu.Lock()
	key, ok := h.libSubs[sub]
	delete(h.libSubs, sub)
	h.mu.Unlock()

	if ok {
		h.cache.Release(key)
	}
}

// OnAvailabilityChanged calls fn when the push channel connects or drops.
func (h *Hub) OnAvailabilityChanged(fn func(ctx context.Context, available bool) error) *dispatch.Subscription {
	return h.events.Subscribe(dispatch.AvailabilityOnly(), func(ctx context.Context, e dispatch.Event) error {
		v, ok := e.Data.(bool)
		if !ok {
			return unexpected(e)
		}
		return fn(ctx, v)
	})
}

// OnSessionsChanged calls fn with every new session snapshot.
func (h *Hub) OnSessionsChanged(fn func(ctx context.Context, sessions []models.Session) error) *dispatch.Subscription {
	return h.events.Subscribe(dispatch.OfKind(dispatch.KindSessions), func(ctx context.Context, e dispatch.Event) error {
		v, ok := e.Data.([]models.Session)
		if !ok {
			return unexpected(e)
		}
		return fn(ctx, v)
	})
}

// OnSessionChanged calls fn once per added, removed or updated session.
func (h *Hub) OnSessionChanged(fn func(ctx context.Context, change SessionChange) error) *dispatch.Subscription {
	return h.events.Subscribe(dispatch.OfKind(dispatch.KindSessionChanged), func(ctx context.Context, e dispatch.Event) error {
		v, ok := e.Data.(SessionChange)
		if !ok {
			return unexpected(e)
		}
		return fn(ctx, v)
	})
}

// OnLibraryChanged tracks key in the library cache and calls fn when its
// latest items change. Unsubscribe releases the key.
func (h *Hub) OnLibraryChanged(key models.LibraryKey, fn func(ctx context.Context, result models.LibraryResult) error) *dispatch.Subscription {
	h.cache.Acquire(key)

	sub := h.events.Subscribe(dispatch.ForLibrary(key), func(ctx context.Context, e dispatch.Event) error {
		v, ok := e.Data.(models.LibraryResult)
		if !ok {
			return unexpected(e)
		}
		return fn(ctx, v)
	})

	h.mu.Lock()
	h.libSubs[sub] = key
	h.mu.Unlock()

	return sub
}

// OnMessage calls fn with every passthrough message. data has the shape
// {"server_id": id, "<messageType>": payload}.
func (h *Hub) OnMessage(fn func(ctx context.Context, messageType string, data map[string]any) error) *dispatch.Subscription {
	return h.events.Subscribe(dispatch.OfKind(dispatch.KindMessage), func(ctx context.Context, e dispatch.Event) error {
		v, ok := e.Data.(map[string]any)
		if !ok {
			return unexpected(e)
		}
		return fn(ctx, e.Type, v)
	})
}

func unexpected(e dispatch.Event) error {
	return fmt.Errorf("hub: unexpected %s payload %T", e.Kind, e.Data)
}
