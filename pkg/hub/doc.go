// Package hub is the composition root of the connector. A Hub owns one
// configured media server connection: it wires the credential store, REST
// invoker, auth negotiator, push link, library cache and event dispatcher,
// routes push frames to them and exposes typed queries and subscriptions.
//
// Lifecycle:
//
//	h, err := hub.New(cfg, hub.Options{Logger: logger})
//	h.OnSessionsChanged(func(ctx context.Context, s []models.Session) error { ... })
//	h.Start(ctx)
//	defer h.Stop()
//
// Subscriber callbacks run on the dispatcher's worker goroutine, one event
// at a time, in publish order.
package hub
