package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/germanamz/mediahub/pkg/apierr"
	"github.com/germanamz/mediahub/pkg/auth"
	"github.com/germanamz/mediahub/pkg/credentials"
	"github.com/germanamz/mediahub/pkg/dialect"
	"github.com/germanamz/mediahub/pkg/dispatch"
	"github.com/germanamz/mediahub/pkg/librarycache"
	"github.com/germanamz/mediahub/pkg/mediabrowser"
	"github.com/germanamz/mediahub/pkg/message"
	"github.com/germanamz/mediahub/pkg/metrics"
	"github.com/germanamz/mediahub/pkg/models"
	"github.com/germanamz/mediahub/pkg/pushlink"
	"github.com/germanamz/mediahub/pkg/reconcile"
	"github.com/germanamz/mediahub/pkg/rest"
)

// ErrStarted is returned by Start on a Hub that was already started.
var ErrStarted = errors.New("hub: already started")

// Options carries the collaborators that do not come from Config.
type Options struct {
	Logger     *slog.Logger
	HTTPClient *http.Client

	// Registerer receives the hub's Prometheus collectors. Nil keeps them
	// unregistered.
	Registerer prometheus.Registerer
}

// Hub is one live connection to a media server. It is safe for concurrent
// use.
type Hub struct {
	cfg    Config
	logger *slog.Logger
	client dialect.ClientIdentity
	filter reconcile.Filter

	creds   *credentials.Store
	invoker *rest.Invoker
	api     *mediabrowser.Client
	auth    *auth.Negotiator
	cache   *librarycache.Cache
	events  *dispatch.Dispatcher
	metrics *metrics.Metrics
	link    *pushlink.Link

	mu        sync.RWMutex
	identity  models.ServerIdentity
	pinnedID  string
	strategy  *dialect.Strategy
	available bool
	libSubs   map[*dispatch.Subscription]models.LibraryKey

	// frameMu serializes frame handling with the state it mutates.
	frameMu        sync.Mutex
	sessions       map[models.SessionKey]models.Session
	activityMarker string

	runMu    sync.Mutex
	started  bool
	done     chan struct{}
	runErr   error
	stopOnce sync.Once
}

// New validates cfg and assembles a Hub. Nothing touches the network until
// Start or one of the query methods is called.
func New(cfg Config, opts Options) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("server", cfg.Server.URL)

	h := &Hub{
		cfg:    cfg,
		logger: logger,
		client: dialect.ClientIdentity{
			Name:       cfg.Client.Name,
			DeviceName: cfg.Client.DeviceName,
			DeviceID:   cfg.Client.DeviceID,
			Version:    cfg.Client.DeviceVersion,
		},
		filter: reconcile.Filter{
			DeviceID:     cfg.Client.DeviceID,
			ClientName:   cfg.Client.Name,
			IgnoreWeb:    cfg.Players.IgnoreWeb,
			IgnoreDLNA:   cfg.Players.IgnoreDLNA,
			IgnoreMobile: cfg.Players.IgnoreMobile,
			IgnoreApp:    cfg.Players.IgnoreApp,
		},
		pinnedID: cfg.Server.ServerID,
		libSubs:  make(map[*dispatch.Subscription]models.LibraryKey),
		sessions: make(map[models.SessionKey]models.Session),
		done:     make(chan struct{}),
	}

	h.metrics = metrics.New(opts.Registerer)

	h.creds = credentials.New(credentials.Credentials{
		Username: cfg.Server.Username,
		Password: cfg.Server.Password,
		Token:    cfg.Server.APIKey,
		UserID:   cfg.Server.UserID,
	})

	h.invoker = rest.New(cfg.Server.URL, h.creds, opts.HTTPClient)
	h.invoker.Timeout = cfg.Timeout()
	h.invoker.Logger = logger
	h.invoker.Observer = h.metrics

	// Unknown dialect until the first ping; Emby rules apply meanwhile.
	h.strategy = dialect.New(dialect.Unknown, h.client)
	h.invoker.SetAuthorizer(h.strategy)

	h.api = mediabrowser.New(h.invoker)
	h.auth = auth.New(h.api, h.creds, logger)

	h.events = dispatch.New(dispatch.Options{
		QueueSize: cfg.Dispatch.QueueSize,
		Logger:    logger,
		Observer:  h.metrics,
	})

	h.cache = librarycache.New(h, librarycache.Options{
		QueryUser:   h.creds.QueryUser,
		Concurrency: cfg.Dispatch.RefreshConcurrency,
		Logger:      logger,
	})
	for _, l := range cfg.Libraries {
		h.cache.Acquire(l.Key())
	}

	h.link = pushlink.New(h, pushlink.Options{
		MaxBackoff:    cfg.MaxBackoff(),
		Keepalive:     cfg.Keepalive(),
		Greeting:      message.Greeting(cfg.Events.ActivityLog, cfg.Events.Tasks),
		HTTPClient:    opts.HTTPClient,
		Logger:        logger,
		Observer:      h.metrics,
		OnStateChange: h.onStateChange,
	})

	return h, nil
}

// Config returns the effective configuration, defaults included.
func (h *Hub) Config() Config { return h.cfg }

// Start runs the push link in a background goroutine. Use Done and Err to
// learn when and why it ended.
func (h *Hub) Start(ctx context.Context) error {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if h.started {
		return ErrStarted
	}
	h.started = true

	go func() {
		err := h.link.Run(ctx)

		h.runMu.Lock()
		h.runErr = err
		h.runMu.Unlock()

		close(h.done)
	}()

	return nil
}

// Run is Start followed by waiting for the link to end.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.Start(ctx); err != nil {
		return err
	}
	<-h.done
	return h.Err()
}

// Done is closed when a started link has ended.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Err returns why the link ended: nil after Stop, the context error after
// cancellation, or the fatal error that ended it.
func (h *Hub) Err() error {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	return h.runErr
}

// Stop closes the push channel, cancels any reconnect wait, delivers the
// events already queued and releases the dispatcher. It is idempotent and
// may be called from a subscriber; queued events then drain after Stop
// returns, and Drained reports when they have.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.link.Stop()

		h.runMu.Lock()
		started := h.started
		h.runMu.Unlock()
		if started {
			<-h.done
		}

		h.events.Close()
	})
}

var _ librarycache.Fetcher = (*Hub)(nil)

// Drained is closed once every event published before Stop was delivered.
func (h *Hub) Drained() <-chan struct{} { return h.events.Done() }

// Available reports whether the push channel is connected.
func (h *Hub) Available() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.available
}

// State returns the push link state.
func (h *Hub) State() pushlink.State { return h.link.State() }

// Identity returns the server identity from the last successful connect.
func (h *Hub) Identity() models.ServerIdentity {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.identity
}

func (h *Hub) serverID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.identity.ID != "" {
		return h.identity.ID
	}
	return h.pinnedID
}

func (h *Hub) onStateChange(from, to pushlink.State) {
	h.metrics.SetLinkState(to.String())

	switch {
	case to == pushlink.Connected:
		h.setAvailable(true)
	case from == pushlink.Connected:
		h.setAvailable(false)
	}
}

func (h *Hub) setAvailable(v bool) {
	h.mu.Lock()
	changed := h.available != v
	h.available = v
	name := h.identity.ServerName
	h.mu.Unlock()

	if !changed {
		return
	}

	if v {
		h.logger.Info("server available", "name", name)
	} else {
		h.logger.Warn("server unavailable", "name", name)
	}
	h.publish(dispatch.Event{Kind: dispatch.KindAvailability, Data: v})
}

func (h *Hub) publish(e dispatch.Event) {
	if e.ServerID == "" {
		e.ServerID = h.serverID()
	}
	h.events.Publish(e)
}

// verifyServer pings the server, selects the dialect and checks that the
// server is the one pinned on this connection.
func (h *Hub) verifyServer(ctx context.Context) (models.ServerIdentity, error) {
	ping, err := h.api.Ping(ctx)
	if err != nil {
		return models.ServerIdentity{}, fmt.Errorf("hub: ping: %w", err)
	}

	kind := dialect.Detect(ping)
	strategy := dialect.New(kind, h.client)
	h.invoker.SetAuthorizer(strategy)

	h.mu.Lock()
	h.strategy = strategy
	h.mu.Unlock()

	if err := h.auth.Ensure(ctx); err != nil {
		return models.ServerIdentity{}, err
	}

	info, err := h.api.Info(ctx)
	if err != nil {
		return models.ServerIdentity{}, fmt.Errorf("hub: server info: %w", err)
	}
	info.Ping = ping
	info.Dialect = kind.String()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pinnedID != "" && info.ID != h.pinnedID {
		return models.ServerIdentity{}, apierr.New(apierr.ServerMismatch, "verify server",
			fmt.Errorf("expected server %s, got %s", h.pinnedID, info.ID))
	}
	h.pinnedID = info.ID
	h.identity = info

	return info, nil
}

// Verify runs the connect-time checks without opening the push channel:
// dialect detection, login and the server identity check. One-shot callers
// use it before issuing queries.
func (h *Hub) Verify(ctx context.Context) (models.ServerIdentity, error) {
	return h.verifyServer(ctx)
}

// Prepare implements pushlink.Handler. It runs before every connect attempt.
func (h *Hub) Prepare(ctx context.Context) (pushlink.Target, error) {
	identity, err := h.verifyServer(ctx)
	if err != nil {
		return pushlink.Target{}, err
	}

	if !h.creds.Impersonated() {
		if err := h.auth.Impersonate(ctx); err != nil {
			return pushlink.Target{}, err
		}
	}

	sessions, err := h.api.Sessions(ctx)
	if err != nil {
		return pushlink.Target{}, fmt.Errorf("hub: sessions snapshot: %w", err)
	}
	h.frameMu.Lock()
	h.applySessions(sessions)
	h.frameMu.Unlock()

	h.mu.RLock()
	strategy := h.strategy
	h.mu.RUnlock()

	token := h.creds.Token()
	u, err := strategy.WebsocketURL(h.cfg.Server.URL, token)
	if err != nil {
		return pushlink.Target{}, apierr.Fatal(fmt.Errorf("hub: %w", err))
	}

	h.logger.Debug("connecting push channel", "name", identity.ServerName, "dialect", identity.Dialect)

	return pushlink.Target{URL: u, Header: strategy.WebsocketHeader(token)}, nil
}

// ConnectFailed implements pushlink.FailureHandler. A rejected handshake
// drops the validated flag so the next attempt re-checks the token.
func (h *Hub) ConnectFailed(_ context.Context, err error) {
	if errors.Is(err, apierr.ErrUnauthorized) {
		h.creds.Invalidate()
	}
}
