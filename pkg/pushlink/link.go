// Package pushlink keeps one push channel to a media server open. A Link
// connects, sends the greeting frames, reads frames until the channel drops,
// and reconnects with a linear backoff until it is stopped or hits a fatal
// error.
//
// Architecture: a reader goroutine feeds an inbound channel with raw frames.
// The Run goroutine selects on inbound frames and the keepalive deadline and
// is the only writer to the connection and to the link state.
package pushlink

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/germanamz/mediahub/pkg/apierr"
	"github.com/germanamz/mediahub/pkg/keepalive"
	"github.com/germanamz/mediahub/pkg/message"
)

const (
	// readLimit bounds a single inbound frame. Session lists of busy
	// servers exceed the library default of 32 KiB.
	readLimit = 16 << 20

	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	inboundBuffer       = 16
)

// Target is where and how to open the channel.
type Target struct {
	URL    string
	Header http.Header
}

// Handler supplies connection targets and consumes frames. HandleMessage is
// called from the Run goroutine, one frame at a time, in receipt order.
type Handler interface {
	// Prepare runs before every connect attempt and returns the channel
	// address. Errors marked fatal by apierr end Run.
	Prepare(ctx context.Context) (Target, error)
	HandleMessage(ctx context.Context, msg message.Message)
}

// FailureHandler is optionally implemented by a Handler that wants to see
// failed connect attempts, e.g. to drop a rejected token.
type FailureHandler interface {
	ConnectFailed(ctx context.Context, err error)
}

// Observer receives link telemetry. *metrics.Metrics implements it.
type Observer interface {
	FrameReceived(messageType string)
	KeepaliveSent()
	ConnectFailed()
}

// Options configures a Link.
type Options struct {
	MaxBackoff  time.Duration // Delay cap; DefaultMaxBackoff when zero.
	Keepalive   time.Duration // Keepalive period until the server forces one.
	DialTimeout time.Duration // Bound on one dial; 10s when zero.
	Greeting    [][]byte      // Frames written right after connecting.
	HTTPClient  *http.Client  // Used for the handshake; nil uses the library default.
	Logger      *slog.Logger  // Falls back to slog.Default().
	Observer    Observer      // Optional telemetry sink.

	// OnStateChange is called from the Run goroutine on every transition.
	OnStateChange func(from, to State)
}

// wsConn abstracts the channel so the link can be tested without a server.
// *websocket.Conn satisfies it.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

type dialFunc func(ctx context.Context, target Target) (wsConn, error)

// inboundMsg wraps a frame read by the reader goroutine.
type inboundMsg struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

// Link owns one push channel and its connection state.
type Link struct {
	handler Handler
	opts    Options
	logger  *slog.Logger
	ka      *keepalive.Timer

	dial      dialFunc
	sleepFunc func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	state    State
	failures int
	cancel   context.CancelFunc

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a Link. Call Run to start it.
func New(handler Handler, opts Options) *Link {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Link{
		handler:   handler,
		opts:      opts,
		logger:    logger,
		ka:        keepalive.New(opts.Keepalive),
		sleepFunc: contextSleep,
		stopped:   make(chan struct{}),
	}
	l.dial = l.dialWebsocket

	return l
}

// SetSleepFunc overrides the backoff wait. Intended for testing.
func (l *Link) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	l.sleepFunc = fn
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// Failures returns the number of consecutive failed connect attempts.
func (l *Link) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.failures
}

// KeepaliveInterval returns the current keepalive period.
func (l *Link) KeepaliveInterval() time.Duration { return l.ka.Interval() }

// Stop ends Run. It cancels a pending backoff wait, closes the channel and
// prevents further reconnects. Stop is idempotent and safe before Run.
func (l *Link) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopped)

		l.mu.Lock()
		cancel := l.cancel
		l.mu.Unlock()

		if cancel != nil {
			cancel()
		}
	})
}

func (l *Link) isStopped() bool {
	select {
	case <-l.stopped:
		return true
	default:
		return false
	}
}

// Run connects and keeps the channel open until Stop is called, ctx is
// cancelled, or a fatal error occurs. It returns nil after Stop, ctx.Err()
// after cancellation, and the error itself when it is fatal.
func (l *Link) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	if l.isStopped() {
		return nil
	}
	defer l.setState(Disconnected)

	for {
		l.setState(Connecting)

		conn, err := l.connect(ctx)
		if err != nil {
			if done, derr := l.finished(ctx); done {
				return derr
			}
			if apierr.IsFatal(err) {
				l.logger.ErrorContext(ctx, "push link giving up", "err", err)
				return err
			}

			l.mu.Lock()
			l.failures++
			l.mu.Unlock()

			if l.opts.Observer != nil {
				l.opts.Observer.ConnectFailed()
			}
			if fh, ok := l.handler.(FailureHandler); ok {
				fh.ConnectFailed(ctx, err)
			}

			l.setState(Disconnected)
			if l.backoff(ctx, err) {
				_, derr := l.finished(ctx)
				return derr
			}
			continue
		}

		l.mu.Lock()
		l.failures = 0
		l.mu.Unlock()

		l.setState(Connected)
		err = l.serve(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		l.setState(Disconnected)

		if done, derr := l.finished(ctx); done {
			return derr
		}

		l.logger.WarnContext(ctx, "push channel lost", "err", err)
		if l.backoff(ctx, err) {
			_, derr := l.finished(ctx)
			return derr
		}
	}
}

// finished reports whether Run should return, and with what.
func (l *Link) finished(ctx context.Context) (bool, error) {
	if l.isStopped() {
		return true, nil
	}
	if ctx.Err() != nil {
		return true, ctx.Err()
	}
	return false, nil
}

// backoff waits out the delay for the current failure count. It reports
// whether Run must return instead of reconnecting.
func (l *Link) backoff(ctx context.Context, cause error) bool {
	failures := l.Failures()
	delay := Delay(failures, l.opts.MaxBackoff)

	l.setState(Backoff)
	l.logger.WarnContext(ctx, "reconnecting", "delay", delay, "failures", failures, "err", cause)

	_ = l.sleepFunc(ctx, delay)

	done, _ := l.finished(ctx)
	return done
}

func (l *Link) setState(to State) {
	l.mu.Lock()
	from := l.state
	l.state = to
	l.mu.Unlock()

	if from == to {
		return
	}
	l.logger.Debug("push link state", "from", from.String(), "to", to.String())
	if l.opts.OnStateChange != nil {
		l.opts.OnStateChange(from, to)
	}
}

// connect prepares, dials and greets. On success the caller owns conn.
func (l *Link) connect(ctx context.Context) (wsConn, error) {
	target, err := l.handler.Prepare(ctx)
	if err != nil {
		return nil, fmt.Errorf("pushlink: prepare: %w", err)
	}

	dialTimeout := l.opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := l.dial(dialCtx, target)
	if err != nil {
		return nil, fmt.Errorf("pushlink: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	for _, frame := range l.opts.Greeting {
		if err := l.write(ctx, conn, frame); err != nil {
			_ = conn.Close(websocket.StatusInternalError, "greeting failed")
			return nil, fmt.Errorf("pushlink: greeting: %w", err)
		}
	}

	l.logger.InfoContext(ctx, "push channel connected")
	return conn, nil
}

func (l *Link) dialWebsocket(ctx context.Context, target Target) (wsConn, error) {
	conn, resp, err := websocket.Dial(ctx, target.URL, &websocket.DialOptions{
		HTTPClient: l.opts.HTTPClient,
		HTTPHeader: target.Header,
	})
	if err != nil {
		if resp != nil {
			if serr := apierr.FromStatus("websocket handshake", resp.StatusCode, ""); serr != nil {
				return nil, serr
			}
		}
		return nil, apierr.New(apierr.ConnectionFailure, "websocket handshake", err)
	}
	return conn, nil
}

func (l *Link) write(ctx context.Context, conn wsConn, frame []byte) error {
	wctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	return conn.Write(wctx, websocket.MessageText, frame)
}

// startReader launches the goroutine that reads frames from conn. It exits
// when connCtx is cancelled or after delivering a read error.
func startReader(connCtx context.Context, conn wsConn) <-chan inboundMsg {
	ch := make(chan inboundMsg, inboundBuffer)

	go func() {
		for {
			typ, data, err := conn.Read(connCtx)
			select {
			case ch <- inboundMsg{typ: typ, data: data, err: err}:
			case <-connCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	return ch
}

// serve processes frames until the channel fails or ctx is done.
func (l *Link) serve(ctx context.Context, conn wsConn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := startReader(connCtx, conn)

	l.ka.Reset()
	timer := time.NewTimer(l.ka.Remaining())
	defer timer.Stop()

	for {
		select {
		case msg := <-inbound:
			if msg.err != nil {
				return fmt.Errorf("pushlink: read: %w", msg.err)
			}
			if msg.typ == websocket.MessageText {
				l.handleFrame(ctx, msg.data)
			} else {
				l.logger.DebugContext(ctx, "ignoring binary frame", "bytes", len(msg.data))
			}

		case <-timer.C:

		case <-ctx.Done():
			return ctx.Err()
		}

		if err := l.keepaliveIfDue(ctx, conn); err != nil {
			return err
		}
		timer.Reset(l.ka.Remaining())
	}
}

func (l *Link) handleFrame(ctx context.Context, data []byte) {
	msg, err := message.Parse(data)
	if err != nil {
		l.logger.WarnContext(ctx, "dropping malformed frame", "err", err, "bytes", len(data))
		return
	}

	if l.opts.Observer != nil {
		l.opts.Observer.FrameReceived(msg.Type())
	}

	switch m := msg.(type) {
	case message.KeepAlive:
		l.logger.DebugContext(ctx, "keepalive acknowledged")
	case message.ForceKeepAlive:
		l.ka.Force(m.Timeout)
		l.logger.DebugContext(ctx, "server forced keepalive", "interval", l.ka.Interval())
	default:
		l.handler.HandleMessage(ctx, msg)
	}
}

func (l *Link) keepaliveIfDue(ctx context.Context, conn wsConn) error {
	if !l.ka.Due() {
		return nil
	}
	if err := l.write(ctx, conn, message.KeepAliveFrame()); err != nil {
		return fmt.Errorf("pushlink: keepalive: %w", err)
	}
	l.ka.Reset()
	if l.opts.Observer != nil {
		l.opts.Observer.KeepaliveSent()
	}
	return nil
}
