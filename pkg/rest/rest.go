// Package rest performs timed, authenticated HTTP calls against a media
// server and maps every failure onto the apierr taxonomy.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/mediahub/pkg/apierr"
)

// DefaultTimeout bounds a single request when Invoker.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// maxErrorBody caps how much of an error response is kept in *apierr.Error.
const maxErrorBody = 512

// Authorizer attaches client identity and token to an outgoing request.
// dialect.Strategy implements it.
type Authorizer interface {
	Authorize(req *http.Request, token string)
}

// TokenSource yields the current access token. credentials.Store implements it.
type TokenSource interface {
	Token() string
}

// Observer is told about every completed request. Status is zero when no
// response was received.
type Observer interface {
	ObserveRequest(method string, status int, d time.Duration)
}

// Invoker sends requests to one server.
type Invoker struct {
	BaseURL  string        // Server base URL (no trailing slash).
	Client   *http.Client  // HTTP client; falls back to http.DefaultClient.
	Timeout  time.Duration // Per-request timeout; DefaultTimeout when zero.
	Logger   *slog.Logger  // Falls back to slog.Default().
	Observer Observer      // Optional request observer.

	tokens TokenSource

	mu   sync.RWMutex
	auth Authorizer
}

// New creates an Invoker. A nil client falls back to http.DefaultClient.
func New(baseURL string, tokens TokenSource, client *http.Client) *Invoker {
	return &Invoker{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  client,
		tokens:  tokens,
	}
}

// SetAuthorizer swaps the active authorization rules. It is called on every
// connect once the server dialect is known.
func (i *Invoker) SetAuthorizer(a Authorizer) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.auth = a
}

func (i *Invoker) authorizer() Authorizer {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.auth
}

func (i *Invoker) httpClient() *http.Client {
	if i.Client != nil {
		return i.Client
	}
	return http.DefaultClient
}

func (i *Invoker) logger() *slog.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return slog.Default()
}

func (i *Invoker) timeout() time.Duration {
	if i.Timeout > 0 {
		return i.Timeout
	}
	return DefaultTimeout
}

// NewRequest builds an *http.Request with the base URL, query, JSON headers
// and authorization already applied.
func (i *Invoker) NewRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := i.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if a := i.authorizer(); a != nil {
		token := ""
		if i.tokens != nil {
			token = i.tokens.Token()
		}
		a.Authorize(req, token)
	}

	return req, nil
}

// Do sends one request and returns the response body of a 2xx reply. Any
// other outcome is an *apierr.Error.
func (i *Invoker) Do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	op := method + " " + path

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("rest: %s: marshal payload: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	reqCtx, cancel := context.WithTimeout(ctx, i.timeout())
	defer cancel()

	req, err := i.NewRequest(reqCtx, method, path, query, body)
	if err != nil {
		return nil, fmt.Errorf("rest: %s: build request: %w", op, err)
	}

	start := time.Now()
	status := 0
	defer func() {
		if i.Observer != nil {
			i.Observer.ObserveRequest(method, status, time.Since(start))
		}
	}()

	resp, err := i.httpClient().Do(req) //nolint:gosec // URL is built from the configured server address.
	if err != nil {
		return nil, classify(ctx, op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	status = resp.StatusCode

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, op, err)
	}

	i.logger().DebugContext(ctx, "rest call", "op", op, "status", status, "elapsed", time.Since(start))

	if err := apierr.FromStatus(op, status, excerpt(data)); err != nil {
		return nil, err
	}

	return data, nil
}

// classify maps a transport error. An expired per-request deadline is a
// Timeout; a cancelled caller context and everything else are connection
// failures.
func classify(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return apierr.New(apierr.ConnectionFailure, op, parent.Err())
	}

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return apierr.New(apierr.Timeout, op, err)
	}

	return apierr.New(apierr.ConnectionFailure, op, err)
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

// GetJSON sends a GET and decodes the JSON reply into dest.
func (i *Invoker) GetJSON(ctx context.Context, path string, query url.Values, dest any) error {
	data, err := i.Do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return decode(path, data, dest)
}

// GetText sends a GET and returns the reply as text.
func (i *Invoker) GetText(ctx context.Context, path string, query url.Values) (string, error) {
	data, err := i.Do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetRaw sends a GET and returns the undecoded reply.
func (i *Invoker) GetRaw(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return i.Do(ctx, http.MethodGet, path, query, nil)
}

// PostJSON sends payload as JSON and decodes the reply into dest. A nil dest
// discards the reply after the status check.
func (i *Invoker) PostJSON(ctx context.Context, path string, query url.Values, payload, dest any) error {
	data, err := i.Do(ctx, http.MethodPost, path, query, payload)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	return decode(path, data, dest)
}

// PostText sends payload as JSON and returns the reply as text.
func (i *Invoker) PostText(ctx context.Context, path string, query url.Values, payload any) (string, error) {
	data, err := i.Do(ctx, http.MethodPost, path, query, payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decode(path string, data []byte, dest any) error {
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("rest: %s: decode response: %w", path, err)
	}
	return nil
}
