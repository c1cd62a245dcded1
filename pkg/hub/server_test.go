package hub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/mediahub/pkg/models"
)

// fakeServer is an Emby server with just enough endpoints for the hub.
type fakeServer struct {
	*httptest.Server

	mu            sync.Mutex
	id            string
	token         string
	sessions      []models.Session
	items         map[string][]models.Item // by ParentId
	activity      []models.ActivityLogEntry
	activityQuery []url.Values
	rejectUsers   int // number of /Users calls to answer with 401
	authCalls     int

	conns chan *websocket.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	f := &fakeServer{
		id:    "srv1",
		token: "tok",
		items: make(map[string][]models.Item),
		conns: make(chan *websocket.Conn, 4),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)

	return f
}

func (f *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/embywebsocket":
		f.accept(w, r)
		return
	case "/System/Ping":
		_, _ = io.WriteString(w, "Emby Server")
		return
	case "/Users/AuthenticateByName":
		f.authenticate(w, r)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Query().Get("X-Emby-Token") != f.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.URL.Path {
	case "/System/Info":
		writeJSON(w, models.ServerIdentity{ID: f.id, ServerName: "Test Server", Version: "4.8.0"})
	case "/Auth/Keys":
		writeJSON(w, map[string]any{"Items": []any{}})
	case "/Users":
		if f.rejectUsers > 0 {
			f.rejectUsers--
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, []models.User{{
			ID:     "u1",
			Name:   "alice",
			Policy: models.Policy{IsAdministrator: true, EnableAllFolders: true},
		}})
	case "/Sessions":
		writeJSON(w, f.sessions)
	case "/Users/u1/Items":
		items := f.items[r.URL.Query().Get("ParentId")]
		writeJSON(w, models.LibraryResult{Items: items, TotalRecordCount: len(items)})
	case "/System/ActivityLog/Entries":
		f.activityQuery = append(f.activityQuery, r.URL.Query())
		writeJSON(w, models.ActivityLogResult{Items: f.activity, TotalRecordCount: len(f.activity)})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeServer) authenticate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string
		Pw       string
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.authCalls++
	if body.Username != "alice" || body.Pw != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, models.AuthResult{AccessToken: f.token, User: models.User{ID: "u1", Name: "alice"}})
}

func (f *fakeServer) accept(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("api_key") != f.currentToken() {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	f.conns <- c
}

func (f *fakeServer) currentToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

// rotateToken revokes the current token; the next login receives token.
func (f *fakeServer) rotateToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeServer) setSessions(s ...models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = s
}

func (f *fakeServer) setItems(parentID string, items ...models.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[parentID] = items
}

// nextConn waits for the hub to open the push channel and consumes the
// SessionsStart greeting.
func (f *fakeServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()

	select {
	case c := <-f.conns:
		t.Cleanup(func() { _ = c.CloseNow() })

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, data, err := c.Read(ctx)
		require.NoError(t, err)
		require.Contains(t, string(data), "SessionsStart")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for push channel")
		return nil
	}
}

func push(t *testing.T, c *websocket.Conn, messageType string, data any) {
	t.Helper()

	frame, err := json.Marshal(map[string]any{"MessageType": messageType, "Data": data})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, frame))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// recv waits for one value on ch.
func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		var zero T
		return zero
	}
}

// quiet asserts nothing arrives on ch for a short while.
func quiet[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("unexpected event %+v", v)
	case <-time.After(100 * time.Millisecond):
	}
}
