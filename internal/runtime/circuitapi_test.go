package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/convseed/internal/circuit"
	"github.com/joshsymonds/convseed/internal/files"
)

type fakeBackend struct {
	t        *testing.T
	mu       sync.Mutex
	requests []recorded
	uploads  []string
	events   chan wireEvent
}

type recorded struct {
	Method    string
	Path      string
	Auth      string
	RequestID string
	Body      map[string]any
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	fb := &fakeBackend{t: t, events: make(chan wireEvent, 4)}
	srv := httptest.NewServer(http.HandlerFunc(fb.serve))
	t.Cleanup(srv.Close)
	return fb, srv
}

func (f *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/oauth/token" {
		require.NoError(f.t, r.ParseForm())
		if r.Form.Get("grant_type") != "password" || r.Form.Get("password") != "secret" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`)
		return
	}
	if r.URL.Path == "/rest/v2/websocket" {
		f.serveEvents(w, r)
		return
	}

	rec := recorded{
		Method:    r.Method,
		Path:      r.URL.Path,
		Auth:      r.Header.Get("Authorization"),
		RequestID: r.Header.Get("X-Request-Id"),
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(r.Body).Decode(&rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/rest/v2/users/profile":
		_, _ = io.WriteString(w, `{"userId":"admin","emailAddress":"admin@example.com"}`)
	case r.URL.Path == "/rest/v2/users/tenant":
		_, _ = io.WriteString(w, `[{"userId":"u1","emailAddress":"a@example.com"},{"userId":"u2","emailAddress":"b@example.com"}]`)
	case r.URL.Path == "/rest/v2/conversations/community":
		_, _ = io.WriteString(w, `{"convId":"c-open","type":"COMMUNITY","topic":"Open 1","participants":["u1"]}`)
	case r.URL.Path == "/rest/v2/conversations/group":
		_, _ = io.WriteString(w, `{"convId":"c-group","type":"GROUP","participants":["u1","u2"]}`)
	case r.URL.Path == "/rest/v2/fileapi":
		require.NoError(f.t, r.ParseMultipartForm(1<<20))
		var out []wireUpload
		for _, fh := range r.MultipartForm.File["files"] {
			f.mu.Lock()
			f.uploads = append(f.uploads, fh.Filename)
			f.mu.Unlock()
			out = append(out, wireUpload{FileID: "f-" + fh.Filename, FileName: fh.Filename})
		}
		_ = json.NewEncoder(w).Encode(out)
	case r.URL.Path == "/rest/v2/conversations/c-open/messages":
		_, _ = io.WriteString(w, `{"itemId":"i1","convId":"c-open","type":"TEXT","text":{"content":"hi"},"attachments":[{"fileId":"f-a.txt"}],"creationTime":1700000000000}`)
	case r.URL.Path == "/rest/v2/conversations/c-open/messages/i1":
		_, _ = io.WriteString(w, `{"itemId":"i2","parentItemId":"i1","type":"TEXT","text":{"content":"re"}}`)
	case strings.HasSuffix(r.URL.Path, "/like"), strings.HasSuffix(r.URL.Path, "/flag"):
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "no such route", http.StatusNotFound)
	}
}

func (f *fakeBackend) serveEvents(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer tok-1" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	go func() {
		for evt := range f.events {
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *fakeBackend) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, srv *httptest.Server) circuit.Client {
	c, err := NewCircuitClient(Options{BaseURL: srv.URL, ClientID: "cid", HTTPClient: srv.Client()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCallsBeforeLogonFail(t *testing.T) {
	_, srv := newFakeBackend(t)
	c := newTestClient(t, srv)
	_, err := c.TenantUsers(context.Background())
	require.ErrorIs(t, err, errNotLoggedOn)
}

func TestLogonBadPassword(t *testing.T) {
	_, srv := newFakeBackend(t)
	c := newTestClient(t, srv)
	_, err := c.Logon(context.Background(), "admin@example.com", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password grant")
}

func TestRequestShapes(t *testing.T) {
	fb, srv := newFakeBackend(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	me, err := c.Logon(ctx, "admin@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, circuit.UserID("admin"), me.ID)
	assert.Equal(t, "Bearer tok-1", fb.last().Auth)
	assert.NotEmpty(t, fb.last().RequestID)

	users, err := c.TenantUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "b@example.com", users[1].Email)

	open, err := c.CreateOpenConversation(ctx, []circuit.UserID{"u1"}, "Open 1", "desc")
	require.NoError(t, err)
	assert.Equal(t, circuit.KindOpen, open.Kind)
	assert.Equal(t, "desc", fb.last().Body["description"])

	group, err := c.CreateGroupConversation(ctx, []circuit.UserID{"u1", "u2"})
	require.NoError(t, err)
	assert.Equal(t, circuit.ConvID("c-group"), group.ID)
	assert.Equal(t, []any{"u1", "u2"}, fb.last().Body["participants"])

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("attachment"), 0o600))
	refs, err := files.Load(dir)
	require.NoError(t, err)

	post, err := c.AddTextItem(ctx, "c-open", circuit.TextItem{
		Subject:     "Weekly sync",
		Content:     "hi",
		ContentType: circuit.ContentRich,
		Attachments: refs,
	})
	require.NoError(t, err)
	assert.Equal(t, circuit.ItemID("i1"), post.ID)
	assert.Equal(t, []string{"f-a.txt"}, post.Attachments)
	assert.Equal(t, time.UnixMilli(1700000000000), post.CreatedAt)
	body := fb.last().Body
	assert.Equal(t, "RICH", body["contentType"])
	assert.Equal(t, "Weekly sync", body["subject"])
	assert.Equal(t, []any{"f-a.txt"}, body["attachments"])
	assert.Equal(t, []string{"a.txt"}, fb.uploads)

	reply, err := c.AddTextItem(ctx, "c-open", circuit.TextItem{Content: "re", ParentID: "i1", ContentType: circuit.ContentRich})
	require.NoError(t, err)
	assert.Equal(t, circuit.ConvID("c-open"), reply.ConvID, "conv id falls back to the target")
	assert.True(t, reply.IsReply())
	_, hasSubject := fb.last().Body["subject"]
	assert.False(t, hasSubject)

	require.NoError(t, c.LikeItem(ctx, "i1"))
	assert.Equal(t, "/rest/v2/conversations/messages/i1/like", fb.last().Path)
	require.NoError(t, c.FlagItem(ctx, "c-open", "i2"))
	assert.Equal(t, "/rest/v2/conversations/c-open/messages/i2/flag", fb.last().Path)
}

func TestAPIErrorSurfaced(t *testing.T) {
	_, srv := newFakeBackend(t)
	c := newTestClient(t, srv)
	ctx := context.Background()
	_, err := c.Logon(ctx, "admin@example.com", "secret")
	require.NoError(t, err)

	_, err = c.AddTextItem(ctx, "missing", circuit.TextItem{Content: "x"})
	var apiErr *circuit.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Body, "no such route")
}

func TestItemAddedEvents(t *testing.T) {
	fb, srv := newFakeBackend(t)
	c := newTestClient(t, srv)

	got := make(chan circuit.ItemAddedEvent, 4)
	c.OnItemAdded(func(evt circuit.ItemAddedEvent) { got <- evt })
	_, err := c.Logon(context.Background(), "admin@example.com", "secret")
	require.NoError(t, err)

	var ignored wireEvent
	ignored.Type = "USER.PRESENCE_CHANGED"
	fb.events <- ignored
	var added wireEvent
	added.Type = eventItemAdded
	added.Item.ItemID = "i9"
	added.Item.ConvID = "c-open"
	added.Item.Type = "TEXT"
	fb.events <- added

	select {
	case evt := <-got:
		assert.Equal(t, circuit.ItemID("i9"), evt.Item.ID)
		assert.Equal(t, circuit.ItemText, evt.Item.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no item-added event delivered")
	}
	close(fb.events)
	require.NoError(t, c.Close())
}

func TestWebsocketURL(t *testing.T) {
	c, err := NewCircuitClient(Options{Domain: "circuitsandbox.net"})
	require.NoError(t, err)
	assert.Equal(t, "wss://circuitsandbox.net/rest/v2/websocket", c.(*restClient).websocketURL())

	_, err = NewCircuitClient(Options{})
	require.Error(t, err)
}
