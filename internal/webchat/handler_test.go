package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/patientpal/internal/auth"
	"github.com/wolfman30/patientpal/internal/booking"
	"github.com/wolfman30/patientpal/internal/history"
	"github.com/wolfman30/patientpal/internal/intent"
	"github.com/wolfman30/patientpal/internal/operations"
	"github.com/wolfman30/patientpal/internal/session"
	"github.com/wolfman30/patientpal/pkg/logging"
)

type echoClassifier struct{}

func (echoClassifier) Classify(_ context.Context, _ []history.Turn, text string, _ intent.Pending) (intent.Outcome, error) {
	return intent.Outcome{Kind: intent.Unrecognized, Reply: "you said: " + text}, nil
}

type nopDispatcher struct{}

func (nopDispatcher) Execute(context.Context, booking.DispatchKey, operations.Operation) (booking.Result, error) {
	return booking.Result{}, nil
}

// withUser stands in for the auth middleware in these tests.
func withUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.URL.Query().Get("user"); user != "" {
			r = r.WithContext(auth.WithUserID(r.Context(), user))
		}
		next(w, r)
	})
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager, *history.MemoryStore) {
	t.Helper()
	store := history.NewMemoryStore()
	manager := session.NewManager(store, echoClassifier{}, nopDispatcher{})
	h := NewHandler(manager, []string{"http://localhost"}, logging.New("error"))

	mux := http.NewServeMux()
	mux.Handle("/chat/ws", withUser(h.HandleWebSocket))
	mux.Handle("/chat/message", withUser(h.HandleMessage))
	mux.Handle("/chat/history", withUser(h.HandleHistory))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, manager, store
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws?user=" + user
	conn, err := websocket.Dial(url, "", "http://localhost")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func receive(t *testing.T, conn *websocket.Conn) OutboundMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg OutboundMessage
	require.NoError(t, websocket.JSON.Receive(conn, &msg))
	return msg
}

func TestWebSocketConversation(t *testing.T) {
	srv, _, store := newTestServer(t)
	_, _ = store.Append(context.Background(), "alice", history.UserTurn("earlier"))

	conn := dial(t, srv, "alice")
	hist := receive(t, conn)
	assert.Equal(t, "history", hist.Type)
	assert.Equal(t, []history.DisplayMessage{{Sender: "user", Text: "earlier"}}, hist.Messages)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "ping"}))
	assert.Equal(t, "pong", receive(t, conn).Type)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "message", Text: "hello"}))
	assert.Equal(t, "typing", receive(t, conn).Type)
	reply := receive(t, conn)
	assert.Equal(t, "message", reply.Type)
	assert.Equal(t, "you said: hello", reply.Text)

	turns, err := store.Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, turns, 3)
}

func TestWebSocketSupersededConnectionIsClosed(t *testing.T) {
	srv, manager, _ := newTestServer(t)

	first := dial(t, srv, "bob")
	assert.Equal(t, "history", receive(t, first).Type)

	second := dial(t, srv, "bob")
	assert.Equal(t, "history", receive(t, second).Type)

	closed := receive(t, first)
	assert.Equal(t, "closed", closed.Type)
	assert.Equal(t, session.ReasonSuperseded, closed.Text)

	require.NoError(t, websocket.JSON.Send(second, InboundMessage{Type: "message", Text: "still here"}))
	assert.Equal(t, "typing", receive(t, second).Type)
	assert.Equal(t, "you said: still here", receive(t, second).Text)

	assert.True(t, manager.Connected("bob"))
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv, _, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws?user=carol"
	_, err := websocket.Dial(url, "", "http://evil.example")
	require.Error(t, err)
}

func TestHTTPMessageWithoutSessionConflicts(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/chat/message?user=dave", "application/json", strings.NewReader(`{"text":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHTTPMessageUsesLiveSession(t *testing.T) {
	srv, _, _ := newTestServer(t)
	conn := dial(t, srv, "erin")
	assert.Equal(t, "history", receive(t, conn).Type)

	resp, err := http.Post(srv.URL+"/chat/message?user=erin", "application/json", strings.NewReader(`{"text":"via http"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "you said: via http", body["reply"])

	// The live socket also receives the reply.
	assert.Equal(t, "you said: via http", receive(t, conn).Text)
}

func TestHTTPHistory(t *testing.T) {
	srv, _, store := newTestServer(t)
	_, _ = store.Append(context.Background(), "fay", history.UserTurn("hi"))
	_, _ = store.Append(context.Background(), "fay", history.ModelTurn("hello", nil))

	resp, err := http.Get(srv.URL + "/chat/history?user=fay")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Messages []history.DisplayMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []history.DisplayMessage{{Sender: "user", Text: "hi"}, {Sender: "server", Text: "hello"}}, body.Messages)
}

func TestHTTPRequiresUser(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/chat/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
