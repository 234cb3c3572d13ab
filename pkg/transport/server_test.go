package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingDispatcher struct {
	mu           sync.Mutex
	connected    []*Session
	disconnected []*Session
	inbound      []Envelope
	refuse       error
}

func (d *recordingDispatcher) Connect(s *Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refuse != nil {
		return d.refuse
	}
	d.connected = append(d.connected, s)
	return nil
}

func (d *recordingDispatcher) Disconnect(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnected = append(d.disconnected, s)
	s.Close()
}

func (d *recordingDispatcher) Inbound(s *Session, env Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inbound = append(d.inbound, env)
	// echo so the client can observe ordering
	_ = s.Send("echo", env.Event)
}

func (d *recordingDispatcher) snapshot() ([]*Session, []*Session, []Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.connected...), append([]*Session(nil), d.disconnected...), append([]Envelope(nil), d.inbound...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readFrame(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env.Event, env.Data
}

func TestServer_Rejects_Missing_Or_Bad_Token(t *testing.T) {
	req := require.New(t)
	d := &recordingDispatcher{}
	auth := AuthenticatorFunc(func(token string) (string, error) {
		if token == "good" {
			return "alice", nil
		}
		return "", errors.New("bad token")
	})
	srv := httptest.NewServer(NewServer(zaptest.NewLogger(t), d, WithAuthenticator(auth)))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv)+"?token=nope", nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	connected, _, _ := d.snapshot()
	req.Empty(connected)
}

func TestServer_Bearer_Header_And_Query_Token(t *testing.T) {
	req := require.New(t)
	d := &recordingDispatcher{}
	auth := AuthenticatorFunc(func(token string) (string, error) {
		if token == "good" {
			return "alice", nil
		}
		return "", errors.New("bad token")
	})
	srv := httptest.NewServer(NewServer(zaptest.NewLogger(t), d, WithAuthenticator(auth)))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer good")
	c1, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	req.NoError(err)
	defer c1.Close()

	c2, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token=good", nil)
	req.NoError(err)
	defer c2.Close()

	req.Eventually(func() bool {
		connected, _, _ := d.snapshot()
		return len(connected) == 2
	}, 5*time.Second, 10*time.Millisecond)
	connected, _, _ := d.snapshot()
	for _, s := range connected {
		req.Equal("alice", s.AuthUserID)
	}
	req.NotEqual(connected[0].ID, connected[1].ID)
}

func TestServer_Pumps_Frames_In_Order(t *testing.T) {
	req := require.New(t)
	d := &recordingDispatcher{}
	srv := httptest.NewServer(NewServer(zaptest.NewLogger(t), d))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	req.NoError(err)

	// When the client sends three frames and one that is not an envelope
	for _, event := range []string{"identify", "sendMessage", "markRead"} {
		req.NoError(conn.WriteJSON(map[string]any{"event": event, "data": map[string]string{"k": "v"}}))
	}
	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	// Then they are dispatched in arrival order and the bad one yields an error event
	for _, want := range []string{"identify", "sendMessage", "markRead"} {
		event, data := readFrame(t, conn)
		req.Equal("echo", event)
		req.JSONEq(`"`+want+`"`, string(data))
	}
	event, data := readFrame(t, conn)
	req.Equal("error", event)
	req.Contains(string(data), "invalid_argument")

	_, _, inbound := d.snapshot()
	req.Len(inbound, 3)
	req.JSONEq(`{"k":"v"}`, string(inbound[0].Data))

	// When the client goes away the session is disconnected
	req.NoError(conn.Close())
	req.Eventually(func() bool {
		_, disconnected, _ := d.snapshot()
		return len(disconnected) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServer_Closed_Session_Closes_Socket(t *testing.T) {
	req := require.New(t)
	d := &recordingDispatcher{}
	srv := httptest.NewServer(NewServer(zaptest.NewLogger(t), d))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	req.NoError(err)
	defer conn.Close()

	req.Eventually(func() bool {
		connected, _, _ := d.snapshot()
		return len(connected) == 1
	}, 5*time.Second, 10*time.Millisecond)
	connected, _, _ := d.snapshot()

	// When the owner closes the session server side
	req.NoError(connected[0].Send("bye", nil))
	connected[0].Close()

	// Then the queued frame drains before the close frame
	event, _ := readFrame(t, conn)
	req.Equal("bye", event)
	req.NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	_, _, err = conn.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure), err)
}

func TestServer_Refused_Connect(t *testing.T) {
	req := require.New(t)
	d := &recordingDispatcher{refuse: errors.New("stopped")}
	srv := httptest.NewServer(NewServer(zaptest.NewLogger(t), d))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	req.NoError(err)
	defer conn.Close()

	req.NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	_, _, err = conn.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.CloseTryAgainLater), err)
}
