package hub_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/pulse/pkg/model"
	"github.com/mahaj/pulse/pkg/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Event == event {
			return f.Data
		}
	}
}

func TestHub_Over_Websocket(t *testing.T) {
	req := require.New(t)
	h := startHub(t, newStore(t))
	auth := transport.AuthenticatorFunc(func(token string) (string, error) {
		if strings.HasPrefix(token, "token-") {
			return strings.TrimPrefix(token, "token-"), nil
		}
		return "", errors.New("bad token")
	})
	mux := http.NewServeMux()
	mux.Handle("/ws", transport.NewServer(zaptest.NewLogger(t), h, transport.WithAuthenticator(auth)))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	alice := dial(t, srv, "token-alice")
	bob := dial(t, srv, "token-bob")

	// Given both identify with their tokens
	req.NoError(alice.WriteJSON(map[string]any{"event": model.EventIdentify, "data": map[string]string{}}))
	req.NoError(bob.WriteJSON(map[string]any{"event": model.EventIdentify, "data": map[string]string{"userId": "bob"}}))
	req.Eventually(func() bool { return len(sync(t, h)) == 2 }, wait, 10*time.Millisecond)

	// When alice writes to bob
	req.NoError(alice.WriteJSON(map[string]any{
		"event": model.EventSendMessage,
		"data":  map[string]string{"recipientUserId": "bob", "content": "over the wire"},
	}))

	// Then bob reads the message and alice the ack
	var got model.Message
	req.NoError(json.Unmarshal(readUntil(t, bob, model.EventGetMessage), &got))
	req.Equal("over the wire", got.Content)
	req.Equal("alice", got.SenderID)
	var hint model.MessageHint
	req.NoError(json.Unmarshal(readUntil(t, bob, model.EventNotification), &hint))
	req.Equal(got.ID, hint.MessageID)
	var ack model.Message
	req.NoError(json.Unmarshal(readUntil(t, alice, model.EventMessageSent), &ack))
	req.Equal(got.ID, ack.ID)

	// When bob hangs up, alice sees the smaller online set
	req.NoError(bob.Close())
	req.Eventually(func() bool {
		online := sync(t, h)
		return len(online) == 1 && online[0] == "alice"
	}, wait, 10*time.Millisecond)
	req.JSONEq(`["alice"]`, string(readUntil(t, alice, model.EventUsersOnline)))
}
