package store

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestBadger(t *testing.T) *Badger {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	require.NoError(t, err)
	b := NewBadger(db, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func message(id int64, chatID, sender, content string) model.Message {
	return model.Message{
		ID:         id,
		ChatID:     chatID,
		SenderID:   sender,
		Recipients: []string{"bob"},
		Content:    content,
		CreatedAt:  time.Unix(1700000000+id, 0).UTC(),
	}
}

func Test_Save_And_List_Conversation_Newest_First(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := newTestBadger(t)
	chatID := model.DMChannelID("alice", "bob")

	for i, content := range []string{"hi", "how are you", "ping"} {
		_, err := b.SaveMessage(ctx, message(int64(i+1), chatID, "alice", content))
		req.NoError(err)
	}
	// Another chat whose id shares a textual prefix must not leak in
	_, err := b.SaveMessage(ctx, message(10, chatID+"x", "alice", "other"))
	req.NoError(err)

	page, err := b.ListConversation(ctx, chatID, Page{})
	req.NoError(err)
	req.Empty(page.Next)
	req.Len(page.Items, 3)
	req.Equal("ping", page.Items[0].Content)
	req.Equal("hi", page.Items[2].Content)
	req.Equal(message(1, chatID, "alice", "hi"), page.Items[2])
}

func Test_List_Conversation_Pages_With_Cursor(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := newTestBadger(t)

	for id := int64(1); id <= 5; id++ {
		_, err := b.SaveMessage(ctx, message(id, "general", "alice", "m"))
		req.NoError(err)
	}

	first, err := b.ListConversation(ctx, "general", Page{Limit: 2})
	req.NoError(err)
	req.Equal([]int64{5, 4}, ids(first.Items))
	req.NotEmpty(first.Next)

	second, err := b.ListConversation(ctx, "general", Page{Cursor: first.Next, Limit: 2})
	req.NoError(err)
	req.Equal([]int64{3, 2}, ids(second.Items))

	third, err := b.ListConversation(ctx, "general", Page{Cursor: second.Next, Limit: 2})
	req.NoError(err)
	req.Equal([]int64{1}, ids(third.Items))
	req.Empty(third.Next)

	// A plain decimal cursor works as well
	fromFour, err := b.ListConversation(ctx, "general", Page{Cursor: "4", Limit: 10})
	req.NoError(err)
	req.Equal([]int64{3, 2, 1}, ids(fromFour.Items))
}

func Test_List_Rejects_Bad_Input(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := newTestBadger(t)

	_, err := b.ListConversation(ctx, "", Page{})
	req.ErrorIs(err, errs.ErrInvalidArgument)

	_, err = b.ListConversation(ctx, "general", Page{Cursor: "abc"})
	req.ErrorIs(err, errs.ErrInvalidArgument)

	_, err = b.ListNotifications(ctx, "", Page{})
	req.ErrorIs(err, errs.ErrInvalidArgument)
}

func Test_Save_Rejects_Invalid_Records(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := newTestBadger(t)

	_, err := b.SaveMessage(ctx, model.Message{ChatID: "general", SenderID: "alice"})
	req.ErrorIs(err, errs.ErrInvalidArgument)

	_, err = b.SaveNotification(ctx, model.NotificationEvent{ID: 1, RecipientID: "bob", Type: "poke"})
	req.ErrorIs(err, errs.ErrInvalidArgument)
}

func Test_Save_Fails_On_Cancelled_Context(t *testing.T) {
	req := require.New(t)
	b := newTestBadger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.SaveMessage(ctx, message(1, "general", "alice", "hi"))
	req.ErrorIs(err, errs.ErrPersistence)
	req.ErrorIs(err, context.Canceled)
}

func Test_Notifications_And_MarkRead(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := newTestBadger(t)

	evt := model.NotificationEvent{
		ID:          42,
		RecipientID: "bob",
		SenderID:    "alice",
		Type:        model.NotificationLike,
		SubjectRef:  "post:7",
		CreatedAt:   time.Unix(1700000000, 0).UTC(),
	}
	_, err := b.SaveNotification(ctx, evt)
	req.NoError(err)
	_, err = b.SaveMessage(ctx, message(43, "general", "alice", "hi"))
	req.NoError(err)

	// Given neither the sender nor an outsider may mark them
	for _, user := range []string{"alice", "mallory"} {
		req.ErrorIs(b.MarkRead(ctx, user, 42), errs.ErrUnauthorized, user)
		req.ErrorIs(b.MarkRead(ctx, user, 43), errs.ErrUnauthorized, user)
	}
	unread, err := b.ListNotifications(ctx, "bob", Page{})
	req.NoError(err)
	req.False(unread.Items[0].Read)

	// When the recipient marks both records read by id
	req.NoError(b.MarkRead(ctx, "bob", 42))
	req.NoError(b.MarkRead(ctx, "bob", 43))

	// Then the read flag is persisted
	notifications, err := b.ListNotifications(ctx, "bob", Page{})
	req.NoError(err)
	req.Len(notifications.Items, 1)
	req.True(notifications.Items[0].Read)
	req.Equal("post:7", notifications.Items[0].SubjectRef)

	messages, err := b.ListConversation(ctx, "general", Page{})
	req.NoError(err)
	req.True(messages.Items[0].Read)

	// And unknown ids are reported as not found
	req.ErrorIs(b.MarkRead(ctx, "bob", 99), errs.ErrNotFound)
}

func ids(messages []model.Message) []int64 {
	out := make([]int64, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}
