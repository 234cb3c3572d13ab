package hub_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/hub"
	"github.com/mahaj/pulse/pkg/metrics"
	"github.com/mahaj/pulse/pkg/mocks"
	"github.com/mahaj/pulse/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestHub_Persistence_Failure_Reports_Error_And_Skips_Delivery(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	m := metrics.New(prometheus.NewRegistry())
	h := startHub(t, gw, hub.WithMetrics(m))
	u1 := identify(t, h, "u1")
	u2 := identify(t, h, "u2")
	pending(t, u2)

	gw.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).
		Return(model.Message{}, fmt.Errorf("save message: %w: %w", errs.ErrPersistence, context.DeadlineExceeded))

	// When the store rejects the message
	send(h, u1, model.EventSendMessage, map[string]string{"recipientUserId": "u2", "content": "lost"})

	// Then the sender gets an error event and the recipient nothing
	var e model.ErrorPayload
	req.NoError(json.Unmarshal(await(t, u1, model.EventError), &e))
	req.Equal("persistence_failure", e.Code)
	sync(t, h)
	req.Empty(pending(t, u2))
	req.Equal(1.0, testutil.ToFloat64(m.PersistenceFailures.WithLabelValues("save_message")))
	req.Equal(0, testutil.CollectAndCount(m.Deliveries))
}

func TestHub_Completions_Keep_Submission_Order(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	h := startHub(t, gw)
	u1 := identify(t, h, "u1")
	u2 := identify(t, h, "u2")
	pending(t, u2)

	release := make(chan struct{})
	secondSaved := make(chan struct{})
	save := func(_ context.Context, msg model.Message) (model.Message, error) {
		switch msg.Content {
		case "first":
			<-release
		case "second":
			close(secondSaved)
		}
		return msg, nil
	}
	gw.EXPECT().SaveMessage(gomock.Any(), gomock.Any()).DoAndReturn(save).Times(2)

	// Given the first save is slower than the second
	send(h, u1, model.EventSendMessage, map[string]string{"recipientUserId": "u2", "content": "first"})
	send(h, u1, model.EventSendMessage, map[string]string{"recipientUserId": "u2", "content": "second"})
	<-secondSaved
	close(release)

	// Then acks and deliveries still follow submission order
	var ack model.Message
	req.NoError(json.Unmarshal(await(t, u1, model.EventMessageSent), &ack))
	req.Equal("first", ack.Content)
	req.NoError(json.Unmarshal(await(t, u1, model.EventMessageSent), &ack))
	req.Equal("second", ack.Content)

	var got model.Message
	req.NoError(json.Unmarshal(await(t, u2, model.EventGetMessage), &got))
	req.Equal("first", got.Content)
	req.NoError(json.Unmarshal(await(t, u2, model.EventGetMessage), &got))
	req.Equal("second", got.Content)
}

func TestHub_Mark_Read_Failure_Is_Counted(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	m := metrics.New(prometheus.NewRegistry())
	h := startHub(t, gw, hub.WithMetrics(m))
	u1 := identify(t, h, "u1")

	gw.EXPECT().MarkRead(gomock.Any(), "u1", int64(99)).Return(fmt.Errorf("mark read: %w", errs.ErrPersistence))

	send(h, u1, model.EventMarkRead, map[string]int64{"id": 99})

	req.Contains(string(await(t, u1, model.EventError)), "persistence_failure")
	req.Equal(1.0, testutil.ToFloat64(m.PersistenceFailures.WithLabelValues("mark_read")))
}
