package msgbroker_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	mbroker "github.com/textileio/auctionhouse/msgbroker"
	"github.com/textileio/auctionhouse/msgbroker/localbroker"
)

type listener struct {
	lk     sync.Mutex
	events map[mbroker.TopicName][]mbroker.AuctionEvent
	phases []mbroker.AuctionEvent
}

func (l *listener) OnAuctionEvent(_ context.Context, topic mbroker.TopicName, ev mbroker.AuctionEvent) {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.events[topic] = append(l.events[topic], ev)
}

func (l *listener) OnAuctionPhaseChanged(_ context.Context, ev mbroker.AuctionEvent) error {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.phases = append(l.phases, ev)
	return nil
}

func TestRegisterHandlers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mb := localbroker.New()
	l := &listener{events: map[mbroker.TopicName][]mbroker.AuctionEvent{}}
	require.NoError(t, mbroker.RegisterHandlers(mb, l))

	ev := mbroker.AuctionEvent{AuctionID: "a1", Kind: "open", Party: "p", Amount: 150, Phase: "bidding"}
	require.NoError(t, mbroker.PublishMsgAuctionEvent(ctx, mb, mbroker.BidPlacedTopic, ev))
	require.NoError(t, mbroker.PublishMsgAuctionEvent(ctx, mb, mbroker.AuctionPhaseChangedTopic,
		mbroker.AuctionEvent{AuctionID: "a1", Kind: "open", Phase: "closed"}))

	require.Equal(t, 2, mb.TotalPublished())
	require.Equal(t, 1, mb.TotalPublishedTopic(mbroker.BidPlacedTopic))
	require.Len(t, l.events[mbroker.BidPlacedTopic], 1)
	got := l.events[mbroker.BidPlacedTopic][0]
	require.NotEmpty(t, got.OperationID)
	require.False(t, got.Ts.IsZero())
	require.Equal(t, uint64(150), got.Amount)
	require.Len(t, l.events[mbroker.AuctionPhaseChangedTopic], 1)
	require.Len(t, l.phases, 1)
	require.Equal(t, "closed", l.phases[0].Phase)

	data, err := mb.GetMsg(mbroker.BidPlacedTopic, 0)
	require.NoError(t, err)
	var decoded mbroker.AuctionEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, got.OperationID, decoded.OperationID)
	_, err = mb.GetMsg(mbroker.BidPlacedTopic, 1)
	require.Error(t, err)
}

func TestRegisterHandlersRequiresListener(t *testing.T) {
	t.Parallel()

	require.Error(t, mbroker.RegisterHandlers(localbroker.New(), struct{}{}))
}

func TestMalformedMessagesAreRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mb := localbroker.New()
	l := &listener{events: map[mbroker.TopicName][]mbroker.AuctionEvent{}}
	require.NoError(t, mbroker.RegisterHandlers(mb, l))
	require.NoError(t, mb.PublishMsg(ctx, mbroker.BidPlacedTopic, []byte("{")))
	require.NoError(t, mb.PublishMsg(ctx, mbroker.BidPlacedTopic, []byte(`{"operation_id":"x"}`)))
	require.Empty(t, l.events)
}

func TestWithACKDeadline(t *testing.T) {
	t.Parallel()

	c, err := mbroker.ApplyRegisterHandlerOptions(mbroker.WithACKDeadline(30_000_000_000))
	require.NoError(t, err)
	require.Equal(t, int64(30_000_000_000), int64(c.AckDeadline))
	_, err = mbroker.ApplyRegisterHandlerOptions(mbroker.WithACKDeadline(0))
	require.Error(t, err)
}
