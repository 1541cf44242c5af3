package msgbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TopicHandler is function that processes a received message.
// If no error is returned, the message will be automatically acked.
// If an error is returned, the message will be automatically nacked.
type TopicHandler func(context.Context, []byte) error

// MsgBroker is a message-broker for async message communication.
type MsgBroker interface {
	// RegisterTopicHandler registers a handler to a topic, with a defined
	// subscription defined by the underlying implementation. Is highly recommended
	// to register handlers in a type-safe way using RegisterHandlers().
	RegisterTopicHandler(topic TopicName, handler TopicHandler, opts ...Option) error

	// PublishMsg publishes a message to the desired topic.
	PublishMsg(ctx context.Context, topicName TopicName, data []byte) error
}

// TopicName is a topic name.
type TopicName string

const (
	// AuctionCreatedTopic is the topic name for auction-created messages.
	AuctionCreatedTopic TopicName = "auction-created"
	// AuctionCancelledTopic is the topic name for auction-cancelled messages.
	AuctionCancelledTopic TopicName = "auction-cancelled"
	// BidPlacedTopic is the topic name for bid-placed messages.
	BidPlacedTopic TopicName = "bid-placed"
	// BidCommittedTopic is the topic name for bid-committed messages.
	BidCommittedTopic TopicName = "bid-committed"
	// BidRevealedTopic is the topic name for bid-revealed messages.
	BidRevealedTopic TopicName = "bid-revealed"
	// BidReclaimedTopic is the topic name for bid-reclaimed messages.
	BidReclaimedTopic TopicName = "bid-reclaimed"
	// ItemWithdrawnTopic is the topic name for item-withdrawn messages.
	ItemWithdrawnTopic TopicName = "item-withdrawn"
	// WinningBidWithdrawnTopic is the topic name for winning-bid-withdrawn messages.
	WinningBidWithdrawnTopic TopicName = "winning-bid-withdrawn"
	// ItemReclaimedTopic is the topic name for item-reclaimed messages.
	ItemReclaimedTopic TopicName = "item-reclaimed"
	// AuctionPhaseChangedTopic is the topic name for auction-phase-changed messages.
	AuctionPhaseChangedTopic TopicName = "auction-phase-changed"
)

// AuctionEventTopics lists the topics carrying AuctionEvent messages.
var AuctionEventTopics = []TopicName{
	AuctionCreatedTopic,
	AuctionCancelledTopic,
	BidPlacedTopic,
	BidCommittedTopic,
	BidRevealedTopic,
	BidReclaimedTopic,
	ItemWithdrawnTopic,
	WinningBidWithdrawnTopic,
	ItemReclaimedTopic,
	AuctionPhaseChangedTopic,
}

// OperationID is a unique identifier for messages.
type OperationID string

// AuctionEvent describes a committed change to an auction. Party and Amount
// are set when the change involves a participant or funds.
type AuctionEvent struct {
	OperationID OperationID `json:"operation_id"`
	AuctionID   string      `json:"auction_id"`
	Kind        string      `json:"kind"`
	Party       string      `json:"party,omitempty"`
	Amount      uint64      `json:"amount,omitempty"`
	Phase       string      `json:"phase"`
	Ts          time.Time   `json:"ts"`
}

// AuctionEventsListener is a handler for auction event topics.
// Note that the method does not return error, since the caller can do nothing
// if something happens on the consuming side.
type AuctionEventsListener interface {
	OnAuctionEvent(context.Context, TopicName, AuctionEvent)
}

// AuctionPhaseChangedListener is a handler for the auction-phase-changed topic.
type AuctionPhaseChangedListener interface {
	OnAuctionPhaseChanged(context.Context, AuctionEvent) error
}

// PublishMsgAuctionEvent publishes ev to topic, filling in the operation id
// and timestamp when unset.
func PublishMsgAuctionEvent(ctx context.Context, mb MsgBroker, topic TopicName, ev AuctionEvent) error {
	if ev.OperationID == "" {
		ev.OperationID = OperationID(uuid.New().String())
	}
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %s", topic, err)
	}
	if err := mb.PublishMsg(ctx, topic, data); err != nil {
		return fmt.Errorf("publishing to %s topic: %s", topic, err)
	}
	return nil
}

func unmarshalAuctionEvent(data []byte) (AuctionEvent, error) {
	var ev AuctionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal auction event: %s", err)
	}
	if ev.AuctionID == "" {
		return ev, errors.New("auction id is empty")
	}
	if ev.OperationID == "" {
		return ev, errors.New("operation id is empty")
	}
	return ev, nil
}

// RegisterHandlers automatically calls mb.RegisterTopicHandler in the methods that
// s might satisfy on known XXXListener interfaces. This allows to automatically wire
// s to receive messages from topics of implemented handlers.
func RegisterHandlers(mb MsgBroker, s interface{}, opts ...Option) error {
	var countRegistered int
	if l, ok := s.(AuctionEventsListener); ok {
		countRegistered++
		for _, topic := range AuctionEventTopics {
			topic := topic
			err := mb.RegisterTopicHandler(topic, func(ctx context.Context, data []byte) error {
				ev, err := unmarshalAuctionEvent(data)
				if err != nil {
					return err
				}
				l.OnAuctionEvent(ctx, topic, ev)
				return nil
			}, opts...)
			if err != nil {
				return fmt.Errorf("registering handler for %s topic: %s", topic, err)
			}
		}
	}

	if l, ok := s.(AuctionPhaseChangedListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(AuctionPhaseChangedTopic, func(ctx context.Context, data []byte) error {
			ev, err := unmarshalAuctionEvent(data)
			if err != nil {
				return err
			}
			if ev.Phase == "" {
				return errors.New("phase is empty")
			}
			if err := l.OnAuctionPhaseChanged(ctx, ev); err != nil {
				return fmt.Errorf("calling on-auction-phase-changed handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for auction-phase-changed topic: %s", err)
		}
	}

	if countRegistered == 0 {
		return errors.New("no handlers were registered")
	}

	return nil
}
