// Package localbroker is an in-process message broker. Published messages
// are kept in memory and delivered synchronously to registered handlers.
package localbroker

import (
	"context"
	"fmt"
	"sync"

	mbroker "github.com/textileio/auctionhouse/msgbroker"
	golog "github.com/textileio/go-log/v2"
)

var log = golog.Logger("mbroker/local")

// LocalMsgBroker implements msgbroker.MsgBroker in memory.
type LocalMsgBroker struct {
	lock          sync.Mutex
	topicMessages map[mbroker.TopicName][][]byte
	handlers      map[mbroker.TopicName][]mbroker.TopicHandler
}

var _ mbroker.MsgBroker = (*LocalMsgBroker)(nil)

// New returns an empty broker.
func New() *LocalMsgBroker {
	return &LocalMsgBroker{
		topicMessages: map[mbroker.TopicName][][]byte{},
		handlers:      map[mbroker.TopicName][]mbroker.TopicHandler{},
	}
}

// RegisterTopicHandler implements msgbroker.MsgBroker.
func (b *LocalMsgBroker) RegisterTopicHandler(
	topicName mbroker.TopicName,
	handler mbroker.TopicHandler,
	opts ...mbroker.Option) error {
	if _, err := mbroker.ApplyRegisterHandlerOptions(opts...); err != nil {
		return fmt.Errorf("applying options: %s", err)
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	b.handlers[topicName] = append(b.handlers[topicName], handler)
	return nil
}

// PublishMsg implements msgbroker.MsgBroker. Handler errors are logged; a
// failing handler doesn't fail the publication.
func (b *LocalMsgBroker) PublishMsg(ctx context.Context, topicName mbroker.TopicName, data []byte) error {
	b.lock.Lock()
	b.topicMessages[topicName] = append(b.topicMessages[topicName], data)
	handlers := append([]mbroker.TopicHandler(nil), b.handlers[topicName]...)
	b.lock.Unlock()

	for _, h := range handlers {
		if err := h(ctx, data); err != nil {
			log.Errorf("handling message in topic %s: %s", topicName, err)
		}
	}
	return nil
}

// TotalPublished returns the number of messages published to all topics.
func (b *LocalMsgBroker) TotalPublished() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	var count int
	for _, msgs := range b.topicMessages {
		count += len(msgs)
	}
	return count
}

// TotalPublishedTopic returns the number of messages published to a topic.
func (b *LocalMsgBroker) TotalPublishedTopic(name mbroker.TopicName) int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.topicMessages[name])
}

// GetMsg returns the idx-th message published to a topic.
func (b *LocalMsgBroker) GetMsg(name mbroker.TopicName, idx int) ([]byte, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	topic := b.topicMessages[name]
	if idx >= len(topic) {
		return nil, fmt.Errorf("topic queue has length %d smaller than idx access %d", len(topic), idx)
	}
	return topic[idx], nil
}
