// Package gpubsub implements msgbroker.MsgBroker over Google Cloud Pub/Sub.
package gpubsub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/textileio/auctionhouse/metrics"
	mbroker "github.com/textileio/auctionhouse/msgbroker"
	golog "github.com/textileio/go-log/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var log = golog.Logger("mbroker/gpubsub")

const emulatorProjectID = "auctionhouse-emulator"

// PubsubMsgBroker is a Pub/Sub implementation of msgbroker.MsgBroker.
type PubsubMsgBroker struct {
	subsName    string
	topicPrefix string

	client          *pubsub.Client
	clientCtx       context.Context
	clientCtxCancel context.CancelFunc
	receivers       sync.WaitGroup

	topicCacheLock sync.Mutex
	topicCache     map[mbroker.TopicName]*pubsub.Topic

	stats *brokerMetrics
}

var _ mbroker.MsgBroker = (*PubsubMsgBroker)(nil)

// New returns a new *PubsubMsgBroker. Every topic name is prefixed with
// topicPrefix, and subscriptions are named after subsName. When the
// PUBSUB_EMULATOR_HOST env var is set, projectID and apiKey may be empty.
func New(projectID, apiKey, topicPrefix, subsName string) (*PubsubMsgBroker, error) {
	var opts []option.ClientOption
	if os.Getenv("PUBSUB_EMULATOR_HOST") != "" {
		if projectID == "" {
			projectID = emulatorProjectID
		}
	} else {
		if projectID == "" {
			return nil, errors.New("project-id is empty")
		}
		if apiKey == "" {
			return nil, errors.New("api key is empty")
		}
		opts = append(opts, option.WithCredentialsJSON([]byte(apiKey)))
	}
	if subsName == "" {
		return nil, errors.New("subscription name is empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating pubsub client: %s", err)
	}

	p := &PubsubMsgBroker{
		subsName:    subsName,
		topicPrefix: topicPrefix,

		client:          client,
		clientCtx:       ctx,
		clientCtxCancel: cancel,

		topicCache: map[mbroker.TopicName]*pubsub.Topic{},
		stats:      newBrokerMetrics(metrics.Meter),
	}
	return p, nil
}

// RegisterTopicHandler implements msgbroker.MsgBroker. The subscription is
// created if it doesn't exist.
func (p *PubsubMsgBroker) RegisterTopicHandler(
	topicName mbroker.TopicName,
	handler mbroker.TopicHandler,
	opts ...mbroker.Option) error {
	config, err := mbroker.ApplyRegisterHandlerOptions(opts...)
	if err != nil {
		return fmt.Errorf("applying options: %s", err)
	}
	topic, err := p.getTopic(topicName)
	if err != nil {
		return fmt.Errorf("get topic: %s", err)
	}

	subName := p.topicPrefix + p.subsName + "-" + string(topicName)
	var sub *pubsub.Subscription
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	it := topic.Subscriptions(ctx)
	for {
		subi, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("looking for subscription: %s", err)
		}
		if subi.ID() == subName {
			sub = subi
			break
		}
	}
	if sub == nil {
		log.Warnf("creating subscription %s for topic %s", subName, topicName)
		sub, err = p.client.CreateSubscription(ctx, subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: config.AckDeadline,
		})
		if err != nil {
			return fmt.Errorf("creating subscription: %s", err)
		}
	}

	p.receivers.Add(1)
	go func() {
		defer p.receivers.Done()
		err := sub.Receive(p.clientCtx, func(ctx context.Context, m *pubsub.Message) {
			start := time.Now()
			err := handler(ctx, m.Data)
			p.stats.handled(ctx, topicName, m.Data, time.Since(start), err)
			if err != nil {
				log.Errorf("handling message %s in topic %s: %s", m.ID, topicName, err)
				m.Nack()
				return
			}
			m.Ack()
		})
		if err != nil {
			log.Errorf("receive handler subscription %s, topic %s: %s", subName, topicName, err)
		}
	}()

	log.Debugf("registered handler for %s:%s", subName, topicName)
	return nil
}

// PublishMsg implements msgbroker.MsgBroker.
func (p *PubsubMsgBroker) PublishMsg(ctx context.Context, topicName mbroker.TopicName, data []byte) (err error) {
	defer func() { p.stats.published(ctx, topicName, data, err) }()

	topic, err := p.getTopic(topicName)
	if err != nil {
		return fmt.Errorf("get topic: %s", err)
	}
	pr := topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := pr.Get(ctx); err != nil {
		return fmt.Errorf("publishing to pubsub: %s", err)
	}
	return nil
}

func (p *PubsubMsgBroker) getTopic(name mbroker.TopicName) (*pubsub.Topic, error) {
	p.topicCacheLock.Lock()
	defer p.topicCacheLock.Unlock()
	topic, ok := p.topicCache[name]
	if ok {
		return topic, nil
	}

	topicName := p.topicPrefix + string(name)
	topic = p.client.Topic(topicName)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	exist, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic exists: %s", err)
	}
	if !exist {
		log.Warnf("creating topic %s", topicName)
		topic, err = p.client.CreateTopic(ctx, topicName)
		if err != nil {
			return nil, fmt.Errorf("creating topic %s: %s", topicName, err)
		}
	}
	p.topicCache[name] = topic
	return topic, nil
}

// Close stops receiving messages, flushes pending publications, and closes
// the client.
func (p *PubsubMsgBroker) Close() error {
	p.clientCtxCancel()
	p.receivers.Wait()

	p.topicCacheLock.Lock()
	for _, t := range p.topicCache {
		t.Stop()
	}
	p.topicCacheLock.Unlock()

	if err := p.client.Close(); err != nil {
		return fmt.Errorf("closing pubsub client: %s", err)
	}
	return nil
}
