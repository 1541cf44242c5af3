package gpubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/textileio/auctionhouse/metrics"
	mbroker "github.com/textileio/auctionhouse/msgbroker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// brokerMetrics counts auction events crossing Pub/Sub. Publishes and
// deliveries share one counter split by op, topic, auction kind and status.
type brokerMetrics struct {
	events         metric.Int64Counter
	handleDuration metric.Int64Histogram
}

func newBrokerMetrics(meter metric.MeterMust) *brokerMetrics {
	return &brokerMetrics{
		events:         meter.NewInt64Counter(metrics.Prefix + ".gpubsub_events_total"),
		handleDuration: meter.NewInt64Histogram(metrics.Prefix + ".gpubsub_handle_duration_millis"),
	}
}

// eventAttrs tags a message with its topic and the kind of auction it's about.
// Payloads that aren't auction events are tagged with kind "unknown".
func eventAttrs(topic mbroker.TopicName, data []byte) []attribute.KeyValue {
	var ev struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &ev); err != nil || ev.Kind == "" {
		ev.Kind = "unknown"
	}
	return []attribute.KeyValue{
		attribute.Key("topic").String(string(topic)),
		metrics.AttrKind(ev.Kind),
	}
}

func (m *brokerMetrics) published(ctx context.Context, topic mbroker.TopicName, data []byte, err error) {
	attrs := append(eventAttrs(topic, data), metrics.AttrOp("publish"))
	metrics.MetricIncrCounter(ctx, err, m.events, attrs...)
}

func (m *brokerMetrics) handled(ctx context.Context, topic mbroker.TopicName, data []byte, took time.Duration, err error) {
	attrs := append(eventAttrs(topic, data), metrics.AttrOp("handle"))
	metrics.MetricIncrCounter(ctx, err, m.events, attrs...)
	status := metrics.AttrOK
	if err != nil {
		status = metrics.AttrError
	}
	m.handleDuration.Record(ctx, took.Milliseconds(), append(attrs, status)...)
}
