// Package metrics holds OpenTelemetry helpers shared by the daemons.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

// Prefix namespaces every instrument created by auctionhoused.
const Prefix = "auctionhoused"

// Meter creates the daemon's instruments. It delegates to the global meter
// provider installed at startup.
var Meter = metric.Must(global.Meter(Prefix))

var (
	// AttrOK is a metric tag to indicate a successful operation.
	AttrOK = attribute.Key("status").String("ok")
	// AttrError is a metric tag to indicate a failed operation.
	AttrError = attribute.Key("status").String("error")
)

// AttrOp tags a metric with the operation name.
func AttrOp(op string) attribute.KeyValue {
	return attribute.Key("op").String(op)
}

// AttrKind tags a metric with an auction kind.
func AttrKind(kind string) attribute.KeyValue {
	return attribute.Key("kind").String(kind)
}

// MetricIncrCounter increments m by 1, tagged with AttrOK or AttrError
// depending on err. It's meant to be deferred.
func MetricIncrCounter(ctx context.Context, err error, m metric.Int64Counter, labels ...attribute.KeyValue) {
	attr := AttrOK
	if err != nil {
		attr = AttrError
	}
	m.Add(ctx, 1, append(labels, attr)...)
}
