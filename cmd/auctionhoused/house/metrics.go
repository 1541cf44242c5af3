package house

import (
	"context"
	"sync/atomic"

	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/metrics"
	"go.opentelemetry.io/otel/metric"
)

func (h *House) initMetrics() {
	h.metricNewAuction = metrics.Meter.NewInt64Counter(metrics.Prefix + ".auctions_total")
	h.metricOperations = metrics.Meter.NewInt64Counter(metrics.Prefix + ".operations_total")
	h.metricEscrowed = metrics.Meter.NewInt64Counter(metrics.Prefix + ".escrowed_currency_total")
	h.metricReleased = metrics.Meter.NewInt64Counter(metrics.Prefix + ".released_currency_total")
	h.metricPhaseChanges = metrics.Meter.NewInt64Counter(metrics.Prefix + ".phase_changes_total")
	h.metricLastCreatedAuction = metrics.Meter.NewInt64GaugeObserver(
		metrics.Prefix+".last_created_auction_epoch",
		h.lastCreatedAuctionCb)
}

func (h *House) lastCreatedAuctionCb(_ context.Context, r metric.Int64ObserverResult) {
	r.Observe(atomic.LoadInt64(&h.statLastCreatedAuction))
}

func (h *House) recordTransfers(ctx context.Context, ts []auction.Transfer) {
	held, released := auction.Balance(ts)
	if held > 0 {
		h.metricEscrowed.Add(ctx, int64(held))
	}
	if released > 0 {
		h.metricReleased.Add(ctx, int64(released))
	}
}
