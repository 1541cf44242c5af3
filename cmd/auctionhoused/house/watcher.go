package house

import (
	"context"
	"fmt"
	"time"

	"github.com/textileio/auctionhouse/auction"
	"github.com/textileio/auctionhouse/cmd/auctionhoused/store"
	mbroker "github.com/textileio/auctionhouse/msgbroker"
)

func (h *House) watchDeadlines() {
	defer h.finished.Done()
	ticker := time.NewTicker(h.conf.DeadlinePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.AnnouncePhases(h.ctx); err != nil {
				log.Errorf("announcing phase changes: %s", err)
			}
		}
	}
}

// AnnouncePhases publishes an auction-phase-changed event for every auction
// whose phase moved since it was last announced. It returns the number of
// events published.
func (h *House) AnnouncePhases(ctx context.Context) (int, error) {
	ids, err := h.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending auctions: %s", err)
	}
	var count int
	for _, id := range ids {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		changed, err := h.announcePhase(ctx, id)
		if err != nil {
			log.Errorf("announcing phase of auction %s: %s", id, err)
			continue
		}
		if changed {
			count++
		}
	}
	return count, nil
}

func (h *House) announcePhase(ctx context.Context, id auction.ID) (bool, error) {
	unlock, err := h.locks.Acquire(ctx, string(id))
	if err != nil {
		return false, err
	}
	now := h.clock.Now()

	var (
		r     *store.Record
		phase auction.Phase
	)
	err = h.inTxn(ctx, func(txnCtx context.Context) error {
		var err error
		r, err = h.store.Get(txnCtx, id)
		if err != nil {
			return err
		}
		phase = r.Auction().Phase(now)
		if phase == r.AnnouncedPhase {
			r = nil
			return nil
		}
		r.AnnouncedPhase = phase
		return h.store.Save(txnCtx, r)
	})
	unlock()
	if err != nil || r == nil {
		return false, err
	}

	h.metricPhaseChanges.Add(ctx, 1)
	log.Infof("auction %s is now %s", id, phase)
	h.publish(ctx, mbroker.AuctionPhaseChangedTopic, r, auction.PartyID{}, nil, now)
	return true, nil
}
