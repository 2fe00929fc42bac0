// Package dispatch routes validated orders to venue clients and tracks
// submitted on-chain transactions until they confirm or time out.
//
// Per-order state machine: Unplaced -> Submitted -> Confirmed or
// ResubmitPending. A stuck transaction is never retransmitted; the
// order is re-enqueued as a fresh attempt with a new nonce and payload.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/quantfish/listingsniper/params"
	"github.com/quantfish/listingsniper/pkg/order"
	"github.com/quantfish/listingsniper/pkg/util"
	"github.com/quantfish/listingsniper/pkg/venue"
)

type State string

const (
	StateUnplaced        State = "unplaced"
	StateSubmitted       State = "submitted"
	StateConfirmed       State = "confirmed"
	StateResubmitPending State = "resubmit_pending"
)

// Confirmer polls whether a broadcast transaction has been mined.
type Confirmer interface {
	Confirmed(ctx context.Context, txHash common.Hash) (bool, error)
}

// Dispatcher owns the inbound order queue. Orders are taken one at a
// time and routed to the first registered client in the order's venue
// list; confirmation watching runs on its own goroutine per receipt.
type Dispatcher struct {
	cfg   params.Dispatch
	clock util.Clock
	log   *zap.SugaredLogger

	clients    map[string]venue.Client
	confirmers map[string]Confirmer

	orders chan order.Order
	wg     sync.WaitGroup
}

func New(cfg params.Dispatch, clock util.Clock, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		clock:      clock,
		log:        log,
		clients:    make(map[string]venue.Client),
		confirmers: make(map[string]Confirmer),
		orders:     make(chan order.Order, 64),
	}
}

// Register adds a venue client. Must be called before Run.
func (d *Dispatcher) Register(c venue.Client) {
	d.clients[c.Name()] = c
}

// RegisterConfirmable adds a venue client whose receipts settle
// asynchronously, with the poller that watches them.
func (d *Dispatcher) RegisterConfirmable(c venue.Client, conf Confirmer) {
	d.clients[c.Name()] = c
	d.confirmers[c.Name()] = conf
}

// Enqueue hands an order to the dispatcher. Blocks only when the queue
// is full.
func (d *Dispatcher) Enqueue(ctx context.Context, o order.Order) error {
	select {
	case d.orders <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth reports how many orders are waiting in the queue.
func (d *Dispatcher) Depth() int { return len(d.orders) }

// Run consumes the queue until ctx is cancelled, then waits for
// in-flight confirmation watchers to drain.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o := <-d.orders:
			d.dispatch(ctx, o)
		}
	}
}

// dispatch routes one order. Venue errors terminate the attempt; only
// confirmation timeouts feed back into the queue.
func (d *Dispatcher) dispatch(ctx context.Context, o order.Order) {
	client := d.route(o)
	if client == nil {
		d.log.Errorw("no_registered_venue", "order", o.String(), "venues", o.Venues)
		return
	}

	d.log.Infow("order_dispatched",
		"venue", client.Name(), "order", o.String(), "state", StateUnplaced)

	rcpt, err := client.Place(ctx, o)
	if err != nil {
		if errors.Is(err, venue.ErrVenueRejected) {
			d.log.Errorw("order_rejected", "venue", client.Name(), "order", o.String(), "err", err)
			return
		}
		d.log.Errorw("order_placement_failed", "venue", client.Name(), "order", o.String(), "err", err)
		return
	}

	d.log.Infow("order_submitted",
		"venue", rcpt.Venue,
		"order", o.String(),
		"state", StateSubmitted,
		"tx_hash", rcpt.TxHash,
		"leg_ids", rcpt.LegIDs)

	conf, ok := d.confirmers[client.Name()]
	if !rcpt.NeedsConfirmation || !ok {
		d.log.Infow("order_confirmed", "venue", rcpt.Venue, "order", o.String(), "state", StateConfirmed)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.watch(ctx, o, rcpt, conf)
	}()
}

// route returns the first registered client on the order's venue list.
func (d *Dispatcher) route(o order.Order) venue.Client {
	for _, v := range o.Venues {
		if c, ok := d.clients[v]; ok {
			return c
		}
	}
	return nil
}

// watch polls for inclusion of the receipt's transaction. On timeout
// the transaction is treated as stuck, not failed: it may still land
// later, so the original handle is left alone and a fresh attempt is
// queued instead.
func (d *Dispatcher) watch(ctx context.Context, o order.Order, rcpt venue.Receipt, conf Confirmer) {
	txHash := common.HexToHash(rcpt.TxHash)
	timeout := d.clock.After(d.cfg.ConfirmTimeout)

	for {
		select {
		case <-ctx.Done():
			return
		case <-timeout:
			d.resubmit(ctx, o, rcpt, "confirmation timeout")
			return
		case <-d.clock.After(d.cfg.ConfirmPoll):
			ok, err := conf.Confirmed(ctx, txHash)
			if err != nil {
				// Only a settled failure kills the attempt. A flaky
				// poll says nothing about the transaction, and
				// resubmitting on it would court a double fill, so
				// keep polling until the timeout.
				if errors.Is(err, venue.ErrExecutionFailed) {
					d.resubmit(ctx, o, rcpt, fmt.Sprintf("execution failed: %v", err))
					return
				}
				d.log.Warnw("confirmation_poll_failed",
					"venue", rcpt.Venue,
					"order", o.String(),
					"tx_hash", rcpt.TxHash,
					"err", err)
				continue
			}
			if ok {
				d.log.Infow("order_confirmed",
					"venue", rcpt.Venue,
					"order", o.String(),
					"state", StateConfirmed,
					"tx_hash", rcpt.TxHash)
				return
			}
		}
	}
}

// resubmit queues a fresh attempt, bounded by MaxAttempts. The stuck
// transaction can still confirm after the replacement fills, so every
// resubmission carries a double-fill risk; it is logged loudly rather
// than silently accepted.
func (d *Dispatcher) resubmit(ctx context.Context, o order.Order, rcpt venue.Receipt, reason string) {
	next := o.NextAttempt()
	if next.AttemptCount >= d.cfg.MaxAttempts {
		d.log.Errorw("order_abandoned",
			"venue", rcpt.Venue,
			"order", o.String(),
			"tx_hash", rcpt.TxHash,
			"reason", reason,
			"attempts", o.AttemptCount+1)
		return
	}

	d.log.Warnw("order_resubmit",
		"venue", rcpt.Venue,
		"order", o.String(),
		"state", StateResubmitPending,
		"tx_hash", rcpt.TxHash,
		"reason", reason,
		"next_attempt", next.AttemptCount,
		"double_fill_risk", true)

	if err := d.Enqueue(ctx, next); err != nil {
		d.log.Errorw("order_resubmit_failed", "order", next.String(), "err", err)
	}
}
