// Package venue defines the contract between the order dispatcher and
// the concrete trading venues.
package venue

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quantfish/listingsniper/pkg/order"
)

// ErrVenueRejected marks an error where the venue actively refused the
// request: bad price, insufficient funds, underpriced transaction.
// Rejections are never retried automatically.
var ErrVenueRejected = errors.New("venue rejected request")

// ErrExecutionFailed marks a definitive on-venue failure of a
// submitted attempt: the venue settled the submission and it did not
// execute. Unlike a transient poll error, the attempt is known dead
// and a replacement cannot double-fill.
var ErrExecutionFailed = errors.New("order execution failed")

// RejectionError wraps a venue's refusal with the venue name and the
// raw reason for the log line.
type RejectionError struct {
	Venue  string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s rejected order: %s", e.Venue, e.Reason)
}

func (e *RejectionError) Unwrap() error { return ErrVenueRejected }

// Receipt reports a submitted order attempt. For on-chain venues TxHash
// identifies the broadcast transaction; CEX venues fill LegIDs instead.
type Receipt struct {
	Venue  string
	TxHash string
	LegIDs []int64

	// SellQuantity/MinBuyQuantity are the amounts the submission was
	// built with, after any quoting and slippage adjustment.
	SellQuantity   decimal.Decimal
	MinBuyQuantity decimal.Decimal

	// NeedsConfirmation is set by venues whose submissions settle
	// asynchronously; the dispatcher hands such receipts to the
	// confirmation watcher.
	NeedsConfirmation bool
}

// Client places orders on one venue.
type Client interface {
	Name() string
	Place(ctx context.Context, o order.Order) (Receipt, error)
}
