package dex

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type pendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// nonceSource hands out transaction nonces for one account. The chain's
// pending count is read once and incremented locally under a mutex, so
// two goroutines placing swaps in the same block cannot collide.
type nonceSource struct {
	mu     sync.Mutex
	next   uint64
	primed bool
}

// Next returns the nonce to use for the next transaction.
func (n *nonceSource) Next(ctx context.Context, eth pendingNonceReader, account common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.primed {
		pending, err := eth.PendingNonceAt(ctx, account)
		if err != nil {
			return 0, err
		}
		n.next = pending
		n.primed = true
	}
	nonce := n.next
	n.next++
	return nonce, nil
}

// Reset forces a re-read of the pending count on the next allocation.
// Called after a nonce-related rejection, when the local counter has
// drifted from the chain's view.
func (n *nonceSource) Reset() {
	n.mu.Lock()
	n.primed = false
	n.mu.Unlock()
}
