package dex

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type fakeNonceReader struct {
	mu      sync.Mutex
	pending uint64
	calls   int
	err     error
}

func (f *fakeNonceReader) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pending, f.err
}

func TestNonceSource_SequentialAfterPriming(t *testing.T) {
	reader := &fakeNonceReader{pending: 7}
	var src nonceSource

	for i, want := range []uint64{7, 8, 9} {
		got, err := src.Next(context.Background(), reader, common.Address{})
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("allocation %d = %d, want %d", i, got, want)
		}
	}
	if reader.calls != 1 {
		t.Errorf("pending count read %d times, want once", reader.calls)
	}
}

func TestNonceSource_ResetReprimes(t *testing.T) {
	reader := &fakeNonceReader{pending: 3}
	var src nonceSource

	if _, err := src.Next(context.Background(), reader, common.Address{}); err != nil {
		t.Fatal(err)
	}
	reader.pending = 11
	src.Reset()

	got, err := src.Next(context.Background(), reader, common.Address{})
	if err != nil {
		t.Fatal(err)
	}
	if got != 11 {
		t.Errorf("nonce after reset = %d, want 11", got)
	}
}

func TestNonceSource_NoCollisionsUnderConcurrency(t *testing.T) {
	reader := &fakeNonceReader{pending: 0}
	var src nonceSource

	const n = 50
	results := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nonce, err := src.Next(context.Background(), reader, common.Address{})
			if err != nil {
				t.Error(err)
				return
			}
			results <- nonce
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint64]bool, n)
	for nonce := range results {
		if seen[nonce] {
			t.Fatalf("nonce %d allocated twice", nonce)
		}
		seen[nonce] = true
	}
	if len(seen) != n {
		t.Errorf("allocated %d distinct nonces, want %d", len(seen), n)
	}
}

func TestNonceSource_PrimingErrorPropagates(t *testing.T) {
	reader := &fakeNonceReader{err: errors.New("node down")}
	var src nonceSource
	if _, err := src.Next(context.Background(), reader, common.Address{}); err == nil {
		t.Fatal("expected priming error")
	}
}
