package engine

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
)

func TestCellLocksSerializeOverlap(t *testing.T) {
	l := newCellLocks()
	a, b, c := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	ctx := context.Background()

	release, err := l.acquire(ctx, []solana.PublicKey{a, b, a})
	if err != nil {
		t.Fatal(err)
	}

	disjoint, err := l.acquire(ctx, []solana.PublicKey{c})
	if err != nil {
		t.Fatalf("disjoint set must not wait: %v", err)
	}
	disjoint()

	got := make(chan struct{})
	go func() {
		r, err := l.acquire(ctx, []solana.PublicKey{c, b})
		if err == nil {
			r()
		}
		close(got)
	}()
	select {
	case <-got:
		t.Fatalf("overlapping set acquired while held")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatalf("overlapping set never acquired")
	}
	if len(l.cells) != 0 {
		t.Fatalf("expected lock table to drain, %d left", len(l.cells))
	}
}

func TestCellLocksHonorContext(t *testing.T) {
	l := newCellLocks()
	k := solana.NewWallet().PublicKey()
	release, err := l.acquire(context.Background(), []solana.PublicKey{k})
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.acquire(ctx, []solana.PublicKey{k}); err == nil {
		t.Fatalf("expected context error")
	}
}
