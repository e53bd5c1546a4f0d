package engine

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// cellLocks serializes transactions whose account sets overlap. Keys are
// always taken in ascending byte order, so two lock sets cannot deadlock.
type cellLocks struct {
	mu    sync.Mutex
	cells map[solana.PublicKey]*cellLock
}

type cellLock struct {
	ch   chan struct{}
	refs int
}

func newCellLocks() *cellLocks {
	return &cellLocks{cells: map[solana.PublicKey]*cellLock{}}
}

func (l *cellLocks) ref(k solana.PublicKey) *cellLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.cells[k]
	if !ok {
		c = &cellLock{ch: make(chan struct{}, 1)}
		l.cells[k] = c
	}
	c.refs++
	return c
}

func (l *cellLocks) unref(k solana.PublicKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.cells[k]
	c.refs--
	if c.refs == 0 {
		delete(l.cells, k)
	}
}

// acquire locks every key and returns the release func. It gives up with
// ctx.Err() when ctx ends first.
func (l *cellLocks) acquire(ctx context.Context, keys []solana.PublicKey) (func(), error) {
	sorted := append([]solana.PublicKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i][:], sorted[j][:]) < 0 })

	type heldLock struct {
		key  solana.PublicKey
		lock *cellLock
	}
	held := make([]heldLock, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].lock.ch
			l.unref(held[i].key)
		}
	}
	for i, k := range sorted {
		if i > 0 && k == sorted[i-1] {
			continue
		}
		c := l.ref(k)
		select {
		case c.ch <- struct{}{}:
			held = append(held, heldLock{key: k, lock: c})
		case <-ctx.Done():
			l.unref(k)
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}
