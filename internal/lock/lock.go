package lock

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ec-cart-consistency/internal/model"
)

// Locker serializes work on one owner's cart. Different owners never block
// each other.
type Locker interface {
	// Lock blocks until the owner is held or ctx is done. The returned func
	// releases it.
	Lock(ctx context.Context, owner model.OwnerKey) (func(), error)
}

// LockAll acquires every owner in a stable order and releases them in reverse.
func LockAll(ctx context.Context, l Locker, owners ...model.OwnerKey) (func(), error) {
	sorted := append([]model.OwnerKey(nil), owners...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	releases := make([]func(), 0, len(sorted))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for i, owner := range sorted {
		if i > 0 && owner == sorted[i-1] {
			continue
		}
		release, err := l.Lock(ctx, owner)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// Local is an in-process Locker.
type Local struct {
	mu    sync.Mutex
	slots map[model.OwnerKey]*slot
}

type slot struct {
	ch      chan struct{}
	waiters int
}

func NewLocal() *Local {
	return &Local{slots: make(map[model.OwnerKey]*slot)}
}

// Lock implements Locker.
func (l *Local) Lock(ctx context.Context, owner model.OwnerKey) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[owner]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[owner] = s
	}
	s.waiters++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(owner, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(owner, s)
		})
	}, nil
}

func (l *Local) drop(owner model.OwnerKey, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.waiters--
	if s.waiters == 0 {
		delete(l.slots, owner)
	}
}

// held reports how many owners currently have a slot.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
