// Package synclock serializes work per key. Syncs of the same user and
// provider must not interleave because each one deletes what the previous
// one wrote.
package synclock

import (
	"context"
	"strings"
	"sync"
)

// Keyed hands out one exclusive lock per key. Idle keys are dropped.
type Keyed struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

// New constructs an empty Keyed lock set.
func New() *Keyed {
	return &Keyed{slots: make(map[string]*slot)}
}

// Key builds the lock key of a (user, provider) scope.
func Key(userID, provider string) string {
	return strings.TrimSpace(userID) + "|" + strings.ToLower(strings.TrimSpace(provider))
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the lock and is safe to call more than once.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			k.release(key, s)
		})
	}, nil
}

func (k *Keyed) release(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

// Len reports the number of keys currently held or awaited.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
