package core

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// domainLocks serializes runs on the same domain within this process.
type domainLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*domainLock
}

type domainLock struct {
	ch   chan struct{}
	refs int
}

func newDomainLocks() *domainLocks {
	return &domainLocks{m: make(map[uuid.UUID]*domainLock)}
}

// Lock waits for the domain's lock and returns its release func.
func (l *domainLocks) Lock(ctx context.Context, id uuid.UUID) (func(), error) {
	l.mu.Lock()
	dl, ok := l.m[id]
	if !ok {
		dl = &domainLock{ch: make(chan struct{}, 1)}
		l.m[id] = dl
	}
	dl.refs++
	l.mu.Unlock()

	select {
	case dl.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-dl.ch
				l.forget(id, dl)
			})
		}, nil
	case <-ctx.Done():
		l.forget(id, dl)
		return nil, ctx.Err()
	}
}

func (l *domainLocks) forget(id uuid.UUID, dl *domainLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dl.refs--
	if dl.refs == 0 {
		delete(l.m, id)
	}
}
