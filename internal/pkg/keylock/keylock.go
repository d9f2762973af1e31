// Package keylock provides FIFO mutual exclusion scoped by string key.
//
// Waiters on the same key are granted the lock in the order they asked for
// it. Keys without holders or waiters are dropped, so the map only grows with
// the number of keys in active use.
package keylock

import (
	"container/list"
	"context"
	"sync"
)

type queue struct {
	held    bool
	waiters *list.List // of chan struct{}
}

type Locker struct {
	mu     sync.Mutex
	queues map[string]*queue
}

func New() *Locker {
	return &Locker{queues: make(map[string]*queue)}
}

// Lock blocks until the key is free or ctx is done. The returned function
// releases the lock and is safe to call more than once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	q, ok := l.queues[key]
	if !ok {
		q = &queue{waiters: list.New()}
		l.queues[key] = q
	}
	if !q.held {
		q.held = true
		l.mu.Unlock()
		return l.unlocker(key), nil
	}

	ch := make(chan struct{})
	elem := q.waiters.PushBack(ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return l.unlocker(key), nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-ch:
			// handed over while we were giving up
			l.mu.Unlock()
			l.release(key)
		default:
			q.waiters.Remove(elem)
			l.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

// Active returns the number of keys currently held or waited on.
func (l *Locker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}

func (l *Locker) unlocker(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key) })
	}
}

func (l *Locker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, ok := l.queues[key]
	if !ok {
		return
	}
	if front := q.waiters.Front(); front != nil {
		q.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return
	}
	q.held = false
	delete(l.queues, key)
}
