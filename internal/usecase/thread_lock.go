package usecase

import (
	"context"
	"fmt"
	"sync"
)

// ThreadLocker serializes runs that share a conversation thread. Runs on
// different threads never wait on each other.
type ThreadLocker struct {
	mu      sync.Mutex
	threads map[string]*threadMutex
}

type threadMutex struct {
	sem     chan struct{}
	waiters int
}

// NewThreadLocker creates an empty locker.
func NewThreadLocker() *ThreadLocker {
	return &ThreadLocker{threads: make(map[string]*threadMutex)}
}

// Lock blocks until threadID is free or ctx is done. The returned unlock
// func must be called exactly once.
func (l *ThreadLocker) Lock(ctx context.Context, threadID string) (unlock func(), err error) {
	l.mu.Lock()
	tm, ok := l.threads[threadID]
	if !ok {
		tm = &threadMutex{sem: make(chan struct{}, 1)}
		l.threads[threadID] = tm
	}
	tm.waiters++
	l.mu.Unlock()

	select {
	case tm.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-tm.sem
				l.release(threadID, tm)
			})
		}, nil
	case <-ctx.Done():
		l.release(threadID, tm)
		return nil, fmt.Errorf("thread %s: %w", threadID, ctx.Err())
	}
}

func (l *ThreadLocker) release(threadID string, tm *threadMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tm.waiters--
	if tm.waiters == 0 {
		delete(l.threads, threadID)
	}
}

// Active returns the number of threads holding or waiting for the lock.
func (l *ThreadLocker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.threads)
}
