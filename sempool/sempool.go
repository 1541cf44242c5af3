// Package sempool provides semaphores and a pool of them keyed by string.
package sempool

import (
	"context"
	"sync"
)

// Semaphore bounds the number of concurrent holders.
type Semaphore struct {
	inner chan struct{}
}

// NewSemaphore returns a semaphore admitting capacity holders.
func NewSemaphore(capacity int) *Semaphore {
	return &Semaphore{inner: make(chan struct{}, capacity)}
}

// Acquire blocks until the semaphore is acquired or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.inner <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire acquires the semaphore if it's available right away.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.inner <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release releases the semaphore. It panics if it wasn't acquired.
func (s *Semaphore) Release() {
	select {
	case <-s.inner:
	default:
		panic("semaphore inconsistency: release before acquire!")
	}
}

// SemaphorePool hands out one semaphore per key. Semaphores are dropped
// once nobody holds or waits on them.
type SemaphorePool struct {
	semaCap int

	mu sync.Mutex
	ss map[string]*pooled
}

type pooled struct {
	*Semaphore
	refs int
}

// NewSemaphorePool returns a pool of semaphores admitting semaCap holders each.
func NewSemaphorePool(semaCap int) *SemaphorePool {
	return &SemaphorePool{ss: make(map[string]*pooled), semaCap: semaCap}
}

// Acquire blocks until the semaphore of key is acquired and returns the
// function that releases it.
func (p *SemaphorePool) Acquire(ctx context.Context, key string) (func(), error) {
	p.mu.Lock()
	s, ok := p.ss[key]
	if !ok {
		s = &pooled{Semaphore: NewSemaphore(p.semaCap)}
		p.ss[key] = s
	}
	s.refs++
	p.mu.Unlock()

	if err := s.Acquire(ctx); err != nil {
		p.unref(key, s)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.Release()
			p.unref(key, s)
		})
	}, nil
}

func (p *SemaphorePool) unref(key string, s *pooled) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(p.ss, key)
	}
}

// Len returns the number of keys held or waited on.
func (p *SemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ss)
}
