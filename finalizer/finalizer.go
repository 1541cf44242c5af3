// Package finalizer closes a set of resources in reverse order of
// registration.
package finalizer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"
)

// Finalizer collects closers to be cleaned up together.
type Finalizer struct {
	lk      sync.Mutex
	closers []io.Closer
}

// NewFinalizer returns an empty Finalizer.
func NewFinalizer() *Finalizer {
	return &Finalizer{}
}

// Add registers closers. They're closed in reverse order.
func (f *Finalizer) Add(cs ...io.Closer) {
	f.lk.Lock()
	defer f.lk.Unlock()
	f.closers = append(f.closers, cs...)
}

// AddFn registers a cleanup function.
func (f *Finalizer) AddFn(fn func() error) {
	f.Add(closerFunc(fn))
}

// Cleanup closes every registered closer and combines their errors with err.
func (f *Finalizer) Cleanup(err error) error {
	f.lk.Lock()
	cs := f.closers
	f.closers = nil
	f.lk.Unlock()

	for i := len(cs) - 1; i >= 0; i-- {
		err = multierr.Append(err, cs[i].Close())
	}
	return err
}

// Cleanupf is Cleanup with err formatted by format. It returns nil if err is
// nil and every closer succeeded.
func (f *Finalizer) Cleanupf(format string, err error) error {
	if err != nil {
		err = fmt.Errorf(format, err)
	}
	return f.Cleanup(err)
}

type closerFunc func() error

func (fn closerFunc) Close() error {
	return fn()
}

// NewContextCloser adapts a context cancel function to io.Closer.
func NewContextCloser(cancel context.CancelFunc) io.Closer {
	return closerFunc(func() error {
		cancel()
		return nil
	})
}
