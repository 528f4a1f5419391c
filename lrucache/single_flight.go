/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"bytes"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// GetOrLoad returns the value stored under the key.
// If the key is absent, the value is obtained from loader and stored with the default TTL.
// Unlike GetOrAdd, concurrent calls for the same key share a single loader invocation,
// and nothing is stored when the load fails.
func (c *LRUCache[K, V]) GetOrLoad(key K, loader func() (V, error)) (V, error) {
	return c.GetOrLoadWithTTL(key, loader, c.defaultTTL)
}

// GetOrLoadWithTTL returns the value stored under the key.
// If the key is absent, the value is obtained from loader and stored with the given TTL.
// The loader runs outside the cache lock, so it may call back into the cache.
// If the loader panics, the panic is rethrown on the goroutine that invoked it,
// and callers waiting for the same key receive a *PanicError.
func (c *LRUCache[K, V]) GetOrLoadWithTTL(key K, loader func() (V, error), ttl time.Duration) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	return c.loads.Do(key, func() (V, error) {
		value, err := loader()
		if err != nil {
			return value, err
		}
		c.AddWithTTL(key, value, ttl)
		return value, nil
	})
}

// flight is a single in-flight or completed load.
type flight[V any] struct {
	wg  sync.WaitGroup
	val V
	err error
}

// flightGroup deduplicates function calls by key: while a call for a key is in flight,
// other callers with the same key wait for it and receive its result.
// The zero value is ready to use.
type flightGroup[K comparable, V any] struct {
	mu      sync.Mutex
	flights map[K]*flight[V]
}

// Do invokes fn, making sure that at most one invocation per key runs at a time.
// Duplicate callers wait for the running one and get the same value and error.
func (g *flightGroup[K, V]) Do(key K, fn func() (V, error)) (V, error) {
	g.mu.Lock()
	if g.flights == nil {
		g.flights = make(map[K]*flight[V])
	}
	if f, ok := g.flights[key]; ok {
		g.mu.Unlock()
		f.wg.Wait()
		return f.val, f.err
	}
	f := &flight[V]{}
	f.wg.Add(1)
	g.flights[key] = f
	g.mu.Unlock()

	return g.run(f, key, fn)
}

func (g *flightGroup[K, V]) run(f *flight[V], key K, fn func() (V, error)) (val V, err error) {
	finished := false
	panicked := false

	// Two deferred functions are needed to tell a panic apart from runtime.Goexit:
	// recover is attempted only in the inner one, so when the outer one observes
	// neither a normal finish nor a recovered panic, fn must have called Goexit.
	defer func() {
		if !finished && !panicked {
			f.err = ErrGoexit
		}

		f.wg.Done()

		g.mu.Lock()
		delete(g.flights, key)
		g.mu.Unlock()

		if panicked {
			panic(f.err.(*PanicError).Value) // rethrow on the goroutine that ran fn
		}

		val, err = f.val, f.err
	}()

	defer func() {
		if !finished {
			if v := recover(); v != nil {
				f.err = newPanicError(v)
				panicked = true
			}
		}
	}()
	f.val, f.err = fn()
	finished = true

	return f.val, f.err // overwritten in the outer defer
}

// ErrGoexit is the error received by waiting callers when the call they were
// waiting for terminated via runtime.Goexit.
var ErrGoexit = errors.New("runtime.Goexit was called")

// PanicError is the error received by waiting callers when the call they were
// waiting for panicked. It carries the panic value and the stack trace of the
// panicked goroutine.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("%v\n\n%s", p.Value, p.Stack)
}

// Unwrap returns the panic value if it was an error.
func (p *PanicError) Unwrap() error {
	err, ok := p.Value.(error)
	if !ok {
		return nil
	}
	return err
}

func newPanicError(v interface{}) error {
	stack := debug.Stack()
	// Drop the first line ("goroutine N [status]:") of the trace: by the time
	// the error is observed, the goroutine may be gone and its status stale.
	if line := bytes.IndexByte(stack, '\n'); line >= 0 {
		stack = stack[line+1:]
	}
	return &PanicError{Value: v, Stack: stack}
}
