// Package flight coalesces concurrent operations for the same cache key.
//
// The registry holds at most one pending call per key. The first caller for
// a key starts the work; everyone else attaches to the pending result and
// observes the identical outcome. The entry is removed exactly once, when
// the call settles, so a later request for the same key starts fresh work.
package flight

import (
	"sync"
)

// Result is the settled outcome of a coalesced call.
type Result struct {
	Value any
	Err   error
}

type call struct {
	done chan struct{}
	res  Result
}

// Registry deduplicates in-flight work per key. The zero value is unusable;
// use NewRegistry.
type Registry struct {
	mu    sync.Mutex
	calls map[string]*call
}

func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*call)}
}

// AttachOrStart returns the outcome of work for key. If a call for key is
// already pending the caller attaches to it and work is never invoked;
// otherwise the caller registers the single pending entry and runs work
// itself. The map mutation and the pending-check are a single atomic step
// under the registry lock, so two callers can never both believe they are
// first.
//
// The second return reports whether the result was shared with an already
// pending call.
func (r *Registry) AttachOrStart(key string, work func() (any, error)) (any, bool, error) {
	r.mu.Lock()
	if c, ok := r.calls[key]; ok {
		r.mu.Unlock()
		<-c.done
		return c.res.Value, true, c.res.Err
	}
	c := &call{done: make(chan struct{})}
	r.calls[key] = c
	r.mu.Unlock()

	c.res.Value, c.res.Err = work()

	r.mu.Lock()
	delete(r.calls, key)
	r.mu.Unlock()
	close(c.done)

	return c.res.Value, false, c.res.Err
}

// Pending reports whether a call for key is currently in flight.
func (r *Registry) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.calls[key]
	return ok
}

// Len returns the number of in-flight calls, used by metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
