package observability

import (
	"context"
	"sync"

	"github.com/aretw0/introspection"
)

// Aggregator merges several watchers into one snapshot stream.
// Watchers must implement introspection.Component and a Watch(ctx) method;
// session watchers and lifecycle signal contexts both qualify.
type Aggregator struct {
	mu       sync.Mutex
	watchers []any
}

// NewAggregator creates an aggregator over the given watchers.
func NewAggregator(watchers ...any) *Aggregator {
	a := &Aggregator{watchers: make([]any, 0, len(watchers))}
	for _, w := range watchers {
		a.AddWatcher(w)
	}
	return a
}

// AddWatcher registers a watcher. It only affects later Watch calls.
func (a *Aggregator) AddWatcher(w any) {
	if w == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watchers = append(a.watchers, w)
}

// Len reports the number of registered watchers.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.watchers)
}

// Watch returns the merged stream. It closes once every watcher stream has closed.
func (a *Aggregator) Watch(ctx context.Context) <-chan introspection.StateSnapshot {
	a.mu.Lock()
	watchers := append([]any(nil), a.watchers...)
	a.mu.Unlock()
	return introspection.AggregateWatchers(ctx, watchers...)
}
