// Package registry implements CallbackRegistry: the topic-to-callback
// mapping LogDispatcher triggers. It never fails visibly — unknown topics
// are silently ignored, and callback errors are the callback's own concern.
package registry

import (
	"context"
	"sync"

	"etl-web3/internal/core/model"
)

// Callback receives one ordered batch of results for a single topic.
type Callback func(ctx context.Context, batch []model.EventResult)

// Registry maps topics to callbacks and the subscriptions a supervisor run
// should drive. Safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	callbacks     map[model.TopicId]Callback
	subscriptions []model.EventSubscription
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{callbacks: make(map[model.TopicId]Callback)}
}

// Register binds a callback to a topic, overwriting any previous one for
// that topic.
func (r *Registry) Register(topic model.TopicId, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[topic] = cb
}

// SetSubscriptions replaces the set of subscriptions the supervisor will
// iterate. Called once at startup from the registered manifest; never
// mutated during a run.
func (r *Registry) SetSubscriptions(subs []model.EventSubscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions = subs
}

// Subscriptions returns the registered subscriptions.
func (r *Registry) Subscriptions() []model.EventSubscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subscriptions
}

// Trigger invokes the callback registered for topic, if any. An unknown
// topic is treated as "no subscriber" — this isolates runner progress from
// handler-registration races at startup.
func (r *Registry) Trigger(ctx context.Context, topic model.TopicId, batch []model.EventResult) {
	r.mu.RLock()
	cb, ok := r.callbacks[topic]
	r.mu.RUnlock()
	if !ok {
		return
	}
	cb(ctx, batch)
}
