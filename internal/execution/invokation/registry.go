package invokation

import (
	"sync"
	"time"
)

// Registry maps a trigger id to its current invokation.
// Replacing an entry supersedes the displaced invokation in the same step.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Invokation
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Invokation)}
}

// Replace installs inv as the current invokation of its trigger and returns
// the one it displaced, already superseded and canceled.
func (r *Registry) Replace(inv *Invokation) *Invokation {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.entries[inv.TriggerID]
	r.entries[inv.TriggerID] = inv
	if prev != nil {
		prev.supersede()
	}
	return prev
}

// Get returns the current invokation of triggerID.
func (r *Registry) Get(triggerID string) (*Invokation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.entries[triggerID]
	return inv, ok
}

// Remove drops the current invokation of triggerID and supersedes it.
func (r *Registry) Remove(triggerID string) (*Invokation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.entries[triggerID]
	if !ok {
		return nil, false
	}
	delete(r.entries, triggerID)
	inv.supersede()
	return inv, true
}

// Prune forgets settled invokations that finished before cutoff. Their
// outputs stay in the sink.
func (r *Registry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, inv := range r.entries {
		if inv.finishedBefore(cutoff) {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// All returns the current invokations in no particular order.
func (r *Registry) All() []*Invokation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Invokation, 0, len(r.entries))
	for _, inv := range r.entries {
		out = append(out, inv)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
