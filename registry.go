package reactor

import "sync"

// registeredSet is the concurrent hash set of channels currently owned by a
// selector (spec.md §3, §5: "backed by a concurrent hash set so external
// readers can observe it"). It is simpler than eventloop/registry.go's
// weak-pointer ring-buffer registry: that registry exists to let a Loop
// forget about promises once they're unreachable from user code, which is a
// GC-scavenging problem reactor channels don't have (a channel is removed
// from the set by an explicit, single event: the close hook, never by
// becoming unreachable).
type registeredSet struct {
	mu   sync.RWMutex
	data map[ChannelID]Channel
}

func newRegisteredSet() *registeredSet {
	return &registeredSet{data: make(map[ChannelID]Channel)}
}

func (r *registeredSet) Add(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[ch.ID()] = ch
}

func (r *registeredSet) Remove(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, ch.ID())
}

// Snapshot returns a live-at-the-time-of-call copy of the registered
// channels, safe for external observers (spec.md §6 item 5).
func (r *registeredSet) Snapshot() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.data))
	for _, ch := range r.data {
		out = append(out, ch)
	}
	return out
}

func (r *registeredSet) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}
