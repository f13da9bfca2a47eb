// Package connectivity exposes the device reachability signal the
// orchestrator gates network work on.
package connectivity

import "sync"

// Watcher reports whether the device is known-offline and notifies
// subscribers on every transition.
type Watcher interface {
	Offline() bool
	Subscribe(handler func(offline bool)) (dispose func())
}

// Switch is a manually driven Watcher. The operator binary flips it from a
// platform reachability probe; tests flip it directly.
type Switch struct {
	mu      sync.Mutex
	offline bool
	nextID  int
	subs    map[int]func(bool)
}

// NewSwitch creates a Switch with the given initial reachability.
func NewSwitch(offline bool) *Switch {
	return &Switch{offline: offline, subs: make(map[int]func(bool))}
}

// Offline reports the current reachability state.
func (s *Switch) Offline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline
}

// Subscribe registers a transition handler and returns its disposer.
func (s *Switch) Subscribe(handler func(offline bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = handler
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// SetOffline applies a reachability change. Subscribers are only notified on
// an actual transition, keeping the signal edge-triggered.
func (s *Switch) SetOffline(offline bool) {
	s.mu.Lock()
	if s.offline == offline {
		s.mu.Unlock()
		return
	}
	s.offline = offline
	handlers := make([]func(bool), 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(offline)
	}
}
