// Package shutdown provides a broadcast stop signal with independent
// subscriptions.
package shutdown

import "sync"

// Signal fans a single "stop now" event out to every subscription taken
// before the broadcast. Each broadcast closes the current generation and
// starts a new one, so subscriptions taken after a broadcast wait for the
// next one instead of observing a stale signal.
type Signal struct {
	mu         sync.Mutex
	ch         chan struct{}
	generation uint64
}

// New creates a signal with no broadcast pending.
func New() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Subscription is one worker's view of a Signal.
type Subscription struct {
	ch         <-chan struct{}
	generation uint64
}

// Subscribe returns a subscription bound to the current generation.
func (s *Signal) Subscribe() Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Subscription{ch: s.ch, generation: s.generation}
}

// Broadcast wakes every current subscriber and returns the number of the
// generation it closed.
func (s *Signal) Broadcast() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.ch)
	fired := s.generation
	s.ch = make(chan struct{})
	s.generation++
	return fired
}

// Generation returns the number of broadcasts sent so far.
func (s *Signal) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Done returns a channel closed when the subscribed generation is broadcast.
// A zero Subscription never fires.
func (sub Subscription) Done() <-chan struct{} {
	return sub.ch
}

// Fired reports, without blocking, whether the signal has been received.
func (sub Subscription) Fired() bool {
	if sub.ch == nil {
		return false
	}
	select {
	case <-sub.ch:
		return true
	default:
		return false
	}
}
