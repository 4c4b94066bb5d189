// Package syncstate holds the last clipboard value applied on this side of
// the link. It is the only loop-suppression mechanism: a value equal to it
// is never sent and never applied again.
package syncstate

import "sync"

// State is shared by the watcher and the receiver. Each method holds the
// guard for the whole read-compare-write, including the clipboard call, so
// a remote value can never be mistaken for a local change mid-apply.
type State struct {
	mu   sync.Mutex
	last string
}

// Last returns the most recently applied value.
func (s *State) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Observe reads the local clipboard with read and, if the value is new,
// records it. It reports the value and whether it should be propagated.
func (s *State) Observe(read func() (string, error)) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := read()
	if err != nil {
		return "", false, err
	}
	if v == "" || v == s.last {
		return v, false, nil
	}
	s.last = v
	return v, true, nil
}

// Apply writes a remote value with write if it is new. The value is only
// recorded once write succeeds.
func (s *State) Apply(v string, write func(string) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v == "" || v == s.last {
		return false, nil
	}
	if err := write(v); err != nil {
		return false, err
	}
	s.last = v
	return true, nil
}
