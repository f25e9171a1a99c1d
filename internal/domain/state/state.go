// Package state holds the process-wide flags shared by arbitration, the HTTP
// control surface and every periodic loop.
package state

import "sync/atomic"

// State is passed by pointer through the fx graph; there are no package-level globals.
type State struct {
	armed   atomic.Bool
	running atomic.Bool
}

// New returns a running State with the given initial armed flag.
func New(armed bool) *State {
	s := &State{}
	s.armed.Store(armed)
	s.running.Store(true)
	return s
}

func (s *State) IsArmed() bool { return s.armed.Load() }

// SetArmed stores the flag and reports whether it actually changed.
func (s *State) SetArmed(armed bool) bool {
	return s.armed.Swap(armed) != armed
}

func (s *State) IsRunning() bool { return s.running.Load() }

// Stop flips the running flag; loops notice it within one interval.
func (s *State) Stop() { s.running.Store(false) }
