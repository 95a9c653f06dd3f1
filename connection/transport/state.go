package transport

import "sync/atomic"

// State32 is an atomically accessed State
type State32 struct {
	v atomic.Int32
}

func (s *State32) Load() State {
	return State(s.v.Load())
}

func (s *State32) Swap(new State) State {
	return State(s.v.Swap(int32(new)))
}

func (s *State32) CompareAndSwap(old State, new State) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}
