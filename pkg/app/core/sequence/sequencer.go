package sequence

import "sync/atomic"

// Sequencer hands out strictly increasing ids
// Peek lets a caller learn the next id without consuming it, so an operation
// that later aborts leaves the sequence untouched.
type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer whose last issued id is start
// Fresh state starts at 0; restored state passes the persisted head
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next consumes and returns the next id
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Peek returns the id Next would return, without consuming it
func (s *Sequencer) Peek() uint64 {
	return s.last.Load() + 1
}

// Current returns the last issued id
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Reset sets the last issued id, used when restoring from storage
func (s *Sequencer) Reset(v uint64) {
	s.last.Store(v)
}
