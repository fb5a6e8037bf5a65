// Package history keeps a bounded per-cycle history of snapshot statistics
// for dashboard sparklines.
package history

import (
	"sync"
	"time"
)

// Point is a single sample
type Point struct {
	T time.Time `json:"t"`
	V float64   `json:"v"`
}

// Series is a fixed-capacity ring buffer of points in insertion order
type Series struct {
	mu   sync.RWMutex
	ring []Point
	head int
	full bool
}

// NewSeries creates a series holding at most capacity points
func NewSeries(capacity int) *Series {
	if capacity <= 0 {
		capacity = 1
	}
	return &Series{ring: make([]Point, capacity)}
}

// Add appends p, overwriting the oldest point once full
func (s *Series) Add(p Point) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring[s.head] = p
	s.head = (s.head + 1) % len(s.ring)
	if s.head == 0 {
		s.full = true
	}
}

// Since returns points at or after since, oldest first. A zero since
// returns every point.
func (s *Series) Since(since time.Time) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size, start := s.head, 0
	if s.full {
		size, start = len(s.ring), s.head
	}

	result := make([]Point, 0, size)
	for i := 0; i < size; i++ {
		p := s.ring[(start+i)%len(s.ring)]
		if !since.IsZero() && p.T.Before(since) {
			continue
		}
		result = append(result, p)
	}
	return result
}

// Len returns the number of stored points
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.ring)
	}
	return s.head
}
