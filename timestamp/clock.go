// Package timestamp is the deterministic timestamp service: per-domain logical
// clocks that never read wall time.
//
// A domain clock follows Lamport's two rules. Tick advances before a local
// event; Observe moves the clock past a timestamp seen from elsewhere.
// Timestamps of different domains are not comparable.
package timestamp

import (
	"sync"

	"github.com/timewave-computer/causality-sub016/content"
)

// Timestamp is a logical time in a domain-specified unit.
type Timestamp uint64

// Clock is a logical clock. Not goroutine-safe; Service serialises access.
type Clock struct {
	ts Timestamp
}

func NewClock(start Timestamp) *Clock {
	return &Clock{ts: start}
}

// Tick advances the clock and returns the new time.
func (c *Clock) Tick() Timestamp {
	c.ts++
	return c.ts
}

// Observe sets the clock to max(own, seen) + 1.
func (c *Clock) Observe(seen Timestamp) Timestamp {
	if seen > c.ts {
		c.ts = seen
	}
	c.ts++
	return c.ts
}

// Now returns the current time without advancing.
func (c *Clock) Now() Timestamp { return c.ts }

// Less is a total order over (timestamp, domain) pairs.
func Less(a Timestamp, da content.DomainID, b Timestamp, db content.DomainID) bool {
	if a != b {
		return a < b
	}
	return content.EntityID(da).Less(content.EntityID(db))
}

// Service owns one clock per domain.
type Service struct {
	mu     sync.Mutex
	clocks map[content.DomainID]*Clock
}

func NewService() *Service {
	return &Service{clocks: make(map[content.DomainID]*Clock)}
}

func (s *Service) clock(d content.DomainID) *Clock {
	c, ok := s.clocks[d]
	if !ok {
		c = &Clock{}
		s.clocks[d] = c
	}
	return c
}

// Clock returns a copy of the domain's clock, to seed a run that continues
// from the service's time without advancing it.
func (s *Service) Clock(d content.DomainID) *Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.clock(d)
	return &c
}

func (s *Service) Tick(d content.DomainID) Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock(d).Tick()
}

func (s *Service) Observe(d content.DomainID, seen Timestamp) Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock(d).Observe(seen)
}

func (s *Service) Now(d content.DomainID) Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock(d).Now()
}
