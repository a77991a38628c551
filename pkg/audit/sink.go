package audit

import (
	"context"
	"sync"
)

// Sink persists or forwards sealed records. Write is called from a single
// goroutine in sequence order.
type Sink interface {
	Write(ctx context.Context, r Record) error
	Close() error
}

// MemorySink keeps records in memory. It is used by tests and headless
// simulation runs.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	fail    func(Record) error
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// FailWith makes Write return fn's error until fn returns nil.
func (s *MemorySink) FailWith(fn func(Record) error) {
	s.mu.Lock()
	s.fail = fn
	s.mu.Unlock()
}

func (s *MemorySink) Write(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		if err := s.fail(r); err != nil {
			return err
		}
	}
	s.records = append(s.records, r)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Records returns a copy of everything written so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}
