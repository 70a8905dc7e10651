package parser

import (
	"sync"
	"sync/atomic"
)

// Event is one streamed output chunk from a running test.
type Event struct {
	Test  string
	Chunk string
}

// Stream carries live output to observers through a bounded channel.
// Feed never blocks: when the consumer cannot keep up, chunks are dropped
// and counted rather than stalling the supervisor's wait loop.
type Stream struct {
	events    chan Event
	closeOnce sync.Once

	fed     atomic.Int64
	dropped atomic.Int64

	dropThreshold float64
}

// NewStream creates a stream with the given buffer size.
func NewStream(bufferSize int, dropThreshold float64) *Stream {
	if bufferSize < 1 {
		bufferSize = 1000
	}
	if dropThreshold <= 0 {
		dropThreshold = 0.01
	}

	return &Stream{
		events:        make(chan Event, bufferSize),
		dropThreshold: dropThreshold,
	}
}

// Feed offers a chunk to the stream without blocking.
// Returns true if queued, false if dropped.
func (s *Stream) Feed(test, chunk string) bool {
	s.fed.Add(1)

	select {
	case s.events <- Event{Test: test, Chunk: chunk}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Events returns the consumer side of the stream. The channel is closed
// by Close.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close closes the event channel. Idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// Stats returns (fed, dropped) chunk counts.
func (s *Stream) Stats() (fed, dropped int64) {
	return s.fed.Load(), s.dropped.Load()
}

// DropRate returns the fraction of offered chunks that were dropped.
func (s *Stream) DropRate() float64 {
	fed := s.fed.Load()
	if fed == 0 {
		return 0
	}
	return float64(s.dropped.Load()) / float64(fed)
}

// IsDegraded reports whether the drop rate exceeds the configured
// threshold, meaning live output display may be incomplete.
func (s *Stream) IsDegraded() bool {
	return s.DropRate() > s.dropThreshold
}
