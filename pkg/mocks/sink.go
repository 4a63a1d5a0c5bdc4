package mocks

import (
	"sync"

	"github.com/user/mediapipe/pkg/ports"
)

// FrameSink is a mock implementation of ports.FrameSink.
type FrameSink struct {
	mu      sync.RWMutex
	enabled bool

	Frames map[int][]byte
	Err    error
}

// NewFrameSink creates a new mock FrameSink.
func NewFrameSink(enabled bool) *FrameSink {
	return &FrameSink{
		enabled: enabled,
		Frames:  make(map[int][]byte),
	}
}

func (s *FrameSink) Enabled() bool {
	return s.enabled
}

func (s *FrameSink) SaveFrame(index int, data []byte) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames[index] = append([]byte(nil), data...)
	return nil
}

// Count returns the number of saved frames.
func (s *FrameSink) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Frames)
}

var _ ports.FrameSink = (*FrameSink)(nil)
