// Package nullsink provides a FrameSink that discards frames.
package nullsink

import "github.com/user/mediapipe/pkg/ports"

// Sink discards every frame.
type Sink struct{}

// New creates a Sink.
func New() *Sink {
	return &Sink{}
}

// Enabled returns false.
func (s *Sink) Enabled() bool {
	return false
}

func (s *Sink) SaveFrame(int, []byte) error {
	return nil
}

var _ ports.FrameSink = (*Sink)(nil)
