// Package filesink writes decoded frames to a directory for inspection.
package filesink

import (
	"fmt"
	"path/filepath"

	"github.com/user/mediapipe/pkg/ports"
)

// Sink saves each frame as <dir>/frame_<n>.raw.
type Sink struct {
	dir     string
	fs      ports.FileSystem
	created bool
}

// New creates a Sink writing under dir.
func New(dir string, fs ports.FileSystem) *Sink {
	return &Sink{dir: dir, fs: fs}
}

// Enabled returns true as this sink saves output.
func (s *Sink) Enabled() bool {
	return true
}

// SaveFrame writes one decoded frame.
func (s *Sink) SaveFrame(index int, data []byte) error {
	if !s.created {
		if err := s.fs.MkdirAll(s.dir); err != nil {
			return fmt.Errorf("filesink: create %s: %w", s.dir, err)
		}
		s.created = true
	}
	path := filepath.Join(s.dir, fmt.Sprintf("frame_%d.raw", index))
	return s.fs.WriteFile(path, data)
}

var _ ports.FrameSink = (*Sink)(nil)
