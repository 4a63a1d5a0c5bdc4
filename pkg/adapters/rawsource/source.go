// Package rawsource exposes a file of back-to-back YUV 4:2:0 frames as a
// single-track demuxer. Timestamps are derived from the frame rate.
package rawsource

import (
	"errors"
	"io"

	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

// ErrInvalidGeometry is returned when width, height or frame rate is not positive.
var ErrInvalidGeometry = errors.New("rawsource: width, height and frame rate must be positive")

// Source implements ports.Demuxer. A trailing partial frame is ignored.
type Source struct {
	r        io.ReadSeekCloser
	format   pipeline.Format
	frames   int
	pos      int
	selected bool
}

// New wraps r, which holds frames of the given size.
func New(r io.ReadSeekCloser, width, height int, fps float64) (*Source, error) {
	if width <= 0 || height <= 0 || fps <= 0 {
		return nil, pipeline.E(pipeline.KindFormat, "rawsource", ErrInvalidGeometry)
	}
	format := pipeline.Format{
		Mime:        pipeline.MimeRaw,
		Width:       width,
		Height:      height,
		FrameRate:   fps,
		ColorFormat: pipeline.ColorFormatYUV420Planar,
	}

	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, pipeline.E(pipeline.KindIO, "rawsource: size", err)
	}
	frames := int(size / int64(format.FrameSize()))
	format.DurationUs = int64(float64(frames) * 1_000_000 / fps)

	return &Source{r: r, format: format, frames: frames}, nil
}

// Frames returns the number of complete frames in the file.
func (s *Source) Frames() int { return s.frames }

func (s *Source) Tracks() []pipeline.Track {
	return []pipeline.Track{{Index: 0, Format: s.format}}
}

func (s *Source) SelectTrack(index int) error {
	if index != 0 {
		return pipeline.Errorf(pipeline.KindFormat, "rawsource: select", "track %d out of range", index)
	}
	s.selected = true
	s.pos = 0
	return nil
}

func (s *Source) ReadSampleData(buf []byte) (int, error) {
	if !s.selected {
		return 0, pipeline.Errorf(pipeline.KindProtocolViolation, "rawsource: read", "no track selected")
	}
	if s.pos >= s.frames {
		return 0, io.EOF
	}
	size := s.format.FrameSize()
	if len(buf) < size {
		return 0, io.ErrShortBuffer
	}
	if _, err := s.r.Seek(int64(s.pos)*int64(size), io.SeekStart); err != nil {
		return 0, pipeline.E(pipeline.KindIO, "rawsource: seek", err)
	}
	if _, err := io.ReadFull(s.r, buf[:size]); err != nil {
		return 0, pipeline.E(pipeline.KindIO, "rawsource: read", err)
	}
	return size, nil
}

func (s *Source) SampleTime() int64 {
	if s.pos >= s.frames {
		return -1
	}
	return int64(float64(s.pos) * 1_000_000 / s.format.FrameRate)
}

// SampleFlags reports every raw frame as a key frame.
func (s *Source) SampleFlags() pipeline.BufferFlags {
	if s.pos >= s.frames {
		return 0
	}
	return pipeline.FlagKeyFrame
}

func (s *Source) Advance() bool {
	if s.pos >= s.frames {
		return false
	}
	s.pos++
	return s.pos < s.frames
}

func (s *Source) Close() error {
	if s.r == nil {
		return nil
	}
	r := s.r
	s.r = nil
	return r.Close()
}

// Opener opens raw files through a FileSystem with a fixed geometry.
type Opener struct {
	fs     ports.FileSystem
	width  int
	height int
	fps    float64
}

// NewOpener creates an Opener.
func NewOpener(fs ports.FileSystem, width, height int, fps float64) *Opener {
	return &Opener{fs: fs, width: width, height: height, fps: fps}
}

func (o *Opener) OpenDemuxer(locator string) (ports.Demuxer, error) {
	f, err := o.fs.Open(locator)
	if err != nil {
		return nil, pipeline.E(pipeline.KindResourceUnavailable, "rawsource: open", err)
	}
	s, err := New(f, o.width, o.height, o.fps)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

var (
	_ ports.Demuxer       = (*Source)(nil)
	_ ports.DemuxerOpener = (*Opener)(nil)
)
