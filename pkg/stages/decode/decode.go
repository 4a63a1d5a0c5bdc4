// Package decode drives a codec configured as a decoder: samples from the
// source reader go in, raw frames come out.
package decode

import (
	"sync/atomic"
	"time"

	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
	"github.com/user/mediapipe/pkg/stages/source"
)

// Frame is a decoder output buffer on loan. Data aliases the codec's
// buffer and is valid until Release.
type Frame struct {
	Index int
	Info  pipeline.BufferInfo
	Data  []byte
}

// EndOfStream reports whether this is the decoder's last buffer.
func (f Frame) EndOfStream() bool {
	return f.Info.Flags.Has(pipeline.FlagEndOfStream)
}

// Stage owns one decoder.
type Stage struct {
	codec   ports.Codec
	source  *source.Reader
	frames  ports.FrameSink
	logger  ports.Logger
	metrics ports.Metrics
	timeout time.Duration

	started bool
	state   pipeline.StreamState
	format  pipeline.Format
	decoded atomic.Int64
}

// NewStage creates a decode stage reading from src.
func NewStage(codec ports.Codec, src *source.Reader, frames ports.FrameSink, logger ports.Logger, metrics ports.Metrics, timeout time.Duration) *Stage {
	return &Stage{
		codec:   codec,
		source:  src,
		frames:  frames,
		logger:  logger,
		metrics: metrics,
		timeout: timeout,
	}
}

// Start configures the decoder for the input track and starts it.
func (s *Stage) Start(track pipeline.Format) error {
	if err := s.codec.Configure(track, ports.ConfigureDecode); err != nil {
		return pipeline.Classify(pipeline.KindFormat, "decode: configure", err)
	}
	if err := s.codec.Start(); err != nil {
		return pipeline.Classify(pipeline.KindResourceUnavailable, "decode: start", err)
	}
	s.started = true
	s.logger.Info("Decoder %s started for %s", s.codec.Name(), track)
	return nil
}

// FeedInput submits at most one sample. It does nothing once the
// end-of-stream sample was submitted.
func (s *Stage) FeedInput() (bool, error) {
	if s.state.SawInputEOS {
		return false, nil
	}
	fed, err := s.source.Feed(s.codec, s.timeout)
	if s.source.Done() {
		s.state.SawInputEOS = true
	}
	return fed, err
}

// Poll checks the decoder output once. A format change is recorded and
// reported as no frame. The returned frame must be released.
func (s *Stage) Poll() (Frame, bool, error) {
	if s.state.SawOutputEOS {
		return Frame{}, false, nil
	}
	res, err := s.codec.TryAcquireRead(s.timeout)
	if err != nil {
		return Frame{}, false, pipeline.Classify(pipeline.KindIO, "decode: acquire output", err)
	}

	switch res.Status {
	case pipeline.ReadWouldBlock:
		s.metrics.WouldBlock("decoder")
		return Frame{}, false, nil
	case pipeline.ReadFormatChanged:
		s.format = res.Format
		s.logger.Info("Decoder output format: %s", res.Format)
		return Frame{}, false, nil
	case pipeline.ReadEndOfStream:
		s.state.SawOutputEOS = true
		return Frame{}, false, nil
	}

	data, err := s.codec.OutputBuffer(res.Index)
	if err != nil {
		return Frame{}, false, pipeline.Classify(pipeline.KindIO, "decode: output buffer", err)
	}
	frame := Frame{Index: res.Index, Info: res.Info, Data: data[:res.Info.Size]}

	if len(frame.Data) > 0 {
		n := s.decoded.Add(1)
		s.metrics.FrameDecoded()
		if s.frames.Enabled() {
			if err := s.frames.SaveFrame(int(n-1), frame.Data); err != nil {
				s.logger.Warn("Failed to save frame %d: %s", n-1, err)
			}
		}
	}
	if frame.EndOfStream() {
		s.state.SawOutputEOS = true
		s.logger.Debug("Decoder reached end of stream after %d frames", s.decoded.Load())
	}
	return frame, true, nil
}

// Release returns a frame's buffer to the decoder.
func (s *Stage) Release(f Frame) error {
	if err := s.codec.ReleaseRead(f.Index, false); err != nil {
		return pipeline.Classify(pipeline.KindProtocolViolation, "decode: release", err)
	}
	return nil
}

// InputDone reports whether the end-of-stream sample was submitted.
func (s *Stage) InputDone() bool { return s.state.SawInputEOS }

// OutputDone reports whether the end-of-stream buffer was observed.
func (s *Stage) OutputDone() bool { return s.state.SawOutputEOS }

// Frames returns the number of non-empty frames decoded.
func (s *Stage) Frames() int { return int(s.decoded.Load()) }

// Format returns the last announced output format.
func (s *Stage) Format() pipeline.Format { return s.format }

// Close stops a started decoder and destroys it.
func (s *Stage) Close() error {
	var stopErr error
	if s.started {
		stopErr = s.codec.Stop()
		s.started = false
	}
	if err := s.codec.Destroy(); err != nil {
		return err
	}
	return stopErr
}
