// Package mux guards the muxer: one track registered on the first encoder
// format change, started once, written only after start, stopped once.
package mux

import (
	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

// Sink wraps a muxer for a single output track.
type Sink struct {
	muxer   ports.Muxer
	logger  ports.Logger
	metrics ports.Metrics

	track   int
	format  pipeline.Format
	started bool
	stopped bool
	closed  bool
	written int
}

// NewSink creates a Sink over an already created muxer.
func NewSink(m ports.Muxer, logger ports.Logger, metrics ports.Metrics) *Sink {
	return &Sink{muxer: m, logger: logger, metrics: metrics, track: -1}
}

// OnFormat registers the track and starts the muxer. Later format changes
// cannot be applied to a started container and are ignored.
func (s *Sink) OnFormat(f pipeline.Format) error {
	if s.started {
		s.logger.Warn("Ignoring output format change to %s after muxer start", f)
		return nil
	}
	track, err := s.muxer.AddTrack(f)
	if err != nil {
		return pipeline.Classify(pipeline.KindFormat, "mux: add track", err)
	}
	if err := s.muxer.Start(); err != nil {
		return pipeline.Classify(pipeline.KindIO, "mux: start", err)
	}
	s.track = track
	s.format = f
	s.started = true
	s.logger.Info("Muxer started with track %d (%s)", track, f)
	return nil
}

// Write appends one encoded sample.
func (s *Sink) Write(data []byte, info pipeline.BufferInfo) error {
	if !s.started {
		return pipeline.Errorf(pipeline.KindProtocolViolation, "mux: write", "sample at %dus before muxer start", info.PresentationTimeUs)
	}
	if s.stopped {
		return pipeline.Errorf(pipeline.KindProtocolViolation, "mux: write", "sample at %dus after muxer stop", info.PresentationTimeUs)
	}
	if err := s.muxer.WriteSample(s.track, data, info); err != nil {
		return pipeline.Classify(pipeline.KindIO, "mux: write", err)
	}
	s.written++
	s.metrics.SampleWritten(len(data))
	s.logger.Debug("Wrote sample %d (%d bytes, pts %d, %s)", s.written, len(data), info.PresentationTimeUs, info.Flags)
	return nil
}

// Finish stops a started muxer, which writes the trailer. A muxer that
// never started has nothing to finalize.
func (s *Sink) Finish() error {
	if !s.started || s.stopped {
		return nil
	}
	s.stopped = true
	if err := s.muxer.Stop(); err != nil {
		return pipeline.Classify(pipeline.KindIO, "mux: stop", err)
	}
	s.logger.Info("Muxer finished after %d samples", s.written)
	return nil
}

// Close finishes the muxer if needed and releases it.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.Finish()
	if cerr := s.muxer.Close(); cerr != nil && err == nil {
		err = pipeline.Classify(pipeline.KindIO, "mux: close", cerr)
	}
	return err
}

// Started reports whether the track was registered.
func (s *Sink) Started() bool { return s.started }

// Format returns the registered track format.
func (s *Sink) Format() pipeline.Format { return s.format }

// Written returns the number of samples written.
func (s *Sink) Written() int { return s.written }
