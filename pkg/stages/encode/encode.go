// Package encode drives a codec configured as an encoder: raw frames go in,
// encoded access units come out and are handed to the mux sink.
package encode

import (
	"sync/atomic"
	"time"

	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
	"github.com/user/mediapipe/pkg/stages/mux"
	"github.com/user/mediapipe/pkg/stages/source"
)

// Stage owns one encoder. The input side (Offer, EndInput, Feed) and the
// output side (Drain) may run on different goroutines.
type Stage struct {
	codec   ports.Codec
	logger  ports.Logger
	metrics ports.Metrics
	timeout time.Duration

	started bool

	// input side
	inputDone atomic.Bool
	offered   atomic.Int64

	// output side
	outputDone atomic.Bool
	packets    atomic.Int64
	format     pipeline.Format
}

// NewStage creates an encode stage.
func NewStage(codec ports.Codec, logger ports.Logger, metrics ports.Metrics, timeout time.Duration) *Stage {
	return &Stage{codec: codec, logger: logger, metrics: metrics, timeout: timeout}
}

// Start configures the encoder with the target format and starts it.
func (s *Stage) Start(target pipeline.Format) error {
	if err := s.codec.Configure(target, ports.ConfigureEncode); err != nil {
		return pipeline.Classify(pipeline.KindFormat, "encode: configure", err)
	}
	if err := s.codec.Start(); err != nil {
		return pipeline.Classify(pipeline.KindResourceUnavailable, "encode: start", err)
	}
	s.started = true
	s.logger.Info("Encoder %s started for %s", s.codec.Name(), target)
	return nil
}

// Offer copies one raw frame into an encoder input buffer. It returns
// false when no buffer became free within the poll timeout; the caller
// keeps the frame and offers it again.
func (s *Stage) Offer(data []byte, ptsUs int64) (bool, error) {
	if s.inputDone.Load() {
		return false, pipeline.Errorf(pipeline.KindProtocolViolation, "encode: offer", "frame at %dus after end of input", ptsUs)
	}
	idx, ok, err := s.codec.TryAcquireWrite(s.timeout)
	if err != nil {
		return false, pipeline.Classify(pipeline.KindIO, "encode: acquire input", err)
	}
	if !ok {
		s.metrics.WouldBlock("encoder_input")
		return false, nil
	}
	buf, err := s.codec.InputBuffer(idx)
	if err != nil {
		return false, pipeline.Classify(pipeline.KindIO, "encode: input buffer", err)
	}
	if len(data) > len(buf) {
		return false, pipeline.Errorf(pipeline.KindFormat, "encode: offer",
			"frame of %d bytes does not fit a %d byte input buffer", len(data), len(buf))
	}
	n := copy(buf, data)
	if err := s.codec.Submit(idx, n, ptsUs, 0); err != nil {
		return false, pipeline.Classify(pipeline.KindIO, "encode: submit", err)
	}
	s.offered.Add(1)
	return true, nil
}

// EndInput tells the encoder no more frames follow. Only the first call
// reaches the codec.
func (s *Stage) EndInput() error {
	if !s.inputDone.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.codec.SignalEndOfInput(); err != nil {
		return pipeline.Classify(pipeline.KindIO, "encode: end of input", err)
	}
	s.logger.Debug("Encoder input ended after %d frames", s.offered.Load())
	return nil
}

// Feed moves one raw sample from r straight into the encoder. The
// reader's end-of-stream submission ends encoder input.
func (s *Stage) Feed(r *source.Reader) (bool, error) {
	if s.inputDone.Load() {
		return false, nil
	}
	fed, err := r.Feed(s.codec, s.timeout)
	if err != nil {
		return false, err
	}
	if fed && !r.Done() {
		s.offered.Add(1)
	}
	if r.Done() {
		s.inputDone.Store(true)
	}
	return fed, nil
}

// Drain polls the encoder output once. Format changes go to the sink,
// codec config buffers are dropped and data buffers are written with
// the end-of-stream flag cleared. It reports whether anything was read.
func (s *Stage) Drain(sink *mux.Sink) (bool, error) {
	if s.outputDone.Load() {
		return false, nil
	}
	res, err := s.codec.TryAcquireRead(s.timeout)
	if err != nil {
		return false, pipeline.Classify(pipeline.KindIO, "encode: acquire output", err)
	}

	switch res.Status {
	case pipeline.ReadWouldBlock:
		s.metrics.WouldBlock("encoder")
		return false, nil
	case pipeline.ReadFormatChanged:
		s.format = res.Format
		s.logger.Info("Encoder output format: %s", res.Format)
		return true, sink.OnFormat(res.Format)
	case pipeline.ReadEndOfStream:
		s.outputDone.Store(true)
		return false, nil
	}

	data, err := s.codec.OutputBuffer(res.Index)
	if err != nil {
		return false, pipeline.Classify(pipeline.KindIO, "encode: output buffer", err)
	}
	info := res.Info
	data = data[:info.Size]

	var writeErr error
	if len(data) > 0 && !info.Flags.Has(pipeline.FlagCodecConfig) {
		info.Flags &^= pipeline.FlagEndOfStream
		writeErr = sink.Write(data, info)
		if writeErr == nil {
			s.packets.Add(1)
			s.metrics.PacketEncoded()
		}
	}
	if err := s.codec.ReleaseRead(res.Index, false); err != nil && writeErr == nil {
		writeErr = pipeline.Classify(pipeline.KindProtocolViolation, "encode: release", err)
	}
	if res.Info.Flags.Has(pipeline.FlagEndOfStream) {
		s.outputDone.Store(true)
		s.logger.Debug("Encoder reached end of stream after %d packets", s.packets.Load())
	}
	return true, writeErr
}

// InputDone reports whether encoder input was ended.
func (s *Stage) InputDone() bool { return s.inputDone.Load() }

// OutputDone reports whether the encoder's end-of-stream buffer was observed.
func (s *Stage) OutputDone() bool { return s.outputDone.Load() }

// Packets returns the number of encoded packets written.
func (s *Stage) Packets() int { return int(s.packets.Load()) }

// Format returns the announced output format. It is only meaningful on
// the goroutine that drains.
func (s *Stage) Format() pipeline.Format { return s.format }

// Close stops a started encoder and destroys it.
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
