// Package source feeds demuxed samples into a codec's input buffers.
package source

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

// ErrNoVideoTrack is returned when the container has no video/ track.
var ErrNoVideoTrack = errors.New("source: no video track")

// SelectVideoTrack picks the first track whose mime starts with video/ and
// selects it on the demuxer.
func SelectVideoTrack(d ports.Demuxer) (pipeline.Track, error) {
	for _, t := range d.Tracks() {
		if !strings.HasPrefix(t.Format.Mime, "video/") {
			continue
		}
		if err := d.SelectTrack(t.Index); err != nil {
			return pipeline.Track{}, pipeline.Classify(pipeline.KindFormat, "source: select track", err)
		}
		return t, nil
	}
	return pipeline.Track{}, pipeline.E(pipeline.KindFormat, "source", ErrNoVideoTrack)
}

// Reader moves samples of the selected track into codec input buffers.
// When the track is exhausted it submits exactly one empty buffer flagged
// end-of-stream, after which Feed does nothing.
type Reader struct {
	demuxer ports.Demuxer
	logger  ports.Logger
	metrics ports.Metrics

	samples int
	lastPTS int64
	done    bool
}

// NewReader creates a Reader over a demuxer whose track is already selected.
func NewReader(d ports.Demuxer, logger ports.Logger, metrics ports.Metrics) *Reader {
	return &Reader{demuxer: d, logger: logger, metrics: metrics}
}

// Done reports whether the end-of-stream buffer was submitted.
func (r *Reader) Done() bool {
	return r.done
}

// Samples returns the number of samples submitted so far.
func (r *Reader) Samples() int {
	return r.samples
}

// Feed tries to submit one sample to c. It returns false when no input
// buffer became free within timeout.
func (r *Reader) Feed(c ports.Codec, timeout time.Duration) (bool, error) {
	if r.done {
		return false, nil
	}

	idx, ok, err := c.TryAcquireWrite(timeout)
	if err != nil {
		return false, pipeline.Classify(pipeline.KindIO, "source: acquire input", err)
	}
	if !ok {
		r.metrics.WouldBlock("source")
		return false, nil
	}

	buf, err := c.InputBuffer(idx)
	if err != nil {
		return false, pipeline.Classify(pipeline.KindIO, "source: input buffer", err)
	}

	n, err := r.demuxer.ReadSampleData(buf)
	switch {
	case err == io.EOF:
		if err := c.Submit(idx, 0, r.lastPTS, pipeline.FlagEndOfStream); err != nil {
			return false, pipeline.Classify(pipeline.KindIO, "source: submit end of stream", err)
		}
		r.done = true
		r.logger.Debug("Source exhausted after %d samples", r.samples)
		return true, nil
	case errors.Is(err, io.ErrShortBuffer):
		return false, pipeline.Errorf(pipeline.KindFormat, "source: read sample",
			"sample %d does not fit a %d byte input buffer", r.samples, len(buf))
	case err != nil:
		return false, pipeline.Classify(pipeline.KindIO, "source: read sample", err)
	}

	pts := r.demuxer.SampleTime()
	flags := r.demuxer.SampleFlags() & pipeline.FlagKeyFrame
	if err := c.Submit(idx, n, pts, flags); err != nil {
		return false, pipeline.Classify(pipeline.KindIO, "source: submit", err)
	}
	r.samples++
	r.lastPTS = pts
	r.metrics.SampleRead()
	r.logger.Debug("Submitted sample %d (%d bytes, pts %d)", r.samples, n, pts)

	r.demuxer.Advance()
	return true, nil
}
