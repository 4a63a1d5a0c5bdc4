// Package orchestrator coordinates the pipeline stages of one run: it
// acquires the demuxer, muxer and codecs, drives them in the synchronous
// or threaded shape, and tears everything down in reverse order.
package orchestrator

import (
	"context"
	"time"

	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
	"github.com/user/mediapipe/pkg/stages/decode"
	"github.com/user/mediapipe/pkg/stages/encode"
	"github.com/user/mediapipe/pkg/stages/mux"
	"github.com/user/mediapipe/pkg/stages/source"
)

const defaultFrameRate = 30

// Options configures a run.
type Options struct {
	Mode pipeline.Mode

	// PollTimeout bounds every buffer acquisition.
	PollTimeout time.Duration

	// QueueDepth bounds the pending frame queue of the threaded shape.
	QueueDepth int

	// Encoder is the target format. Zero width, height or frame rate are
	// taken from the input track.
	Encoder pipeline.Format

	Container pipeline.ContainerFormat
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Mode:        pipeline.ModeSync,
		PollTimeout: 10 * time.Millisecond,
		QueueDepth:  4,
		Encoder: pipeline.Format{
			Mime:        pipeline.MimeAVC,
			BitRate:     2_000_000,
			ColorFormat: pipeline.ColorFormatYUV420Planar,
		},
		Container: pipeline.ContainerMP4,
	}
}

// Orchestrator runs transcoding jobs.
type Orchestrator struct {
	demuxers ports.DemuxerOpener
	codecs   ports.CodecFactory
	muxers   ports.MuxerFactory
	frames   ports.FrameSink
	metrics  ports.Metrics
	logger   ports.Logger
	opts     Options
}

// New creates a new Orchestrator.
func New(
	demuxers ports.DemuxerOpener,
	codecs ports.CodecFactory,
	muxers ports.MuxerFactory,
	frames ports.FrameSink,
	metrics ports.Metrics,
	logger ports.Logger,
	opts Options,
) *Orchestrator {
	def := DefaultOptions()
	if opts.Mode == "" {
		opts.Mode = def.Mode
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = def.PollTimeout
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = def.QueueDepth
	}
	if opts.Encoder.Mime == "" {
		opts.Encoder.Mime = def.Encoder.Mime
	}
	if opts.Container == "" {
		opts.Container = def.Container
	}
	return &Orchestrator{
		demuxers: demuxers,
		codecs:   codecs,
		muxers:   muxers,
		frames:   frames,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
	}
}

// Execute implements pipeline.Stage[pipeline.Job, pipeline.Result].
func (o *Orchestrator) Execute(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	return o.Transcode(ctx, job.Input, job.Output)
}

// Probe lists the tracks of an input container.
func (o *Orchestrator) Probe(input string) ([]pipeline.Track, error) {
	d, err := o.demuxers.OpenDemuxer(input)
	if err != nil {
		return nil, pipeline.Classify(pipeline.KindResourceUnavailable, "probe: open", err)
	}
	defer d.Close()
	return d.Tracks(), nil
}

// Transcode decodes the first video track of input and re-encodes it into
// output.
func (o *Orchestrator) Transcode(ctx context.Context, input, output string) (pipeline.Result, error) {
	return o.run(ctx, o.demuxers, input, output, true)
}

// EncodeRaw encodes raw frames opened by raw straight into output,
// skipping the decoder.
func (o *Orchestrator) EncodeRaw(ctx context.Context, raw ports.DemuxerOpener, input, output string) (pipeline.Result, error) {
	return o.run(ctx, raw, input, output, false)
}

// teardown releases resources in reverse acquisition order, except for
// steps added with pushLast which run after all others.
type teardown struct {
	fns []func() error
}

func (t *teardown) push(fn func() error) {
	t.fns = append(t.fns, fn)
}

func (t *teardown) pushLast(fn func() error) {
	t.fns = append([]func() error{fn}, t.fns...)
}

func (t *teardown) run(log ports.Logger) error {
	var first error
	for i := len(t.fns) - 1; i >= 0; i-- {
		if err := t.fns[i](); err != nil {
			log.Warn("Teardown step failed: %s", err)
			if first == nil {
				first = err
			}
		}
	}
	t.fns = nil
	return first
}

// run holds the per-run wiring shared by both entry points.
type run struct {
	reader *source.Reader
	dec    *decode.Stage
	enc    *encode.Stage
	sink   *mux.Sink
}

func (o *Orchestrator) run(ctx context.Context, opener ports.DemuxerOpener, input, output string, decoding bool) (res pipeline.Result, err error) {
	start := time.Now()
	log := o.logger.WithComponent("coordinator")
	res = pipeline.Result{Mode: o.opts.Mode, Input: input, Output: output}
	if !decoding {
		res.Mode = pipeline.ModeSync
	}

	var td teardown
	var r run
	defer func() {
		if terr := td.run(log); terr != nil && err == nil {
			err = terr
		}
		if r.reader != nil {
			res.SamplesRead = r.reader.Samples()
		}
		if r.dec != nil {
			res.FramesDecoded = r.dec.Frames()
		}
		if r.enc != nil {
			res.PacketsEncoded = r.enc.Packets()
			res.OutputFormat = r.enc.Format()
		}
		if r.sink != nil {
			res.SamplesWritten = r.sink.Written()
		}
		res.Duration = time.Since(start)
		res.Err = err
		res.Outcome = outcomeOf(err)
		o.metrics.RunFinished(string(res.Outcome), res.Duration)
		if err != nil {
			log.Error("Run %s: %s", res.Outcome, err)
		} else {
			log.Info("Run completed: %d samples written in %s", res.SamplesWritten, res.Duration.Round(time.Millisecond))
		}
	}()

	if err := ctx.Err(); err != nil {
		return res, pipeline.Aborted("coordinator", err)
	}

	log.Info("Opening %s", input)
	d, err := opener.OpenDemuxer(input)
	if err != nil {
		return res, pipeline.Classify(pipeline.KindResourceUnavailable, "coordinator: open input", err)
	}
	td.push(d.Close)

	track, err := source.SelectVideoTrack(d)
	if err != nil {
		return res, err
	}
	res.Track = track
	log.Info("Selected track %d: %s", track.Index, track.Format)
	r.reader = source.NewReader(d, o.logger.WithComponent("source"), o.metrics)

	m, err := o.muxers.CreateMuxer(output, o.opts.Container)
	if err != nil {
		return res, pipeline.Classify(pipeline.KindResourceUnavailable, "coordinator: create output", err)
	}
	r.sink = mux.NewSink(m, o.logger.WithComponent("muxer"), o.metrics)
	td.pushLast(r.sink.Close)

	if decoding {
		c, err := o.codecs.CreateDecoder(track.Format.Mime)
		if err != nil {
			return res, pipeline.Classify(pipeline.KindResourceUnavailable, "coordinator: create decoder", err)
		}
		r.dec = decode.NewStage(c, r.reader, o.frames, o.logger.WithComponent("decoder"), o.metrics, o.opts.PollTimeout)
		td.push(r.dec.Close)
	}

	target := o.encoderFormat(track.Format)
	c, err := o.codecs.CreateEncoder(target.Mime)
	if err != nil {
		return res, pipeline.Classify(pipeline.KindResourceUnavailable, "coordinator: create encoder", err)
	}
	r.enc = encode.NewStage(c, o.logger.WithComponent("encoder"), o.metrics, o.opts.PollTimeout)
	td.push(r.enc.Close)

	if r.dec != nil {
		if err := r.dec.Start(track.Format); err != nil {
			return res, err
		}
	}
	if err := r.enc.Start(target); err != nil {
		return res, err
	}

	switch {
	case !decoding:
		err = o.encodeRaw(ctx, &r)
	case o.opts.Mode == pipeline.ModeThreaded:
		err = o.threaded(ctx, &r)
	default:
		err = o.sync(ctx, &r)
	}
	return res, err
}

func (o *Orchestrator) encoderFormat(track pipeline.Format) pipeline.Format {
	f := o.opts.Encoder
	f.CSD = nil
	if f.Width == 0 || f.Height == 0 {
		f.Width, f.Height = track.Width, track.Height
	}
	if f.FrameRate == 0 {
		f.FrameRate = track.FrameRate
	}
	if f.FrameRate == 0 {
		f.FrameRate = defaultFrameRate
	}
	if f.ColorFormat == 0 {
		f.ColorFormat = pipeline.ColorFormatYUV420Planar
	}
	return f
}

func outcomeOf(err error) pipeline.Outcome {
	switch {
	case err == nil:
		return pipeline.OutcomeCompleted
	case pipeline.KindOf(err) == pipeline.KindAborted:
		return pipeline.OutcomeAborted
	default:
		return pipeline.OutcomeFailed
	}
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return pipeline.Aborted("coordinator", err)
	}
	return nil
}

// sync services every stage from one loop until the encoder observed
// end of stream.
func (o *Orchestrator) sync(ctx context.Context, r *run) error {
	for !r.enc.OutputDone() {
		if err := checkContext(ctx); err != nil {
			return err
		}
		if _, err := r.dec.FeedInput(); err != nil {
			return err
		}
		frame, ok, err := r.dec.Poll()
		if err != nil {
			return err
		}
		if ok {
			if err := o.handOff(ctx, r, frame, true); err != nil {
				return err
			}
		}
		if _, err := r.enc.Drain(r.sink); err != nil {
			return err
		}
	}
	return nil
}

// handOff copies one decoded frame into the encoder, retrying while the
// encoder has no free input buffer, then releases the decoder buffer.
// drain lets the retry loop service encoder output itself, which only
// the synchronous shape may do.
func (o *Orchestrator) handOff(ctx context.Context, r *run, frame decode.Frame, drain bool) error {
	if len(frame.Data) > 0 {
		for {
			ok, err := r.enc.Offer(frame.Data, frame.Info.PresentationTimeUs)
			if err != nil {
				r.dec.Release(frame)
				return err
			}
			if ok {
				break
			}
			if err := checkContext(ctx); err != nil {
				r.dec.Release(frame)
				return err
			}
			if drain {
				if _, err := r.enc.Drain(r.sink); err != nil {
					r.dec.Release(frame)
					return err
				}
			}
		}
	}
	if err := r.dec.Release(frame); err != nil {
		return err
	}
	if frame.EndOfStream() && drain {
		return r.enc.EndInput()
	}
	return nil
}

func (o *Orchestrator) encodeRaw(ctx context.Context, r *run) error {
	for !r.enc.OutputDone() {
		if err := checkContext(ctx); err != nil {
			return err
		}
		if _, err := r.enc.Feed(r.reader); err != nil {
			return err
		}
		if _, err := r.enc.Drain(r.sink); err != nil {
			return err
		}
	}
	return nil
}
