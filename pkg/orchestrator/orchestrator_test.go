package orchestrator

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/user/mediapipe/pkg/adapters/logger"
	"github.com/user/mediapipe/pkg/mocks"
	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

var avcTrack = pipeline.Format{Mime: pipeline.MimeAVC, Width: 64, Height: 64, FrameRate: 30}

type fixture struct {
	demuxer *mocks.Demuxer
	opener  *mocks.DemuxerOpener
	codecs  *mocks.CodecFactory
	muxers  *mocks.MuxerFactory
	frames  *mocks.FrameSink
	metrics *mocks.Metrics
}

func newFixture(format pipeline.Format, n int) *fixture {
	var samples []mocks.Sample
	for i := 0; i < n; i++ {
		s := mocks.Sample{Data: []byte{0, 0, 0, 1, byte(0x41 + i)}, PTSUs: int64(i) * 33333}
		if i == 0 {
			s.Flags = pipeline.FlagKeyFrame
		}
		samples = append(samples, s)
	}
	d := mocks.NewDemuxer(format, samples...)
	return &fixture{
		demuxer: d,
		opener:  &mocks.DemuxerOpener{Demuxer: d},
		codecs:  &mocks.CodecFactory{},
		muxers:  &mocks.MuxerFactory{},
		frames:  mocks.NewFrameSink(false),
		metrics: &mocks.Metrics{},
	}
}

func (f *fixture) orchestrator(mode pipeline.Mode) *Orchestrator {
	opts := DefaultOptions()
	opts.Mode = mode
	opts.PollTimeout = time.Millisecond
	return New(f.opener, f.codecs, f.muxers, f.frames, f.metrics, logger.NewNoop(), opts)
}

type written struct {
	track int
	pts   int64
	flags pipeline.BufferFlags
}

func tuples(m *mocks.Muxer) []written {
	var out []written
	for _, w := range m.Writes {
		out = append(out, written{track: w.Track, pts: w.Info.PresentationTimeUs, flags: w.Info.Flags})
	}
	return out
}

func TestOrchestrator_HappyPath(t *testing.T) {
	for _, mode := range []pipeline.Mode{pipeline.ModeSync, pipeline.ModeThreaded} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(avcTrack, 5)
			res, err := f.orchestrator(mode).Transcode(context.Background(), "in.mp4", "out.mp4")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			m := f.muxers.Muxer
			if len(m.Writes) != 5 {
				t.Fatalf("expected 5 writes, got %d", len(m.Writes))
			}
			if m.StopCount != 1 {
				t.Errorf("expected one Stop, got %d", m.StopCount)
			}
			want := []string{"addTrack", "start", "write", "write", "write", "write", "write", "stop", "close"}
			if !reflect.DeepEqual(m.Calls, want) {
				t.Errorf("expected calls %v, got %v", want, m.Calls)
			}
			for i, w := range m.Writes {
				if w.Info.PresentationTimeUs != int64(i)*33333 {
					t.Errorf("write %d: expected pts %d, got %d", i, int64(i)*33333, w.Info.PresentationTimeUs)
				}
				if w.Info.Flags.Has(pipeline.FlagEndOfStream) {
					t.Errorf("write %d carries the end-of-stream flag", i)
				}
			}

			if res.Outcome != pipeline.OutcomeCompleted {
				t.Errorf("expected completed, got %s", res.Outcome)
			}
			if res.Mode != mode {
				t.Errorf("expected mode %s, got %s", mode, res.Mode)
			}
			if res.SamplesRead != 5 || res.FramesDecoded != 5 || res.PacketsEncoded != 5 || res.SamplesWritten != 5 {
				t.Errorf("unexpected counts %+v", res)
			}
			if f.muxers.Locator != "out.mp4" || f.muxers.Container != pipeline.ContainerMP4 {
				t.Errorf("unexpected muxer target %q %q", f.muxers.Locator, f.muxers.Container)
			}
			if !reflect.DeepEqual(f.metrics.Outcomes, []string{"completed"}) {
				t.Errorf("expected one completed outcome, got %v", f.metrics.Outcomes)
			}
		})
	}
}

func TestOrchestrator_EndOfStreamExactlyOnce(t *testing.T) {
	for _, mode := range []pipeline.Mode{pipeline.ModeSync, pipeline.ModeThreaded} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(avcTrack, 3)
			if _, err := f.orchestrator(mode).Transcode(context.Background(), "in", "out"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			dec, enc := f.codecs.Decoders[0], f.codecs.Encoders[0]

			eos := 0
			for _, s := range dec.Submissions {
				if s.Flags.Has(pipeline.FlagEndOfStream) {
					eos++
				}
			}
			if eos != 1 {
				t.Errorf("expected one EOS submission to the decoder, got %d", eos)
			}
			if enc.EndOfInputSignals != 1 {
				t.Errorf("expected one end of input signal to the encoder, got %d", enc.EndOfInputSignals)
			}
			if dec.Outstanding() != 0 || enc.Outstanding() != 0 {
				t.Errorf("expected every output buffer released, decoder=%d encoder=%d", dec.Outstanding(), enc.Outstanding())
			}
			if !dec.StopCalled || !dec.DestroyCalled || !enc.StopCalled || !enc.DestroyCalled {
				t.Error("expected both codecs stopped and destroyed")
			}
			if f.demuxer.CloseCalls != 1 {
				t.Errorf("expected demuxer closed once, got %d", f.demuxer.CloseCalls)
			}
		})
	}
}

func TestOrchestrator_ThreadedMatchesSync(t *testing.T) {
	syncFix := newFixture(avcTrack, 8)
	if _, err := syncFix.orchestrator(pipeline.ModeSync).Transcode(context.Background(), "in", "out"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	threadFix := newFixture(avcTrack, 8)
	threadFix.codecs.NewFunc = func(mime string, encoder bool) (*mocks.Codec, error) {
		// starve both sides a little so the workers interleave
		return &mocks.Codec{Buffers: 1, ReadWouldBlock: 3, WriteWouldBlock: 2}, nil
	}
	if _, err := threadFix.orchestrator(pipeline.ModeThreaded).Transcode(context.Background(), "in", "out"); err != nil {
		t.Fatalf("threaded: %v", err)
	}

	a, b := tuples(syncFix.muxers.Muxer), tuples(threadFix.muxers.Muxer)
	if len(a) != 8 {
		t.Fatalf("expected 8 writes, got %d", len(a))
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("threaded writes differ from sync writes:\nsync:     %v\nthreaded: %v", a, b)
	}
}

func TestOrchestrator_EmptyInput(t *testing.T) {
	for _, mode := range []pipeline.Mode{pipeline.ModeSync, pipeline.ModeThreaded} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(avcTrack, 0)
			res, err := f.orchestrator(mode).Transcode(context.Background(), "in", "out")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			dec := f.codecs.Decoders[0]
			if len(dec.Submissions) != 1 {
				t.Fatalf("expected one submission, got %d", len(dec.Submissions))
			}
			s := dec.Submissions[0]
			if len(s.Data) != 0 || !s.Flags.Has(pipeline.FlagEndOfStream) {
				t.Errorf("expected a zero-length EOS submission, got %d bytes flags %s", len(s.Data), s.Flags)
			}
			m := f.muxers.Muxer
			for _, c := range m.Calls {
				if c == "addTrack" || c == "stop" {
					t.Errorf("unexpected muxer call %q", c)
				}
			}
			if !m.Closed {
				t.Error("expected muxer to be closed")
			}
			if res.SamplesWritten != 0 {
				t.Errorf("expected no samples written, got %d", res.SamplesWritten)
			}
		})
	}
}

func TestOrchestrator_AudioOnly(t *testing.T) {
	f := newFixture(pipeline.Format{Mime: pipeline.MimeAAC}, 3)
	res, err := f.orchestrator(pipeline.ModeSync).Transcode(context.Background(), "in", "out")
	if !errors.Is(err, pipeline.ErrFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
	if f.codecs.Created() != 0 {
		t.Errorf("expected no codecs created, got %d", f.codecs.Created())
	}
	if f.muxers.Created != 0 {
		t.Errorf("expected no muxer created, got %d", f.muxers.Created)
	}
	if f.demuxer.CloseCalls != 1 {
		t.Errorf("expected demuxer released, got %d closes", f.demuxer.CloseCalls)
	}
	if res.Outcome != pipeline.OutcomeFailed {
		t.Errorf("expected failed outcome, got %s", res.Outcome)
	}
}

func TestOrchestrator_OpenFailure(t *testing.T) {
	f := newFixture(avcTrack, 1)
	f.opener.Err = errors.New("no such file")
	_, err := f.orchestrator(pipeline.ModeSync).Transcode(context.Background(), "missing", "out")
	if !errors.Is(err, pipeline.ErrResourceUnavailable) {
		t.Fatalf("expected resource unavailable, got %v", err)
	}
}

func TestOrchestrator_EncoderUnavailable(t *testing.T) {
	f := newFixture(avcTrack, 1)
	f.codecs.NewFunc = func(mime string, encoder bool) (*mocks.Codec, error) {
		if encoder {
			return nil, pipeline.Errorf(pipeline.KindResourceUnavailable, "mock", "no encoder for %s", mime)
		}
		return &mocks.Codec{}, nil
	}
	_, err := f.orchestrator(pipeline.ModeSync).Transcode(context.Background(), "in", "out")
	if !errors.Is(err, pipeline.ErrResourceUnavailable) {
		t.Fatalf("expected resource unavailable, got %v", err)
	}
	dec := f.codecs.Decoders[0]
	if dec.StartCalled || !dec.DestroyCalled {
		t.Errorf("expected the unstarted decoder to be destroyed, start=%v destroy=%v", dec.StartCalled, dec.DestroyCalled)
	}
	if !f.muxers.Muxer.Closed || f.demuxer.CloseCalls != 1 {
		t.Error("expected muxer and demuxer released")
	}
}

func TestOrchestrator_MidStreamIOError(t *testing.T) {
	for _, mode := range []pipeline.Mode{pipeline.ModeSync, pipeline.ModeThreaded} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(avcTrack, 3)
			f.codecs.NewFunc = func(mime string, encoder bool) (*mocks.Codec, error) {
				if encoder {
					return &mocks.Codec{ReadErr: errors.New("device lost")}, nil
				}
				return &mocks.Codec{}, nil
			}
			res, err := f.orchestrator(mode).Transcode(context.Background(), "in", "out")
			if !errors.Is(err, pipeline.ErrIO) {
				t.Fatalf("expected i/o error, got %v", err)
			}
			if res.Outcome != pipeline.OutcomeFailed {
				t.Errorf("expected failed outcome, got %s", res.Outcome)
			}
			if f.muxers.Muxer.StopCount != 0 {
				t.Error("a muxer that never started must not be stopped")
			}
		})
	}
}

func TestOrchestrator_WriteErrorStillFinalizes(t *testing.T) {
	for _, mode := range []pipeline.Mode{pipeline.ModeSync, pipeline.ModeThreaded} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(avcTrack, 3)
			f.muxers.Muxer = &mocks.Muxer{WriteErr: errors.New("disk full")}

			res, err := f.orchestrator(mode).Transcode(context.Background(), "in", "out")
			if !errors.Is(err, pipeline.ErrIO) {
				t.Fatalf("expected i/o error, got %v", err)
			}
			if res.Outcome != pipeline.OutcomeFailed {
				t.Errorf("expected failed outcome, got %s", res.Outcome)
			}
			m := f.muxers.Muxer
			if m.StopCount != 1 {
				t.Errorf("expected the started muxer to be stopped once, got %d", m.StopCount)
			}
			if want := []string{"addTrack", "start", "write", "stop", "close"}; !reflect.DeepEqual(m.Calls, want) {
				t.Errorf("expected calls %v, got %v", want, m.Calls)
			}
		})
	}
}

// orderedOpener and orderedMuxers record when the demuxer is closed and
// the muxer is stopped.
type orderedOpener struct {
	ports.DemuxerOpener
	order *[]string
}

type orderedDemuxer struct {
	ports.Demuxer
	order *[]string
}

func (o orderedOpener) OpenDemuxer(path string) (ports.Demuxer, error) {
	d, err := o.DemuxerOpener.OpenDemuxer(path)
	if err != nil {
		return nil, err
	}
	return orderedDemuxer{Demuxer: d, order: o.order}, nil
}

func (d orderedDemuxer) Close() error {
	*d.order = append(*d.order, "demuxer close")
	return d.Demuxer.Close()
}

type orderedMuxers struct {
	*mocks.MuxerFactory
	order *[]string
}

type orderedMuxer struct {
	ports.Muxer
	order *[]string
}

func (f orderedMuxers) CreateMuxer(locator string, container pipeline.ContainerFormat) (ports.Muxer, error) {
	m, err := f.MuxerFactory.CreateMuxer(locator, container)
	if err != nil {
		return nil, err
	}
	return orderedMuxer{Muxer: m, order: f.order}, nil
}

func (m orderedMuxer) Stop() error {
	*m.order = append(*m.order, "muxer stop")
	return m.Muxer.Stop()
}

func TestOrchestrator_MuxerFinalizedLast(t *testing.T) {
	for _, mode := range []pipeline.Mode{pipeline.ModeSync, pipeline.ModeThreaded} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(avcTrack, 3)
			var order []string
			opts := DefaultOptions()
			opts.Mode = mode
			opts.PollTimeout = time.Millisecond
			o := New(orderedOpener{f.opener, &order}, f.codecs, orderedMuxers{f.muxers, &order},
				f.frames, f.metrics, logger.NewNoop(), opts)

			if _, err := o.Transcode(context.Background(), "in", "out"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if want := []string{"demuxer close", "muxer stop"}; !reflect.DeepEqual(order, want) {
				t.Errorf("expected teardown order %v, got %v", want, order)
			}
		})
	}
}

func TestTeardown_PushLast(t *testing.T) {
	var order []string
	step := func(name string) func() error {
		return func() error {
			order = append(order, name)
			return nil
		}
	}
	var td teardown
	td.push(step("demuxer"))
	td.pushLast(step("muxer"))
	td.push(step("decoder"))
	td.push(step("encoder"))
	if err := td.run(logger.NewNoop()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if want := []string{"encoder", "decoder", "demuxer", "muxer"}; !reflect.DeepEqual(order, want) {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestOrchestrator_Cancelled(t *testing.T) {
	f := newFixture(avcTrack, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.orchestrator(pipeline.ModeSync).Transcode(ctx, "in", "out")
	if !errors.Is(err, pipeline.ErrAborted) {
		t.Fatalf("expected aborted, got %v", err)
	}
	if res.Outcome != pipeline.OutcomeAborted {
		t.Errorf("expected aborted outcome, got %s", res.Outcome)
	}
	if len(f.opener.Opened) != 0 {
		t.Error("a cancelled run must not open the input")
	}
}

func TestOrchestrator_CancelledMidRun(t *testing.T) {
	for _, mode := range []pipeline.Mode{pipeline.ModeSync, pipeline.ModeThreaded} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(avcTrack, 3)
			f.codecs.NewFunc = func(mime string, encoder bool) (*mocks.Codec, error) {
				if encoder {
					// never produces output
					return &mocks.Codec{ReadWouldBlock: 1 << 30}, nil
				}
				return &mocks.Codec{}, nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()

			_, err := f.orchestrator(mode).Transcode(ctx, "in", "out")
			if !errors.Is(err, pipeline.ErrAborted) {
				t.Fatalf("expected aborted, got %v", err)
			}
			if !f.codecs.Encoders[0].DestroyCalled || !f.codecs.Decoders[0].DestroyCalled {
				t.Error("expected codecs destroyed after cancellation")
			}
		})
	}
}

func TestOrchestrator_FrameDump(t *testing.T) {
	f := newFixture(avcTrack, 4)
	f.frames = mocks.NewFrameSink(true)
	if _, err := f.orchestrator(pipeline.ModeSync).Transcode(context.Background(), "in", "out"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.frames.Count() != 4 {
		t.Errorf("expected 4 dumped frames, got %d", f.frames.Count())
	}
}

func TestOrchestrator_EncoderInheritsTrackGeometry(t *testing.T) {
	f := newFixture(avcTrack, 1)
	if _, err := f.orchestrator(pipeline.ModeSync).Transcode(context.Background(), "in", "out"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := f.codecs.Encoders[0].Configured
	if got.Width != 64 || got.Height != 64 || got.FrameRate != 30 || got.BitRate != 2_000_000 {
		t.Errorf("unexpected encoder configuration %+v", got)
	}
}

func TestOrchestrator_EncodeRaw(t *testing.T) {
	raw := pipeline.Format{Mime: pipeline.MimeRaw, Width: 4, Height: 4, FrameRate: 25}
	d := mocks.NewDemuxer(raw,
		mocks.Sample{Data: make([]byte, 24), PTSUs: 0, Flags: pipeline.FlagKeyFrame},
		mocks.Sample{Data: make([]byte, 24), PTSUs: 40000, Flags: pipeline.FlagKeyFrame},
		mocks.Sample{Data: make([]byte, 24), PTSUs: 80000, Flags: pipeline.FlagKeyFrame},
	)
	f := newFixture(avcTrack, 0)
	res, err := f.orchestrator(pipeline.ModeThreaded).EncodeRaw(context.Background(), &mocks.DemuxerOpener{Demuxer: d}, "in.yuv", "out.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.codecs.Decoders) != 0 {
		t.Error("raw encode must not create a decoder")
	}
	if len(f.muxers.Muxer.Writes) != 3 {
		t.Errorf("expected 3 writes, got %d", len(f.muxers.Muxer.Writes))
	}
	if res.Mode != pipeline.ModeSync || res.SamplesRead != 3 || res.FramesDecoded != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if enc := f.codecs.Encoders[0].Configured; enc.Mime != pipeline.MimeAVC || enc.Width != 4 || enc.FrameRate != 25 {
		t.Errorf("unexpected encoder configuration %+v", enc)
	}
}

func TestOrchestrator_Execute(t *testing.T) {
	f := newFixture(avcTrack, 2)
	var stage pipeline.Stage[pipeline.Job, pipeline.Result] = f.orchestrator(pipeline.ModeSync)
	res, err := stage.Execute(context.Background(), pipeline.Job{Input: "a.mp4", Output: "b.mp4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Input != "a.mp4" || res.Output != "b.mp4" || res.SamplesWritten != 2 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestOrchestrator_Probe(t *testing.T) {
	f := newFixture(avcTrack, 0)
	f.demuxer.TrackList = append(f.demuxer.TrackList, pipeline.Track{Index: 1, Format: pipeline.Format{Mime: pipeline.MimeAAC}})
	tracks, err := f.orchestrator(pipeline.ModeSync).Probe("in")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tracks) != 2 || tracks[1].Format.Mime != pipeline.MimeAAC {
		t.Errorf("unexpected tracks %+v", tracks)
	}
	if f.demuxer.CloseCalls != 1 {
		t.Error("expected demuxer closed after probe")
	}
}
