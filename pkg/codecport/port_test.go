package codecport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

const pollTimeout = 10 * time.Millisecond

// echoProcessor copies every input unit to the output and announces a
// format before the first one.
type echoProcessor struct {
	announced bool
	failOn    int
	processed int
	flushed   bool
	closed    bool
}

func (e *echoProcessor) Configure(format pipeline.Format, flags ports.ConfigureFlags) error {
	if format.Mime == "" {
		return errors.New("missing mime")
	}
	return nil
}

func (e *echoProcessor) Process(ctx context.Context, in Unit, out Emitter) error {
	e.processed++
	if e.failOn > 0 && e.processed == e.failOn {
		return errors.New("boom")
	}
	if !e.announced {
		out.FormatChanged(pipeline.Format{Mime: "video/test", Width: 2, Height: 2})
		e.announced = true
	}
	return out.Emit(in)
}

func (e *echoProcessor) Flush(ctx context.Context, out Emitter) error {
	e.flushed = true
	return nil
}

func (e *echoProcessor) Close() error {
	e.closed = true
	return nil
}

func startedPort(t *testing.T, proc Processor, opts Options) *Port {
	t.Helper()
	p := New("test", proc, opts)
	if err := p.Configure(pipeline.Format{Mime: "video/test"}, ports.ConfigureDecode); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { p.Destroy() })
	return p
}

func submit(t *testing.T, p *Port, data []byte, pts int64, flags pipeline.BufferFlags) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		idx, ok, err := p.TryAcquireWrite(pollTimeout)
		if err != nil {
			t.Fatalf("acquire write: %v", err)
		}
		if !ok {
			continue
		}
		buf, err := p.InputBuffer(idx)
		if err != nil {
			t.Fatalf("input buffer: %v", err)
		}
		n := copy(buf, data)
		if err := p.Submit(idx, n, pts, flags); err != nil {
			t.Fatalf("submit: %v", err)
		}
		return
	}
	t.Fatal("timed out acquiring input buffer")
}

func read(t *testing.T, p *Port) pipeline.ReadResult {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		res, err := p.TryAcquireRead(pollTimeout)
		if err != nil {
			t.Fatalf("acquire read: %v", err)
		}
		if res.Status != pipeline.ReadWouldBlock {
			return res
		}
	}
	t.Fatal("timed out waiting for output")
	return pipeline.ReadResult{}
}

func TestPort_RoundTrip(t *testing.T) {
	proc := &echoProcessor{}
	p := startedPort(t, proc, Options{InputBuffers: 2, OutputBuffers: 2})

	for i := 0; i < 3; i++ {
		flags := pipeline.BufferFlags(0)
		if i == 2 {
			flags = pipeline.FlagEndOfStream
		}
		submit(t, p, []byte{byte(i + 1)}, int64(i)*1000, flags)
	}

	res := read(t, p)
	if res.Status != pipeline.ReadFormatChanged {
		t.Fatalf("expected format change first, got %s", res.Status)
	}
	if p.OutputFormat().Mime != "video/test" {
		t.Errorf("expected announced format to be recorded, got %q", p.OutputFormat().Mime)
	}

	for i := 0; i < 3; i++ {
		res := read(t, p)
		if res.Status != pipeline.ReadReady {
			t.Fatalf("buffer %d: expected ready, got %s", i, res.Status)
		}
		if res.Info.PresentationTimeUs != int64(i)*1000 {
			t.Errorf("buffer %d: pts %d", i, res.Info.PresentationTimeUs)
		}
		if res.Info.Flags.Has(pipeline.FlagEndOfStream) {
			t.Errorf("buffer %d: data buffer must not carry EOS", i)
		}
		data, err := p.OutputBuffer(res.Index)
		if err != nil {
			t.Fatalf("output buffer: %v", err)
		}
		if len(data) != 1 || data[0] != byte(i+1) {
			t.Errorf("buffer %d: unexpected payload %v", i, data)
		}
		if err := p.ReleaseRead(res.Index, false); err != nil {
			t.Fatalf("release: %v", err)
		}
	}

	eos := read(t, p)
	if eos.Status != pipeline.ReadReady || !eos.Info.Flags.Has(pipeline.FlagEndOfStream) {
		t.Fatalf("expected EOS buffer, got %s flags %s", eos.Status, eos.Info.Flags)
	}
	if eos.Info.Size != 0 {
		t.Errorf("EOS buffer should be empty, got %d bytes", eos.Info.Size)
	}
	if err := p.ReleaseRead(eos.Index, false); err != nil {
		t.Fatalf("release EOS: %v", err)
	}
	if p.State() != StateOutputEOS {
		t.Errorf("expected state output-eos, got %s", p.State())
	}

	after, err := p.TryAcquireRead(pollTimeout)
	if err != nil {
		t.Fatalf("read after EOS: %v", err)
	}
	if after.Status != pipeline.ReadEndOfStream {
		t.Errorf("expected end-of-stream after EOS buffer, got %s", after.Status)
	}
	if !proc.flushed {
		t.Error("expected processor to be flushed")
	}
}

func TestPort_SignalEndOfInput(t *testing.T) {
	proc := &echoProcessor{}
	p := startedPort(t, proc, Options{})

	if err := p.SignalEndOfInput(); err != nil {
		t.Fatalf("signal: %v", err)
	}
	res := read(t, p)
	if res.Status != pipeline.ReadReady || !res.Info.Flags.Has(pipeline.FlagEndOfStream) {
		t.Fatalf("expected EOS buffer without format change, got %s", res.Status)
	}
	if proc.announced {
		t.Error("empty stream must not announce a format")
	}

	if _, _, err := p.TryAcquireWrite(pollTimeout); !errors.Is(err, pipeline.ErrProtocolViolation) {
		t.Errorf("acquire after end of input: expected protocol violation, got %v", err)
	}
	if err := p.SignalEndOfInput(); !errors.Is(err, pipeline.ErrProtocolViolation) {
		t.Errorf("second signal: expected protocol violation, got %v", err)
	}
}

func TestPort_ConfigureAfterStart(t *testing.T) {
	p := startedPort(t, &echoProcessor{}, Options{})
	err := p.Configure(pipeline.Format{Mime: "video/test"}, ports.ConfigureDecode)
	if !errors.Is(err, pipeline.ErrProtocolViolation) {
		t.Errorf("expected protocol violation, got %v", err)
	}
}

func TestPort_ConfigureRejected(t *testing.T) {
	p := New("test", &echoProcessor{}, Options{})
	err := p.Configure(pipeline.Format{}, ports.ConfigureDecode)
	if !errors.Is(err, pipeline.ErrFormat) {
		t.Errorf("expected format error, got %v", err)
	}
	if err := p.Start(); !errors.Is(err, pipeline.ErrProtocolViolation) {
		t.Errorf("start before configure: expected protocol violation, got %v", err)
	}
}

func TestPort_WouldBlockWhenInputsLoaned(t *testing.T) {
	p := startedPort(t, &echoProcessor{}, Options{InputBuffers: 1})

	idx, ok, err := p.TryAcquireWrite(pollTimeout)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	_, ok, err = p.TryAcquireWrite(pollTimeout)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("expected would-block while the only buffer is loaned")
	}
	if err := p.Submit(idx, 0, 0, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestPort_SubmitUnloanedIndex(t *testing.T) {
	p := startedPort(t, &echoProcessor{}, Options{})
	if err := p.Submit(0, 1, 0, 0); !errors.Is(err, pipeline.ErrProtocolViolation) {
		t.Errorf("expected protocol violation, got %v", err)
	}
	if _, err := p.InputBuffer(0); !errors.Is(err, pipeline.ErrProtocolViolation) {
		t.Errorf("input buffer of free slot: expected protocol violation, got %v", err)
	}
}

func TestPort_SubmitTooLarge(t *testing.T) {
	p := startedPort(t, &echoProcessor{}, Options{InputBufferSize: 4})
	idx, ok, err := p.TryAcquireWrite(pollTimeout)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if err := p.Submit(idx, 5, 0, 0); !errors.Is(err, pipeline.ErrProtocolViolation) {
		t.Errorf("expected protocol violation, got %v", err)
	}
}

func TestPort_DoubleRelease(t *testing.T) {
	p := startedPort(t, &echoProcessor{}, Options{})
	submit(t, p, []byte{1}, 0, 0)
	res := read(t, p)
	if res.Status == pipeline.ReadFormatChanged {
		res = read(t, p)
	}
	if err := p.ReleaseRead(res.Index, false); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := p.ReleaseRead(res.Index, false); !errors.Is(err, pipeline.ErrProtocolViolation) {
		t.Errorf("expected protocol violation on double release, got %v", err)
	}
}

func TestPort_ProcessorErrorSurfacesAsIOError(t *testing.T) {
	p := startedPort(t, &echoProcessor{failOn: 1}, Options{})
	submit(t, p, []byte{1}, 0, 0)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		res, err := p.TryAcquireRead(pollTimeout)
		if err != nil {
			if !errors.Is(err, pipeline.ErrIO) {
				t.Errorf("expected i/o error, got %v", err)
			}
			return
		}
		if res.Status != pipeline.ReadWouldBlock {
			t.Fatalf("unexpected %s", res.Status)
		}
	}
	t.Fatal("processor error never surfaced")
}

func TestPort_StopAndDestroy(t *testing.T) {
	proc := &echoProcessor{}
	p := New("test", proc, Options{})
	if err := p.Configure(pipeline.Format{Mime: "video/test"}, ports.ConfigureEncode); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.State() != StateStopped {
		t.Errorf("expected stopped, got %s", p.State())
	}
	if _, err := p.TryAcquireRead(pollTimeout); !errors.Is(err, pipeline.ErrProtocolViolation) {
		t.Errorf("read after stop: expected protocol violation, got %v", err)
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
	if !proc.closed {
		t.Error("expected processor to be closed")
	}
}
