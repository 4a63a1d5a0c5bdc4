package mocks

import (
	"sync"
	"time"

	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

// Submission records a call to Codec.Submit.
type Submission struct {
	Index int
	Data  []byte
	PTSUs int64
	Flags pipeline.BufferFlags
}

type codecEvent struct {
	format *pipeline.Format
	data   []byte
	info   pipeline.BufferInfo
}

// Codec is a synchronous mock implementation of ports.Codec. Every
// submitted buffer becomes readable immediately. A format change is
// announced before the first non-empty output and an empty EOS buffer
// follows the last input.
type Codec struct {
	mu sync.Mutex

	CodecName   string
	Buffers     int // input buffers, 2 when zero
	BufferSize  int // bytes per input buffer, 64 KiB when zero
	Announce    *pipeline.Format
	MarkKeyEach bool // flag every output buffer as a key frame

	// WriteWouldBlock and ReadWouldBlock make the first N acquisitions
	// time out.
	WriteWouldBlock int
	ReadWouldBlock  int

	ConfigureErr error
	SubmitErr    error
	ReadErr      error

	// Recorded calls for verification
	Configured        pipeline.Format
	ConfigureFlags    ports.ConfigureFlags
	Submissions       []Submission
	EndOfInputSignals int
	Released          int
	StartCalled       bool
	StopCalled        bool
	DestroyCalled     bool

	inputs       [][]byte
	free         []int
	loaned       map[int]bool
	outputs      map[int]codecEvent
	queue        []codecEvent
	nextOut      int
	announced    bool
	inputEOS     bool
	eosDelivered bool
	outFormat    pipeline.Format
}

func (c *Codec) violation(op, format string, args ...interface{}) error {
	return pipeline.Errorf(pipeline.KindProtocolViolation, "mock codec: "+op, format, args...)
}

func (c *Codec) Name() string {
	if c.CodecName == "" {
		return "mock"
	}
	return c.CodecName
}

func (c *Codec) Configure(format pipeline.Format, flags ports.ConfigureFlags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StartCalled {
		return c.violation("configure", "already started")
	}
	if c.ConfigureErr != nil {
		return c.ConfigureErr
	}
	c.Configured = format
	c.ConfigureFlags = flags
	return nil
}

func (c *Codec) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StartCalled {
		return c.violation("start", "already started")
	}
	n := c.Buffers
	if n <= 0 {
		n = 2
	}
	size := c.BufferSize
	if size <= 0 {
		size = 64 * 1024
	}
	c.inputs = make([][]byte, n)
	for i := range c.inputs {
		c.inputs[i] = make([]byte, size)
		c.free = append(c.free, i)
	}
	c.loaned = make(map[int]bool)
	c.outputs = make(map[int]codecEvent)
	c.StartCalled = true
	return nil
}

func (c *Codec) running() bool {
	return c.StartCalled && !c.StopCalled
}

func (c *Codec) TryAcquireWrite(timeout time.Duration) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running() {
		return -1, false, c.violation("acquire write", "not started")
	}
	if c.inputEOS {
		return -1, false, c.violation("acquire write", "end of input already signalled")
	}
	if c.WriteWouldBlock > 0 {
		c.WriteWouldBlock--
		return -1, false, nil
	}
	if len(c.free) == 0 {
		return -1, false, nil
	}
	idx := c.free[0]
	c.free = c.free[1:]
	c.loaned[idx] = true
	return idx, true, nil
}

func (c *Codec) InputBuffer(index int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaned[index] {
		return nil, c.violation("input buffer", "index %d not acquired", index)
	}
	return c.inputs[index], nil
}

func (c *Codec) Submit(index, size int, ptsUs int64, flags pipeline.BufferFlags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaned[index] {
		return c.violation("submit", "index %d not acquired", index)
	}
	if size > len(c.inputs[index]) {
		return c.violation("submit", "size %d exceeds buffer", size)
	}
	if c.SubmitErr != nil {
		return c.SubmitErr
	}
	data := append([]byte(nil), c.inputs[index][:size]...)
	c.Submissions = append(c.Submissions, Submission{Index: index, Data: data, PTSUs: ptsUs, Flags: flags})
	delete(c.loaned, index)
	c.free = append(c.free, index)

	if size > 0 {
		if !c.announced {
			f := c.Configured
			if c.Announce != nil {
				f = *c.Announce
			}
			c.queue = append(c.queue, codecEvent{format: &f})
			c.announced = true
		}
		out := flags &^ pipeline.FlagEndOfStream
		if c.MarkKeyEach {
			out |= pipeline.FlagKeyFrame
		}
		c.queue = append(c.queue, codecEvent{data: data, info: pipeline.BufferInfo{Size: size, PresentationTimeUs: ptsUs, Flags: out}})
	}
	if flags.Has(pipeline.FlagEndOfStream) {
		c.inputEOS = true
		c.queueEOS(ptsUs)
	}
	return nil
}

func (c *Codec) queueEOS(ptsUs int64) {
	c.queue = append(c.queue, codecEvent{info: pipeline.BufferInfo{PresentationTimeUs: ptsUs, Flags: pipeline.FlagEndOfStream}})
}

func (c *Codec) SignalEndOfInput() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running() {
		return c.violation("signal end of input", "not started")
	}
	if c.inputEOS {
		return c.violation("signal end of input", "already signalled")
	}
	c.inputEOS = true
	c.EndOfInputSignals++
	var last int64
	if n := len(c.Submissions); n > 0 {
		last = c.Submissions[n-1].PTSUs
	}
	c.queueEOS(last)
	return nil
}

func (c *Codec) TryAcquireRead(timeout time.Duration) (pipeline.ReadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running() {
		return pipeline.ReadResult{}, c.violation("acquire read", "not started")
	}
	if c.ReadErr != nil {
		return pipeline.ReadResult{}, c.ReadErr
	}
	if c.eosDelivered {
		return pipeline.ReadResult{Status: pipeline.ReadEndOfStream}, nil
	}
	if c.ReadWouldBlock > 0 {
		c.ReadWouldBlock--
		return pipeline.ReadResult{Status: pipeline.ReadWouldBlock}, nil
	}
	if len(c.queue) == 0 {
		return pipeline.ReadResult{Status: pipeline.ReadWouldBlock}, nil
	}

	ev := c.queue[0]
	c.queue = c.queue[1:]
	if ev.format != nil {
		c.outFormat = *ev.format
		return pipeline.ReadResult{Status: pipeline.ReadFormatChanged, Format: *ev.format}, nil
	}
	idx := c.nextOut
	c.nextOut++
	c.outputs[idx] = ev
	if ev.info.Flags.Has(pipeline.FlagEndOfStream) {
		c.eosDelivered = true
	}
	return pipeline.ReadResult{Status: pipeline.ReadReady, Index: idx, Info: ev.info}, nil
}

func (c *Codec) OutputBuffer(index int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.outputs[index]
	if !ok {
		return nil, c.violation("output buffer", "index %d not acquired", index)
	}
	return ev.data, nil
}

func (c *Codec) ReleaseRead(index int, render bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.outputs[index]; !ok {
		return c.violation("release", "index %d not acquired", index)
	}
	delete(c.outputs, index)
	c.Released++
	return nil
}

func (c *Codec) OutputFormat() pipeline.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outFormat
}

func (c *Codec) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StopCalled = true
	return nil
}

func (c *Codec) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DestroyCalled = true
	return nil
}

// Outstanding returns the number of output buffers acquired but not released.
func (c *Codec) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outputs)
}

// CodecFactory is a mock implementation of ports.CodecFactory.
type CodecFactory struct {
	mu sync.Mutex

	NewFunc func(mime string, encoder bool) (*Codec, error)

	Decoders []*Codec
	Encoders []*Codec
}

func (f *CodecFactory) create(mime string, encoder bool) (*Codec, error) {
	if f.NewFunc != nil {
		return f.NewFunc(mime, encoder)
	}
	return &Codec{}, nil
}

func (f *CodecFactory) CreateDecoder(mime string) (ports.Codec, error) {
	c, err := f.create(mime, false)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.Decoders = append(f.Decoders, c)
	f.mu.Unlock()
	return c, nil
}

func (f *CodecFactory) CreateEncoder(mime string) (ports.Codec, error) {
	c, err := f.create(mime, true)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.Encoders = append(f.Encoders, c)
	f.mu.Unlock()
	return c, nil
}

// Created returns the number of codecs created.
func (f *CodecFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Decoders) + len(f.Encoders)
}

var (
	_ ports.Codec        = (*Codec)(nil)
	_ ports.CodecFactory = (*CodecFactory)(nil)
)
