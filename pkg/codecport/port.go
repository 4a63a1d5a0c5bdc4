// Package codecport implements the buffer-exchange protocol of ports.Codec on
// top of a Processor that turns input units into output units on a worker
// goroutine. Codec adapters only provide the Processor.
package codecport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

// State is the lifecycle state of a Port.
type State int

const (
	StateCreated State = iota
	StateConfigured
	StateStarted
	StateInputEOS
	StateOutputEOS
	StateStopped
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateStarted:
		return "started"
	case StateInputEOS:
		return "input-eos"
	case StateOutputEOS:
		return "output-eos"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Unit is one buffer's worth of data flowing through a Processor.
type Unit struct {
	Data  []byte
	PTSUs int64
	Flags pipeline.BufferFlags
}

// Emitter receives a Processor's output.
type Emitter interface {
	// Emit copies u into a free output buffer, waiting for one if needed.
	Emit(u Unit) error
	// FormatChanged announces the format of every following buffer.
	FormatChanged(f pipeline.Format)
}

// Processor is the codec-specific transform behind a Port.
//
// Process and Flush run on the port's worker goroutine. in.Data is only valid
// during Process. A Processor may also call the Emitter from one goroutine of
// its own, as long as it stops doing so before Flush returns.
type Processor interface {
	Configure(format pipeline.Format, flags ports.ConfigureFlags) error
	Process(ctx context.Context, in Unit, out Emitter) error
	Flush(ctx context.Context, out Emitter) error
	Close() error
}

// Options size a Port's buffer pools.
type Options struct {
	InputBuffers  int
	OutputBuffers int
	// InputBufferSize is the capacity of each input buffer. Zero derives it
	// from the configured format.
	InputBufferSize int
}

// DefaultOptions returns the pool sizes used by the bundled codecs.
func DefaultOptions() Options {
	return Options{
		InputBuffers:  4,
		OutputBuffers: 4,
	}
}

const (
	minInputBufferSize = 1 << 20
	endOfInput         = -1
)

type slotState int

const (
	slotFree slotState = iota
	slotLoaned
	slotQueued
)

type slot struct {
	data  []byte
	state slotState
	info  pipeline.BufferInfo
}

type event struct {
	format *pipeline.Format
	index  int
}

// Port implements ports.Codec.
type Port struct {
	name string
	proc Processor
	opts Options

	mu           sync.Mutex
	state        State
	format       pipeline.Format
	outFmt       pipeline.Format
	inputs       []slot
	outputs      []slot
	freeIn       chan int
	work         chan workItem
	ready        chan event
	freeOut      chan int
	cancel       context.CancelFunc
	done         chan struct{}
	workErr      error
	pending      *pipeline.Format
	eosDelivered bool
}

type workItem struct {
	index int
	unit  Unit
}

// New creates a Port driving proc.
func New(name string, proc Processor, opts Options) *Port {
	if opts.InputBuffers <= 0 {
		opts.InputBuffers = DefaultOptions().InputBuffers
	}
	if opts.OutputBuffers <= 0 {
		opts.OutputBuffers = DefaultOptions().OutputBuffers
	}
	return &Port{name: name, proc: proc, opts: opts}
}

func (p *Port) violation(op, format string, args ...interface{}) error {
	return pipeline.Errorf(pipeline.KindProtocolViolation, p.name+": "+op, format, args...)
}

// Name returns the codec name.
func (p *Port) Name() string {
	return p.name
}

// State returns the current lifecycle state.
func (p *Port) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Configure configures the processor. Only valid before Start.
func (p *Port) Configure(format pipeline.Format, flags ports.ConfigureFlags) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateCreated && p.state != StateConfigured {
		return p.violation("configure", "not allowed in state %s", p.state)
	}
	if err := p.proc.Configure(format, flags); err != nil {
		return pipeline.Classify(pipeline.KindFormat, p.name+": configure", err)
	}
	p.format = format
	p.state = StateConfigured
	return nil
}

// Start allocates buffers and launches the worker.
func (p *Port) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateConfigured {
		return p.violation("start", "not allowed in state %s", p.state)
	}

	size := p.opts.InputBufferSize
	if size <= 0 {
		size = p.format.FrameSize()
		if size < minInputBufferSize {
			size = minInputBufferSize
		}
	}

	p.inputs = make([]slot, p.opts.InputBuffers)
	p.freeIn = make(chan int, p.opts.InputBuffers)
	for i := range p.inputs {
		p.inputs[i].data = make([]byte, size)
		p.freeIn <- i
	}
	p.outputs = make([]slot, p.opts.OutputBuffers)
	p.freeOut = make(chan int, p.opts.OutputBuffers)
	for i := range p.outputs {
		p.freeOut <- i
	}
	// one extra entry for the end-of-input marker
	p.work = make(chan workItem, p.opts.InputBuffers+1)
	// format events do not hold a buffer, leave room for a few
	p.ready = make(chan event, p.opts.OutputBuffers+4)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = StateStarted

	go p.run(ctx)
	return nil
}

func (p *Port) running() bool {
	return p.state == StateStarted || p.state == StateInputEOS || p.state == StateOutputEOS
}

// TryAcquireWrite loans a free input buffer.
func (p *Port) TryAcquireWrite(timeout time.Duration) (int, bool, error) {
	p.mu.Lock()
	if !p.running() {
		p.mu.Unlock()
		return -1, false, p.violation("acquire input", "not allowed in state %s", p.state)
	}
	if p.state != StateStarted {
		p.mu.Unlock()
		return -1, false, p.violation("acquire input", "input already ended")
	}
	freeIn, done := p.freeIn, p.done
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case idx := <-freeIn:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.inputs[idx].state != slotFree {
			return -1, false, p.violation("acquire input", "buffer %d handed out twice", idx)
		}
		p.inputs[idx].state = slotLoaned
		return idx, true, nil
	case <-done:
		return -1, false, p.workerError("acquire input")
	case <-timer.C:
		return -1, false, nil
	}
}

// InputBuffer returns the memory of a loaned input buffer.
func (p *Port) InputBuffer(index int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.inputs) || p.inputs[index].state != slotLoaned {
		return nil, p.violation("input buffer", "buffer %d is not loaned", index)
	}
	return p.inputs[index].data, nil
}

// Submit queues a loaned input buffer.
func (p *Port) Submit(index, size int, ptsUs int64, flags pipeline.BufferFlags) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateStarted {
		return p.violation("submit", "not allowed in state %s", p.state)
	}
	if index < 0 || index >= len(p.inputs) || p.inputs[index].state != slotLoaned {
		return p.violation("submit", "buffer %d is not loaned", index)
	}
	s := &p.inputs[index]
	if size < 0 || size > len(s.data) {
		return p.violation("submit", "size %d exceeds buffer capacity %d", size, len(s.data))
	}
	s.state = slotQueued
	p.work <- workItem{index: index, unit: Unit{Data: s.data[:size], PTSUs: ptsUs, Flags: flags}}
	if flags.Has(pipeline.FlagEndOfStream) {
		p.state = StateInputEOS
	}
	return nil
}

// SignalEndOfInput ends the input stream without a buffer.
func (p *Port) SignalEndOfInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateStarted {
		return p.violation("signal end of input", "not allowed in state %s", p.state)
	}
	p.work <- workItem{index: endOfInput}
	p.state = StateInputEOS
	return nil
}

// TryAcquireRead polls for output.
func (p *Port) TryAcquireRead(timeout time.Duration) (pipeline.ReadResult, error) {
	p.mu.Lock()
	if !p.running() {
		p.mu.Unlock()
		return pipeline.ReadResult{}, p.violation("acquire output", "not allowed in state %s", p.state)
	}
	if p.eosDelivered {
		p.mu.Unlock()
		return pipeline.ReadResult{Status: pipeline.ReadEndOfStream}, nil
	}
	ready, done := p.ready, p.done
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ready:
		return p.deliver(ev)
	case <-done:
		// the worker may have queued events before exiting
		select {
		case ev := <-ready:
			return p.deliver(ev)
		default:
		}
		if err := p.workerError("acquire output"); err != nil {
			return pipeline.ReadResult{}, err
		}
		return pipeline.ReadResult{Status: pipeline.ReadWouldBlock}, nil
	case <-timer.C:
		return pipeline.ReadResult{Status: pipeline.ReadWouldBlock}, nil
	}
}

func (p *Port) deliver(ev event) (pipeline.ReadResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.format != nil {
		p.outFmt = *ev.format
		return pipeline.ReadResult{Status: pipeline.ReadFormatChanged, Format: *ev.format}, nil
	}
	s := &p.outputs[ev.index]
	s.state = slotLoaned
	if s.info.Flags.Has(pipeline.FlagEndOfStream) {
		p.eosDelivered = true
		p.state = StateOutputEOS
	}
	return pipeline.ReadResult{Status: pipeline.ReadReady, Index: ev.index, Info: s.info}, nil
}

// OutputBuffer returns the contents of a loaned output buffer.
func (p *Port) OutputBuffer(index int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.outputs) || p.outputs[index].state != slotLoaned {
		return nil, p.violation("output buffer", "buffer %d is not loaned", index)
	}
	s := &p.outputs[index]
	return s.data[s.info.Offset : s.info.Offset+s.info.Size], nil
}

// ReleaseRead returns a loaned output buffer.
func (p *Port) ReleaseRead(index int, render bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.outputs) || p.outputs[index].state != slotLoaned {
		return p.violation("release output", "buffer %d is not loaned", index)
	}
	p.outputs[index].state = slotFree
	p.freeOut <- index
	return nil
}

// OutputFormat returns the last format delivered through TryAcquireRead.
func (p *Port) OutputFormat() pipeline.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outFmt
}

// Stop halts the worker and waits for it to exit.
func (p *Port) Stop() error {
	p.mu.Lock()
	if !p.running() {
		st := p.state
		p.mu.Unlock()
		if st == StateStopped {
			return nil
		}
		return p.violation("stop", "not allowed in state %s", st)
	}
	cancel, done := p.cancel, p.done
	p.state = StateStopped
	p.mu.Unlock()

	cancel()
	<-done
	return p.proc.Close()
}

// Destroy stops the port if needed and drops its buffers.
func (p *Port) Destroy() error {
	var err error
	p.mu.Lock()
	st := p.state
	p.mu.Unlock()
	switch {
	case st == StateDestroyed:
		return nil
	case st == StateStarted || st == StateInputEOS || st == StateOutputEOS:
		err = p.Stop()
	case st == StateCreated || st == StateConfigured:
		err = p.proc.Close()
	}

	p.mu.Lock()
	p.state = StateDestroyed
	p.inputs = nil
	p.outputs = nil
	p.mu.Unlock()
	return err
}

func (p *Port) workerError(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workErr == nil {
		return nil
	}
	return pipeline.Classify(pipeline.KindIO, p.name+": "+op, p.workErr)
}

// run is the worker loop.
func (p *Port) run(ctx context.Context) {
	defer close(p.done)
	em := &emitter{p: p, ctx: ctx}

	err := p.loop(ctx, em)
	if err != nil && !errors.Is(err, context.Canceled) {
		p.mu.Lock()
		p.workErr = err
		p.mu.Unlock()
	}
}

func (p *Port) loop(ctx context.Context, em *emitter) error {
	for {
		var item workItem
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item = <-p.work:
		}

		eos := item.index == endOfInput || item.unit.Flags.Has(pipeline.FlagEndOfStream)
		if item.index != endOfInput {
			in := item.unit
			in.Flags &^= pipeline.FlagEndOfStream
			var err error
			if len(in.Data) > 0 {
				err = p.proc.Process(ctx, in, em)
			}
			p.mu.Lock()
			p.inputs[item.index].state = slotFree
			p.mu.Unlock()
			p.freeIn <- item.index
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
		}

		if eos {
			if err := p.proc.Flush(ctx, em); err != nil {
				return fmt.Errorf("flush: %w", err)
			}
			return em.Emit(Unit{PTSUs: em.lastPTS, Flags: pipeline.FlagEndOfStream})
		}
	}
}

// emitter copies processor output into the port's output buffers.
type emitter struct {
	p       *Port
	ctx     context.Context
	lastPTS int64
}

func (e *emitter) FormatChanged(f pipeline.Format) {
	e.p.mu.Lock()
	e.p.pending = &f
	e.p.mu.Unlock()
}

func (e *emitter) Emit(u Unit) error {
	p := e.p

	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	if pending != nil {
		select {
		case p.ready <- event{format: pending}:
		case <-e.ctx.Done():
			return e.ctx.Err()
		}
	}

	var idx int
	select {
	case idx = <-p.freeOut:
	case <-e.ctx.Done():
		return e.ctx.Err()
	}

	p.mu.Lock()
	s := &p.outputs[idx]
	if cap(s.data) < len(u.Data) {
		s.data = make([]byte, len(u.Data))
	}
	s.data = s.data[:len(u.Data)]
	copy(s.data, u.Data)
	s.info = pipeline.BufferInfo{Size: len(u.Data), PresentationTimeUs: u.PTSUs, Flags: u.Flags}
	s.state = slotQueued
	p.mu.Unlock()

	if u.PTSUs > e.lastPTS {
		e.lastPTS = u.PTSUs
	}

	select {
	case p.ready <- event{index: idx}:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

var _ ports.Codec = (*Port)(nil)
