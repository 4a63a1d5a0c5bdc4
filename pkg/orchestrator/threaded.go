package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/stages/decode"
)

// threaded drives decoder input from the calling goroutine and hands
// decoded frames to two workers: one copies frames into the encoder, the
// other drains encoder output into the muxer.
//
// Shutdown order: the caller sees decoder EOS and closes the pending
// queue, the copy worker finishes, encoder input is ended, the drain
// worker finishes.
func (o *Orchestrator) threaded(ctx context.Context, r *run) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	pending := make(chan decode.Frame, o.opts.QueueDepth)
	tickets := make(chan struct{}, o.opts.QueueDepth)
	copied := make(chan struct{})

	g.Go(func() error {
		defer close(copied)
		defer close(tickets)
		return o.copyFrames(gctx, r, pending, tickets)
	})
	g.Go(func() error {
		return o.drainEncoder(gctx, r, tickets)
	})

	err := o.produceFrames(gctx, r, pending)
	close(pending)
	if err == nil {
		select {
		case <-copied:
			if gctx.Err() == nil {
				err = r.enc.EndInput()
			}
		case <-gctx.Done():
		}
	}
	if err != nil {
		cancel()
	}

	werr := g.Wait()
	if werr != nil && (err == nil || pipeline.KindOf(err) == pipeline.KindAborted) {
		return werr
	}
	if err == nil {
		// a worker may have stopped on cancellation without an error of its own
		err = checkContext(ctx)
	}
	return err
}

// produceFrames feeds the decoder and queues every output buffer,
// including the end-of-stream one, in decode order.
func (o *Orchestrator) produceFrames(ctx context.Context, r *run, pending chan<- decode.Frame) error {
	for !r.dec.OutputDone() {
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
		if !ok {
			continue
		}
		select {
		case pending <- frame:
		case <-ctx.Done():
			r.dec.Release(frame)
			return pipeline.Aborted("coordinator", ctx.Err())
		}
	}
	return nil
}

func (o *Orchestrator) copyFrames(ctx context.Context, r *run, pending <-chan decode.Frame, tickets chan<- struct{}) error {
	for frame := range pending {
		if err := o.handOff(ctx, r, frame, false); err != nil {
			return err
		}
		if len(frame.Data) > 0 {
			select {
			case tickets <- struct{}{}:
			case <-ctx.Done():
				return pipeline.Aborted("coordinator", ctx.Err())
			}
		}
		if frame.EndOfStream() {
			return nil
		}
	}
	return nil
}

func (o *Orchestrator) drainEncoder(ctx context.Context, r *run, tickets <-chan struct{}) error {
	// nothing can come out before the first frame or the end of input
	select {
	case _, ok := <-tickets:
		if !ok {
			tickets = nil
		}
	case <-ctx.Done():
		return pipeline.Aborted("coordinator", ctx.Err())
	}

	for !r.enc.OutputDone() {
		if err := checkContext(ctx); err != nil {
			return err
		}
		if tickets != nil {
			select {
			case _, ok := <-tickets:
				if !ok {
					tickets = nil
				}
			default:
			}
		}
		if _, err := r.enc.Drain(r.sink); err != nil {
			return err
		}
	}
	return nil
}
