package ffmpegcodec

import (
	"context"
	"fmt"

	"github.com/user/mediapipe/pkg/codecport"
	"github.com/user/mediapipe/pkg/nalu"
	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

// encoder compresses yuv420p frames with libx264. Access unit delimiters
// are inserted so the output stream can be cut into access units.
type encoder struct {
	ffmpegPath string
	preset     string

	format    pipeline.Format
	proc      *process
	ts        timestamps
	splitter  nalu.Splitter
	announced bool
}

func (e *encoder) Configure(format pipeline.Format, flags ports.ConfigureFlags) error {
	if flags != ports.ConfigureEncode {
		return fmt.Errorf("ffmpegcodec: encoder configured for decoding")
	}
	if format.Width <= 0 || format.Height <= 0 {
		return fmt.Errorf("ffmpegcodec: encoder needs frame dimensions")
	}
	if format.Width%2 != 0 || format.Height%2 != 0 {
		return fmt.Errorf("ffmpegcodec: yuv420p needs even dimensions, got %dx%d", format.Width, format.Height)
	}
	if format.FrameRate <= 0 {
		format.FrameRate = 30
	}
	e.format = format
	e.ts.step = frameStep(format.FrameRate)
	return nil
}

func (e *encoder) args() []string {
	gop := int(e.format.FrameRate * 2)
	if gop < 1 {
		gop = 1
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"-s", fmt.Sprintf("%dx%d", e.format.Width, e.format.Height),
		"-r", fmt.Sprintf("%.3f", e.format.FrameRate),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-preset", e.preset,
		"-bf", "0",
		"-g", fmt.Sprintf("%d", gop),
	}
	if e.format.BitRate > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%dk", e.format.BitRate/1000))
	}
	return append(args,
		"-bsf:v", "h264_metadata=aud=insert",
		"-f", "h264",
		"pipe:1",
	)
}

func (e *encoder) Process(ctx context.Context, in codecport.Unit, out codecport.Emitter) error {
	if size := e.format.FrameSize(); len(in.Data) != size {
		return fmt.Errorf("ffmpegcodec: frame is %d bytes, want %d", len(in.Data), size)
	}
	if e.proc == nil {
		p, err := startProcess(ctx, e.ffmpegPath, e.args())
		if err != nil {
			return err
		}
		e.proc = p
	}
	e.ts.push(in.PTSUs)
	if err := e.proc.Write(in.Data); err != nil {
		return err
	}
	return e.emit(e.splitter.Write(e.proc.Take()), out)
}

func (e *encoder) emit(units [][]byte, out codecport.Emitter) error {
	for _, au := range units {
		if !e.announced {
			f, err := e.outputFormat(au)
			if err != nil {
				return err
			}
			out.FormatChanged(f)
			e.announced = true
		}
		var flags pipeline.BufferFlags
		if nalu.IsKeyFrame(au, false) {
			flags = pipeline.FlagKeyFrame
		}
		if err := out.Emit(codecport.Unit{Data: au, PTSUs: e.ts.pop(), Flags: flags}); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) outputFormat(firstAU []byte) (pipeline.Format, error) {
	sps, pps, err := nalu.ParameterSets(firstAU)
	if err != nil {
		return pipeline.Format{}, fmt.Errorf("ffmpegcodec: first access unit: %w", err)
	}
	return pipeline.Format{
		Mime:      pipeline.MimeAVC,
		Width:     e.format.Width,
		Height:    e.format.Height,
		BitRate:   e.format.BitRate,
		FrameRate: e.format.FrameRate,
		CSD:       [][]byte{sps, pps},
	}, nil
}

func (e *encoder) Flush(ctx context.Context, out codecport.Emitter) error {
	if e.proc == nil {
		return nil
	}
	rest, err := e.proc.Finish(ctx)
	e.proc = nil
	if err != nil {
		return err
	}
	units := e.splitter.Write(rest)
	if last := e.splitter.Flush(); len(last) > 0 {
		units = append(units, last)
	}
	return e.emit(units, out)
}

func (e *encoder) Close() error {
	if e.proc != nil {
		e.proc.Kill()
		e.proc = nil
	}
	return nil
}
