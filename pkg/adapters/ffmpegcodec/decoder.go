package ffmpegcodec

import (
	"context"
	"fmt"

	"github.com/user/mediapipe/pkg/codecport"
	"github.com/user/mediapipe/pkg/nalu"
	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

// decoder turns an Annex B elementary stream into yuv420p frames.
type decoder struct {
	ffmpegPath string
	demuxer    string // ffmpeg input format: h264 or hevc

	format    pipeline.Format
	proc      *process
	ts        timestamps
	pending   []byte
	announced bool
}

func (d *decoder) Configure(format pipeline.Format, flags ports.ConfigureFlags) error {
	if flags != ports.ConfigureDecode {
		return fmt.Errorf("ffmpegcodec: decoder configured for encoding")
	}
	if format.Width <= 0 || format.Height <= 0 {
		if format.Mime == pipeline.MimeAVC && len(format.CSD) > 0 {
			w, h, err := nalu.Dimensions(format.CSD[0])
			if err != nil {
				return fmt.Errorf("ffmpegcodec: parse sps: %w", err)
			}
			format.Width, format.Height = w, h
		} else {
			return fmt.Errorf("ffmpegcodec: decoder needs frame dimensions")
		}
	}
	d.format = format
	d.ts.step = frameStep(format.FrameRate)
	return nil
}

func (d *decoder) outputFormat() pipeline.Format {
	return pipeline.Format{
		Mime:        pipeline.MimeRaw,
		Width:       d.format.Width,
		Height:      d.format.Height,
		FrameRate:   d.format.FrameRate,
		ColorFormat: pipeline.ColorFormatYUV420Planar,
		DurationUs:  d.format.DurationUs,
	}
}

func (d *decoder) start(ctx context.Context) error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", d.demuxer,
		"-i", "pipe:0",
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"pipe:1",
	}
	p, err := startProcess(ctx, d.ffmpegPath, args)
	if err != nil {
		return err
	}
	d.proc = p
	return nil
}

func (d *decoder) Process(ctx context.Context, in codecport.Unit, out codecport.Emitter) error {
	if in.Flags.Has(pipeline.FlagCodecConfig) {
		// parameter sets are repeated in front of every key frame
		return nil
	}
	if d.proc == nil {
		if err := d.start(ctx); err != nil {
			return err
		}
	}
	d.ts.push(in.PTSUs)
	if err := d.proc.Write(in.Data); err != nil {
		return err
	}
	return d.emitFrames(d.proc.Take(), out)
}

func (d *decoder) emitFrames(data []byte, out codecport.Emitter) error {
	d.pending = append(d.pending, data...)
	size := d.format.FrameSize()
	for len(d.pending) >= size {
		if !d.announced {
			out.FormatChanged(d.outputFormat())
			d.announced = true
		}
		frame := d.pending[:size]
		if err := out.Emit(codecport.Unit{Data: frame, PTSUs: d.ts.pop()}); err != nil {
			return err
		}
		d.pending = d.pending[size:]
	}
	return nil
}

func (d *decoder) Flush(ctx context.Context, out codecport.Emitter) error {
	if d.proc == nil {
		return nil
	}
	rest, err := d.proc.Finish(ctx)
	d.proc = nil
	if err != nil {
		return err
	}
	return d.emitFrames(rest, out)
}

func (d *decoder) Close() error {
	if d.proc != nil {
		d.proc.Kill()
		d.proc = nil
	}
	d.pending = nil
	return nil
}

func frameStep(fps float64) int64 {
	if fps <= 0 {
		fps = 30
	}
	return int64(1_000_000 / fps)
}
