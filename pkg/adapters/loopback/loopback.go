// Package loopback provides in-process codecs that forward access units
// unchanged. A loopback decoder followed by a loopback encoder remuxes a
// stream through the full buffer-exchange pipeline, which is how the
// pipeline is exercised without a native codec.
package loopback

import (
	"context"
	"strings"

	"github.com/user/mediapipe/pkg/codecport"
	"github.com/user/mediapipe/pkg/nalu"
	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

// Mimes handled by the loopback codecs.
var supported = []string{pipeline.MimeAVC, pipeline.MimeHEVC, pipeline.MimeRaw}

// Factory creates loopback codecs.
type Factory struct {
	opts codecport.Options
}

// NewFactory creates a Factory whose codecs use the given buffer pools.
func NewFactory(opts codecport.Options) *Factory {
	return &Factory{opts: opts}
}

func isSupported(mime string) bool {
	for _, m := range supported {
		if m == mime {
			return true
		}
	}
	return false
}

// CreateDecoder creates a loopback decoder.
func (f *Factory) CreateDecoder(mime string) (ports.Codec, error) {
	if !isSupported(mime) {
		return nil, pipeline.Errorf(pipeline.KindResourceUnavailable, "loopback", "no decoder for %q", mime)
	}
	return codecport.New("loopback-decoder", &processor{}, f.opts), nil
}

// CreateEncoder creates a loopback encoder.
func (f *Factory) CreateEncoder(mime string) (ports.Codec, error) {
	if !isSupported(mime) || mime == pipeline.MimeRaw {
		return nil, pipeline.Errorf(pipeline.KindResourceUnavailable, "loopback", "no encoder for %q", mime)
	}
	return codecport.New("loopback-encoder", &processor{}, f.opts), nil
}

// processor forwards every unit and announces the output format before the
// first non-empty one.
type processor struct {
	format    pipeline.Format
	encoder   bool
	announced bool
}

func (p *processor) Configure(format pipeline.Format, flags ports.ConfigureFlags) error {
	if format.Mime == "" {
		return pipeline.Errorf(pipeline.KindFormat, "loopback", "format has no mime")
	}
	p.format = format
	p.encoder = flags == ports.ConfigureEncode
	return nil
}

func (p *processor) Process(ctx context.Context, in codecport.Unit, out codecport.Emitter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.announced {
		out.FormatChanged(p.outputFormat(in.Data))
		p.announced = true
	}

	flags := in.Flags &^ pipeline.FlagCodecConfig
	if p.encoder && p.compressed() {
		flags &^= pipeline.FlagKeyFrame
		if nalu.IsKeyFrame(in.Data, p.format.Mime == pipeline.MimeHEVC) {
			flags |= pipeline.FlagKeyFrame
		}
	}
	return out.Emit(codecport.Unit{Data: in.Data, PTSUs: in.PTSUs, Flags: flags})
}

func (p *processor) compressed() bool {
	return strings.HasPrefix(p.format.Mime, "video/") && p.format.Mime != pipeline.MimeRaw
}

// outputFormat derives the announced format from the configured one and,
// for encoders, from the parameter sets of the first access unit.
func (p *processor) outputFormat(first []byte) pipeline.Format {
	f := p.format
	if !p.encoder {
		f.CSD = nil
		return f
	}
	switch f.Mime {
	case pipeline.MimeAVC:
		if sps, pps, err := nalu.ParameterSets(first); err == nil {
			f.CSD = [][]byte{sps, pps}
			if w, h, err := nalu.Dimensions(sps); err == nil {
				f.Width, f.Height = w, h
			}
		}
	case pipeline.MimeHEVC:
		if vps, sps, pps, err := nalu.HEVCParameterSets(first); err == nil {
			f.CSD = [][]byte{vps, sps, pps}
		}
	}
	return f
}

func (p *processor) Flush(ctx context.Context, out codecport.Emitter) error {
	return nil
}

func (p *processor) Close() error {
	return nil
}

var _ ports.CodecFactory = (*Factory)(nil)
