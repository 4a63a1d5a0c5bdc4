package ffmpegcodec

import (
	"github.com/user/mediapipe/pkg/codecport"
	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

// Factory creates ffmpeg backed codecs.
type Factory struct {
	// FFmpegPath overrides ffmpeg discovery when set.
	FFmpegPath string
	// Preset is the libx264 preset, "fast" when empty.
	Preset string
	// Buffers sizes the codec buffer pools.
	Buffers codecport.Options
}

// NewFactory creates a Factory with default buffer pools.
func NewFactory(ffmpegPath string) *Factory {
	return &Factory{FFmpegPath: ffmpegPath, Buffers: codecport.DefaultOptions()}
}

func (f *Factory) find() (string, error) {
	path, err := Find(f.FFmpegPath)
	if err != nil {
		return "", pipeline.E(pipeline.KindResourceUnavailable, "ffmpegcodec", err)
	}
	return path, nil
}

// CreateDecoder returns a decoder for video/avc or video/hevc.
func (f *Factory) CreateDecoder(mime string) (ports.Codec, error) {
	var demuxer string
	switch mime {
	case pipeline.MimeAVC:
		demuxer = "h264"
	case pipeline.MimeHEVC:
		demuxer = "hevc"
	default:
		return nil, pipeline.Errorf(pipeline.KindResourceUnavailable, "ffmpegcodec", "no decoder for %q", mime)
	}
	path, err := f.find()
	if err != nil {
		return nil, err
	}
	return codecport.New("ffmpeg-decoder", &decoder{ffmpegPath: path, demuxer: demuxer}, f.Buffers), nil
}

// CreateEncoder returns an H.264 encoder.
func (f *Factory) CreateEncoder(mime string) (ports.Codec, error) {
	if mime != pipeline.MimeAVC {
		return nil, pipeline.Errorf(pipeline.KindResourceUnavailable, "ffmpegcodec", "no encoder for %q", mime)
	}
	path, err := f.find()
	if err != nil {
		return nil, err
	}
	preset := f.Preset
	if preset == "" {
		preset = "fast"
	}
	return codecport.New("ffmpeg-encoder", &encoder{ffmpegPath: path, preset: preset}, f.Buffers), nil
}

var _ ports.CodecFactory = (*Factory)(nil)
