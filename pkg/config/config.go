// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/mediapipe/pkg/codecport"
	"github.com/user/mediapipe/pkg/orchestrator"
	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

// Codec backends.
const (
	BackendLoopback = "loopback"
	BackendFFmpeg   = "ffmpeg"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid value")

// Config represents the full configuration for mediapipe.
type Config struct {
	// Pipeline
	Mode          string `yaml:"mode"`
	PollTimeoutMs int    `yaml:"poll_timeout_ms"`
	QueueDepth    int    `yaml:"queue_depth"`
	Container     string `yaml:"container"`

	Encoder EncoderConfig `yaml:"encoder"`
	Codec   CodecConfig   `yaml:"codec"`
	Raw     RawConfig     `yaml:"raw"`

	// Outputs besides the container
	FrameDumpDir string `yaml:"frame_dump_dir"`
	MetricsFile  string `yaml:"metrics_file"`
	Summary      bool   `yaml:"summary"`

	LogLevel string `yaml:"log_level"`
}

// EncoderConfig is the target format. Zero width, height or frame rate
// keep the input's value.
type EncoderConfig struct {
	Mime        string  `yaml:"mime"`
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	BitRate     int     `yaml:"bitrate"`
	FrameRate   float64 `yaml:"fps"`
	ColorFormat int     `yaml:"color_format"`
	Preset      string  `yaml:"preset"`
}

// CodecConfig selects and sizes the codec backend.
type CodecConfig struct {
	Backend       string `yaml:"backend"`
	FFmpegPath    string `yaml:"ffmpeg_path"`
	InputBuffers  int    `yaml:"input_buffers"`
	OutputBuffers int    `yaml:"output_buffers"`
}

// RawConfig describes headerless YUV 4:2:0 input for the encode command.
type RawConfig struct {
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	FPS    float64 `yaml:"fps"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		Mode:          string(pipeline.ModeSync),
		PollTimeoutMs: 10,
		QueueDepth:    4,
		Container:     string(pipeline.ContainerMP4),

		Encoder: EncoderConfig{
			Mime:        pipeline.MimeAVC,
			BitRate:     2_000_000,
			FrameRate:   30,
			ColorFormat: pipeline.ColorFormatYUV420Planar,
			Preset:      "veryfast",
		},
		Codec: CodecConfig{
			Backend:       BackendLoopback,
			InputBuffers:  4,
			OutputBuffers: 4,
		},
		Raw: RawConfig{
			Width:  1280,
			Height: 720,
			FPS:    30,
		},

		LogLevel: "info",
	}
}

// LoadFromFile loads configuration from a YAML file on top of Defaults.
func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

func invalid(field string, value interface{}) error {
	return fmt.Errorf("%w: %s = %v", ErrInvalid, field, value)
}

// Validate rejects values no run could use.
func (c Config) Validate() error {
	switch pipeline.Mode(c.Mode) {
	case pipeline.ModeSync, pipeline.ModeThreaded:
	default:
		return invalid("mode", c.Mode)
	}
	switch pipeline.ContainerFormat(c.Container) {
	case pipeline.ContainerMP4, pipeline.ContainerFMP4:
	default:
		return invalid("container", c.Container)
	}
	switch c.Codec.Backend {
	case BackendLoopback, BackendFFmpeg:
	default:
		return invalid("codec.backend", c.Codec.Backend)
	}
	if c.PollTimeoutMs <= 0 {
		return invalid("poll_timeout_ms", c.PollTimeoutMs)
	}
	if c.QueueDepth <= 0 {
		return invalid("queue_depth", c.QueueDepth)
	}
	if c.Encoder.Mime == "" {
		return invalid("encoder.mime", c.Encoder.Mime)
	}
	if c.Encoder.Width < 0 || c.Encoder.Height < 0 || (c.Encoder.Width == 0) != (c.Encoder.Height == 0) {
		return invalid("encoder size", fmt.Sprintf("%dx%d", c.Encoder.Width, c.Encoder.Height))
	}
	if c.Encoder.BitRate < 0 {
		return invalid("encoder.bitrate", c.Encoder.BitRate)
	}
	if c.Encoder.FrameRate < 0 {
		return invalid("encoder.fps", c.Encoder.FrameRate)
	}
	if c.Codec.InputBuffers < 0 || c.Codec.OutputBuffers < 0 {
		return invalid("codec buffers", fmt.Sprintf("%d/%d", c.Codec.InputBuffers, c.Codec.OutputBuffers))
	}
	if _, ok := ports.LookupLogLevel(c.LogLevel); !ok {
		return invalid("log_level", c.LogLevel)
	}
	return nil
}

// ValidateRaw checks the raw input geometry used by the encode command.
func (c Config) ValidateRaw() error {
	if c.Raw.Width <= 0 || c.Raw.Height <= 0 || c.Raw.Width%2 != 0 || c.Raw.Height%2 != 0 {
		return invalid("raw size", fmt.Sprintf("%dx%d", c.Raw.Width, c.Raw.Height))
	}
	if c.Raw.FPS <= 0 {
		return invalid("raw.fps", c.Raw.FPS)
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() ports.LogLevel {
	return ports.ParseLogLevel(c.LogLevel)
}

// ToOrchestratorOptions converts Config to orchestrator.Options.
func (c Config) ToOrchestratorOptions() orchestrator.Options {
	return orchestrator.Options{
		Mode:        pipeline.Mode(c.Mode),
		PollTimeout: time.Duration(c.PollTimeoutMs) * time.Millisecond,
		QueueDepth:  c.QueueDepth,
		Encoder: pipeline.Format{
			Mime:        c.Encoder.Mime,
			Width:       c.Encoder.Width,
			Height:      c.Encoder.Height,
			BitRate:     c.Encoder.BitRate,
			FrameRate:   c.Encoder.FrameRate,
			ColorFormat: c.Encoder.ColorFormat,
		},
		Container: pipeline.ContainerFormat(c.Container),
	}
}

// CodecOptions returns the buffer pool sizes for codec ports.
func (c Config) CodecOptions() codecport.Options {
	return codecport.Options{
		InputBuffers:  c.Codec.InputBuffers,
		OutputBuffers: c.Codec.OutputBuffers,
	}
}
