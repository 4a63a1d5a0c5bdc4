package main

import (
	"fmt"
	"io"

	"github.com/ideamans/go-l10n"
	"github.com/urfave/cli/v2"

	"github.com/user/mediapipe/pkg/adapters/container"
	"github.com/user/mediapipe/pkg/adapters/ffmpegcodec"
	"github.com/user/mediapipe/pkg/adapters/filesink"
	"github.com/user/mediapipe/pkg/adapters/logger"
	"github.com/user/mediapipe/pkg/adapters/loopback"
	"github.com/user/mediapipe/pkg/adapters/mp4demux"
	"github.com/user/mediapipe/pkg/adapters/nullsink"
	"github.com/user/mediapipe/pkg/adapters/osfilesystem"
	"github.com/user/mediapipe/pkg/adapters/promstats"
	"github.com/user/mediapipe/pkg/adapters/rawsource"
	"github.com/user/mediapipe/pkg/config"
	"github.com/user/mediapipe/pkg/orchestrator"
	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
	"github.com/user/mediapipe/pkg/summarizer"
)

// loadConfig reads --config over the defaults and applies flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Defaults()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if c.IsSet("mode") {
		cfg.Mode = c.String("mode")
	}
	if c.IsSet("container") {
		cfg.Container = c.String("container")
	}
	if c.IsSet("poll-timeout") {
		cfg.PollTimeoutMs = c.Int("poll-timeout")
	}
	if c.IsSet("queue-depth") {
		cfg.QueueDepth = c.Int("queue-depth")
	}
	if c.IsSet("width") {
		cfg.Encoder.Width = c.Int("width")
	}
	if c.IsSet("height") {
		cfg.Encoder.Height = c.Int("height")
	}
	if c.IsSet("bitrate") {
		cfg.Encoder.BitRate = c.Int("bitrate") * 1000
	}
	if c.IsSet("fps") {
		cfg.Encoder.FrameRate = c.Float64("fps")
	}
	if c.IsSet("preset") {
		cfg.Encoder.Preset = c.String("preset")
	}
	if c.IsSet("backend") {
		cfg.Codec.Backend = c.String("backend")
	}
	if c.IsSet("ffmpeg") {
		cfg.Codec.FFmpegPath = c.String("ffmpeg")
	}
	if c.IsSet("dump-frames") {
		cfg.FrameDumpDir = c.String("dump-frames")
	}
	if c.IsSet("metrics") {
		cfg.MetricsFile = c.String("metrics")
	}
	if c.IsSet("summary") {
		cfg.Summary = c.Bool("summary")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.Bool("quiet") {
		cfg.LogLevel = ports.LevelQuiet.String()
	}
	if c.IsSet("raw-width") {
		cfg.Raw.Width = c.Int("raw-width")
	}
	if c.IsSet("raw-height") {
		cfg.Raw.Height = c.Int("raw-height")
	}
	if c.IsSet("raw-fps") {
		cfg.Raw.FPS = c.Float64("raw-fps")
	}

	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) ports.Logger {
	if cfg.Level() == ports.LevelQuiet {
		return logger.NewNoop()
	}
	return logger.NewConsole(cfg.Level())
}

func newCodecs(cfg config.Config) ports.CodecFactory {
	if cfg.Codec.Backend == config.BackendFFmpeg {
		f := ffmpegcodec.NewFactory(cfg.Codec.FFmpegPath)
		f.Preset = cfg.Encoder.Preset
		f.Buffers = cfg.CodecOptions()
		return f
	}
	return loopback.NewFactory(cfg.CodecOptions())
}

// session is the wiring shared by the transcode and encode commands.
type session struct {
	cfg   config.Config
	fs    *osfilesystem.FileSystem
	log   ports.Logger
	stats *promstats.Stats
	orch  *orchestrator.Orchestrator
}

func newSession(cfg config.Config) *session {
	fs := osfilesystem.New()
	log := newLogger(cfg)
	stats := promstats.New()

	var frames ports.FrameSink = nullsink.New()
	if cfg.FrameDumpDir != "" {
		frames = filesink.New(cfg.FrameDumpDir, fs)
	}

	orch := orchestrator.New(
		mp4demux.NewOpener(fs),
		newCodecs(cfg),
		container.NewFactory(fs),
		frames,
		stats,
		log,
		cfg.ToOrchestratorOptions(),
	)
	return &session{cfg: cfg, fs: fs, log: log, stats: stats, orch: orch}
}

// finish writes the metrics file and the summary. Their failures are
// logged and never override the run's own error.
func (s *session) finish(res pipeline.Result, runErr error) error {
	if s.cfg.MetricsFile != "" {
		if err := s.stats.WriteFile(s.cfg.MetricsFile); err != nil {
			s.log.Warn("Failed to write metrics: %s", err)
		} else {
			s.log.Info("Metrics saved to %s", s.cfg.MetricsFile)
		}
	}

	if s.cfg.Summary {
		b := summarizer.NewBuilder().
			WithResult(res).
			WithContainer(pipeline.ContainerFormat(s.cfg.Container))
		if size, err := fileSize(s.fs, res.Output); err == nil {
			b.WithFileSize(size)
		}
		path := summarizer.PathFor(res.Output)
		w := summarizer.NewWriter(summarizer.NewMarkdownFormatter(
			summarizer.WithTranslator(l10n.T),
			summarizer.WithVersion(version),
		), s.fs)
		if err := w.Write(path, b.Build()); err != nil {
			s.log.Warn("Failed to write summary: %s", err)
		} else {
			s.log.Info("Summary saved to %s", path)
		}
	}

	if runErr != nil {
		return runErr
	}
	s.log.Info("Output saved to %s", res.Output)
	return nil
}

func fileSize(fs ports.FileSystem, path string) (int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Seek(0, io.SeekEnd)
}

func twoArgs(c *cli.Context) (string, string, error) {
	if c.NArg() != 2 {
		return "", "", cli.Exit(l10n.T("Input and output arguments are required"), 2)
	}
	return c.Args().Get(0), c.Args().Get(1), nil
}

func runTranscode(c *cli.Context) error {
	in, out, err := twoArgs(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	s := newSession(cfg)
	s.log.Info("Transcoding %s to %s (%s)", in, out, cfg.Mode)
	res, runErr := s.orch.Transcode(c.Context, in, out)
	return s.finish(res, runErr)
}

func runEncode(c *cli.Context) error {
	in, out, err := twoArgs(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.ValidateRaw(); err != nil {
		return err
	}
	s := newSession(cfg)
	s.log.Info("Encoding raw %dx%d frames from %s to %s", cfg.Raw.Width, cfg.Raw.Height, in, out)
	raw := rawsource.NewOpener(s.fs, cfg.Raw.Width, cfg.Raw.Height, cfg.Raw.FPS)
	res, runErr := s.orch.EncodeRaw(c.Context, raw, in, out)
	return s.finish(res, runErr)
}

func runProbe(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit(l10n.T("Input argument is required"), 2)
	}
	cfg := config.Defaults()
	cfg.LogLevel = ports.LevelQuiet.String()
	s := newSession(cfg)

	tracks, err := s.orch.Probe(c.Args().Get(0))
	if err != nil {
		return err
	}
	w := c.App.Writer
	for _, t := range tracks {
		line := fmt.Sprintf("#%d %s", t.Index, t.Format)
		if t.Format.FrameRate > 0 {
			line += fmt.Sprintf(" %.2ffps", t.Format.FrameRate)
		}
		if t.Format.DurationUs > 0 {
			line += fmt.Sprintf(" %.3fs", float64(t.Format.DurationUs)/1e6)
		}
		if len(t.Format.CSD) > 0 {
			line += fmt.Sprintf(" csd=%d", len(t.Format.CSD))
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
