// Package main provides the CLI entry point for mediapipe.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ideamans/go-l10n"
	"github.com/urfave/cli/v2"
)

var version = "dev"

// Flag categories
const (
	catPipeline = "Pipeline"
	catEncoder  = "Encoder"
	catCodec    = "Codec"
	catRaw      = "Raw Input"
	catOutput   = "Diagnostics"
	catLogging  = "Logging"
)

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: l10n.T("YAML configuration file"), Category: l10n.T(catPipeline)},
		&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: l10n.T("Pipeline shape (sync, threaded)"), Category: l10n.T(catPipeline)},
		&cli.StringFlag{Name: "container", Usage: l10n.T("Output container (mp4, fmp4)"), Category: l10n.T(catPipeline)},
		&cli.IntFlag{Name: "poll-timeout", Usage: l10n.T("Buffer acquisition timeout in milliseconds"), Category: l10n.T(catPipeline)},
		&cli.IntFlag{Name: "queue-depth", Usage: l10n.T("Pending frame queue depth (threaded mode)"), Category: l10n.T(catPipeline)},

		&cli.IntFlag{Name: "width", Aliases: []string{"W"}, Usage: l10n.T("Encoded width (default: same as input)"), Category: l10n.T(catEncoder)},
		&cli.IntFlag{Name: "height", Aliases: []string{"H"}, Usage: l10n.T("Encoded height (default: same as input)"), Category: l10n.T(catEncoder)},
		&cli.IntFlag{Name: "bitrate", Aliases: []string{"b"}, Usage: l10n.T("Target bit rate in kbps"), Category: l10n.T(catEncoder)},
		&cli.Float64Flag{Name: "fps", Usage: l10n.T("Target frame rate"), Category: l10n.T(catEncoder)},
		&cli.StringFlag{Name: "preset", Usage: l10n.T("x264 preset for the ffmpeg backend"), Category: l10n.T(catEncoder)},

		&cli.StringFlag{Name: "backend", Usage: l10n.T("Codec backend (loopback, ffmpeg)"), Category: l10n.T(catCodec)},
		&cli.StringFlag{Name: "ffmpeg", Usage: l10n.T("Path to ffmpeg executable"), Category: l10n.T(catCodec)},

		&cli.StringFlag{Name: "dump-frames", Usage: l10n.T("Directory for decoded frame dumps"), Category: l10n.T(catOutput)},
		&cli.StringFlag{Name: "metrics", Usage: l10n.T("Write Prometheus metrics to file"), Category: l10n.T(catOutput)},
		&cli.BoolFlag{Name: "summary", Aliases: []string{"s"}, Usage: l10n.T("Write a Markdown summary next to the output"), Category: l10n.T(catOutput)},

		&cli.StringFlag{Name: "log-level", Aliases: []string{"l"}, Usage: l10n.T("Log level (debug, info, warn, error)"), Category: l10n.T(catLogging)},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: l10n.T("Suppress all log output"), Category: l10n.T(catLogging)},
	}
}

func rawFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "raw-width", Usage: l10n.T("Raw frame width"), Category: l10n.T(catRaw)},
		&cli.IntFlag{Name: "raw-height", Usage: l10n.T("Raw frame height"), Category: l10n.T(catRaw)},
		&cli.Float64Flag{Name: "raw-fps", Usage: l10n.T("Raw frame rate"), Category: l10n.T(catRaw)},
	}
}

func newApp(stdout io.Writer) *cli.App {
	return &cli.App{
		Name:    "mediapipe",
		Usage:   l10n.T("Transcode video through a buffer-exchange codec pipeline"),
		Version: version,
		Writer:  stdout,

		// errors are returned to main instead of exiting inside Run
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			{
				Name:      "transcode",
				Usage:     l10n.T("Decode the first video track and re-encode it"),
				ArgsUsage: "<input> <output>",
				Flags:     commonFlags(),
				Action:    runTranscode,
			},
			{
				Name:      "encode",
				Usage:     l10n.T("Encode a raw YUV 4:2:0 file"),
				ArgsUsage: "<input.yuv> <output>",
				Flags:     append(commonFlags(), rawFlags()...),
				Action:    runEncode,
			},
			{
				Name:      "probe",
				Usage:     l10n.T("List the tracks of a container"),
				ArgsUsage: "<input>",
				Action:    runProbe,
			},
		},
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, l10n.T("Interrupted, shutting down..."))
		cancel()
	}()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := 1
		if ec, ok := err.(cli.ExitCoder); ok {
			code = ec.ExitCode()
		}
		os.Exit(code)
	}
}
