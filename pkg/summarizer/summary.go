package summarizer

import (
	"time"

	"github.com/user/mediapipe/pkg/pipeline"
)

// Summary contains everything reported about one run.
type Summary struct {
	// Metadata
	GeneratedAt time.Time

	Run    RunInfo
	Input  StreamInfo
	Output StreamInfo
	Counts Counts

	// FileSize is the size of the output file in bytes, 0 when unknown.
	FileSize int64
}

// RunInfo describes how the run was invoked and how it ended.
type RunInfo struct {
	Mode      pipeline.Mode
	Container pipeline.ContainerFormat
	Input     string
	Output    string
	Outcome   pipeline.Outcome
	Error     string
	Duration  time.Duration
}

// StreamInfo describes one elementary stream.
type StreamInfo struct {
	Track     int
	Mime      string
	Width     int
	Height    int
	FrameRate float64
	BitRate   int
	HasCSD    bool
}

// Counts holds per-stage progress counters.
type Counts struct {
	SamplesRead    int
	FramesDecoded  int
	PacketsEncoded int
	SamplesWritten int
}

func streamInfo(track int, f pipeline.Format) StreamInfo {
	return StreamInfo{
		Track:     track,
		Mime:      f.Mime,
		Width:     f.Width,
		Height:    f.Height,
		FrameRate: f.FrameRate,
		BitRate:   f.BitRate,
		HasCSD:    len(f.CSD) > 0,
	}
}

// NewSummary creates a new Summary with the current timestamp.
func NewSummary() *Summary {
	return &Summary{
		GeneratedAt: time.Now(),
	}
}

// Builder provides a fluent interface for building a Summary.
type Builder struct {
	summary *Summary
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{
		summary: NewSummary(),
	}
}

// WithResult copies run information and counters from a pipeline result.
func (b *Builder) WithResult(res pipeline.Result) *Builder {
	s := b.summary
	s.Run.Mode = res.Mode
	s.Run.Input = res.Input
	s.Run.Output = res.Output
	s.Run.Outcome = res.Outcome
	s.Run.Duration = res.Duration
	if res.Err != nil {
		s.Run.Error = res.Err.Error()
	}
	s.Input = streamInfo(res.Track.Index, res.Track.Format)
	s.Output = streamInfo(0, res.OutputFormat)
	s.Counts = Counts{
		SamplesRead:    res.SamplesRead,
		FramesDecoded:  res.FramesDecoded,
		PacketsEncoded: res.PacketsEncoded,
		SamplesWritten: res.SamplesWritten,
	}
	return b
}

// WithContainer sets the output container.
func (b *Builder) WithContainer(c pipeline.ContainerFormat) *Builder {
	b.summary.Run.Container = c
	return b
}

// WithFileSize sets the output file size.
func (b *Builder) WithFileSize(size int64) *Builder {
	b.summary.FileSize = size
	return b
}

// Build returns the constructed Summary.
func (b *Builder) Build() *Summary {
	return b.summary
}
