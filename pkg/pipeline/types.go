package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Media Formats
// =============================================================================

// Well-known mime types.
const (
	MimeAVC   = "video/avc"
	MimeHEVC  = "video/hevc"
	MimeAV1   = "video/av01"
	MimeRaw   = "video/raw"
	MimeAAC   = "audio/mp4a-latm"
	MimeOpus  = "audio/opus"
	MimeOther = "application/octet-stream"
)

// Color formats understood by the codec adapters.
const (
	// ColorFormatYUV420Planar is planar I420 (Y plane, U plane, V plane).
	ColorFormatYUV420Planar = 19
	// ColorFormatYUV420SemiPlanar is NV12 (Y plane, interleaved UV plane).
	ColorFormatYUV420SemiPlanar = 21
)

// Format describes an elementary stream. It doubles as the configuration
// handed to a codec and the format a codec announces for its output.
type Format struct {
	Mime        string
	Width       int
	Height      int
	BitRate     int     // bits per second, encoders only
	FrameRate   float64 // frames per second
	ColorFormat int
	// CSD holds codec-specific data in announcement order
	// (csd-0 = SPS, csd-1 = PPS for H.264; VPS, SPS, PPS for H.265).
	CSD        [][]byte
	DurationUs int64
}

// IsVideo reports whether the format describes a video stream.
func (f Format) IsVideo() bool {
	return strings.HasPrefix(f.Mime, "video/")
}

// FrameSize returns the size in bytes of one raw YUV 4:2:0 frame.
func (f Format) FrameSize() int {
	return f.Width * f.Height * 3 / 2
}

// String returns a short human readable description.
func (f Format) String() string {
	if f.Width > 0 && f.Height > 0 {
		return fmt.Sprintf("%s %dx%d", f.Mime, f.Width, f.Height)
	}
	return f.Mime
}

// Track is one elementary stream of a container.
type Track struct {
	Index  int
	Format Format
}

// ContainerFormat selects the output container layout.
type ContainerFormat string

const (
	// ContainerMP4 writes a single-fragment MP4 file (ftyp, moov, moof, mdat).
	ContainerMP4 ContainerFormat = "mp4"
	// ContainerFMP4 writes a CMAF style fragmented MP4 with one fragment per GOP.
	ContainerFMP4 ContainerFormat = "fmp4"
)

// =============================================================================
// Buffers
// =============================================================================

// BufferFlags annotate a sample or codec buffer.
type BufferFlags uint32

const (
	// FlagKeyFrame marks a sync sample.
	FlagKeyFrame BufferFlags = 1 << iota
	// FlagCodecConfig marks a buffer carrying codec-specific data only.
	FlagCodecConfig
	// FlagEndOfStream marks the last buffer of a stream.
	FlagEndOfStream
)

// Has reports whether all bits of flag are set.
func (f BufferFlags) Has(flag BufferFlags) bool {
	return f&flag == flag
}

func (f BufferFlags) String() string {
	var parts []string
	if f.Has(FlagKeyFrame) {
		parts = append(parts, "key")
	}
	if f.Has(FlagCodecConfig) {
		parts = append(parts, "config")
	}
	if f.Has(FlagEndOfStream) {
		parts = append(parts, "eos")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// BufferInfo describes the valid region of a codec buffer.
type BufferInfo struct {
	Offset             int
	Size               int
	PresentationTimeUs int64
	Flags              BufferFlags
}

// ReadStatus is the discriminator of ReadResult.
type ReadStatus int

const (
	// ReadWouldBlock means no output was available within the timeout.
	ReadWouldBlock ReadStatus = iota
	// ReadReady means Index holds an output buffer described by Info.
	ReadReady
	// ReadFormatChanged means the output format changed; no index was consumed.
	ReadFormatChanged
	// ReadEndOfStream means the EOS buffer was already delivered.
	ReadEndOfStream
)

func (s ReadStatus) String() string {
	switch s {
	case ReadWouldBlock:
		return "would-block"
	case ReadReady:
		return "ready"
	case ReadFormatChanged:
		return "format-changed"
	case ReadEndOfStream:
		return "end-of-stream"
	default:
		return "unknown"
	}
}

// ReadResult is the outcome of one read-side poll of a codec.
type ReadResult struct {
	Status ReadStatus
	Index  int        // valid for ReadReady
	Info   BufferInfo // valid for ReadReady
	Format Format     // valid for ReadFormatChanged
}

// StreamState tracks end-of-stream progress of one stage.
type StreamState struct {
	SawInputEOS  bool
	SawOutputEOS bool
}

// =============================================================================
// Jobs and Results
// =============================================================================

// Mode selects the coordinator shape.
type Mode string

const (
	// ModeSync runs every stage in one cooperative polling loop.
	ModeSync Mode = "sync"
	// ModeThreaded splits decoder output and encoder output across workers.
	ModeThreaded Mode = "threaded"
)

// Job is one transcoding invocation.
type Job struct {
	Input  string
	Output string
}

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
)

// Result summarizes a finished run.
type Result struct {
	Outcome        Outcome
	Mode           Mode
	Input          string
	Output         string
	Track          Track
	OutputFormat   Format
	SamplesRead    int
	FramesDecoded  int
	PacketsEncoded int
	SamplesWritten int
	Duration       time.Duration
	Err            error
}
