package ports

import (
	"time"

	"github.com/user/mediapipe/pkg/pipeline"
)

// ConfigureFlags alter how a codec interprets its configuration.
type ConfigureFlags int

const (
	// ConfigureDecode configures the codec as a decoder.
	ConfigureDecode ConfigureFlags = 0
	// ConfigureEncode configures the codec as an encoder.
	ConfigureEncode ConfigureFlags = 1
)

// Codec is the buffer-exchange contract shared by decoders and encoders.
//
// Input side: TryAcquireWrite loans a free input buffer, the caller fills
// InputBuffer(index) and hands it back with Submit. Output side:
// TryAcquireRead either loans a ready output buffer, reports a format change,
// reports that nothing is ready yet, or reports that the end-of-stream buffer
// was already delivered. Loaned output buffers go back with ReleaseRead.
//
// Acquire calls never block longer than their timeout. A would-block result
// is not an error and callers simply poll again.
type Codec interface {
	// Name identifies the codec in logs.
	Name() string

	// Configure sets the stream format. Only valid before Start.
	Configure(format pipeline.Format, flags ConfigureFlags) error

	// Start begins processing.
	Start() error

	// TryAcquireWrite loans a free input buffer. ok is false when no buffer
	// became free within timeout.
	TryAcquireWrite(timeout time.Duration) (index int, ok bool, err error)

	// InputBuffer returns the writable memory of a loaned input buffer.
	InputBuffer(index int) ([]byte, error)

	// Submit queues size bytes of a loaned input buffer. FlagEndOfStream
	// marks the last submission.
	Submit(index, size int, ptsUs int64, flags pipeline.BufferFlags) error

	// SignalEndOfInput ends the input stream without submitting a buffer.
	SignalEndOfInput() error

	// TryAcquireRead polls the output side.
	TryAcquireRead(timeout time.Duration) (pipeline.ReadResult, error)

	// OutputBuffer returns the contents of a loaned output buffer.
	OutputBuffer(index int) ([]byte, error)

	// ReleaseRead returns a loaned output buffer. render has no effect
	// without a presentation surface.
	ReleaseRead(index int, render bool) error

	// OutputFormat returns the last announced output format.
	OutputFormat() pipeline.Format

	// Stop halts processing. Buffers may not be used afterwards.
	Stop() error

	// Destroy releases the codec. It is safe to call more than once.
	Destroy() error
}

// CodecFactory creates codecs by mime type. It returns an error of kind
// pipeline.KindResourceUnavailable when no codec handles the mime.
type CodecFactory interface {
	CreateDecoder(mime string) (Codec, error)
	CreateEncoder(mime string) (Codec, error)
}
