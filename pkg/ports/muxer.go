package ports

import "github.com/user/mediapipe/pkg/pipeline"

// Muxer writes encoded samples into an output container.
//
// Tracks are added before Start, samples are written after Start, and Stop
// writes the trailer. Close releases the muxer whether or not it was started.
type Muxer interface {
	AddTrack(format pipeline.Format) (int, error)
	Start() error
	WriteSample(track int, data []byte, info pipeline.BufferInfo) error
	Stop() error
	Close() error
}

// MuxerFactory creates muxers for output locators.
type MuxerFactory interface {
	CreateMuxer(locator string, container pipeline.ContainerFormat) (Muxer, error)
}
