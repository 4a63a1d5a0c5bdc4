package ports

import "github.com/user/mediapipe/pkg/pipeline"

// Demuxer reads samples of one selected track from a container.
type Demuxer interface {
	// Tracks lists the container's tracks in container order.
	Tracks() []pipeline.Track

	// SelectTrack restricts reading to one track.
	SelectTrack(index int) error

	// ReadSampleData copies the current sample into buf and returns its size.
	// It returns io.EOF once the selected track is exhausted and
	// io.ErrShortBuffer when buf cannot hold the sample.
	ReadSampleData(buf []byte) (int, error)

	// SampleTime returns the presentation time of the current sample in µs.
	SampleTime() int64

	// SampleFlags returns the flags of the current sample.
	SampleFlags() pipeline.BufferFlags

	// Advance moves to the next sample. It returns false when no sample remains.
	Advance() bool

	// Close releases the container.
	Close() error
}

// DemuxerOpener opens demuxers for input locators.
type DemuxerOpener interface {
	OpenDemuxer(locator string) (Demuxer, error)
}
