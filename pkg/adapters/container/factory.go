// Package container picks a muxer implementation for an output container.
package container

import (
	"github.com/user/mediapipe/pkg/adapters/fmp4mux"
	"github.com/user/mediapipe/pkg/adapters/mp4mux"
	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

// Factory implements ports.MuxerFactory.
type Factory struct {
	fs ports.FileSystem
}

// NewFactory creates a Factory writing through fs.
func NewFactory(fs ports.FileSystem) *Factory {
	return &Factory{fs: fs}
}

// CreateMuxer returns a muxer for the container. Unknown containers are
// reported as unavailable resources.
func (f *Factory) CreateMuxer(locator string, container pipeline.ContainerFormat) (ports.Muxer, error) {
	switch container {
	case pipeline.ContainerMP4, "":
		return mp4mux.New(f.fs, locator), nil
	case pipeline.ContainerFMP4:
		return fmp4mux.New(f.fs, locator), nil
	default:
		return nil, pipeline.Errorf(pipeline.KindResourceUnavailable, "container: create muxer", "unsupported container %q", container)
	}
}

var _ ports.MuxerFactory = (*Factory)(nil)
