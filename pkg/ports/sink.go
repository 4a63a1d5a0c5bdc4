package ports

// FrameSink receives decoded frames for offline inspection.
type FrameSink interface {
	// Enabled returns true if frames should be saved.
	Enabled() bool

	// SaveFrame saves the raw bytes of the index-th decoded frame.
	SaveFrame(index int, data []byte) error
}
