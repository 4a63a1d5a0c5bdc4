package ports

import "time"

// Metrics collects pipeline counters.
type Metrics interface {
	SampleRead()
	FrameDecoded()
	PacketEncoded()
	SampleWritten(bytes int)
	WouldBlock(stage string)
	RunFinished(outcome string, d time.Duration)
}
