package mocks

import (
	"sync"
	"time"

	"github.com/user/mediapipe/pkg/ports"
)

// Metrics is a mock implementation of ports.Metrics.
type Metrics struct {
	mu sync.Mutex

	SamplesRead    int
	FramesDecoded  int
	PacketsEncoded int
	SamplesWritten int
	BytesWritten   int
	WouldBlocks    map[string]int
	Outcomes       []string
}

func (m *Metrics) SampleRead() {
	m.mu.Lock()
	m.SamplesRead++
	m.mu.Unlock()
}

func (m *Metrics) FrameDecoded() {
	m.mu.Lock()
	m.FramesDecoded++
	m.mu.Unlock()
}

func (m *Metrics) PacketEncoded() {
	m.mu.Lock()
	m.PacketsEncoded++
	m.mu.Unlock()
}

func (m *Metrics) SampleWritten(bytes int) {
	m.mu.Lock()
	m.SamplesWritten++
	m.BytesWritten += bytes
	m.mu.Unlock()
}

func (m *Metrics) WouldBlock(stage string) {
	m.mu.Lock()
	if m.WouldBlocks == nil {
		m.WouldBlocks = make(map[string]int)
	}
	m.WouldBlocks[stage]++
	m.mu.Unlock()
}

func (m *Metrics) RunFinished(outcome string, d time.Duration) {
	m.mu.Lock()
	m.Outcomes = append(m.Outcomes, outcome)
	m.mu.Unlock()
}

var _ ports.Metrics = (*Metrics)(nil)
