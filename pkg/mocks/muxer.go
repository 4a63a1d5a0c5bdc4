package mocks

import (
	"sync"

	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

// WriteCall records a call to Muxer.WriteSample.
type WriteCall struct {
	Track int
	Data  []byte
	Info  pipeline.BufferInfo
}

// Muxer is a mock implementation of ports.Muxer. It enforces
// AddTrack < Start < WriteSample and records every call in order.
type Muxer struct {
	mu sync.Mutex

	AddTrackErr error
	StartErr    error
	WriteErr    error
	StopErr     error

	// Recorded calls for verification
	Calls     []string
	Formats   []pipeline.Format
	Writes    []WriteCall
	StopCount int
	Closed    bool

	started bool
}

func (m *Muxer) violation(op, msg string) error {
	return pipeline.Errorf(pipeline.KindProtocolViolation, "mock muxer: "+op, "%s", msg)
}

func (m *Muxer) AddTrack(format pipeline.Format) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "addTrack")
	if m.AddTrackErr != nil {
		return -1, m.AddTrackErr
	}
	if m.started {
		return -1, m.violation("add track", "already started")
	}
	m.Formats = append(m.Formats, format)
	return len(m.Formats) - 1, nil
}

func (m *Muxer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "start")
	if m.StartErr != nil {
		return m.StartErr
	}
	if len(m.Formats) == 0 {
		return m.violation("start", "no track added")
	}
	m.started = true
	return nil
}

func (m *Muxer) WriteSample(track int, data []byte, info pipeline.BufferInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "write")
	if !m.started {
		return m.violation("write", "not started")
	}
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Writes = append(m.Writes, WriteCall{Track: track, Data: append([]byte(nil), data...), Info: info})
	return nil
}

func (m *Muxer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "stop")
	m.StopCount++
	if !m.started {
		return m.violation("stop", "not started")
	}
	return m.StopErr
}

func (m *Muxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "close")
	m.Closed = true
	return nil
}

// MuxerFactory is a mock implementation of ports.MuxerFactory.
type MuxerFactory struct {
	Muxer *Muxer
	Err   error

	Locator   string
	Container pipeline.ContainerFormat
	Created   int
}

func (f *MuxerFactory) CreateMuxer(locator string, container pipeline.ContainerFormat) (ports.Muxer, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.Locator = locator
	f.Container = container
	f.Created++
	if f.Muxer == nil {
		f.Muxer = &Muxer{}
	}
	return f.Muxer, nil
}

var (
	_ ports.Muxer        = (*Muxer)(nil)
	_ ports.MuxerFactory = (*MuxerFactory)(nil)
)
