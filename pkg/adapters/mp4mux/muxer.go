// Package mp4mux writes a single H.264 track into an MP4 file using mp4ff.
// Samples are buffered and the file (ftyp, moov, moof, mdat) is written
// when the muxer is stopped.
package mp4mux

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/user/mediapipe/pkg/nalu"
	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

const timescale = 90000

var (
	// ErrNoSamples is returned by Stop when nothing was written.
	ErrNoSamples = errors.New("mp4mux: no samples to write")

	// ErrUnsupportedCodec is returned by AddTrack for non-H.264 formats.
	ErrUnsupportedCodec = errors.New("mp4mux: only video/avc tracks are supported")
)

type sample struct {
	data  []byte // AVCC
	ptsUs int64
	key   bool
}

// Muxer implements ports.Muxer.
type Muxer struct {
	fs   ports.FileSystem
	path string

	format  pipeline.Format
	added   bool
	started bool
	stopped bool
	firstAU []byte // Annex B form of the first key frame, for SPS/PPS lookup
	samples []sample
}

// New creates a muxer writing to path on Stop.
func New(fs ports.FileSystem, path string) *Muxer {
	return &Muxer{fs: fs, path: path}
}

func (m *Muxer) violation(op, format string, args ...interface{}) error {
	return pipeline.Errorf(pipeline.KindProtocolViolation, "mp4mux: "+op, format, args...)
}

// AddTrack registers the only track.
func (m *Muxer) AddTrack(format pipeline.Format) (int, error) {
	if m.started {
		return -1, m.violation("add track", "muxer already started")
	}
	if m.added {
		return -1, m.violation("add track", "only one track is supported")
	}
	if format.Mime != pipeline.MimeAVC {
		return -1, pipeline.E(pipeline.KindFormat, "mp4mux: add track", ErrUnsupportedCodec)
	}
	m.format = format
	m.added = true
	return 0, nil
}

// Start allows samples to be written.
func (m *Muxer) Start() error {
	if !m.added {
		return m.violation("start", "no track added")
	}
	if m.started {
		return m.violation("start", "already started")
	}
	m.started = true
	return nil
}

// WriteSample buffers an Annex B access unit.
func (m *Muxer) WriteSample(track int, data []byte, info pipeline.BufferInfo) error {
	if !m.started || m.stopped {
		return m.violation("write", "muxer not started")
	}
	if track != 0 {
		return m.violation("write", "unknown track %d", track)
	}

	key := info.Flags.Has(pipeline.FlagKeyFrame)
	if key && m.firstAU == nil {
		m.firstAU = bytes.Clone(data)
	}
	avcc, err := nalu.ToAVCC(data, false)
	if err != nil {
		return pipeline.E(pipeline.KindFormat, "mp4mux: write", err)
	}
	if len(avcc) == 0 {
		return nil
	}
	m.samples = append(m.samples, sample{data: avcc, ptsUs: info.PresentationTimeUs, key: key})
	return nil
}

// Stop builds the file and writes it.
func (m *Muxer) Stop() error {
	if !m.started {
		return m.violation("stop", "muxer not started")
	}
	if m.stopped {
		return nil
	}
	m.stopped = true

	data, err := m.build()
	if err != nil {
		return err
	}
	if err := m.fs.WriteFile(m.path, data); err != nil {
		return pipeline.E(pipeline.KindIO, "mp4mux: write file", err)
	}
	return nil
}

// Close drops buffered samples. A muxer that was never stopped writes nothing.
func (m *Muxer) Close() error {
	m.samples = nil
	m.firstAU = nil
	return nil
}

func (m *Muxer) parameterSets() (sps, pps []byte, err error) {
	if len(m.format.CSD) >= 2 {
		return m.format.CSD[0], m.format.CSD[1], nil
	}
	if m.firstAU != nil {
		return nalu.ParameterSets(m.firstAU)
	}
	return nil, nil, nalu.ErrNoParameterSets
}

func (m *Muxer) frameDuration() uint32 {
	fps := m.format.FrameRate
	if fps <= 0 {
		fps = 30
	}
	return uint32(float64(timescale) / fps)
}

func (m *Muxer) build() ([]byte, error) {
	if len(m.samples) == 0 {
		return nil, pipeline.E(pipeline.KindIO, "mp4mux: stop", ErrNoSamples)
	}

	sps, pps, err := m.parameterSets()
	if err != nil {
		return nil, pipeline.E(pipeline.KindFormat, "mp4mux: stop", err)
	}

	width, height := m.format.Width, m.format.Height
	if w, h, err := nalu.Dimensions(sps); err == nil {
		width, height = w, h
	}

	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(timescale, "video", "en")
	trak := init.Moov.Trak

	avcC, err := mp4.CreateAvcC([][]byte{sps}, [][]byte{pps}, true)
	if err != nil {
		return nil, pipeline.E(pipeline.KindFormat, "mp4mux: create avcC", err)
	}
	avc1 := mp4.CreateVisualSampleEntryBox("avc1", uint16(width), uint16(height), avcC)
	trak.Mdia.Minf.Stbl.Stsd.AddChild(avc1)
	trak.Tkhd.Width = mp4.Fixed32(width << 16)
	trak.Tkhd.Height = mp4.Fixed32(height << 16)

	frag, err := mp4.CreateFragment(1, trak.Tkhd.TrackID)
	if err != nil {
		return nil, fmt.Errorf("mp4mux: create fragment: %w", err)
	}

	pts := make([]int64, len(m.samples))
	for i, s := range m.samples {
		pts[i] = s.ptsUs * timescale / 1_000_000
	}
	dts := pipeline.DecodeTimes(pts)
	base := dts[0]
	defaultDur := m.frameDuration()
	for i, s := range m.samples {
		dur := defaultDur
		if i < len(m.samples)-1 {
			if delta := dts[i+1] - dts[i]; delta > 0 {
				dur = uint32(delta)
			}
		}

		flags := mp4.NonSyncSampleFlags
		if s.key {
			flags = mp4.SyncSampleFlags
		}

		frag.AddFullSample(mp4.FullSample{
			Sample: mp4.Sample{
				Flags:                 flags,
				Size:                  uint32(len(s.data)),
				Dur:                   dur,
				CompositionTimeOffset: int32(pts[i] - dts[i]),
			},
			DecodeTime: uint64(dts[i] - base),
			Data:       s.data,
		})
	}

	var buf bytes.Buffer
	ftyp := mp4.NewFtyp("isom", 0x200, []string{"isom", "iso2", "avc1", "mp41"})
	if err := ftyp.Encode(&buf); err != nil {
		return nil, fmt.Errorf("mp4mux: encode ftyp: %w", err)
	}
	if err := init.Moov.Encode(&buf); err != nil {
		return nil, fmt.Errorf("mp4mux: encode moov: %w", err)
	}
	if err := frag.Encode(&buf); err != nil {
		return nil, fmt.Errorf("mp4mux: encode fragment: %w", err)
	}
	return buf.Bytes(), nil
}

var _ ports.Muxer = (*Muxer)(nil)
