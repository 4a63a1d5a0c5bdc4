// Package fmp4mux writes a single H.264 or H.265 track as fragmented MP4
// using mediacommon. The init segment is written with the first sample and
// every key frame starts a new fragment.
package fmp4mux

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/user/mediapipe/pkg/nalu"
	"github.com/user/mediapipe/pkg/pipeline"
	"github.com/user/mediapipe/pkg/ports"
)

const (
	timescale = 90000
	trackID   = 1
)

// ErrUnsupportedCodec is returned by AddTrack for formats other than H.264 and H.265.
var ErrUnsupportedCodec = errors.New("fmp4mux: only video/avc and video/hevc tracks are supported")

type pending struct {
	au    [][]byte
	ptsUs int64
	key   bool
}

// Muxer implements ports.Muxer.
type Muxer struct {
	fs   ports.FileSystem
	path string

	format  pipeline.Format
	hevc    bool
	added   bool
	started bool
	stopped bool

	w         io.WriteCloser
	wroteInit bool
	seq       uint32
	firstPTS  int64
	queue     []pending
}

// New creates a muxer writing to path. The file is created by Start.
func New(fs ports.FileSystem, path string) *Muxer {
	return &Muxer{fs: fs, path: path}
}

func violation(op, format string, args ...interface{}) error {
	return pipeline.Errorf(pipeline.KindProtocolViolation, "fmp4mux: "+op, format, args...)
}

func (m *Muxer) AddTrack(format pipeline.Format) (int, error) {
	if m.started {
		return -1, violation("add track", "muxer already started")
	}
	if m.added {
		return -1, violation("add track", "only one track is supported")
	}
	switch format.Mime {
	case pipeline.MimeAVC:
	case pipeline.MimeHEVC:
		m.hevc = true
	default:
		return -1, pipeline.E(pipeline.KindFormat, "fmp4mux: add track", ErrUnsupportedCodec)
	}
	m.format = format
	m.added = true
	return 0, nil
}

func (m *Muxer) Start() error {
	if !m.added {
		return violation("start", "no track added")
	}
	if m.started {
		return violation("start", "already started")
	}
	w, err := m.fs.Create(m.path)
	if err != nil {
		return pipeline.E(pipeline.KindResourceUnavailable, "fmp4mux: create", err)
	}
	m.w = w
	m.started = true
	return nil
}

func (m *Muxer) WriteSample(track int, data []byte, info pipeline.BufferInfo) error {
	if !m.started || m.stopped {
		return violation("write", "muxer not started")
	}
	if track != 0 {
		return violation("write", "unknown track %d", track)
	}

	var au [][]byte
	for _, n := range nalu.Split(data) {
		if len(n) > 0 {
			au = append(au, bytes.Clone(n))
		}
	}
	if len(au) == 0 {
		return nil
	}
	key := info.Flags.Has(pipeline.FlagKeyFrame) || nalu.IsKeyFrame(data, m.hevc)

	if !m.wroteInit {
		if err := m.writeInit(data); err != nil {
			return err
		}
		m.firstPTS = info.PresentationTimeUs
	}

	if key && len(m.queue) > 0 {
		if err := m.writeFragment(info.PresentationTimeUs); err != nil {
			return err
		}
	}
	m.queue = append(m.queue, pending{au: au, ptsUs: info.PresentationTimeUs, key: key})
	return nil
}

func (m *Muxer) codec(firstAU []byte) (mp4.Codec, error) {
	csd := m.format.CSD
	if m.hevc {
		if len(csd) >= 3 {
			return &mp4.CodecH265{VPS: csd[0], SPS: csd[1], PPS: csd[2]}, nil
		}
		vps, sps, pps, err := nalu.HEVCParameterSets(firstAU)
		if err != nil {
			return nil, err
		}
		return &mp4.CodecH265{VPS: vps, SPS: sps, PPS: pps}, nil
	}
	if len(csd) >= 2 {
		return &mp4.CodecH264{SPS: csd[0], PPS: csd[1]}, nil
	}
	sps, pps, err := nalu.ParameterSets(firstAU)
	if err != nil {
		return nil, err
	}
	return &mp4.CodecH264{SPS: sps, PPS: pps}, nil
}

func (m *Muxer) writeInit(firstAU []byte) error {
	codec, err := m.codec(firstAU)
	if err != nil {
		return pipeline.E(pipeline.KindFormat, "fmp4mux: init", err)
	}
	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        trackID,
			TimeScale: timescale,
			Codec:     codec,
		}},
	}

	var buf bytes.Buffer
	if err := init.Marshal(&seekableBuffer{Buffer: &buf}); err != nil {
		return pipeline.E(pipeline.KindFormat, "fmp4mux: marshal init", err)
	}
	if _, err := m.w.Write(buf.Bytes()); err != nil {
		return pipeline.E(pipeline.KindIO, "fmp4mux: write init", err)
	}
	m.wroteInit = true
	return nil
}

func (m *Muxer) defaultDuration() uint32 {
	fps := m.format.FrameRate
	if fps <= 0 {
		fps = 30
	}
	return uint32(float64(timescale) / fps)
}

func ticks(us int64) int64 {
	return us * timescale / 1_000_000
}

// writeFragment emits every queued sample as one GOP. nextPTS is the
// timestamp of the key frame that follows the queue, or -1 at end of stream.
func (m *Muxer) writeFragment(nextPTS int64) error {
	pts := make([]int64, len(m.queue))
	for i, p := range m.queue {
		pts[i] = ticks(p.ptsUs - m.firstPTS)
	}
	dts := pipeline.DecodeTimes(pts)

	samples := make([]*fmp4.Sample, 0, len(m.queue))
	for i, p := range m.queue {
		next := int64(-1)
		if i < len(m.queue)-1 {
			next = dts[i+1]
		} else if nextPTS >= 0 {
			next = ticks(nextPTS - m.firstPTS)
		}
		dur := m.defaultDuration()
		if next > dts[i] {
			dur = uint32(next - dts[i])
		}

		s := &fmp4.Sample{Duration: dur}
		offset := int32(pts[i] - dts[i])
		var err error
		if m.hevc {
			err = s.FillH265(offset, p.au)
		} else {
			err = s.FillH264(offset, p.au)
		}
		if err != nil {
			return pipeline.E(pipeline.KindFormat, "fmp4mux: sample", err)
		}
		s.IsNonSyncSample = !p.key
		samples = append(samples, s)
	}

	base := dts[0]
	if base < 0 {
		base = 0
	}
	m.seq++
	part := &fmp4.Part{
		SequenceNumber: m.seq,
		Tracks: []*fmp4.PartTrack{{
			ID:       trackID,
			BaseTime: uint64(base),
			Samples:  samples,
		}},
	}

	var buf bytes.Buffer
	if err := part.Marshal(&seekableBuffer{Buffer: &buf}); err != nil {
		return pipeline.E(pipeline.KindFormat, "fmp4mux: marshal fragment", err)
	}
	if _, err := m.w.Write(buf.Bytes()); err != nil {
		return pipeline.E(pipeline.KindIO, "fmp4mux: write fragment", err)
	}
	m.queue = m.queue[:0]
	return nil
}

// Stop flushes the last fragment and closes the file.
func (m *Muxer) Stop() error {
	if !m.started {
		return violation("stop", "muxer not started")
	}
	if m.stopped {
		return nil
	}
	m.stopped = true

	var err error
	if len(m.queue) > 0 {
		err = m.writeFragment(-1)
	}
	if cerr := m.w.Close(); cerr != nil && err == nil {
		err = pipeline.E(pipeline.KindIO, "fmp4mux: close", cerr)
	}
	m.w = nil
	return err
}

// Close releases the file if Stop was never called.
func (m *Muxer) Close() error {
	m.queue = nil
	if m.w != nil {
		w := m.w
		m.w = nil
		return w.Close()
	}
	return nil
}

// seekableBuffer adapts bytes.Buffer to io.WriteSeeker for Marshal.
type seekableBuffer struct {
	*bytes.Buffer
	pos int64
}

func (s *seekableBuffer) Write(p []byte) (int, error) {
	if int(s.pos) > s.Buffer.Len() {
		s.Buffer.Write(make([]byte, int(s.pos)-s.Buffer.Len()))
	}
	if int(s.pos) == s.Buffer.Len() {
		n, err := s.Buffer.Write(p)
		s.pos += int64(n)
		return n, err
	}
	n := copy(s.Buffer.Bytes()[s.pos:], p)
	if n < len(p) {
		k, err := s.Buffer.Write(p[n:])
		n += k
		if err != nil {
			s.pos += int64(n)
			return n, err
		}
	}
	s.pos += int64(n)
	return n, nil
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = s.pos + offset
	case io.SeekEnd:
		pos = int64(s.Buffer.Len()) + offset
	default:
		return 0, fmt.Errorf("fmp4mux: invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("fmp4mux: negative seek position")
	}
	s.pos = pos
	return pos, nil
}

var _ ports.Muxer = (*Muxer)(nil)
