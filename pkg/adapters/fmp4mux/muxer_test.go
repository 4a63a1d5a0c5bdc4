package fmp4mux

import (
	"bytes"
	"errors"
	"testing"

	"github.com/user/mediapipe/pkg/adapters/mp4demux"
	"github.com/user/mediapipe/pkg/mocks"
	"github.com/user/mediapipe/pkg/pipeline"
)

var (
	testSPS = []byte{0x67, 0x42, 0xC0, 0x1E, 0xDA, 0x10, 0x99}
	testPPS = []byte{0x68, 0xCE, 0x38, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	testP   = []byte{0x41, 0x9A, 0x02, 0x04}
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func TestMuxer_FragmentsPerKeyFrame(t *testing.T) {
	fs := mocks.NewFileSystem()
	m := New(fs, "/out.mp4")

	format := pipeline.Format{Mime: pipeline.MimeAVC, FrameRate: 10, CSD: [][]byte{testSPS, testPPS}}
	if _, err := m.AddTrack(format); err != nil {
		t.Fatalf("AddTrack failed: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	frames := []struct {
		data []byte
		key  bool
	}{
		{annexB(testIDR), true},
		{annexB(testP), false},
		{annexB(testIDR), true},
	}
	for i, f := range frames {
		info := pipeline.BufferInfo{PresentationTimeUs: int64(i) * 100000}
		if f.key {
			info.Flags = pipeline.FlagKeyFrame
		}
		if err := m.WriteSample(0, f.data, info); err != nil {
			t.Fatalf("WriteSample %d failed: %v", i, err)
		}
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	data, ok := fs.GetFile("/out.mp4")
	if !ok {
		t.Fatal("expected output file")
	}
	if n := bytes.Count(data, []byte("moof")); n != 2 {
		t.Errorf("expected 2 fragments, got %d", n)
	}

	d, err := mp4demux.New(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("demux failed: %v", err)
	}
	tracks := d.Tracks()
	if len(tracks) != 1 || tracks[0].Format.Mime != pipeline.MimeAVC {
		t.Fatalf("expected one avc track, got %+v", tracks)
	}
	if err := d.SelectTrack(0); err != nil {
		t.Fatalf("SelectTrack failed: %v", err)
	}

	buf := make([]byte, 256)
	for i, f := range frames {
		if got, want := d.SampleTime(), int64(i)*100000; got != want {
			t.Errorf("sample %d: expected time %d, got %d", i, want, got)
		}
		if key := d.SampleFlags().Has(pipeline.FlagKeyFrame); key != f.key {
			t.Errorf("sample %d: key frame %v, want %v", i, key, f.key)
		}
		if _, err := d.ReadSampleData(buf); err != nil {
			t.Fatalf("sample %d: read failed: %v", i, err)
		}
		d.Advance()
	}
}

func TestMuxer_ParameterSetsFromFirstSample(t *testing.T) {
	fs := mocks.NewFileSystem()
	m := New(fs, "/out.mp4")
	m.AddTrack(pipeline.Format{Mime: pipeline.MimeAVC})
	m.Start()

	if err := m.WriteSample(0, annexB(testSPS, testPPS, testIDR), pipeline.BufferInfo{Flags: pipeline.FlagKeyFrame}); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	data, _ := fs.GetFile("/out.mp4")
	if !bytes.Contains(data, testSPS) {
		t.Error("expected SPS in the init segment")
	}
}

func TestMuxer_MissingParameterSets(t *testing.T) {
	m := New(mocks.NewFileSystem(), "/out.mp4")
	m.AddTrack(pipeline.Format{Mime: pipeline.MimeAVC})
	m.Start()
	defer m.Close()

	err := m.WriteSample(0, annexB(testIDR), pipeline.BufferInfo{Flags: pipeline.FlagKeyFrame})
	if !errors.Is(err, pipeline.ErrFormat) {
		t.Errorf("expected format error, got %v", err)
	}
}

func TestMuxer_ProtocolOrder(t *testing.T) {
	m := New(mocks.NewFileSystem(), "/out.mp4")
	if err := m.WriteSample(0, annexB(testIDR), pipeline.BufferInfo{}); !errors.Is(err, pipeline.ErrProtocolViolation) {
		t.Errorf("write before start: expected protocol violation, got %v", err)
	}
	if _, err := m.AddTrack(pipeline.Format{Mime: pipeline.MimeAAC}); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("expected ErrUnsupportedCodec, got %v", err)
	}
	if err := m.Stop(); !errors.Is(err, pipeline.ErrProtocolViolation) {
		t.Errorf("stop before start: expected protocol violation, got %v", err)
	}
}

func TestSeekableBuffer_Overwrite(t *testing.T) {
	var buf bytes.Buffer
	s := &seekableBuffer{Buffer: &buf}
	s.Write([]byte("abcdef"))
	s.Seek(2, 0)
	s.Write([]byte("XY"))
	if buf.String() != "abXYef" {
		t.Errorf("expected abXYef, got %q", buf.String())
	}
}

func TestMuxer_CompositionOffsets(t *testing.T) {
	fs := mocks.NewFileSystem()
	m := New(fs, "/out.mp4")
	m.AddTrack(pipeline.Format{Mime: pipeline.MimeAVC, FrameRate: 10, CSD: [][]byte{testSPS, testPPS}})
	m.Start()

	// I P B in decode order.
	want := []int64{0, 200000, 100000}
	aus := [][]byte{annexB(testIDR), annexB(testP), annexB(testP)}
	for i, au := range aus {
		info := pipeline.BufferInfo{PresentationTimeUs: want[i]}
		if i == 0 {
			info.Flags = pipeline.FlagKeyFrame
		}
		if err := m.WriteSample(0, au, info); err != nil {
			t.Fatalf("WriteSample %d failed: %v", i, err)
		}
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	data, _ := fs.GetFile("/out.mp4")
	d, err := mp4demux.New(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("demux failed: %v", err)
	}
	if err := d.SelectTrack(0); err != nil {
		t.Fatalf("SelectTrack failed: %v", err)
	}
	for i, pts := range want {
		if got := d.SampleTime(); got != pts {
			t.Errorf("sample %d: expected pts %d, got %d", i, pts, got)
		}
		d.Advance()
	}
}
