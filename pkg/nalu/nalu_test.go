package nalu

import (
	"bytes"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

var (
	testSPS = []byte{0x67, 0x42, 0xC0, 0x1E, 0xDA, 0x10, 0x99} // baseline, 64x64
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

func TestSplit(t *testing.T) {
	data := annexB(testSPS, testPPS)
	data = append(data, 0, 0, 1)
	data = append(data, testIDR...)

	nalus := Split(data)
	if len(nalus) != 3 {
		t.Fatalf("expected 3 NAL units, got %d", len(nalus))
	}
	if !bytes.Equal(nalus[0], testSPS) {
		t.Errorf("first unit should be SPS")
	}
	if !bytes.Equal(nalus[2], testIDR) {
		t.Errorf("3-byte start code not handled")
	}
}

func TestSplit_MatchesAnnexBUnmarshal(t *testing.T) {
	inputs := map[string][]byte{
		"plain":         annexB(testIDR, testP),
		"trailing zero": append(annexB(testIDR), 0, 0),
		"extra zero":    append(append(annexB(testIDR), 0, 0, 0, 0, 1), testP...),
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			var want h264.AnnexB
			if err := want.Unmarshal(data); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			got := Split(data)
			if len(got) != len(want) {
				t.Fatalf("expected %d units, got %d", len(want), len(got))
			}
			for i := range want {
				if !bytes.Equal(got[i], want[i]) {
					t.Errorf("unit %d: expected %x, got %x", i, want[i], got[i])
				}
			}
		})
	}
}

func TestSplit_Empty(t *testing.T) {
	if nalus := Split(nil); nalus != nil {
		t.Errorf("expected no units, got %v", nalus)
	}
}

func TestSplit_NoStartCode(t *testing.T) {
	nalus := Split(testP)
	if len(nalus) != 1 || !bytes.Equal(nalus[0], testP) {
		t.Errorf("expected raw data as one unit, got %v", nalus)
	}
}

func TestToAVCC_DropsParameterSets(t *testing.T) {
	avcc, err := ToAVCC(annexB(testSPS, testPPS, testIDR), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := append([]byte{0, 0, 0, byte(len(testIDR))}, testIDR...)
	if !bytes.Equal(avcc, want) {
		t.Errorf("got %x, want %x", avcc, want)
	}
}

func TestAVCCToAnnexB(t *testing.T) {
	avcc := append([]byte{0, 0, 0, byte(len(testP))}, testP...)
	got, err := AVCCToAnnexB(avcc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, annexB(testP)) {
		t.Errorf("got %x", got)
	}
}

func TestParameterSets(t *testing.T) {
	sps, pps, err := ParameterSets(annexB(testSPS, testPPS, testIDR))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(sps, testSPS) || !bytes.Equal(pps, testPPS) {
		t.Errorf("wrong parameter sets")
	}

	if _, _, err := ParameterSets(annexB(testP)); err != ErrNoParameterSets {
		t.Errorf("expected ErrNoParameterSets, got %v", err)
	}
}

func TestIsKeyFrame(t *testing.T) {
	if !IsKeyFrame(annexB(testSPS, testPPS, testIDR), false) {
		t.Error("IDR access unit should be a key frame")
	}
	if IsKeyFrame(annexB(testP), false) {
		t.Error("P slice should not be a key frame")
	}
}

func TestPrependParameterSets(t *testing.T) {
	got, err := PrependParameterSets([][]byte{testSPS, testPPS}, annexB(testIDR))
	if err != nil {
		t.Fatalf("PrependParameterSets failed: %v", err)
	}
	if !bytes.Equal(got, annexB(testSPS, testPPS, testIDR)) {
		t.Errorf("got %x", got)
	}
}

func TestJoin(t *testing.T) {
	got, err := Join([][]byte{testSPS, testP})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if !bytes.Equal(got, annexB(testSPS, testP)) {
		t.Errorf("got %x", got)
	}
	if empty, err := Join(nil); err != nil || empty != nil {
		t.Errorf("expected nil for no units, got %x (%v)", empty, err)
	}
}

func TestSplitter(t *testing.T) {
	aud := []byte{0x09, 0xF0}
	au1 := annexB(aud, testSPS, testPPS, testIDR)
	au2 := annexB(aud, testP)
	stream := append(append([]byte{}, au1...), au2...)

	var s Splitter
	var units [][]byte
	// feed in small chunks to exercise buffering
	for i := 0; i < len(stream); i += 5 {
		end := i + 5
		if end > len(stream) {
			end = len(stream)
		}
		units = append(units, s.Write(stream[i:end])...)
	}
	if len(units) != 1 {
		t.Fatalf("expected 1 complete unit before flush, got %d", len(units))
	}
	if !bytes.Equal(units[0], au1) {
		t.Errorf("first unit mismatch: %x", units[0])
	}
	if tail := s.Flush(); !bytes.Equal(tail, au2) {
		t.Errorf("flushed unit mismatch: %x", tail)
	}
	if s.Flush() != nil {
		t.Error("second flush should be empty")
	}
}

func TestDimensions(t *testing.T) {
	w, h, err := Dimensions(testSPS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != 64 || h != 64 {
		t.Errorf("expected 64x64, got %dx%d", w, h)
	}
}
