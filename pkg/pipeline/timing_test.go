package pipeline

import (
	"slices"
	"testing"
)

func TestDecodeTimes(t *testing.T) {
	// I P B B in decode order.
	pts := []int64{0, 300, 100, 200}
	dts := DecodeTimes(pts)
	if want := []int64{0, 100, 200, 300}; !slices.Equal(dts, want) {
		t.Fatalf("expected %v, got %v", want, dts)
	}
	if pts[1] != 300 {
		t.Error("input must not be reordered")
	}
}

func TestDecodeTimes_InOrder(t *testing.T) {
	pts := []int64{10, 20, 30}
	if dts := DecodeTimes(pts); !slices.Equal(dts, pts) {
		t.Errorf("expected decode times to equal pts, got %v", dts)
	}
}
