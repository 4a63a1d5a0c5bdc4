package summarizer

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/user/mediapipe/pkg/mocks"
	"github.com/user/mediapipe/pkg/pipeline"
)

func TestNewSummary(t *testing.T) {
	before := time.Now()
	summary := NewSummary()
	after := time.Now()

	if summary.GeneratedAt.Before(before) || summary.GeneratedAt.After(after) {
		t.Errorf("GeneratedAt should be between %v and %v, got %v",
			before, after, summary.GeneratedAt)
	}
}

func TestBuilder_WithResult(t *testing.T) {
	res := pipeline.Result{
		Outcome: pipeline.OutcomeFailed,
		Mode:    pipeline.ModeSync,
		Input:   "in.mp4",
		Output:  "out.mp4",
		Track: pipeline.Track{Index: 1, Format: pipeline.Format{
			Mime: pipeline.MimeAVC, Width: 640, Height: 360, CSD: [][]byte{{0x67}, {0x68}},
		}},
		OutputFormat:   pipeline.Format{Mime: pipeline.MimeAVC, BitRate: 1_000_000},
		SamplesRead:    10,
		FramesDecoded:  9,
		PacketsEncoded: 8,
		SamplesWritten: 7,
		Duration:       time.Second,
		Err:            errors.New("boom"),
	}

	s := NewBuilder().WithResult(res).WithContainer(pipeline.ContainerMP4).WithFileSize(42).Build()

	if s.Run.Input != "in.mp4" || s.Run.Output != "out.mp4" || s.Run.Mode != pipeline.ModeSync {
		t.Errorf("unexpected run info %+v", s.Run)
	}
	if s.Run.Outcome != pipeline.OutcomeFailed || s.Run.Error != "boom" {
		t.Errorf("unexpected outcome %q %q", s.Run.Outcome, s.Run.Error)
	}
	if s.Input.Track != 1 || s.Input.Width != 640 || !s.Input.HasCSD {
		t.Errorf("unexpected input stream %+v", s.Input)
	}
	if s.Output.BitRate != 1_000_000 || s.Output.HasCSD {
		t.Errorf("unexpected output stream %+v", s.Output)
	}
	if s.Counts != (Counts{SamplesRead: 10, FramesDecoded: 9, PacketsEncoded: 8, SamplesWritten: 7}) {
		t.Errorf("unexpected counts %+v", s.Counts)
	}
	if s.Run.Container != pipeline.ContainerMP4 || s.FileSize != 42 {
		t.Errorf("unexpected container or size: %q %d", s.Run.Container, s.FileSize)
	}
}

func TestWriter_Write(t *testing.T) {
	fs := mocks.NewFileSystem()
	w := NewWriter(FormatFunc(func(s *Summary) string { return "# " + s.Run.Output }), fs)

	s := NewBuilder().WithResult(pipeline.Result{Output: "out.mp4"}).Build()
	if err := w.Write("/reports/out.mp4.summary.md", s); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, ok := fs.GetFile("/reports/out.mp4.summary.md")
	if !ok {
		t.Fatal("summary was not written")
	}
	if !strings.HasPrefix(string(data), "# out.mp4") {
		t.Errorf("unexpected content %q", data)
	}
}

func TestPathFor(t *testing.T) {
	if got := PathFor("/tmp/out.mp4"); got != "/tmp/out.mp4.summary.md" {
		t.Errorf("got %q", got)
	}
}
