package summarizer

import (
	"fmt"
	"strings"
	"time"
)

// MarkdownFormatter renders a Summary as a Markdown document.
type MarkdownFormatter struct {
	translate func(string) string
	version   string
}

// MarkdownOption configures a MarkdownFormatter.
type MarkdownOption func(*MarkdownFormatter)

// WithTranslator sets the function used to translate labels.
func WithTranslator(fn func(string) string) MarkdownOption {
	return func(f *MarkdownFormatter) {
		f.translate = fn
	}
}

// WithVersion includes the tool version in the footer.
func WithVersion(v string) MarkdownOption {
	return func(f *MarkdownFormatter) {
		f.version = v
	}
}

// NewMarkdownFormatter creates a MarkdownFormatter.
func NewMarkdownFormatter(opts ...MarkdownOption) *MarkdownFormatter {
	f := &MarkdownFormatter{translate: func(s string) string { return s }}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format implements Formatter.
func (f *MarkdownFormatter) Format(s *Summary) string {
	t := f.translate
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", t("Transcode Summary"))

	fmt.Fprintf(&b, "## %s\n\n", t("Run"))
	fmt.Fprintf(&b, "| %s | %s |\n|---|---|\n", t("Item"), t("Value"))
	row(&b, t("Input"), s.Run.Input)
	row(&b, t("Output"), s.Run.Output)
	row(&b, t("Mode"), string(s.Run.Mode))
	if s.Run.Container != "" {
		row(&b, t("Container"), string(s.Run.Container))
	}
	row(&b, t("Outcome"), t(string(s.Run.Outcome)))
	if s.Run.Error != "" {
		row(&b, t("Error"), s.Run.Error)
	}
	row(&b, t("Elapsed"), formatDuration(s.Run.Duration))
	b.WriteString("\n")

	fmt.Fprintf(&b, "## %s\n\n", t("Streams"))
	fmt.Fprintf(&b, "| | %s | %s | %s | %s |\n|---|---|---|---|---|\n", t("Codec"), t("Size"), t("Frame Rate"), t("Bit Rate"))
	f.stream(&b, t("Input"), s.Input)
	f.stream(&b, t("Output"), s.Output)
	b.WriteString("\n")

	fmt.Fprintf(&b, "## %s\n\n", t("Counters"))
	fmt.Fprintf(&b, "| %s | %s |\n|---|---|\n", t("Stage"), t("Count"))
	row(&b, t("Samples read"), fmt.Sprint(s.Counts.SamplesRead))
	row(&b, t("Frames decoded"), fmt.Sprint(s.Counts.FramesDecoded))
	row(&b, t("Packets encoded"), fmt.Sprint(s.Counts.PacketsEncoded))
	row(&b, t("Samples written"), fmt.Sprint(s.Counts.SamplesWritten))
	if s.FileSize > 0 {
		row(&b, t("File size"), formatBytes(s.FileSize))
	}
	b.WriteString("\n")

	footer := t("Generated at") + " " + s.GeneratedAt.Format(time.RFC3339)
	if f.version != "" {
		footer += " / mediapipe " + f.version
	}
	fmt.Fprintf(&b, "---\n\n%s\n", footer)
	return b.String()
}

func (f *MarkdownFormatter) stream(b *strings.Builder, label string, s StreamInfo) {
	if s.Mime == "" {
		fmt.Fprintf(b, "| %s | N/A | | | |\n", label)
		return
	}
	size := ""
	if s.Width > 0 && s.Height > 0 {
		size = fmt.Sprintf("%dx%d", s.Width, s.Height)
	}
	rate := ""
	if s.FrameRate > 0 {
		rate = fmt.Sprintf("%.2f fps", s.FrameRate)
	}
	bitrate := ""
	if s.BitRate > 0 {
		bitrate = fmt.Sprintf("%d kbps", s.BitRate/1000)
	}
	fmt.Fprintf(b, "| %s | %s | %s | %s | %s |\n", label, s.Mime, size, rate, bitrate)
}

func row(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "| %s | %s |\n", key, value)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2f s", d.Seconds())
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
