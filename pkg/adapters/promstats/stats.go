// Package promstats records pipeline counters with the Prometheus client.
// Each Stats owns a private registry, so runs in the same process do not
// share counters. Results are exported in the text exposition format.
package promstats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/user/mediapipe/pkg/ports"
)

const namespace = "mediapipe"

// Stats implements ports.Metrics.
type Stats struct {
	registry *prometheus.Registry

	samplesRead    prometheus.Counter
	framesDecoded  prometheus.Counter
	packetsEncoded prometheus.Counter
	samplesWritten prometheus.Counter
	bytesWritten   prometheus.Counter
	wouldBlock     *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
}

// New creates Stats on a fresh registry.
func New() *Stats {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Stats{
		registry: reg,
		samplesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_read_total",
			Help:      "Compressed samples read from the source container",
		}),
		framesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Raw frames produced by the decoder",
		}),
		packetsEncoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_encoded_total",
			Help:      "Compressed packets produced by the encoder",
		}),
		samplesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_written_total",
			Help:      "Samples written to the output container",
		}),
		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Sample payload bytes written to the output container",
		}),
		wouldBlock: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "would_block_total",
			Help:      "Buffer acquisitions that timed out, by stage",
		}, []string{"stage"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished pipeline runs by outcome",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}
}

func (s *Stats) SampleRead() { s.samplesRead.Inc() }
func (s *Stats) FrameDecoded() { s.framesDecoded.Inc() }
func (s *Stats) PacketEncoded() { s.packetsEncoded.Inc() }

func (s *Stats) SampleWritten(bytes int) {
	s.samplesWritten.Inc()
	s.bytesWritten.Add(float64(bytes))
}

func (s *Stats) WouldBlock(stage string) {
	s.wouldBlock.WithLabelValues(stage).Inc()
}

func (s *Stats) RunFinished(outcome string, d time.Duration) {
	s.runs.WithLabelValues(outcome).Inc()
	s.runDuration.Observe(d.Seconds())
}

// Gatherer exposes the registry.
func (s *Stats) Gatherer() prometheus.Gatherer {
	return s.registry
}

// WriteFile writes all metrics to path in the text exposition format,
// suitable for the node exporter textfile collector.
func (s *Stats) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, s.registry)
}

// Nop discards all metrics.
type Nop struct{}

func (Nop) SampleRead() {}
func (Nop) FrameDecoded() {}
func (Nop) PacketEncoded() {}
func (Nop) SampleWritten(int) {}
func (Nop) WouldBlock(string) {}
func (Nop) RunFinished(string, time.Duration) {}

var (
	_ ports.Metrics = (*Stats)(nil)
	_ ports.Metrics = Nop{}
)
