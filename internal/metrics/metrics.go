// Package metrics exports StreamMetrics over Prometheus, grounded on the
// teacher's stream_metrics.go counter/snapshot shape and on
// kstaniek-go-ampio-server's promauto registration idiom (the teacher
// itself never imports Prometheus).
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/breeze-rmm/deskstream/internal/logging"
)

var log = logging.L("metrics")

// StreamMetrics holds the per-session counters the server accumulates
// across the capture->encode->transport pipeline, mirroring the teacher's
// StreamMetrics struct.
type StreamMetrics struct {
	mu sync.Mutex

	framesCaptured int64
	framesEncoded  int64
	framesSent     int64
	framesSkipped  int64
	framesDropped  int64

	lastCaptureTime time.Duration
	lastScaleTime   time.Duration
	lastEncodeTime  time.Duration

	totalBytesSent int64
	currentQuality string
}

// NewStreamMetrics returns a zeroed counter set.
func NewStreamMetrics() *StreamMetrics {
	return &StreamMetrics{}
}

func (m *StreamMetrics) RecordCaptured(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.framesCaptured++
	m.lastCaptureTime = d
}

func (m *StreamMetrics) RecordScaled(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastScaleTime = d
}

func (m *StreamMetrics) RecordEncoded(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.framesEncoded++
	m.lastEncodeTime = d
}

func (m *StreamMetrics) RecordSent(bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.framesSent++
	m.totalBytesSent += int64(bytes)
}

func (m *StreamMetrics) RecordSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.framesSkipped++
}

func (m *StreamMetrics) RecordDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.framesDropped++
}

func (m *StreamMetrics) SetQuality(q string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentQuality = q
}

// Snapshot is an immutable value copy of the counters at one instant.
type Snapshot struct {
	FramesCaptured int64
	FramesEncoded  int64
	FramesSent     int64
	FramesSkipped  int64
	FramesDropped  int64

	LastCaptureTime time.Duration
	LastScaleTime   time.Duration
	LastEncodeTime  time.Duration

	TotalBytesSent int64
	CurrentQuality string
}

func (m *StreamMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		FramesCaptured:  m.framesCaptured,
		FramesEncoded:   m.framesEncoded,
		FramesSent:      m.framesSent,
		FramesSkipped:   m.framesSkipped,
		FramesDropped:   m.framesDropped,
		LastCaptureTime: m.lastCaptureTime,
		LastScaleTime:   m.lastScaleTime,
		LastEncodeTime:  m.lastEncodeTime,
		TotalBytesSent:  m.totalBytesSent,
		CurrentQuality:  m.currentQuality,
	}
}

// Exporter wraps one StreamMetrics in Prometheus collectors and serves them
// over /metrics.
type Exporter struct {
	stream *StreamMetrics

	framesCaptured prometheus.Counter
	framesEncoded  prometheus.Counter
	framesSent     prometheus.Counter
	framesSkipped  prometheus.Counter
	framesDropped  prometheus.Counter
	bytesSent      prometheus.Counter
	encodeSeconds  prometheus.Gauge
}

// NewExporter registers gauges/counters against the given registerer
// (pass prometheus.DefaultRegisterer for the usual process-global export).
func NewExporter(stream *StreamMetrics, reg prometheus.Registerer) *Exporter {
	factory := promauto.With(reg)
	return &Exporter{
		stream: stream,
		framesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "deskstream", Subsystem: "stream", Name: "frames_captured_total",
			Help: "Frames captured from the FrameSource.",
		}),
		framesEncoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "deskstream", Subsystem: "stream", Name: "frames_encoded_total",
			Help: "Frames that completed encoding.",
		}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "deskstream", Subsystem: "stream", Name: "frames_sent_total",
			Help: "Frames written to the wire.",
		}),
		framesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "deskstream", Subsystem: "stream", Name: "frames_skipped_total",
			Help: "Frames skipped because the source had no change.",
		}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "deskstream", Subsystem: "stream", Name: "frames_dropped_total",
			Help: "Frames dropped by back-pressure.",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "deskstream", Subsystem: "stream", Name: "bytes_sent_total",
			Help: "Total encoded bytes written to the wire.",
		}),
		encodeSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "deskstream", Subsystem: "stream", Name: "last_encode_seconds",
			Help: "Duration of the most recent encode call.",
		}),
	}
}

// Collect pushes the latest snapshot's deltas into the registered
// collectors. Called periodically by the server process, since
// StreamMetrics itself is a plain counter struct, not a live
// prometheus.Collector.
func (e *Exporter) Collect(prev, cur Snapshot) {
	e.framesCaptured.Add(float64(cur.FramesCaptured - prev.FramesCaptured))
	e.framesEncoded.Add(float64(cur.FramesEncoded - prev.FramesEncoded))
	e.framesSent.Add(float64(cur.FramesSent - prev.FramesSent))
	e.framesSkipped.Add(float64(cur.FramesSkipped - prev.FramesSkipped))
	e.framesDropped.Add(float64(cur.FramesDropped - prev.FramesDropped))
	e.bytesSent.Add(float64(cur.TotalBytesSent - prev.TotalBytesSent))
	e.encodeSeconds.Set(cur.LastEncodeTime.Seconds())
}

// Serve starts an HTTP listener exposing /metrics. It blocks until the
// listener fails or is closed; callers run it in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("metrics listener starting", "addr", addr)
	return http.ListenAndServe(addr, mux)
}
