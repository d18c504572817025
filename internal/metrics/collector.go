// Package metrics exposes adapter metrics in Prometheus format.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nupi-ai/plugin-vad-local-ten/internal/engine"
)

// Collector holds the adapter metrics. All methods are safe for concurrent use.
type Collector struct {
	streamsActive   prometheus.Gauge
	streamsTotal    *prometheus.CounterVec
	framesProcessed prometheus.Counter
	speechEvents    *prometheus.CounterVec
	processErrors   *prometheus.CounterVec
	processDuration prometheus.Histogram
}

// NewCollector registers the adapter metrics with reg.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		streamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of DetectSpeech streams currently open",
		}),
		streamsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of DetectSpeech streams by outcome",
		}, []string{"outcome"}),
		framesProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Total number of audio frames run through the engine",
		}),
		speechEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_events_total",
			Help:      "Total number of speech events sent, by type",
		}, []string{"type"}),
		processErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_errors_total",
			Help:      "Total number of failed engine calls, by error kind",
		}, []string{"kind"}),
		processDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_process_seconds",
			Help:      "Time spent in one engine Process call",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
}

// StreamOpened marks the start of a stream.
func (c *Collector) StreamOpened() {
	c.streamsActive.Inc()
}

// StreamClosed marks the end of a stream. A nil err counts as "ok".
func (c *Collector) StreamClosed(err error) {
	c.streamsActive.Dec()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.streamsTotal.WithLabelValues(outcome).Inc()
}

// FrameProcessed records one engine call.
func (c *Collector) FrameProcessed(d time.Duration, err error) {
	if err != nil {
		c.processErrors.WithLabelValues(ErrorKind(err)).Inc()
		return
	}
	c.framesProcessed.Inc()
	c.processDuration.Observe(d.Seconds())
}

// SpeechEvent records one emitted event.
func (c *Collector) SpeechEvent(eventType string) {
	c.speechEvents.WithLabelValues(eventType).Inc()
}

// ErrorKind maps engine errors to a bounded label set.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, engine.ErrFrameSize):
		return "frame_size"
	case errors.Is(err, engine.ErrInternal):
		return "internal"
	case errors.Is(err, engine.ErrUseAfterDestroy):
		return "use_after_destroy"
	case errors.Is(err, engine.ErrConcurrentUse):
		return "concurrent_use"
	case errors.Is(err, engine.ErrConfig):
		return "config"
	default:
		return "other"
	}
}
