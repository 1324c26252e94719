// Package metrics exports pump events as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baldanca/queue-pump/pump"
)

const namespace = "queuepump"

// Observer implements pump.Observer with Prometheus collectors.
type Observer struct {
	received       *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
	handled        *prometheus.CounterVec
	deleted        *prometheus.CounterVec
	deleteFailures *prometheus.CounterVec
	inFlight       *prometheus.GaugeVec
	duration       *prometheus.HistogramVec
}

var _ pump.Observer = (*Observer)(nil)

// NewObserver creates the collectors and registers them with reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages returned by receive calls.",
		}, []string{"queue"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Messages whose body could not be decoded.",
		}, []string{"queue"}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handled_total",
			Help:      "Handler invocations by result.",
		}, []string{"queue", "result"}),
		deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deleted_total",
			Help:      "Messages deleted from the queue.",
		}, []string{"queue"}),
		deleteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delete_failures_total",
			Help:      "Delete calls that failed after retries.",
		}, []string{"queue"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Handler invocations currently running.",
		}, []string{"queue"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Handler latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"queue"}),
	}

	for _, c := range []prometheus.Collector{
		o.received, o.decodeFailures, o.handled, o.deleted, o.deleteFailures, o.inFlight, o.duration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) Received(queue string, n int) {
	o.received.WithLabelValues(queue).Add(float64(n))
}

func (o *Observer) DecodeFailed(queue string) {
	o.decodeFailures.WithLabelValues(queue).Inc()
}

func (o *Observer) Handled(queue string, ok bool, took time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	o.handled.WithLabelValues(queue, result).Inc()
	o.duration.WithLabelValues(queue).Observe(took.Seconds())
}

func (o *Observer) Deleted(queue string, n int) {
	o.deleted.WithLabelValues(queue).Add(float64(n))
}

func (o *Observer) DeleteFailed(queue string) {
	o.deleteFailures.WithLabelValues(queue).Inc()
}

func (o *Observer) InFlight(queue string, delta int) {
	o.inFlight.WithLabelValues(queue).Add(float64(delta))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
