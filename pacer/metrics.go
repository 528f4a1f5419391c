/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pacer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-apipacer/internal/libinfo"
)

// MetricsCollector represents a collector of metrics about how the pacing engine is used
// and how the downstream API behaves.
type MetricsCollector interface {
	// IncSubmittedRequests increments the total number of submitted requests.
	IncSubmittedRequests()

	// IncCancelledRequests increments the total number of cancelled requests.
	IncCancelledRequests()

	// IncCompletedCalls increments the total number of successfully completed calls.
	IncCompletedCalls()

	// IncFailedCalls increments the total number of failed calls.
	IncFailedCalls()

	// ObserveCallDuration observes the duration of a finished call, successful or not.
	ObserveCallDuration(duration time.Duration)

	// SetQueueLength sets the current number of requests waiting in the queue.
	SetQueueLength(length int)

	// SetPermitsPerMinute sets the current derived pacing rate.
	SetPermitsPerMinute(permits float64)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels

	// CurriedLabelNames is a list of label names that will be curried with the provided labels.
	// See PrometheusMetrics.MustCurryWith method for more details.
	// Keep in mind that if this list is not empty,
	// PrometheusMetrics.MustCurryWith method must be called further with the same labels.
	// Otherwise, the collector will panic.
	CurriedLabelNames []string

	// CallDurationBuckets is a list of buckets for the call duration histogram.
	// prometheus.DefBuckets are used if not set.
	CallDurationBuckets []float64
}

// PrometheusMetrics represents Prometheus metrics for the pacing engine.
type PrometheusMetrics struct {
	SubmittedTotal      *prometheus.CounterVec
	CancelledTotal      *prometheus.CounterVec
	CompletedCallsTotal *prometheus.CounterVec
	FailedCallsTotal    *prometheus.CounterVec
	CallDurations       *prometheus.HistogramVec
	QueueLength         *prometheus.GaugeVec
	PermitsPerMinute    *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	callDurationBuckets := opts.CallDurationBuckets
	if callDurationBuckets == nil {
		callDurationBuckets = prometheus.DefBuckets
	}
	constLabels := libinfo.AddPrometheusLibVersionLabel(opts.ConstLabels)

	submittedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "pacer_requests_submitted_total",
			Help:        "Number of requests submitted to the pacing engine.",
			ConstLabels: constLabels,
		},
		opts.CurriedLabelNames,
	)

	cancelledTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "pacer_requests_cancelled_total",
			Help:        "Number of requests cancelled while pending.",
			ConstLabels: constLabels,
		},
		opts.CurriedLabelNames,
	)

	completedCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "pacer_calls_completed_total",
			Help:        "Number of successfully completed downstream calls.",
			ConstLabels: constLabels,
		},
		opts.CurriedLabelNames,
	)

	failedCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "pacer_calls_failed_total",
			Help:        "Number of failed downstream calls.",
			ConstLabels: constLabels,
		},
		opts.CurriedLabelNames,
	)

	callDurations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "pacer_call_duration_seconds",
			Help:        "Duration of downstream calls in seconds.",
			ConstLabels: constLabels,
			Buckets:     callDurationBuckets,
		},
		opts.CurriedLabelNames,
	)

	queueLength := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "pacer_queue_length",
			Help:        "Number of requests waiting in the pacing queue.",
			ConstLabels: constLabels,
		},
		opts.CurriedLabelNames,
	)

	permitsPerMinute := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "pacer_permits_per_minute",
			Help:        "Current derived pacing rate in calls per minute.",
			ConstLabels: constLabels,
		},
		opts.CurriedLabelNames,
	)

	return &PrometheusMetrics{
		SubmittedTotal:      submittedTotal,
		CancelledTotal:      cancelledTotal,
		CompletedCallsTotal: completedCallsTotal,
		FailedCallsTotal:    failedCallsTotal,
		CallDurations:       callDurations,
		QueueLength:         queueLength,
		PermitsPerMinute:    permitsPerMinute,
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		SubmittedTotal:      pm.SubmittedTotal.MustCurryWith(labels),
		CancelledTotal:      pm.CancelledTotal.MustCurryWith(labels),
		CompletedCallsTotal: pm.CompletedCallsTotal.MustCurryWith(labels),
		FailedCallsTotal:    pm.FailedCallsTotal.MustCurryWith(labels),
		CallDurations:       pm.CallDurations.MustCurryWith(labels).(*prometheus.HistogramVec),
		QueueLength:         pm.QueueLength.MustCurryWith(labels),
		PermitsPerMinute:    pm.PermitsPerMinute.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.SubmittedTotal,
		pm.CancelledTotal,
		pm.CompletedCallsTotal,
		pm.FailedCallsTotal,
		pm.CallDurations,
		pm.QueueLength,
		pm.PermitsPerMinute,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.SubmittedTotal)
	prometheus.Unregister(pm.CancelledTotal)
	prometheus.Unregister(pm.CompletedCallsTotal)
	prometheus.Unregister(pm.FailedCallsTotal)
	prometheus.Unregister(pm.CallDurations)
	prometheus.Unregister(pm.QueueLength)
	prometheus.Unregister(pm.PermitsPerMinute)
}

// IncSubmittedRequests increments the total number of submitted requests.
func (pm *PrometheusMetrics) IncSubmittedRequests() {
	pm.SubmittedTotal.With(nil).Inc()
}

// IncCancelledRequests increments the total number of cancelled requests.
func (pm *PrometheusMetrics) IncCancelledRequests() {
	pm.CancelledTotal.With(nil).Inc()
}

// IncCompletedCalls increments the total number of successfully completed calls.
func (pm *PrometheusMetrics) IncCompletedCalls() {
	pm.CompletedCallsTotal.With(nil).Inc()
}

// IncFailedCalls increments the total number of failed calls.
func (pm *PrometheusMetrics) IncFailedCalls() {
	pm.FailedCallsTotal.With(nil).Inc()
}

// ObserveCallDuration observes the duration of a finished call.
func (pm *PrometheusMetrics) ObserveCallDuration(duration time.Duration) {
	pm.CallDurations.With(nil).Observe(duration.Seconds())
}

// SetQueueLength sets the current number of requests waiting in the queue.
func (pm *PrometheusMetrics) SetQueueLength(length int) {
	pm.QueueLength.With(nil).Set(float64(length))
}

// SetPermitsPerMinute sets the current derived pacing rate.
func (pm *PrometheusMetrics) SetPermitsPerMinute(permits float64) {
	pm.PermitsPerMinute.With(nil).Set(permits)
}

type disabledMetrics struct{}

func (disabledMetrics) IncSubmittedRequests()             {}
func (disabledMetrics) IncCancelledRequests()             {}
func (disabledMetrics) IncCompletedCalls()                {}
func (disabledMetrics) IncFailedCalls()                   {}
func (disabledMetrics) ObserveCallDuration(time.Duration) {}
func (disabledMetrics) SetQueueLength(int)                {}
func (disabledMetrics) SetPermitsPerMinute(float64)       {}
