/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import "github.com/prometheus/client_golang/prometheus"

const metricsSubsystem = "restapi"

const (
	metricsLabelErrorDomain = "domain"
	metricsLabelErrorCode   = "code"
)

var metricsResponseErrors *prometheus.CounterVec

// MustInitAndRegisterMetrics initializes and registers restapi global metrics.
// It panics if the registration fails.
func MustInitAndRegisterMetrics(namespace string) {
	metricsResponseErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: metricsSubsystem,
		Name:      "response_errors",
		Help:      "The total number of errors sent in REST API responses.",
	}, []string{metricsLabelErrorDomain, metricsLabelErrorCode})
	prometheus.MustRegister(metricsResponseErrors)
}

// UnregisterMetrics unregisters restapi global metrics.
func UnregisterMetrics() {
	if metricsResponseErrors != nil {
		prometheus.Unregister(metricsResponseErrors)
	}
}
