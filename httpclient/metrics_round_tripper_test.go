/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-apipacer/testutil"
)

func TestMetricsRoundTripper_RoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	serverURL, err := url.Parse(server.URL)
	require.NoError(t, err)

	getHist := func(collector *PrometheusMetricsCollector, requestType, summary, status string) prometheus.Histogram {
		return collector.Durations.WithLabelValues(requestType, serverURL.Host, summary, status).(prometheus.Histogram)
	}

	t.Run("collect request duration", func(t *testing.T) {
		collector := NewPrometheusMetricsCollector("")
		client := &http.Client{Transport: NewMetricsRoundTripperWithOpts(http.DefaultTransport, MetricsRoundTripperOpts{
			RequestType: "task-manager",
			Collector:   collector,
		})}

		resp, err := client.Post(server.URL, "application/json", nil)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		testutil.RequireSamplesCountInHistogram(t, getHist(collector, "task-manager", "POST task-manager", "418"), 1)
	})

	t.Run("request type from context has priority", func(t *testing.T) {
		collector := NewPrometheusMetricsCollector("")
		client := &http.Client{Transport: NewMetricsRoundTripperWithOpts(http.DefaultTransport, MetricsRoundTripperOpts{
			RequestType: "task-manager",
			Collector:   collector,
		})}

		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		req = req.WithContext(NewContextWithRequestType(req.Context(), "vm-manager"))
		resp, err := client.Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		testutil.RequireSamplesCountInHistogram(t, getHist(collector, "vm-manager", "GET vm-manager", "418"), 1)
	})

	t.Run("unknown request type is used by default", func(t *testing.T) {
		collector := NewPrometheusMetricsCollector("")
		client := &http.Client{Transport: NewMetricsRoundTripperWithOpts(http.DefaultTransport, MetricsRoundTripperOpts{
			Collector: collector,
		})}

		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		testutil.RequireSamplesCountInHistogram(
			t, getHist(collector, DefaultRequestType, "GET "+DefaultRequestType, "418"), 1)
	})

	t.Run("status is zero on transport error", func(t *testing.T) {
		closedServer := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {}))
		closedServerURL, err := url.Parse(closedServer.URL)
		require.NoError(t, err)
		closedServer.Close()

		collector := NewPrometheusMetricsCollector("")
		client := &http.Client{Transport: NewMetricsRoundTripperWithOpts(http.DefaultTransport, MetricsRoundTripperOpts{
			RequestType: "task-manager",
			Collector:   collector,
		})}

		_, err = client.Get(closedServerURL.String())
		require.Error(t, err)

		hist := collector.Durations.WithLabelValues(
			"task-manager", closedServerURL.Host, "GET task-manager", "0").(prometheus.Histogram)
		testutil.RequireSamplesCountInHistogram(t, hist, 1)
	})

	t.Run("nil collector passes request through", func(t *testing.T) {
		client := &http.Client{Transport: NewMetricsRoundTripper(http.DefaultTransport)}

		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		require.Equal(t, http.StatusTeapot, resp.StatusCode)
	})
}
