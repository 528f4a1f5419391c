/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pacerserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-apipacer/config"
	"github.com/acronis/go-apipacer/log/logtest"
	"github.com/acronis/go-apipacer/pacer"
	"github.com/acronis/go-apipacer/restapi"
	"github.com/acronis/go-apipacer/testutil"
)

const apiBasePath = APIBasePath

func newTestEngine(t *testing.T) *pacer.Engine {
	t.Helper()
	cfg := pacer.NewDefaultConfig()
	cfg.MaxPermitsPerMinute = 60000
	cfg.IdlePollInterval = config.TimeDuration(time.Millisecond * 10)
	engine := pacer.NewEngine(cfg)
	t.Cleanup(func() { require.NoError(t, engine.Shutdown()) })
	return engine
}

// mustStartServer starts a new server on a free local port and registers its stopping as a cleanup.
func mustStartServer(t *testing.T, engine *pacer.Engine, opts Opts) *Server {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Address = testutil.GetLocalAddrWithFreeTCPPort()
	srv := New(cfg, engine, logtest.NewLogger(), opts)
	fatalErr := make(chan error, 1)
	go srv.Start(fatalErr)
	require.NoError(t, testutil.WaitListeningServer(cfg.Address, time.Second*3))
	t.Cleanup(func() {
		require.NoError(t, srv.Stop(false))
		testutil.RequireNoErrorInChannel(t, fatalErr)
	})
	return srv
}

// submitGatedCall submits a call that blocks until the returned channel is closed
// and waits until the worker picks it up. While it's in-flight, all later submissions stay pending.
func submitGatedCall(t *testing.T, engine *pacer.Engine) (id string, gate chan struct{}) {
	t.Helper()
	gate = make(chan struct{})
	id, err := engine.Submit(func(ctx context.Context) error {
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	require.NoError(t, err)
	waitRecordStatus(t, engine, id, pacer.StatusRunning)
	return id, gate
}

func waitRecordStatus(t *testing.T, engine *pacer.Engine, id string, want pacer.Status) pacer.RequestRecord {
	t.Helper()
	deadline := time.Now().Add(time.Second * 3)
	for time.Now().Before(deadline) {
		if rec, found := engine.GetRecord(id); found && rec.Status == want {
			return rec
		}
		time.Sleep(time.Millisecond * 5)
	}
	t.Fatalf("request %q did not reach status %q", id, want)
	return pacer.RequestRecord{}
}

func noopCall(_ context.Context) error { return nil }

func TestServerStart(t *testing.T) {
	engine := newTestEngine(t)

	addr := testutil.GetLocalAddrWithFreeTCPPort()
	cfg := NewDefaultConfig()
	cfg.Address = addr
	srv := New(cfg, engine, logtest.NewLogger(), Opts{})
	fatalErr := make(chan error, 1)
	go srv.Start(fatalErr)
	require.NoError(t, testutil.WaitListeningServer(addr, time.Second*3))
	defer func() {
		require.NoError(t, srv.Stop(false))
		testutil.RequireNoErrorInChannel(t, fatalErr)
	}()

	port := srv.GetPort()
	require.Greater(t, port, 0)
	require.Equal(t, addr, fmt.Sprintf("127.0.0.1:%d", port))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.True(t, len(respBody) > 0)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.RequireJSONInResponse(t, resp,
		&healthCheckResponseData{Components: map[string]bool{"engine": true}}, &healthCheckResponseData{})
	require.NoError(t, resp.Body.Close())
}

func TestServerStatsEndpoint(t *testing.T) {
	engine := newTestEngine(t)
	srv := mustStartServer(t, engine, Opts{})

	id1, err := engine.Submit(noopCall)
	require.NoError(t, err)
	id2, err := engine.Submit(noopCall)
	require.NoError(t, err)
	waitRecordStatus(t, engine, id1, pacer.StatusCompleted)
	waitRecordStatus(t, engine, id2, pacer.StatusCompleted)

	resp, err := http.Get(srv.URL + apiBasePath + "/stats")
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, restapi.ContentTypeAppJSON, resp.Header.Get("Content-Type"))

	var stats pacer.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.Equal(t, 2, stats.CompletedCount)
	require.Equal(t, 0, stats.WaitingCount)
	require.Greater(t, stats.PermitsPerMinute, float64(0))
	require.Len(t, stats.Records, 2)
	require.ElementsMatch(t, []string{id1, id2}, []string{stats.Records[0].ID, stats.Records[1].ID})
}

func TestServerGetRequest(t *testing.T) {
	engine := newTestEngine(t)
	srv := mustStartServer(t, engine, Opts{})

	t.Run("existing request", func(t *testing.T) {
		id, err := engine.Submit(noopCall)
		require.NoError(t, err)
		waitRecordStatus(t, engine, id, pacer.StatusCompleted)

		resp, err := http.Get(srv.URL + apiBasePath + "/requests/" + id)
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var rec pacer.RequestRecord
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
		require.Equal(t, id, rec.ID)
		require.Equal(t, pacer.StatusCompleted, rec.Status)
		require.NotNil(t, rec.StartTime)
		require.NotNil(t, rec.EndTime)
		require.NotNil(t, rec.DurationMs)
	})

	t.Run("unknown request", func(t *testing.T) {
		resp, err := http.Get(srv.URL + apiBasePath + "/requests/nonexistent")
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		testutil.RequireErrorInResponse(t, resp, http.StatusNotFound, DefaultErrorDomain, restapi.ErrCodeNotFound)
	})
}

func TestServerWaitEstimate(t *testing.T) {
	engine := newTestEngine(t)
	srv := mustStartServer(t, engine, Opts{})

	t.Run("unknown request", func(t *testing.T) {
		resp, err := http.Get(srv.URL + apiBasePath + "/requests/nonexistent/wait")
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		testutil.RequireErrorInResponse(t, resp, http.StatusNotFound, DefaultErrorDomain, restapi.ErrCodeNotFound)
	})

	t.Run("pending and finished requests", func(t *testing.T) {
		_, gate := submitGatedCall(t, engine)

		pendingID, err := engine.Submit(noopCall)
		require.NoError(t, err)

		resp, err := http.Get(srv.URL + apiBasePath + "/requests/" + pendingID + "/wait")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var waitData WaitEstimateData
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&waitData))
		require.NoError(t, resp.Body.Close())
		require.Equal(t, pendingID, waitData.ID)
		require.GreaterOrEqual(t, waitData.RemainingWaitSeconds, float64(0))

		close(gate)
		waitRecordStatus(t, engine, pendingID, pacer.StatusCompleted)

		resp, err = http.Get(srv.URL + apiBasePath + "/requests/" + pendingID + "/wait")
		require.NoError(t, err)
		testutil.RequireJSONInResponse(t, resp,
			&WaitEstimateData{ID: pendingID, RemainingWaitSeconds: 0}, &WaitEstimateData{})
		require.NoError(t, resp.Body.Close())
	})
}

func TestServerCancelRequest(t *testing.T) {
	engine := newTestEngine(t)
	srv := mustStartServer(t, engine, Opts{})

	t.Run("cancel pending request", func(t *testing.T) {
		_, gate := submitGatedCall(t, engine)
		defer close(gate)

		pendingID, err := engine.Submit(noopCall)
		require.NoError(t, err)

		resp, err := http.Post(srv.URL+apiBasePath+"/requests/"+pendingID+"/cancel", restapi.ContentTypeAppJSON, nil)
		require.NoError(t, err)
		testutil.RequireJSONInResponse(t, resp,
			&CancelResultData{ID: pendingID, Cancelled: true}, &CancelResultData{})
		require.NoError(t, resp.Body.Close())

		rec, found := engine.GetRecord(pendingID)
		require.True(t, found)
		require.Equal(t, pacer.StatusCancelled, rec.Status)
	})

	t.Run("cancel unknown request", func(t *testing.T) {
		resp, err := http.Post(srv.URL+apiBasePath+"/requests/nonexistent/cancel", restapi.ContentTypeAppJSON, nil)
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		testutil.RequireErrorInResponse(t, resp, http.StatusNotFound, DefaultErrorDomain, restapi.ErrCodeNotFound)
	})

	t.Run("cancel completed request", func(t *testing.T) {
		id, err := engine.Submit(noopCall)
		require.NoError(t, err)
		waitRecordStatus(t, engine, id, pacer.StatusCompleted)

		resp, err := http.Post(srv.URL+apiBasePath+"/requests/"+id+"/cancel", restapi.ContentTypeAppJSON, nil)
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		testutil.RequireErrorInResponse(t, resp, http.StatusConflict, DefaultErrorDomain, ErrCodeRequestNotCancellable)
	})
}

func TestServerCancelRequestsBatch(t *testing.T) {
	engine := newTestEngine(t)
	srv := mustStartServer(t, engine, Opts{})

	t.Run("cancel multiple requests", func(t *testing.T) {
		_, gate := submitGatedCall(t, engine)
		defer close(gate)

		pendingID1, err := engine.Submit(noopCall)
		require.NoError(t, err)
		pendingID2, err := engine.Submit(noopCall)
		require.NoError(t, err)

		reqBody, err := json.Marshal(CancelBatchRequestData{IDs: []string{pendingID1, pendingID2, "unknown"}})
		require.NoError(t, err)
		resp, err := http.Post(srv.URL+apiBasePath+"/requests/cancel", restapi.ContentTypeAppJSON, bytes.NewReader(reqBody))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		wantRespData := &CancelBatchResultData{
			Results: []CancelResultData{
				{ID: pendingID1, Cancelled: true},
				{ID: pendingID2, Cancelled: true},
				{ID: "unknown", Cancelled: false},
			},
			CancelledCount: 2,
		}
		testutil.RequireJSONInResponse(t, resp, wantRespData, &CancelBatchResultData{})
		require.NoError(t, resp.Body.Close())
	})

	t.Run("empty ids list", func(t *testing.T) {
		resp, err := http.Post(srv.URL+apiBasePath+"/requests/cancel", restapi.ContentTypeAppJSON,
			strings.NewReader(`{"ids":[]}`))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		testutil.RequireJSONInResponse(t, resp,
			&CancelBatchResultData{Results: []CancelResultData{}}, &CancelBatchResultData{})
		require.NoError(t, resp.Body.Close())
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, err := http.Post(srv.URL+apiBasePath+"/requests/cancel", restapi.ContentTypeAppJSON,
			strings.NewReader(`{"ids":`))
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		testutil.RequireErrorInResponse(t, resp, http.StatusBadRequest, DefaultErrorDomain, "badRequest")
	})

	t.Run("unsupported content type", func(t *testing.T) {
		resp, err := http.Post(srv.URL+apiBasePath+"/requests/cancel", "text/plain", strings.NewReader(`{"ids":[]}`))
		require.NoError(t, err)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		testutil.RequireErrorInResponse(t, resp, http.StatusUnsupportedMediaType, DefaultErrorDomain, "unsupportedMediaType")
	})
}

func TestServerNotFoundAndMethodNotAllowed(t *testing.T) {
	engine := newTestEngine(t)
	srv := mustStartServer(t, engine, Opts{})

	resp, err := http.Get(srv.URL + "/no-such-endpoint")
	require.NoError(t, err)
	testutil.RequireErrorInResponse(t, resp, http.StatusNotFound, DefaultErrorDomain, restapi.ErrCodeNotFound)
	require.NoError(t, resp.Body.Close())

	req, err := http.NewRequest(http.MethodDelete, srv.URL+apiBasePath+"/stats", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	testutil.RequireErrorInResponse(t, resp, http.StatusMethodNotAllowed, DefaultErrorDomain, restapi.ErrCodeMethodNotAllowed)
	require.NoError(t, resp.Body.Close())
}

func TestServerHealthCheckEndpoint(t *testing.T) {
	t.Run("engine is shut down", func(t *testing.T) {
		engine := newTestEngine(t)
		srv := mustStartServer(t, engine, Opts{})

		require.NoError(t, engine.Shutdown())

		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		testutil.RequireJSONInResponse(t, resp,
			&healthCheckResponseData{Components: map[string]bool{"engine": false}}, &healthCheckResponseData{})
		require.NoError(t, resp.Body.Close())
	})

	t.Run("custom health check returns error", func(t *testing.T) {
		engine := newTestEngine(t)
		srv := mustStartServer(t, engine, Opts{
			HealthCheck: func() (HealthCheckResult, error) {
				return nil, fmt.Errorf("health check error")
			},
		})

		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		require.NoError(t, resp.Body.Close())
	})
}

func TestServerMetricsHandler(t *testing.T) {
	engine := newTestEngine(t)

	wrapperMark := []byte("# wrapped metrics handler\n")
	metricsWrapper := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			_, err := rw.Write(wrapperMark)
			require.NoError(t, err)
			h.ServeHTTP(rw, r)
		})
	}
	srv := mustStartServer(t, engine, Opts{MetricsHandler: metricsWrapper(promhttp.Handler())})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.True(t, bytes.Contains(respBody, wrapperMark))
}

func TestServerStop(t *testing.T) {
	t.Run("with gracefully shutdown", func(t *testing.T) {
		engine := newTestEngine(t)
		addr := testutil.GetLocalAddrWithFreeTCPPort()
		cfg := NewDefaultConfig()
		cfg.Address = addr
		cfg.Timeouts.Shutdown = config.TimeDuration(time.Second * 3)
		srv := New(cfg, engine, logtest.NewLogger(), Opts{})
		srv.HTTPRouter.Get("/slow", func(rw http.ResponseWriter, r *http.Request) {
			time.Sleep(time.Second * 1) // Long operation.
			rw.WriteHeader(http.StatusOK)
		})
		fatalErr := make(chan error, 1)
		go srv.Start(fatalErr)
		require.NoError(t, testutil.WaitListeningServer(addr, time.Second*3))

		done := make(chan bool, 1)
		go func() {
			defer func() { done <- true }()
			c := http.Client{Timeout: time.Second * 5}
			startedAt := time.Now()
			resp, err := c.Get(srv.URL + "/slow")
			if err == nil {
				defer func() { require.NoError(t, resp.Body.Close()) }()
			}
			require.NoError(t, err,
				"server should wait until all HTTP requests are served and only after this close TCP connection")
			require.WithinDuration(t, startedAt.Add(time.Second), time.Now(), time.Millisecond*100)
			require.Equal(t, http.StatusOK, resp.StatusCode)
		}()

		time.Sleep(time.Millisecond * 500) // Give time to send request.

		require.NoError(t, srv.Stop(true))
		testutil.RequireNoErrorInChannel(t, fatalErr)

		<-done
	})

	t.Run("w/o gracefully shutdown", func(t *testing.T) {
		engine := newTestEngine(t)
		addr := testutil.GetLocalAddrWithFreeTCPPort()
		cfg := NewDefaultConfig()
		cfg.Address = addr
		cfg.Timeouts.Shutdown = config.TimeDuration(time.Second * 3)
		srv := New(cfg, engine, logtest.NewLogger(), Opts{})
		srv.HTTPRouter.Get("/slow", func(rw http.ResponseWriter, r *http.Request) {
			time.Sleep(time.Second * 1) // Long operation.
			rw.WriteHeader(http.StatusOK)
		})
		fatalErr := make(chan error, 1)
		go srv.Start(fatalErr)
		require.NoError(t, testutil.WaitListeningServer(addr, time.Second*3))

		done := make(chan bool, 1)
		go func() {
			defer func() { done <- true }()
			c := http.Client{Timeout: time.Second * 5}
			startedAt := time.Now()
			resp, err := c.Get(srv.URL + "/slow")
			if err == nil {
				defer func() { require.NoError(t, resp.Body.Close()) }()
			}
			require.WithinDuration(t, startedAt.Add(time.Millisecond*500), time.Now(), time.Millisecond*100)
			require.Error(t, err, "server should close TCP connection immediately")
		}()

		time.Sleep(time.Millisecond * 500) // Give time to send request.

		require.NoError(t, srv.Stop(false))
		testutil.RequireNoErrorInChannel(t, fatalErr)

		<-done
	})
}

func TestServerStopWithoutStart(t *testing.T) {
	engine := newTestEngine(t)
	cfg := NewDefaultConfig()
	cfg.Address = testutil.GetLocalAddrWithFreeTCPPort()

	t.Run("with graceful shutdown", func(t *testing.T) {
		srv := New(cfg, engine, logtest.NewLogger(), Opts{})
		require.NoError(t, srv.Stop(true))
	})

	t.Run("w/o graceful shutdown", func(t *testing.T) {
		srv := New(cfg, engine, logtest.NewLogger(), Opts{})
		require.NoError(t, srv.Stop(false))
	})
}
