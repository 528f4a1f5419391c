/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pacer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-apipacer/config"
	"github.com/acronis/go-apipacer/log/logtest"
)

// fastEngineConfig returns a configuration with a high rate ceiling and short polling,
// so that paced calls driven by millisecond-scale latency samples finish quickly.
func fastEngineConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.MaxPermitsPerMinute = 60000
	cfg.IdlePollInterval = config.TimeDuration(10 * time.Millisecond)
	cfg.GracefulShutdownTimeout = config.TimeDuration(2 * time.Second)
	return cfg
}

func newTestEngine(t *testing.T, cfg *Config, opts Opts) *Engine {
	t.Helper()
	e := NewEngineWithOpts(cfg, opts)
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func preloadLatency(e *Engine, d time.Duration, n int) {
	for i := 0; i < n; i++ {
		e.tracker.RecordLatency(d)
	}
}

func waitStatus(t *testing.T, e *Engine, id string, want Status) RequestRecord {
	t.Helper()
	var rec RequestRecord
	require.Eventually(t, func() bool {
		var ok bool
		rec, ok = e.GetRecord(id)
		return ok && rec.Status == want
	}, 5*time.Second, 5*time.Millisecond, "request %s did not reach status %s", id, want)
	return rec
}

func noopCall(ctx context.Context) error {
	return nil
}

func TestEngineSubmitReturnsPendingRecord(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})

	started := make(chan struct{})
	release := make(chan struct{})
	idA, err := e.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, idA)
	<-started

	// The worker is busy with the first call, so the second one stays pending.
	idB, err := e.Submit(noopCall)
	require.NoError(t, err)
	require.NotEqual(t, idA, idB)

	rec, ok := e.GetRecord(idB)
	require.True(t, ok)
	require.Equal(t, idB, rec.ID)
	require.Equal(t, StatusPending, rec.Status)
	require.False(t, rec.SubmitTime.IsZero())
	require.Nil(t, rec.StartTime)
	require.Nil(t, rec.EndTime)
	require.Nil(t, rec.DurationMs)

	close(release)
	waitStatus(t, e, idA, StatusCompleted)
	waitStatus(t, e, idB, StatusCompleted)
}

func TestEngineCompletedCall(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})

	id, err := e.Submit(func(ctx context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	rec := waitStatus(t, e, id, StatusCompleted)
	require.NotNil(t, rec.StartTime)
	require.NotNil(t, rec.EndTime)
	require.False(t, rec.EndTime.Before(*rec.StartTime))
	require.NotNil(t, rec.DurationMs)
	require.GreaterOrEqual(t, *rec.DurationMs, int64(0))

	stats := e.GetStats()
	require.Equal(t, 1, stats.CompletedCount)
	require.Equal(t, 0, stats.WaitingCount)
	require.Equal(t, 1, e.tracker.SampleCount())
}

func TestEngineFailedCall(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})

	wantErr := errors.New("downstream unavailable")
	id, err := e.Submit(func(ctx context.Context) error {
		time.Sleep(2 * time.Millisecond)
		return wantErr
	})
	require.NoError(t, err)

	rec := waitStatus(t, e, id, StatusFailed)
	require.NotNil(t, rec.StartTime)
	require.NotNil(t, rec.EndTime)

	// Failures do not count as completions, but their positive durations feed the tracker.
	require.Equal(t, 0, e.GetStats().CompletedCount)
	require.Equal(t, 1, e.tracker.SampleCount())

	// The worker survives call failures.
	id2, err := e.Submit(noopCall)
	require.NoError(t, err)
	waitStatus(t, e, id2, StatusCompleted)
}

func TestEnginePanickingCallIsFailure(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})

	id, err := e.Submit(func(ctx context.Context) error {
		panic("boom")
	})
	require.NoError(t, err)

	waitStatus(t, e, id, StatusFailed)
	require.Equal(t, 0, e.GetStats().CompletedCount)

	id2, err := e.Submit(noopCall)
	require.NoError(t, err)
	waitStatus(t, e, id2, StatusCompleted)
}

func TestEngineSubmitNilCall(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})
	id, err := e.Submit(nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrEngineShutDown)
	require.Empty(t, id)
}

func TestEngineUnknownRequestID(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})

	_, ok := e.GetRecord("unknown")
	require.False(t, ok)
	require.Equal(t, float64(-1), e.RemainingWaitSeconds("unknown"))
	require.False(t, e.Cancel("unknown"))
}

func TestEngineCancelPendingRequest(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})

	started := make(chan struct{})
	release := make(chan struct{})
	idA, err := e.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	var executedB atomic.Bool
	idB, err := e.Submit(func(ctx context.Context) error {
		executedB.Store(true)
		return nil
	})
	require.NoError(t, err)
	idC, err := e.Submit(noopCall)
	require.NoError(t, err)

	stats := e.GetStats()
	require.Equal(t, 2, stats.WaitingCount)
	require.Len(t, stats.Records, 3)

	require.True(t, e.Cancel(idB))
	rec, ok := e.GetRecord(idB)
	require.True(t, ok)
	require.Equal(t, StatusCancelled, rec.Status)

	// Cancellation is possible only from the pending state.
	require.False(t, e.Cancel(idB))
	require.False(t, e.Cancel(idA))

	require.Equal(t, 1, e.GetStats().WaitingCount)

	close(release)
	waitStatus(t, e, idA, StatusCompleted)
	waitStatus(t, e, idC, StatusCompleted)

	require.False(t, executedB.Load())
	rec, ok = e.GetRecord(idB)
	require.True(t, ok)
	require.Equal(t, StatusCancelled, rec.Status)
	require.Nil(t, rec.StartTime)
	require.Nil(t, rec.EndTime)
	require.Equal(t, 2, e.GetStats().CompletedCount)
}

func TestEngineRemainingWaitEstimates(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})
	// Average latency 10s -> 6 permits/min -> 10s between call starts.
	preloadLatency(e, 10*time.Second, 5)

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	idA, err := e.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	idB, err := e.Submit(noopCall)
	require.NoError(t, err)
	idC, err := e.Submit(noopCall)
	require.NoError(t, err)
	idD, err := e.Submit(noopCall)
	require.NoError(t, err)

	// The running call contributes its expected remainder (close to the 10s average),
	// each pending request ahead contributes a full interval.
	require.Equal(t, float64(0), e.RemainingWaitSeconds(idA))
	waitB := e.RemainingWaitSeconds(idB)
	waitC := e.RemainingWaitSeconds(idC)
	waitD := e.RemainingWaitSeconds(idD)
	require.InDelta(t, 10.0, waitB, 1.0)
	require.InDelta(t, 20.0, waitC, 1.0)
	require.InDelta(t, 30.0, waitD, 1.0)
	require.Less(t, waitB, waitC)
	require.Less(t, waitC, waitD)

	// Cancelling a request ahead shortens the estimate for those behind it.
	require.True(t, e.Cancel(idB))
	require.Equal(t, float64(0), e.RemainingWaitSeconds(idB))
	waitDAfterCancel := e.RemainingWaitSeconds(idD)
	require.Less(t, waitDAfterCancel, waitD-5.0)
}

func TestEngineWorkerHoldsTaskDuringPacingWait(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})
	// Average latency 500ms -> pacing interval 500ms.
	preloadLatency(e, 500*time.Millisecond, 10)

	idA, err := e.Submit(noopCall)
	require.NoError(t, err)
	recA := waitStatus(t, e, idA, StatusCompleted)

	idB, err := e.Submit(noopCall)
	require.NoError(t, err)

	// The worker dequeues the task and waits out the pacing interval holding it:
	// the queue is empty while the request has not started yet.
	require.Eventually(t, func() bool { return e.queue.len() == 0 }, time.Second, time.Millisecond)
	require.Equal(t, float64(0), e.RemainingWaitSeconds(idB))

	recB := waitStatus(t, e, idB, StatusCompleted)
	require.NotNil(t, recA.StartTime)
	require.NotNil(t, recB.StartTime)
	require.GreaterOrEqual(t, recB.StartTime.Sub(*recA.StartTime), 400*time.Millisecond)
}

func TestEnginePacingSpacesCallStarts(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})
	// Average latency 150ms -> 400 permits/min -> 150ms between call starts.
	preloadLatency(e, 150*time.Millisecond, 10)

	idA, err := e.Submit(func(ctx context.Context) error {
		time.Sleep(time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	idB, err := e.Submit(func(ctx context.Context) error {
		time.Sleep(time.Millisecond)
		return nil
	})
	require.NoError(t, err)

	recA := waitStatus(t, e, idA, StatusCompleted)
	recB := waitStatus(t, e, idB, StatusCompleted)
	require.NotNil(t, recA.StartTime)
	require.NotNil(t, recB.StartTime)
	require.GreaterOrEqual(t, recB.StartTime.Sub(*recA.StartTime), 100*time.Millisecond)
}

func TestEngineSubmitAfterShutdown(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})

	id, err := e.Submit(noopCall)
	require.NoError(t, err)
	waitStatus(t, e, id, StatusCompleted)

	require.NoError(t, e.Shutdown())

	_, err = e.Submit(noopCall)
	require.ErrorIs(t, err, ErrEngineShutDown)

	// The request history stays readable after shutdown.
	rec, ok := e.GetRecord(id)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, rec.Status)

	// Shutdown is idempotent.
	require.NoError(t, e.Shutdown())
}

func TestEngineShutdownWaitsForInFlightCall(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})

	started := make(chan struct{})
	release := make(chan struct{})
	id, err := e.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	time.AfterFunc(50*time.Millisecond, func() { close(release) })
	require.NoError(t, e.Shutdown())

	rec, ok := e.GetRecord(id)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, rec.Status)
}

func TestEngineShutdownForcedAfterTimeout(t *testing.T) {
	cfg := fastEngineConfig()
	cfg.GracefulShutdownTimeout = config.TimeDuration(50 * time.Millisecond)
	e := newTestEngine(t, cfg, Opts{})

	started := make(chan struct{})
	id, err := e.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	require.ErrorIs(t, e.Shutdown(), ErrShutdownTimeoutExceeded)
	waitStatus(t, e, id, StatusFailed)
}

func TestEngineRetentionEvictsOldestFinished(t *testing.T) {
	cfg := fastEngineConfig()
	cfg.MaxRetainedRecords = 10
	e := newTestEngine(t, cfg, Opts{})

	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		id, err := e.Submit(noopCall)
		require.NoError(t, err)
		waitStatus(t, e, id, StatusCompleted)
		ids = append(ids, id)
	}

	// The submission that overflows the cap trims the history to 90% of it, oldest first.
	idLast, err := e.Submit(noopCall)
	require.NoError(t, err)

	_, ok := e.GetRecord(ids[0])
	require.False(t, ok)
	_, ok = e.GetRecord(ids[1])
	require.False(t, ok)
	_, ok = e.GetRecord(ids[2])
	require.True(t, ok)
	require.Len(t, e.GetStats().Records, 9)

	waitStatus(t, e, idLast, StatusCompleted)
}

func TestEngineRetentionNeverEvictsPending(t *testing.T) {
	cfg := fastEngineConfig()
	cfg.MaxRetainedRecords = 10
	e := newTestEngine(t, cfg, Opts{})

	started := make(chan struct{})
	release := make(chan struct{})
	idA, err := e.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	ids := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		id, submitErr := e.Submit(noopCall)
		require.NoError(t, submitErr)
		ids = append(ids, id)
	}

	// Every queued request is still pending, so nothing but the running record
	// could be evicted and the history stays over the cap.
	_, ok := e.GetRecord(idA)
	require.False(t, ok)
	for _, id := range ids {
		_, idOK := e.GetRecord(id)
		require.True(t, idOK)
	}
	require.Len(t, e.GetStats().Records, 12)

	close(release)
}

func TestEngineStatsRecordsOrderedAndCapped(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := e.Submit(noopCall)
		require.NoError(t, err)
		waitStatus(t, e, id, StatusCompleted)
		ids = append(ids, id)
	}

	stats := e.GetStats()
	require.Equal(t, 3, stats.CompletedCount)
	require.Equal(t, 0, stats.WaitingCount)
	require.Greater(t, stats.PermitsPerMinute, 0.0)
	require.Len(t, stats.Records, 3)
	// Most recently submitted first.
	require.Equal(t, ids[2], stats.Records[0].ID)
	require.Equal(t, ids[1], stats.Records[1].ID)
	require.Equal(t, ids[0], stats.Records[2].ID)
	for _, rec := range stats.Records {
		require.NotNil(t, rec.StartTime)
		require.NotNil(t, rec.EndTime)
		require.NotNil(t, rec.DurationMs)
	}
}

func TestEngineStatsRecordsCap(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	_, err := e.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	var lastID string
	for i := 0; i < 520; i++ {
		id, submitErr := e.Submit(noopCall)
		require.NoError(t, submitErr)
		lastID = id
	}

	stats := e.GetStats()
	require.Equal(t, 520, stats.WaitingCount)
	require.Len(t, stats.Records, statsRecordsLimit)
	require.Equal(t, lastID, stats.Records[0].ID)
}

func TestEngineConcurrentSubmits(t *testing.T) {
	e := newTestEngine(t, fastEngineConfig(), Opts{})

	const goroutines = 20
	const submitsPerGoroutine = 10

	var mu sync.Mutex
	ids := make(map[string]struct{})

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < submitsPerGoroutine; i++ {
				id, err := e.Submit(noopCall)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, ids, goroutines*submitsPerGoroutine)
	require.Eventually(t, func() bool {
		return e.GetStats().CompletedCount == goroutines*submitsPerGoroutine
	}, 10*time.Second, 10*time.Millisecond)
}

func TestEngineLogsCallFailure(t *testing.T) {
	recorder := logtest.NewRecorder()
	e := newTestEngine(t, fastEngineConfig(), Opts{Logger: recorder})

	id, err := e.Submit(func(ctx context.Context) error {
		return errors.New("downstream unavailable")
	})
	require.NoError(t, err)
	waitStatus(t, e, id, StatusFailed)

	entry, found := recorder.FindEntry("paced call failed")
	require.True(t, found)
	field, fieldFound := entry.FindField("request_id")
	require.True(t, fieldFound)
	require.Equal(t, id, string(field.Bytes))
}

func TestEngineMetricsCollected(t *testing.T) {
	pm := NewPrometheusMetrics()
	e := newTestEngine(t, fastEngineConfig(), Opts{MetricsCollector: pm})

	started := make(chan struct{})
	release := make(chan struct{})
	idA, err := e.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	idB, err := e.Submit(func(ctx context.Context) error {
		return errors.New("downstream unavailable")
	})
	require.NoError(t, err)
	idC, err := e.Submit(noopCall)
	require.NoError(t, err)
	require.True(t, e.Cancel(idC))

	close(release)
	waitStatus(t, e, idA, StatusCompleted)
	waitStatus(t, e, idB, StatusFailed)

	require.Equal(t, float64(3), testutil.ToFloat64(pm.SubmittedTotal.With(nil)))
	require.Equal(t, float64(1), testutil.ToFloat64(pm.CancelledTotal.With(nil)))
	require.Equal(t, float64(1), testutil.ToFloat64(pm.CompletedCallsTotal.With(nil)))
	require.Equal(t, float64(1), testutil.ToFloat64(pm.FailedCallsTotal.With(nil)))
	require.Equal(t, 1, testutil.CollectAndCount(pm.CallDurations))
	require.Greater(t, testutil.ToFloat64(pm.PermitsPerMinute.With(nil)), 0.0)
}
