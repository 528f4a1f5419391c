/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pacer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/atomic"

	"github.com/acronis/go-apipacer/log"
)

// statsRecordsLimit caps the number of record snapshots returned by GetStats.
const statsRecordsLimit = 500

// ErrEngineShutDown is returned by Submit after Shutdown has been requested.
var ErrEngineShutDown = errors.New("pacing engine is shut down")

// ErrShutdownTimeoutExceeded is returned by Shutdown when the worker does not stop within
// the graceful timeout and the in-flight call context had to be cancelled.
var ErrShutdownTimeoutExceeded = errors.New("pacing engine is not stopped gracefully within timeout")

// Call is a single downstream invocation executed by the engine's worker goroutine.
// The passed context is cancelled when a shutdown exceeds its graceful timeout.
// A non-nil result marks the request as failed; it is recorded and logged but never
// propagated to the submitter.
type Call func(ctx context.Context) error

// Opts represents options for the Engine.
type Opts struct {
	// Logger is used for logging engine lifecycle and per-request events.
	Logger log.FieldLogger

	// MetricsCollector is a collector of the engine metrics. Disabled if not set.
	MetricsCollector MetricsCollector
}

// Engine executes submitted calls strictly in submission order, spacing consecutive call starts
// by the interval derived from the measured downstream latency. Submission never blocks; each
// request is tracked by a record that can be inspected and, while still pending, cancelled.
//
// The engine starts its single worker goroutine on construction and runs until Shutdown.
type Engine struct {
	tracker *LatencyTracker
	queue   *taskQueue

	maxRetainedRecords      int
	idlePollInterval        time.Duration
	gracefulShutdownTimeout time.Duration

	logger  log.FieldLogger
	metrics MetricsCollector

	mu      sync.RWMutex
	records map[string]*record

	completedCount     atomic.Int32
	lastCallStartNanos atomic.Int64
	inFlight           atomic.Pointer[record]

	shutdownRequested atomic.Bool
	stopWorker        chan struct{}
	workerDone        chan struct{}
	shutdownOnce      sync.Once
	shutdownResult    error

	callCtx       context.Context
	cancelCallCtx context.CancelFunc
}

// NewEngine creates a new Engine with the given configuration and starts its worker goroutine.
// Nil cfg means the default configuration.
func NewEngine(cfg *Config) *Engine {
	return NewEngineWithOpts(cfg, Opts{})
}

// NewEngineWithOpts is a more configurable version of NewEngine.
func NewEngineWithOpts(cfg *Config, opts Opts) *Engine {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}

	maxRetainedRecords := cfg.MaxRetainedRecords
	if maxRetainedRecords <= 0 {
		maxRetainedRecords = DefaultMaxRetainedRecords
	}
	idlePollInterval := time.Duration(cfg.IdlePollInterval)
	if idlePollInterval <= 0 {
		idlePollInterval = DefaultIdlePollInterval
	}
	gracefulShutdownTimeout := time.Duration(cfg.GracefulShutdownTimeout)
	if gracefulShutdownTimeout <= 0 {
		gracefulShutdownTimeout = DefaultGracefulShutdownTimeout
	}

	callCtx, cancelCallCtx := context.WithCancel(context.Background())
	e := &Engine{
		tracker:                 NewLatencyTracker(cfg.SampleWindowSize, cfg.MinPermitsPerMinute, cfg.MaxPermitsPerMinute),
		queue:                   newTaskQueue(),
		maxRetainedRecords:      maxRetainedRecords,
		idlePollInterval:        idlePollInterval,
		gracefulShutdownTimeout: gracefulShutdownTimeout,
		logger:                  opts.Logger,
		metrics:                 opts.MetricsCollector,
		records:                 make(map[string]*record),
		stopWorker:              make(chan struct{}),
		workerDone:              make(chan struct{}),
		callCtx:                 callCtx,
		cancelCallCtx:           cancelCallCtx,
	}

	e.logger.Info("pacing engine started",
		log.Int("sample_window_size", e.tracker.maxSamples),
		log.Float64("min_permits_per_minute", e.tracker.minPermitsPerMinute),
		log.Float64("max_permits_per_minute", e.tracker.maxPermitsPerMinute),
		log.Int("max_retained_records", e.maxRetainedRecords),
	)
	go e.runWorker()
	return e
}

// Submit enqueues a downstream call and returns the id assigned to it.
// Submission never blocks on pacing; the call starts later, when the worker reaches it.
// After Shutdown has been requested, Submit fails with ErrEngineShutDown.
func (e *Engine) Submit(call Call) (string, error) {
	if call == nil {
		return "", errors.New("call must not be nil")
	}
	if e.shutdownRequested.Load() {
		return "", ErrEngineShutDown
	}

	id := xid.New().String()
	rec := newRecord(id, time.Now())

	e.mu.Lock()
	e.records[id] = rec
	e.evictOldRecordsLocked()
	e.mu.Unlock()

	e.queue.enqueue(&queuedTask{rec: rec, call: call})

	e.metrics.IncSubmittedRequests()
	e.metrics.SetQueueLength(e.queue.waitingCount())
	e.logger.Debug("paced request submitted", log.String("request_id", id), log.Int("queue_len", e.queue.len()))
	return id, nil
}

// Cancel transitions a pending request to the cancelled state. It returns false if the id is
// unknown or the request is not pending anymore. Cancelled state is terminal: the worker will
// drop the queued entry without executing it.
func (e *Engine) Cancel(id string) bool {
	e.mu.RLock()
	rec := e.records[id]
	e.mu.RUnlock()
	if rec == nil {
		return false
	}
	if !rec.markCancelled() {
		return false
	}
	e.metrics.IncCancelledRequests()
	e.metrics.SetQueueLength(e.queue.waitingCount())
	e.logger.Debug("paced request cancelled", log.String("request_id", id))
	return true
}

// GetRecord returns a snapshot of the request with the given id,
// and false if the id is unknown (never submitted or already evicted).
func (e *Engine) GetRecord(id string) (RequestRecord, bool) {
	e.mu.RLock()
	rec := e.records[id]
	e.mu.RUnlock()
	if rec == nil {
		return RequestRecord{}, false
	}
	return rec.snapshot(), true
}

// RemainingWaitSeconds estimates how long the given request will stay queued, in seconds.
// It returns -1 for unknown ids and 0 for requests that are not pending anymore. The estimate
// is the number of non-cancelled requests ahead multiplied by the current pacing interval, plus
// the expected remainder of the in-flight call, if there is one.
func (e *Engine) RemainingWaitSeconds(id string) float64 {
	e.mu.RLock()
	rec := e.records[id]
	e.mu.RUnlock()
	if rec == nil {
		return -1
	}
	if rec.currentStatus() != StatusPending {
		return 0
	}
	position := e.queue.positionOf(id)
	if position < 0 {
		return 0
	}

	wait := float64(position) * e.tracker.IntervalSeconds()
	if e.inFlight.Load() != nil {
		if lastStart := e.lastCallStartNanos.Load(); lastStart != 0 {
			elapsed := time.Since(time.Unix(0, lastStart)).Seconds()
			if remaining := e.tracker.AverageLatencySeconds() - elapsed; remaining > 0 {
				wait += remaining
			}
		}
	}
	return wait
}

// Stats is a point-in-time summary of the engine state.
type Stats struct {
	// WaitingCount is the number of queued requests that have not been cancelled.
	WaitingCount int `json:"waitingCount"`

	// CompletedCount is the number of successfully completed calls since the engine started.
	// Failed calls are not counted.
	CompletedCount int `json:"completedCount"`

	// PermitsPerMinute is the current derived pacing rate.
	PermitsPerMinute float64 `json:"permitsPerMinute"`

	// Records holds snapshots of the retained requests, most recently submitted first.
	Records []RequestRecord `json:"records"`
}

// GetStats returns a snapshot of the engine state. Record snapshots are sorted by submission
// time, most recent first, and capped at 500 entries.
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	recs := make([]*record, 0, len(e.records))
	for _, rec := range e.records {
		recs = append(recs, rec)
	}
	e.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].submitTime.After(recs[j].submitTime) })
	if len(recs) > statsRecordsLimit {
		recs = recs[:statsRecordsLimit]
	}
	snapshots := make([]RequestRecord, 0, len(recs))
	for _, rec := range recs {
		snapshots = append(snapshots, rec.snapshot())
	}

	return Stats{
		WaitingCount:     e.queue.waitingCount(),
		CompletedCount:   int(e.completedCount.Load()),
		PermitsPerMinute: e.tracker.PermitsPerMinute(),
		Records:          snapshots,
	}
}

// PermitsPerMinute returns the current derived pacing rate.
func (e *Engine) PermitsPerMinute() float64 {
	return e.tracker.PermitsPerMinute()
}

// IsShutDown reports whether Shutdown has been requested.
func (e *Engine) IsShutDown() bool {
	return e.shutdownRequested.Load()
}

// Shutdown stops accepting new submissions and stops the worker goroutine. It waits up to the
// configured graceful timeout for the in-flight call to finish; after that the call context is
// cancelled and ErrShutdownTimeoutExceeded is returned. Already queued pending requests are not
// executed. Shutdown is idempotent, subsequent calls return the result of the first one.
func (e *Engine) Shutdown() error {
	e.shutdownOnce.Do(func() {
		e.shutdownRequested.Store(true)
		close(e.stopWorker)
		e.logger.Info("stopping pacing engine...")
		select {
		case <-e.workerDone:
			e.logger.Info("pacing engine stopped")
		case <-time.After(e.gracefulShutdownTimeout):
			e.shutdownResult = ErrShutdownTimeoutExceeded
			e.logger.Error("pacing engine is not stopped gracefully within timeout, cancelling the in-flight call",
				log.Duration("timeout", e.gracefulShutdownTimeout))
		}
		e.cancelCallCtx()
	})
	return e.shutdownResult
}

// runWorker is the engine's only consumer of the queue. It dequeues the oldest runnable task,
// holds it while waiting out the remainder of the pacing interval, promotes it to running and
// executes it. The pacing wait never discards the task; only cancellation or shutdown does.
func (e *Engine) runWorker() {
	defer close(e.workerDone)
	for {
		select {
		case <-e.stopWorker:
			return
		default:
		}

		task := e.queue.dequeueRunnable()
		if task == nil {
			idleTimer := time.NewTimer(e.idlePollInterval)
			select {
			case <-e.stopWorker:
				idleTimer.Stop()
				return
			case <-e.queue.wakeChan():
				idleTimer.Stop()
			case <-idleTimer.C:
			}
			continue
		}

		if delay := e.pacingDelay(); delay > 0 {
			delayTimer := time.NewTimer(delay)
			select {
			case <-e.stopWorker:
				delayTimer.Stop()
				return
			case <-delayTimer.C:
			}
		}

		// The request may have been cancelled while queued or during the pacing wait.
		// Losing the CAS means the cancellation won; the task is dropped without affecting pacing.
		if !task.rec.markRunning() {
			continue
		}

		e.executeCall(task)
	}
}

// pacingDelay returns how long the worker still has to wait before the next call may start.
func (e *Engine) pacingDelay() time.Duration {
	lastStart := e.lastCallStartNanos.Load()
	if lastStart == 0 {
		return 0
	}
	interval := e.tracker.Interval()
	elapsed := time.Since(time.Unix(0, lastStart))
	if elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

func (e *Engine) executeCall(task *queuedTask) {
	start := time.Now()
	e.lastCallStartNanos.Store(start.UnixNano())
	e.inFlight.Store(task.rec)
	task.rec.markStarted(start)

	err := e.invokeCall(task.call)

	end := time.Now()
	duration := end.Sub(start)
	task.rec.markFinished(end, err != nil)
	e.inFlight.Store(nil)

	if err != nil {
		// Zero-millisecond failures (e.g. immediate refusals) are not representative
		// of the downstream latency and are kept out of the window.
		if duration.Milliseconds() > 0 {
			e.tracker.RecordLatency(duration)
		}
		e.metrics.IncFailedCalls()
		e.logger.Warn("paced call failed",
			log.String("request_id", task.rec.id),
			log.Error(err),
			log.DurationIn(duration, time.Millisecond),
		)
	} else {
		e.tracker.RecordLatency(duration)
		e.completedCount.Inc()
		e.metrics.IncCompletedCalls()
	}
	e.metrics.ObserveCallDuration(duration)
	e.metrics.SetQueueLength(e.queue.waitingCount())
	e.metrics.SetPermitsPerMinute(e.tracker.PermitsPerMinute())
}

func (e *Engine) invokeCall(call Call) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("call panic: %v", p)
		}
	}()
	return call(e.callCtx)
}

// evictOldRecordsLocked opportunistically trims the record map down to roughly 90% of the cap,
// oldest submissions first. Pending records are never evicted: their queue entries are still
// waiting to be executed, but each one skipped counts against the eviction quota, so a backlog
// of pending requests may leave the map over the cap until they finish.
func (e *Engine) evictOldRecordsLocked() {
	if len(e.records) <= e.maxRetainedRecords {
		return
	}
	recs := make([]*record, 0, len(e.records))
	for _, rec := range e.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].submitTime.Before(recs[j].submitTime) })

	toRemove := len(recs) - e.maxRetainedRecords*9/10
	for i := 0; i < toRemove && i < len(recs); i++ {
		if recs[i].currentStatus() == StatusPending {
			continue
		}
		delete(e.records, recs[i].id)
	}
}
