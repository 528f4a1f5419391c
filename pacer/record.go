/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pacer

import (
	"time"

	"go.uber.org/atomic"
)

// Status represents the lifecycle state of a paced request.
type Status string

// Possible statuses of a paced request.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

const (
	statusPending int32 = iota
	statusRunning
	statusCompleted
	statusCancelled
	statusFailed
)

func statusFromInt32(s int32) Status {
	switch s {
	case statusPending:
		return StatusPending
	case statusRunning:
		return StatusRunning
	case statusCompleted:
		return StatusCompleted
	case statusCancelled:
		return StatusCancelled
	case statusFailed:
		return StatusFailed
	}
	return StatusPending
}

// RequestRecord is an immutable snapshot of a paced request.
type RequestRecord struct {
	// ID is the id assigned to the request on submission.
	ID string `json:"id"`

	// Status is the request status at the moment the snapshot was taken.
	Status Status `json:"status"`

	// SubmitTime is the time the request was submitted.
	SubmitTime time.Time `json:"submitTime"`

	// StartTime is the time the call started executing. Nil while the request is still queued.
	StartTime *time.Time `json:"startTime,omitempty"`

	// EndTime is the time the call finished, successfully or not. Nil until then.
	EndTime *time.Time `json:"endTime,omitempty"`

	// DurationMs is the wall time of the call in milliseconds.
	// Nil until both start and end times are known.
	DurationMs *int64 `json:"durationMs,omitempty"`
}

// record tracks the mutable state of a single paced request.
// The status cell and both timestamps are updated atomically, so concurrent snapshots are never
// torn, and the pending->cancelled vs pending->running race is settled by CAS: exactly one of the
// two transitions wins.
type record struct {
	id         string
	submitTime time.Time

	status     atomic.Int32
	startNanos atomic.Int64
	endNanos   atomic.Int64
}

func newRecord(id string, submitTime time.Time) *record {
	return &record{id: id, submitTime: submitTime}
}

func (r *record) currentStatus() Status {
	return statusFromInt32(r.status.Load())
}

// markCancelled transitions the request from pending to cancelled.
// Returns false if the request is not pending anymore.
func (r *record) markCancelled() bool {
	return r.status.CompareAndSwap(statusPending, statusCancelled)
}

// markRunning transitions the request from pending to running.
// Returns false if the request is not pending anymore (i.e. it was cancelled).
func (r *record) markRunning() bool {
	return r.status.CompareAndSwap(statusPending, statusRunning)
}

func (r *record) markStarted(t time.Time) {
	r.startNanos.Store(t.UnixNano())
}

// markFinished stores the end timestamp before the terminal status,
// so a snapshot that observes the terminal status always sees the end time as well.
func (r *record) markFinished(t time.Time, failed bool) {
	r.endNanos.Store(t.UnixNano())
	if failed {
		r.status.Store(statusFailed)
	} else {
		r.status.Store(statusCompleted)
	}
}

func (r *record) snapshot() RequestRecord {
	res := RequestRecord{
		ID:         r.id,
		Status:     r.currentStatus(),
		SubmitTime: r.submitTime,
	}
	if v := r.startNanos.Load(); v != 0 {
		t := time.Unix(0, v)
		res.StartTime = &t
	}
	if v := r.endNanos.Load(); v != 0 {
		t := time.Unix(0, v)
		res.EndTime = &t
	}
	if res.StartTime != nil && res.EndTime != nil {
		d := res.EndTime.Sub(*res.StartTime).Milliseconds()
		res.DurationMs = &d
	}
	return res
}
