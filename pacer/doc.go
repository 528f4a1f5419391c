/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package pacer provides an adaptive pacing engine for calls to a rate-sensitive downstream API.
//
// The engine measures the duration of every executed call, keeps a bounded window of the most
// recent samples, and derives the allowed call rate from their average: the slower the downstream
// responds, the further apart consecutive calls are started. The derived rate is clamped to a
// configurable range.
//
// Calls are submitted to an unbounded FIFO queue and executed strictly in submission order by a
// single worker goroutine, which spaces call starts by the current pacing interval. Submission is
// non-blocking; each submitted request gets an id that can be used to poll its status, estimate
// the remaining queue wait, or cancel it while it is still pending.
package pacer
