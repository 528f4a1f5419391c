/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit provides local rate limiting algorithms to cap the rate
// at which outgoing calls are made over time.
//
// All algorithms are exposed behind the Limiter interface and report an
// estimated retry-after duration when a request is not allowed.
// Per-key limiter state is kept in an LRU store for memory efficiency.
//
// Available algorithms:
//   - Token bucket (golang.org/x/time/rate based)
//   - Leaky bucket (GCRA variant)
//   - Sliding window
//
// These limiters enforce a static ceiling and complement the adaptive
// pacing provided by the pacer package.
package ratelimit
