/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package lrucache provides an in-memory cache with LRU eviction, optional per-entry expiration,
// single-flight loading of missing entries, and Prometheus metrics.
package lrucache
