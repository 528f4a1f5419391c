/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil provides helpers for testing HTTP handlers and Prometheus metrics.
package testutil

type tHelper interface {
	Helper()
}
